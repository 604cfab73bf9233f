// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import (
	"errors"
	"fmt"
)

// WordSize is the length on the wire of one data word: two big-endian bytes
// followed by their CRC.
const WordSize = 3

var (
	// ErrCRC is returned when a data word fails its checksum.
	ErrCRC = errors.New("invalid crc")
	// ErrLength is returned when a buffer is not a whole number of words.
	ErrLength = errors.New("length is not a multiple of 3")
)

// CheckWords verifies the CRC of every data word in b. A single bad word
// rejects the whole buffer.
func CheckWords(b []byte) error {
	if len(b)%WordSize != 0 {
		return fmt.Errorf("%w: %d", ErrLength, len(b))
	}
	for ix := 0; ix < len(b); ix += WordSize {
		if CRC8(b[ix:ix+2]) != b[ix+2] {
			return fmt.Errorf("%w at byte %d", ErrCRC, ix+2)
		}
	}
	return nil
}

// Words verifies b with CheckWords and returns the decoded payload values.
func Words(b []byte) ([]uint16, error) {
	if err := CheckWords(b); err != nil {
		return nil, err
	}
	result := make([]uint16, len(b)/WordSize)
	for ix := range result {
		result[ix] = uint16(b[ix*WordSize])<<8 | uint16(b[ix*WordSize+1])
	}
	return result, nil
}

// AppendWord appends w in big-endian order followed by its CRC.
func AppendWord(dst []byte, w uint16) []byte {
	hi, lo := byte(w>>8), byte(w)
	return append(dst, hi, lo, CRC8([]byte{hi, lo}))
}
