// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, a CRC8 calculation and the 16-bit data word format used by
// Sensirion sensors.
package common

import (
	"github.com/sigurn/crc8"
)

// crcTable is the CRC-8 variant used by Sensirion and TI sensors. Init 0xff,
// polynomial 0x31, MSB first, no final XOR.
var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xff,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xf7,
	Name:   "CRC-8/Sensirion",
})

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. CRC bytes are used in sensors from TI and Sensirion.
func CRC8(bytes []byte) byte {
	return crc8.Checksum(bytes, crcTable)
}
