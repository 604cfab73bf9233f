// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stcc4 provides a driver for the Sensirion STCC4 CO2 sensor. The
// STCC4 measures CO2 concentration, and with an attached SHT4x, temperature
// and relative humidity.
//
// The driver is a thin command layer. It does not schedule readings. Either
// call EnableContinuousMeasurement(true) and call ReadMeasurement() no more
// than once a second, or call MeasureSingleShot() and wait at least
// SingleShotDuration before calling ReadMeasurement().
//
// Calls block for the execution time given in the datasheet for the
// command. PerformConditioning() blocks for 22 seconds.
//
// Refer to the Sensirion STCC4 datasheet for command timing and the meaning
// of the status and self test bits.
package stcc4
