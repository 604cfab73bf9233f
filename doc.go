// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package co2devices is a container for the Sensirion STCC4 CO2 sensor
// driver and the helpers built around it.
//
// The driver is in stcc4. co2bar and panel render readings to a terminal or
// an image, and cmd/stcc4 is a command line tool and HTTP exporter.
package co2devices
