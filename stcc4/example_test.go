//go:build examples
// +build examples

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stcc4_test

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// Example takes a single shot reading from an STCC4 on the default bus.
func Example() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	dev, err := stcc4.Open("", stcc4.DefaultAddress, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	if err = dev.MeasureSingleShot(); err != nil {
		log.Fatal(err)
	}
	time.Sleep(stcc4.SingleShotDuration)

	env, err := dev.ReadMeasurement()
	if err == nil {
		fmt.Println(env.String())
	} else {
		fmt.Println(err)
	}
	// Output: Temperature: 23.812°C Humidity: 41.25%rH CO2: 612 PPM Status: OK(0x0000)
}
