// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// config holds the settings for the tool. Flag defaults come from the
// environment, which can be seeded from a .env file.
type config struct {
	Bus     string
	Addr    i2c.Addr
	Listen  string
	Bar     bool
	Verbose bool

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadDotEnv loads the named files, or .env if none, into the environment.
// Variables already set are not overwritten. Missing files are not an error.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "loading %s", f)
		}
	}
	return nil
}

// parseConfig parses the flags in args and returns the config and the
// remaining arguments.
func parseConfig(args []string, output io.Writer) (*config, []string, error) {
	addr := uint64(stcc4.DefaultAddress)
	if v := os.Getenv("STCC4_ADDR"); v != "" {
		a, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid STCC4_ADDR %q", v)
		}
		addr = a
	}

	cfg := &config{}
	fs := flag.NewFlagSet("stcc4", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Bus, "bus", getEnv("STCC4_BUS", ""), "I²C bus to use, empty for the default bus")
	fs.Uint64Var(&addr, "addr", addr, "I²C address of the sensor")
	fs.StringVar(&cfg.Listen, "listen", getEnv("STCC4_LISTEN", ":9142"), "address for the serve command to listen on")
	fs.BoolVar(&cfg.Bar, "bar", false, "draw a CO2 bar in the terminal after a reading")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose logging")
	fs.StringVar(&cfg.InfluxURL, "influx-url", getEnv("INFLUX_URL", ""), "InfluxDB URL; readings are written when set")
	fs.StringVar(&cfg.InfluxToken, "influx-token", getEnv("INFLUX_TOKEN", ""), "InfluxDB API token")
	fs.StringVar(&cfg.InfluxOrg, "influx-org", getEnv("INFLUX_ORG", ""), "InfluxDB organization")
	fs.StringVar(&cfg.InfluxBucket, "influx-bucket", getEnv("INFLUX_BUCKET", ""), "InfluxDB bucket")
	fs.Usage = func() {
		_, _ = io.WriteString(output, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if addr > 0x7f {
		return nil, nil, errors.Errorf("invalid I²C address 0x%x", addr)
	}
	cfg.Addr = i2c.Addr(addr)
	return cfg, fs.Args(), nil
}

const usage = `usage: stcc4 [flags] <command> [args]

commands:
  id              print the product id
  read            trigger a single shot measurement and print it
  latest          print the latest measurement while in continuous mode
  start, stop     start or stop continuous measurement
  sleep, wake     enter or leave sleep mode
  reset           soft reset (general call)
  factory-reset   clear the FRC and ASC history
  selftest        run the self test
  condition       run the 22 second conditioning routine
  testmode on|off enable or disable testing mode
  frc <ppm>       forced recalibration to the given concentration
  serve           serve /metrics, /measurement and /panel over HTTP

flags:
`
