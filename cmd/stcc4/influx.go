// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/co2devices/stcc4"
)

const influxMeasurement = "stcc4"

// pointWriter is implemented by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// influxSink writes each reading as one point.
type influxSink struct {
	w    pointWriter
	tags map[string]string
}

// newInfluxSink connects to the server in cfg. The returned func closes the
// client.
func newInfluxSink(cfg *config, device string) (*influxSink, func(), error) {
	if cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, nil, errors.New("influx org and bucket are required with influx-url")
	}
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	s := &influxSink{
		w:    client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		tags: map[string]string{"sensor": "stcc4", "device": device},
	}
	return s, client.Close, nil
}

func point(env *stcc4.Env, tags map[string]string, t time.Time) *write.Point {
	return influxdb2.NewPoint(influxMeasurement, tags, map[string]interface{}{
		"co2":         int64(env.CO2),
		"temperature": env.Temperature.Celsius(),
		"humidity":    float64(env.Humidity) / float64(physic.PercentRH),
		"status":      int64(env.Status),
	}, t)
}

func (s *influxSink) Write(ctx context.Context, env *stcc4.Env, t time.Time) error {
	return errors.Wrap(s.w.WritePoint(ctx, point(env, s.tags, t)), "influx write")
}
