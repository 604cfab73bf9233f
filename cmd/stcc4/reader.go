// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// sensor is the part of stcc4.Dev used to take readings.
type sensor interface {
	MeasureSingleShot() error
	ReadMeasurement() (stcc4.Env, error)
}

// sink receives every reading taken.
type sink interface {
	Write(ctx context.Context, env *stcc4.Env, t time.Time) error
}

// reader takes single shot readings on request. Only one reading is in
// progress at a time; concurrent callers wait.
type reader struct {
	mu    sync.Mutex
	dev   sensor
	wait  func(time.Duration)
	sinks []sink
	now   func() time.Time
}

func newReader(dev sensor, sinks ...sink) *reader {
	return &reader{dev: dev, wait: time.Sleep, sinks: sinks, now: time.Now}
}

// measure triggers a single shot, waits for it and reads the result. The
// reading is passed to each sink; sink failures are logged only.
func (r *reader) measure(ctx context.Context) (stcc4.Env, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dev.MeasureSingleShot(); err != nil {
		return stcc4.Env{}, time.Time{}, errors.Wrap(err, "triggering measurement")
	}
	r.wait(stcc4.SingleShotDuration)
	env, err := r.dev.ReadMeasurement()
	if err != nil {
		return stcc4.Env{}, time.Time{}, errors.Wrap(err, "reading measurement")
	}
	t := r.now()
	log.WithFields(log.Fields{
		"co2":         int(env.CO2),
		"temperature": env.Temperature.String(),
		"humidity":    env.Humidity.String(),
		"status":      env.Status.String(),
	}).Debug("measurement")
	if env.Status.Errors() {
		log.WithField("status", env.Status.String()).Warn("sensor reports an error")
	}
	r.publish(ctx, &env, t)
	return env, t, nil
}

// latest reads the current measurement without triggering one.
func (r *reader) latest(ctx context.Context) (stcc4.Env, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.dev.ReadMeasurement()
	if err != nil {
		return stcc4.Env{}, time.Time{}, errors.Wrap(err, "reading measurement")
	}
	t := r.now()
	r.publish(ctx, &env, t)
	return env, t, nil
}

func (r *reader) publish(ctx context.Context, env *stcc4.Env, t time.Time) {
	for _, s := range r.sinks {
		if err := s.Write(ctx, env, t); err != nil {
			log.WithError(err).Error("writing measurement")
		}
	}
}
