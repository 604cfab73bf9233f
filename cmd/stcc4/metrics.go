// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
)

// collector takes a reading on every scrape. There is no background polling,
// so the scrape interval sets the measurement rate. Keep it at 1s or more.
type collector struct {
	r *reader

	up          *prometheus.Desc
	co2         *prometheus.Desc
	temperature *prometheus.Desc
	humidity    *prometheus.Desc
	status      *prometheus.Desc
}

func newCollector(r *reader, device string) *collector {
	labels := prometheus.Labels{"device": device}
	return &collector{
		r:           r,
		up:          prometheus.NewDesc("stcc4_up", "1 if the last reading succeeded", nil, labels),
		co2:         prometheus.NewDesc("stcc4_co2_ppm", "CO2 concentration (units: ppm)", nil, labels),
		temperature: prometheus.NewDesc("stcc4_temperature_celsius", "Temperature (units: degrees Celsius)", nil, labels),
		humidity:    prometheus.NewDesc("stcc4_humidity_percent", "Relative humidity (units: % rH)", nil, labels),
		status:      prometheus.NewDesc("stcc4_status", "Raw sensor status word", nil, labels),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.co2
	ch <- c.temperature
	ch <- c.humidity
	ch <- c.status
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	env, _, err := c.r.measure(context.Background())
	if err != nil {
		log.WithError(err).Error("scrape")
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.co2, prometheus.GaugeValue, float64(env.CO2))
	ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, env.Temperature.Celsius())
	ch <- prometheus.MustNewConstMetric(c.humidity, prometheus.GaugeValue, float64(env.Humidity)/float64(physic.PercentRH))
	ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, float64(env.Status))
}

var _ prometheus.Collector = &collector{}
