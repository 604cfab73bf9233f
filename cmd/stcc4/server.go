// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/co2devices/panel"
	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// measurement is the JSON form of a reading.
type measurement struct {
	CO2         int       `json:"co2_ppm"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_rh"`
	Status      uint16    `json:"status"`
	StatusText  string    `json:"status_text"`
	Time        time.Time `json:"time"`
}

func newMeasurement(env *stcc4.Env, t time.Time) measurement {
	return measurement{
		CO2:         int(env.CO2),
		Temperature: env.Temperature.Celsius(),
		Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
		Status:      uint16(env.Status),
		StatusText:  env.Status.String(),
		Time:        t,
	}
}

// newRouter returns the HTTP routes for the serve command. Every request to
// /measurement or /panel, and every scrape of /metrics, takes a reading.
func newRouter(r *reader, reg *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))

	router.GET("/measurement", func(c *gin.Context) {
		env, t, err := r.measure(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, newMeasurement(&env, t))
	})

	router.GET("/panel", func(c *gin.Context) {
		format, err := panel.ImageFormatFromString(c.Query("format"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, h := 128, 64
		if v := c.Query("w"); v != "" {
			if w, err = strconv.Atoi(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid width"})
				return
			}
		}
		if v := c.Query("h"); v != "" {
			if h, err = strconv.Atoi(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid height"})
				return
			}
		}
		if w < panel.MinWidth || h < panel.MinHeight || w > 2048 || h > 2048 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image size out of range"})
			return
		}
		env, _, err := r.measure(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		img, err := panel.Render(&env, w, h)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		buf := &bytes.Buffer{}
		if err = panel.Encode(buf, img, format); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, format.MimeType(), buf.Bytes())
	})

	return router
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
