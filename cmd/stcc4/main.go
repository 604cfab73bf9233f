// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// stcc4 reads and maintains a Sensirion STCC4 CO2 sensor.
//
// Each command performs one operation and exits, except serve which answers
// HTTP requests until interrupted. Readings are only taken when asked for.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/co2devices/co2bar"
	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// device is the stcc4.Dev API used by the commands.
type device interface {
	sensor
	fmt.Stringer
	ProductID() (uint32, error)
	EnableContinuousMeasurement(enable bool) error
	SleepMode(enable bool) error
	Reset() error
	FactoryReset() error
	PerformSelfTest() (stcc4.SelfTestResult, error)
	PerformConditioning() error
	EnableTestingMode(enable bool) error
	PerformForcedRecalibration(target stcc4.PPM) (int16, error)
}

var _ device = &stcc4.Dev{}

type app struct {
	cfg    *config
	dev    device
	reader *reader
	out    io.Writer
}

type handler func(ctx context.Context, a *app, args []string) error

var commands = map[string]handler{
	"id":            cmdID,
	"read":          cmdRead,
	"latest":        cmdLatest,
	"start":         cmdStart,
	"stop":          cmdStop,
	"sleep":         cmdSleep,
	"wake":          cmdWake,
	"reset":         cmdReset,
	"factory-reset": cmdFactoryReset,
	"selftest":      cmdSelfTest,
	"condition":     cmdCondition,
	"testmode":      cmdTestMode,
	"frc":           cmdFRC,
	"serve":         cmdServe,
}

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := mainImpl(); err != nil {
		log.Fatal(err)
	}
}

func mainImpl() error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	cfg, args, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if len(args) == 0 {
		_, _ = io.WriteString(os.Stderr, usage)
		return errors.New("no command")
	}
	h, ok := commands[args[0]]
	if !ok {
		return errors.Errorf("unknown command %q", args[0])
	}

	if _, err = host.Init(); err != nil {
		return errors.Wrap(err, "host init")
	}
	dev, err := stcc4.Open(cfg.Bus, cfg.Addr, &stcc4.Opts{Logger: log.StandardLogger()})
	if err != nil {
		return errors.Wrap(err, "opening sensor")
	}
	defer dev.Close()
	log.Debugf("opened %s", dev)

	var sinks []sink
	if cfg.InfluxURL != "" {
		s, closer, err := newInfluxSink(cfg, dev.String())
		if err != nil {
			return err
		}
		defer closer()
		sinks = append(sinks, s)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	a := &app{cfg: cfg, dev: dev, reader: newReader(dev, sinks...), out: os.Stdout}
	return h(ctx, a, args[1:])
}

func (a *app) print(env *stcc4.Env) error {
	if a.cfg.Bar {
		bar := co2bar.New(&co2bar.Opts{W: a.out})
		if err := bar.Show(env.CO2); err != nil {
			return err
		}
		return bar.Halt()
	}
	_, err := fmt.Fprintln(a.out, env.String())
	return err
}

func cmdID(_ context.Context, a *app, _ []string) error {
	id, err := a.dev.ProductID()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "product id: 0x%08x\n", id)
	return err
}

func cmdRead(ctx context.Context, a *app, _ []string) error {
	env, _, err := a.reader.measure(ctx)
	if err != nil {
		return err
	}
	return a.print(&env)
}

func cmdLatest(ctx context.Context, a *app, _ []string) error {
	env, _, err := a.reader.latest(ctx)
	if err != nil {
		return err
	}
	return a.print(&env)
}

func cmdStart(_ context.Context, a *app, _ []string) error {
	return a.dev.EnableContinuousMeasurement(true)
}

func cmdStop(_ context.Context, a *app, _ []string) error {
	return a.dev.EnableContinuousMeasurement(false)
}

func cmdSleep(_ context.Context, a *app, _ []string) error {
	return a.dev.SleepMode(true)
}

func cmdWake(_ context.Context, a *app, _ []string) error {
	return a.dev.SleepMode(false)
}

func cmdReset(_ context.Context, a *app, _ []string) error {
	return a.dev.Reset()
}

func cmdFactoryReset(_ context.Context, a *app, _ []string) error {
	return a.dev.FactoryReset()
}

func cmdSelfTest(_ context.Context, a *app, _ []string) error {
	res, err := a.dev.PerformSelfTest()
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(a.out, "self test: %s\n", res); err != nil {
		return err
	}
	if !res.OK() {
		return errors.Errorf("self test failed: 0x%04x", uint16(res))
	}
	return nil
}

func cmdCondition(_ context.Context, a *app, _ []string) error {
	log.Info("conditioning, this takes 22 seconds")
	return a.dev.PerformConditioning()
}

func cmdTestMode(_ context.Context, a *app, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: testmode on|off")
	}
	return a.dev.EnableTestingMode(args[0] == "on")
}

func cmdFRC(_ context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: frc <ppm>")
	}
	target, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return errors.Wrapf(err, "invalid target %q", args[0])
	}
	correction, err := a.dev.PerformForcedRecalibration(stcc4.PPM(target))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "frc correction: %d PPM\n", correction)
	return err
}

func cmdServe(ctx context.Context, a *app, _ []string) error {
	if !a.cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(a.reader, a.dev.String()))
	reg.MustRegister(collectors.NewBuildInfoCollector())

	srv := newServer(a.cfg.Listen, newRouter(a.reader, reg))
	errc := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", a.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
