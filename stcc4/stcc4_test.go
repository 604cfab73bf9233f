// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.
//
// Unit tests for the package. Note that this supports running on a live
// sensor, or using playback mode to simulate a live device.
//
// To use a live device, define the environment variable STCC4 and run go test.

package stcc4

import (
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/co2devices/common"
)

const addr = uint16(DefaultAddress)

var liveDevice bool
var liveBus i2c.Bus

// Soft reset followed by the product id read. Every Begin() issues these.
var pbBegin = []i2ctest.IO{
	{Addr: 0x00, W: []uint8{0x06}},
	{Addr: addr, W: []uint8{0x36, 0x5b}, R: []uint8{0x09, 0x01, 0x73, 0x01, 0x8a, 0xd4}},
}

// CO2=0x0102 T=0x6667 RH=0x8000 Status=0x4010
var pbMeasurement = i2ctest.IO{
	Addr: addr,
	W:    []uint8{0xec, 0x05},
	R:    []uint8{0x01, 0x02, 0x17, 0x66, 0x67, 0xa2, 0x80, 0x00, 0xa2, 0x40, 0x10, 0x4b},
}

func init() {
	if os.Getenv("STCC4") == "" {
		return
	}
	liveDevice = true
	if _, err := host.Init(); err != nil {
		panic(err)
	}
	b, err := i2creg.Open("")
	if err != nil {
		panic(err)
	}
	liveBus = b
}

// sleepRecorder replaces time.Sleep so delays can be checked without
// waiting for them, except on a live device where they are needed.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.delays = append(s.delays, d)
	if liveDevice {
		time.Sleep(d)
	}
}

func (s *sleepRecorder) total() time.Duration {
	var t time.Duration
	for _, d := range s.delays {
		t += d
	}
	return t
}

// closeTracker is a playback bus that records being closed.
type closeTracker struct {
	i2ctest.Playback
	closed int
}

func (c *closeTracker) Close() error {
	c.closed++
	return nil
}

func newPlayback(ops ...[]i2ctest.IO) *i2ctest.Playback {
	var all []i2ctest.IO
	for _, o := range ops {
		all = append(all, o...)
	}
	return &i2ctest.Playback{Ops: all, DontPanic: true}
}

// getDev returns a begun Dev on either the live bus or a playback of pbBegin
// followed by ops. The recorder's delays are cleared after Begin().
func getDev(t *testing.T, ops ...i2ctest.IO) (*Dev, *i2ctest.Playback, *sleepRecorder) {
	rec := &sleepRecorder{}
	dev := &Dev{sleep: rec.sleep}
	var pb *i2ctest.Playback
	var bus i2c.Bus
	if liveDevice {
		bus = &i2ctest.Record{Bus: liveBus}
	} else {
		pb = newPlayback(pbBegin, ops)
		bus = pb
	}
	if err := dev.Begin(bus, DefaultAddress); err != nil {
		t.Fatal(err)
	}
	rec.delays = nil
	return dev, pb, rec
}

// checkPlayback verifies that all the expected bus operations took place.
func checkPlayback(t *testing.T, pb *i2ctest.Playback) {
	t.Helper()
	if pb == nil {
		return
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

func playbackOnly(t *testing.T) {
	if liveDevice {
		t.Skip("playback only test")
	}
}

func TestCountToTemperature(t *testing.T) {
	tests := []struct {
		count    uint16
		expected float64
	}{
		{count: 0x0000, expected: -45.0},
		{count: 0xffff, expected: 175.0*65535.0/65536.0 - 45.0},
		{count: 0x6000, expected: 20.625},
		{count: 0x6667, expected: 25.0016},
	}
	for _, test := range tests {
		result := countToTemp(test.count).Celsius()
		if math.Abs(result-test.expected) > 0.0001 {
			t.Errorf("countToTemp(0x%x)=%.6f expected %.6f", test.count, result, test.expected)
		}
	}
}

func TestCountToHumidity(t *testing.T) {
	tests := []struct {
		count    uint16
		expected float64
	}{
		{count: 0x0000, expected: -6.0},
		{count: 0xffff, expected: 125.0*65535.0/65536.0 - 6.0},
		{count: 0x8000, expected: 56.5},
	}
	for _, test := range tests {
		result := float64(countToHumidity(test.count)) / float64(physic.PercentRH)
		if math.Abs(result-test.expected) > 0.001 {
			t.Errorf("countToHumidity(0x%x)=%.5f expected %.5f", test.count, result, test.expected)
		}
	}
}

func TestCompensationCounts(t *testing.T) {
	if c := tempToCount(physic.ZeroCelsius + 25*physic.Celsius); c != 0x6666 {
		t.Errorf("tempToCount(25C)=0x%x expected 0x6666", c)
	}
	if c := tempToCount(physic.ZeroCelsius - 60*physic.Celsius); c != 0 {
		t.Errorf("tempToCount(-60C)=0x%x expected 0", c)
	}
	if c := tempToCount(physic.ZeroCelsius + 200*physic.Celsius); c != 0xffff {
		t.Errorf("tempToCount(200C)=0x%x expected 0xffff", c)
	}
	if c := humidityToCount(50 * physic.PercentRH); c != 0x72b0 {
		t.Errorf("humidityToCount(50%%)=0x%x expected 0x72b0", c)
	}
	// The inverse must land back on the same count.
	for _, count := range []uint16{0x0000, 0x1234, 0x8000, 0xfffe} {
		if c := tempToCount(countToTemp(count)); c != count {
			t.Errorf("temperature round trip 0x%x -> 0x%x", count, c)
		}
		if c := humidityToCount(countToHumidity(count)); c != count {
			t.Errorf("humidity round trip 0x%x -> 0x%x", count, c)
		}
	}
}

func TestStatus(t *testing.T) {
	var s Status
	if s.Errors() {
		t.Error("zero status reports errors")
	}
	if got := s.String(); got != "OK(0x0000)" {
		t.Errorf("Status(0).String()=%q", got)
	}
	s = StatusSHTNotConnected | StatusTestingMode
	if !s.Errors() {
		t.Error("SHTNotConnected not reported as an error")
	}
	if got := s.String(); got != "SHTNotConnected|TestingMode(0x4010)" {
		t.Errorf("Status(0x4010).String()=%q", got)
	}
	if (StatusTestingMode | 0x0002).Errors() {
		t.Error("testing mode and debug bits reported as errors")
	}
}

func TestBasic(t *testing.T) {
	dev, pb, _ := getDev(t)
	defer checkPlayback(t, pb)

	env := Env{}
	dev.Precision(&env)
	if env.CO2 != 1 || env.Temperature != 2670288*physic.NanoKelvin || env.Humidity != 190*physic.TenthMicroRH {
		t.Errorf("incorrect value for Precision(): %#v", env)
	}

	s := dev.String()
	t.Logf("dev.String()=%s", s)
	if len(s) == 0 {
		t.Error("Dev.String() returned empty value.")
	}
}

// String may be called from one goroutine while another closes the Dev.
// Run with -race.
func TestStringWhileClosing(t *testing.T) {
	playbackOnly(t)
	dev, _, _ := getDev(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if s := dev.String(); s == "" {
				t.Error("empty String()")
				return
			}
		}
	}()
	if err := dev.Close(); err != nil {
		t.Error(err)
	}
	<-done
	if s := dev.String(); s != "stcc4" {
		t.Errorf("String() after Close()=%q", s)
	}
}

func TestBegin(t *testing.T) {
	playbackOnly(t)
	rec := &sleepRecorder{}
	dev := &Dev{sleep: rec.sleep}
	pb := newPlayback(pbBegin)
	if err := dev.Begin(pb, DefaultAddress); err != nil {
		t.Fatal(err)
	}
	checkPlayback(t, pb)
	if len(rec.delays) != 1 || rec.delays[0] != 10*time.Millisecond {
		t.Errorf("expected a 10ms reset delay, got %v", rec.delays)
	}
}

// A failed soft reset must not stop Begin.
func TestBeginResetFails(t *testing.T) {
	playbackOnly(t)
	dev := &Dev{sleep: (&sleepRecorder{}).sleep}
	// No op is recorded for the general call, so playback rejects the reset.
	pb := newPlayback(pbBegin[1:])
	if err := dev.Begin(pb, DefaultAddress); err != nil {
		t.Fatal(err)
	}
}

func TestBeginWrongProductID(t *testing.T) {
	playbackOnly(t)
	dev := &Dev{sleep: (&sleepRecorder{}).sleep}
	pb := newPlayback([]i2ctest.IO{
		pbBegin[0],
		{Addr: addr, W: []uint8{0x36, 0x5b}, R: []uint8{0x09, 0x03, 0x11, 0x01, 0x8b, 0xe5}},
	})
	err := dev.Begin(pb, DefaultAddress)
	if !errors.Is(err, ErrProductID) {
		t.Errorf("expected ErrProductID, got %v", err)
	}
}

func TestBeginBadCRC(t *testing.T) {
	playbackOnly(t)
	pb := newPlayback([]i2ctest.IO{
		pbBegin[0],
		{Addr: addr, W: []uint8{0x36, 0x5b}, R: []uint8{0x09, 0x01, 0x73, 0x01, 0x8a, 0x00}},
	})
	_, err := New(pb, DefaultAddress, nil)
	if !errors.Is(err, common.ErrCRC) {
		t.Errorf("expected common.ErrCRC, got %v", err)
	}
}

func TestBeginNoDevice(t *testing.T) {
	playbackOnly(t)
	_, err := New(&i2ctest.Playback{DontPanic: true}, DefaultAddress, nil)
	if err == nil {
		t.Error("expected an error with no device on the bus")
	}
	if errors.Is(err, ErrProductID) || errors.Is(err, common.ErrCRC) {
		t.Errorf("expected a transport error, got %v", err)
	}
}

func TestOpenNoBus(t *testing.T) {
	playbackOnly(t)
	if _, err := Open("no-such-bus", DefaultAddress, nil); err == nil {
		t.Error("expected an error opening a missing bus")
	}
}

func TestBeginReleasesOwnedBus(t *testing.T) {
	playbackOnly(t)
	first := &closeTracker{}
	dev := &Dev{sleep: (&sleepRecorder{}).sleep, owned: first}
	pb := newPlayback(pbBegin)
	if err := dev.Begin(pb, DefaultAddress); err != nil {
		t.Fatal(err)
	}
	if first.closed != 1 {
		t.Errorf("previous bus closed %d times, expected 1", first.closed)
	}
	if dev.owned != nil {
		t.Error("caller owned bus recorded as owned")
	}
	if err := dev.Close(); err != nil {
		t.Error(err)
	}
	if first.closed != 1 {
		t.Error("bus closed twice")
	}
	if err := dev.MeasureSingleShot(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized after Close(), got %v", err)
	}
}

func TestProductID(t *testing.T) {
	dev, pb, _ := getDev(t, pbBegin[1])
	defer checkPlayback(t, pb)
	id, err := dev.ProductID()
	if err != nil {
		t.Fatal(err)
	}
	if id != ProductID {
		t.Errorf("ProductID()=0x%08x expected 0x%08x", id, ProductID)
	}
}

func TestProductIDFailure(t *testing.T) {
	playbackOnly(t)
	dev, _, _ := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x36, 0x5b}, R: []uint8{0x09, 0x01, 0x73, 0x01, 0x8a, 0xd5}})
	id, err := dev.ProductID()
	if err == nil || id != 0 {
		t.Errorf("ProductID()=0x%x, %v expected 0 and an error", id, err)
	}
	// Playback is exhausted, so this is a transport error.
	id, err = dev.ProductID()
	if err == nil || id != 0 {
		t.Errorf("ProductID()=0x%x, %v expected 0 and an error", id, err)
	}
}

func TestReset(t *testing.T) {
	dev, pb, rec := getDev(t, pbBegin[0])
	defer checkPlayback(t, pb)
	if err := dev.Reset(); err != nil {
		t.Fatal(err)
	}
	if rec.total() != 10*time.Millisecond {
		t.Errorf("reset delays %v expected 10ms", rec.delays)
	}
}

func TestSleepMode(t *testing.T) {
	dev, pb, rec := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x36, 0x50}},
		i2ctest.IO{Addr: addr, W: []uint8{0x00}})
	defer checkPlayback(t, pb)

	if err := dev.SleepMode(true); err != nil {
		t.Fatal(err)
	}
	if len(rec.delays) != 1 || rec.delays[0] < time.Millisecond {
		t.Errorf("enter sleep delays %v expected >= 1ms", rec.delays)
	}
	rec.delays = nil
	if err := dev.SleepMode(false); err != nil {
		t.Fatal(err)
	}
	if len(rec.delays) != 1 || rec.delays[0] < 5*time.Millisecond {
		t.Errorf("exit sleep delays %v expected >= 5ms", rec.delays)
	}
}

func TestModeCommands(t *testing.T) {
	dev, pb, rec := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x21, 0x8b}},
		i2ctest.IO{Addr: addr, W: []uint8{0x3f, 0x86}},
		i2ctest.IO{Addr: addr, W: []uint8{0x21, 0x9d}},
		i2ctest.IO{Addr: addr, W: []uint8{0x3f, 0xbc}},
		i2ctest.IO{Addr: addr, W: []uint8{0x3f, 0x3d}},
		i2ctest.IO{Addr: addr, W: []uint8{0x3f, 0x86}})
	defer checkPlayback(t, pb)

	if err := dev.EnableContinuousMeasurement(true); err != nil {
		t.Error(err)
	}
	if err := dev.EnableContinuousMeasurement(false); err != nil {
		t.Error(err)
	}
	if err := dev.MeasureSingleShot(); err != nil {
		t.Error(err)
	}
	if err := dev.EnableTestingMode(true); err != nil {
		t.Error(err)
	}
	if err := dev.EnableTestingMode(false); err != nil {
		t.Error(err)
	}
	if err := dev.Halt(); err != nil {
		t.Error(err)
	}
	if len(rec.delays) != 0 {
		t.Errorf("unexpected delays %v", rec.delays)
	}
}

func TestCompensation(t *testing.T) {
	dev, pb, rec := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0xe0, 0x00, 0x66, 0x66, 0x93, 0x72, 0xb0, 0xdc}},
		i2ctest.IO{Addr: addr, W: []uint8{0xe0, 0x16, 0xc3, 0x50, 0x78}})
	defer checkPlayback(t, pb)

	if err := dev.SetRHTCompensation(physic.ZeroCelsius+25*physic.Celsius, 50*physic.PercentRH); err != nil {
		t.Error(err)
	}
	if err := dev.SetPressureCompensation(100000 * physic.Pascal); err != nil {
		t.Error(err)
	}
	if rec.total() != 2*time.Millisecond {
		t.Errorf("compensation delays %v expected 2ms total", rec.delays)
	}
}

func TestReadMeasurement(t *testing.T) {
	dev, pb, _ := getDev(t, pbMeasurement)
	defer checkPlayback(t, pb)

	env, err := dev.ReadMeasurement()
	if err != nil {
		t.Fatal(err)
	}
	t.Log(env.String())
	if liveDevice {
		return
	}
	if env.CO2 != 0x0102 {
		t.Errorf("CO2=%d expected %d", env.CO2, 0x0102)
	}
	if math.Abs(env.Temperature.Celsius()-25.0016) > 0.0001 {
		t.Errorf("Temperature=%s expected 25.0016°C", env.Temperature)
	}
	if env.Humidity != physic.RelativeHumidity(56.5*float64(physic.PercentRH)) {
		t.Errorf("Humidity=%s expected 56.5%%rH", env.Humidity)
	}
	if env.Status != StatusSHTNotConnected|StatusTestingMode {
		t.Errorf("Status=%s expected 0x4010", env.Status)
	}
	if env.Pressure != 0 {
		t.Errorf("Pressure=%s expected 0", env.Pressure)
	}
}

// One corrupt word rejects the whole response.
func TestReadMeasurementBadCRC(t *testing.T) {
	playbackOnly(t)
	for word := 0; word < 4; word++ {
		bad := pbMeasurement
		bad.R = append([]byte(nil), pbMeasurement.R...)
		bad.R[word*3+2] ^= 0x01
		dev, _, _ := getDev(t, bad)
		env := Env{CO2: 99}
		err := dev.Sense(&env)
		if !errors.Is(err, common.ErrCRC) {
			t.Errorf("word %d: expected ErrCRC, got %v", word, err)
		}
		if env.CO2 != 0 {
			t.Errorf("word %d: env not cleared on error: %#v", word, env)
		}
	}
}

func TestSingleShot(t *testing.T) {
	dev, pb, _ := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x21, 0x9d}},
		pbMeasurement)
	defer checkPlayback(t, pb)
	if err := dev.MeasureSingleShot(); err != nil {
		t.Fatal(err)
	}
	if liveDevice {
		time.Sleep(SingleShotDuration)
	}
	env := Env{}
	if err := dev.Sense(&env); err != nil {
		t.Fatal(err)
	}
	t.Log(env.String())
}

func TestMaintenance(t *testing.T) {
	playbackOnly(t)
	dev, pb, rec := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x29, 0xbc}},
		i2ctest.IO{Addr: addr, W: []uint8{0x36, 0x32}})
	defer checkPlayback(t, pb)

	if err := dev.PerformConditioning(); err != nil {
		t.Error(err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 22*time.Second {
		t.Errorf("conditioning delays %v expected 22s", rec.delays)
	}
	rec.delays = nil
	if err := dev.FactoryReset(); err != nil {
		t.Error(err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 90*time.Millisecond {
		t.Errorf("factory reset delays %v expected 90ms", rec.delays)
	}
}

func TestSelfTest(t *testing.T) {
	dev, pb, rec := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x27, 0x8c}},
		i2ctest.IO{Addr: addr, R: []uint8{0x00, 0x00, 0x81}})
	defer checkPlayback(t, pb)

	res, err := dev.PerformSelfTest()
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("self test: %s", res)
	if !res.OK() {
		t.Errorf("self test failed 0x%04x", uint16(res))
	}
	if rec.total() != 360*time.Millisecond {
		t.Errorf("self test delays %v expected 360ms", rec.delays)
	}
}

func TestSelfTestFailures(t *testing.T) {
	playbackOnly(t)
	dev, pb, _ := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x27, 0x8c}},
		i2ctest.IO{Addr: addr, R: []uint8{0x00, 0x01, 0xb0}},
		i2ctest.IO{Addr: addr, W: []uint8{0x27, 0x8c}},
		i2ctest.IO{Addr: addr, R: []uint8{0x00, 0x01, 0xb1}})
	defer checkPlayback(t, pb)

	res, err := dev.PerformSelfTest()
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() || res.String() != "fail(0x0001)" {
		t.Errorf("unexpected self test result %s", res)
	}
	if _, err = dev.PerformSelfTest(); !errors.Is(err, common.ErrCRC) {
		t.Errorf("expected ErrCRC, got %v", err)
	}
}

func TestForcedRecalibration(t *testing.T) {
	playbackOnly(t)
	dev, pb, rec := getDev(t,
		i2ctest.IO{Addr: addr, W: []uint8{0x36, 0x2f, 0x01, 0x90, 0x4c}},
		i2ctest.IO{Addr: addr, R: []uint8{0x80, 0x0a, 0x79}},
		i2ctest.IO{Addr: addr, W: []uint8{0x36, 0x2f, 0x01, 0x90, 0x4c}},
		i2ctest.IO{Addr: addr, R: []uint8{0x7f, 0xf6, 0x07}},
		i2ctest.IO{Addr: addr, W: []uint8{0x36, 0x2f, 0x01, 0x90, 0x4c}},
		i2ctest.IO{Addr: addr, R: []uint8{0xff, 0xff, 0xac}})
	defer checkPlayback(t, pb)

	tests := []struct {
		correction int16
		err        error
	}{
		{correction: 10},
		{correction: -10},
		{err: ErrFRCFailed},
	}
	for _, test := range tests {
		c, err := dev.PerformForcedRecalibration(400)
		if !errors.Is(err, test.err) {
			t.Errorf("expected error %v got %v", test.err, err)
		}
		if c != test.correction {
			t.Errorf("correction %d expected %d", c, test.correction)
		}
	}
	if rec.total() != 3*90*time.Millisecond {
		t.Errorf("frc delays %v", rec.delays)
	}
}
