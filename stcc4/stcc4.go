// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stcc4

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/co2devices/common"
)

// PPM=Parts Per Million. Units of measure for CO2 concentration.
type PPM int

func (ppm PPM) String() string {
	return fmt.Sprintf("%d PPM", int(ppm))
}

// Status is the status word returned with every measurement.
type Status uint16

const (
	// Supply voltage out of range.
	StatusVoltageError Status = 0x0001
	// Sensirion internal debug flags.
	StatusDebugMask Status = 0x000e
	// The SHT4x temperature/humidity sensor did not respond.
	StatusSHTNotConnected Status = 0x0010
	// Internal memory errors.
	StatusMemoryErrorMask Status = 0x0060
	// The sensor is in testing mode. See EnableTestingMode().
	StatusTestingMode Status = 0x4000
)

var statusNames = []struct {
	mask Status
	name string
}{
	{StatusVoltageError, "VoltageError"},
	{StatusSHTNotConnected, "SHTNotConnected"},
	{StatusMemoryErrorMask, "MemoryError"},
	{StatusTestingMode, "TestingMode"},
}

// Errors reports whether any error flag is set. Debug and testing mode bits
// are ignored.
func (s Status) Errors() bool {
	return s&(StatusVoltageError|StatusSHTNotConnected|StatusMemoryErrorMask) != 0
}

func (s Status) String() string {
	var names []string
	for _, n := range statusNames {
		if s&n.mask != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("OK(0x%04x)", uint16(s))
	}
	return fmt.Sprintf("%s(0x%04x)", strings.Join(names, "|"), uint16(s))
}

// SelfTestResult is the raw word returned by PerformSelfTest(). Zero means
// every test passed.
type SelfTestResult uint16

// OK returns true if the self test did not report any failure.
func (r SelfTestResult) OK() bool {
	return r == 0
}

func (r SelfTestResult) String() string {
	if r.OK() {
		return "pass"
	}
	return fmt.Sprintf("fail(0x%04x)", uint16(r))
}

const (
	// DefaultAddress is the factory i2c address. Later parts can be strapped
	// to 0x65.
	DefaultAddress i2c.Addr = 0x64

	// ProductID is the value returned by the get product id command on an
	// STCC4.
	ProductID uint32 = 0x0901018a

	// SingleShotDuration is the time to wait after MeasureSingleShot() before
	// calling ReadMeasurement().
	SingleShotDuration = 500 * time.Millisecond

	// The soft reset is a general call. One byte to address 0.
	generalCallAddress uint16 = 0x00
	cmdSoftReset       byte   = 0x06
	resetDuration             = 10 * time.Millisecond

	// Exit sleep is a single byte written to the device.
	cmdExitSleep  byte = 0x00
	wakeDuration       = 5 * time.Millisecond
	frcFailed          = 0xffff
	frcCorrection      = 0x8000
)

var (
	// ErrProductID is returned when the device does not identify itself as
	// an STCC4.
	ErrProductID = errors.New("stcc4: unexpected product id")
	// ErrFRCFailed is returned when the sensor rejects a forced
	// recalibration.
	ErrFRCFailed = errors.New("stcc4: forced recalibration failed")
	// ErrNotInitialized is returned by operations on a Dev with no bus.
	ErrNotInitialized = errors.New("stcc4: device not initialized")
)

// Structure to simplify sending commands to the device.
type command struct {
	// The 16-bit command word.
	cmdWord uint16
	// The expected number of bytes returned. A multiple of 3.
	responseSize int
	// Execution time after the command is written.
	delay time.Duration
}

var cmdStartContinuousMeasurement = command{cmdWord: 0x218b}
var cmdStopContinuousMeasurement = command{cmdWord: 0x3f86}
var cmdReadMeasurement = command{
	cmdWord:      0xec05,
	responseSize: 12,
}
var cmdSetRHTCompensation = command{
	cmdWord: 0xe000,
	delay:   time.Millisecond,
}
var cmdSetPressureCompensation = command{
	cmdWord: 0xe016,
	delay:   time.Millisecond,
}
var cmdMeasureSingleShot = command{cmdWord: 0x219d}
var cmdEnterSleepMode = command{
	cmdWord: 0x3650,
	delay:   time.Millisecond,
}
var cmdPerformConditioning = command{
	cmdWord: 0x29bc,
	delay:   22 * time.Second,
}
var cmdPerformFactoryReset = command{
	cmdWord: 0x3632,
	delay:   90 * time.Millisecond,
}
var cmdPerformSelfTest = command{
	cmdWord:      0x278c,
	responseSize: 3,
	delay:        360 * time.Millisecond,
}
var cmdEnableTestingMode = command{cmdWord: 0x3fbc}
var cmdDisableTestingMode = command{cmdWord: 0x3f3d}
var cmdPerformForcedRecalibration = command{
	cmdWord:      0x362f,
	responseSize: 3,
	delay:        90 * time.Millisecond,
}
var cmdGetProductID = command{
	cmdWord:      0x365b,
	responseSize: 6,
}

// Env is a sensor reading: Temperature, Humidity, CO2 and the status word.
// Pressure is not measured and is always 0.
type Env struct {
	physic.Env
	CO2    PPM
	Status Status
}

// Return the sensor readings in string format.
func (e *Env) String() string {
	return fmt.Sprintf("Temperature: %s Humidity: %s CO2: %s Status: %s", e.Temperature, e.Humidity, e.CO2, e.Status)
}

// Opts holds optional settings for New and Open.
type Opts struct {
	// Logger receives diagnostics for failures the driver tolerates. If nil,
	// the logrus standard logger is used.
	Logger logrus.FieldLogger
}

// Dev represents an STCC4 device.
type Dev struct {
	// The i2c bus device.
	d *i2c.Dev
	// Set if the bus was opened by Open() and must be closed by Close().
	owned i2c.BusCloser
	mu    sync.Mutex
	log   logrus.FieldLogger
	// Replaced in tests.
	sleep func(time.Duration)
}

func newDev(opts *Opts) *Dev {
	d := &Dev{sleep: time.Sleep}
	if opts != nil {
		d.log = opts.Logger
	}
	return d
}

// New returns an STCC4 on the supplied bus, which remains owned by the
// caller. The sensor is soft reset and its product id is verified. Use
// DefaultAddress for addr unless the part has been strapped otherwise.
func New(bus i2c.Bus, addr i2c.Addr, opts *Opts) (*Dev, error) {
	d := newDev(opts)
	if err := d.Begin(bus, addr); err != nil {
		return nil, err
	}
	return d, nil
}

// Open opens the named i2c bus using i2creg, and returns an STCC4 on it. The
// bus is owned by the Dev and is closed by Close(). Use "" for the default
// bus.
func Open(busName string, addr i2c.Addr, opts *Opts) (*Dev, error) {
	d := newDev(opts)
	if err := d.Open(busName, addr); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Open replaces the transport with the named bus, which the Dev then owns.
// Any bus previously opened by the Dev is closed first. If the device check
// fails the bus stays open until Close() is called.
func (d *Dev) Open(busName string, addr i2c.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.release(); err != nil {
		d.logger().WithError(err).Warn("stcc4: closing previous bus")
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return fmt.Errorf("stcc4: opening bus %q: %w", busName, err)
	}
	d.owned = b
	return d.begin(b, addr)
}

// Begin replaces the transport with a caller owned bus and verifies the
// device. Any bus previously opened by the Dev is closed first.
//
// The soft reset issued before the id check is best effort. Its failure is
// logged and ignored, the id check decides whether Begin succeeds.
func (d *Dev) Begin(bus i2c.Bus, addr i2c.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.release(); err != nil {
		d.logger().WithError(err).Warn("stcc4: closing previous bus")
	}
	return d.begin(bus, addr)
}

func (d *Dev) begin(bus i2c.Bus, addr i2c.Addr) error {
	d.d = &i2c.Dev{Bus: bus, Addr: uint16(addr)}

	if err := d.reset(); err != nil {
		d.logger().WithError(err).Debug("stcc4: soft reset failed")
	}

	id, err := d.productID()
	if err != nil {
		return err
	}
	if id != ProductID {
		return fmt.Errorf("%w: read 0x%08x expected 0x%08x", ErrProductID, id, ProductID)
	}
	return nil
}

// release closes the bus if we opened it.
func (d *Dev) release() error {
	d.d = nil
	if d.owned == nil {
		return nil
	}
	err := d.owned.Close()
	d.owned = nil
	return err
}

// Close detaches the Dev from its bus, closing the bus if it was opened by
// Open(). The Dev can be reused by calling Begin() or Open().
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release()
}

// Halt stops continuous measurement. Implements conn.Resource.
func (d *Dev) Halt() error {
	return d.EnableContinuousMeasurement(false)
}

// Reset performs a soft reset using the i2c general call address. Other
// devices on the bus that honour the general call are also reset.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset()
}

func (d *Dev) reset() error {
	if d.d == nil {
		return ErrNotInitialized
	}
	if err := d.d.Bus.Tx(generalCallAddress, []byte{cmdSoftReset}, nil); err != nil {
		return fmt.Errorf("stcc4: soft reset: %w", err)
	}
	d.delay(resetDuration)
	return nil
}

// SleepMode puts the sensor into, or wakes it from, its low power sleep
// state. Entering sleep is a regular command. Waking is a single raw byte;
// the response is not checked.
func (d *Dev) SleepMode(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enable {
		return d.writeCommand(cmdEnterSleepMode)
	}
	if d.d == nil {
		return ErrNotInitialized
	}
	if err := d.d.Tx([]byte{cmdExitSleep}, nil); err != nil {
		return fmt.Errorf("stcc4: exit sleep: %w", err)
	}
	d.delay(wakeDuration)
	return nil
}

// EnableContinuousMeasurement starts or stops measuring at a 1 second
// interval.
func (d *Dev) EnableContinuousMeasurement(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enable {
		return d.writeCommand(cmdStartContinuousMeasurement)
	}
	return d.writeCommand(cmdStopContinuousMeasurement)
}

// MeasureSingleShot triggers one measurement. Wait SingleShotDuration before
// calling ReadMeasurement().
func (d *Dev) MeasureSingleShot() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommand(cmdMeasureSingleShot)
}

// EnableTestingMode turns testing mode on or off. In testing mode the sensor
// does not update its ASC history. StatusTestingMode is set in the status
// word while active.
func (d *Dev) EnableTestingMode(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enable {
		return d.writeCommand(cmdEnableTestingMode)
	}
	return d.writeCommand(cmdDisableTestingMode)
}

// SetRHTCompensation supplies temperature and humidity for the CO2
// compensation, for use when no SHT4x is attached to the sensor.
func (d *Dev) SetRHTCompensation(t physic.Temperature, rh physic.RelativeHumidity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommand(cmdSetRHTCompensation, tempToCount(t), humidityToCount(rh))
}

// SetPressureCompensation supplies the ambient pressure for the CO2
// compensation. The resolution is 2 Pa.
func (d *Dev) SetPressureCompensation(p physic.Pressure) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommand(cmdSetPressureCompensation, clampCount(float64(p)/float64(2*physic.Pascal)))
}

// ReadMeasurement returns the most recent measurement.
func (d *Dev) ReadMeasurement() (Env, error) {
	env := Env{}
	err := d.Sense(&env)
	return env, err
}

// Sense reads the most recent measurement into env. The sensor must be in
// continuous mode, or a single shot must have been triggered. On error env
// is zeroed.
func (d *Dev) Sense(env *Env) error {
	*env = Env{}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.readCommand(cmdReadMeasurement)
	if err != nil {
		return err
	}
	env.CO2 = PPM(word(r, 0))
	env.Temperature = countToTemp(word(r, 1))
	env.Humidity = countToHumidity(word(r, 2))
	env.Status = Status(word(r, 3))
	return nil
}

// PerformConditioning runs the sensor conditioning routine, which improves
// CO2 accuracy after a long period unpowered. Blocks for 22 seconds.
func (d *Dev) PerformConditioning() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommand(cmdPerformConditioning)
}

// FactoryReset clears the FRC and ASC algorithm history.
func (d *Dev) FactoryReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommand(cmdPerformFactoryReset)
}

// PerformSelfTest runs the sensor self test. A non-nil error means the test
// could not be run; a failed test is reported by the result.
func (d *Dev) PerformSelfTest() (SelfTestResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.readAfterDelay(cmdPerformSelfTest)
	return SelfTestResult(w), err
}

// PerformForcedRecalibration tells the sensor the current CO2 concentration
// is target, and returns the correction the sensor applied in PPM. The
// sensor should have been measuring at target for at least 3 minutes and
// continuous measurement must be stopped.
func (d *Dev) PerformForcedRecalibration(target PPM) (int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.readAfterDelay(cmdPerformForcedRecalibration, clampCount(float64(target)))
	if err != nil {
		return 0, err
	}
	if w == frcFailed {
		return 0, ErrFRCFailed
	}
	return int16(int32(w) - frcCorrection), nil
}

// ProductID reads the product id from the device. On error the returned id
// is 0.
func (d *Dev) ProductID() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.productID()
}

func (d *Dev) productID() (uint32, error) {
	r, err := d.readCommand(cmdGetProductID)
	if err != nil {
		return 0, err
	}
	// Bytes 2 and 5 are CRCs.
	return uint32(r[0])<<24 | uint32(r[1])<<16 | uint32(r[3])<<8 | uint32(r[4]), nil
}

// Precision returns the sensor's resolution. 1 PPM for CO2, 175/65536 °C for
// temperature and 125/65536 %rH for humidity.
func (d *Dev) Precision(env *Env) {
	env.Temperature = 2670288 * physic.NanoKelvin
	env.Humidity = 190 * physic.TenthMicroRH
	env.Pressure = 0
	env.CO2 = 1
}

func (d *Dev) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.d == nil {
		return "stcc4"
	}
	return fmt.Sprintf("stcc4: %s", d.d.String())
}

// writeCommand writes the command word and any argument words, each
// followed by its CRC, then waits for the command's execution time.
func (d *Dev) writeCommand(cmd command, args ...uint16) error {
	if d.d == nil {
		return ErrNotInitialized
	}
	w := []byte{byte(cmd.cmdWord >> 8), byte(cmd.cmdWord)}
	for _, arg := range args {
		w = common.AppendWord(w, arg)
	}
	if err := d.d.Tx(w, nil); err != nil {
		return fmt.Errorf("stcc4: cmd 0x%04x: %w", cmd.cmdWord, err)
	}
	if cmd.delay > 0 {
		d.delay(cmd.delay)
	}
	return nil
}

// readCommand writes the command word and reads the response in a single
// transaction. Every word of the response must pass its CRC check.
func (d *Dev) readCommand(cmd command) ([]byte, error) {
	if d.d == nil {
		return nil, ErrNotInitialized
	}
	w := []byte{byte(cmd.cmdWord >> 8), byte(cmd.cmdWord)}
	r := make([]byte, cmd.responseSize)
	if err := d.d.Tx(w, r); err != nil {
		return nil, fmt.Errorf("stcc4: cmd 0x%04x: %w", cmd.cmdWord, err)
	}
	if err := common.CheckWords(r); err != nil {
		return nil, fmt.Errorf("stcc4: cmd 0x%04x: %w", cmd.cmdWord, err)
	}
	return r, nil
}

// readAfterDelay is for commands whose result is only available after the
// execution time. The write and the read are separate transactions with the
// delay between them, so the response is checked here rather than by
// readCommand.
func (d *Dev) readAfterDelay(cmd command, args ...uint16) (uint16, error) {
	if err := d.writeCommand(cmd, args...); err != nil {
		return 0, err
	}
	r := make([]byte, cmd.responseSize)
	if err := d.d.Tx(nil, r); err != nil {
		return 0, fmt.Errorf("stcc4: cmd 0x%04x read: %w", cmd.cmdWord, err)
	}
	if common.CRC8(r[:2]) != r[2] {
		return 0, fmt.Errorf("stcc4: cmd 0x%04x: %w", cmd.cmdWord, common.ErrCRC)
	}
	return word(r, 0), nil
}

func (d *Dev) delay(t time.Duration) {
	if d.sleep == nil {
		time.Sleep(t)
		return
	}
	d.sleep(t)
}

func (d *Dev) logger() logrus.FieldLogger {
	if d.log == nil {
		return logrus.StandardLogger()
	}
	return d.log
}

// word returns the n'th data word of a validated response.
func word(r []byte, n int) uint16 {
	return uint16(r[n*common.WordSize])<<8 | uint16(r[n*common.WordSize+1])
}

// countToTemp converts a device count to Temperature. T=-45+175*count/65536
func countToTemp(count uint16) physic.Temperature {
	c := float64(count)*175.0/65536.0 - 45.0
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Celsius))
}

// RH=-6+125*count/65536. Values outside 0-100% are not clamped.
func countToHumidity(count uint16) physic.RelativeHumidity {
	rh := float64(count)*125.0/65536.0 - 6.0
	return physic.RelativeHumidity(rh * float64(physic.PercentRH))
}

// Inverse of countToTemp, clamped to the range of the count.
func tempToCount(t physic.Temperature) uint16 {
	c := float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
	return clampCount((c + 45.0) * 65536.0 / 175.0)
}

// Inverse of countToHumidity, clamped to the range of the count.
func humidityToCount(rh physic.RelativeHumidity) uint16 {
	pct := float64(rh) / float64(physic.PercentRH)
	return clampCount((pct + 6.0) * 65536.0 / 125.0)
}

func clampCount(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 0xffff {
		return 0xffff
	}
	return uint16(v + 0.5)
}

var _ conn.Resource = &Dev{}
