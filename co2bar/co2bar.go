// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package co2bar draws a CO2 concentration as a single line bar in the
// terminal using ANSI color codes. The bar turns from green to yellow to red
// as the concentration rises.
//
// It also implements display.Drawer, so a 1 pixel high image can be written
// to it the same way as to an LED strip.
package co2bar

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"

	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// Opts represents the options available for the bar.
type Opts struct {
	// Width of the bar in characters. Defaults to 40.
	X int
	// Concentration drawn as a full bar. Defaults to 2000 PPM.
	Max stcc4.PPM
	// Thresholds for the yellow and red colors. Default to 800 and 1200 PPM.
	Warn, Alarm stcc4.PPM
	Palette     *ansi256.Palette
	// Defaults to a colorable stdout.
	W io.Writer

	_ struct{}
}

var (
	green  = color.NRGBA{R: 0x00, G: 0xc0, B: 0x00, A: 0xff}
	yellow = color.NRGBA{R: 0xff, G: 0xc0, B: 0x00, A: 0xff}
	red    = color.NRGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff}
	off    = color.NRGBA{A: 0xff}
)

// Dev is a CO2 gauge that outputs to the console.
type Dev struct {
	w       io.Writer
	l       int
	max     stcc4.PPM
	warn    stcc4.PPM
	alarm   stcc4.PPM
	palette ansi256.Palette

	pixels []byte
	label  string
	buf    bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	o := Opts{}
	if opts != nil {
		o = *opts
	}
	if o.X <= 0 {
		o.X = 40
	}
	if o.Max <= 0 {
		o.Max = 2000
	}
	if o.Warn <= 0 {
		o.Warn = 800
	}
	if o.Alarm <= 0 {
		o.Alarm = 1200
	}
	p := o.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := o.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Dev{
		w:       w,
		l:       o.X,
		max:     o.Max,
		warn:    o.Warn,
		alarm:   o.Alarm,
		palette: *p,
		pixels:  make([]byte, 3*o.X),
	}
}

func (d *Dev) String() string {
	return "CO2Bar"
}

// Halt implements conn.Resource.
//
// It resets the terminal attributes and ends the line.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Color returns the color used for the concentration.
func (d *Dev) Color(co2 stcc4.PPM) color.NRGBA {
	switch {
	case co2 < d.warn:
		return green
	case co2 < d.alarm:
		return yellow
	default:
		return red
	}
}

// Show redraws the bar for co2. The concentration is printed after the bar.
func (d *Dev) Show(co2 stcc4.PPM) error {
	n := 0
	if co2 > 0 {
		n = int(int64(co2) * int64(d.l) / int64(d.max))
	}
	if n > d.l {
		n = d.l
	}
	c := d.Color(co2)
	for i := 0; i < d.l; i++ {
		p := off
		if i < n {
			p = c
		}
		d.pixels[3*i] = p.R
		d.pixels[3*i+1] = p.G
		d.pixels[3*i+2] = p.B
	}
	d.label = co2.String()
	_, err := d.refresh()
	return err
}

// Write accepts a stream of raw RGB pixels and writes it to the console.
// The concentration printed by the last Show is kept.
func (d *Dev) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("co2bar: invalid RGB stream length")
	}
	copy(d.pixels, pixels)
	return d.refresh()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.l, Y: 1}}
}

// Draw implements display.Drawer.
//
// It paints over the bar, for example to mark the warning threshold, and
// keeps the concentration printed by the last Show.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	deltaX3 := 3 * (r.Min.X - srcR.Min.X)
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		r16, g16, b16, _ := src.At(sX, srcR.Min.Y).RGBA()
		dX3 := 3*sX + deltaX3
		d.pixels[dX3] = byte(r16 >> 8)
		d.pixels[dX3+1] = byte(g16 >> 8)
		d.pixels[dX3+2] = byte(b16 >> 8)
	}
	_, err := d.refresh()
	return err
}

func (d *Dev) refresh() (int, error) {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := 0; i < len(d.pixels)/3; i++ {
		c := color.NRGBA{d.pixels[3*i], d.pixels[3*i+1], d.pixels[3*i+2], 255}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	if d.label != "" {
		_, _ = fmt.Fprintf(&d.buf, "%-10s", d.label)
	}
	_, err := d.buf.WriteTo(d.w)
	return len(d.pixels), err
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
