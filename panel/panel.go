// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package panel renders an STCC4 reading as an image. The image can be drawn
// on any periph display, such as an ssd1306 OLED or a waveshare e-paper, or
// encoded as PNG or JPEG.
package panel

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/co2devices/stcc4"
)

// Smallest image Render will draw on.
const (
	MinWidth  = 32
	MinHeight = 24
)

var (
	ttfOnce sync.Once
	ttf     *truetype.Font
	ttfErr  error
)

func face(size float64) (font.Face, error) {
	ttfOnce.Do(func() {
		ttf, ttfErr = truetype.Parse(goregular.TTF)
	})
	if ttfErr != nil {
		return nil, ttfErr
	}
	return truetype.NewFace(ttf, &truetype.Options{Size: size, Hinting: font.HintingFull}), nil
}

// Lines returns the text rendered for env, one line per value.
func Lines(env *stcc4.Env) []string {
	return []string{
		env.CO2.String(),
		fmt.Sprintf("%.1f°C", env.Temperature.Celsius()),
		fmt.Sprintf("%.1f%%rH", float64(env.Humidity)/float64(physic.PercentRH)),
	}
}

// Render draws env as white text on black, one value per line, on a new
// image of w x h pixels.
func Render(env *stcc4.Env, w, h int) (*image.RGBA, error) {
	if w < MinWidth || h < MinHeight {
		return nil, fmt.Errorf("panel: image %dx%d smaller than %dx%d", w, h, MinWidth, MinHeight)
	}
	lines := Lines(env)
	lineHeight := float64(h) / float64(len(lines))
	f, err := face(lineHeight * 0.7)
	if err != nil {
		return nil, fmt.Errorf("panel: loading font: %w", err)
	}
	defer f.Close()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	dc := gg.NewContextForRGBA(img)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.SetColor(color.White)
	dc.SetFontFace(f)
	for i, l := range lines {
		dc.DrawStringAnchored(l, float64(w)/2, lineHeight*(float64(i)+0.5), 0.5, 0.35)
	}
	return img, nil
}

// Draw renders env to fill dst.
func Draw(dst display.Drawer, env *stcc4.Env) error {
	b := dst.Bounds()
	img, err := Render(env, b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	return dst.Draw(b, img, image.Point{})
}
