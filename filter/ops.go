package filter

import (
	"fmt"
	"image"

	"github.com/eak1mov/go-tilebuf/gpu"
)

// Invert replaces each color component c with 1-c. Alpha is kept.
type Invert struct{}

func (Invert) Name() string { return "invert" }

func invert(px *[4]float32) {
	for c := range 3 {
		px[c] = 1 - px[c]
	}
}

func (Invert) Process(in, out []byte, n int) { eachPixel(in, out, n, invert) }

func (Invert) ProcessGPU(in, out *gpu.Texture, size image.Point) error {
	return eachTexel(in, out, size, invert)
}

// BrightnessContrast scales color components around 0.5 by Contrast and
// then adds Brightness. Alpha is kept.
type BrightnessContrast struct {
	Brightness float64 // -3 .. 3
	Contrast   float64 // -5 .. 5
}

func (BrightnessContrast) Name() string { return "brightness-contrast" }

func (o BrightnessContrast) validate() error {
	if o.Brightness < -3 || o.Brightness > 3 {
		return fmt.Errorf("%w: brightness %v outside [-3, 3]", ErrInvalidParameter, o.Brightness)
	}
	if o.Contrast < -5 || o.Contrast > 5 {
		return fmt.Errorf("%w: contrast %v outside [-5, 5]", ErrInvalidParameter, o.Contrast)
	}
	return nil
}

func (o BrightnessContrast) pixel() func(*[4]float32) {
	brightness, contrast := float32(o.Brightness), float32(o.Contrast)
	return func(px *[4]float32) {
		for c := range 3 {
			px[c] = (px[c]-0.5)*contrast + brightness + 0.5
		}
	}
}

func (o BrightnessContrast) Process(in, out []byte, n int) { eachPixel(in, out, n, o.pixel()) }

func (o BrightnessContrast) ProcessGPU(in, out *gpu.Texture, size image.Point) error {
	return eachTexel(in, out, size, o.pixel())
}

// Levels maps the input range [InLow, InHigh] linearly onto
// [OutLow, OutHigh]. Alpha is kept.
type Levels struct {
	InLow, InHigh   float64 // -1 .. 4
	OutLow, OutHigh float64 // -1 .. 4
}

func (Levels) Name() string { return "levels" }

func (o Levels) validate() error {
	for _, v := range []float64{o.InLow, o.InHigh, o.OutLow, o.OutHigh} {
		if v < -1 || v > 4 {
			return fmt.Errorf("%w: level %v outside [-1, 4]", ErrInvalidParameter, v)
		}
	}
	return nil
}

func (o Levels) pixel() func(*[4]float32) {
	inRange := o.InHigh - o.InLow
	if inRange == 0 {
		inRange = 1e-8
	}
	scale := float32((o.OutHigh - o.OutLow) / inRange)
	inOffset, outOffset := float32(o.InLow), float32(o.OutLow)
	return func(px *[4]float32) {
		for c := range 3 {
			px[c] = (px[c]-inOffset)*scale + outOffset
		}
	}
}

func (o Levels) Process(in, out []byte, n int) { eachPixel(in, out, n, o.pixel()) }

func (o Levels) ProcessGPU(in, out *gpu.Texture, size image.Point) error {
	return eachTexel(in, out, size, o.pixel())
}
