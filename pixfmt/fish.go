package pixfmt

import "math"

// Fish converts runs of pixels from one format to another.
type Fish struct {
	src, dst *Format
}

func NewFish(src, dst *Format) *Fish {
	return &Fish{src: src, dst: dst}
}

func (f *Fish) Source() *Format      { return f.src }
func (f *Fish) Destination() *Format { return f.dst }

// Process converts n pixels from src into dst.
func (f *Fish) Process(src, dst []byte, n int) {
	sbpp, dbpp := f.src.BytesPerPixel(), f.dst.BytesPerPixel()
	if f.src == f.dst {
		copy(dst[:n*dbpp], src[:n*sbpp])
		return
	}
	var px [4]float32
	for i := range n {
		f.src.decode(src[i*sbpp:], &px)
		f.dst.encode(dst[i*dbpp:], &px)
	}
}

// Convert converts n pixels between two formats.
func Convert(src, dst *Format, srcPix, dstPix []byte, n int) {
	NewFish(src, dst).Process(srcPix, dstPix, n)
}

// decode expands one pixel into linear RGBA.
func (f *Format) decode(p []byte, px *[4]float32) {
	var c [4]float32
	for i := range f.Components() {
		c[i] = f.Sample(p, i)
	}
	switch f.model {
	case ModelY:
		px[0], px[1], px[2], px[3] = c[0], c[0], c[0], 1
	case ModelYA:
		px[0], px[1], px[2], px[3] = c[0], c[0], c[0], c[1]
	case ModelRGB:
		px[0], px[1], px[2], px[3] = c[0], c[1], c[2], 1
	default:
		px[0], px[1], px[2], px[3] = c[0], c[1], c[2], c[3]
	}
	if f.perceptual {
		for i := range 3 {
			px[i] = fromSRGB(px[i])
		}
	}
}

func (f *Format) encode(p []byte, px *[4]float32) {
	r, g, b, a := px[0], px[1], px[2], px[3]
	if f.perceptual {
		r, g, b = toSRGB(r), toSRGB(g), toSRGB(b)
	}
	switch f.model {
	case ModelY:
		f.SetSample(p, 0, luminance(r, g, b))
	case ModelYA:
		f.SetSample(p, 0, luminance(r, g, b))
		f.SetSample(p, 1, a)
	case ModelRGB:
		f.SetSample(p, 0, r)
		f.SetSample(p, 1, g)
		f.SetSample(p, 2, b)
	default:
		f.SetSample(p, 0, r)
		f.SetSample(p, 1, g)
		f.SetSample(p, 2, b)
		f.SetSample(p, 3, a)
	}
}

func luminance(r, g, b float32) float32 {
	if r == g && g == b {
		return r
	}
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func fromSRGB(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return float32(math.Pow((float64(v)+0.055)/1.055, 2.4))
}

func toSRGB(v float32) float32 {
	if v <= 0.0031308 {
		return v * 12.92
	}
	return float32(1.055*math.Pow(float64(v), 1/2.4) - 0.055)
}
