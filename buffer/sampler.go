package buffer

import (
	"fmt"
	"image"
	"math"

	"github.com/eak1mov/go-tilebuf/pixfmt"
)

// Interpolation selects how Sample reconstructs a value between pixel
// centers.
type Interpolation int

const (
	InterpolationNearest Interpolation = iota
	InterpolationLinear
	InterpolationCubic
)

func (i Interpolation) String() string {
	switch i {
	case InterpolationNearest:
		return "nearest"
	case InterpolationLinear:
		return "linear"
	case InterpolationCubic:
		return "cubic"
	default:
		return fmt.Sprintf("interpolation(%d)", int(i))
	}
}

// windowSize is the side of the neighbourhood each interpolation reads.
func (i Interpolation) windowSize() int {
	switch i {
	case InterpolationLinear:
		return 2
	case InterpolationCubic:
		return 4
	default:
		return 1
	}
}

// sampler reconstructs pixels of one buffer in RGBA float and converts the
// result to its output format.
type sampler struct {
	buffer *Buffer
	kind   Interpolation
	format *pixfmt.Format
	window []byte
	px     [16]byte
}

func newSampler(b *Buffer, kind Interpolation, format *pixfmt.Format) *sampler {
	n := kind.windowSize()
	return &sampler{
		buffer: b,
		kind:   kind,
		format: format,
		window: make([]byte, n*n*pixfmt.RGBAFloat.BytesPerPixel()),
	}
}

func (s *sampler) texel(x, y, c int) float64 {
	n := s.kind.windowSize()
	return float64(pixfmt.Float32(s.window[((y*n+x)*4+c)*4:]))
}

func (s *sampler) get(x, y float64, dst []byte) {
	if s.kind == InterpolationNearest {
		s.buffer.getPixel(int(math.Floor(x)), int(math.Floor(y)), s.format, dst)
		return
	}

	n := s.kind.windowSize()
	// Pixel centers sit at half-integer coordinates.
	cx, cy := x-0.5, y-0.5
	x0, y0 := int(math.Floor(cx)), int(math.Floor(cy))
	tx, ty := cx-float64(x0), cy-float64(y0)
	if s.kind == InterpolationCubic {
		x0--
		y0--
	}
	s.buffer.iterate(image.Rect(x0, y0, x0+n, y0+n), s.window, AutoRowstride, false, pixfmt.RGBAFloat, 0)

	var wx, wy [4]float64
	switch s.kind {
	case InterpolationLinear:
		wx[0], wx[1] = 1-tx, tx
		wy[0], wy[1] = 1-ty, ty
	case InterpolationCubic:
		wx = catmullRom(tx)
		wy = catmullRom(ty)
	}

	for c := range 4 {
		var v float64
		for j := range n {
			for i := range n {
				v += wx[i] * wy[j] * s.texel(i, j, c)
			}
		}
		pixfmt.PutFloat32(s.px[4*c:], float32(v))
	}
	pixfmt.Convert(pixfmt.RGBAFloat, s.format, s.px[:], dst, 1)
}

func catmullRom(t float64) [4]float64 {
	t2, t3 := t*t, t*t*t
	return [4]float64{
		(-t3 + 2*t2 - t) / 2,
		(3*t3 - 5*t2 + 2) / 2,
		(-3*t3 + 4*t2 + t) / 2,
		(t3 - t2) / 2,
	}
}

// Sample reconstructs the pixel at (x, y) with interp and writes it to dst in
// format (the buffer format if nil). The point samplers read level 0 only,
// so scale does not change the result.
func (b *Buffer) Sample(x, y, scale float64, format *pixfmt.Format, interp Interpolation, dst []byte) error {
	if format == nil {
		format = b.format
	}
	if err := checkLen(image.Pt(1, 1), format, dst, AutoRowstride); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()

	if b.sampler == nil || b.sampler.kind != interp || b.sampler.format != format {
		b.sampler = newSampler(b, interp, format)
	}
	b.sampler.get(x, y, dst)
	return nil
}
