// Package pixfmt describes pixel encodings and converts pixel runs between them.
package pixfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrUnknownFormat = errors.New("tilebuf: unknown pixel format")

// Model is the component layout of a pixel.
type Model uint8

const (
	ModelY Model = iota + 1
	ModelYA
	ModelRGB
	ModelRGBA
)

// Type is the encoding of a single component.
type Type uint8

const (
	TypeU8 Type = iota + 1
	TypeU16
	TypeFloat
)

// Format is an immutable pixel encoding. Formats are compared by pointer;
// use the predefined values or Lookup.
type Format struct {
	name       string
	model      Model
	typ        Type
	perceptual bool
}

var (
	RGBAFloat = &Format{"RGBA float", ModelRGBA, TypeFloat, false}
	RGBAU16   = &Format{"RGBA u16", ModelRGBA, TypeU16, false}
	RGBAU8    = &Format{"RGBA u8", ModelRGBA, TypeU8, false}
	SRGBAU8   = &Format{"R'G'B'A u8", ModelRGBA, TypeU8, true}
	RGBFloat  = &Format{"RGB float", ModelRGB, TypeFloat, false}
	RGBU8     = &Format{"RGB u8", ModelRGB, TypeU8, false}
	SRGBU8    = &Format{"R'G'B' u8", ModelRGB, TypeU8, true}
	YAFloat   = &Format{"YA float", ModelYA, TypeFloat, false}
	YFloat    = &Format{"Y float", ModelY, TypeFloat, false}
	YU16      = &Format{"Y u16", ModelY, TypeU16, false}
	YU8       = &Format{"Y u8", ModelY, TypeU8, false}
)

var registry = map[string]*Format{}

func init() {
	for _, f := range []*Format{
		RGBAFloat, RGBAU16, RGBAU8, SRGBAU8, RGBFloat, RGBU8, SRGBU8,
		YAFloat, YFloat, YU16, YU8,
	} {
		registry[f.name] = f
	}
}

// Lookup returns the format registered under name, e.g. "RGBA float".
func Lookup(name string) (*Format, error) {
	if f, ok := registry[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Names lists the registered format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Format) Name() string     { return f.name }
func (f *Format) String() string   { return f.name }
func (f *Format) Model() Model     { return f.model }
func (f *Format) Type() Type       { return f.typ }
func (f *Format) Perceptual() bool { return f.perceptual }
func (f *Format) Is8Bit() bool     { return f.typ == TypeU8 }

func (f *Format) HasAlpha() bool {
	return f.model == ModelYA || f.model == ModelRGBA
}

func (f *Format) Components() int {
	switch f.model {
	case ModelY:
		return 1
	case ModelYA:
		return 2
	case ModelRGB:
		return 3
	default:
		return 4
	}
}

func (f *Format) BytesPerSample() int {
	switch f.typ {
	case TypeU8:
		return 1
	case TypeU16:
		return 2
	default:
		return 4
	}
}

func (f *Format) BytesPerPixel() int {
	return f.Components() * f.BytesPerSample()
}

// Sample reads component i of the pixel at the start of p as a float in
// the format's own scale (0..1 for integer types).
func (f *Format) Sample(p []byte, i int) float32 {
	switch f.typ {
	case TypeU8:
		return float32(p[i]) / 255
	case TypeU16:
		return float32(binary.LittleEndian.Uint16(p[2*i:])) / 65535
	default:
		return Float32(p[4*i:])
	}
}

// SetSample writes component i of the pixel at the start of p, clamping
// and rounding for integer types.
func (f *Format) SetSample(p []byte, i int, v float32) {
	switch f.typ {
	case TypeU8:
		p[i] = uint8(quantize(v, 255))
	case TypeU16:
		binary.LittleEndian.PutUint16(p[2*i:], uint16(quantize(v, 65535)))
	default:
		PutFloat32(p[4*i:], v)
	}
}

// Mix4 writes into dst the per-component average of four pixels.
func (f *Format) Mix4(dst, p0, p1, p2, p3 []byte) {
	switch f.typ {
	case TypeU8:
		for i := range f.Components() {
			dst[i] = uint8((uint32(p0[i]) + uint32(p1[i]) + uint32(p2[i]) + uint32(p3[i]) + 2) / 4)
		}
	case TypeU16:
		le := binary.LittleEndian
		for i := range f.Components() {
			o := 2 * i
			sum := uint32(le.Uint16(p0[o:])) + uint32(le.Uint16(p1[o:])) + uint32(le.Uint16(p2[o:])) + uint32(le.Uint16(p3[o:]))
			le.PutUint16(dst[o:], uint16((sum+2)/4))
		}
	default:
		for i := range f.Components() {
			o := 4 * i
			sum := float64(Float32(p0[o:])) + float64(Float32(p1[o:])) + float64(Float32(p2[o:])) + float64(Float32(p3[o:]))
			PutFloat32(dst[o:], float32(sum/4))
		}
	}
}

func Float32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func PutFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func quantize(v, scale float32) float32 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return scale
	}
	return float32(math.Floor(float64(v*scale) + 0.5))
}
