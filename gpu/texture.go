package gpu

import (
	"errors"
	"fmt"
	"image"

	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/gogpu/gputypes"
)

var (
	ErrSizeMismatch      = errors.New("tilebuf: texture size mismatch")
	ErrInvalidDescriptor = errors.New("tilebuf: invalid texture descriptor")
)

// Format is the pixel format every texture stores.
var Format = pixfmt.RGBAFloat

// Texture is a width x height array of "RGBA float" pixels.
type Texture struct {
	dev    *Device
	desc   Descriptor
	width  int
	height int
	pix    []byte
	freed  bool
}

// Descriptor describes a texture in WebGPU terms. Descriptors are
// comparable; textures with equal descriptors are interchangeable.
type Descriptor struct {
	Size      gputypes.Extent3D
	Dimension gputypes.TextureDimension
	Format    gputypes.TextureFormat
	Usage     gputypes.TextureUsage
}

// Usage every texture needs: tiles sample it, render into it and copy it
// both ways.
const requiredUsage = gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst | gputypes.TextureUsageRenderAttachment

// TextureDescriptor returns the descriptor of a width x height texture.
func TextureDescriptor(width, height int) Descriptor {
	return Descriptor{
		Size: gputypes.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		Dimension: gputypes.TextureDimension2D,
		Format:    gputypes.TextureFormatRGBA32Float,
		Usage:     requiredUsage,
	}
}

// Validate checks that the device can create a texture for d.
func (d Descriptor) Validate() error {
	switch {
	case d.Size.Width == 0 || d.Size.Height == 0:
		return fmt.Errorf("%w: empty size %vx%v", ErrInvalidDescriptor, d.Size.Width, d.Size.Height)
	case d.Size.DepthOrArrayLayers != 1 || d.Dimension != gputypes.TextureDimension2D:
		return fmt.Errorf("%w: %v texture with %v layers, want a single 2D layer",
			ErrInvalidDescriptor, d.Dimension, d.Size.DepthOrArrayLayers)
	case d.Format != gputypes.TextureFormatRGBA32Float:
		return fmt.Errorf("%w: format %v, want %v", ErrInvalidDescriptor, d.Format, gputypes.TextureFormatRGBA32Float)
	case !d.Usage.Contains(requiredUsage) || d.Usage.ContainsUnknownBits():
		return fmt.Errorf("%w: usage %#x", ErrInvalidDescriptor, uint64(d.Usage))
	}
	return nil
}

// CreateTexture allocates a cleared texture described by desc.
func (d *Device) CreateTexture(desc Descriptor) (*Texture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	width, height := int(desc.Size.Width), int(desc.Size.Height)
	d.textures.Add(1)
	return &Texture{
		dev:    d,
		desc:   desc,
		width:  width,
		height: height,
		pix:    make([]byte, width*height*Format.BytesPerPixel()),
	}, nil
}

// NewTexture allocates a cleared width x height texture. It panics if
// either side is not positive.
func (d *Device) NewTexture(width, height int) *Texture {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("gpu: invalid texture size %vx%v", width, height))
	}
	t, err := d.CreateTexture(TextureDescriptor(width, height))
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Texture) Width() int              { return t.width }
func (t *Texture) Height() int             { return t.height }
func (t *Texture) Bounds() image.Rectangle { return image.Rect(0, 0, t.width, t.height) }
func (t *Texture) Device() *Device         { return t.dev }
func (t *Texture) Descriptor() Descriptor  { return t.desc }

// Pixels exposes the texture memory, rows of Width "RGBA float" pixels.
func (t *Texture) Pixels() []byte { return t.pix }

// Free releases the texture. Using it afterwards panics.
func (t *Texture) Free() {
	if t.freed {
		t.dev.logger.Warn("tilebuf: texture freed twice")
		return
	}
	t.freed = true
	t.pix = nil
	t.dev.textures.Add(-1)
}

func (t *Texture) region(roi image.Rectangle) image.Rectangle {
	if t.freed {
		panic("gpu: use of freed texture")
	}
	if roi.Empty() {
		return t.Bounds()
	}
	if !roi.In(t.Bounds()) {
		panic(fmt.Sprintf("gpu: region %v outside texture %v", roi, t.Bounds()))
	}
	return roi
}

// Get copies roi (the whole texture if roi is empty) into dst, converting to
// format. A nil format leaves the pixels in the texture format.
func (t *Texture) Get(roi image.Rectangle, dst []byte, format *pixfmt.Format) {
	roi = t.region(roi)
	if format == nil {
		format = Format
	}
	fish := pixfmt.NewFish(Format, format)
	bpp, dbpp := Format.BytesPerPixel(), format.BytesPerPixel()
	w := roi.Dx()
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		src := t.pix[(y*t.width+roi.Min.X)*bpp:]
		fish.Process(src, dst[(y-roi.Min.Y)*w*dbpp:], w)
	}
	t.dev.downloads.Add(1)
}

// Set fills roi (the whole texture if roi is empty) from src in format.
func (t *Texture) Set(roi image.Rectangle, src []byte, format *pixfmt.Format) {
	roi = t.region(roi)
	if format == nil {
		format = Format
	}
	fish := pixfmt.NewFish(format, Format)
	bpp, sbpp := Format.BytesPerPixel(), format.BytesPerPixel()
	w := roi.Dx()
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		dst := t.pix[(y*t.width+roi.Min.X)*bpp:]
		fish.Process(src[(y-roi.Min.Y)*w*sbpp:], dst, w)
	}
	t.dev.uploads.Add(1)
}

// Clear zeroes roi, or the whole texture if roi is empty.
func (t *Texture) Clear(roi image.Rectangle) {
	roi = t.region(roi)
	bpp := Format.BytesPerPixel()
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		clear(t.pix[(y*t.width+roi.Min.X)*bpp : (y*t.width+roi.Max.X)*bpp])
	}
}

// Copy copies srcRect of src (all of it if empty) to dst with its top-left
// corner at (dx, dy).
func Copy(src *Texture, srcRect image.Rectangle, dst *Texture, dx, dy int) error {
	srcRect = src.region(srcRect)
	dstRect := srcRect.Sub(srcRect.Min).Add(image.Pt(dx, dy))
	if !dstRect.In(dst.Bounds()) {
		return fmt.Errorf("%w: %v does not fit into %v", ErrSizeMismatch, dstRect, dst.Bounds())
	}
	bpp := Format.BytesPerPixel()
	n := srcRect.Dx() * bpp
	for y := 0; y < srcRect.Dy(); y++ {
		s := ((srcRect.Min.Y+y)*src.width + srcRect.Min.X) * bpp
		d := ((dy+y)*dst.width + dx) * bpp
		copy(dst.pix[d:d+n], src.pix[s:s+n])
	}
	return nil
}

// Dup returns a new texture with the same size and contents.
func (t *Texture) Dup() *Texture {
	t.region(image.Rectangle{})
	d, err := t.dev.CreateTexture(t.desc)
	if err != nil {
		panic(err)
	}
	copy(d.pix, t.pix)
	return d
}
