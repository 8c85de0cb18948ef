package buffer

import (
	"image"
	"image/color"

	"github.com/eak1mov/go-tilebuf/pixfmt"
	"golang.org/x/image/draw"
)

type imageView struct {
	b *Buffer
}

// Image adapts the buffer's extent to draw.Image, reading and writing
// R'G'B'A u8 pixels one at a time. It suits image codecs and scalers, not
// bulk work. The result also implements image.RGBA64Image and SetRGBA64;
// the x/image scalers need that of a source when the destination has it.
func (b *Buffer) Image() draw.Image {
	return imageView{b}
}

func (v imageView) ColorModel() color.Model { return color.NRGBAModel }
func (v imageView) Bounds() image.Rectangle { return v.b.extent }

var _ image.RGBA64Image = imageView{}

func (v imageView) nrgba(x, y int) color.NRGBA {
	var px [4]byte
	if err := v.b.GetPixel(x, y, pixfmt.SRGBAU8, px[:]); err != nil {
		return color.NRGBA{}
	}
	return color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
}

func (v imageView) At(x, y int) color.Color {
	return v.nrgba(x, y)
}

func (v imageView) RGBA64At(x, y int) color.RGBA64 {
	r, g, b, a := v.nrgba(x, y).RGBA()
	return color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(a)}
}

func (v imageView) Set(x, y int, c color.Color) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	v.b.SetPixel(x, y, pixfmt.SRGBAU8, []byte{n.R, n.G, n.B, n.A})
}

func (v imageView) SetRGBA64(x, y int, c color.RGBA64) {
	v.Set(x, y, c)
}
