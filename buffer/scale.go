package buffer

import (
	"image"
	"math"

	"github.com/eak1mov/go-tilebuf/pixfmt"
)

// getScaled reads rect of the buffer scaled by scale. It samples the
// pyramid level closest above the target resolution into a scratch buffer
// with a pixel of margin, then resamples: a box filter for 8-bit formats
// (except for upscaling at level 0) and nearest neighbour otherwise.
func (b *Buffer) getScaled(rect image.Rectangle, scale float64, format *pixfmt.Format, dst []byte, rowstride int) {
	bpp := format.BytesPerPixel()
	if rowstride == AutoRowstride {
		rowstride = rect.Dx() * bpp
	}

	sampleX := int(math.Floor(float64(rect.Min.X) / scale))
	sampleY := int(math.Floor(float64(rect.Min.Y) / scale))
	offsetX := float64(rect.Min.X) - float64(sampleX)*scale
	offsetY := float64(rect.Min.Y) - float64(sampleY)*scale

	level, factor := 0, 1
	for scale <= 0.5 {
		scale *= 2
		factor *= 2
		level++
	}

	sampleRect := image.Rect(sampleX, sampleY,
		sampleX+int(float64(rect.Dx())/(scale/float64(factor)))+2*factor,
		sampleY+int(float64(rect.Dy())/(scale/float64(factor)))+2*factor)
	sw, sh := sampleRect.Dx()/factor, sampleRect.Dy()/factor
	if sw <= 0 || sh <= 0 {
		for y := range rect.Dy() {
			clear(dst[y*rowstride : y*rowstride+rect.Dx()*bpp])
		}
		return
	}

	sample := make([]byte, sw*sh*bpp)
	b.iterate(sampleRect, sample, AutoRowstride, false, format, level)

	src := resampleSource{pix: sample, width: sw, height: sh, bpp: bpp}
	if format.Is8Bit() && !(level == 0 && scale > 1.99) {
		resampleBox(dst, rowstride, rect.Dx(), rect.Dy(), src, offsetX, offsetY, scale)
	} else {
		resampleNearest(dst, rowstride, rect.Dx(), rect.Dy(), src, offsetX, offsetY, scale)
	}
}

type resampleSource struct {
	pix    []byte
	width  int
	height int
	bpp    int
}

func (s resampleSource) at(x, y int) []byte {
	x = min(max(x, 0), s.width-1)
	y = min(max(y, 0), s.height-1)
	return s.pix[(y*s.width+x)*s.bpp:]
}

// resampleNearest maps destination pixel (x, y) to source pixel
// ((x+offsetX)/scale, (y+offsetY)/scale).
func resampleNearest(dst []byte, rowstride, dw, dh int, src resampleSource, offsetX, offsetY, scale float64) {
	for y := range dh {
		sy := int((float64(y) + offsetY) / scale)
		row := dst[y*rowstride:]
		for x := range dw {
			sx := int((float64(x) + offsetX) / scale)
			copy(row[x*src.bpp:(x+1)*src.bpp], src.at(sx, sy))
		}
	}
}

// span is the part of source pixel index covered by a destination pixel,
// with the covered length as weight.
type span struct {
	index  int
	weight float64
}

func footprint(d int, offset, scale float64, spans []span) []span {
	lo := (float64(d) + offset) / scale
	hi := (float64(d) + 1 + offset) / scale
	spans = spans[:0]
	for i := int(math.Floor(lo)); float64(i) < hi; i++ {
		w := min(hi, float64(i+1)) - max(lo, float64(i))
		if w > 0 {
			spans = append(spans, span{i, w})
		}
	}
	return spans
}

// resampleBox averages the source area each destination pixel covers,
// weighting partly covered source pixels by coverage. Components are 8-bit.
func resampleBox(dst []byte, rowstride, dw, dh int, src resampleSource, offsetX, offsetY, scale float64) {
	var xs, ys []span
	acc := make([]float64, src.bpp)
	for y := range dh {
		ys = footprint(y, offsetY, scale, ys)
		row := dst[y*rowstride:]
		for x := range dw {
			xs = footprint(x, offsetX, scale, xs)
			clear(acc)
			var total float64
			for _, sy := range ys {
				for _, sx := range xs {
					w := sx.weight * sy.weight
					p := src.at(sx.index, sy.index)
					for c := range acc {
						acc[c] += w * float64(p[c])
					}
					total += w
				}
			}
			out := row[x*src.bpp:]
			for c := range acc {
				out[c] = uint8(min(max(math.Round(acc[c]/total), 0), 255))
			}
		}
	}
}
