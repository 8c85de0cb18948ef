package buffer

import (
	"fmt"
	"image"
	"math"

	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/tile"
)

func checkLen(size image.Point, format *pixfmt.Format, buf []byte, rowstride int) error {
	bpp := format.BytesPerPixel()
	if rowstride == AutoRowstride {
		rowstride = size.X * bpp
	}
	if need := (size.Y-1)*rowstride + size.X*bpp; len(buf) < need {
		return fmt.Errorf("%w: %d bytes for %vx%v %v pixels, want %d", ErrShortBuffer, len(buf), size.X, size.Y, format, need)
	}
	return nil
}

// pixelTile returns the level-0 tile holding grid pixel (gx, gy), keeping it
// as the hot tile.
func (b *Buffer) pixelTile(gx, gy int) (*tile.Tile, error) {
	id := tile.ID{X: tile.Index(gx, b.tileWidth), Y: tile.Index(gy, b.tileHeight)}
	if b.hot != nil && b.hot.ID() == id {
		return b.hot, nil
	}
	b.releaseHot()
	t, err := b.source.GetTile(id.X, id.Y, id.Z)
	if err != nil {
		return nil, err
	}
	b.hot = t
	return t, nil
}

func (b *Buffer) pixelOffset(g image.Point) int {
	x, y := tile.Offset(g.X, b.tileWidth), tile.Offset(g.Y, b.tileHeight)
	return (y*b.tileWidth + x) * b.format.BytesPerPixel()
}

func (b *Buffer) getPixel(x, y int, format *pixfmt.Format, dst []byte) {
	if b.inAbyss(x, y) {
		clear(dst[:format.BytesPerPixel()])
		return
	}
	g := image.Pt(x, y).Add(b.shift)
	t, err := b.pixelTile(g.X, g.Y)
	if err != nil {
		b.logger.Warn("tilebuf: didn't get tile", "x", x, "y", y, "err", err)
		clear(dst[:format.BytesPerPixel()])
		return
	}
	t.Lock(tile.LockRead)
	pixfmt.Convert(b.format, format, t.Data()[b.pixelOffset(g):], dst, 1)
	t.Unlock()
}

func (b *Buffer) setPixel(x, y int, format *pixfmt.Format, src []byte) {
	if b.inAbyss(x, y) {
		return
	}
	g := image.Pt(x, y).Add(b.shift)
	t, err := b.pixelTile(g.X, g.Y)
	if err != nil {
		b.logger.Warn("tilebuf: didn't get tile", "x", x, "y", y, "err", err)
		return
	}
	t.Lock(tile.LockWrite)
	pixfmt.Convert(format, b.format, src, t.Data()[b.pixelOffset(g):], 1)
	t.Unlock()
}

// GetPixel reads one pixel in format (the buffer format if nil). Pixels
// outside the abyss read as zero.
func (b *Buffer) GetPixel(x, y int, format *pixfmt.Format, dst []byte) error {
	if format == nil {
		format = b.format
	}
	if err := checkLen(image.Pt(1, 1), format, dst, AutoRowstride); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()
	b.getPixel(x, y, format, dst)
	return nil
}

// SetPixel writes one pixel given in format (the buffer format if nil).
// Writes outside the abyss are dropped.
func (b *Buffer) SetPixel(x, y int, format *pixfmt.Format, src []byte) error {
	if format == nil {
		format = b.format
	}
	if err := checkLen(image.Pt(1, 1), format, src, AutoRowstride); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()
	b.setPixel(x, y, format, src)
	return nil
}

// Get reads rect into dst in format (the buffer format if nil), rows
// rowstride bytes apart. A scale other than 1 reads rect of the buffer
// scaled by that factor, going through pyramid levels for scale <= 0.5.
// The zero rect means the extent.
func (b *Buffer) Get(rect image.Rectangle, scale float64, format *pixfmt.Format, dst []byte, rowstride int) error {
	if format == nil {
		format = b.format
	}
	if !(scale > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	rect = b.orExtent(rect)
	if rect.Empty() {
		return nil
	}
	if err := checkLen(rect.Size(), format, dst, rowstride); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()
	b.get(rect, scale, format, dst, rowstride)
	return nil
}

func (b *Buffer) get(rect image.Rectangle, scale float64, format *pixfmt.Format, dst []byte, rowstride int) {
	switch {
	case scale == 1 && rect.Dx() == 1 && rect.Dy() == 1:
		b.getPixel(rect.Min.X, rect.Min.Y, format, dst)
	case math.Abs(scale-1) < 1e-5:
		b.iterate(rect, dst, rowstride, false, format, 0)
	default:
		b.getScaled(rect, scale, format, dst, rowstride)
	}
}

// Set writes src, given in format (the buffer format if nil), into rect.
// Pixels outside the abyss are left alone. The zero rect means the extent.
func (b *Buffer) Set(rect image.Rectangle, format *pixfmt.Format, src []byte, rowstride int) error {
	if format == nil {
		format = b.format
	}
	rect = b.orExtent(rect)
	if rect.Empty() {
		return nil
	}
	if err := checkLen(rect.Size(), format, src, rowstride); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()
	b.set(rect, format, src, rowstride)
	return nil
}

func (b *Buffer) set(rect image.Rectangle, format *pixfmt.Format, src []byte, rowstride int) {
	if rect.Dx() == 1 && rect.Dy() == 1 {
		b.setPixel(rect.Min.X, rect.Min.Y, format, src)
		return
	}
	b.iterate(rect, src, rowstride, true, format, 0)
}

// floorDiv is integer division rounding towards negative infinity.
func floorDiv(v, d int) int {
	return tile.Index(v, d)
}

// iterate moves pixels between buf and the tiles covering roi at pyramid
// level, tile by tile. roi is in level-0 buffer coordinates; at level > 0 it
// is scaled down by 2^level.
//
// Reads zero every pixel outside the abyss; writes never touch them. A tile
// the source fails to produce is skipped with a warning.
func (b *Buffer) iterate(roi image.Rectangle, buf []byte, rowstride int, write bool, format *pixfmt.Format, level int) {
	tw, th := b.tileWidth, b.tileHeight
	bpp := b.format.BytesPerPixel()
	fbpp := format.BytesPerPixel()
	tileStride := tw * bpp

	factor := 1 << level
	origin := roi.Min.Add(b.shift)
	originX, originY := floorDiv(origin.X, factor), floorDiv(origin.Y, factor)
	width, height := roi.Dx()/factor, roi.Dy()/factor
	abyss := b.abyss.Add(b.shift)
	abyss = image.Rect(floorDiv(abyss.Min.X, factor), floorDiv(abyss.Min.Y, factor),
		floorDiv(abyss.Max.X, factor), floorDiv(abyss.Max.Y, factor))

	if rowstride == AutoRowstride {
		rowstride = width * fbpp
	}

	var fish *pixfmt.Fish
	if write {
		fish = pixfmt.NewFish(format, b.format)
	} else {
		fish = pixfmt.NewFish(b.format, format)
	}

	zero := func(bufx, bufy, pixels, rows int) {
		for y := bufy; y < bufy+rows; y++ {
			off := y*rowstride + bufx*fbpp
			clear(buf[off : off+pixels*fbpp])
		}
	}

	for bufy := 0; bufy < height; {
		tiledy := originY + bufy
		offsety := tile.Offset(tiledy, th)
		rows := min(th-offsety, height-bufy)

		if tiledy+rows <= abyss.Min.Y || tiledy >= abyss.Max.Y {
			// The whole band of tiles is in the abyss.
			if !write {
				zero(0, bufy, width, rows)
			}
			bufy += rows
			continue
		}

		for bufx := 0; bufx < width; {
			tiledx := originX + bufx
			offsetx := tile.Offset(tiledx, tw)
			pixels := min(tw-offsetx, width-bufx)

			if tiledx+pixels <= abyss.Min.X || tiledx >= abyss.Max.X {
				if !write {
					zero(bufx, bufy, pixels, rows)
				}
				bufx += pixels
				continue
			}

			t, err := b.source.GetTile(tile.Index(tiledx, tw), tile.Index(tiledy, th), level)
			if err != nil {
				b.logger.Warn("tilebuf: didn't get tile, trying to continue",
					"x", tile.Index(tiledx, tw), "y", tile.Index(tiledy, th), "z", level, "err", err)
				if !write {
					zero(bufx, bufy, pixels, rows)
				}
				bufx += pixels
				continue
			}

			lskip := min(max(abyss.Min.X-tiledx, 0), pixels)
			rskip := min(max(tiledx+pixels-abyss.Max.X, 0), pixels)
			n := pixels - lskip - rskip

			if write {
				t.Lock(tile.LockWrite)
			} else {
				t.Lock(tile.LockRead)
			}
			data := t.Data()
			for row := range rows {
				inside := tiledy+row >= abyss.Min.Y && tiledy+row < abyss.Max.Y
				bp := buf[(bufy+row)*rowstride+bufx*fbpp:]
				tp := data[(offsety+row)*tileStride+offsetx*bpp:]
				switch {
				case write:
					if inside && n > 0 {
						fish.Process(bp[lskip*fbpp:], tp[lskip*bpp:], n)
					}
				case inside && n > 0:
					clear(bp[:lskip*fbpp])
					fish.Process(tp[lskip*bpp:], bp[lskip*fbpp:], n)
					clear(bp[(pixels-rskip)*fbpp : pixels*fbpp])
				default:
					clear(bp[:pixels*fbpp])
				}
			}
			t.Unlock()
			t.Release()

			bufx += pixels
		}
		bufy += rows
	}
}

// Copy copies srcRect of src into dst with its top-left corner at dp,
// converting between the buffer formats. The zero srcRect means the extent
// of src.
func Copy(src *Buffer, srcRect image.Rectangle, dst *Buffer, dp image.Point) {
	srcRect = src.orExtent(srcRect)
	if srcRect.Empty() {
		return
	}
	it := NewIterator(dst, image.Rectangle{Min: dp, Max: dp.Add(srcRect.Size())}, dst.format, Write)
	read := it.Add(src, srcRect, src.format, Read)
	fish := pixfmt.NewFish(src.format, dst.format)
	for it.Next() {
		fish.Process(it.Data(read), it.Data(0), it.Length())
	}
}

// Clear zeroes rect, or the extent for the zero rect.
func (b *Buffer) Clear(rect image.Rectangle) {
	rect = b.orExtent(rect)
	if rect.Empty() {
		return
	}
	it := NewIterator(b, rect, b.format, Write)
	bpp := b.format.BytesPerPixel()
	for it.Next() {
		clear(it.Data(0)[:it.Length()*bpp])
	}
}
