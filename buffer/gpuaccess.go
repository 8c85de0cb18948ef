package buffer

import (
	"fmt"
	"image"
	"math"

	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/tile"
)

func (b *Buffer) checkTexture(rect image.Rectangle, tex *gpu.Texture) error {
	if !b.Device().Accelerated() {
		return ErrNoDevice
	}
	if tex.Width() < rect.Dx() || tex.Height() < rect.Dy() {
		return fmt.Errorf("%w: %vx%v texture for %v", gpu.ErrSizeMismatch, tex.Width(), tex.Height(), rect)
	}
	return nil
}

// GPUGet reads rect into the top-left corner of tex. Texels outside the
// abyss are cleared. A scale other than 1 resamples on the CPU, like Get,
// and uploads the result. The zero rect means the extent.
func (b *Buffer) GPUGet(rect image.Rectangle, scale float64, tex *gpu.Texture) error {
	if !(scale > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	rect = b.orExtent(rect)
	if rect.Empty() {
		return nil
	}
	if err := b.checkTexture(rect, tex); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()

	if math.Abs(scale-1) < 1e-5 {
		return b.gpuIterate(rect, tex, false)
	}
	pix := make([]byte, rect.Dx()*rect.Dy()*gpu.Format.BytesPerPixel())
	b.getScaled(rect, scale, gpu.Format, pix, AutoRowstride)
	tex.Set(image.Rect(0, 0, rect.Dx(), rect.Dy()), pix, gpu.Format)
	return nil
}

// GPUSet writes the top-left rect-sized corner of tex into rect.
func (b *Buffer) GPUSet(rect image.Rectangle, tex *gpu.Texture) error {
	rect = b.orExtent(rect)
	if rect.Empty() {
		return nil
	}
	if err := b.checkTexture(rect, tex); err != nil {
		return err
	}
	accessMu.Lock()
	defer accessMu.Unlock()
	return b.gpuIterate(rect, tex, true)
}

// gpuIterate copies between tex and the textures of the level-0 tiles under
// rect, clipped to the abyss.
func (b *Buffer) gpuIterate(rect image.Rectangle, tex *gpu.Texture, write bool) error {
	tw, th := b.tileWidth, b.tileHeight
	grid := rect.Add(b.shift)
	final := grid.Intersect(b.abyss.Add(b.shift))

	for gy := final.Min.Y; gy < final.Max.Y; {
		oy := tile.Offset(gy, th)
		h := min(th-oy, final.Max.Y-gy)
		for gx := final.Min.X; gx < final.Max.X; {
			ox := tile.Offset(gx, tw)
			w := min(tw-ox, final.Max.X-gx)
			tp := image.Pt(gx, gy).Sub(grid.Min)

			t, err := b.source.GetTile(tile.Index(gx, tw), tile.Index(gy, th), 0)
			if err != nil {
				b.logger.Warn("tilebuf: didn't get tile, trying to continue",
					"x", tile.Index(gx, tw), "y", tile.Index(gy, th), "err", err)
				gx += w
				continue
			}

			if write {
				t.Lock(tile.LockGPUWrite)
				err = gpu.Copy(tex, image.Rect(tp.X, tp.Y, tp.X+w, tp.Y+h), t.Texture(), ox, oy)
			} else {
				t.Lock(tile.LockGPURead)
				err = gpu.Copy(t.Texture(), image.Rect(ox, oy, ox+w, oy+h), tex, tp.X, tp.Y)
			}
			t.Unlock()
			t.Release()
			if err != nil {
				return err
			}
			gx += w
		}
		gy += h
	}

	if !write {
		clearOutside(tex, image.Rect(0, 0, rect.Dx(), rect.Dy()), final.Sub(grid.Min))
	}
	return nil
}

// clearOutside clears the part of full not covered by inner.
func clearOutside(tex *gpu.Texture, full, inner image.Rectangle) {
	if inner.Empty() {
		tex.Clear(full)
		return
	}
	for _, r := range []image.Rectangle{
		image.Rect(full.Min.X, full.Min.Y, full.Max.X, inner.Min.Y),
		image.Rect(full.Min.X, inner.Max.Y, full.Max.X, full.Max.Y),
		image.Rect(full.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y),
		image.Rect(inner.Max.X, inner.Min.Y, full.Max.X, inner.Max.Y),
	} {
		if !r.Empty() {
			tex.Clear(r)
		}
	}
}
