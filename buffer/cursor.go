package buffer

import (
	"image"

	"github.com/eak1mov/go-tilebuf/tile"
)

// cursor walks the tile-aligned pieces of a rectangle of one buffer: across
// tile columns, then down tile rows. The first and last piece of each axis
// are trimmed to the rectangle.
type cursor struct {
	buffer *Buffer
	roi    image.Rectangle
	mode   tile.LockMode

	id      tile.ID         // tile of the current piece
	subrect image.Rectangle // current piece, in tile pixels
	step    image.Rectangle // current piece, in buffer coordinates
	tile    *tile.Tile      // locked while a piece is accessed in place

	nextCol int
	nextRow int
}

func newCursor(b *Buffer, roi image.Rectangle, mode tile.LockMode) *cursor {
	return &cursor{buffer: b, roi: roi, mode: mode}
}

func (c *cursor) next() bool {
	c.release()

	tw, th := c.buffer.tileWidth, c.buffer.tileHeight
	origin := c.roi.Min.Add(c.buffer.shift)
	for c.nextRow < c.roi.Dy() {
		if c.nextCol < c.roi.Dx() {
			gx, gy := origin.X+c.nextCol, origin.Y+c.nextRow
			ox, oy := tile.Offset(gx, tw), tile.Offset(gy, th)
			w := min(tw-ox, c.roi.Dx()-c.nextCol)
			h := min(th-oy, c.roi.Dy()-c.nextRow)

			c.id = tile.ID{X: tile.Index(gx, tw), Y: tile.Index(gy, th)}
			c.subrect = image.Rect(ox, oy, ox+w, oy+h)
			c.step = image.Rect(0, 0, w, h).Add(c.roi.Min.Add(image.Pt(c.nextCol, c.nextRow)))
			c.nextCol += w
			return true
		}
		c.nextRow += th - tile.Offset(origin.Y+c.nextRow, th)
		c.nextCol = 0
	}
	return false
}

// lock fetches and locks the tile of the current piece.
func (c *cursor) lock() (*tile.Tile, error) {
	t, err := c.buffer.source.GetTile(c.id.X, c.id.Y, c.id.Z)
	if err != nil {
		return nil, err
	}
	t.Lock(c.mode)
	c.tile = t
	return t, nil
}

func (c *cursor) release() {
	if c.tile != nil {
		c.tile.Unlock()
		c.tile.Release()
		c.tile = nil
	}
}
