package storage

import (
	"github.com/eak1mov/go-tilebuf/tile"
)

// downsample builds a pyramid tile from its four children with a 2x2 box
// filter. Children are fetched (and generated) on demand.
func (s *Storage) downsample(id tile.ID) (*tile.Tile, error) {
	bpp := s.format.BytesPerPixel()
	data := make([]byte, s.tileWidth*s.tileHeight*bpp)

	for i, childID := range id.Children() {
		child, err := s.GetTile(childID.X, childID.Y, childID.Z)
		if err != nil {
			return nil, err
		}
		child.Lock(tile.LockRead)
		s.downsampleQuadrant(child.Data(), data, i%2, i/2)
		child.Unlock()
		child.Release()
	}

	return s.newTile(id, data), nil
}

// downsampleQuadrant halves src into quadrant (qx, qy) of dst.
func (s *Storage) downsampleQuadrant(src, dst []byte, qx, qy int) {
	bpp := s.format.BytesPerPixel()
	w, h := s.tileWidth, s.tileHeight
	stride := w * bpp
	for y := range h / 2 {
		row0 := src[2*y*stride:]
		row1 := src[(2*y+1)*stride:]
		out := dst[(qy*h/2+y)*stride+qx*(w/2)*bpp:]
		for x := range w / 2 {
			a := 2 * x * bpp
			b := a + bpp
			s.format.Mix4(out[x*bpp:], row0[a:], row0[b:], row1[a:], row1[b:])
		}
	}
}
