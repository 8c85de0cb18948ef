package swapdb

import (
	"errors"
	"fmt"

	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/hilbert"
)

var ErrOutOfRange = errors.New("tilebuf: tile coordinates out of swap range")

const (
	// gridSize is the side of the Hilbert grid; zigzag folding halves the
	// range each signed axis can use.
	gridSize = 1 << 16
	maxZoom  = 1 << 15
)

var curve, _ = hilbert.NewHilbert(gridSize)

func zigzag(v int) int {
	if v >= 0 {
		return 2 * v
	}
	return -2*v - 1
}

func unzigzag(u int) int {
	if u%2 == 0 {
		return u / 2
	}
	return -(u + 1) / 2
}

// EncodeTileID maps a tile onto a single key. Within one level, tiles that
// are close on the grid get close keys.
func EncodeTileID(tileID tile.ID) (int64, error) {
	u, v := zigzag(tileID.X), zigzag(tileID.Y)
	if tileID.Z < 0 || tileID.Z >= maxZoom || u >= gridSize || v >= gridSize {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, tileID)
	}
	d, err := curve.MapInverse(u, v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v: %w", ErrOutOfRange, tileID, err)
	}
	return int64(tileID.Z)<<32 | int64(d), nil
}

func DecodeTileID(tileCode int64) tile.ID {
	z := int(tileCode >> 32)
	u, v, _ := curve.Map(int(tileCode & (1<<32 - 1)))
	return tile.ID{X: unzigzag(u), Y: unzigzag(v), Z: z}
}
