package tile

import (
	"errors"
	"iter"
)

var errVisitCancelled = errors.New("visit cancelled")

// IterTiles returns an iterator over all tiles persisted in a backend.
// It yields tile IDs and their data. Iteration panics on backend errors;
// use CollectTiles when errors must be handled.
func IterTiles(v Visitor) iter.Seq2[ID, []byte] {
	return func(yield func(ID, []byte) bool) {
		err := v.VisitTiles(func(tileID ID, tileData []byte) error {
			if !yield(tileID, tileData) {
				return errVisitCancelled
			}
			return nil
		})
		if err != nil && err != errVisitCancelled {
			panic(err)
		}
	}
}

// CollectTiles reads every tile of a backend into a map.
func CollectTiles(v Visitor) (map[ID][]byte, error) {
	tiles := make(map[ID][]byte)
	err := v.VisitTiles(func(tileID ID, tileData []byte) error {
		tiles[tileID] = tileData
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tiles, nil
}
