// Package mem provides an in-memory tile.Backend, the default swap of a
// storage that does not need to outlive the process.
package mem

import (
	"bytes"
	"maps"
	"slices"
	"sync"

	"github.com/eak1mov/go-tilebuf/tile"
)

// Backend implements tile.Backend and tile.MetadataBackend on maps.
type Backend struct {
	mu       sync.RWMutex
	tiles    map[tile.ID][]byte
	metadata map[string]string
}

func New() *Backend {
	return &Backend{
		tiles:    make(map[tile.ID][]byte),
		metadata: make(map[string]string),
	}
}

func (b *Backend) ReadTile(tileID tile.ID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bytes.Clone(b.tiles[tileID]), nil
}

func (b *Backend) WriteTile(tileID tile.ID, tileData []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tiles[tileID] = bytes.Clone(tileData)
	return nil
}

func (b *Backend) DeleteTile(tileID tile.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tiles, tileID)
	return nil
}

// VisitTiles visits tiles in (z, y, x) order. The visitor may call back
// into the backend.
func (b *Backend) VisitTiles(visitor func(tile.ID, []byte) error) error {
	b.mu.RLock()
	ids := slices.SortedFunc(maps.Keys(b.tiles), func(a, c tile.ID) int {
		if a.Z != c.Z {
			return a.Z - c.Z
		}
		if a.Y != c.Y {
			return a.Y - c.Y
		}
		return a.X - c.X
	})
	b.mu.RUnlock()

	for _, id := range ids {
		tileData, err := b.ReadTile(id)
		if err != nil {
			return err
		}
		if len(tileData) == 0 {
			continue
		}
		if err := visitor(id, tileData); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of persisted tiles.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tiles)
}

func (b *Backend) ReadMetadata() (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.metadata), nil
}

func (b *Backend) WriteMetadata(metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	maps.Copy(b.metadata, metadata)
	return nil
}

func (b *Backend) Flush() error { return nil }
func (b *Backend) Close() error { return nil }
