package swapdb_test

import (
	"maps"
	"path/filepath"
	"testing"

	"github.com/eak1mov/go-tilebuf/swapdb"
	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
)

func TestWriteRead(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "swap.db")
	metadata := map[string]string{"format": "RGBA float", "tile_width": "64", "tile_height": "64"}

	b, err := swapdb.Open(filePath, swapdb.WithMetadata(metadata))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tiles := map[tile.ID][]byte{
		{X: 0, Y: 0, Z: 0}:   []byte("tile000"),
		{X: -1, Y: 0, Z: 0}:  []byte("tile-100"),
		{X: 5, Y: -7, Z: 1}:  []byte("tile5-71"),
		{X: -2, Y: -2, Z: 3}: make([]byte, 4096),
	}
	for tileID, tileData := range tiles {
		if err := b.WriteTile(tileID, tileData); err != nil {
			t.Fatalf("WriteTile(%v) failed: %v", tileID, err)
		}
	}
	if err := b.WriteTile(tile.ID{}, []byte("tile000")); err != nil {
		t.Fatalf("WriteTile(overwrite) failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err = swapdb.Open(filePath)
	if err != nil {
		t.Fatalf("Open(existing) failed: %v", err)
	}
	defer b.Close()

	gotMetadata, err := b.ReadMetadata()
	if err != nil {
		t.Fatalf("ReadMetadata failed: %v", err)
	}
	if diff := cmp.Diff(metadata, gotMetadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	if got, want := maps.Collect(tile.IterTiles(b)), tiles; !cmp.Equal(got, want) {
		t.Errorf("VisitTiles data mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}

	if err := b.DeleteTile(tile.ID{X: -1}); err != nil {
		t.Fatalf("DeleteTile failed: %v", err)
	}
	tileData, err := b.ReadTile(tile.ID{X: -1})
	if err != nil {
		t.Fatalf("ReadTile(deleted tile) failed: %v", err)
	}
	if len(tileData) != 0 {
		t.Errorf("ReadTile(deleted tile) expected empty tile, got: %v bytes", len(tileData))
	}

	tileData, err = b.ReadTile(tile.ID{X: 5, Y: -7, Z: 1})
	if err != nil {
		t.Fatalf("ReadTile failed: %v", err)
	}
	if got, want := string(tileData), "tile5-71"; got != want {
		t.Errorf("ReadTile = %q, want = %q", got, want)
	}
}
