package mem_test

import (
	"maps"
	"testing"

	"github.com/eak1mov/go-tilebuf/mem"
	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/go-cmp/cmp"
)

func TestWriteReadDelete(t *testing.T) {
	b := mem.New()
	tiles := map[tile.ID][]byte{
		{X: 0, Y: 0, Z: 0}:   []byte("tile000"),
		{X: -1, Y: 3, Z: 0}:  []byte("tile-130"),
		{X: -5, Y: -5, Z: 2}: []byte("tile-5-52"),
	}
	for tileID, tileData := range tiles {
		if err := b.WriteTile(tileID, tileData); err != nil {
			t.Fatalf("WriteTile(%v) failed: %v", tileID, err)
		}
	}

	if got := maps.Collect(tile.IterTiles(b)); !cmp.Equal(got, tiles) {
		t.Errorf("VisitTiles data mismatch (-want +got):\n%s", cmp.Diff(tiles, got))
	}

	if err := b.DeleteTile(tile.ID{X: -1, Y: 3}); err != nil {
		t.Fatalf("DeleteTile failed: %v", err)
	}
	tileData, err := b.ReadTile(tile.ID{X: -1, Y: 3})
	if err != nil {
		t.Fatalf("ReadTile(deleted tile) failed: %v", err)
	}
	if len(tileData) != 0 {
		t.Errorf("ReadTile(deleted tile) expected empty tile, got: %v bytes", len(tileData))
	}
	if got, want := b.Len(), 2; got != want {
		t.Errorf("Len() = %v, want = %v", got, want)
	}
}

func TestWriteCopiesData(t *testing.T) {
	b := mem.New()
	data := []byte{1, 2, 3}
	if err := b.WriteTile(tile.ID{}, data); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}
	data[0] = 9

	got, _ := b.ReadTile(tile.ID{})
	if diff := cmp.Diff([]byte{1, 2, 3}, got); diff != "" {
		t.Errorf("stored data aliased caller memory (-want +got):\n%s", diff)
	}
}

func TestMetadata(t *testing.T) {
	b := mem.New()
	want := map[string]string{"format": "RGBA float", "tile_width": "64"}
	if err := b.WriteMetadata(want); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}
	got, err := b.ReadMetadata()
	if err != nil {
		t.Fatalf("ReadMetadata failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}
