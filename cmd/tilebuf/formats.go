package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/storage"
	"github.com/eak1mov/go-tilebuf/swapdb"
	"github.com/eak1mov/go-tilebuf/swapdir"
	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/subcommands"
)

const (
	defaultPixelFormat = "R'G'B'A u8"
	dirPattern         = "{z}/{x}/{y}.tile"
	extentKey          = "extent"
)

func deduceFormat(format, path string) string {
	if format == "" && (strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".swap")) {
		return "swapdb"
	}
	if format == "" {
		return "swapdir"
	}
	return format
}

func openBackend(format, path string, logger *slog.Logger) (tile.Backend, error) {
	switch deduceFormat(format, path) {
	case "swapdb":
		return swapdb.Open(path, swapdb.WithLogger(logger))
	case "swapdir":
		return swapdir.New(filepath.Join(path, dirPattern), swapdir.WithLogger(logger))
	default:
		return nil, fmt.Errorf("invalid store format: %q", format)
	}
}

// storeFlags are the flags shared by commands that open a tile store.
type storeFlags struct {
	format      string
	pixelFormat string
	tileWidth   int
	tileHeight  int
	gpu         bool
}

func (o *storeFlags) setFlags(f *flag.FlagSet) {
	f.StringVar(&o.format, "sf", "", "Store format (swapdb, swapdir); deduced from the path if empty")
	f.StringVar(&o.pixelFormat, "pf", "", "Pixel format of a new store (see formats)")
	f.IntVar(&o.tileWidth, "tw", 0, "Tile width of a new store")
	f.IntVar(&o.tileHeight, "th", 0, "Tile height of a new store")
	f.BoolVar(&o.gpu, "gpu", false, "Mirror tiles into textures")
}

// open opens the store at path. Settings recorded in an existing store win
// over unset flags.
func (o *storeFlags) open(path string, logger *slog.Logger) (*storage.Storage, error) {
	backend, err := openBackend(o.format, path, logger)
	if err != nil {
		return nil, err
	}

	pixelFormat, tileWidth, tileHeight := o.pixelFormat, o.tileWidth, o.tileHeight
	if mb, ok := backend.(tile.MetadataBackend); ok {
		metadata, err := mb.ReadMetadata()
		if err != nil {
			backend.Close()
			return nil, err
		}
		if v, ok := metadata["format"]; ok && pixelFormat == "" {
			pixelFormat = v
		}
		if v, ok := metadata["tile_width"]; ok && tileWidth == 0 {
			tileWidth, _ = strconv.Atoi(v)
		}
		if v, ok := metadata["tile_height"]; ok && tileHeight == 0 {
			tileHeight, _ = strconv.Atoi(v)
		}
	}
	if pixelFormat == "" {
		pixelFormat = defaultPixelFormat
	}

	format, err := pixfmt.Lookup(pixelFormat)
	if err != nil {
		backend.Close()
		return nil, err
	}
	opts := []storage.Option{storage.WithBackend(backend), storage.WithLogger(logger)}
	if tileWidth != 0 || tileHeight != 0 {
		opts = append(opts, storage.WithTileSize(tileWidth, tileHeight))
	}
	if o.gpu {
		opts = append(opts, storage.WithDevice(gpu.NewDevice(gpu.WithLogger(logger))))
	}
	s, err := storage.New(format, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

func parseRect(value string) (image.Rectangle, error) {
	var r image.Rectangle
	if _, err := fmt.Sscanf(value, "%d,%d,%d,%d", &r.Min.X, &r.Min.Y, &r.Max.X, &r.Max.Y); err != nil {
		return image.Rectangle{}, fmt.Errorf("invalid rectangle %q: %w", value, err)
	}
	return r.Canon(), nil
}

func formatRect(r image.Rectangle) string {
	return fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

// readExtent returns the area recorded by previous imports.
func readExtent(s *storage.Storage) (image.Rectangle, error) {
	mb, ok := s.Backend().(tile.MetadataBackend)
	if !ok {
		return image.Rectangle{}, nil
	}
	metadata, err := mb.ReadMetadata()
	if err != nil {
		return image.Rectangle{}, err
	}
	value, ok := metadata[extentKey]
	if !ok {
		return image.Rectangle{}, nil
	}
	return parseRect(value)
}

func writeExtent(s *storage.Storage, extent image.Rectangle) error {
	mb, ok := s.Backend().(tile.MetadataBackend)
	if !ok {
		return nil
	}
	return mb.WriteMetadata(map[string]string{extentKey: formatRect(extent)})
}

// rectOrExtent parses value, falling back to the store extent when empty.
func rectOrExtent(value string, s *storage.Storage) (image.Rectangle, error) {
	if value != "" {
		return parseRect(value)
	}
	extent, err := readExtent(s)
	if err != nil {
		return image.Rectangle{}, err
	}
	if extent.Empty() {
		return image.Rectangle{}, fmt.Errorf("store has no recorded extent, pass -rect")
	}
	return extent, nil
}

type formatsCmd struct{}

func (c *formatsCmd) Name() string             { return "formats" }
func (c *formatsCmd) Synopsis() string         { return "list pixel formats" }
func (c *formatsCmd) Usage() string            { return "tilebuf formats\n" }
func (c *formatsCmd) SetFlags(_ *flag.FlagSet) {}

func (c *formatsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	for _, name := range pixfmt.Names() {
		f, _ := pixfmt.Lookup(name)
		fmt.Printf("%-12s %d bytes/pixel\n", name, f.BytesPerPixel())
	}
	return subcommands.ExitSuccess
}
