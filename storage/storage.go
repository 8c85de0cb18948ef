// Package storage provides Storage, the tile.Source every buffer reads and
// writes through: a fixed tile grid in one pixel format, an LRU cache of live
// tiles, a persistence backend and on-demand pyramid levels.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/mem"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/tile"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidTileSize    = errors.New("tilebuf: invalid tile size")
	ErrMetadataMismatch   = errors.New("tilebuf: backend metadata mismatch")
	ErrUnsupportedCommand = errors.New("tilebuf: unsupported storage command")
)

const (
	DefaultTileWidth        = 128
	DefaultTileHeight       = 64
	DefaultCacheSize        = 256
	DefaultFlushConcurrency = 4
)

// Storage implements tile.Source.
type Storage struct {
	format     *pixfmt.Format
	tileWidth  int
	tileHeight int
	backend    tile.Backend
	device     *gpu.Device
	logger     *slog.Logger

	cache            *tileCache
	flushConcurrency int
	seenZoom         atomic.Int64
}

type storageConfig struct {
	TileWidth        int
	TileHeight       int
	Backend          tile.Backend
	CacheSize        int
	Device           *gpu.Device
	Logger           *slog.Logger
	FlushConcurrency int
}

type Option func(*storageConfig)

// WithTileSize sets the tile geometry. Both sides must be positive and even
// so that pyramid levels halve cleanly.
func WithTileSize(width, height int) Option {
	return func(c *storageConfig) {
		c.TileWidth = width
		c.TileHeight = height
	}
}

// WithBackend sets where tiles are persisted. Defaults to a mem.Backend.
// The storage takes ownership and closes it on Close.
func WithBackend(b tile.Backend) Option {
	return func(c *storageConfig) { c.Backend = b }
}

// WithCacheSize sets how many tiles are kept live.
func WithCacheSize(n int) Option {
	return func(c *storageConfig) { c.CacheSize = n }
}

func WithDevice(d *gpu.Device) Option {
	return func(c *storageConfig) { c.Device = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *storageConfig) { c.Logger = logger }
}

// WithFlushConcurrency limits the number of tiles written in parallel by Flush.
func WithFlushConcurrency(n int) Option {
	return func(c *storageConfig) { c.FlushConcurrency = n }
}

// New creates a storage of tiles in format.
//
// If the backend keeps metadata, it must either be empty or describe the
// same format and tile size.
func New(format *pixfmt.Format, opts ...Option) (*Storage, error) {
	config := storageConfig{
		TileWidth:        DefaultTileWidth,
		TileHeight:       DefaultTileHeight,
		CacheSize:        DefaultCacheSize,
		Logger:           slog.New(slog.DiscardHandler),
		FlushConcurrency: DefaultFlushConcurrency,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.TileWidth <= 0 || config.TileHeight <= 0 || config.TileWidth%2 != 0 || config.TileHeight%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTileSize, config.TileWidth, config.TileHeight)
	}
	if config.Backend == nil {
		config.Backend = mem.New()
	}

	s := &Storage{
		format:           format,
		tileWidth:        config.TileWidth,
		tileHeight:       config.TileHeight,
		backend:          config.Backend,
		device:           config.Device,
		logger:           config.Logger,
		cache:            newTileCache(config.CacheSize),
		flushConcurrency: max(1, config.FlushConcurrency),
	}

	if mb, ok := config.Backend.(tile.MetadataBackend); ok {
		if err := s.checkMetadata(mb); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("tilebuf: storage created",
		"format", format, "tile_width", s.tileWidth, "tile_height", s.tileHeight)
	return s, nil
}

func (s *Storage) metadata() map[string]string {
	return map[string]string{
		"format":      s.format.Name(),
		"tile_width":  strconv.Itoa(s.tileWidth),
		"tile_height": strconv.Itoa(s.tileHeight),
	}
}

func (s *Storage) checkMetadata(mb tile.MetadataBackend) error {
	existing, err := mb.ReadMetadata()
	if err != nil {
		return err
	}
	want := s.metadata()
	for k, v := range want {
		if got, ok := existing[k]; ok && got != v {
			return fmt.Errorf("%w: %v is %q, want %q", ErrMetadataMismatch, k, got, v)
		}
	}
	return mb.WriteMetadata(want)
}

func (s *Storage) Format() *pixfmt.Format { return s.format }
func (s *Storage) TileWidth() int         { return s.tileWidth }
func (s *Storage) TileHeight() int        { return s.tileHeight }
func (s *Storage) Device() *gpu.Device    { return s.device }
func (s *Storage) Backend() tile.Backend  { return s.backend }

// SeenZoom returns the highest pyramid level requested so far.
func (s *Storage) SeenZoom() int {
	return int(s.seenZoom.Load())
}

func (s *Storage) noteZoom(z int) {
	for {
		seen := s.seenZoom.Load()
		if int64(z) <= seen || s.seenZoom.CompareAndSwap(seen, int64(z)) {
			return
		}
	}
}

// CacheStats returns cache counters.
func (s *Storage) CacheStats() CacheStats {
	return s.cache.stats()
}

func (s *Storage) newTile(id tile.ID, data []byte) *tile.Tile {
	t := tile.New(s.tileWidth, s.tileHeight, s.format,
		tile.WithID(id), tile.WithStorage(s), tile.WithDevice(s.device), tile.WithData(data))
	// Loaded, zero and generated tiles can all be reproduced without a write.
	t.MarkStored(0)
	return t
}

// GetTile implements tile.Source.
func (s *Storage) GetTile(x, y, z int) (*tile.Tile, error) {
	id := tile.ID{X: x, Y: y, Z: z}
	s.noteZoom(z)

	if t, ok := s.cache.get(id); ok {
		return t, nil
	}

	t, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return s.cache.insert(t), nil
}

func (s *Storage) load(id tile.ID) (*tile.Tile, error) {
	data, err := s.backend.ReadTile(id)
	if err != nil {
		return nil, fmt.Errorf("read tile %v: %w", id, err)
	}
	if len(data) > 0 {
		if want := s.tileWidth * s.tileHeight * s.format.BytesPerPixel(); len(data) != want {
			return nil, fmt.Errorf("%w: tile %v has %d bytes, want %d", tile.ErrSizeMismatch, id, len(data), want)
		}
		return s.newTile(id, data), nil
	}
	if id.Z <= 0 {
		return s.newTile(id, nil), nil
	}
	return s.downsample(id)
}

// SetTile implements tile.Storage: it writes the tile's current pixels to the
// backend and marks that revision stored.
func (s *Storage) SetTile(x, y, z int, t *tile.Tile) error {
	data, rev := t.Snapshot()
	if err := s.backend.WriteTile(tile.ID{X: x, Y: y, Z: z}, data); err != nil {
		return err
	}
	t.MarkStored(rev)
	return nil
}

// Void implements tile.Storage.
func (s *Storage) Void(x, y, z int) {
	id := tile.ID{X: x, Y: y, Z: z}
	if t, ok := s.cache.remove(id); ok {
		t.Void()
		t.Release()
	}
	if err := s.backend.DeleteTile(id); err != nil {
		s.logger.Warn("tilebuf: failed to delete voided tile", "tile", id, "err", err)
	}
}

// Command implements tile.Source. CommandFlush returns nil; CommandExist and
// CommandIsCached return a bool.
func (s *Storage) Command(cmd tile.Command, x, y, z int, data any) (any, error) {
	id := tile.ID{X: x, Y: y, Z: z}
	switch cmd {
	case tile.CommandFlush:
		return nil, s.Flush()
	case tile.CommandIsCached:
		return s.cache.contains(id), nil
	case tile.CommandExist:
		if s.cache.contains(id) {
			return true, nil
		}
		tileData, err := s.backend.ReadTile(id)
		if err != nil {
			return false, err
		}
		return len(tileData) > 0, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCommand, cmd)
	}
}

// Flush persists every dirty cached tile, then flushes the backend.
func (s *Storage) Flush() error {
	tiles := s.cache.snapshot()

	var g errgroup.Group
	g.SetLimit(s.flushConcurrency)
	for _, t := range tiles {
		g.Go(func() error {
			defer t.Release()
			if t.IsStored() {
				return nil
			}
			id := t.ID()
			if err := s.SetTile(id.X, id.Y, id.Z, t); err != nil {
				return fmt.Errorf("store tile %v: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Debug("tilebuf: storage flushed", "tiles", len(tiles))
	return s.backend.Flush()
}

// Close flushes, drops every cached tile and closes the backend. Tiles still
// referenced elsewhere stay usable but are no longer persisted.
func (s *Storage) Close() error {
	flushErr := s.Flush()
	for _, t := range s.cache.drain() {
		t.Release()
	}
	return errors.Join(flushErr, s.backend.Close())
}
