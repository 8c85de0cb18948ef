// Package buffer provides Buffer, a rectangular view of pixels over a tile
// source, and Iterator, which walks several buffers in lock-step.
//
// Coordinates are buffer-local pixels. A buffer's shift translates them into
// the tile grid of its source, so views created with Sub and Shifted share
// tiles with the buffer they came from.
package buffer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/tile"
)

var (
	ErrIncompatibleFormat = errors.New("tilebuf: incompatible pixel format")
	ErrShortBuffer        = errors.New("tilebuf: pixel buffer too small")
	ErrNoDevice           = errors.New("tilebuf: buffer has no accelerated device")
	ErrInvalidScale       = errors.New("tilebuf: scale must be positive")
)

// AutoRowstride selects a rowstride of exactly one row of pixels.
const AutoRowstride = 0

// accessMu serializes the exported single-call accessors (Get, Set, Sample
// and friends) across all buffers. Iterators do not hold it between steps.
var accessMu sync.Mutex

// Source is the tile store a buffer reads and writes through.
type Source interface {
	tile.Source

	TileWidth() int
	TileHeight() int
	Format() *pixfmt.Format
	Device() *gpu.Device
}

// Buffer is a view of pixels over a Source.
type Buffer struct {
	source     Source
	format     *pixfmt.Format
	extent     image.Rectangle
	abyss      image.Rectangle
	shift      image.Point
	tileWidth  int
	tileHeight int
	pool       *Pool
	logger     *slog.Logger

	hot     *tile.Tile // guarded by accessMu
	sampler *sampler   // guarded by accessMu
}

type bufferConfig struct {
	Pool   *Pool
	Logger *slog.Logger
}

type Option func(*bufferConfig)

// WithPool sets the scratch pool used by iterators over the buffer and every
// view derived from it.
func WithPool(p *Pool) Option {
	return func(c *bufferConfig) { c.Pool = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *bufferConfig) { c.Logger = logger }
}

// New creates a buffer over src claiming extent. The whole extent is backed.
func New(src Source, extent image.Rectangle, opts ...Option) *Buffer {
	config := bufferConfig{
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Pool == nil {
		config.Pool = NewPool()
	}
	return &Buffer{
		source:     src,
		format:     src.Format(),
		extent:     extent,
		abyss:      extent,
		tileWidth:  src.TileWidth(),
		tileHeight: src.TileHeight(),
		pool:       config.Pool,
		logger:     config.Logger,
	}
}

func (b *Buffer) Source() Source          { return b.source }
func (b *Buffer) Format() *pixfmt.Format  { return b.format }
func (b *Buffer) Extent() image.Rectangle { return b.extent }
func (b *Buffer) Abyss() image.Rectangle  { return b.abyss }
func (b *Buffer) Shift() image.Point      { return b.shift }
func (b *Buffer) TileSize() (w, h int)    { return b.tileWidth, b.tileHeight }
func (b *Buffer) Pool() *Pool             { return b.pool }
func (b *Buffer) Device() *gpu.Device     { return b.source.Device() }

// orExtent maps the zero rectangle to the extent.
func (b *Buffer) orExtent(rect image.Rectangle) image.Rectangle {
	if rect == (image.Rectangle{}) {
		return b.extent
	}
	return rect
}

func (b *Buffer) inAbyss(x, y int) bool {
	return !image.Pt(x, y).In(b.abyss)
}

func (b *Buffer) view(extent, abyss image.Rectangle, shift image.Point) *Buffer {
	return &Buffer{
		source:     b.source,
		format:     b.format,
		extent:     extent,
		abyss:      abyss,
		shift:      shift,
		tileWidth:  b.tileWidth,
		tileHeight: b.tileHeight,
		pool:       b.pool,
		logger:     b.logger,
	}
}

// Sub returns a view of rect. Only the part of rect inside b's abyss is
// backed.
func (b *Buffer) Sub(rect image.Rectangle) *Buffer {
	return b.view(rect, rect.Intersect(b.abyss), b.shift)
}

// Shifted returns a view in which the pixel at (x, y) of b appears at
// (x-dx, y-dy).
func (b *Buffer) Shifted(dx, dy int) *Buffer {
	d := image.Pt(dx, dy)
	return b.view(b.extent.Sub(d), b.abyss.Sub(d), b.shift.Add(d))
}

// SetFormat reinterprets the buffer's pixels as format. Both formats must
// have the same pixel size.
func (b *Buffer) SetFormat(format *pixfmt.Format) error {
	if format.BytesPerPixel() != b.format.BytesPerPixel() {
		return fmt.Errorf("%w: cannot cast %v to %v", ErrIncompatibleFormat, b.format, format)
	}
	accessMu.Lock()
	defer accessMu.Unlock()
	b.format = format
	b.sampler = nil
	return nil
}

func (b *Buffer) releaseHot() {
	if b.hot != nil {
		b.hot.Release()
		b.hot = nil
	}
}

// Flush drops the hot tile and asks the source to persist dirty tiles.
func (b *Buffer) Flush() error {
	accessMu.Lock()
	b.releaseHot()
	accessMu.Unlock()

	_, err := b.source.Command(tile.CommandFlush, 0, 0, 0, nil)
	return err
}

// Close releases the hot tile and the sampler. The source is left alone.
func (b *Buffer) Close() {
	accessMu.Lock()
	defer accessMu.Unlock()
	b.releaseHot()
	b.sampler = nil
}
