package tile

import (
	"sync"
	"sync/atomic"

	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
)

var tileSeq atomic.Uint64

// Tile is a width x height block of pixels with an optional GPU mirror.
//
// A Tile is reference counted: whoever obtained it from New, Dup, Ref or a
// Source owns one reference and must call Release exactly once. Pixel
// memory is only valid between Lock and Unlock.
type Tile struct {
	mu sync.Mutex

	id       ID
	width    int
	height   int
	format   *pixfmt.Format
	storage  Storage
	device   *gpu.Device
	seq      uint64
	detached atomic.Bool

	block *block // guarded by mu
	revs  revisions

	readLocks  int // guarded by mu
	writeLocks int // guarded by mu
	lockMode   atomic.Uint32

	refs atomic.Int32
}

type tileConfig struct {
	ID      ID
	Storage Storage
	Device  *gpu.Device
	Data    []byte
}

type Option func(*tileConfig)

// WithID sets the grid coordinates the tile reports and stores under.
func WithID(id ID) Option {
	return func(c *tileConfig) { c.ID = id }
}

// WithStorage sets the store the tile persists itself to and drives
// pyramid invalidation through.
func WithStorage(s Storage) Option {
	return func(c *tileConfig) { c.Storage = s }
}

// WithDevice gives the tile a GPU mirror when the device is accelerated.
func WithDevice(d *gpu.Device) Option {
	return func(c *tileConfig) { c.Device = d }
}

// WithData initializes the pixels of a new tile from a copy of data, on
// both the CPU and the GPU side. Short data leaves the rest zeroed.
func WithData(data []byte) Option {
	return func(c *tileConfig) { c.Data = data }
}

// New allocates an unshared tile, zeroed unless WithData is given. A new
// tile is not stored.
func New(width, height int, format *pixfmt.Format, opts ...Option) *Tile {
	var config tileConfig
	for _, opt := range opts {
		opt(&config)
	}

	var texture *gpu.Texture
	if config.Device.Accelerated() {
		texture = config.Device.NewTexture(width, height)
	}

	t := &Tile{
		id:      config.ID,
		width:   width,
		height:  height,
		format:  format,
		storage: config.Storage,
		device:  config.Device,
		seq:     tileSeq.Add(1),
		block:   newBlock(width*height*format.BytesPerPixel(), texture),
	}
	if config.Data != nil {
		copy(t.block.data, config.Data)
		if texture != nil {
			texture.Set(texture.Bounds(), t.block.data, format)
		}
	}
	t.revs.stored.Store(1)
	t.refs.Store(1)
	return t
}

func (t *Tile) ID() ID                 { return t.id }
func (t *Tile) Width() int             { return t.width }
func (t *Tile) Height() int            { return t.height }
func (t *Tile) Format() *pixfmt.Format { return t.format }
func (t *Tile) Device() *gpu.Device    { return t.device }

// Size is the byte size of the tile's pixel memory.
func (t *Tile) Size() int {
	return t.width * t.height * t.format.BytesPerPixel()
}

// Data returns the CPU pixels, rows of Width pixels. Valid while locked.
func (t *Tile) Data() []byte {
	return t.block.data
}

// Texture returns the GPU mirror or nil. Valid while locked.
func (t *Tile) Texture() *gpu.Texture {
	return t.block.texture
}

// Rev, GPURev and StoredRev expose the revision counters.
func (t *Tile) Rev() uint64       { return t.revs.cpu.Load() }
func (t *Tile) GPURev() uint64    { return t.revs.gpu.Load() }
func (t *Tile) StoredRev() uint64 { return t.revs.stored.Load() }

// Ref adds a reference and returns t.
func (t *Tile) Ref() *Tile {
	t.refs.Add(1)
	return t
}

// Shared reports whether more than one reference is live.
func (t *Tile) Shared() bool {
	return t.refs.Load() > 1
}

// Release drops a reference. Releasing the last one stores a dirty tile
// and leaves its copy-on-write group.
func (t *Tile) Release() {
	n := t.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		logger().Warn("tilebuf: tile released too many times", "tile", t.id)
		return
	}
	if !t.IsStored() {
		t.Store()
	}
	t.mu.Lock()
	t.block.release()
	t.block = nil
	t.mu.Unlock()
}

// IsStored reports whether the latest revision has been committed.
func (t *Tile) IsStored() bool {
	return t.revs.stored.Load() == t.revs.latest()
}

// Store asks the owning storage to persist the tile. It is a no-op for a
// stored tile and reports whether the tile is stored afterwards.
func (t *Tile) Store() bool {
	if t.IsStored() {
		return true
	}
	if t.storage == nil || t.detached.Load() {
		return false
	}
	if err := t.storage.SetTile(t.id.X, t.id.Y, t.id.Z, t); err != nil {
		logger().Warn("tilebuf: failed to store tile", "tile", t.id, "err", err)
		return false
	}
	return t.IsStored()
}

// MarkStored records rev as committed. Storages call it after persisting
// the bytes returned by Snapshot.
func (t *Tile) MarkStored(rev uint64) {
	t.revs.stored.Store(rev)
}

// Snapshot copies the CPU pixels and returns them with the revision they
// represent.
func (t *Tile) Snapshot() ([]byte, uint64) {
	t.Lock(LockRead)
	data := make([]byte, len(t.block.data))
	copy(data, t.block.data)
	rev := t.revs.latest()
	t.Unlock()
	return data, rev
}

// Void marks the current revision as stored without writing it back and
// detaches the tile from its storage. Voiding a level-0 tile voids its
// pyramid ancestors.
func (t *Tile) Void() {
	t.revs.stored.Store(t.revs.latest())
	if t.detached.Swap(true) {
		return
	}
	if t.id.Z == 0 {
		t.voidPyramid()
	}
}

// voidPyramid drops the mip tiles derived from t, up to the highest level
// the storage has materialized.
func (t *Tile) voidPyramid() {
	if t.storage == nil {
		return
	}
	seen := t.storage.SeenZoom()
	id := t.id
	for id.Z < seen {
		id = id.Parent()
		t.storage.Void(id.X, id.Y, id.Z)
	}
}
