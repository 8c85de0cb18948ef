package tile

import (
	"fmt"
	"sync/atomic"

	"github.com/eak1mov/go-tilebuf/gpu"
)

// block is pixel memory shared by the tiles of one copy-on-write group.
// refs is the group size.
type block struct {
	data    []byte
	texture *gpu.Texture
	refs    atomic.Int32
}

func newBlock(size int, texture *gpu.Texture) *block {
	b := &block{data: make([]byte, size), texture: texture}
	b.refs.Store(1)
	return b
}

func (b *block) share() *block {
	b.refs.Add(1)
	return b
}

func (b *block) release() {
	if b.refs.Add(-1) == 0 && b.texture != nil {
		b.texture.Free()
	}
}

func (b *block) clone() *block {
	var texture *gpu.Texture
	if b.texture != nil {
		texture = b.texture.Dup()
	}
	nb := newBlock(len(b.data), texture)
	copy(nb.data, b.data)
	return nb
}

// unclone gives t a private block if it shares one. Called with t.mu held.
func (t *Tile) unclone() {
	if t.block.refs.Load() <= 1 {
		return
	}
	nb := t.block.clone()
	t.block.release()
	t.block = nb
}

// sync makes the CPU and GPU copies equal, taking the newer one.
// Called with t.mu held.
func (t *Tile) sync() {
	t.ensureCPUFresh()
	t.ensureGPUFresh()
}

// Dup returns a tile sharing t's pixels. The copy starts out stored and
// detaches from the group on its first write, as does t.
func (t *Tile) Dup() *Tile {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sync()
	d := &Tile{
		id:      t.id,
		width:   t.width,
		height:  t.height,
		format:  t.format,
		storage: t.storage,
		device:  t.device,
		seq:     tileSeq.Add(1),
		block:   t.block.share(),
	}
	d.revs.cpu.Store(1)
	if d.block.texture != nil {
		d.revs.gpu.Store(1)
	}
	d.revs.stored.Store(1)
	d.refs.Store(1)
	return d
}

// GroupSize returns the number of tiles sharing t's pixels.
func (t *Tile) GroupSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.block.refs.Load())
}

// SharesData reports whether t and other use the same pixel memory.
func (t *Tile) SharesData(other *Tile) bool {
	if t == other {
		return true
	}
	unlock := lockPair(t, other)
	defer unlock()
	return t.block == other.block
}

// lockPair takes both tile mutexes in creation order.
func lockPair(a, b *Tile) func() {
	if b.seq < a.seq {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	return func() {
		b.mu.Unlock()
		a.mu.Unlock()
	}
}

func checkCompatible(a, b *Tile) error {
	if a.width != b.width || a.height != b.height || a.format.BytesPerPixel() != b.format.BytesPerPixel() {
		return fmt.Errorf("%w: %dx%d %v and %dx%d %v", ErrSizeMismatch,
			a.width, a.height, a.format, b.width, b.height, b.format)
	}
	return nil
}

// Swap exchanges the pixels of a and b. Both tiles count as written.
func Swap(a, b *Tile) error {
	if a == b {
		return nil
	}
	if err := checkCompatible(a, b); err != nil {
		return err
	}

	unlock := lockPair(a, b)
	for _, t := range []*Tile{a, b} {
		t.unclone()
		t.sync()
	}
	a.block, b.block = b.block, a.block
	a.revs.bump(true, a.block.texture != nil)
	b.revs.bump(true, b.block.texture != nil)
	unlock()

	for _, t := range []*Tile{a, b} {
		if t.id.Z == 0 && !t.detached.Load() {
			t.voidPyramid()
		}
	}
	return nil
}

// Copy makes dst share src's pixels, joining src's copy-on-write group.
func Copy(src, dst *Tile) error {
	if src == dst {
		return nil
	}
	if err := checkCompatible(src, dst); err != nil {
		return err
	}

	unlock := lockPair(src, dst)
	src.sync()
	dst.block.release()
	dst.block = src.block.share()
	dst.revs.bump(true, dst.block.texture != nil)
	unlock()

	if dst.id.Z == 0 && !dst.detached.Load() {
		dst.voidPyramid()
	}
	return nil
}
