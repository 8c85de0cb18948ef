package tile

import (
	"strings"
	"sync/atomic"
)

// LockMode is the set of accesses a lock opens.
type LockMode uint8

const (
	LockRead LockMode = 1 << iota
	LockWrite
	LockGPURead
	LockGPUWrite

	LockNone      LockMode = 0
	LockReadWrite          = LockRead | LockWrite
	LockGPUAll             = LockGPURead | LockGPUWrite
	LockAll                = LockReadWrite | LockGPUAll
)

const writeModes = LockWrite | LockGPUWrite

func (m LockMode) String() string {
	if m == LockNone {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		bit  LockMode
		name string
	}{
		{LockRead, "read"},
		{LockWrite, "write"},
		{LockGPURead, "gpu-read"},
		{LockGPUWrite, "gpu-write"},
	} {
		if m&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// revisions tracks the CPU and GPU copies of a tile and the revision last
// committed to the storage. The side with the higher revision holds the
// authoritative pixels.
type revisions struct {
	cpu    atomic.Uint64
	gpu    atomic.Uint64
	stored atomic.Uint64
}

func (r *revisions) latest() uint64 {
	return max(r.cpu.Load(), r.gpu.Load())
}

// bump moves the written sides past both counters.
func (r *revisions) bump(cpu, gpu bool) {
	next := r.latest() + 1
	if cpu {
		r.cpu.Store(next)
	}
	if gpu {
		r.gpu.Store(next)
	}
}

// ensureCPUFresh downloads the texture when the GPU copy is newer.
// Called with t.mu held.
func (t *Tile) ensureCPUFresh() {
	tex := t.block.texture
	if tex == nil {
		return
	}
	if gpuRev := t.revs.gpu.Load(); gpuRev > t.revs.cpu.Load() {
		tex.Get(tex.Bounds(), t.block.data, t.format)
		t.revs.cpu.Store(gpuRev)
	}
}

// ensureGPUFresh uploads the CPU pixels when they are newer.
// Called with t.mu held.
func (t *Tile) ensureGPUFresh() {
	tex := t.block.texture
	if tex == nil {
		return
	}
	if cpuRev := t.revs.cpu.Load(); cpuRev > t.revs.gpu.Load() {
		tex.Set(tex.Bounds(), t.block.data, t.format)
		t.revs.gpu.Store(cpuRev)
	}
}

// LockMode returns the accesses currently open on the tile.
func (t *Tile) LockMode() LockMode {
	return LockMode(t.lockMode.Load())
}

// Lock opens the tile for mode and holds the tile mutex until Unlock.
//
// Write access detaches the tile from its copy-on-write group first. CPU
// access refreshes stale CPU pixels from the texture; GPU access refreshes
// a stale texture.
func (t *Tile) Lock(mode LockMode) {
	if mode == LockNone {
		logger().Warn("tilebuf: tile locked without access mode", "tile", t.id)
	}

	t.mu.Lock()
	// Counters left open by an unbalanced Unlock of the other intent.
	if (mode&writeModes != 0 && t.readLocks != 0) || (mode&writeModes == 0 && t.writeLocks != 0) {
		logger().Warn("tilebuf: tile locked with conflicting intent",
			"tile", t.id, "read", t.readLocks, "write", t.writeLocks, "requested", mode)
	}
	if mode&writeModes != 0 {
		t.unclone()
		t.writeLocks++
	}
	if mode&(LockRead|LockGPURead) != 0 {
		t.readLocks++
	}
	if mode&LockReadWrite != 0 {
		t.ensureCPUFresh()
	}
	if mode&LockGPUAll != 0 {
		t.ensureGPUFresh()
	}
	t.lockMode.Store(uint32(mode))
}

// Unlock closes the accesses opened by Lock. Closing the last write access
// bumps the written side's revision, and for level-0 tiles voids the
// pyramid above.
func (t *Tile) Unlock() {
	mode := t.LockMode()
	if mode == LockNone {
		logger().Warn("tilebuf: unlocked a tile that was not locked", "tile", t.id)
		return
	}

	written := false
	if mode&(LockRead|LockGPURead) != 0 {
		t.readLocks--
	}
	if mode&writeModes != 0 {
		t.writeLocks--
		if t.writeLocks == 0 {
			t.revs.bump(mode&LockWrite != 0, mode&LockGPUWrite != 0)
			written = true
		}
	}
	if t.readLocks < 0 || t.writeLocks < 0 {
		logger().Warn("tilebuf: strange tile lock count",
			"tile", t.id, "read", t.readLocks, "write", t.writeLocks)
	}
	t.lockMode.Store(uint32(LockNone))
	t.mu.Unlock()

	if written && t.id.Z == 0 && !t.detached.Load() {
		t.voidPyramid()
	}
}
