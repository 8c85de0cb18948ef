package buffer

import (
	"sync"

	"github.com/eak1mov/go-tilebuf/gpu"
)

// Pool keeps the scratch pixel buffers and textures iterators use for
// participants they cannot access in place. Entries are reused across
// iterators and steps. A Pool is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	buffers  []*pooledBuffer
	textures []*pooledTexture
}

type pooledBuffer struct {
	buf  []byte
	used bool
}

type pooledTexture struct {
	tex  *gpu.Texture
	used bool
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Buffers       int
	BuffersInUse  int
	Textures      int
	TexturesInUse int
}

func NewPool() *Pool {
	return &Pool{}
}

// buffer returns an unused scratch buffer of at least size bytes.
func (p *Pool) buffer(size int) *pooledBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.buffers {
		if !e.used && len(e.buf) >= size {
			e.used = true
			return e
		}
	}
	e := &pooledBuffer{buf: make([]byte, size), used: true}
	p.buffers = append(p.buffers, e)
	return e
}

func (p *Pool) putBuffer(e *pooledBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.used = false
}

// texture returns an unused texture of dev matching desc.
func (p *Pool) texture(dev *gpu.Device, desc gpu.Descriptor) (*pooledTexture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.textures {
		if !e.used && e.tex.Device() == dev && e.tex.Descriptor() == desc {
			e.used = true
			return e, nil
		}
	}
	tex, err := dev.CreateTexture(desc)
	if err != nil {
		return nil, err
	}
	e := &pooledTexture{tex: tex, used: true}
	p.textures = append(p.textures, e)
	return e, nil
}

func (p *Pool) putTexture(e *pooledTexture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.used = false
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{Buffers: len(p.buffers), Textures: len(p.textures)}
	for _, e := range p.buffers {
		if e.used {
			s.BuffersInUse++
		}
	}
	for _, e := range p.textures {
		if e.used {
			s.TexturesInUse++
		}
	}
	return s
}

// Close drops every unused entry and frees its texture. Entries still held
// by a running iterator are kept.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	buffers := p.buffers[:0]
	for _, e := range p.buffers {
		if e.used {
			buffers = append(buffers, e)
		}
	}
	p.buffers = buffers

	textures := p.textures[:0]
	for _, e := range p.textures {
		if e.used {
			textures = append(textures, e)
		} else {
			e.tex.Free()
		}
	}
	p.textures = textures
}
