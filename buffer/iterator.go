package buffer

import (
	"fmt"
	"image"
	"iter"

	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/tile"
)

// Flags select how an iterator participant is accessed.
type Flags uint8

const (
	Read Flags = 1 << iota
	Write
	GPURead
	GPUWrite

	ReadWrite = Read | Write
)

func (f Flags) cpu() bool { return f&ReadWrite != 0 }
func (f Flags) gpu() bool { return f&(GPURead|GPUWrite) != 0 }

func (f Flags) lockMode() tile.LockMode {
	var mode tile.LockMode
	if f&Read != 0 {
		mode |= tile.LockRead
	}
	if f&Write != 0 {
		mode |= tile.LockWrite
	}
	if f&GPURead != 0 {
		mode |= tile.LockGPURead
	}
	if f&GPUWrite != 0 {
		mode |= tile.LockGPUWrite
	}
	return mode
}

// MaxParticipants is the number of buffers one Iterator can walk.
const MaxParticipants = 6

// ScanCompatible reports whether walking a from pa and b from pb with the
// same size would cross tile boundaries at the same steps.
func ScanCompatible(a *Buffer, pa image.Point, b *Buffer, pb image.Point) bool {
	if a.tileWidth != b.tileWidth || a.tileHeight != b.tileHeight {
		return false
	}
	d := pa.Add(a.shift).Sub(pb.Add(b.shift))
	return d.X%a.tileWidth == 0 && d.Y%a.tileHeight == 0
}

type participant struct {
	buffer   *Buffer
	rect     image.Rectangle
	format   *pixfmt.Format
	flags    Flags
	cursor   *cursor // nil unless scan compatible with participant 0
	directOK bool

	roi     image.Rectangle
	direct  bool
	data    []byte
	texture *gpu.Texture

	scratch    *pooledBuffer
	scratchTex *pooledTexture
}

// Iterator walks up to MaxParticipants buffers in lock-step, one tile-sized
// piece at a time.
//
// Participant 0 defines the rectangle and the pieces; later participants
// visit pieces of the same size at the same offset from their own origin.
// Each step exposes a piece's pixels either in place, straight from the
// locked tile, or through a pooled scratch buffer that is filled on read and
// written back on the following Next. Data and textures returned for a step
// are valid until the next call to Next or Stop.
type Iterator struct {
	parts  []*participant
	pool   *Pool
	length int
	steps  int
	done   bool
}

// NewIterator starts an iterator over roi of b, accessed in format (the
// buffer format if nil) according to flags. The zero roi means the extent.
func NewIterator(b *Buffer, roi image.Rectangle, format *pixfmt.Format, flags Flags) *Iterator {
	it := &Iterator{pool: b.pool}
	it.Add(b, roi, format, flags)
	return it
}

// Add registers a participant and returns its index. Only the origin of roi
// matters for participants after the first; their size is that of
// participant 0. Adding more than MaxParticipants panics.
func (it *Iterator) Add(b *Buffer, roi image.Rectangle, format *pixfmt.Format, flags Flags) int {
	if len(it.parts) >= MaxParticipants {
		panic(fmt.Sprintf("buffer: too many iterator participants (%d)", len(it.parts)+1))
	}
	if it.steps > 0 || it.done {
		panic("buffer: Add called on a started iterator")
	}
	if flags.gpu() && !b.Device().Accelerated() {
		panic("buffer: GPU access requested without an accelerated device")
	}
	if format == nil {
		format = b.format
	}
	roi = b.orExtent(roi)

	self := len(it.parts)
	if self > 0 {
		roi = image.Rectangle{Min: roi.Min, Max: roi.Min.Add(it.parts[0].rect.Size())}
	}
	p := &participant{
		buffer: b.Sub(roi),
		rect:   roi,
		format: format,
		flags:  flags,
	}
	if self == 0 || ScanCompatible(it.parts[0].buffer, it.parts[0].rect.Min, p.buffer, roi.Min) {
		p.cursor = newCursor(p.buffer, roi, flags.lockMode())
	}
	it.parts = append(it.parts, p)
	return self
}

// prepare decides which participants may be accessed in place. Tile locks
// are not reentrant, so participants sharing a source never lock tiles
// across a step.
func (it *Iterator) prepare() {
	for i, p := range it.parts {
		p.directOK = p.cursor != nil && p.format == p.buffer.format
		for j, q := range it.parts {
			if i != j && q.buffer.source == p.buffer.source {
				p.directOK = false
			}
		}
	}
}

// Next flushes the previous step and advances to the next one. It returns
// false, releasing everything, once the rectangle is exhausted; calling it
// again after that panics.
func (it *Iterator) Next() bool {
	if it.done {
		panic("buffer: Next called on finished iterator")
	}
	if it.steps == 0 {
		it.prepare()
	} else {
		it.flush()
	}
	it.steps++

	result := false
	for no, p := range it.parts {
		if p.cursor != nil {
			ok := p.cursor.next()
			if no == 0 {
				result = ok
			} else if ok != result {
				panic(fmt.Sprintf("buffer: participant %d out of step with participant 0", no))
			}
			if !ok {
				continue
			}
			p.roi = p.cursor.step
			if it.accessDirect(p) {
				continue
			}
		} else {
			if !result {
				continue
			}
			p.roi = it.parts[0].roi.Add(p.rect.Min.Sub(it.parts[0].rect.Min))
		}
		it.accessPooled(p)
	}

	if !result {
		it.finish()
		return false
	}
	it.length = it.parts[0].roi.Dx() * it.parts[0].roi.Dy()
	return true
}

func (it *Iterator) accessDirect(p *participant) bool {
	c := p.cursor
	b := p.buffer
	if !p.directOK || c.subrect.Dx() != b.tileWidth || !p.roi.In(b.abyss) {
		return false
	}
	if p.flags.gpu() && c.subrect.Dy() != b.tileHeight {
		return false
	}

	t, err := c.lock()
	if err != nil {
		b.logger.Warn("tilebuf: didn't get tile for direct access", "tile", c.id, "err", err)
		return false
	}
	p.direct = true
	p.data, p.texture = nil, nil
	if p.flags.cpu() {
		rowBytes := b.tileWidth * b.format.BytesPerPixel()
		start := c.subrect.Min.Y * rowBytes
		p.data = t.Data()[start : start+c.subrect.Dy()*rowBytes]
	}
	if p.flags.gpu() {
		p.texture = t.Texture()
	}
	return true
}

func (it *Iterator) accessPooled(p *participant) {
	p.direct = false
	p.data, p.texture = nil, nil
	w, h := p.roi.Dx(), p.roi.Dy()

	if p.flags.cpu() {
		if p.scratch == nil {
			base := it.parts[0].buffer
			p.scratch = it.pool.buffer(base.tileWidth * base.tileHeight * p.format.BytesPerPixel())
		}
		p.data = p.scratch.buf[:w*h*p.format.BytesPerPixel()]
		if p.flags&Read != 0 {
			p.buffer.get(p.roi, 1, p.format, p.data, AutoRowstride)
		}
	}
	if p.flags.gpu() {
		e, err := it.pool.texture(p.buffer.Device(), gpu.TextureDescriptor(w, h))
		if err != nil {
			p.buffer.logger.Warn("tilebuf: no scratch texture", "rect", p.roi, "err", err)
			return
		}
		p.scratchTex = e
		p.texture = e.tex
		if p.flags&GPURead != 0 {
			if err := p.buffer.gpuIterate(p.roi, p.texture, false); err != nil {
				p.buffer.logger.Warn("tilebuf: texture read failed", "rect", p.roi, "err", err)
			}
		}
	}
}

// flush writes back the pooled pieces of the previous step, returns their
// scratch memory to the pool and releases the tiles accessed in place.
func (it *Iterator) flush() {
	for _, p := range it.parts {
		if p.direct {
			p.cursor.release()
			p.direct = false
			continue
		}
		if p.flags&Write != 0 && p.data != nil {
			p.buffer.set(p.roi, p.format, p.data, AutoRowstride)
		}
		if p.flags&GPUWrite != 0 && p.texture != nil {
			if err := p.buffer.gpuIterate(p.roi, p.texture, true); err != nil {
				p.buffer.logger.Warn("tilebuf: texture write failed", "rect", p.roi, "err", err)
			}
		}
		if p.scratch != nil {
			it.pool.putBuffer(p.scratch)
			p.scratch = nil
		}
		if p.scratchTex != nil {
			it.pool.putTexture(p.scratchTex)
			p.scratchTex = nil
		}
		p.data, p.texture = nil, nil
	}
}

func (it *Iterator) finish() {
	for _, p := range it.parts {
		if p.cursor != nil {
			p.cursor.release()
		}
		if p.scratch != nil {
			it.pool.putBuffer(p.scratch)
			p.scratch = nil
		}
		if p.scratchTex != nil {
			it.pool.putTexture(p.scratchTex)
			p.scratchTex = nil
		}
		p.data, p.texture = nil, nil
		p.buffer.releaseHot()
	}
	it.done = true
}

// Stop ends the iteration early, writing back the current step. It is a
// no-op on a finished iterator.
func (it *Iterator) Stop() {
	if it.done {
		return
	}
	if it.steps > 0 {
		it.flush()
	}
	it.finish()
}

// Steps adapts the iterator to a range loop. Breaking out of the loop stops
// the iterator.
func (it *Iterator) Steps() iter.Seq[*Iterator] {
	return func(yield func(*Iterator) bool) {
		for it.Next() {
			if !yield(it) {
				it.Stop()
				return
			}
		}
	}
}

// Length is the number of pixels in the current step.
func (it *Iterator) Length() int { return it.length }

// Participants returns the number of registered buffers.
func (it *Iterator) Participants() int { return len(it.parts) }

// Data returns the current step's pixels of participant i, rows packed
// without padding. It is nil for GPU-only participants.
func (it *Iterator) Data(i int) []byte { return it.parts[i].data }

// Texture returns the current step's texture of participant i, or nil when
// the participant has no GPU access. A texture accessed in place is the
// tile's texture and covers exactly Rect(i).
func (it *Iterator) Texture(i int) *gpu.Texture { return it.parts[i].texture }

// Rect returns the current step's rectangle of participant i.
func (it *Iterator) Rect(i int) image.Rectangle { return it.parts[i].roi }

// Direct reports whether participant i is accessed in place this step.
func (it *Iterator) Direct(i int) bool { return it.parts[i].direct }
