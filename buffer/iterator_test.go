package buffer_test

import (
	"image"
	"testing"

	"github.com/eak1mov/go-tilebuf/buffer"
	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestIteratorCoverage(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(-64, -64, 64, 64))

	for _, roi := range []image.Rectangle{
		image.Rect(-5, -3, 37, 20),
		image.Rect(0, 0, 16, 8),
		image.Rect(-16, -8, 32, 24),
		image.Rect(3, 3, 4, 4),
	} {
		var rects []image.Rectangle
		area := 0
		it := buffer.NewIterator(b, roi, nil, buffer.Read)
		for it.Next() {
			r := it.Rect(0)
			require.True(t, r.In(roi), "step %v outside %v", r, roi)
			require.Equal(t, r.Dx()*r.Dy(), it.Length())
			require.Len(t, it.Data(0), it.Length())
			for _, prev := range rects {
				require.True(t, prev.Intersect(r).Empty(), "steps %v and %v overlap", prev, r)
			}
			rects = append(rects, r)
			area += it.Length()
		}
		require.Equal(t, roi.Dx()*roi.Dy(), area, "roi %v", roi)
	}
}

func TestIteratorDirectAccess(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	// Full tile rows inside the abyss are exposed in place.
	it := buffer.NewIterator(b, image.Rect(16, 8, 48, 24), nil, buffer.Write)
	steps := 0
	for it.Next() {
		require.True(t, it.Direct(0), "step %v", it.Rect(0))
		require.Equal(t, image.Pt(16, 8), it.Rect(0).Size())
		for i := range it.Data(0) {
			it.Data(0)[i] = 3
		}
		steps++
	}
	require.Equal(t, 4, steps)

	// Partial tile rows go through the pool.
	it = buffer.NewIterator(b, image.Rect(1, 0, 9, 8), nil, buffer.Read)
	for it.Next() {
		require.False(t, it.Direct(0))
	}
	// So does any format conversion.
	it = buffer.NewIterator(b, image.Rect(16, 8, 32, 16), pixfmt.YFloat, buffer.Read)
	for it.Next() {
		require.False(t, it.Direct(0))
	}

	got := make([]byte, 32*16)
	require.NoError(t, b.Get(image.Rect(16, 8, 48, 24), 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(filled(32*16, 3), got); diff != "" {
		t.Errorf("direct write mismatch (-want +got):\n%s", diff)
	}
	require.Zero(t, b.Pool().Stats().BuffersInUse)
}

func TestIteratorScratchPerStep(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	require.NoError(t, b.Set(b.Extent(), nil, pattern(b.Extent()), buffer.AutoRowstride))

	// Both participants share a storage, so neither is accessed in place.
	it := buffer.NewIterator(b, image.Rect(0, 0, 32, 32), nil, buffer.Write)
	read := it.Add(b, image.Rect(32, 32, 64, 64), nil, buffer.Read)
	steps := 0
	for it.Next() {
		steps++
		stats := b.Pool().Stats()
		require.Equal(t, 2, stats.Buffers)
		require.Equal(t, 2, stats.BuffersInUse)
		copy(it.Data(0), it.Data(read))
	}
	require.Equal(t, 8, steps)
	require.Zero(t, b.Pool().Stats().BuffersInUse)

	got := make([]byte, 32*32)
	require.NoError(t, b.Get(image.Rect(0, 0, 32, 32), 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(pattern(image.Rect(32, 32, 64, 64)), got); diff != "" {
		t.Errorf("pooled copy mismatch (-want +got):\n%s", diff)
	}
}

func TestIteratorTwoStorages(t *testing.T) {
	src := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	dst := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	rect := image.Rect(0, 0, 48, 24)
	require.NoError(t, src.Set(rect, nil, pattern(rect), buffer.AutoRowstride))

	// Scan compatible, distinct storages: both sides in place.
	it := buffer.NewIterator(dst, rect.Add(image.Pt(16, 8)), nil, buffer.Write)
	in := it.Add(src, rect, nil, buffer.Read)
	require.Equal(t, 1, in)
	require.Equal(t, 2, it.Participants())
	for it.Next() {
		require.True(t, it.Direct(0))
		require.True(t, it.Direct(in))
		require.Equal(t, it.Rect(0), it.Rect(in).Add(image.Pt(16, 8)))
		copy(it.Data(0), it.Data(in))
	}

	got := make([]byte, 48*24)
	require.NoError(t, dst.Get(rect.Add(image.Pt(16, 8)), 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(pattern(rect), got); diff != "" {
		t.Errorf("copied pixels mismatch (-want +got):\n%s", diff)
	}
}

func TestIteratorFollowsFirstParticipant(t *testing.T) {
	a := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	it := buffer.NewIterator(a, image.Rect(0, 0, 20, 10), nil, buffer.Read)
	// Only the origin of a later participant's rectangle counts.
	other := it.Add(b, image.Rect(3, 1, 4, 2), nil, buffer.Read)
	area := 0
	for it.Next() {
		require.Equal(t, it.Rect(0).Add(image.Pt(3, 1)), it.Rect(other))
		require.Len(t, it.Data(other), it.Length())
		area += it.Length()
	}
	require.Equal(t, 200, area)
}

func TestScanCompatible(t *testing.T) {
	a := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	c := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64), storage.WithTileSize(8, 8))

	require.True(t, buffer.ScanCompatible(a, image.Pt(0, 0), b, image.Pt(16, 8)))
	require.True(t, buffer.ScanCompatible(a, image.Pt(-16, 0), b, image.Pt(16, -8)))
	require.False(t, buffer.ScanCompatible(a, image.Pt(0, 0), b, image.Pt(1, 0)))
	require.False(t, buffer.ScanCompatible(a, image.Pt(0, 0), b, image.Pt(0, 1)))
	require.False(t, buffer.ScanCompatible(a, image.Pt(0, 0), c, image.Pt(0, 0)))

	require.False(t, buffer.ScanCompatible(a, image.Pt(0, 0), b.Shifted(1, 0), image.Pt(0, 0)))
	require.True(t, buffer.ScanCompatible(a, image.Pt(0, 0), b.Shifted(16, 0), image.Pt(0, 0)))
}

func TestIteratorStop(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	it := buffer.NewIterator(b, image.Rect(1, 0, 33, 8), nil, buffer.Write)
	var first image.Rectangle
	for step := range it.Steps() {
		first = step.Rect(0)
		for i := range step.Data(0) {
			step.Data(0)[i] = 8
		}
		break
	}
	require.Equal(t, image.Rect(1, 0, 16, 8), first)
	require.Zero(t, b.Pool().Stats().BuffersInUse)

	got := make([]byte, 32*8)
	require.NoError(t, b.Get(image.Rect(1, 0, 33, 8), 1, nil, got, buffer.AutoRowstride))
	for y := range 8 {
		for x := range 32 {
			want := byte(0)
			if x < 15 {
				want = 8
			}
			require.Equal(t, want, got[y*32+x], "pixel (%d, %d)", x+1, y)
		}
	}

	it.Stop()
	require.Panics(t, func() { it.Next() })
}

func TestIteratorMisuse(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	it := buffer.NewIterator(b, image.Rect(0, 0, 8, 8), nil, buffer.Read)
	for range buffer.MaxParticipants - 1 {
		it.Add(b, image.Rect(0, 0, 8, 8), nil, buffer.Read)
	}
	require.Panics(t, func() { it.Add(b, image.Rect(0, 0, 8, 8), nil, buffer.Read) })
	it.Stop()

	it = buffer.NewIterator(b, image.Rect(0, 0, 8, 8), nil, buffer.Read)
	for it.Next() {
	}
	require.Panics(t, func() { it.Next() })

	require.Panics(t, func() { buffer.NewIterator(b, b.Extent(), nil, buffer.GPURead) })
}

func TestIteratorGPU(t *testing.T) {
	dev := gpu.NewDevice()
	b := newBuffer(t, pixfmt.RGBAFloat, image.Rect(0, 0, 64, 64), storage.WithDevice(dev))
	require.NoError(t, b.Set(b.Extent(), nil, floats(4*64*64, 0.25), buffer.AutoRowstride))

	for _, roi := range []image.Rectangle{
		image.Rect(0, 0, 32, 16),  // whole tiles, in place
		image.Rect(35, 20, 60, 30), // pooled textures
	} {
		it := buffer.NewIterator(b, roi, nil, buffer.GPURead|buffer.GPUWrite)
		for it.Next() {
			tex := it.Texture(0)
			require.NotNil(t, tex)
			require.Nil(t, it.Data(0))
			pix := make([]byte, 16*tex.Width()*tex.Height())
			tex.Get(tex.Bounds(), pix, nil)
			for i := 0; i < len(pix); i += 4 {
				pixfmt.PutFloat32(pix[i:], 1-pixfmt.Float32(pix[i:]))
			}
			tex.Set(tex.Bounds(), pix, nil)
		}

		got := make([]byte, 16*roi.Dx()*roi.Dy())
		require.NoError(t, b.Get(roi, 1, nil, got, buffer.AutoRowstride))
		if diff := cmp.Diff(floats(4*roi.Dx()*roi.Dy(), 0.75), got); diff != "" {
			t.Errorf("roi %v mismatch (-want +got):\n%s", roi, diff)
		}
	}
	require.Zero(t, b.Pool().Stats().TexturesInUse)

	// Pieces of 13 or 12 by 4 or 6 pixels: one pooled texture per size,
	// reused by a later iteration.
	require.Equal(t, 4, b.Pool().Stats().Textures)
	it := buffer.NewIterator(b, image.Rect(35, 20, 60, 30), nil, buffer.GPURead)
	for it.Next() {
		require.Equal(t, gpu.TextureDescriptor(it.Rect(0).Dx(), it.Rect(0).Dy()), it.Texture(0).Descriptor())
	}
	require.Equal(t, 4, b.Pool().Stats().Textures)
}
