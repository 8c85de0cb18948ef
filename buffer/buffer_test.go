package buffer_test

import (
	"errors"
	"image"
	"testing"

	"github.com/eak1mov/go-tilebuf/buffer"
	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/eak1mov/go-tilebuf/storage"
	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T, format *pixfmt.Format, opts ...storage.Option) *storage.Storage {
	t.Helper()
	opts = append([]storage.Option{storage.WithTileSize(16, 8)}, opts...)
	s, err := storage.New(format, opts...)
	if err != nil {
		t.Fatalf("storage.New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newBuffer(t *testing.T, format *pixfmt.Format, extent image.Rectangle, opts ...storage.Option) *buffer.Buffer {
	t.Helper()
	b := buffer.New(newStorage(t, format, opts...), extent)
	t.Cleanup(b.Close)
	return b
}

func filled(n int, value byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = value
	}
	return b
}

// pattern returns Y u8 pixels of rect whose values depend on the position.
func pattern(rect image.Rectangle) []byte {
	pix := make([]byte, 0, rect.Dx()*rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			pix = append(pix, byte(x*7+y*13))
		}
	}
	return pix
}

func floats(n int, value float32) []byte {
	b := make([]byte, 4*n)
	for i := range n {
		pixfmt.PutFloat32(b[4*i:], value)
	}
	return b
}

func TestAbyssClamping(t *testing.T) {
	s := newStorage(t, pixfmt.YU8)
	b := buffer.New(s, image.Rect(0, 0, 100, 100))
	defer b.Close()

	require.NoError(t, b.Set(b.Extent(), nil, filled(100*100, 7), buffer.AutoRowstride))

	rect := image.Rect(-10, -10, 20, 20)
	got := make([]byte, 30*30)
	require.NoError(t, b.Get(rect, 1, nil, got, buffer.AutoRowstride))
	want := make([]byte, 30*30)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if x >= 0 && y >= 0 {
				want[(y-rect.Min.Y)*30+x-rect.Min.X] = 7
			}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get across the abyss mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, b.Set(rect, nil, filled(30*30, 9), buffer.AutoRowstride))

	wide := buffer.New(s, image.Rect(-20, -20, 120, 120))
	defer wide.Close()
	require.NoError(t, wide.Get(rect, 1, nil, got, buffer.AutoRowstride))
	for i := range want {
		if want[i] != 0 {
			want[i] = 9
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Set wrote outside the abyss (-want +got):\n%s", diff)
	}
}

func TestRoundTripFloat(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAFloat, image.Rect(0, 0, 256, 256), storage.WithTileSize(64, 64))

	rect := image.Rect(5, 3, 133, 67)
	n := rect.Dx() * rect.Dy()
	src := make([]byte, 16*n)
	for i := range 4 * n {
		pixfmt.PutFloat32(src[4*i:], float32(i%1000)/1000)
	}
	require.NoError(t, b.Set(rect, nil, src, buffer.AutoRowstride))
	require.NoError(t, b.Flush())

	got := make([]byte, len(src))
	require.NoError(t, b.Get(rect, 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(src, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRowstride(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	rect := image.Rect(3, 3, 7, 5)
	// Two rows of four pixels, padded to six bytes.
	src := []byte{1, 2, 3, 4, 0xff, 0xff, 5, 6, 7, 8}
	require.NoError(t, b.Set(rect, nil, src, 6))

	got := make([]byte, 8)
	require.NoError(t, b.Get(rect, 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6, 7, 8}, got); diff != "" {
		t.Errorf("rowstride mismatch (-want +got):\n%s", diff)
	}
}

func TestShortBuffer(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAU8, image.Rect(0, 0, 64, 64))

	err := b.Get(image.Rect(0, 0, 4, 4), 1, nil, make([]byte, 63), buffer.AutoRowstride)
	require.ErrorIs(t, err, buffer.ErrShortBuffer)
	err = b.SetPixel(0, 0, pixfmt.RGBAFloat, make([]byte, 4))
	require.ErrorIs(t, err, buffer.ErrShortBuffer)

	// Empty rectangles are a no-op whatever the buffer, except the zero
	// rectangle, which stands for the extent.
	require.NoError(t, b.Get(image.Rect(5, 5, 5, 9), 1, nil, nil, buffer.AutoRowstride))
	err = b.Get(image.Rectangle{}, 1, nil, nil, buffer.AutoRowstride)
	require.ErrorIs(t, err, buffer.ErrShortBuffer)
}

func TestZeroRectIsExtent(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(-4, -2, 20, 10))
	n := 24 * 12

	require.NoError(t, b.Set(image.Rectangle{}, nil, pattern(b.Extent()), buffer.AutoRowstride))
	got := make([]byte, n)
	require.NoError(t, b.Get(b.Extent(), 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(pattern(b.Extent()), got); diff != "" {
		t.Errorf("Set over the zero rect mismatch (-want +got):\n%s", diff)
	}

	dst := newBuffer(t, pixfmt.YU8, image.Rect(-4, -2, 20, 10))
	buffer.Copy(b, image.Rectangle{}, dst, image.Pt(-4, -2))
	require.NoError(t, dst.Get(image.Rectangle{}, 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(pattern(b.Extent()), got); diff != "" {
		t.Errorf("Copy of the zero rect mismatch (-want +got):\n%s", diff)
	}

	pixels := 0
	it := buffer.NewIterator(b, image.Rectangle{}, nil, buffer.Read)
	for it.Next() {
		pixels += it.Length()
	}
	require.Equal(t, n, pixels)

	b.Clear(image.Rectangle{})
	require.NoError(t, b.Get(image.Rectangle{}, 1, nil, got, buffer.AutoRowstride))
	require.Equal(t, make([]byte, n), got)
}

func TestInvalidScale(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 16, 16))
	dst := make([]byte, 16)
	for _, scale := range []float64{0, -0.5} {
		err := b.Get(image.Rect(0, 0, 4, 4), scale, nil, dst, buffer.AutoRowstride)
		require.ErrorIs(t, err, buffer.ErrInvalidScale)
	}
}

// failingSource fails to produce one tile.
type failingSource struct {
	*storage.Storage
	bad tile.ID
}

func (s failingSource) GetTile(x, y, z int) (*tile.Tile, error) {
	if (tile.ID{X: x, Y: y, Z: z}) == s.bad {
		return nil, errors.New("tile unavailable")
	}
	return s.Storage.GetTile(x, y, z)
}

func TestFailedTileReadsZero(t *testing.T) {
	s := newStorage(t, pixfmt.YU8)
	extent := image.Rect(0, 0, 64, 1)
	whole := buffer.New(s, extent)
	require.NoError(t, whole.Set(extent, nil, filled(64, 5), buffer.AutoRowstride))
	whole.Close()

	b := buffer.New(failingSource{Storage: s, bad: tile.ID{X: 1}}, extent)
	defer b.Close()
	got := make([]byte, 64)
	require.NoError(t, b.Get(extent, 1, nil, got, buffer.AutoRowstride))

	want := append(append(filled(16, 5), filled(16, 0)...), filled(32, 5)...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get around a failed tile mismatch (-want +got):\n%s", diff)
	}

	px := []byte{9}
	require.NoError(t, b.GetPixel(20, 0, nil, px))
	require.Equal(t, []byte{0}, px)
	require.NoError(t, b.GetPixel(40, 0, nil, px))
	require.Equal(t, []byte{5}, px)
}

func TestHotTileSurvivesEviction(t *testing.T) {
	s := newStorage(t, pixfmt.YU8, storage.WithCacheSize(1))
	b := buffer.New(s, image.Rect(0, 0, 16*200, 8))

	require.NoError(t, b.SetPixel(0, 0, nil, []byte{42}))
	scratch := make([]byte, 16*8)
	for x := 1; x < 200; x++ {
		require.NoError(t, b.Get(image.Rect(16*x, 0, 16*x+16, 8), 1, nil, scratch, buffer.AutoRowstride))
	}

	got := make([]byte, 4)
	require.NoError(t, b.Get(image.Rect(0, 0, 2, 2), 1, nil, got, buffer.AutoRowstride))
	require.Equal(t, []byte{42, 0, 0, 0}, got)

	require.NoError(t, b.Set(image.Rect(1, 0, 3, 1), nil, []byte{7, 7}, buffer.AutoRowstride))
	for x := 1; x < 200; x++ {
		require.NoError(t, b.Get(image.Rect(16*x, 0, 16*x+16, 8), 1, nil, scratch, buffer.AutoRowstride))
	}
	b.Close()
	require.NoError(t, s.Flush())

	fresh := buffer.New(s, b.Extent())
	defer fresh.Close()
	got = make([]byte, 3)
	require.NoError(t, fresh.Get(image.Rect(0, 0, 3, 1), 1, nil, got, buffer.AutoRowstride))
	require.Equal(t, []byte{42, 7, 7}, got)
}

func TestPixelAccess(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAU8, image.Rect(-32, -32, 32, 32))

	points := []image.Point{{0, 0}, {-1, -1}, {15, 7}, {16, 8}, {-17, 9}}
	for i, p := range points {
		require.NoError(t, b.SetPixel(p.X, p.Y, nil, []byte{byte(i), 1, 2, 3}))
	}
	for i, p := range points {
		px := make([]byte, 4)
		require.NoError(t, b.GetPixel(p.X, p.Y, nil, px))
		if diff := cmp.Diff([]byte{byte(i), 1, 2, 3}, px); diff != "" {
			t.Errorf("GetPixel(%v) mismatch (-want +got):\n%s", p, diff)
		}
	}

	// Outside the abyss: dropped on write, zero on read.
	require.NoError(t, b.SetPixel(40, 0, nil, []byte{9, 9, 9, 9}))
	px := []byte{1, 1, 1, 1}
	require.NoError(t, b.GetPixel(40, 0, nil, px))
	require.Equal(t, []byte{0, 0, 0, 0}, px)

	// Converted on the way out.
	f := make([]byte, 16)
	require.NoError(t, b.GetPixel(0, 0, pixfmt.RGBAFloat, f))
	require.InDelta(t, float32(1)/255, pixfmt.Float32(f[4:]), 1e-6)
}

func TestSubAndShifted(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	require.NoError(t, b.SetPixel(15, 2, nil, []byte{99}))
	require.NoError(t, b.SetPixel(10, 10, nil, []byte{42}))

	shifted := b.Shifted(10, 0)
	require.Equal(t, image.Rect(-10, 0, 54, 64), shifted.Extent())
	px := make([]byte, 1)
	require.NoError(t, shifted.GetPixel(5, 2, nil, px))
	require.Equal(t, byte(99), px[0])

	sub := b.Sub(image.Rect(0, 0, 8, 8))
	require.Equal(t, image.Rect(0, 0, 8, 8), sub.Abyss())
	require.NoError(t, sub.GetPixel(10, 10, nil, px))
	require.Equal(t, byte(0), px[0])
	require.NoError(t, sub.SetPixel(10, 10, nil, []byte{1}))
	require.NoError(t, b.GetPixel(10, 10, nil, px))
	require.Equal(t, byte(42), px[0])

	// A sub-buffer bigger than its parent is clipped to the parent's abyss.
	wide := b.Sub(image.Rect(-8, -8, 100, 100))
	require.Equal(t, image.Rect(-8, -8, 100, 100), wide.Extent())
	require.Equal(t, b.Abyss(), wide.Abyss())
}

func TestSetFormat(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAU8, image.Rect(0, 0, 16, 16))
	require.NoError(t, b.SetPixel(0, 0, nil, []byte{1, 2, 3, 4}))

	err := b.SetFormat(pixfmt.YU8)
	require.ErrorIs(t, err, buffer.ErrIncompatibleFormat)
	require.Equal(t, pixfmt.RGBAU8, b.Format())

	require.NoError(t, b.SetFormat(pixfmt.SRGBAU8))
	require.Equal(t, pixfmt.SRGBAU8, b.Format())
	px := make([]byte, 4)
	require.NoError(t, b.GetPixel(0, 0, nil, px))
	require.Equal(t, []byte{1, 2, 3, 4}, px)
}

func TestCopy(t *testing.T) {
	src := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	dst := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))

	srcRect := image.Rect(2, 1, 40, 30)
	require.NoError(t, src.Set(srcRect, nil, pattern(srcRect), buffer.AutoRowstride))

	dp := image.Pt(5, 3)
	buffer.Copy(src, srcRect, dst, dp)

	got := make([]byte, srcRect.Dx()*srcRect.Dy())
	require.NoError(t, dst.Get(srcRect.Sub(srcRect.Min).Add(dp), 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(pattern(srcRect), got); diff != "" {
		t.Errorf("Copy mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyWithinStorage(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 128, 64))

	srcRect := image.Rect(0, 0, 20, 10)
	require.NoError(t, b.Set(srcRect, nil, pattern(srcRect), buffer.AutoRowstride))
	buffer.Copy(b, srcRect, b, image.Pt(40, 0))

	got := make([]byte, 200)
	require.NoError(t, b.Get(image.Rect(40, 0, 60, 10), 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(pattern(srcRect), got); diff != "" {
		t.Errorf("Copy mismatch (-want +got):\n%s", diff)
	}

	stats := b.Pool().Stats()
	require.Equal(t, 2, stats.Buffers)
	require.Zero(t, stats.BuffersInUse)

	buffer.Copy(b, srcRect, b, image.Pt(70, 20))
	require.Equal(t, stats, b.Pool().Stats(), "scratch buffers should be reused")
}

func TestCopyConverts(t *testing.T) {
	src := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 32, 32))
	dst := newBuffer(t, pixfmt.RGBAFloat, image.Rect(0, 0, 32, 32))

	require.NoError(t, src.Set(src.Extent(), nil, filled(32*32, 255), buffer.AutoRowstride))
	buffer.Copy(src, src.Extent(), dst, image.Point{})

	px := make([]byte, 16)
	require.NoError(t, dst.GetPixel(31, 31, nil, px))
	if diff := cmp.Diff(floats(4, 1), px); diff != "" {
		t.Errorf("converted pixel mismatch (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	b := newBuffer(t, pixfmt.YU8, image.Rect(0, 0, 64, 64))
	require.NoError(t, b.Set(b.Extent(), nil, filled(64*64, 5), buffer.AutoRowstride))

	b.Clear(image.Rect(10, 10, 50, 20))

	got := make([]byte, 64*64)
	require.NoError(t, b.Get(b.Extent(), 1, nil, got, buffer.AutoRowstride))
	for y := range 64 {
		for x := range 64 {
			want := byte(5)
			if image.Pt(x, y).In(image.Rect(10, 10, 50, 20)) {
				want = 0
			}
			if got[y*64+x] != want {
				t.Fatalf("pixel (%d, %d) = %d, want %d", x, y, got[y*64+x], want)
			}
		}
	}
}

func TestScaledGetUniform(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAU8, image.Rect(0, 0, 256, 256), storage.WithTileSize(64, 64))

	color := []byte{10, 20, 30, 255}
	src := make([]byte, 0, 256*256*4)
	for range 256 * 256 {
		src = append(src, color...)
	}
	require.NoError(t, b.Set(b.Extent(), nil, src, buffer.AutoRowstride))

	for _, scale := range []float64{0.25, 0.5, 0.75} {
		size := int(64 * scale)
		got := make([]byte, size*size*4)
		require.NoError(t, b.Get(image.Rect(0, 0, size, size), scale, nil, got, buffer.AutoRowstride))
		for i := 0; i < len(got); i += 4 {
			if diff := cmp.Diff(color, got[i:i+4]); diff != "" {
				t.Fatalf("scale %v pixel %d mismatch (-want +got):\n%s", scale, i/4, diff)
			}
		}
	}
}

func TestSampleUniform(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAFloat, image.Rect(0, 0, 32, 32))
	require.NoError(t, b.Set(b.Extent(), nil, floats(4*32*32, 0.5), buffer.AutoRowstride))

	for _, interp := range []buffer.Interpolation{
		buffer.InterpolationNearest, buffer.InterpolationLinear, buffer.InterpolationCubic,
	} {
		px := make([]byte, 16)
		require.NoError(t, b.Sample(10.3, 12.7, 1, nil, interp, px))
		for c := range 4 {
			require.InDelta(t, 0.5, pixfmt.Float32(px[4*c:]), 1e-5, "%v component %d", interp, c)
		}
	}

	// Half way across the edge of the abyss.
	px := make([]byte, 16)
	require.NoError(t, b.Sample(32, 10.5, 1, nil, buffer.InterpolationLinear, px))
	require.InDelta(t, 0.25, pixfmt.Float32(px), 1e-5)
}

func TestGPUAccess(t *testing.T) {
	dev := gpu.NewDevice()
	b := newBuffer(t, pixfmt.RGBAFloat, image.Rect(0, 0, 64, 64), storage.WithDevice(dev))

	tex := dev.NewTexture(20, 10)
	defer tex.Free()
	tex.Set(tex.Bounds(), floats(4*20*10, 0.75), nil)

	rect := image.Rect(10, 5, 30, 15)
	require.NoError(t, b.GPUSet(rect, tex))

	got := make([]byte, 16*20*10)
	require.NoError(t, b.Get(rect, 1, nil, got, buffer.AutoRowstride))
	if diff := cmp.Diff(floats(4*20*10, 0.75), got); diff != "" {
		t.Errorf("CPU view of GPU write mismatch (-want +got):\n%s", diff)
	}

	// Half of this rectangle is outside the abyss and reads as cleared.
	require.NoError(t, b.Set(image.Rect(54, 5, 64, 15), nil, floats(4*10*10, 0.5), buffer.AutoRowstride))
	out := dev.NewTexture(20, 10)
	defer out.Free()
	out.Set(out.Bounds(), floats(4*20*10, 1), nil)
	require.NoError(t, b.GPUGet(image.Rect(54, 5, 74, 15), 1, out))

	pix := make([]byte, 16*20*10)
	out.Get(out.Bounds(), pix, nil)
	for y := range 10 {
		for x := range 20 {
			want := float32(0.5)
			if x >= 10 {
				want = 0
			}
			if v := pixfmt.Float32(pix[(y*20+x)*16:]); v != want {
				t.Fatalf("texel (%d, %d) = %v, want %v", x, y, v, want)
			}
		}
	}
}

func TestGPUWithoutDevice(t *testing.T) {
	b := newBuffer(t, pixfmt.RGBAFloat, image.Rect(0, 0, 64, 64))
	tex := gpu.NewDevice().NewTexture(4, 4)
	defer tex.Free()

	err := b.GPUGet(image.Rect(0, 0, 4, 4), 1, tex)
	require.True(t, errors.Is(err, buffer.ErrNoDevice), "GPUGet error = %v", err)
	err = b.GPUSet(image.Rect(0, 0, 4, 4), tex)
	require.ErrorIs(t, err, buffer.ErrNoDevice)
}
