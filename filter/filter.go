// Package filter runs per-pixel operations over buffers.
//
// Operations see "RGBA float" pixels. When both buffers live on an
// accelerated device and the operation has a texture path, the work runs on
// textures instead of host memory.
package filter

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/eak1mov/go-tilebuf/buffer"
	"github.com/eak1mov/go-tilebuf/gpu"
	"github.com/eak1mov/go-tilebuf/pixfmt"
)

var ErrInvalidParameter = errors.New("tilebuf: invalid filter parameter")

// Format is the pixel format operations process.
var Format = pixfmt.RGBAFloat

// Op is a point operation: every output pixel depends only on the input
// pixel at the same position.
type Op interface {
	Name() string

	// Process maps n pixels of in to out. in and out may alias.
	Process(in, out []byte, n int)
}

// GPUOp is an Op that can also run on textures.
type GPUOp interface {
	Op

	// ProcessGPU maps the size.X x size.Y top-left texels of in to out.
	ProcessGPU(in, out *gpu.Texture, size image.Point) error
}

type validator interface {
	validate() error
}

type runConfig struct {
	GPU      bool
	Logger   *slog.Logger
	Progress func(done, total int)
}

type Option func(*runConfig)

// WithGPU allows (the default) or forbids the texture path.
func WithGPU(on bool) Option {
	return func(c *runConfig) { c.GPU = on }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) { c.Logger = logger }
}

// WithProgress reports the number of processed pixels after every step.
func WithProgress(fn func(done, total int)) Option {
	return func(c *runConfig) { c.Progress = fn }
}

// Run applies op to rect of input and writes the result to the same
// rectangle of output. input and output may be the same buffer.
func Run(op Op, input, output *buffer.Buffer, rect image.Rectangle, opts ...Option) error {
	config := runConfig{
		GPU:    true,
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if v, ok := op.(validator); ok {
		if err := v.validate(); err != nil {
			return fmt.Errorf("%s: %w", op.Name(), err)
		}
	}
	if rect.Empty() {
		return nil
	}

	gpuOp, useGPU := op.(GPUOp)
	useGPU = useGPU && config.GPU && input.Device().Accelerated() && output.Device().Accelerated()

	outFlags, inFlags := buffer.Write, buffer.Read
	if useGPU {
		outFlags, inFlags = buffer.GPUWrite, buffer.GPURead
	}
	it := buffer.NewIterator(output, rect, Format, outFlags)
	read := it.Add(input, rect, Format, inFlags)

	total := rect.Dx() * rect.Dy()
	done := 0
	for it.Next() {
		if useGPU {
			if err := gpuOp.ProcessGPU(it.Texture(read), it.Texture(0), it.Rect(0).Size()); err != nil {
				it.Stop()
				return fmt.Errorf("%s on %v: %w", op.Name(), it.Rect(0), err)
			}
		} else {
			op.Process(it.Data(read), it.Data(0), it.Length())
		}
		done += it.Length()
		if config.Progress != nil {
			config.Progress(done, total)
		}
	}

	config.Logger.Debug("tilebuf: filter done", "op", op.Name(), "rect", rect, "gpu", useGPU)
	return nil
}

// eachPixel applies fn to n "RGBA float" pixels.
func eachPixel(in, out []byte, n int, fn func(*[4]float32)) {
	var px [4]float32
	for i := range n {
		p := in[16*i:]
		for c := range 4 {
			px[c] = pixfmt.Float32(p[4*c:])
		}
		fn(&px)
		q := out[16*i:]
		for c := range 4 {
			pixfmt.PutFloat32(q[4*c:], px[c])
		}
	}
}

// eachTexel applies fn to the size.X x size.Y top-left texels.
func eachTexel(in, out *gpu.Texture, size image.Point, fn func(*[4]float32)) error {
	bounds := image.Rectangle{Max: size}
	if !bounds.In(in.Bounds()) || !bounds.In(out.Bounds()) {
		return fmt.Errorf("%w: %v does not fit into %v and %v", gpu.ErrSizeMismatch, bounds, in.Bounds(), out.Bounds())
	}
	bpp := gpu.Format.BytesPerPixel()
	src, dst := in.Pixels(), out.Pixels()
	for y := range size.Y {
		eachPixel(src[y*in.Width()*bpp:], dst[y*out.Width()*bpp:], size.X, fn)
	}
	return nil
}
