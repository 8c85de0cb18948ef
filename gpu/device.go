// Package gpu provides the texture objects that mirror tile pixels on the
// GPU side. Textures always hold "RGBA float" pixels; transfers convert from
// and to any pixfmt format.
//
// The Device keeps texture storage in host memory, so every transfer is a
// real copy and revision bugs show up as stale pixels in tests.
package gpu

import (
	"log/slog"
	"sync/atomic"
)

// Device creates textures and tracks their traffic.
type Device struct {
	accelerated bool
	logger      *slog.Logger

	textures  atomic.Int64
	uploads   atomic.Int64
	downloads atomic.Int64
}

type deviceConfig struct {
	Accelerated bool
	Logger      *slog.Logger
}

type Option func(*deviceConfig)

// WithAcceleration switches the GPU mirror on or off. A device without
// acceleration still creates textures, but tiles do not mirror into it.
func WithAcceleration(on bool) Option {
	return func(c *deviceConfig) { c.Accelerated = on }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *deviceConfig) { c.Logger = logger }
}

func NewDevice(opts ...Option) *Device {
	config := deviceConfig{
		Accelerated: true,
		Logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	config.Logger.Debug("tilebuf: gpu device created", "accelerated", config.Accelerated)
	return &Device{accelerated: config.Accelerated, logger: config.Logger}
}

// Accelerated reports whether tiles should keep a GPU mirror. It is safe to
// call on a nil Device.
func (d *Device) Accelerated() bool {
	return d != nil && d.accelerated
}

// Stats is a snapshot of device counters.
type Stats struct {
	Textures  int64 // live textures
	Uploads   int64 // host -> texture transfers
	Downloads int64 // texture -> host transfers
}

func (d *Device) Stats() Stats {
	return Stats{
		Textures:  d.textures.Load(),
		Uploads:   d.uploads.Load(),
		Downloads: d.downloads.Load(),
	}
}
