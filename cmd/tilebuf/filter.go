package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/eak1mov/go-tilebuf/buffer"
	"github.com/eak1mov/go-tilebuf/filter"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type filterCmd struct {
	store   storeFlags
	path    string
	op      string
	rect    string
	bc      filter.BrightnessContrast
	levels  filter.Levels
	cpuOnly bool
}

func (c *filterCmd) Name() string     { return "filter" }
func (c *filterCmd) Synopsis() string { return "apply a point filter to a tile store in place" }
func (c *filterCmd) Usage() string {
	return "tilebuf filter -i <store> -op <invert|brightness-contrast|levels> [-rect x0,y0,x1,y1 ...]\n"
}
func (c *filterCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.path, "i", "", "Store path")
	f.StringVar(&c.op, "op", "invert", "Filter (invert, brightness-contrast, levels)")
	f.StringVar(&c.rect, "rect", "", "Rectangle to filter; the imported extent if empty")
	f.Float64Var(&c.bc.Brightness, "brightness", 0, "brightness-contrast: amount to increase brightness")
	f.Float64Var(&c.bc.Contrast, "contrast", 1, "brightness-contrast: range scale factor")
	f.Float64Var(&c.levels.InLow, "in-low", 0, "levels: input level that becomes the lowest output")
	f.Float64Var(&c.levels.InHigh, "in-high", 1, "levels: input level that becomes the highest output")
	f.Float64Var(&c.levels.OutLow, "out-low", 0, "levels: lowest output level")
	f.Float64Var(&c.levels.OutHigh, "out-high", 1, "levels: highest output level")
	f.BoolVar(&c.cpuOnly, "cpu", false, "Never use the texture path, even with -gpu")
	c.store.setFlags(f)
}

func (c *filterCmd) operation() (filter.Op, error) {
	switch c.op {
	case "invert":
		return filter.Invert{}, nil
	case "brightness-contrast":
		return c.bc, nil
	case "levels":
		return c.levels, nil
	default:
		return nil, fmt.Errorf("invalid filter: %q", c.op)
	}
}

func (c *filterCmd) run() (err error) {
	op, err := c.operation()
	if err != nil {
		return err
	}

	logger := newLogger()
	s, err := c.store.open(c.path, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	rect, err := rectOrExtent(c.rect, s)
	if err != nil {
		return err
	}
	buf := buffer.New(s, rect, buffer.WithLogger(logger))
	defer buf.Close()

	bar := progressbar.Default(int64(rect.Dx()*rect.Dy()), op.Name())
	err = filter.Run(op, buf, buf, rect,
		filter.WithGPU(!c.cpuOnly),
		filter.WithLogger(logger),
		filter.WithProgress(func(done, _ int) { bar.Set(done) }),
	)
	bar.Finish()
	fmt.Println()
	return err
}

func (c *filterCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.run(); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
