package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"

	"github.com/eak1mov/go-tilebuf/buffer"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type importCmd struct {
	store      storeFlags
	inputPath  string
	outputPath string
	x, y       int
}

func (c *importCmd) Name() string     { return "import" }
func (c *importCmd) Synopsis() string { return "write an image into a tile store" }
func (c *importCmd) Usage() string {
	return "tilebuf import -i <image> -o <store> [-x <x> -y <y> -sf <format> -pf <pixel format>]\n"
}
func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input image path (png, jpeg, gif, bmp, tiff, webp)")
	f.StringVar(&c.outputPath, "o", "", "Output store path")
	f.IntVar(&c.x, "x", 0, "Left edge of the image in the store")
	f.IntVar(&c.y, "y", 0, "Top edge of the image in the store")
	c.store.setFlags(f)
}

func decodeImage(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %v: %w", path, err)
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	nrgba := image.NewNRGBA(img.Bounds())
	draw.Draw(nrgba, nrgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return nrgba, nil
}

func (c *importCmd) run() (err error) {
	img, err := decodeImage(c.inputPath)
	if err != nil {
		return err
	}

	s, err := c.store.open(c.outputPath, newLogger())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	size := img.Bounds().Size()
	rect := image.Rectangle{Max: size}.Add(image.Pt(c.x, c.y))
	buf := buffer.New(s, rect)
	defer buf.Close()

	band := s.TileHeight()
	bar := progressbar.New(size.Y)
	for y := 0; y < size.Y; y += band {
		rows := min(band, size.Y-y)
		dst := image.Rect(rect.Min.X, rect.Min.Y+y, rect.Max.X, rect.Min.Y+y+rows)
		if err := buf.Set(dst, pixfmt.SRGBAU8, img.Pix[y*img.Stride:], img.Stride); err != nil {
			return err
		}
		bar.Add(rows)
	}
	bar.Finish()
	fmt.Println()

	extent, err := readExtent(s)
	if err != nil {
		return err
	}
	return writeExtent(s, extent.Union(rect))
}

func (c *importCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.run(); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
