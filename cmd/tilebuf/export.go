package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/eak1mov/go-tilebuf/buffer"
	"github.com/eak1mov/go-tilebuf/pixfmt"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

var kernels = map[string]draw.Scaler{
	"nearest":         draw.NearestNeighbor,
	"approx-bilinear": draw.ApproxBiLinear,
	"bilinear":        draw.BiLinear,
	"catmull-rom":     draw.CatmullRom,
}

type exportCmd struct {
	store      storeFlags
	inputPath  string
	outputPath string
	rect       string
	scale      float64
	width      int
	height     int
	kernel     string
}

func (c *exportCmd) Name() string     { return "export" }
func (c *exportCmd) Synopsis() string { return "render a rectangle of a tile store into an image" }
func (c *exportCmd) Usage() string {
	return "tilebuf export -i <store> -o <image> [-rect x0,y0,x1,y1 -scale <s> -width <w> -height <h> -kernel <k>]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input store path")
	f.StringVar(&c.outputPath, "o", "", "Output image path (png, bmp, tiff)")
	f.StringVar(&c.rect, "rect", "", "Rectangle to export; the imported extent if empty")
	f.Float64Var(&c.scale, "scale", 1, "Scale applied while reading the store")
	f.IntVar(&c.width, "width", 0, "Resize the result to this width")
	f.IntVar(&c.height, "height", 0, "Resize the result to this height")
	f.StringVar(&c.kernel, "kernel", "catmull-rom", "Resize kernel (nearest, approx-bilinear, bilinear, catmull-rom)")
	c.store.setFlags(f)
}

// scaleRect returns the rectangle covering r scaled by scale.
func scaleRect(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(r.Min.X)*scale)), int(math.Floor(float64(r.Min.Y)*scale)),
		int(math.Ceil(float64(r.Max.X)*scale)), int(math.Ceil(float64(r.Max.Y)*scale)),
	)
}

// resizeTarget fills in a missing dimension from the aspect ratio of size.
func resizeTarget(size image.Point, width, height int) image.Point {
	switch {
	case width > 0 && height > 0:
		return image.Pt(width, height)
	case width > 0:
		return image.Pt(width, max(1, int(math.Round(float64(size.Y)*float64(width)/float64(size.X)))))
	case height > 0:
		return image.Pt(max(1, int(math.Round(float64(size.X)*float64(height)/float64(size.Y)))), height)
	default:
		return size
	}
}

func encodeImage(w io.Writer, path string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", "":
		return png.Encode(w, img)
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported output image type: %q", filepath.Ext(path))
	}
}

func (c *exportCmd) render() (img *image.NRGBA, err error) {
	s, err := c.store.open(c.inputPath, newLogger())
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	rect, err := rectOrExtent(c.rect, s)
	if err != nil {
		return nil, err
	}
	buf := buffer.New(s, rect)
	defer buf.Close()

	scaled := scaleRect(rect, c.scale)
	img = image.NewNRGBA(image.Rectangle{Max: scaled.Size()})

	band := s.TileHeight()
	bar := progressbar.New(scaled.Dy())
	for y := 0; y < scaled.Dy(); y += band {
		rows := min(band, scaled.Dy()-y)
		src := image.Rect(scaled.Min.X, scaled.Min.Y+y, scaled.Max.X, scaled.Min.Y+y+rows)
		if err := buf.Get(src, c.scale, pixfmt.SRGBAU8, img.Pix[y*img.Stride:], img.Stride); err != nil {
			return nil, err
		}
		bar.Add(rows)
	}
	bar.Finish()
	fmt.Println()
	return img, nil
}

func (c *exportCmd) run() error {
	if c.scale <= 0 {
		return fmt.Errorf("invalid scale: %v", c.scale)
	}
	kernel, ok := kernels[c.kernel]
	if !ok {
		return fmt.Errorf("invalid kernel: %q", c.kernel)
	}

	img, err := c.render()
	if err != nil {
		return err
	}

	var result image.Image = img
	if target := resizeTarget(img.Bounds().Size(), c.width, c.height); target != img.Bounds().Size() {
		resized := image.NewNRGBA(image.Rectangle{Max: target})
		kernel.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)
		result = resized
	}

	f, err := os.Create(c.outputPath)
	if err != nil {
		return err
	}
	if err := encodeImage(f, c.outputPath, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *exportCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.run(); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
