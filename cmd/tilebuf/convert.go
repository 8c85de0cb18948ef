package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type convertCmd struct {
	inputFormat  string
	inputPath    string
	outputFormat string
	outputPath   string
}

func (c *convertCmd) Name() string     { return "convert" }
func (c *convertCmd) Synopsis() string { return "copy a tile store between swap formats" }
func (c *convertCmd) Usage() string {
	return "tilebuf convert -i <path> -o <path> [-if <format> | -of <format>]\n"
}
func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input path")
	f.StringVar(&c.inputFormat, "if", "", "Input format (swapdb, swapdir)")
	f.StringVar(&c.outputPath, "o", "", "Output path")
	f.StringVar(&c.outputFormat, "of", "", "Output format (swapdb, swapdir)")
}

// copyStore copies metadata and every tile of src into dst.
func copyStore(src, dst tile.Backend, progress func()) error {
	if in, ok := src.(tile.MetadataBackend); ok {
		if out, ok := dst.(tile.MetadataBackend); ok {
			metadata, err := in.ReadMetadata()
			if err != nil {
				return err
			}
			if err := out.WriteMetadata(metadata); err != nil {
				return err
			}
		}
	}

	err := src.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		if err := dst.WriteTile(tileID, tileData); err != nil {
			return fmt.Errorf("write tile %v: %w", tileID, err)
		}
		progress()
		return nil
	})
	if err != nil {
		return err
	}
	return dst.Flush()
}

func (c *convertCmd) run() (err error) {
	logger := newLogger()
	reader, err := openBackend(c.inputFormat, c.inputPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	writer, err := openBackend(c.outputFormat, c.outputPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, writer.Close())
	}()

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())
	err = copyStore(reader, writer, func() { bar.Add(1) })
	bar.Finish()
	fmt.Println()
	return err
}

func (c *convertCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.run(); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
