package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/google/subcommands"
	_ "github.com/mattn/go-sqlite3"
)

var verbose = flag.Bool("v", false, "Log storage and tile diagnostics to stderr")

func newLogger() *slog.Logger {
	if !*verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&importCmd{}, "")
	subcommands.Register(&exportCmd{}, "")
	subcommands.Register(&convertCmd{}, "")
	subcommands.Register(&filterCmd{}, "")
	subcommands.Register(&formatsCmd{}, "")

	flag.Parse()
	tile.SetLogger(newLogger())
	os.Exit(int(subcommands.Execute(context.Background())))
}
