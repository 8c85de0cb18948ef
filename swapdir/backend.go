package swapdir

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/golang/snappy"
)

const metadataFile = "metadata.json"

// Backend implements tile.Backend and tile.MetadataBackend on a directory tree.
type Backend struct {
	filePattern string
	rootDir     string
	pathRegexp  *regexp.Regexp
	logger      *slog.Logger
}

type Option func(*Backend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New creates a Backend for the given file pattern (e.g. "/tmp/swap/{z}/{x}/{y}.tile").
// Directories are created on first write.
func New(filePattern string, opts ...Option) (*Backend, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}
	pathRegex, err := compilePattern(filePattern)
	if err != nil {
		return nil, err
	}

	path0 := formatPattern(filePattern, tile.ID{X: 0, Y: 0, Z: 0})
	path1 := formatPattern(filePattern, tile.ID{X: 1, Y: 1, Z: 1})
	for path0 != path1 {
		path0 = filepath.Dir(path0)
		path1 = filepath.Dir(path1)
	}

	b := &Backend{
		filePattern: filePattern,
		rootDir:     path0,
		pathRegexp:  pathRegex,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) RootDir() string {
	return b.rootDir
}

func (b *Backend) ReadTile(tileID tile.ID) ([]byte, error) {
	filePath := formatPattern(b.filePattern, tileID)
	stored, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return snappy.Decode(nil, stored)
}

func (b *Backend) WriteTile(tileID tile.ID, tileData []byte) error {
	filePath := formatPattern(b.filePattern, tileID)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}

	return os.WriteFile(filePath, snappy.Encode(nil, tileData), 0644)
}

func (b *Backend) DeleteTile(tileID tile.ID) error {
	err := os.Remove(formatPattern(b.filePattern, tileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *Backend) VisitTiles(visitor func(tile.ID, []byte) error) error {
	err := filepath.WalkDir(b.rootDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		tileID, ok := b.parse(filePath)
		if !ok {
			return nil
		}

		stored, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		tileData, err := snappy.Decode(nil, stored)
		if err != nil {
			return err
		}

		return visitor(tileID, tileData)
	})
	if errors.Is(err, fs.ErrNotExist) {
		// Nothing was swapped yet.
		return nil
	}
	return err
}

func (b *Backend) parse(filePath string) (tile.ID, bool) {
	tileID, ok := parsePath(b.pathRegexp, filePath)
	if !ok && filepath.Base(filePath) != metadataFile {
		b.logger.Warn("tilebuf: skipping unknown file in swap directory", "path", filePath)
	}
	return tileID, ok
}

func (b *Backend) ReadMetadata() (map[string]string, error) {
	metadata := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(b.rootDir, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return metadata, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// WriteMetadata merges metadata into the stored set.
func (b *Backend) WriteMetadata(metadata map[string]string) error {
	current, err := b.ReadMetadata()
	if err != nil {
		return err
	}
	for k, v := range metadata {
		current[k] = v
	}
	data, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.rootDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.rootDir, metadataFile), data, 0644)
}

func (b *Backend) Flush() error { return nil }
func (b *Backend) Close() error { return nil }
