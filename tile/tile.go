// Package tile provides the tile type, the unit of pixel storage, caching
// and locking, together with the interfaces of the stores tiles live in.
package tile

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/eak1mov/go-tilebuf/internal"
)

var ErrSizeMismatch = errors.New("tilebuf: tile size mismatch")

// ID addresses a tile in the grid of a storage: column X, row Y and
// pyramid level Z (0 is full resolution). X and Y may be negative.
type ID struct {
	X int
	Y int
	Z int
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.Z, id.X, id.Y)
}

// Parent returns the tile one pyramid level up that covers id.
func (id ID) Parent() ID {
	return ID{X: Index(id.X, 2), Y: Index(id.Y, 2), Z: id.Z + 1}
}

// Children returns the four tiles one level down covered by id, in
// row-major order. The result is meaningless for Z == 0.
func (id ID) Children() [4]ID {
	x, y, z := 2*id.X, 2*id.Y, id.Z-1
	return [4]ID{{x, y, z}, {x + 1, y, z}, {x, y + 1, z}, {x + 1, y + 1, z}}
}

// Command is a control operation sent to a Source.
type Command int

const (
	// CommandFlush persists every dirty tile and flushes the backend.
	CommandFlush Command = iota + 1
	// CommandExist reports whether a tile is cached or persisted.
	CommandExist
	// CommandIsCached reports whether a tile is held in the cache.
	CommandIsCached
)

func (c Command) String() string {
	switch c {
	case CommandFlush:
		return "flush"
	case CommandExist:
		return "exist"
	case CommandIsCached:
		return "is-cached"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Storage is the part of a tile store a Tile talks back to. A Tile never
// keeps its Storage alive or closes it.
type Storage interface {
	// SetTile persists the tile at the given coordinates.
	SetTile(x, y, z int, t *Tile) error

	// Void drops any copy of the tile without persisting it.
	Void(x, y, z int)

	// SeenZoom returns the highest pyramid level ever materialized.
	SeenZoom() int
}

// Source is the full capability set of a tile store.
type Source interface {
	Storage

	// GetTile returns the tile at the given coordinates, creating it if
	// needed. The caller owns one reference and must Release it.
	GetTile(x, y, z int) (*Tile, error)

	// Command runs a control operation. The result type depends on cmd.
	Command(cmd Command, x, y, z int, data any) (any, error)
}

// Reader reads persisted tile bytes.
type Reader interface {
	// ReadTile reads a single tile.
	// If the tile does not exist, it returns an empty slice with no error.
	ReadTile(tileID ID) ([]byte, error)
}

// Writer persists tile bytes.
type Writer interface {
	WriteTile(tileID ID, tileData []byte) error
}

// Visitor enumerates persisted tiles.
type Visitor interface {
	// VisitTiles calls visitor for every tile. Order is implementation-defined.
	VisitTiles(visitor func(ID, []byte) error) error
}

// Backend is the persistence layer behind a tile store.
type Backend interface {
	Reader
	Writer
	Visitor

	// DeleteTile removes a tile. Deleting a missing tile is not an error.
	DeleteTile(tileID ID) error

	// Flush makes previous writes durable.
	Flush() error

	Close() error
}

// MetadataBackend is implemented by backends that can keep key/value
// metadata next to the tiles (pixel format, tile size).
type MetadataBackend interface {
	ReadMetadata() (map[string]string, error)
	WriteMetadata(metadata map[string]string) error
}

// SetLogger installs the logger used for tile diagnostics (lock misuse,
// failed stores). By default nothing is logged.
func SetLogger(l *slog.Logger) {
	internal.SetLogger(l)
}

func logger() *slog.Logger {
	return internal.Logger()
}
