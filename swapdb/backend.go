// Package swapdb provides a tile.Backend that swaps tiles into a sqlite file.
//
// Tiles are keyed by a Hilbert code of their coordinates, compressed with
// snappy and checked with an xxhash checksum on read.
//
// Note: User must properly initialize the sqlite3 library generic driver
// (e.g. import _ "github.com/mattn/go-sqlite3") before using this package.
package swapdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/eak1mov/go-tilebuf/tile"
	"github.com/golang/snappy"
)

var ErrCorruptTile = errors.New("tilebuf: corrupt swap tile")

// Backend implements tile.Backend and tile.MetadataBackend.
type Backend struct {
	db         *sql.DB
	readStmt   *sql.Stmt
	writeStmt  *sql.Stmt
	deleteStmt *sql.Stmt
	logger     *slog.Logger
}

type backendConfig struct {
	Metadata map[string]string
	Logger   *slog.Logger
}

type Option func(*backendConfig)

func WithMetadata(metadata map[string]string) Option {
	return func(c *backendConfig) { c.Metadata = metadata }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *backendConfig) { c.Logger = logger }
}

// Open opens or creates a swap file.
//
// The returned Backend must be closed after use to release database resources.
func Open(filePath string, opts ...Option) (*Backend, error) {
	config := backendConfig{
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	var err error
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	// One writer at a time; concurrent flushes would otherwise fail with
	// "database is locked".
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value TEXT);
		CREATE TABLE IF NOT EXISTS tiles (
			tile_code INTEGER PRIMARY KEY,
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			checksum INTEGER,
			tile_data BLOB
		);
	`)
	if err != nil {
		return nil, err
	}

	b := &Backend{db: db, logger: config.Logger}
	if err = b.WriteMetadata(config.Metadata); err != nil {
		return nil, err
	}

	b.readStmt, err = db.Prepare("SELECT checksum, tile_data FROM tiles WHERE tile_code = ?")
	if err != nil {
		return nil, err
	}
	b.writeStmt, err = db.Prepare(`INSERT OR REPLACE INTO tiles
		(tile_code, zoom_level, tile_column, tile_row, checksum, tile_data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		b.readStmt.Close()
		return nil, err
	}
	b.deleteStmt, err = db.Prepare("DELETE FROM tiles WHERE tile_code = ?")
	if err != nil {
		b.readStmt.Close()
		b.writeStmt.Close()
		return nil, err
	}

	config.Logger.Debug("tilebuf: swap opened", "path", filePath)
	return b, nil
}

func (b *Backend) Close() error {
	return errors.Join(b.readStmt.Close(), b.writeStmt.Close(), b.deleteStmt.Close(), b.db.Close())
}

func (b *Backend) ReadMetadata() (map[string]string, error) {
	metadata := make(map[string]string)

	rows, err := b.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return metadata, nil
}

func (b *Backend) WriteMetadata(metadata map[string]string) error {
	for k, v := range metadata {
		if _, err := b.db.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", k, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeTile(tileID tile.ID, checksum int64, stored []byte) ([]byte, error) {
	tileData, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrCorruptTile, tileID, err)
	}
	if xxhash.Sum64(tileData) != uint64(checksum) {
		return nil, fmt.Errorf("%w: %v: checksum mismatch", ErrCorruptTile, tileID)
	}
	return tileData, nil
}

func (b *Backend) ReadTile(tileID tile.ID) ([]byte, error) {
	code, err := EncodeTileID(tileID)
	if err != nil {
		return nil, err
	}

	var checksum int64
	var stored []byte
	if err := b.readStmt.QueryRow(code).Scan(&checksum, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return make([]byte, 0), nil
		}
		return nil, err
	}

	return decodeTile(tileID, checksum, stored)
}

func (b *Backend) WriteTile(tileID tile.ID, tileData []byte) error {
	code, err := EncodeTileID(tileID)
	if err != nil {
		return err
	}
	checksum := int64(xxhash.Sum64(tileData))
	_, err = b.writeStmt.Exec(code, tileID.Z, tileID.X, tileID.Y, checksum, snappy.Encode(nil, tileData))
	return err
}

func (b *Backend) DeleteTile(tileID tile.ID) error {
	code, err := EncodeTileID(tileID)
	if err != nil {
		return err
	}
	_, err = b.deleteStmt.Exec(code)
	return err
}

// VisitTiles visits tiles in key order: by level, then along the curve.
func (b *Backend) VisitTiles(visitor func(tile.ID, []byte) error) error {
	rows, err := b.db.Query("SELECT tile_code, checksum, tile_data FROM tiles ORDER BY tile_code")
	if err != nil {
		return err
	}
	type row struct {
		code     int64
		checksum int64
		stored   []byte
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.code, &r.checksum, &r.stored); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, r)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return err
	}

	// Rows are drained first: the single connection must be free while the
	// visitor writes elsewhere in this file.
	for _, r := range pending {
		tileID := DecodeTileID(r.code)
		tileData, err := decodeTile(tileID, r.checksum, r.stored)
		if err != nil {
			return err
		}
		if err := visitor(tileID, tileData); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op: every write is committed when it returns.
func (b *Backend) Flush() error {
	return nil
}
