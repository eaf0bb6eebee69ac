// Package db opens the SQLite run-history database and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Mode selects how a pool is configured.
type Mode string

const (
	// ModeWrite is a single-connection pool that takes the write lock when a
	// transaction begins.
	ModeWrite Mode = "write"
	// ModeRead is a multi-connection pool for readers.
	ModeRead Mode = "read"
)

// DSN parameters applied to every connection.
const (
	busyTimeout     = "5000" // ms
	synchronous     = "NORMAL"
	journalMode     = "WAL"
	defaultReadOpen = 4
	pingTimeout     = 5 * time.Second
)

// Open opens a pool for the SQLite file at path. maxOpen only applies to
// ModeRead; 0 means the default of 4.
func Open(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid sqlite mode %q", mode)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if maxOpen <= 0 {
			maxOpen = defaultReadOpen
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

// OpenPair opens a write pool and a read pool on the same file, creating
// the parent directory when needed. The read pool is only opened after the
// write pool succeeded.
func OpenPair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	writeDB, err = Open(path, ModeWrite, 0)
	if err != nil {
		return nil, nil, err
	}
	readDB, err = Open(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeout)
	params.Set("_synchronous", synchronous)
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
