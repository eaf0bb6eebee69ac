package db

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated write/read pool pair in t.TempDir() and
// closes both when the test ends.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenPair(filepath.Join(t.TempDir(), "runs.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	if _, err := Migrate(context.Background(), writeDB, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return writeDB, readDB
}
