// Package sqlitedb opens and migrates the SQLite databases behind the history
// and graph modules. It uses modernc.org/sqlite (pure Go, no CGO).
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// DefaultBusyTimeout is the lock wait, in milliseconds, used when none is
// configured.
const DefaultBusyTimeout = 5000

// Options controls how a database is opened.
type Options struct {
	Path string

	// WAL enables WAL journal mode for concurrent reads.
	WAL bool

	// BusyTimeout is the milliseconds to wait on a busy lock.
	BusyTimeout int
}

// Open creates the parent directory, opens the database and applies the
// connection PRAGMAs. The pool is limited to one connection: SQLite
// serialises writes and PRAGMAs are per connection.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout),
		"PRAGMA foreign_keys=ON",
	}
	if opts.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return db, nil
}
