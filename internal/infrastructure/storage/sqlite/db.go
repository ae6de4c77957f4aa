// Package sqlite hosts tracked tables and their history in an embedded
// SQLite database (pure Go driver). Each tracked table gets its own history
// partition table guarded by triggers, listed in the history_partitions catalog.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB wraps the database handle.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and ensures the catalog schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps an in-memory
	// database alive and shared by every caller.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	out := &DB{DB: db, path: path}
	if err := out.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return out, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// EnsureSchema creates the partition catalog if it doesn't exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_partitions (
		table_name TEXT PRIMARY KEY,
		id_field TEXT NOT NULL,
		partition_name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := d.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// quote returns a quoted identifier. Names reaching here are already validated.
func quote(name string) string {
	return `"` + name + `"`
}
