// Package db owns the sqlite database handle and schema migrations for
// the plate pipeline. Higher layers get a *DB and speak SQL through it;
// this package only deals with opening, pragmas, and schema versioning.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the sqlite database at path and
// applies the connection pragmas. It does not run migrations; call
// MigrateUp separately so callers control when schema changes happen.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// WAL for concurrent readers during a run, NORMAL sync is durable
	// enough for replay output, busy_timeout avoids spurious SQLITE_BUSY
	// from the migration connection.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}
