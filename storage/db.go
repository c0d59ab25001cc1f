package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    entry_count INTEGER NOT NULL,
    received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_project ON batches(project_id, received_at DESC);

CREATE TABLE IF NOT EXISTS entries (
    id          TEXT PRIMARY KEY,
    batch_id    TEXT NOT NULL,
    project_id  TEXT NOT NULL,
    ts          TEXT NOT NULL,
    severity    INTEGER NOT NULL,
    msg         TEXT NOT NULL,
    data        TEXT NOT NULL,
    received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_project ON entries(project_id, received_at DESC);
CREATE INDEX IF NOT EXISTS idx_entries_severity ON entries(project_id, severity);

CREATE TABLE IF NOT EXISTS project_tokens (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    token_hash  TEXT NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS redact_rules (
    id          TEXT PRIMARY KEY,
    pattern     TEXT NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL
);
`

func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := InitRateLimitsSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenFileDB creates the parent directory of path before opening it.
func OpenFileDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return OpenDB(path)
}

// OpenMemoryDB opens a private in-memory database. The pool is pinned to
// one connection because every sqlite :memory: connection is a separate
// database.
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := InitRateLimitsSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
