// Package database opens the SQLite database shared by the persistent
// knowledge store, evidence ledger, and proposal repository.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Memory is the path that selects a private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	project_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       BLOB NOT NULL,
	hash       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (project_id, kind, id)
);
CREATE TABLE IF NOT EXISTS revisions (
	project_id TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS evidence_ledger (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   TEXT NOT NULL,
	proposal_id  TEXT NOT NULL,
	change_index INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	operation    TEXT NOT NULL,
	evidence     BLOB NOT NULL,
	recorded_at  TEXT NOT NULL,
	UNIQUE (proposal_id, change_index)
);
CREATE INDEX IF NOT EXISTS evidence_ledger_entity ON evidence_ledger (project_id, kind, entity_id);
CREATE TABLE IF NOT EXISTS proposals (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS proposals_project ON proposals (project_id, status);
`

// Open opens (creating if needed) the database at path and applies the
// schema. The pool holds a single connection: SQLite serializes writers
// anyway, and an in-memory database exists per connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = Memory
	}
	dsn := path
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
