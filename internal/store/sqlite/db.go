// Package sqlite keeps the ledger event journal in an embedded SQLite file
// for the single-process local mode.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ledger_events (
    seq INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    activity_id INTEGER NOT NULL,
    ticket_id INTEGER,
    actor TEXT NOT NULL,
    payload TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_activity ON ledger_events(activity_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_name ON ledger_events(name, seq);
`

// Open creates or opens the database at path with WAL enabled. ":memory:"
// opens a private in-memory database on a single connection.
func Open(path string) (*sql.DB, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate creates the schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return nil
}
