// Package database is the SQL storage layer: learned lessons and session
// checkpoints. SQLite is the default backend; PostgreSQL is available for
// shared deployments. All queries are written with ? placeholders and
// rebound for postgres.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQL connection shared by the lesson and session
// stores.
type Database struct {
	db       *sql.DB
	postgres bool
}

// New opens (or creates) a SQLite database at the given path and
// initializes the schema.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// Serialized writers; the lesson store depends on it.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &Database{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS learned_lessons (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL,
		schema_name TEXT,
		table_name TEXT,
		schema_column TEXT,
		doc TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lessons_kind ON learned_lessons(kind);
	CREATE INDEX IF NOT EXISTS idx_lessons_schema_name ON learned_lessons(schema_name);
	CREATE INDEX IF NOT EXISTS idx_lessons_table ON learned_lessons(table_name);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		query TEXT NOT NULL,
		doc TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
