// Package dbopen opens SQLite databases the way the event log expects them:
// WAL journaling, foreign keys on, a generous busy timeout, and the schema
// applied before the first caller touches the handle.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/events.db", dbopen.WithSchema(observability.Schema))
//
// Tests use OpenMemory, which pins the pool to one connection so every query
// sees the same in-memory database.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type settings struct {
	busyTimeoutMS int
	mkdirAll      bool
	schemas       []string
}

// Option customises Open.
type Option func(*settings)

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds). Default 10000.
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyTimeoutMS = ms } }

// WithMkdirAll creates the parent directory of the database path first.
func WithMkdirAll() Option { return func(s *settings) { s.mkdirAll = true } }

// WithSchema queues SQL to run after the pragmas. Repeatable; statements run
// in the order the options were given.
func WithSchema(ddl string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, ddl) }
}

// Open opens (creating if needed) the SQLite database at path. The caller is
// responsible for blank-importing a driver registered as "sqlite".
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busyTimeoutMS: 10_000}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}

	setup := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
	}
	setup = append(setup, s.schemas...)

	for _, stmt := range setup {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for a test and closes it on cleanup.
// Connections to ":memory:" each get their own database, so the pool is
// limited to a single connection.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
