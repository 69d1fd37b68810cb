// Package store is the embedded SQL store private to one agent. Each
// OwnerKey gets its own SQLite database file; all access happens from the
// owning agent's single writer, so the connection pool is capped at one.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the per-agent database handle. Location is the canonical path
// string used as the storage key in every table.
type Store struct {
	db       *sql.DB
	location string
}

// Open opens (creating if necessary) the database for one owner key and
// brings the schema up to the current version.
func Open(dataDir, ownerKey, location string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, fileName(ownerKey))
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Single writer: the owning agent serializes all access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, location: location}, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory(location string) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, location: location}, nil
}

// Location returns the canonical path this store is keyed on.
func (s *Store) Location() string { return s.location }

// Close closes the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// fileName maps an owner key to a safe database file name. Characters
// outside [A-Za-z0-9 _-] collapse to underscores; spaces are kept (legal in
// segments) but leading/trailing ones trimmed.
func fileName(ownerKey string) string {
	var b strings.Builder
	for _, r := range ownerKey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		name = "root"
	}
	return name + ".db"
}

// encodeTime / decodeTime keep timestamps in a single canonical column form.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
