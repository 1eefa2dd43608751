// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/goodtune/tabtime/internal/storage"
	_ "modernc.org/sqlite"
)

const currentVersion = 1

// Store implements the storage.Store interface using SQLite.
type Store struct {
	db      *sql.DB
	changes storage.Broadcaster
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Values returns the key/value store.
func (s *Store) Values() storage.ValueStore { return &valueStore{db: s.db, changes: &s.changes} }

// Usage returns the usage store.
func (s *Store) Usage() storage.UsageStore { return &usageStore{db: s.db} }

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS kv_values (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_usage (
		date     TEXT NOT NULL,
		site_key TEXT NOT NULL,
		seconds  INTEGER NOT NULL DEFAULT 0 CHECK (seconds >= 0),
		PRIMARY KEY (date, site_key)
	);

	CREATE TABLE IF NOT EXISTS tracker_session (
		slot              INTEGER PRIMARY KEY CHECK (slot = 1),
		id                TEXT NOT NULL,
		site_key          TEXT NOT NULL,
		started_at_ms     INTEGER NOT NULL,
		last_heartbeat_ms INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(ddl)
	return err
}
