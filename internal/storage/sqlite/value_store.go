package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/tabtime/internal/storage"
)

type valueStore struct {
	db      *sql.DB
	changes *storage.Broadcaster
}

func (s *valueStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_values WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get value %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *valueStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return s.write(ctx, key, value, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv_values (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		return err
	})
}

func (s *valueStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM kv_values WHERE key = ?`, key)
		return err
	})
}

// write reads the previous value, applies op and publishes after commit.
func (s *valueStore) write(ctx context.Context, key string, newValue []byte, op func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var old []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv_values WHERE key = ?`, key).Scan(&old)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		old = nil
	case err != nil:
		return fmt.Errorf("read value %q: %w", key, err)
	case old == nil:
		old = []byte{}
	}

	if err := op(tx); err != nil {
		return fmt.Errorf("write value %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if storage.Changed(old, newValue) {
		s.changes.Publish(storage.Change{Key: key, OldValue: old, NewValue: newValue})
	}
	return nil
}

func (s *valueStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv_values WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	defer rows.Close()

	values := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

func (s *valueStore) Watch(fn storage.ChangeFunc) func() {
	return s.changes.Watch(fn)
}
