package bolt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goodtune/tabtime/internal/storage"
	"go.etcd.io/bbolt"
)

type valueStore struct {
	db      *bbolt.DB
	changes *storage.Broadcaster
}

func (s *valueStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		v := tx.Bucket([]byte(bucketValues)).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		value = copyBytes(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *valueStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return s.write(ctx, key, func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), value)
	}, value)
}

func (s *valueStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	}, nil)
}

// write applies op to key and publishes the change after commit.
func (s *valueStore) write(ctx context.Context, key string, op func(*bbolt.Bucket) error, newValue []byte) error {
	var old []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketValues))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketValues)
		}
		old = copyBytes(b.Get([]byte(key)))
		return op(b)
	})
	if err != nil {
		return err
	}

	if storage.Changed(old, newValue) {
		s.changes.Publish(storage.Change{Key: key, OldValue: old, NewValue: copyBytes(newValue)})
	}
	return nil
}

func (s *valueStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	values := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketValues)).Cursor()
		p := []byte(prefix)
		for k, v := seek(c, p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			values[string(k)] = copyBytes(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *valueStore) Watch(fn storage.ChangeFunc) func() {
	return s.changes.Watch(fn)
}
