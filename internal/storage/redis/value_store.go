package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type valueStore struct {
	client  *redis.Client
	keys    keyspace
	changes *storage.Broadcaster
}

// Get returns the raw value stored under key
func (s *valueStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.keys.value(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key and publishes the change
func (s *valueStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return s.swap(ctx, key, "1", value)
}

// Delete removes key and publishes the change
func (s *valueStore) Delete(ctx context.Context, key string) error {
	return s.swap(ctx, key, "0", nil)
}

func (s *valueStore) swap(ctx context.Context, key, op string, value []byte) error {
	var old []byte
	result, err := swapValue.Run(ctx, s.client, []string{s.keys.value(key)}, op, value).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("swap value %s: %w", key, err)
	default:
		str, ok := result.(string)
		if !ok {
			return fmt.Errorf("swap value %s: unexpected reply %T", key, result)
		}
		old = []byte(str)
	}

	if !storage.Changed(old, value) {
		return nil
	}

	payload, err := json.Marshal(storage.Change{Key: key, OldValue: old, NewValue: value})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return s.client.Publish(ctx, s.keys.changes(), payload).Err()
}

// List returns every value whose key starts with prefix
func (s *valueStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	values := make(map[string][]byte)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keys.valuePattern(prefix), 100).Result()
		if err != nil {
			return nil, err
		}

		if len(keys) > 0 {
			results, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for i, result := range results {
				str, ok := result.(string)
				if !ok {
					continue
				}
				values[s.keys.valueName(keys[i])] = []byte(str)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return values, nil
}

// Watch registers fn for changes published by any process sharing the server
func (s *valueStore) Watch(fn storage.ChangeFunc) func() {
	return s.changes.Watch(fn)
}
