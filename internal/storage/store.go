package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
// Each component owns a disjoint set of keys in Values(); the usage table and
// the activity checkpoint live in Usage().
type Store interface {
	Close() error
	Values() ValueStore
	Usage() UsageStore
}

// ValueStore is a durable key/value space with change notifications.
type ValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Watch registers fn for every change to any key and returns a function
	// that unregisters it. fn may be invoked from a backend goroutine.
	Watch(fn ChangeFunc) (cancel func())
}

// UsageStore manages the day-keyed usage table and the activity checkpoint.
type UsageStore interface {
	GetDailyUsage(ctx context.Context, date, siteKey string) (*DailyUsage, error)
	ListDailyUsage(ctx context.Context, date string) ([]DailyUsage, error)
	ListAllDailyUsage(ctx context.Context) ([]DailyUsage, error)
	IncrementDailyUsage(ctx context.Context, date, siteKey string, seconds int64) error
	// Flush adds seconds to (date, siteKey) and stores checkpoint in the same
	// atomic write, so a replay after a crash never counts the delta twice.
	Flush(ctx context.Context, date, siteKey string, seconds int64, checkpoint ActivitySession) error
	// ReplaceAll swaps the whole usage table for records.
	ReplaceAll(ctx context.Context, records []DailyUsage) error
	Clear(ctx context.Context) error
	DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error)

	GetSession(ctx context.Context) (*ActivitySession, error)
	SaveSession(ctx context.Context, session ActivitySession) error
	DeleteSession(ctx context.Context) error
}
