package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const dateLayout = "2006-01-02"

type usageStore struct {
	client *redis.Client
	keys   keyspace
}

// GetDailyUsage retrieves daily usage for a specific date and site
func (s *usageStore) GetDailyUsage(ctx context.Context, date, siteKey string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, s.keys.dailyUsage(date, siteKey)).Result()
	if err != nil {
		return nil, err
	}
	return parseDailyUsage(data)
}

// ListDailyUsage returns all daily usage entries for a specific date
func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	sites, err := s.client.SMembers(ctx, s.keys.dailyIndex(date)).Result()
	if err != nil {
		return nil, err
	}

	if len(sites) == 0 {
		return []storage.DailyUsage{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sites))
	for i, site := range sites {
		cmds[i] = pipe.HGetAll(ctx, s.keys.dailyUsage(date, site))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	usages := make([]storage.DailyUsage, 0, len(sites))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		usage, err := parseDailyUsage(data)
		if err == nil {
			usages = append(usages, *usage)
		}
	}

	storage.SortDailyUsage(usages)
	return usages, nil
}

// ListAllDailyUsage returns every record ordered by date then site
func (s *usageStore) ListAllDailyUsage(ctx context.Context) ([]storage.DailyUsage, error) {
	dates, err := s.client.SMembers(ctx, s.keys.dates()).Result()
	if err != nil {
		return nil, err
	}

	all := make([]storage.DailyUsage, 0)
	for _, date := range dates {
		records, err := s.ListDailyUsage(ctx, date)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}

	storage.SortDailyUsage(all)
	return all, nil
}

// IncrementDailyUsage atomically increments (or creates) daily usage
func (s *usageStore) IncrementDailyUsage(ctx context.Context, date, siteKey string, seconds int64) error {
	if seconds < 0 {
		return fmt.Errorf("negative usage increment: %d", seconds)
	}
	keys := []string{s.keys.dailyUsage(date, siteKey), s.keys.dailyIndex(date), s.keys.dates()}
	return incrementDailyUsage.Run(ctx, s.client, keys, date, siteKey, seconds).Err()
}

// Flush increments daily usage and writes the tracker checkpoint atomically
func (s *usageStore) Flush(ctx context.Context, date, siteKey string, seconds int64, checkpoint storage.ActivitySession) error {
	if seconds < 0 {
		return fmt.Errorf("negative usage increment: %d", seconds)
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	keys := []string{s.keys.dailyUsage(date, siteKey), s.keys.dailyIndex(date), s.keys.dates(), s.keys.session()}
	return incrementDailyUsage.Run(ctx, s.client, keys, date, siteKey, seconds, data).Err()
}

// ReplaceAll swaps the usage table for records in a single MULTI/EXEC
func (s *usageStore) ReplaceAll(ctx context.Context, records []storage.DailyUsage) error {
	for _, r := range records {
		if err := storage.ValidateDailyUsage(r); err != nil {
			return err
		}
	}
	merged := storage.MergeDailyUsage(records)

	existing, err := s.usageKeys(ctx)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(existing) > 0 {
			pipe.Del(ctx, existing...)
		}
		for _, r := range merged {
			pipe.HSet(ctx, s.keys.dailyUsage(r.Date, r.SiteKey),
				"date", r.Date,
				"site_key", r.SiteKey,
				"seconds", r.Seconds,
			)
			pipe.SAdd(ctx, s.keys.dailyIndex(r.Date), r.SiteKey)
			pipe.SAdd(ctx, s.keys.dates(), r.Date)
		}
		return nil
	})
	return err
}

// Clear deletes every usage record and the tracker checkpoint
func (s *usageStore) Clear(ctx context.Context) error {
	existing, err := s.usageKeys(ctx)
	if err != nil {
		return err
	}
	existing = append(existing, s.keys.session())
	return s.client.Del(ctx, existing...).Err()
}

// usageKeys scans for every key in the usage namespace
func (s *usageStore) usageKeys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		found  []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keys.usagePattern(), 100).Result()
		if err != nil {
			return nil, err
		}
		found = append(found, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return found, nil
}

// DeleteDailyUsageBefore deletes daily usage entries before the cutoff date
// and returns the number of records removed
func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(dateLayout, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := s.client.SMembers(ctx, s.keys.dates()).Result()
	if err != nil {
		return 0, err
	}

	var deletedCount int
	for _, date := range dates {
		before, err := storage.BeforeDate(date, cutoffDate)
		if err != nil || !before {
			continue
		}

		sites, err := s.client.SMembers(ctx, s.keys.dailyIndex(date)).Result()
		if err != nil {
			return deletedCount, err
		}

		toDelete := make([]string, 0, len(sites)+1)
		for _, site := range sites {
			toDelete = append(toDelete, s.keys.dailyUsage(date, site))
		}
		toDelete = append(toDelete, s.keys.dailyIndex(date))

		var deleted *redis.IntCmd
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			deleted = pipe.Del(ctx, toDelete...)
			pipe.SRem(ctx, s.keys.dates(), date)
			return nil
		})
		if err != nil {
			return deletedCount, err
		}

		// The index key itself is not a record
		if n := int(deleted.Val()) - 1; n > 0 {
			deletedCount += n
		}
	}

	return deletedCount, nil
}

// GetSession returns the tracker checkpoint
func (s *usageStore) GetSession(ctx context.Context) (*storage.ActivitySession, error) {
	data, err := s.client.Get(ctx, s.keys.session()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session storage.ActivitySession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &session, nil
}

// SaveSession writes the tracker checkpoint
func (s *usageStore) SaveSession(ctx context.Context, session storage.ActivitySession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.keys.session(), data, 0).Err()
}

// DeleteSession removes the tracker checkpoint
func (s *usageStore) DeleteSession(ctx context.Context) error {
	return s.client.Del(ctx, s.keys.session()).Err()
}
