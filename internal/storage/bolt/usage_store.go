package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetDailyUsage(ctx context.Context, date, siteKey string) (*storage.DailyUsage, error) {
	return getBucketValue[storage.DailyUsage](ctx, s.db, bucketDailyUsage, dailyUsageKey(date, siteKey))
}

func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	return s.list(ctx, []byte(date+"/"))
}

func (s *usageStore) ListAllDailyUsage(ctx context.Context) ([]storage.DailyUsage, error) {
	return s.list(ctx, nil)
}

func (s *usageStore) list(ctx context.Context, prefix []byte) ([]storage.DailyUsage, error) {
	items := make([]storage.DailyUsage, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketDailyUsage)).Cursor()
		for k, v := seek(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			items = append(items, usage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *usageStore) IncrementDailyUsage(ctx context.Context, date, siteKey string, seconds int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return incrementTx(tx, date, siteKey, seconds)
	})
}

func (s *usageStore) Flush(ctx context.Context, date, siteKey string, seconds int64, checkpoint storage.ActivitySession) error {
	data, err := marshal(checkpoint)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := incrementTx(tx, date, siteKey, seconds); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketTracker)).Put([]byte(keySession), data)
	})
}

func incrementTx(tx *bbolt.Tx, date, siteKey string, seconds int64) error {
	if seconds < 0 {
		return fmt.Errorf("negative usage increment: %d", seconds)
	}
	b := tx.Bucket([]byte(bucketDailyUsage))
	if b == nil {
		return fmt.Errorf("daily usage bucket missing")
	}
	key := dailyUsageKey(date, siteKey)
	var usage storage.DailyUsage
	if existing := b.Get([]byte(key)); existing != nil {
		if err := unmarshal(existing, &usage); err != nil {
			return err
		}
	} else {
		usage = storage.DailyUsage{
			Date:    date,
			SiteKey: siteKey,
		}
	}
	usage.Seconds += seconds
	data, err := marshal(usage)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (s *usageStore) ReplaceAll(ctx context.Context, records []storage.DailyUsage) error {
	for _, r := range records {
		if err := storage.ValidateDailyUsage(r); err != nil {
			return err
		}
	}
	merged := storage.MergeDailyUsage(records)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := recreateBucket(tx, bucketDailyUsage)
		if err != nil {
			return err
		}
		for _, r := range merged {
			data, err := marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(dailyUsageKey(r.Date, r.SiteKey)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *usageStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := recreateBucket(tx, bucketDailyUsage); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketTracker)).Delete([]byte(keySession))
	})
}

func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(dateLayout, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			before, err := storage.BeforeDate(usage.Date, cutoffDate)
			if err != nil {
				return nil
			}
			if before {
				stale = append(stale, copyBytes(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *usageStore) GetSession(ctx context.Context) (*storage.ActivitySession, error) {
	return getBucketValue[storage.ActivitySession](ctx, s.db, bucketTracker, keySession)
}

func (s *usageStore) SaveSession(ctx context.Context, session storage.ActivitySession) error {
	return putBucketValue(ctx, s.db, bucketTracker, keySession, session)
}

func (s *usageStore) DeleteSession(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tx.Bucket([]byte(bucketTracker)).Delete([]byte(keySession))
	})
}

const dateLayout = "2006-01-02"

func dailyUsageKey(date, siteKey string) string {
	return fmt.Sprintf("%s/%s", date, siteKey)
}
