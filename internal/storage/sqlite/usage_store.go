package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/storage"
)

const dateLayout = "2006-01-02"

type usageStore struct {
	db *sql.DB
}

func (s *usageStore) GetDailyUsage(ctx context.Context, date, siteKey string) (*storage.DailyUsage, error) {
	usage := storage.DailyUsage{Date: date, SiteKey: siteKey}
	err := s.db.QueryRowContext(ctx,
		`SELECT seconds FROM daily_usage WHERE date = ? AND site_key = ?`, date, siteKey,
	).Scan(&usage.Seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily usage: %w", err)
	}
	return &usage, nil
}

func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	return s.query(ctx,
		`SELECT date, site_key, seconds FROM daily_usage WHERE date = ? ORDER BY site_key`, date)
}

func (s *usageStore) ListAllDailyUsage(ctx context.Context) ([]storage.DailyUsage, error) {
	return s.query(ctx,
		`SELECT date, site_key, seconds FROM daily_usage ORDER BY date, site_key`)
}

func (s *usageStore) query(ctx context.Context, query string, args ...any) ([]storage.DailyUsage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list daily usage: %w", err)
	}
	defer rows.Close()

	usages := make([]storage.DailyUsage, 0)
	for rows.Next() {
		var u storage.DailyUsage
		if err := rows.Scan(&u.Date, &u.SiteKey, &u.Seconds); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

func (s *usageStore) IncrementDailyUsage(ctx context.Context, date, siteKey string, seconds int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return incrementTx(ctx, tx, date, siteKey, seconds)
	})
}

func (s *usageStore) Flush(ctx context.Context, date, siteKey string, seconds int64, checkpoint storage.ActivitySession) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := incrementTx(ctx, tx, date, siteKey, seconds); err != nil {
			return err
		}
		return saveSessionTx(ctx, tx, checkpoint)
	})
}

func incrementTx(ctx context.Context, tx *sql.Tx, date, siteKey string, seconds int64) error {
	if seconds < 0 {
		return fmt.Errorf("negative usage increment: %d", seconds)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO daily_usage (date, site_key, seconds) VALUES (?, ?, ?)
		 ON CONFLICT(date, site_key) DO UPDATE SET seconds = seconds + excluded.seconds`,
		date, siteKey, seconds,
	)
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	return nil
}

func (s *usageStore) ReplaceAll(ctx context.Context, records []storage.DailyUsage) error {
	for _, r := range records {
		if err := storage.ValidateDailyUsage(r); err != nil {
			return err
		}
	}
	merged := storage.MergeDailyUsage(records)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_usage`); err != nil {
			return fmt.Errorf("clear daily usage: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO daily_usage (date, site_key, seconds) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range merged {
			if _, err := stmt.ExecContext(ctx, r.Date, r.SiteKey, r.Seconds); err != nil {
				return fmt.Errorf("insert %s/%s: %w", r.Date, r.SiteKey, err)
			}
		}
		return nil
	})
}

func (s *usageStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_usage`); err != nil {
			return fmt.Errorf("clear daily usage: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracker_session`); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	})
}

func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(dateLayout, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	// YYYY-MM-DD sorts lexically in date order.
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_usage WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("prune daily usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *usageStore) GetSession(ctx context.Context) (*storage.ActivitySession, error) {
	var session storage.ActivitySession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, site_key, started_at_ms, last_heartbeat_ms FROM tracker_session WHERE slot = 1`,
	).Scan(&session.ID, &session.SiteKey, &session.StartedAtMs, &session.LastHeartbeatMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

func (s *usageStore) SaveSession(ctx context.Context, session storage.ActivitySession) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return saveSessionTx(ctx, tx, session)
	})
}

func saveSessionTx(ctx context.Context, tx *sql.Tx, session storage.ActivitySession) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tracker_session (slot, id, site_key, started_at_ms, last_heartbeat_ms) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
			id = excluded.id,
			site_key = excluded.site_key,
			started_at_ms = excluded.started_at_ms,
			last_heartbeat_ms = excluded.last_heartbeat_ms`,
		session.ID, session.SiteKey, session.StartedAtMs, session.LastHeartbeatMs,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *usageStore) DeleteSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracker_session`); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *usageStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
