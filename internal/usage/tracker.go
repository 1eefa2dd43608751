package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/notify"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
)

const (
	// DefaultAbandonThreshold is the largest gap that is still counted as activity
	DefaultAbandonThreshold = 5 * time.Second

	// DefaultCacheSize bounds the per-site totals kept in memory
	DefaultCacheSize = 256
)

// Config holds tracker configuration
type Config struct {
	AbandonThreshold time.Duration
	Location         *time.Location
	CacheSize        int
}

// Tracker attributes elapsed time to the active site and accumulates it into
// per-date, per-site records. At most one session is open at a time.
//
// A Tracker is not safe for concurrent use; the agent loop owns it.
type Tracker struct {
	usageStore       storage.UsageStore
	notifier         notify.Notifier
	abandonThreshold time.Duration
	loc              *time.Location
	logger           zerolog.Logger

	session  *Session
	lastSeen time.Time // last live tick; zero after recovery
	lastDate string

	// today caches committed totals keyed by date/site
	today *lru.Cache[string, int64]
}

// NewTracker creates a new usage tracker
func NewTracker(usageStore storage.UsageStore, notifier notify.Notifier, config Config, logger zerolog.Logger) (*Tracker, error) {
	if config.AbandonThreshold <= 0 {
		config.AbandonThreshold = DefaultAbandonThreshold
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if notifier == nil {
		notifier = notify.Multi{}
	}

	cache, err := lru.New[string, int64](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create usage cache: %w", err)
	}

	return &Tracker{
		usageStore:       usageStore,
		notifier:         notifier,
		abandonThreshold: config.AbandonThreshold,
		loc:              config.Location,
		logger:           logger.With().Str("component", "usage-tracker").Logger(),
		today:            cache,
	}, nil
}

// Location returns the zone used for day bucketing.
func (t *Tracker) Location() *time.Location { return t.loc }

// OnTabActivated closes the open session and opens a new one for siteKey.
func (t *Tracker) OnTabActivated(ctx context.Context, siteKey string, now time.Time) error {
	if siteKey == "" {
		return fmt.Errorf("activate: empty site key")
	}
	t.observeDate(now)
	t.closeSession(ctx, now)

	session := &Session{
		ID:            uuid.NewString(),
		SiteKey:       siteKey,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	t.session = session
	t.lastSeen = now
	metrics.ActiveSession.Set(1)

	t.logger.Debug().
		Str("session_id", session.ID).
		Str("site", siteKey).
		Msg("Started activity session")

	if err := t.usageStore.SaveSession(ctx, session.checkpoint(now)); err != nil {
		return fmt.Errorf("failed to checkpoint session: %w", err)
	}
	return nil
}

// OnTabClosed flushes and closes the open session.
func (t *Tracker) OnTabClosed(ctx context.Context, now time.Time) {
	t.observeDate(now)
	t.closeSession(ctx, now)
}

// OnSuspend flushes and closes the open session before the process sleeps.
func (t *Tracker) OnSuspend(ctx context.Context, now time.Time) {
	t.OnTabClosed(ctx, now)
}

// Heartbeat flushes the time elapsed since the previous heartbeat.
// It is driven by the 1 Hz tick and is a no-op without an open session.
func (t *Tracker) Heartbeat(ctx context.Context, now time.Time) error {
	t.observeDate(now)

	session := t.session
	if session == nil {
		return nil
	}

	if !t.lastSeen.IsZero() && now.Sub(t.lastSeen) > t.abandonThreshold {
		t.logger.Info().
			Str("site", session.SiteKey).
			Dur("gap", now.Sub(t.lastSeen)).
			Msg("Tick gap exceeds abandon threshold, dropping it")
		return t.resync(ctx, now)
	}

	if now.Before(session.LastHeartbeat) {
		t.logger.Warn().
			Time("last_heartbeat", session.LastHeartbeat).
			Time("now", now).
			Msg("Clock moved backward, resyncing heartbeat")
		return t.resync(ctx, now)
	}

	t.lastSeen = now
	return t.flush(ctx, now)
}

// resync moves the heartbeat baseline to now without counting the gap.
func (t *Tracker) resync(ctx context.Context, now time.Time) error {
	t.session.LastHeartbeat = now
	t.lastSeen = now
	if err := t.usageStore.SaveSession(ctx, t.session.checkpoint(now)); err != nil {
		return fmt.Errorf("failed to checkpoint session: %w", err)
	}
	return nil
}

// flush commits [LastHeartbeat, now) split at local midnight. Each segment is
// one atomic increment-plus-checkpoint write; on failure the checkpoint stays
// at the last committed segment and the next tick retries the remainder.
func (t *Tracker) flush(ctx context.Context, now time.Time) error {
	session := t.session
	for _, seg := range timeutil.Segments(session.LastHeartbeat, now, t.loc) {
		secs := seg.Seconds()
		checkpoint := session.checkpoint(seg.To)

		var err error
		if secs > 0 {
			err = t.usageStore.Flush(ctx, seg.Date, session.SiteKey, secs, checkpoint)
		} else {
			err = t.usageStore.SaveSession(ctx, checkpoint)
		}
		if err != nil {
			metrics.FlushErrorsTotal.Inc()
			t.logger.Error().
				Err(err).
				Str("site", session.SiteKey).
				Str("date", seg.Date).
				Int64("seconds", secs).
				Msg("Failed to flush usage, will retry on next tick")
			return fmt.Errorf("failed to flush usage: %w", err)
		}

		session.LastHeartbeat = seg.To
		if secs > 0 {
			t.addCached(seg.Date, session.SiteKey, secs)
			metrics.TrackedSecondsTotal.Add(float64(secs))
		}
	}
	return nil
}

// closeSession flushes up to now when now is within the abandon threshold
// of the last activity, then drops the session and its checkpoint.
func (t *Tracker) closeSession(ctx context.Context, now time.Time) {
	session := t.session
	if session == nil {
		return
	}

	reference := t.lastSeen
	if reference.IsZero() {
		reference = session.LastHeartbeat
	}
	switch {
	case now.Before(session.LastHeartbeat):
		t.logger.Warn().Str("site", session.SiteKey).Msg("Clock moved backward, closing without final heartbeat")
	case now.Sub(reference) > t.abandonThreshold:
		t.logger.Info().
			Str("site", session.SiteKey).
			Dur("gap", now.Sub(reference)).
			Msg("Closing session without counting gap beyond abandon threshold")
	default:
		if err := t.flush(ctx, now); err != nil {
			t.logger.Warn().Err(err).Str("site", session.SiteKey).Msg("Final heartbeat not flushed")
		}
	}

	t.logger.Debug().
		Str("session_id", session.ID).
		Str("site", session.SiteKey).
		Dur("duration", session.LastHeartbeat.Sub(session.StartedAt)).
		Msg("Closed activity session")

	t.session = nil
	t.lastSeen = time.Time{}
	metrics.ActiveSession.Set(0)

	if err := t.usageStore.DeleteSession(ctx); err != nil {
		t.logger.Error().Err(err).Msg("Failed to delete session checkpoint")
	}
}

// RecoverOnStartup rebuilds the open session from the persisted checkpoint.
// A checkpoint older than the abandon threshold is discarded without backfill.
// Calling it repeatedly without intervening events changes nothing.
func (t *Tracker) RecoverOnStartup(ctx context.Context, now time.Time) error {
	t.session = nil
	t.lastSeen = time.Time{}
	t.lastDate = timeutil.LocalDate(now, t.loc)
	metrics.ActiveSession.Set(0)

	checkpoint, err := t.usageStore.GetSession(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session checkpoint: %w", err)
	}

	session := sessionFromCheckpoint(*checkpoint)
	gap := now.Sub(session.LastHeartbeat)
	if gap > t.abandonThreshold {
		t.logger.Info().
			Str("site", session.SiteKey).
			Dur("gap", gap).
			Msg("Discarding abandoned session")
		if err := t.usageStore.DeleteSession(ctx); err != nil {
			return fmt.Errorf("failed to delete abandoned session: %w", err)
		}
		return nil
	}

	if gap < 0 {
		// Clock moved backward while we were down
		session.LastHeartbeat = now
	}

	t.session = session
	metrics.ActiveSession.Set(1)
	t.logger.Info().
		Str("session_id", session.ID).
		Str("site", session.SiteKey).
		Dur("gap", gap).
		Msg("Resumed activity session")
	return nil
}

// ClearAll drops the open session without flushing and deletes every record.
func (t *Tracker) ClearAll(ctx context.Context) error {
	t.session = nil
	t.lastSeen = time.Time{}
	t.today.Purge()
	metrics.ActiveSession.Set(0)

	if err := t.usageStore.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear usage: %w", err)
	}
	t.logger.Info().Msg("Cleared all usage data")
	return nil
}

// Restore replaces the usage table with records and re-runs recovery.
func (t *Tracker) Restore(ctx context.Context, records []storage.DailyUsage, now time.Time) error {
	if err := t.usageStore.ReplaceAll(ctx, records); err != nil {
		return fmt.Errorf("failed to restore usage: %w", err)
	}
	t.today.Purge()
	t.logger.Info().Int("records", len(records)).Msg("Restored usage data")
	return t.RecoverOnStartup(ctx, now)
}

// ActiveSite returns the site of the open session.
func (t *Tracker) ActiveSite() (string, bool) {
	if t.session == nil {
		return "", false
	}
	return t.session.SiteKey, true
}

// Session returns a copy of the open session, or nil.
func (t *Tracker) Session() *Session {
	if t.session == nil {
		return nil
	}
	s := *t.session
	return &s
}

// SecondsToday returns the committed seconds for siteKey on now's local date.
func (t *Tracker) SecondsToday(ctx context.Context, siteKey string, now time.Time) (int64, error) {
	date := timeutil.LocalDate(now, t.loc)
	key := cacheKey(date, siteKey)
	if secs, ok := t.today.Get(key); ok {
		return secs, nil
	}

	record, err := t.usageStore.GetDailyUsage(ctx, date, siteKey)
	if errors.Is(err, storage.ErrNotFound) {
		t.today.Add(key, 0)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query daily usage: %w", err)
	}
	t.today.Add(key, record.Seconds)
	return record.Seconds, nil
}

// TotalToday returns the committed seconds across all sites on now's local date.
func (t *Tracker) TotalToday(ctx context.Context, now time.Time) (int64, error) {
	stats, err := t.Usage(ctx, timeutil.LocalDate(now, t.loc))
	if err != nil {
		return 0, err
	}
	return stats.TotalSeconds, nil
}

// Usage returns the records for date and their total.
func (t *Tracker) Usage(ctx context.Context, date string) (*Stats, error) {
	records, err := t.usageStore.ListDailyUsage(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily usage: %w", err)
	}
	stats := &Stats{Date: date, Sites: records}
	for _, r := range records {
		stats.TotalSeconds += r.Seconds
	}
	return stats, nil
}

// Export returns every stored record, ordered by date then site.
func (t *Tracker) Export(ctx context.Context) ([]storage.DailyUsage, error) {
	records, err := t.usageStore.ListAllDailyUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	return records, nil
}

// observeDate emits day-rolled-over the first time a later local date is seen.
// Earlier dates after a backward clock jump leave the high-water mark alone.
func (t *Tracker) observeDate(now time.Time) {
	date := timeutil.LocalDate(now, t.loc)
	if date <= t.lastDate {
		return
	}
	if t.lastDate != "" {
		t.logger.Info().
			Str("previous", t.lastDate).
			Str("date", date).
			Msg("Local day rolled over")
		t.notifier.Notify(notify.Signal{Kind: notify.DayRolledOver, Date: date, At: now})
	}
	t.lastDate = date
}

// addCached bumps a cached total only when it is already present, so the
// cache never holds a value the store has not confirmed.
func (t *Tracker) addCached(date, siteKey string, secs int64) {
	key := cacheKey(date, siteKey)
	if current, ok := t.today.Peek(key); ok {
		t.today.Add(key, current+secs)
	}
}

func cacheKey(date, siteKey string) string {
	return date + "/" + siteKey
}
