package usage

import (
	"time"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
)

// Session is the open accrual window for the active site.
// Everything up to LastHeartbeat has been flushed to the store.
type Session struct {
	ID            string
	SiteKey       string
	StartedAt     time.Time
	LastHeartbeat time.Time
}

func (s *Session) checkpoint(lastHeartbeat time.Time) storage.ActivitySession {
	return storage.ActivitySession{
		ID:              s.ID,
		SiteKey:         s.SiteKey,
		StartedAtMs:     timeutil.ToEpochMs(s.StartedAt),
		LastHeartbeatMs: timeutil.ToEpochMs(lastHeartbeat),
	}
}

func sessionFromCheckpoint(cp storage.ActivitySession) *Session {
	return &Session{
		ID:            cp.ID,
		SiteKey:       cp.SiteKey,
		StartedAt:     timeutil.FromEpochMs(cp.StartedAtMs),
		LastHeartbeat: timeutil.FromEpochMs(cp.LastHeartbeatMs),
	}
}

// Stats summarises one local date.
type Stats struct {
	Date         string               `json:"date"`
	TotalSeconds int64                `json:"total_seconds"`
	Sites        []storage.DailyUsage `json:"sites"`
}
