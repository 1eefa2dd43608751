package agent

import (
	"context"
	"time"

	"github.com/goodtune/tabtime/internal/budget"
	"github.com/goodtune/tabtime/internal/jobs"
	"github.com/goodtune/tabtime/internal/sitekey"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
	"github.com/goodtune/tabtime/internal/usage"
)

// Status is a snapshot of the agent for the API and CLI.
type Status struct {
	Now          time.Time     `json:"now"`
	Date         string        `json:"date"`
	ActiveSite   string        `json:"active_site,omitempty"`
	SessionStart *time.Time    `json:"session_started_at,omitempty"`
	Suspended    bool          `json:"suspended"`
	TodaySeconds int64         `json:"today_seconds"`
	Today        string        `json:"today"`
	Badge        string        `json:"badge"`
	Pomodoro     budget.Status `json:"pomodoro"`
	Jobs         []jobs.Status `json:"jobs"`
}

// ActivateTab makes raw (a URL or hostname) the active site and returns its
// site key.
func (a *Agent) ActivateTab(ctx context.Context, raw string) (string, error) {
	siteKey, err := sitekey.Normalize(raw)
	if err != nil {
		return "", err
	}
	err = a.do(ctx, func(ctx context.Context, now time.Time) error {
		if err := a.tracker.OnTabActivated(ctx, siteKey, now); err != nil {
			return err
		}
		a.checkLimit(ctx, siteKey, now)
		return nil
	})
	return siteKey, err
}

// CloseTab ends the open session.
func (a *Agent) CloseTab(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		a.tracker.OnTabClosed(ctx, now)
		return nil
	})
}

// Suspend closes the open session and freezes the pomodoro cycle.
func (a *Agent) Suspend(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		a.tracker.OnSuspend(ctx, now)
		a.suspended = true
		return a.enforcer.Pause(ctx, now)
	})
}

// Resume continues the pomodoro cycle after Suspend. Tracking restarts with
// the next tab activation.
func (a *Agent) Resume(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		a.suspended = false
		return a.enforcer.Resume(ctx, now)
	})
}

// PausePomodoro freezes the pomodoro cycle without touching tracking.
func (a *Agent) PausePomodoro(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		return a.enforcer.Pause(ctx, now)
	})
}

// ResumePomodoro continues a paused pomodoro cycle.
func (a *Agent) ResumePomodoro(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		return a.enforcer.Resume(ctx, now)
	})
}

// ClearAll discards the open session and every usage record.
func (a *Agent) ClearAll(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		return a.tracker.ClearAll(ctx)
	})
}

// Restore replaces the usage records with records.
func (a *Agent) Restore(ctx context.Context, records []storage.DailyUsage) error {
	return a.do(ctx, func(ctx context.Context, now time.Time) error {
		return a.tracker.Restore(ctx, records, now)
	})
}

// Usage returns the records for date, or for today when date is empty.
func (a *Agent) Usage(ctx context.Context, date string) (*usage.Stats, error) {
	var stats *usage.Stats
	err := a.do(ctx, func(ctx context.Context, now time.Time) error {
		if date == "" {
			date = timeutil.LocalDate(now, a.tracker.Location())
		}
		var err error
		stats, err = a.tracker.Usage(ctx, date)
		return err
	})
	return stats, err
}

// Export returns every usage record.
func (a *Agent) Export(ctx context.Context) ([]storage.DailyUsage, error) {
	var records []storage.DailyUsage
	err := a.do(ctx, func(ctx context.Context, now time.Time) error {
		var err error
		records, err = a.tracker.Export(ctx)
		return err
	})
	return records, err
}

// Status reports the current state.
func (a *Agent) Status(ctx context.Context) (*Status, error) {
	var status *Status
	err := a.do(ctx, func(ctx context.Context, now time.Time) error {
		total, err := a.tracker.TotalToday(ctx, now)
		if err != nil {
			return err
		}
		status = &Status{
			Now:          now,
			Date:         timeutil.LocalDate(now, a.tracker.Location()),
			Suspended:    a.suspended,
			TodaySeconds: total,
			Today:        timeutil.SummaryString(total),
			Badge:        timeutil.BadgeString(total),
			Pomodoro:     a.enforcer.Status(ctx, now),
			Jobs:         a.scheduler.Jobs(),
		}
		if session := a.tracker.Session(); session != nil {
			status.ActiveSite = session.SiteKey
			start := session.StartedAt
			status.SessionStart = &start
		}
		return nil
	})
	return status, err
}
