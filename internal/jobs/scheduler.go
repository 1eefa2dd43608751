// Package jobs runs named periodic maintenance jobs from the agent tick.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
)

const lastRunPrefix = "jobs:last_run:"

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// Status reports a job's schedule.
type Status struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
}

type entry struct {
	job     Job
	lastRun time.Time
}

// Scheduler runs each registered job at most once per interval. Jobs overdue
// by several intervals run once; there is no catch-up. It is driven by Tick
// from the agent loop and is not safe for concurrent use.
type Scheduler struct {
	values storage.ValueStore
	logger zerolog.Logger
	jobs   []*entry
}

// NewScheduler creates a new scheduler
func NewScheduler(values storage.ValueStore, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		values: values,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a job. Jobs with a non-positive interval are disabled.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a run function")
	}
	for _, e := range s.jobs {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %q already registered", job.Name)
		}
	}
	if job.Interval <= 0 {
		s.logger.Debug().Str("job", job.Name).Msg("Job disabled")
		return nil
	}
	s.jobs = append(s.jobs, &entry{job: job})
	return nil
}

// Recover reloads the persisted last-run marks.
func (s *Scheduler) Recover(ctx context.Context) error {
	for _, e := range s.jobs {
		data, err := s.values.Get(ctx, lastRunPrefix+e.job.Name)
		if errors.Is(err, storage.ErrNotFound) {
			e.lastRun = time.Time{}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load last run of %s: %w", e.job.Name, err)
		}
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			s.logger.Warn().Str("job", e.job.Name).Msg("Ignoring malformed last-run mark")
			e.lastRun = time.Time{}
			continue
		}
		e.lastRun = timeutil.FromEpochMs(ms)
	}
	return nil
}

// Tick runs every due job and returns the names of those that ran.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var ran []string
	for _, e := range s.jobs {
		if !e.lastRun.IsZero() && now.Before(e.lastRun) {
			s.logger.Warn().
				Str("job", e.job.Name).
				Time("last_run", e.lastRun).
				Msg("Clock moved backward, rebasing job schedule")
			s.mark(ctx, e, now)
			continue
		}
		if !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.job.Interval {
			continue
		}

		result := "success"
		if err := e.job.Run(ctx, now); err != nil {
			result = "error"
			s.logger.Error().Err(err).Str("job", e.job.Name).Msg("Job failed")
		}
		metrics.JobRunsTotal.WithLabelValues(e.job.Name, result).Inc()

		s.mark(ctx, e, now)
		ran = append(ran, e.job.Name)
	}
	return ran
}

// RunNow runs the named job immediately, regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, now time.Time) error {
	for _, e := range s.jobs {
		if e.job.Name != name {
			continue
		}
		err := e.job.Run(ctx, now)
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.JobRunsTotal.WithLabelValues(name, result).Inc()
		s.mark(ctx, e, now)
		return err
	}
	return fmt.Errorf("unknown job %q", name)
}

// Jobs reports every registered job.
func (s *Scheduler) Jobs() []Status {
	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		status := Status{Name: e.job.Name, Interval: e.job.Interval}
		if !e.lastRun.IsZero() {
			last := e.lastRun
			status.LastRun = &last
		}
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) mark(ctx context.Context, e *entry, now time.Time) {
	e.lastRun = now
	value := strconv.FormatInt(timeutil.ToEpochMs(now), 10)
	if err := s.values.Set(ctx, lastRunPrefix+e.job.Name, []byte(value)); err != nil {
		s.logger.Error().Err(err).Str("job", e.job.Name).Msg("Failed to persist last run")
	}
}
