// Package agent owns the tracker, the enforcer and the job scheduler and
// drives them from a single event loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/budget"
	"github.com/goodtune/tabtime/internal/jobs"
	"github.com/goodtune/tabtime/internal/settings"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
	"github.com/goodtune/tabtime/internal/usage"
)

// ErrStopped is returned by commands sent after the loop has exited.
var ErrStopped = errors.New("agent: stopped")

// DefaultTickInterval drives heartbeats, limit checks and jobs.
const DefaultTickInterval = time.Second

// Options holds agent configuration
type Options struct {
	TickInterval time.Duration
	Clock        timeutil.Clock
}

type command struct {
	fn   func(ctx context.Context, now time.Time) error
	done chan error
}

// Agent serialises tab events, commands, setting changes and ticks through
// one goroutine. Commands from other goroutines are queued and wait for the
// loop to run them.
type Agent struct {
	values    storage.ValueStore
	settings  *settings.Registry
	tracker   *usage.Tracker
	enforcer  *budget.Enforcer
	scheduler *jobs.Scheduler
	clock     timeutil.Clock
	tick      time.Duration
	logger    zerolog.Logger

	commands chan command
	stopped  chan struct{}

	// Setting keys changed since the loop last looked. Store watchers may
	// fire from inside the loop's own writes, so they never block on it.
	pendingMu sync.Mutex
	pending   map[settings.Key]struct{}
	changed   chan struct{}

	suspended bool
}

// New creates an agent. Run must be called to start processing.
func New(values storage.ValueStore, registry *settings.Registry, tracker *usage.Tracker, enforcer *budget.Enforcer, scheduler *jobs.Scheduler, opts Options, logger zerolog.Logger) *Agent {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Agent{
		values:    values,
		settings:  registry,
		tracker:   tracker,
		enforcer:  enforcer,
		scheduler: scheduler,
		clock:     opts.Clock,
		tick:      opts.TickInterval,
		logger:    logger.With().Str("component", "agent").Logger(),
		commands:  make(chan command),
		stopped:   make(chan struct{}),
		pending:   make(map[settings.Key]struct{}),
		changed:   make(chan struct{}, 1),
	}
}

// Run initialises and recovers every component, then processes events until
// ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.stopped)

	cancelWatch := a.values.Watch(a.onChange)
	defer cancelWatch()

	if err := a.start(ctx, a.clock.Now()); err != nil {
		return err
	}

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	a.logger.Info().Dur("tick", a.tick).Msg("Agent started")

	for {
		select {
		case <-ctx.Done():
			a.shutdown(a.clock.Now())
			return nil

		case <-ticker.C:
			a.onTick(ctx, a.clock.Now())

		case <-a.enforcer.Ticks():
			if err := a.enforcer.Check(ctx, a.clock.Now()); err != nil {
				a.logger.Error().Err(err).Msg("Pomodoro check failed")
			}

		case <-a.changed:
			a.applyChanges(ctx, a.clock.Now())

		case cmd := <-a.commands:
			cmd.done <- cmd.fn(ctx, a.clock.Now())
		}
	}
}

// start records the install date on first run and recovers state.
func (a *Agent) start(ctx context.Context, now time.Time) error {
	if _, err := a.settings.InstallDate(ctx); errors.Is(err, settings.ErrSettingNotSet) {
		date := timeutil.LocalDate(now, a.tracker.Location())
		if err := a.settings.Set(ctx, settings.InstallDate, date); err != nil {
			return fmt.Errorf("failed to record install date: %w", err)
		}
		a.logger.Info().Str("install_date", date).Msg("First run, recorded install date")
	} else if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to read install date")
	}

	if err := a.tracker.RecoverOnStartup(ctx, now); err != nil {
		return fmt.Errorf("failed to recover tracker: %w", err)
	}
	if err := a.enforcer.Recover(ctx, now); err != nil {
		return fmt.Errorf("failed to recover pomodoro: %w", err)
	}
	if err := a.scheduler.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover job schedule: %w", err)
	}
	return nil
}

// shutdown flushes the open session but keeps its checkpoint, so a quick
// restart resumes it.
func (a *Agent) shutdown(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.tracker.Heartbeat(ctx, now); err != nil {
		a.logger.Warn().Err(err).Msg("Final heartbeat failed")
	}
	a.enforcer.Stop()
	a.logger.Info().Msg("Agent stopped")
}

func (a *Agent) onTick(ctx context.Context, now time.Time) {
	if err := a.tracker.Heartbeat(ctx, now); err != nil {
		a.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
	if site, ok := a.tracker.ActiveSite(); ok {
		a.checkLimit(ctx, site, now)
	}
	a.scheduler.Tick(ctx, now)
}

func (a *Agent) checkLimit(ctx context.Context, site string, now time.Time) {
	seconds, err := a.tracker.SecondsToday(ctx, site, now)
	if err != nil {
		a.logger.Warn().Err(err).Str("site", site).Msg("Failed to read today's usage")
		return
	}
	if _, err := a.enforcer.CheckLimit(ctx, site, seconds, now); err != nil {
		a.logger.Warn().Err(err).Str("site", site).Msg("Limit check failed")
	}
}

// onChange is the store watcher. It only records setting keys.
func (a *Agent) onChange(change storage.Change) {
	key, err := settings.ParseKey(change.Key)
	if err != nil {
		return
	}
	a.pendingMu.Lock()
	a.pending[key] = struct{}{}
	a.pendingMu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}
}

func (a *Agent) applyChanges(ctx context.Context, now time.Time) {
	a.pendingMu.Lock()
	pending := a.pending
	a.pending = make(map[settings.Key]struct{})
	a.pendingMu.Unlock()

	for key := range pending {
		if err := a.settings.Reload(ctx, key); err != nil {
			a.logger.Warn().Err(err).Str("key", string(key)).Msg("Failed to reload setting")
			continue
		}
		a.logger.Debug().Str("key", string(key)).Msg("Setting reloaded")

		switch key {
		case settings.PomodoroEnabled:
			enabled, err := a.settings.PomodoroEnabled(ctx)
			if err != nil {
				continue
			}
			if err := a.enforcer.SetEnabled(ctx, enabled, now); err != nil {
				a.logger.Error().Err(err).Bool("enabled", enabled).Msg("Failed to toggle pomodoro")
			}
		case settings.SiteLimits:
			if site, ok := a.tracker.ActiveSite(); ok {
				a.checkLimit(ctx, site, now)
			}
		}
	}
}

// do runs fn on the loop and waits for its result.
func (a *Agent) do(ctx context.Context, fn func(ctx context.Context, now time.Time) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case a.commands <- cmd:
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
