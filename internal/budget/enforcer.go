// Package budget runs the pomodoro cycle and per-site daily limits.
package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/notify"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
)

const (
	stateKey     = "pomodoro:state"
	signalledKey = "budget:signalled"

	// DefaultTickInterval is how often the pomodoro cycle is checked
	DefaultTickInterval = time.Second
)

// State is the pomodoro state.
type State int

const (
	Disabled State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "disabled"
	}
}

// Settings supplies the budget configuration. *settings.Registry satisfies it.
type Settings interface {
	PomodoroEnabled(ctx context.Context) (bool, error)
	PomodoroInterval(ctx context.Context) (time.Duration, error)
	SiteLimits(ctx context.Context) (map[string]int64, error)
}

// pomodoroState is the persisted cycle state.
type pomodoroState struct {
	State            State `json:"state"`
	CycleStartedAtMs int64 `json:"cycle_started_at_ms,omitempty"`
	PausedAtMs       int64 `json:"paused_at_ms,omitempty"`
}

// signalledSet records the sites already signalled on Date.
type signalledSet struct {
	Date  string          `json:"date"`
	Sites map[string]bool `json:"sites"`
}

// with returns a copy of s with site marked or cleared.
func (s signalledSet) with(site string, mark bool) signalledSet {
	sites := make(map[string]bool, len(s.Sites)+1)
	for k, v := range s.Sites {
		sites[k] = v
	}
	if mark {
		sites[site] = true
	} else {
		delete(sites, site)
	}
	return signalledSet{Date: s.Date, Sites: sites}
}

// Status is a snapshot of the enforcer for status reports.
type Status struct {
	State          string     `json:"state"`
	CycleStartedAt *time.Time `json:"cycle_started_at,omitempty"`
	Remaining      string     `json:"remaining,omitempty"`
}

// Enforcer emits cycle-complete every pomodoro interval while running and
// limit-exceeded once per site and date. It is owned by the agent loop and is
// not safe for concurrent use.
type Enforcer struct {
	values       storage.ValueStore
	settings     Settings
	notifier     notify.Notifier
	loc          *time.Location
	tickInterval time.Duration
	logger       zerolog.Logger

	state      State
	cycleStart time.Time
	pausedAt   time.Time
	ticker     *time.Ticker

	signalled signalledSet
}

// Config holds enforcer configuration
type Config struct {
	Location     *time.Location
	TickInterval time.Duration
}

// NewEnforcer creates a new enforcer in the Disabled state.
func NewEnforcer(values storage.ValueStore, settings Settings, notifier notify.Notifier, config Config, logger zerolog.Logger) *Enforcer {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if notifier == nil {
		notifier = notify.Multi{}
	}
	return &Enforcer{
		values:       values,
		settings:     settings,
		notifier:     notifier,
		loc:          config.Location,
		tickInterval: config.TickInterval,
		logger:       logger.With().Str("component", "budget").Logger(),
		signalled:    signalledSet{Sites: map[string]bool{}},
	}
}

// State returns the current pomodoro state.
func (e *Enforcer) State() State { return e.state }

// Ticks returns the pomodoro tick channel, or nil while disabled.
func (e *Enforcer) Ticks() <-chan time.Time {
	if e.ticker == nil {
		return nil
	}
	return e.ticker.C
}

// SetEnabled turns the pomodoro on or off. Turning it off stops the ticker
// before returning.
func (e *Enforcer) SetEnabled(ctx context.Context, enabled bool, now time.Time) error {
	if !enabled {
		if e.state == Disabled {
			return nil
		}
		e.stopTicker()
		e.state = Disabled
		e.cycleStart = time.Time{}
		e.pausedAt = time.Time{}
		e.logger.Info().Msg("Pomodoro disabled")
		return e.persist(ctx)
	}

	if e.state != Disabled {
		return nil
	}
	e.startCycle(now)
	e.logger.Info().Time("cycle_start", now).Msg("Pomodoro enabled")
	return e.persist(ctx)
}

// Check emits cycle-complete when a full interval has elapsed since the
// cycle started, then starts the next cycle at now.
func (e *Enforcer) Check(ctx context.Context, now time.Time) error {
	if e.state != Running {
		return nil
	}

	interval, err := e.settings.PomodoroInterval(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pomodoro interval: %w", err)
	}

	elapsed := now.Sub(e.cycleStart)
	if elapsed < 0 {
		e.logger.Warn().Time("cycle_start", e.cycleStart).Msg("Clock moved backward, restarting cycle")
		e.cycleStart = now
		return e.persist(ctx)
	}
	if elapsed < interval {
		return nil
	}

	e.logger.Info().Dur("interval", interval).Msg("Pomodoro cycle complete")
	e.notifier.Notify(notify.Signal{Kind: notify.CycleComplete, At: now})
	e.cycleStart = now
	return e.persist(ctx)
}

// Pause freezes the running cycle.
func (e *Enforcer) Pause(ctx context.Context, now time.Time) error {
	if e.state != Running {
		return nil
	}
	e.state = Paused
	e.pausedAt = now
	metrics.PomodoroState.Set(float64(e.state))
	e.logger.Debug().Msg("Pomodoro paused")
	return e.persist(ctx)
}

// Resume continues a paused cycle, shifting its start by the paused time.
func (e *Enforcer) Resume(ctx context.Context, now time.Time) error {
	if e.state != Paused {
		return nil
	}
	if paused := now.Sub(e.pausedAt); paused > 0 {
		e.cycleStart = e.cycleStart.Add(paused)
	}
	e.state = Running
	e.pausedAt = time.Time{}
	metrics.PomodoroState.Set(float64(e.state))
	e.logger.Debug().Time("cycle_start", e.cycleStart).Msg("Pomodoro resumed")
	return e.persist(ctx)
}

// CheckLimit emits limit-exceeded the first time seconds reaches the site's
// limit on now's local date. A site whose usage drops back below its limit
// (for example after the limit is raised) is re-armed.
func (e *Enforcer) CheckLimit(ctx context.Context, siteKey string, seconds int64, now time.Time) (bool, error) {
	limits, err := e.settings.SiteLimits(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read site limits: %w", err)
	}

	date := timeutil.LocalDate(now, e.loc)
	next := e.signalled
	dirty := false
	if next.Date != date {
		next = signalledSet{Date: date, Sites: map[string]bool{}}
		dirty = true
	}

	limit, ok := limits[siteKey]
	exceeded := ok && limit > 0 && seconds >= limit
	fired := false

	switch {
	case exceeded && !next.Sites[siteKey]:
		next = next.with(siteKey, true)
		dirty = true
		fired = true
	case !exceeded && next.Sites[siteKey]:
		next = next.with(siteKey, false)
		dirty = true
	}

	// Committed only once stored; a failed save is retried on the next tick
	if dirty {
		if err := e.saveSignalled(ctx, next); err != nil {
			return false, err
		}
		e.signalled = next
	}
	if fired {
		e.logger.Info().
			Str("site", siteKey).
			Int64("seconds", seconds).
			Int64("limit", limit).
			Msg("Site limit exceeded")
		e.notifier.Notify(notify.Signal{Kind: notify.LimitExceeded, SiteKey: siteKey, Date: date, At: now})
	}
	return fired, nil
}

// Recover restores the persisted state. When the pomodoro is enabled and the
// stored cycle is missing or older than a full interval a fresh cycle starts
// at now. A paused cycle stays paused and is aged by its focus time up to the
// pause.
func (e *Enforcer) Recover(ctx context.Context, now time.Time) error {
	if err := e.loadSignalled(ctx); err != nil {
		return err
	}

	enabled, err := e.settings.PomodoroEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pomodoro setting: %w", err)
	}
	if !enabled {
		e.stopTicker()
		e.state = Disabled
		e.cycleStart = time.Time{}
		e.pausedAt = time.Time{}
		metrics.PomodoroState.Set(float64(e.state))
		return nil
	}

	interval, err := e.settings.PomodoroInterval(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pomodoro interval: %w", err)
	}

	stored, err := e.loadState(ctx)
	if err != nil {
		return err
	}

	var start, pausedAt time.Time
	if stored != nil && stored.CycleStartedAtMs > 0 {
		start = timeutil.FromEpochMs(stored.CycleStartedAtMs)
		if stored.State == Paused && stored.PausedAtMs > 0 {
			pausedAt = timeutil.FromEpochMs(stored.PausedAtMs)
		}
	}

	// A paused cycle is only as old as the focus time it had when paused
	elapsedAt := now
	if !pausedAt.IsZero() {
		elapsedAt = pausedAt
	}
	elapsed := elapsedAt.Sub(start)
	if start.IsZero() || now.Before(start) || elapsed < 0 || elapsed > interval {
		e.logger.Info().Msg("Starting fresh pomodoro cycle")
		e.startCycle(now)
		return e.persist(ctx)
	}

	e.cycleStart = start
	e.state = Running
	e.pausedAt = time.Time{}
	if !pausedAt.IsZero() {
		e.state = Paused
		e.pausedAt = pausedAt
	}
	e.startTicker()
	metrics.PomodoroState.Set(float64(e.state))
	e.logger.Info().
		Str("state", e.state.String()).
		Time("cycle_start", start).
		Msg("Resumed pomodoro cycle")
	return nil
}

// Stop releases the ticker without changing persisted state.
func (e *Enforcer) Stop() {
	e.stopTicker()
}

// Status reports the state and, while running, the time left in the cycle.
func (e *Enforcer) Status(ctx context.Context, now time.Time) Status {
	status := Status{State: e.state.String()}
	if e.state == Disabled {
		return status
	}
	start := e.cycleStart
	status.CycleStartedAt = &start

	interval, err := e.settings.PomodoroInterval(ctx)
	if err != nil {
		return status
	}
	elapsed := now.Sub(e.cycleStart)
	if e.state == Paused {
		elapsed = e.pausedAt.Sub(e.cycleStart)
	}
	remaining := interval - elapsed
	if remaining < 0 {
		remaining = 0
	}
	status.Remaining = timeutil.SummaryString(timeutil.Seconds(remaining))
	return status
}

func (e *Enforcer) startCycle(now time.Time) {
	e.state = Running
	e.cycleStart = now
	e.pausedAt = time.Time{}
	e.startTicker()
	metrics.PomodoroState.Set(float64(e.state))
}

func (e *Enforcer) startTicker() {
	if e.ticker == nil {
		e.ticker = time.NewTicker(e.tickInterval)
	}
}

func (e *Enforcer) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	metrics.PomodoroState.Set(float64(Disabled))
}

func (e *Enforcer) persist(ctx context.Context) error {
	if e.state == Disabled {
		if err := e.values.Delete(ctx, stateKey); err != nil {
			return fmt.Errorf("failed to clear pomodoro state: %w", err)
		}
		return nil
	}

	state := pomodoroState{State: e.state, CycleStartedAtMs: timeutil.ToEpochMs(e.cycleStart)}
	if !e.pausedAt.IsZero() {
		state.PausedAtMs = timeutil.ToEpochMs(e.pausedAt)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := e.values.Set(ctx, stateKey, data); err != nil {
		return fmt.Errorf("failed to save pomodoro state: %w", err)
	}
	return nil
}

func (e *Enforcer) loadState(ctx context.Context) (*pomodoroState, error) {
	data, err := e.values.Get(ctx, stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pomodoro state: %w", err)
	}
	var state pomodoroState
	if err := json.Unmarshal(data, &state); err != nil {
		e.logger.Warn().Err(err).Msg("Ignoring malformed pomodoro state")
		return nil, nil
	}
	return &state, nil
}

func (e *Enforcer) saveSignalled(ctx context.Context, set signalledSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	if err := e.values.Set(ctx, signalledKey, data); err != nil {
		return fmt.Errorf("failed to save signalled sites: %w", err)
	}
	return nil
}

func (e *Enforcer) loadSignalled(ctx context.Context) error {
	data, err := e.values.Get(ctx, signalledKey)
	if errors.Is(err, storage.ErrNotFound) {
		e.signalled = signalledSet{Sites: map[string]bool{}}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load signalled sites: %w", err)
	}
	var set signalledSet
	if err := json.Unmarshal(data, &set); err != nil {
		e.logger.Warn().Err(err).Msg("Ignoring malformed signalled sites")
		set = signalledSet{}
	}
	if set.Sites == nil {
		set.Sites = map[string]bool{}
	}
	e.signalled = set
	return nil
}
