package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/tabtime/internal/notify"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

type fakeSettings struct {
	enabled  bool
	interval time.Duration
	limits   map[string]int64
}

func (s *fakeSettings) PomodoroEnabled(context.Context) (bool, error) { return s.enabled, nil }

func (s *fakeSettings) PomodoroInterval(context.Context) (time.Duration, error) {
	return s.interval, nil
}

func (s *fakeSettings) SiteLimits(context.Context) (map[string]int64, error) { return s.limits, nil }

func newTestValues(t *testing.T) storage.ValueStore {
	t.Helper()
	store, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store.Values()
}

func newTestEnforcer(t *testing.T, values storage.ValueStore, s Settings, rec *notify.Recorder) *Enforcer {
	t.Helper()
	var n notify.Notifier
	if rec != nil {
		n = rec
	}
	e := NewEnforcer(values, s, n, Config{Location: time.UTC}, zerolog.Nop())
	t.Cleanup(e.Stop)
	return e
}

// failingValues fails Set while fail is set.
type failingValues struct {
	storage.ValueStore
	fail bool
}

func (v *failingValues) Set(ctx context.Context, key string, value []byte) error {
	if v.fail {
		return errors.New("store unavailable")
	}
	return v.ValueStore.Set(ctx, key, value)
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCycleCompletesOncePerInterval(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	s := &fakeSettings{enabled: true, interval: 1500 * time.Second}
	e := newTestEnforcer(t, newTestValues(t), s, rec)

	if err := e.SetEnabled(ctx, true, t0); err != nil {
		t.Fatalf("enable: %v", err)
	}

	for i := 1; i <= 1500; i++ {
		if err := e.Check(ctx, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("check: %v", err)
		}
		if i == 1499 && rec.Count(notify.CycleComplete) != 0 {
			t.Fatal("cycle completed early")
		}
	}
	if got := rec.Count(notify.CycleComplete); got != 1 {
		t.Fatalf("expected exactly one cycle-complete, got %d", got)
	}
	if !e.cycleStart.Equal(t0.Add(1500 * time.Second)) {
		t.Fatalf("expected cycle start reset to tick 1500, got %s", e.cycleStart)
	}

	for i := 1501; i <= 3000; i++ {
		_ = e.Check(ctx, t0.Add(time.Duration(i)*time.Second))
	}
	if got := rec.Count(notify.CycleComplete); got != 2 {
		t.Fatalf("expected second cycle-complete at tick 3000, got %d", got)
	}
}

func TestLimitSignalledOnce(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	s := &fakeSettings{interval: time.Hour, limits: map[string]int64{"a.com": 60}}
	values := newTestValues(t)
	e := newTestEnforcer(t, values, s, rec)

	for secs := int64(55); secs <= 120; secs++ {
		fired, err := e.CheckLimit(ctx, "a.com", secs, t0)
		if err != nil {
			t.Fatalf("check limit: %v", err)
		}
		if fired != (secs == 60) {
			t.Fatalf("unexpected fired=%v at %d seconds", fired, secs)
		}
	}
	if got := rec.Count(notify.LimitExceeded); got != 1 {
		t.Fatalf("expected one limit-exceeded, got %d", got)
	}
	if s := rec.Signals()[0]; s.SiteKey != "a.com" {
		t.Errorf("expected signal for a.com, got %q", s.SiteKey)
	}

	// Sites without a limit never fire.
	if fired, _ := e.CheckLimit(ctx, "b.com", 10000, t0); fired {
		t.Error("unexpected signal for site without a limit")
	}

	// A restart on the same date does not signal again.
	restarted := newTestEnforcer(t, values, s, rec)
	if err := restarted.Recover(ctx, t0); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if fired, _ := restarted.CheckLimit(ctx, "a.com", 121, t0); fired {
		t.Fatal("limit re-signalled after restart")
	}

	// The next local date re-arms every site.
	if fired, _ := restarted.CheckLimit(ctx, "a.com", 60, t0.Add(24*time.Hour)); !fired {
		t.Fatal("expected limit to fire again on the next date")
	}
}

func TestLimitSignalRetriedAfterSaveFailure(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	s := &fakeSettings{interval: time.Hour, limits: map[string]int64{"a.com": 60}}
	values := &failingValues{ValueStore: newTestValues(t), fail: true}
	e := newTestEnforcer(t, values, s, rec)

	fired, err := e.CheckLimit(ctx, "a.com", 60, t0)
	if err == nil || fired {
		t.Fatalf("expected save error without signal, got fired=%v err=%v", fired, err)
	}
	if rec.Count(notify.LimitExceeded) != 0 {
		t.Fatal("signal sent although the mark was not stored")
	}

	values.fail = false
	for secs := int64(61); secs <= 65; secs++ {
		if _, err := e.CheckLimit(ctx, "a.com", secs, t0); err != nil {
			t.Fatalf("check limit: %v", err)
		}
	}
	if got := rec.Count(notify.LimitExceeded); got != 1 {
		t.Fatalf("expected one limit-exceeded after the store recovered, got %d", got)
	}

	// The stored mark survives a restart.
	restarted := newTestEnforcer(t, values, s, rec)
	if err := restarted.Recover(ctx, t0); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if fired, _ := restarted.CheckLimit(ctx, "a.com", 66, t0); fired {
		t.Fatal("limit re-signalled after restart")
	}
}

func TestRaisedLimitRearms(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	s := &fakeSettings{interval: time.Hour, limits: map[string]int64{"a.com": 60}}
	e := newTestEnforcer(t, newTestValues(t), s, rec)

	if fired, _ := e.CheckLimit(ctx, "a.com", 90, t0); !fired {
		t.Fatal("expected first signal")
	}
	s.limits = map[string]int64{"a.com": 200}
	if fired, _ := e.CheckLimit(ctx, "a.com", 91, t0); fired {
		t.Fatal("unexpected signal below raised limit")
	}
	s.limits = map[string]int64{"a.com": 80}
	if fired, _ := e.CheckLimit(ctx, "a.com", 92, t0); !fired {
		t.Fatal("expected signal after limit lowered again")
	}
	if got := rec.Count(notify.LimitExceeded); got != 2 {
		t.Fatalf("expected 2 signals, got %d", got)
	}
}

func TestPauseShiftsCycle(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	s := &fakeSettings{enabled: true, interval: 1500 * time.Second}
	e := newTestEnforcer(t, newTestValues(t), s, rec)

	_ = e.SetEnabled(ctx, true, t0)
	if err := e.Pause(ctx, t0.Add(100*time.Second)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if e.State() != Paused {
		t.Fatalf("expected paused, got %s", e.State())
	}

	// Checks while paused never fire.
	_ = e.Check(ctx, t0.Add(1600*time.Second))
	if rec.Count(notify.CycleComplete) != 0 {
		t.Fatal("cycle completed while paused")
	}

	if err := e.Resume(ctx, t0.Add(400*time.Second)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	_ = e.Check(ctx, t0.Add(1799*time.Second))
	if rec.Count(notify.CycleComplete) != 0 {
		t.Fatal("paused time was counted toward the cycle")
	}
	_ = e.Check(ctx, t0.Add(1800*time.Second))
	if rec.Count(notify.CycleComplete) != 1 {
		t.Fatal("expected cycle-complete after shifted interval")
	}
}

func TestDisableStopsTicks(t *testing.T) {
	ctx := context.Background()
	values := newTestValues(t)
	s := &fakeSettings{enabled: true, interval: time.Minute}
	e := newTestEnforcer(t, values, s, nil)

	if e.Ticks() != nil {
		t.Fatal("expected no ticks while disabled")
	}
	_ = e.SetEnabled(ctx, true, t0)
	if e.Ticks() == nil {
		t.Fatal("expected ticks while running")
	}
	if _, err := values.Get(ctx, stateKey); err != nil {
		t.Fatalf("expected persisted state: %v", err)
	}

	if err := e.SetEnabled(ctx, false, t0.Add(time.Second)); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if e.Ticks() != nil {
		t.Fatal("expected ticks stopped after disable")
	}
	if e.State() != Disabled {
		t.Fatalf("expected disabled, got %s", e.State())
	}
	if _, err := values.Get(ctx, stateKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected state cleared, got %v", err)
	}

	// Checks after disabling are no-ops.
	if err := e.Check(ctx, t0.Add(time.Hour)); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	values := newTestValues(t)
	s := &fakeSettings{enabled: true, interval: 1500 * time.Second}

	first := newTestEnforcer(t, values, s, nil)
	_ = first.SetEnabled(ctx, true, t0)
	first.Stop()

	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{name: "within interval", now: t0.Add(100 * time.Second), wantStart: t0},
		{name: "stale cycle", now: t0.Add(2000 * time.Second), wantStart: t0.Add(2000 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnforcer(t, values, s, nil)
			if err := e.Recover(ctx, tt.now); err != nil {
				t.Fatalf("recover: %v", err)
			}
			if e.State() != Running {
				t.Fatalf("expected running, got %s", e.State())
			}
			if !e.cycleStart.Equal(tt.wantStart) {
				t.Fatalf("expected cycle start %s, got %s", tt.wantStart, e.cycleStart)
			}
			if e.Ticks() == nil {
				t.Fatal("expected ticks after recovery")
			}
		})
	}

	s.enabled = false
	e := newTestEnforcer(t, values, s, nil)
	if err := e.Recover(ctx, t0); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if e.State() != Disabled || e.Ticks() != nil {
		t.Fatalf("expected disabled without ticks, got %s", e.State())
	}
}

func TestRecoverPausedCycle(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	s := &fakeSettings{enabled: true, interval: 25 * time.Minute}

	tests := []struct {
		name      string
		pauseAt   time.Duration
		recoverAt time.Duration
		wantState State
		wantStart time.Duration
	}{
		{name: "paused mid cycle", pauseAt: 10 * time.Minute, recoverAt: 30 * time.Minute, wantState: Paused, wantStart: 0},
		{name: "paused long after restart", pauseAt: 10 * time.Minute, recoverAt: 5 * time.Hour, wantState: Paused, wantStart: 0},
		{name: "paused after a full interval", pauseAt: 26 * time.Minute, recoverAt: 30 * time.Minute, wantState: Running, wantStart: 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := newTestValues(t)
			first := newTestEnforcer(t, values, s, nil)
			_ = first.SetEnabled(ctx, true, t0)
			if err := first.Pause(ctx, t0.Add(tt.pauseAt)); err != nil {
				t.Fatalf("pause: %v", err)
			}
			first.Stop()

			e := newTestEnforcer(t, values, s, nil)
			if err := e.Recover(ctx, t0.Add(tt.recoverAt)); err != nil {
				t.Fatalf("recover: %v", err)
			}
			if e.State() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, e.State())
			}
			if !e.cycleStart.Equal(t0.Add(tt.wantStart)) {
				t.Fatalf("expected cycle start %s, got %s", t0.Add(tt.wantStart), e.cycleStart)
			}
		})
	}

	// Resuming a recovered pause keeps the focus time left at the pause.
	values := newTestValues(t)
	first := newTestEnforcer(t, values, s, nil)
	_ = first.SetEnabled(ctx, true, t0)
	_ = first.Pause(ctx, t0.Add(10*time.Minute))
	first.Stop()

	e := newTestEnforcer(t, values, s, rec)
	if err := e.Recover(ctx, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := e.Status(ctx, t0.Add(30*time.Minute)); got.Remaining != "15 m" {
		t.Fatalf("expected 15 m remaining, got %+v", got)
	}
	if err := e.Resume(ctx, t0.Add(40*time.Minute)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	_ = e.Check(ctx, t0.Add(54*time.Minute))
	if rec.Count(notify.CycleComplete) != 0 {
		t.Fatal("cycle completed before the remaining focus time")
	}
	_ = e.Check(ctx, t0.Add(55*time.Minute))
	if rec.Count(notify.CycleComplete) != 1 {
		t.Fatal("expected cycle-complete after the remaining focus time")
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	s := &fakeSettings{enabled: true, interval: 1500 * time.Second}
	e := newTestEnforcer(t, newTestValues(t), s, nil)

	if got := e.Status(ctx, t0); got.State != "disabled" || got.CycleStartedAt != nil {
		t.Fatalf("unexpected disabled status %+v", got)
	}

	_ = e.SetEnabled(ctx, true, t0)
	got := e.Status(ctx, t0.Add(5*time.Minute))
	if got.State != "running" || got.Remaining != "20 m" {
		t.Fatalf("unexpected running status %+v", got)
	}
}
