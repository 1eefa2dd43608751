package jobs

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

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func countingJob(name string, interval time.Duration, runs *int) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(context.Context, time.Time) error {
			*runs++
			return nil
		},
	}
}

func TestSchedulerRunsDueJobs(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(newTestStore(t).Values(), zerolog.Nop())

	var fast, slow int
	if err := s.Add(countingJob("fast", time.Second, &fast)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(countingJob("slow", time.Hour, &slow)); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 10; i++ {
		s.Tick(ctx, t0.Add(time.Duration(i)*time.Second))
	}
	if fast != 10 || slow != 1 {
		t.Fatalf("expected 10 fast and 1 slow run, got %d and %d", fast, slow)
	}
}

func TestSchedulerNoCatchUp(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(newTestStore(t).Values(), zerolog.Nop())

	var runs int
	_ = s.Add(countingJob("rollover", time.Hour, &runs))

	s.Tick(ctx, t0)
	ran := s.Tick(ctx, t0.Add(10*time.Hour))
	if runs != 2 {
		t.Fatalf("expected a single run for ten missed intervals, got %d runs", runs)
	}
	if len(ran) != 1 || ran[0] != "rollover" {
		t.Fatalf("unexpected ran list %v", ran)
	}
}

func TestSchedulerBackwardClockRebases(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(newTestStore(t).Values(), zerolog.Nop())

	var runs int
	_ = s.Add(countingJob("job", time.Hour, &runs))

	s.Tick(ctx, t0)
	s.Tick(ctx, t0.Add(-2*time.Hour))
	if runs != 1 {
		t.Fatalf("expected no run on backward clock, got %d runs", runs)
	}
	s.Tick(ctx, t0.Add(-time.Hour-time.Second))
	if runs != 1 {
		t.Fatal("job ran before a full interval from the rebased mark")
	}
	s.Tick(ctx, t0.Add(-time.Hour))
	if runs != 2 {
		t.Fatalf("expected run one interval after rebase, got %d runs", runs)
	}
}

func TestSchedulerRecoverLastRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var runs int
	first := NewScheduler(store.Values(), zerolog.Nop())
	_ = first.Add(countingJob("job", time.Hour, &runs))
	first.Tick(ctx, t0)

	second := NewScheduler(store.Values(), zerolog.Nop())
	_ = second.Add(countingJob("job", time.Hour, &runs))
	if err := second.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	second.Tick(ctx, t0.Add(30*time.Minute))
	if runs != 1 {
		t.Fatalf("expected restored mark to suppress run, got %d runs", runs)
	}

	jobs := second.Jobs()
	if len(jobs) != 1 || jobs[0].LastRun == nil || !jobs[0].LastRun.Equal(t0) {
		t.Fatalf("unexpected job status %+v", jobs)
	}
}

func TestSchedulerAddValidation(t *testing.T) {
	s := NewScheduler(newTestStore(t).Values(), zerolog.Nop())

	var runs int
	if err := s.Add(Job{Name: "nameless-run"}); err == nil {
		t.Error("expected error for job without run function")
	}
	_ = s.Add(countingJob("dup", time.Second, &runs))
	if err := s.Add(countingJob("dup", time.Second, &runs)); err == nil {
		t.Error("expected error for duplicate job")
	}
	if err := s.Add(countingJob("off", 0, &runs)); err != nil {
		t.Errorf("disabled job should be accepted: %v", err)
	}
	if len(s.Jobs()) != 1 {
		t.Errorf("expected disabled job to be skipped, got %v", s.Jobs())
	}
	if err := s.RunNow(context.Background(), "missing", t0); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestFailingJobStillMarked(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(newTestStore(t).Values(), zerolog.Nop())

	var runs int
	_ = s.Add(Job{
		Name:     "flaky",
		Interval: time.Minute,
		Run: func(context.Context, time.Time) error {
			runs++
			return errors.New("store unavailable")
		},
	})
	s.Tick(ctx, t0)
	s.Tick(ctx, t0.Add(time.Second))
	if runs != 1 {
		t.Fatalf("expected failed job to wait for its next interval, got %d runs", runs)
	}
}

func TestRolloverJob(t *testing.T) {
	ctx := context.Background()
	usage := newTestStore(t).Usage()

	for _, r := range []storage.DailyUsage{
		{Date: "2023-11-01", SiteKey: "a.com", Seconds: 10},
		{Date: "2023-12-02", SiteKey: "a.com", Seconds: 20},
		{Date: "2024-02-28", SiteKey: "a.com", Seconds: 30},
	} {
		if err := usage.IncrementDailyUsage(ctx, r.Date, r.SiteKey, r.Seconds); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	job := NewRolloverJob(usage, 90, time.Hour, time.UTC, zerolog.Nop())
	for i := 0; i < 2; i++ {
		if err := job.Run(ctx, t0); err != nil {
			t.Fatalf("rollover: %v", err)
		}
	}

	all, err := usage.ListAllDailyUsage(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Date != "2023-12-02" {
		t.Fatalf("expected records from the cutoff date onward, got %v", all)
	}
}

type fixedTotal struct{ total int64 }

func (f *fixedTotal) TotalToday(context.Context, time.Time) (int64, error) { return f.total, nil }

func TestBadgeJobEmitsOnChange(t *testing.T) {
	ctx := context.Background()
	rec := &notify.Recorder{}
	source := &fixedTotal{total: 42}
	job := NewBadgeJob(source, rec, time.Second)

	_ = job.Run(ctx, t0)
	_ = job.Run(ctx, t0.Add(time.Second))
	source.total = 307
	_ = job.Run(ctx, t0.Add(2*time.Second))

	signals := rec.Signals()
	if len(signals) != 2 {
		t.Fatalf("expected 2 badge updates, got %d", len(signals))
	}
	if signals[0].Text != "42s" || signals[1].Text != "5m7s" {
		t.Fatalf("unexpected badge texts %q %q", signals[0].Text, signals[1].Text)
	}
}

func TestWatchdogJobOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	job := NewWatchdogJob(time.Second)
	if err := job.Run(context.Background(), t0); err != nil {
		t.Fatalf("watchdog: %v", err)
	}
}
