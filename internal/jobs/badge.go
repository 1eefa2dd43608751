package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/notify"
	"github.com/goodtune/tabtime/internal/timeutil"
)

// BadgeJobName is the name of the badge refresh job.
const BadgeJobName = "badge"

// TotalSource reports today's total. *usage.Tracker satisfies it.
type TotalSource interface {
	TotalToday(ctx context.Context, now time.Time) (int64, error)
}

// NewBadgeJob refreshes the badge text from today's total and emits
// badge-updated only when the text changes.
func NewBadgeJob(source TotalSource, notifier notify.Notifier, interval time.Duration) Job {
	var last string
	return Job{
		Name:     BadgeJobName,
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			total, err := source.TotalToday(ctx, now)
			if err != nil {
				return fmt.Errorf("failed to compute today's total: %w", err)
			}
			metrics.TodaySeconds.Set(float64(total))

			text := timeutil.BadgeString(total)
			if text == last {
				return nil
			}
			last = text
			notifier.Notify(notify.Signal{Kind: notify.BadgeUpdated, Text: text, At: now})
			return nil
		},
	}
}
