package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
)

// RolloverJobName is the name of the retention job.
const RolloverJobName = "rollover"

// DefaultRetentionDays is how many days of history the rollover job keeps.
const DefaultRetentionDays = 90

// NewRolloverJob deletes daily usage older than retentionDays.
// Today's totals need no reset: queries are keyed by the current local date.
func NewRolloverJob(usageStore storage.UsageStore, retentionDays int, interval time.Duration, loc *time.Location, logger zerolog.Logger) Job {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	logger = logger.With().Str("component", "rollover").Logger()

	return Job{
		Name:     RolloverJobName,
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			cutoffDate := timeutil.DaysAgo(now, retentionDays, loc)

			deleted, err := usageStore.DeleteDailyUsageBefore(ctx, cutoffDate)
			if err != nil {
				return fmt.Errorf("failed to clean up old daily usage: %w", err)
			}

			event := logger.Debug()
			if deleted > 0 {
				event = logger.Info()
			}
			event.
				Int("rows_deleted", deleted).
				Str("cutoff_date", cutoffDate).
				Msg("Old daily usage cleaned up")
			return nil
		},
	}
}
