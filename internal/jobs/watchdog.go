package jobs

import (
	"context"
	"time"

	"github.com/goodtune/tabtime/internal/systemd"
)

// WatchdogJobName is the name of the systemd keep-alive job.
const WatchdogJobName = "watchdog"

// NewWatchdogJob pings the systemd watchdog. A zero interval disables it.
func NewWatchdogJob(interval time.Duration) Job {
	return Job{
		Name:     WatchdogJobName,
		Interval: interval,
		Run: func(context.Context, time.Time) error {
			return systemd.NotifyWatchdog()
		},
	}
}
