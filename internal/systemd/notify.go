package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	return notify(daemon.SdNotifyReady, "ready")
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	return notify(daemon.SdNotifyStopping, "stopping")
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd.
// Must be called more often than WatchdogSec to prevent a restart.
func NotifyWatchdog() error {
	return notify(daemon.SdNotifyWatchdog, "watchdog")
}

// NotifyStatus publishes a free-form status line shown by systemctl status
func NotifyStatus(status string) error {
	return notify("STATUS="+status, "status")
}

// WatchdogInterval returns half the configured watchdog timeout, or zero when
// the service manager has no watchdog for this process.
func WatchdogInterval() time.Duration {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil || timeout <= 0 {
		return 0
	}
	return timeout / 2
}

// notify is a no-op when NOTIFY_SOCKET is unset.
func notify(state, name string) error {
	if _, err := daemon.SdNotify(false, state); err != nil {
		return fmt.Errorf("failed to send sd_notify %s: %w", name, err)
	}
	return nil
}
