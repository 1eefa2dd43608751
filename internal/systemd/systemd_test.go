package systemd

import "testing"

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	for name, fn := range map[string]func() error{
		"ready":    NotifyReady,
		"stopping": NotifyStopping,
		"watchdog": NotifyWatchdog,
		"status":   func() error { return NotifyStatus("tracking") },
	} {
		if err := fn(); err != nil {
			t.Errorf("%s: expected no error outside systemd, got %v", name, err)
		}
	}
}

func TestWatchdogInterval(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	if got := WatchdogInterval(); got != 0 {
		t.Fatalf("expected no watchdog, got %s", got)
	}
}

func TestGetListenersNotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("get listeners: %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Fatalf("expected no activated listeners, got %+v", listeners)
	}
}
