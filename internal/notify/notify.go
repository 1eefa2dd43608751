// Package notify carries enforcement and tracking signals to collaborators
// such as a notification layer, the log and the metrics registry.
package notify

import (
	"sync"
	"time"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/rs/zerolog"
)

// Kind identifies a signal.
type Kind string

const (
	CycleComplete Kind = "cycle-complete"
	LimitExceeded Kind = "limit-exceeded"
	DayRolledOver Kind = "day-rolled-over"
	BadgeUpdated  Kind = "badge-updated"
)

// Signal is one emitted event. SiteKey is set for LimitExceeded, Date for
// DayRolledOver and Text for BadgeUpdated.
type Signal struct {
	Kind    Kind      `json:"kind"`
	SiteKey string    `json:"site_key,omitempty"`
	Date    string    `json:"date,omitempty"`
	Text    string    `json:"text,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives signals. Implementations must not block.
type Notifier interface {
	Notify(Signal)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Signal)

func (f NotifierFunc) Notify(s Signal) { f(s) }

// Multi fans a signal out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(s Signal) {
	for _, n := range m {
		n.Notify(s)
	}
}

// LogNotifier writes signals to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(s Signal) {
	event := n.logger.Info()
	if s.Kind == BadgeUpdated {
		event = n.logger.Debug()
	}
	event.
		Str("signal", string(s.Kind)).
		Str("site", s.SiteKey).
		Str("date", s.Date).
		Str("text", s.Text).
		Time("at", s.At).
		Msg("Signal emitted")
}

// MetricsNotifier counts signals by kind.
type MetricsNotifier struct{}

func (MetricsNotifier) Notify(s Signal) {
	metrics.SignalsTotal.WithLabelValues(string(s.Kind)).Inc()
}

// Recorder keeps every signal it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *Recorder) Notify(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

// Signals returns a copy of the recorded signals.
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// Count returns how many signals of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Reset forgets recorded signals.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.signals = nil
	r.mu.Unlock()
}
