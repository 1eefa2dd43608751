package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	TrackedSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabtime_tracked_seconds_total",
			Help: "Total seconds attributed to sites",
		},
	)

	FlushErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabtime_flush_errors_total",
			Help: "Usage flushes skipped because the store was unavailable",
		},
	)

	ActiveSession = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabtime_active_session",
			Help: "1 while an activity session is open",
		},
	)

	TodaySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabtime_today_seconds",
			Help: "Seconds tracked across all sites on the current local date",
		},
	)

	// Enforcement metrics
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_signals_total",
			Help: "Signals emitted to collaborators",
		},
		[]string{"signal"},
	)

	PomodoroState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabtime_pomodoro_state",
			Help: "Pomodoro state: 0 disabled, 1 running, 2 paused",
		},
	)

	// Job metrics
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_job_runs_total",
			Help: "Maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabtime_api_requests_total",
			Help: "Local API requests handled",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		TrackedSecondsTotal,
		FlushErrorsTotal,
		ActiveSession,
		TodaySeconds,
		SignalsTotal,
		PomodoroState,
		JobRunsTotal,
		APIRequestsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(),
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
