// Package api serves the local JSON control API used by browser shims and
// scripts to report tab events and query usage.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/agent"
	"github.com/goodtune/tabtime/internal/settings"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/usage"
)

// Agent is the subset of *agent.Agent the API drives.
type Agent interface {
	ActivateTab(ctx context.Context, raw string) (string, error)
	CloseTab(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	PausePomodoro(ctx context.Context) error
	ResumePomodoro(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Restore(ctx context.Context, records []storage.DailyUsage) error
	Usage(ctx context.Context, date string) (*usage.Stats, error)
	Export(ctx context.Context) ([]storage.DailyUsage, error)
	Status(ctx context.Context) (*agent.Status, error)
}

// Settings is the subset of *settings.Registry the API exposes.
type Settings interface {
	Get(ctx context.Context, key settings.Key) (any, error)
	All(ctx context.Context) (map[settings.Key]any, error)
	SetString(ctx context.Context, key settings.Key, raw string) error
}

// Server is the local API server.
type Server struct {
	agent    Agent
	settings Settings
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(listenAddr string, a Agent, registry Settings, logger zerolog.Logger) *Server {
	s := &Server{
		agent:    a,
		settings: registry,
		router:   mux.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         listenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Tab events
	v1.HandleFunc("/tabs/activate", s.handleActivate).Methods("POST")
	v1.HandleFunc("/tabs/close", s.handleClose).Methods("POST")
	v1.HandleFunc("/suspend", s.handleSuspend).Methods("POST")
	v1.HandleFunc("/resume", s.handleResume).Methods("POST")
	v1.HandleFunc("/pomodoro/pause", s.handlePomodoroPause).Methods("POST")
	v1.HandleFunc("/pomodoro/resume", s.handlePomodoroResume).Methods("POST")

	// Data
	v1.HandleFunc("/usage", s.handleUsage).Methods("GET")
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/export", s.handleExport).Methods("GET")
	v1.HandleFunc("/clear", s.handleClear).Methods("POST")
	v1.HandleFunc("/restore", s.handleRestore).Methods("POST")

	// Settings
	v1.HandleFunc("/settings", s.handleListSettings).Methods("GET")
	v1.HandleFunc("/settings/{key}", s.handleGetSetting).Methods("GET")
	v1.HandleFunc("/settings/{key}", s.handlePutSetting).Methods("PUT")
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-configured listener (for systemd socket activation)
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	if s.listener != nil {
		s.logger.Info().
			Str("addr", s.listener.Addr().String()).
			Msg("Starting API server with systemd socket")
		return s.server.Serve(s.listener)
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
