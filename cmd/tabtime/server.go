package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/tabtime/internal/agent"
	"github.com/goodtune/tabtime/internal/api"
	"github.com/goodtune/tabtime/internal/budget"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/jobs"
	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/notify"
	"github.com/goodtune/tabtime/internal/settings"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/storage/bolt"
	"github.com/goodtune/tabtime/internal/storage/redis"
	"github.com/goodtune/tabtime/internal/storage/sqlite"
	"github.com/goodtune/tabtime/internal/systemd"
	"github.com/goodtune/tabtime/internal/timeutil"
	"github.com/goodtune/tabtime/internal/usage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the tabtime daemon",
	Long:  `Start the tabtime daemon with the tracking loop, the local control API and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

// services is the set of components the daemon wires together.
type services struct {
	registry  *settings.Registry
	tracker   *usage.Tracker
	enforcer  *budget.Enforcer
	scheduler *jobs.Scheduler
	agent     *agent.Agent
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting tabtime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return err
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	notifier := notify.Multi{notify.NewLogNotifier(logger), notify.MetricsNotifier{}}
	svc, err := buildServices(cfg, store, notifier, timeutil.RealClock{}, logger)
	if err != nil {
		return err
	}

	// Run the agent loop; it recovers persisted state before serving commands
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentDone := make(chan error, 1)
	go func() {
		agentDone <- svc.agent.Run(ctx)
	}()

	// Initialize API Server
	var apiServer *api.Server
	apiErrors := make(chan error, 1)
	if cfg.Server.APIEnabled {
		apiAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.APIPort))
		apiServer = api.NewServer(apiAddr, svc.agent, svc.registry, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.API != nil {
			apiServer.SetListener(sdListeners.API)
		}

		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				apiErrors <- err
			}
		}()
	}

	// Initialize Metrics Server
	metricsAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.MetricsPort))
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Msg("tabtime startup complete")
	if cfg.Server.APIEnabled {
		logger.Info().Msgf("API: http://%s:%d/v1", cfg.Server.BindAddress, cfg.Server.APIPort)
	}
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	_ = systemd.NotifyStatus("tracking")

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reloading logging configuration...")
				reloadLogging(logger)
				continue
			}
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break loop

		case err := <-apiErrors:
			runErr = fmt.Errorf("API server failed: %w", err)
			logger.Error().Err(err).Msg("API server failed")
			break loop

		case err := <-agentDone:
			// Only a failed startup ends the loop before cancellation
			runErr = fmt.Errorf("agent stopped: %w", err)
			agentDone <- nil
			break loop
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop accepting commands before the loop goes away
	if apiServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping API Server")
		}
		stopCancel()
	}

	cancel()
	if err := <-agentDone; err != nil {
		logger.Error().Err(err).Msg("Agent exited with error")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("tabtime stopped")

	return runErr
}

// buildServices wires the settings registry, tracker, enforcer, job
// scheduler and agent on top of store.
func buildServices(cfg *config.Config, store storage.Store, notifier notify.Notifier, clock timeutil.Clock, logger zerolog.Logger) (*services, error) {
	loc, err := cfg.Tracking.Location()
	if err != nil {
		return nil, err
	}
	tick := config.ParseDuration(cfg.Tracking.TickInterval, agent.DefaultTickInterval)

	registry := newRegistry(cfg, store, logger)

	tracker, err := usage.NewTracker(store.Usage(), notifier, usage.Config{
		AbandonThreshold: config.ParseDuration(cfg.Tracking.AbandonThreshold, usage.DefaultAbandonThreshold),
		Location:         loc,
		CacheSize:        cfg.Tracking.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Usage Tracker: %w", err)
	}

	enforcer := budget.NewEnforcer(store.Values(), registry, notifier, budget.Config{
		Location:     loc,
		TickInterval: tick,
	}, logger)

	scheduler := jobs.NewScheduler(store.Values(), logger)

	watchdog := config.ParseDuration(cfg.Jobs.WatchdogInterval, 0)
	if watchdog == 0 {
		watchdog = systemd.WatchdogInterval()
	}

	for _, job := range []jobs.Job{
		jobs.NewRolloverJob(store.Usage(), cfg.Jobs.RetentionDays,
			config.ParseDuration(cfg.Jobs.RolloverInterval, time.Hour), loc, logger),
		jobs.NewBadgeJob(tracker, notifier, config.ParseDuration(cfg.Jobs.BadgeInterval, time.Second)),
		jobs.NewWatchdogJob(watchdog),
	} {
		if err := scheduler.Add(job); err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
	}

	a := agent.New(store.Values(), registry, tracker, enforcer, scheduler,
		agent.Options{TickInterval: tick, Clock: clock}, logger)

	return &services{
		registry:  registry,
		tracker:   tracker,
		enforcer:  enforcer,
		scheduler: scheduler,
		agent:     a,
	}, nil
}

func newRegistry(cfg *config.Config, store storage.Store, logger zerolog.Logger) *settings.Registry {
	interval := config.ParseDuration(cfg.Pomodoro.DefaultInterval, 0)
	return settings.New(store.Values(), settings.Options{
		DefaultPomodoroInterval: timeutil.Seconds(interval),
	}, logger)
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// reloadLogging re-reads the configuration and applies a new log level.
// Everything else takes effect on restart.
func reloadLogging(logger zerolog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration")
		return
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
	logger.Info().Str("level", cfg.Logging.Level).Msg("Log level reloaded")
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
