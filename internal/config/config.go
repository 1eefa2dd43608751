package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Pomodoro PomodoroConfig `mapstructure:"pomodoro"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

// ServerConfig defines the local API and metrics listeners
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIEnabled  bool   `mapstructure:"api_enabled"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines activity accounting settings
type TrackingConfig struct {
	AbandonThreshold string `mapstructure:"abandon_threshold"`
	TickInterval     string `mapstructure:"tick_interval"`
	Timezone         string `mapstructure:"timezone"`
	CacheSize        int    `mapstructure:"cache_size"`
}

// PomodoroConfig defines defaults for the focus timer
type PomodoroConfig struct {
	DefaultInterval string `mapstructure:"default_interval"`
}

// JobsConfig defines maintenance job cadences
type JobsConfig struct {
	RolloverInterval string `mapstructure:"rollover_interval"`
	RetentionDays    int    `mapstructure:"retention_days"`
	BadgeInterval    string `mapstructure:"badge_interval"`
	WatchdogInterval string `mapstructure:"watchdog_interval"`
}

// Location resolves the configured timezone. An empty value means the
// process-local zone.
func (c TrackingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from file and environment variables. An empty
// path searches /etc/tabtime and the working directory for tabtime.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tabtime")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tabtime")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TABTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration with every default applied and no file
// or environment overrides.
func Defaults() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	return &config, nil
}

// Keys returns every recognised configuration key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_enabled", true)
	v.SetDefault("server.api_port", 7420)
	v.SetDefault("server.metrics_port", 9420)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/tabtime/tabtime.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "tabtime")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.abandon_threshold", "5s")
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.timezone", "")
	v.SetDefault("tracking.cache_size", 256)

	// Pomodoro defaults
	v.SetDefault("pomodoro.default_interval", "25m")

	// Job defaults
	v.SetDefault("jobs.rollover_interval", "1h")
	v.SetDefault("jobs.retention_days", 90)
	v.SetDefault("jobs.badge_interval", "1s")
	v.SetDefault("jobs.watchdog_interval", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIEnabled && (cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535) {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		for name, value := range map[string]string{
			"dial_timeout":  cfg.Storage.Redis.DialTimeout,
			"read_timeout":  cfg.Storage.Redis.ReadTimeout,
			"write_timeout": cfg.Storage.Redis.WriteTimeout,
		} {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid redis %s: %w", name, err)
			}
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Logging.Format)
	}

	for name, value := range map[string]string{
		"tracking.abandon_threshold": cfg.Tracking.AbandonThreshold,
		"tracking.tick_interval":     cfg.Tracking.TickInterval,
		"pomodoro.default_interval":  cfg.Pomodoro.DefaultInterval,
		"jobs.rollover_interval":     cfg.Jobs.RolloverInterval,
		"jobs.badge_interval":        cfg.Jobs.BadgeInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.Jobs.WatchdogInterval != "" {
		if _, err := time.ParseDuration(cfg.Jobs.WatchdogInterval); err != nil {
			return fmt.Errorf("invalid jobs.watchdog_interval: %w", err)
		}
	}

	if cfg.Jobs.RetentionDays <= 0 {
		return fmt.Errorf("jobs.retention_days must be positive")
	}
	if cfg.Tracking.CacheSize <= 0 {
		return fmt.Errorf("tracking.cache_size must be positive")
	}
	if _, err := cfg.Tracking.Location(); err != nil {
		return err
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
