// Package settings is a cached, typed view over the fixed set of user
// settings persisted in the value store.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/tabtime/internal/sitekey"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownSetting is returned for keys outside the fixed set.
	ErrUnknownSetting = errors.New("settings: unknown setting")
	// ErrMalformedSetting is returned when a value cannot be decoded or is invalid.
	ErrMalformedSetting = errors.New("settings: malformed setting")
	// ErrSettingNotSet is returned for a key with no stored value and no default.
	ErrSettingNotSet = errors.New("settings: setting not set")
)

// Key names a setting. Keys double as value-store keys.
type Key string

const (
	InstallDate      Key = "install_date"
	PomodoroEnabled  Key = "pomodoro_enabled"
	PomodoroInterval Key = "pomodoro_interval"
	SiteLimits       Key = "site_limits"
	ShowChangelog    Key = "show_changelog"
)

// DefaultPomodoroInterval is 25 minutes, in seconds.
const DefaultPomodoroInterval int64 = 1500

var keys = []Key{InstallDate, PomodoroEnabled, PomodoroInterval, SiteLimits, ShowChangelog}

// Keys returns every known key in a stable order.
func Keys() []Key {
	out := make([]Key, len(keys))
	copy(out, keys)
	return out
}

// ParseKey validates name against the fixed set.
func ParseKey(name string) (Key, error) {
	for _, k := range keys {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSetting, name)
}

// TimeBudgetConfig is the enforcement view of the settings.
type TimeBudgetConfig struct {
	PomodoroEnabled  bool
	PomodoroInterval int64 // seconds
	SiteLimits       map[string]int64
}

// Options tunes the documented defaults.
type Options struct {
	DefaultPomodoroInterval int64
}

// Registry caches setting values and writes changes through to the store.
// It is safe for concurrent use.
type Registry struct {
	values   storage.ValueStore
	defaults map[Key]any
	logger   zerolog.Logger

	mu    sync.RWMutex
	cache map[Key]any
}

// New creates a registry backed by values.
func New(values storage.ValueStore, opts Options, logger zerolog.Logger) *Registry {
	interval := opts.DefaultPomodoroInterval
	if interval <= 0 {
		interval = DefaultPomodoroInterval
	}
	return &Registry{
		values: values,
		defaults: map[Key]any{
			PomodoroEnabled:  false,
			PomodoroInterval: interval,
			SiteLimits:       map[string]int64{},
			ShowChangelog:    true,
		},
		logger: logger.With().Str("component", "settings").Logger(),
		cache:  make(map[Key]any),
	}
}

// Get returns the cached value for key, loading it on first access.
// Map values are copies.
func (r *Registry) Get(ctx context.Context, key Key) (any, error) {
	if _, err := ParseKey(string(key)); err != nil {
		return nil, err
	}

	r.mu.RLock()
	value, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return clone(value), nil
	}

	value, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		value = cached
	} else {
		r.cache[key] = value
	}
	r.mu.Unlock()

	return clone(value), nil
}

// Reload re-reads key from the store and atomically replaces the cached value.
func (r *Registry) Reload(ctx context.Context, key Key) error {
	if _, err := ParseKey(string(key)); err != nil {
		return err
	}

	value, err := r.load(ctx, key)
	if errors.Is(err, ErrSettingNotSet) {
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()

	r.logger.Debug().Str("key", string(key)).Msg("Setting reloaded")
	return nil
}

// Set validates value, writes it to the store and updates the cache.
func (r *Registry) Set(ctx context.Context, key Key, value any) error {
	if _, err := ParseKey(string(key)); err != nil {
		return err
	}

	normalized, err := normalize(key, value)
	if err != nil {
		return err
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.values.Set(ctx, string(key), data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = normalized
	r.mu.Unlock()
	return nil
}

// SetString parses a textual value (as typed on a command line) and stores it.
func (r *Registry) SetString(ctx context.Context, key Key, raw string) error {
	value, err := ParseValue(key, raw)
	if err != nil {
		return err
	}
	return r.Set(ctx, key, value)
}

// All returns every key that currently resolves to a value.
func (r *Registry) All(ctx context.Context) (map[Key]any, error) {
	out := make(map[Key]any, len(keys))
	for _, key := range keys {
		value, err := r.Get(ctx, key)
		if errors.Is(err, ErrSettingNotSet) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// InstallDate returns the recorded install date.
func (r *Registry) InstallDate(ctx context.Context) (string, error) {
	value, err := r.Get(ctx, InstallDate)
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// PomodoroEnabled reports whether the focus timer is on.
func (r *Registry) PomodoroEnabled(ctx context.Context) (bool, error) {
	value, err := r.Get(ctx, PomodoroEnabled)
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// PomodoroInterval returns the cycle length.
func (r *Registry) PomodoroInterval(ctx context.Context) (time.Duration, error) {
	value, err := r.Get(ctx, PomodoroInterval)
	if err != nil {
		return 0, err
	}
	return time.Duration(value.(int64)) * time.Second, nil
}

// SiteLimits returns a copy of the per-site daily limits in seconds.
func (r *Registry) SiteLimits(ctx context.Context) (map[string]int64, error) {
	value, err := r.Get(ctx, SiteLimits)
	if err != nil {
		return nil, err
	}
	return value.(map[string]int64), nil
}

// SetSiteLimit sets one site's limit; seconds <= 0 removes it. siteKey may be
// a URL or hostname.
func (r *Registry) SetSiteLimit(ctx context.Context, siteKey string, seconds int64) error {
	siteKey, err := sitekey.Normalize(siteKey)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedSetting, SiteLimits, err)
	}
	limits, err := r.SiteLimits(ctx)
	if err != nil {
		return err
	}
	if seconds <= 0 {
		delete(limits, siteKey)
	} else {
		limits[siteKey] = seconds
	}
	return r.Set(ctx, SiteLimits, limits)
}

// ShowChangelog reports whether the changelog should be shown.
func (r *Registry) ShowChangelog(ctx context.Context) (bool, error) {
	value, err := r.Get(ctx, ShowChangelog)
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// Budget assembles the enforcement configuration.
func (r *Registry) Budget(ctx context.Context) (TimeBudgetConfig, error) {
	enabled, err := r.PomodoroEnabled(ctx)
	if err != nil {
		return TimeBudgetConfig{}, err
	}
	interval, err := r.Get(ctx, PomodoroInterval)
	if err != nil {
		return TimeBudgetConfig{}, err
	}
	limits, err := r.SiteLimits(ctx)
	if err != nil {
		return TimeBudgetConfig{}, err
	}
	return TimeBudgetConfig{
		PomodoroEnabled:  enabled,
		PomodoroInterval: interval.(int64),
		SiteLimits:       limits,
	}, nil
}

func (r *Registry) load(ctx context.Context, key Key) (any, error) {
	data, err := r.values.Get(ctx, string(key))
	if errors.Is(err, storage.ErrNotFound) {
		if def, ok := r.defaults[key]; ok {
			return clone(def), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSettingNotSet, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return decode(key, data)
}

func decode(key Key, data []byte) (any, error) {
	var value any
	var err error
	switch key {
	case InstallDate:
		var s string
		err = json.Unmarshal(data, &s)
		value = s
	case PomodoroEnabled, ShowChangelog:
		var b bool
		err = json.Unmarshal(data, &b)
		value = b
	case PomodoroInterval:
		var n int64
		err = json.Unmarshal(data, &n)
		value = n
	case SiteLimits:
		m := map[string]int64{}
		err = json.Unmarshal(data, &m)
		value = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSetting, key, err)
	}
	return normalize(key, value)
}

// normalize checks the Go type and range of value for key.
func normalize(key Key, value any) (any, error) {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformedSetting, key, fmt.Sprintf(format, args...))
	}

	switch key {
	case InstallDate:
		s, ok := value.(string)
		if !ok {
			return nil, malformed("expected date string, got %T", value)
		}
		if _, err := time.Parse(timeutil.DateLayout, s); err != nil {
			return nil, malformed("invalid date %q", s)
		}
		return s, nil
	case PomodoroEnabled, ShowChangelog:
		b, ok := value.(bool)
		if !ok {
			return nil, malformed("expected bool, got %T", value)
		}
		return b, nil
	case PomodoroInterval:
		var n int64
		switch v := value.(type) {
		case int64:
			n = v
		case int:
			n = int64(v)
		case time.Duration:
			n = int64(v / time.Second)
		default:
			return nil, malformed("expected seconds, got %T", value)
		}
		if n <= 0 {
			return nil, malformed("interval must be positive, got %d", n)
		}
		return n, nil
	case SiteLimits:
		m, ok := value.(map[string]int64)
		if !ok {
			return nil, malformed("expected map of site to seconds, got %T", value)
		}
		out := make(map[string]int64, len(m))
		for site, secs := range m {
			key, err := sitekey.Normalize(site)
			if err != nil {
				return nil, malformed("%v", err)
			}
			if secs <= 0 {
				return nil, malformed("limit for %s must be positive, got %d", site, secs)
			}
			if _, dup := out[key]; dup {
				return nil, malformed("more than one limit for %s", key)
			}
			out[key] = secs
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
}

// ParseValue converts command-line text into the Go type for key.
// Intervals accept seconds, Go durations ("25m") or HH:MM:SS; site limits
// accept JSON or comma-separated site=duration pairs.
func ParseValue(key Key, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	malformed := func(err error) error {
		return fmt.Errorf("%w: %s: %v", ErrMalformedSetting, key, err)
	}

	switch key {
	case InstallDate:
		return raw, nil
	case PomodoroEnabled, ShowChangelog:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, malformed(err)
		}
		return b, nil
	case PomodoroInterval:
		secs, err := parseSeconds(raw)
		if err != nil {
			return nil, malformed(err)
		}
		return secs, nil
	case SiteLimits:
		limits := map[string]int64{}
		if raw == "" {
			return limits, nil
		}
		if strings.HasPrefix(raw, "{") {
			if err := json.Unmarshal([]byte(raw), &limits); err != nil {
				return nil, malformed(err)
			}
			return normalize(key, limits)
		}
		for _, pair := range strings.Split(raw, ",") {
			site, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return nil, malformed(fmt.Errorf("expected site=duration, got %q", pair))
			}
			secs, err := parseSeconds(value)
			if err != nil {
				return nil, malformed(err)
			}
			limits[strings.TrimSpace(site)] = secs
		}
		return normalize(key, limits)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
}

func parseSeconds(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	if strings.Count(raw, ":") == 2 {
		return timeutil.ParseInterval(raw)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return int64(d / time.Second), nil
}

// Format renders a value for display.
func Format(key Key, value any) string {
	switch key {
	case PomodoroInterval:
		if n, ok := value.(int64); ok {
			return (time.Duration(n) * time.Second).String()
		}
	case SiteLimits:
		if m, ok := value.(map[string]int64); ok {
			if len(m) == 0 {
				return "none"
			}
			sites := make([]string, 0, len(m))
			for site := range m {
				sites = append(sites, site)
			}
			sort.Strings(sites)
			parts := make([]string, 0, len(sites))
			for _, site := range sites {
				parts = append(parts, fmt.Sprintf("%s=%s", site, timeutil.DefaultUnits.Limit(m[site])))
			}
			return strings.Join(parts, ", ")
		}
	}
	return fmt.Sprint(value)
}

func clone(value any) any {
	if m, ok := value.(map[string]int64); ok {
		out := make(map[string]int64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return value
}
