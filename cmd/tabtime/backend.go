package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/api"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/settings"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
	"github.com/goodtune/tabtime/internal/usage"
)

// backend serves the data commands. A running daemon is driven through its
// API so its in-memory state stays coherent; otherwise the store is opened
// directly.
type backend interface {
	Usage(ctx context.Context, date string) (*usage.Stats, error)
	Export(ctx context.Context) ([]storage.DailyUsage, error)
	Restore(ctx context.Context, records []storage.DailyUsage) error
	ClearAll(ctx context.Context) error

	Get(ctx context.Context, key settings.Key) (any, error)
	All(ctx context.Context) (map[settings.Key]any, error)
	SetString(ctx context.Context, key settings.Key, raw string) error

	Close() error
}

// openBackend prefers a live daemon and falls back to the store.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (backend, error) {
	if cfg.Server.APIEnabled {
		base := "http://" + net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.APIPort))
		remote := newRemoteBackend(base)
		if remote.alive(ctx) {
			logger.Debug().Str("api", base).Msg("Using running daemon")
			return remote, nil
		}
	}
	return newLocalBackend(cfg, logger)
}

// localBackend operates on the store without a daemon.
type localBackend struct {
	store    storage.Store
	registry *settings.Registry
	tracker  *usage.Tracker
}

func newLocalBackend(cfg *config.Config, logger zerolog.Logger) (*localBackend, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		if cfg.Storage.Type == "bolt" {
			return nil, fmt.Errorf("failed to open storage (is the daemon running with the API disabled?): %w", err)
		}
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return newLocalBackendFromStore(cfg, store, logger)
}

func newLocalBackendFromStore(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*localBackend, error) {
	loc, err := cfg.Tracking.Location()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tracker, err := usage.NewTracker(store.Usage(), nil, usage.Config{
		Location:  loc,
		CacheSize: cfg.Tracking.CacheSize,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &localBackend{
		store:    store,
		registry: newRegistry(cfg, store, logger),
		tracker:  tracker,
	}, nil
}

func (b *localBackend) Usage(ctx context.Context, date string) (*usage.Stats, error) {
	if date == "" {
		date = timeutil.LocalDate(time.Now(), b.tracker.Location())
	}
	return b.tracker.Usage(ctx, date)
}

func (b *localBackend) Export(ctx context.Context) ([]storage.DailyUsage, error) {
	return b.tracker.Export(ctx)
}

func (b *localBackend) Restore(ctx context.Context, records []storage.DailyUsage) error {
	return b.tracker.Restore(ctx, records, time.Now())
}

func (b *localBackend) ClearAll(ctx context.Context) error {
	return b.tracker.ClearAll(ctx)
}

func (b *localBackend) Get(ctx context.Context, key settings.Key) (any, error) {
	return b.registry.Get(ctx, key)
}

func (b *localBackend) All(ctx context.Context) (map[settings.Key]any, error) {
	return b.registry.All(ctx)
}

func (b *localBackend) SetString(ctx context.Context, key settings.Key, raw string) error {
	return b.registry.SetString(ctx, key, raw)
}

func (b *localBackend) Close() error {
	return b.store.Close()
}

// remoteBackend talks to a running daemon's API.
type remoteBackend struct {
	base   string
	client *http.Client
}

func newRemoteBackend(base string) *remoteBackend {
	return &remoteBackend{
		base:   base,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *remoteBackend) alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return b.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// do sends body as JSON and decodes the response into out when non-nil.
func (b *remoteBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return errors.New(apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode daemon response: %w", err)
	}
	return nil
}

func (b *remoteBackend) Usage(ctx context.Context, date string) (*usage.Stats, error) {
	path := "/v1/usage"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var stats usage.Stats
	if err := b.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (b *remoteBackend) Export(ctx context.Context) ([]storage.DailyUsage, error) {
	var records []storage.DailyUsage
	if err := b.do(ctx, http.MethodGet, "/v1/export", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (b *remoteBackend) Restore(ctx context.Context, records []storage.DailyUsage) error {
	if records == nil {
		records = []storage.DailyUsage{}
	}
	return b.do(ctx, http.MethodPost, "/v1/restore", records, nil)
}

func (b *remoteBackend) ClearAll(ctx context.Context) error {
	return b.do(ctx, http.MethodPost, "/v1/clear", nil, nil)
}

func (b *remoteBackend) Get(ctx context.Context, key settings.Key) (any, error) {
	var resp struct {
		Value json.RawMessage `json:"value"`
	}
	if err := b.do(ctx, http.MethodGet, "/v1/settings/"+string(key), nil, &resp); err != nil {
		return nil, err
	}
	return decodeSetting(key, resp.Value)
}

func (b *remoteBackend) All(ctx context.Context) (map[settings.Key]any, error) {
	var resp map[string]json.RawMessage
	if err := b.do(ctx, http.MethodGet, "/v1/settings", nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[settings.Key]any, len(resp))
	for name, raw := range resp {
		key, err := settings.ParseKey(name)
		if err != nil {
			continue
		}
		value, err := decodeSetting(key, raw)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func (b *remoteBackend) SetString(ctx context.Context, key settings.Key, raw string) error {
	value, _ := json.Marshal(raw)
	return b.do(ctx, http.MethodPut, "/v1/settings/"+string(key), api.SettingRequest{Value: value}, nil)
}

func (b *remoteBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// decodeSetting turns a JSON value from the API back into the registry's Go type.
func decodeSetting(key settings.Key, raw json.RawMessage) (any, error) {
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	return settings.ParseValue(key, text)
}
