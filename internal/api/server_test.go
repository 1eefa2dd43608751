package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goodtune/tabtime/internal/agent"
	"github.com/goodtune/tabtime/internal/settings"
	"github.com/goodtune/tabtime/internal/sitekey"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/storage/sqlite"
	"github.com/goodtune/tabtime/internal/usage"
	"github.com/rs/zerolog"
)

type fakeAgent struct {
	calls    []string
	records  []storage.DailyUsage
	lastDate string
	stopped  bool
}

func (f *fakeAgent) call(name string) error {
	f.calls = append(f.calls, name)
	if f.stopped {
		return agent.ErrStopped
	}
	return nil
}

func (f *fakeAgent) ActivateTab(_ context.Context, raw string) (string, error) {
	if err := f.call("activate"); err != nil {
		return "", err
	}
	return sitekey.Normalize(raw)
}

func (f *fakeAgent) CloseTab(context.Context) error { return f.call("close") }
func (f *fakeAgent) Suspend(context.Context) error { return f.call("suspend") }
func (f *fakeAgent) Resume(context.Context) error { return f.call("resume") }
func (f *fakeAgent) PausePomodoro(context.Context) error { return f.call("pomodoro-pause") }
func (f *fakeAgent) ResumePomodoro(context.Context) error { return f.call("pomodoro-resume") }
func (f *fakeAgent) ClearAll(context.Context) error { return f.call("clear") }

func (f *fakeAgent) Restore(_ context.Context, records []storage.DailyUsage) error {
	f.records = records
	return f.call("restore")
}

func (f *fakeAgent) Usage(_ context.Context, date string) (*usage.Stats, error) {
	f.lastDate = date
	if date == "" {
		date = "2024-03-02"
	}
	stats := &usage.Stats{Date: date}
	for _, r := range f.records {
		if r.Date == date {
			stats.Sites = append(stats.Sites, r)
			stats.TotalSeconds += r.Seconds
		}
	}
	return stats, f.call("usage")
}

func (f *fakeAgent) Export(context.Context) ([]storage.DailyUsage, error) {
	return f.records, f.call("export")
}

func (f *fakeAgent) Status(context.Context) (*agent.Status, error) {
	return &agent.Status{Date: "2024-03-01", ActiveSite: "example.com", Badge: "5s"}, f.call("status")
}

func newTestServer(t *testing.T) (*Server, *fakeAgent) {
	t.Helper()
	store, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fake := &fakeAgent{}
	registry := settings.New(store.Values(), settings.Options{}, zerolog.Nop())
	return NewServer("127.0.0.1:0", fake, registry, zerolog.Nop()), fake
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "GET", "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestActivate(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKey  string
	}{
		{name: "site", body: `{"site":"example.com"}`, wantCode: http.StatusOK, wantKey: "example.com"},
		{name: "url", body: `{"url":"https://www.news.org/a"}`, wantCode: http.StatusOK, wantKey: "news.org"},
		{name: "empty", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "unknown field", body: `{"host":"x"}`, wantCode: http.StatusBadRequest},
		{name: "not json", body: `site=x`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/v1/tabs/activate", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantKey == "" {
				return
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["site_key"] != tt.wantKey {
				t.Fatalf("expected %q, got %q", tt.wantKey, resp["site_key"])
			}
		})
	}
}

func TestCommands(t *testing.T) {
	s, fake := newTestServer(t)

	for path, want := range map[string]string{
		"/v1/tabs/close":      "close",
		"/v1/suspend":         "suspend",
		"/v1/resume":          "resume",
		"/v1/pomodoro/pause":  "pomodoro-pause",
		"/v1/pomodoro/resume": "pomodoro-resume",
		"/v1/clear":           "clear",
	} {
		fake.calls = nil
		rec := do(t, s, "POST", path, "")
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected 204, got %d", path, rec.Code)
		}
		if len(fake.calls) != 1 || fake.calls[0] != want {
			t.Errorf("%s: expected call %q, got %v", path, want, fake.calls)
		}
	}

	if rec := do(t, s, "GET", "/v1/clear", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /v1/clear, got %d", rec.Code)
	}

	fake.stopped = true
	if rec := do(t, s, "POST", "/v1/tabs/close", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 once stopped, got %d", rec.Code)
	}
}

func TestRestoreUsageAndExport(t *testing.T) {
	s, fake := newTestServer(t)

	body := `[{"date":"2024-03-01","site_key":"a.com","seconds":60},{"date":"2024-02-29","site_key":"b.com","seconds":5}]`
	rec := do(t, s, "POST", "/v1/restore", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: %d %s", rec.Code, rec.Body.String())
	}
	if len(fake.records) != 2 {
		t.Fatalf("expected 2 restored records, got %d", len(fake.records))
	}

	rec = do(t, s, "POST", "/v1/restore", `[{"date":"yesterday","site_key":"a.com","seconds":1}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid record, got %d", rec.Code)
	}

	rec = do(t, s, "GET", "/v1/usage?date=2024-03-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("usage: %d", rec.Code)
	}
	var stats usage.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalSeconds != 60 || len(stats.Sites) != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if rec := do(t, s, "GET", "/v1/usage?date=03/01/2024", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}

	rec = do(t, s, "GET", "/v1/usage", "")
	if rec.Code != http.StatusOK || fake.lastDate != "" {
		t.Fatalf("expected today's usage, got %d for %q", rec.Code, fake.lastDate)
	}
	if !strings.Contains(rec.Body.String(), `"sites":[]`) {
		t.Errorf("expected empty sites array, got %s", rec.Body.String())
	}

	rec = do(t, s, "GET", "/v1/export", "")
	var exported []storage.DailyUsage
	if err := json.Unmarshal(rec.Body.Bytes(), &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported records, got %d", len(exported))
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "GET", "/v1/status", "")
	var status agent.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.ActiveSite != "example.com" || status.Badge != "5s" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "PUT", "/v1/settings/pomodoro_interval", `{"value":"30m"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put interval: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"value":1800`) {
		t.Fatalf("expected interval 1800, got %s", rec.Body.String())
	}

	rec = do(t, s, "PUT", "/v1/settings/site_limits", `{"value":{"a.com":60}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put limits: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, "PUT", "/v1/settings/pomodoro_enabled", `{"value":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put enabled: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, "GET", "/v1/settings", "")
	var all map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if all["pomodoro_enabled"] != true || all["pomodoro_interval"] != float64(1800) {
		t.Fatalf("unexpected settings %v", all)
	}

	tests := []struct {
		method, path, body string
		wantCode           int
	}{
		{"GET", "/v1/settings/theme", "", http.StatusNotFound},
		{"GET", "/v1/settings/install_date", "", http.StatusNotFound},
		{"PUT", "/v1/settings/pomodoro_enabled", `{"value":"maybe"}`, http.StatusBadRequest},
		{"PUT", "/v1/settings/pomodoro_interval", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := do(t, s, tt.method, tt.path, tt.body); rec.Code != tt.wantCode {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.wantCode, rec.Code)
		}
	}
}
