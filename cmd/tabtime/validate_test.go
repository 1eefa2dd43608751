package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/goodtune/tabtime/internal/config"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabtime.yaml")
	body := strings.Join([]string{
		"server:",
		"  api_port: 7500",
		"  dns_port: 53",
		"tracking:",
		"  abandon_treshold: 10s",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("find unknown keys: %v", err)
	}
	want := []string{"server.dns_port", "tracking.abandon_treshold"}
	if !reflect.DeepEqual(unknown, want) {
		t.Fatalf("expected %v, got %v", want, unknown)
	}
}

func TestDumpConfigHighlightsChanges(t *testing.T) {
	color.NoColor = true

	defaults, err := config.Defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg := *defaults
	cfg.Server.APIPort = 7500
	cfg.Storage.Redis.Password = "secret"

	var buf bytes.Buffer
	dumpConfig(&buf, &cfg, defaults, []string{"server.dns_port"})
	out := buf.String()

	for _, want := range []string{
		"api_port = 7500  (modified from default: 7420)",
		"metrics_port = 9420\n",
		"password = ***REDACTED***",
		"server.dns_port = (unknown key - check for typos)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in dump:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret") {
		t.Error("password leaked into dump")
	}
}
