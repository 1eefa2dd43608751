package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestSwapValueScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	key := "tabtime:value:pomodoro_interval"

	// First write returns nil
	err := client.Eval(ctx, swapValueScript, []string{key}, "1", "1500").Err()
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("Expected nil reply for first write, got %v", err)
	}

	old, err := client.Eval(ctx, swapValueScript, []string{key}, "1", "900").Text()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if old != "1500" {
		t.Errorf("Expected old value 1500, got %s", old)
	}

	stored, err := client.Get(ctx, key).Result()
	if err != nil {
		t.Fatalf("Failed to read value: %v", err)
	}
	if stored != "900" {
		t.Errorf("Expected stored value 900, got %s", stored)
	}

	old, err = client.Eval(ctx, swapValueScript, []string{key}, "0", "").Text()
	if err != nil {
		t.Fatalf("Delete execution failed: %v", err)
	}
	if old != "900" {
		t.Errorf("Expected old value 900 on delete, got %s", old)
	}
	if mr.Exists(key) {
		t.Error("Value should be deleted")
	}
}

func TestIncrementDailyUsageScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	tests := []struct {
		name          string
		date          string
		siteKey       string
		seconds       int64
		existingUsage int64
		expectedTotal int64
	}{
		{
			name:          "create new usage entry",
			date:          "2025-01-01",
			siteKey:       "example.com",
			seconds:       60,
			expectedTotal: 60,
		},
		{
			name:          "increment existing usage",
			date:          "2025-01-01",
			siteKey:       "news.example.org",
			seconds:       30,
			existingUsage: 90,
			expectedTotal: 120,
		},
		{
			name:          "zero increment keeps total",
			date:          "2025-01-02",
			siteKey:       "example.com",
			seconds:       0,
			existingUsage: 15,
			expectedTotal: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usageKey := "tabtime:usage:daily:" + tt.date + ":" + tt.siteKey
			indexKey := "tabtime:usage:daily:index:" + tt.date
			datesKey := "tabtime:usage:dates"
			keys := []string{usageKey, indexKey, datesKey}

			if tt.existingUsage > 0 {
				if err := client.Eval(ctx, incrementDailyUsageScript, keys, tt.date, tt.siteKey, tt.existingUsage).Err(); err != nil {
					t.Fatalf("Failed to seed usage: %v", err)
				}
			}

			if err := client.Eval(ctx, incrementDailyUsageScript, keys, tt.date, tt.siteKey, tt.seconds).Err(); err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}

			data, err := client.HGetAll(ctx, usageKey).Result()
			if err != nil {
				t.Fatalf("Failed to get usage data: %v", err)
			}
			usage, err := parseDailyUsage(data)
			if err != nil {
				t.Fatalf("Failed to parse usage: %v", err)
			}
			if usage.Seconds != tt.expectedTotal {
				t.Errorf("Expected total %d, got %d", tt.expectedTotal, usage.Seconds)
			}
			if usage.SiteKey != tt.siteKey || usage.Date != tt.date {
				t.Errorf("Unexpected record identity %+v", usage)
			}

			if !client.SIsMember(ctx, indexKey, tt.siteKey).Val() {
				t.Error("Site should be in the date index")
			}
			if !client.SIsMember(ctx, datesKey, tt.date).Val() {
				t.Error("Date should be in the dates set")
			}
		})
	}
}

func TestIncrementDailyUsageScript_Checkpoint(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	keys := []string{
		"tabtime:usage:daily:2025-01-01:example.com",
		"tabtime:usage:daily:index:2025-01-01",
		"tabtime:usage:dates",
		"tabtime:tracker:session",
	}

	err := client.Eval(ctx, incrementDailyUsageScript, keys, "2025-01-01", "example.com", 5, `{"id":"s1"}`).Err()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}

	session, err := client.Get(ctx, "tabtime:tracker:session").Result()
	if err != nil {
		t.Fatalf("Failed to read checkpoint: %v", err)
	}
	if session != `{"id":"s1"}` {
		t.Errorf("Unexpected checkpoint %s", session)
	}
}

func TestIncrementDailyUsageScript_RejectsNegative(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	usageKey := "tabtime:usage:daily:2025-01-01:example.com"
	keys := []string{usageKey, "tabtime:usage:daily:index:2025-01-01", "tabtime:usage:dates"}

	if err := client.Eval(ctx, incrementDailyUsageScript, keys, "2025-01-01", "example.com", -10).Err(); err == nil {
		t.Fatal("Expected error for negative increment")
	}
	if mr.Exists(usageKey) {
		t.Error("Negative increment should not create a record")
	}
}

func TestKeyspace(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "tabtime:value:x"},
		{prefix: "home", want: "home:value:x"},
		{prefix: "home:", want: "home:value:x"},
	}

	for _, tt := range tests {
		if got := newKeyspace(tt.prefix).value("x"); got != tt.want {
			t.Errorf("prefix %q: expected %s, got %s", tt.prefix, tt.want, got)
		}
	}

	k := newKeyspace("tabtime")
	if got := k.valueName(k.value("jobs:last_run:badge")); got != "jobs:last_run:badge" {
		t.Errorf("Expected round trip of value name, got %s", got)
	}
}
