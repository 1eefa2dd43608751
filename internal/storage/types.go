package storage

import (
	"fmt"
	"sort"
	"time"
)

// dateLayout matches timeutil.DateLayout; storage does not depend on timeutil.
const dateLayout = "2006-01-02"

// ActivitySession is the persisted checkpoint of the open accrual window.
// Everything up to LastHeartbeatMs has already been flushed into DailyUsage.
type ActivitySession struct {
	ID              string `json:"id"`
	SiteKey         string `json:"site_key"`
	StartedAtMs     int64  `json:"started_at_ms"`
	LastHeartbeatMs int64  `json:"last_heartbeat_ms"`
}

// DailyUsage aggregates usage per local date and site.
type DailyUsage struct {
	Date    string `json:"date"`
	SiteKey string `json:"site_key"`
	Seconds int64  `json:"seconds"`
}

// Change describes one key update delivered to watchers.
// OldValue is nil when the key was created and NewValue is nil when deleted.
type Change struct {
	Key      string `json:"key"`
	OldValue []byte `json:"old_value,omitempty"`
	NewValue []byte `json:"new_value,omitempty"`
}

// ChangeFunc receives change notifications.
type ChangeFunc func(Change)

// ValidateDailyUsage checks a record before it is written by ReplaceAll.
func ValidateDailyUsage(record DailyUsage) error {
	if _, err := time.Parse(dateLayout, record.Date); err != nil {
		return fmt.Errorf("invalid usage date %q: %w", record.Date, err)
	}
	if record.SiteKey == "" {
		return fmt.Errorf("usage record for %s has empty site key", record.Date)
	}
	if record.Seconds < 0 {
		return fmt.Errorf("usage record %s/%s has negative seconds", record.Date, record.SiteKey)
	}
	return nil
}

// MergeDailyUsage collapses duplicate (date, site) records by summing them and
// returns the result sorted by date then site.
func MergeDailyUsage(records []DailyUsage) []DailyUsage {
	type key struct{ date, site string }
	totals := make(map[key]int64, len(records))
	for _, r := range records {
		totals[key{r.Date, r.SiteKey}] += r.Seconds
	}

	merged := make([]DailyUsage, 0, len(totals))
	for k, secs := range totals {
		merged = append(merged, DailyUsage{Date: k.date, SiteKey: k.site, Seconds: secs})
	}
	SortDailyUsage(merged)
	return merged
}

// SortDailyUsage orders records by date then site.
func SortDailyUsage(records []DailyUsage) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].SiteKey < records[j].SiteKey
	})
}

// BeforeDate reports whether date sorts before cutoff. Both are YYYY-MM-DD.
func BeforeDate(date, cutoff string) (bool, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return false, err
	}
	c, err := time.Parse(dateLayout, cutoff)
	if err != nil {
		return false, fmt.Errorf("invalid cutoff date: %w", err)
	}
	return d.Before(c), nil
}
