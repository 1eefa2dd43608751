package redis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goodtune/tabtime/internal/storage"
)

const defaultKeyPrefix = "tabtime"

// keyspace builds every key the store touches from a common prefix.
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) value(key string) string { return k.prefix + ":value:" + key }

func (k keyspace) valuePattern(prefix string) string { return k.prefix + ":value:" + prefix + "*" }

func (k keyspace) valueName(redisKey string) string {
	return strings.TrimPrefix(redisKey, k.prefix+":value:")
}

func (k keyspace) changes() string { return k.prefix + ":changes" }

func (k keyspace) dailyUsage(date, siteKey string) string {
	return fmt.Sprintf("%s:usage:daily:%s:%s", k.prefix, date, siteKey)
}

func (k keyspace) dailyIndex(date string) string {
	return fmt.Sprintf("%s:usage:daily:index:%s", k.prefix, date)
}

func (k keyspace) dates() string { return k.prefix + ":usage:dates" }

func (k keyspace) usagePattern() string { return k.prefix + ":usage:*" }

func (k keyspace) session() string { return k.prefix + ":tracker:session" }

// parseDailyUsage converts a Redis hash to DailyUsage
func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	seconds, err := strconv.ParseInt(data["seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seconds: %w", err)
	}

	return &storage.DailyUsage{
		Date:    data["date"],
		SiteKey: data["site_key"],
		Seconds: seconds,
	}, nil
}
