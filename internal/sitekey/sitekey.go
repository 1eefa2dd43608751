// Package sitekey maps URLs and hostnames to the keys usage and limits are
// recorded under.
package sitekey

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalid is returned for input that does not name a site.
var ErrInvalid = errors.New("invalid site")

// Normalize turns a URL or bare hostname into a site key. Web URLs map to
// their lower-cased hostname without a leading "www." or trailing dot;
// other schemes (chrome://, about:, file://) map to the scheme itself.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	// Bare host, optionally with a port and path
	if !strings.Contains(raw, "//") {
		hostport := strings.SplitN(raw, "/", 2)[0]
		if !strings.Contains(hostport, ":") {
			return normalizeHost(hostport)
		}
		if host, port, err := net.SplitHostPort(hostport); err == nil && isPort(port) {
			return normalizeHost(host)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
		return normalizeHost(u.Hostname())
	case "":
		return "", fmt.Errorf("%w: %q has no scheme", ErrInvalid, raw)
	default:
		return scheme, nil
	}
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0 && n <= 65535
}

func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", fmt.Errorf("%w: empty hostname", ErrInvalid)
	}
	return host, nil
}
