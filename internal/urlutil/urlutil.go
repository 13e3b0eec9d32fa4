// Package urlutil normalizes the browser origins allowed by CORS.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOrigin returns raw as a canonical origin (scheme://host[:port])
// with no trailing slash. Only http and https origins without a path, query
// or fragment are accepted. "*" is returned unchanged.
func NormalizeOrigin(raw string) (string, error) {
	base := normalizeBaseURL(raw)
	if base == "" {
		return "", fmt.Errorf("origin is empty")
	}
	if base == "*" {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("origin %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("origin %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q: host is required", raw)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("origin %q: must not carry a path, query, fragment or credentials", raw)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}

// NormalizeOrigins normalizes every entry of raw, dropping blanks and
// duplicates. The first invalid entry is returned as an error.
func NormalizeOrigins(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		origin, err := NormalizeOrigin(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[origin]; dup {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	return out, nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/")
}
