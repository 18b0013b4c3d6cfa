package article

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes an article URL so cosmetic variants share one
// cache entry. It lowercases the scheme and host, removes default ports,
// strips a trailing slash, sorts query parameters, and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", &ValidationError{Field: "url", Reason: "required"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: fmt.Sprintf("parse: %v", err)}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", &ValidationError{Field: "url", Reason: "host required"}
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	u.User = nil

	if strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	}

	// Encode sorts by key.
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// CacheKey builds the "{source}:{normalizedUrl}" key for an already
// normalized URL.
func CacheKey(src Source, normalizedURL string) string {
	return string(src) + ":" + normalizedURL
}

// Hostname returns the lower-cased host of rawURL, or "" when it cannot be
// parsed.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SplitCacheKey separates a cache key into its source and normalized URL.
func SplitCacheKey(key string) (Source, string, bool) {
	src, rest, ok := strings.Cut(key, ":")
	if !ok || !Source(src).Valid() || rest == "" {
		return "", "", false
	}
	return Source(src), rest, true
}
