// Package urlutil resolves and inspects URLs without re-encoding them.
//
// url.ResolveReference normalizes escapes, which breaks CDN paths that carry
// parentheses, brackets or pre-signed tokens. Everything here works on the
// raw string instead.
package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves ref against base. Absolute and protocol-relative refs are
// returned as-is (the latter with base's scheme, https when unknown).
func Resolve(ref, base string) string {
	switch {
	case ref == "":
		return base
	case IsHTTP(ref):
		return ref
	case strings.HasPrefix(ref, "//"):
		scheme := "https"
		if u, err := url.Parse(base); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		return scheme + ":" + ref
	case strings.HasPrefix(ref, "/"):
		origin := Origin(base)
		if origin == "" {
			return ref
		}
		return origin + ref
	case strings.HasPrefix(ref, "?"):
		return stripQuery(base) + ref
	}

	dir := directory(base)
	for {
		switch {
		case strings.HasPrefix(ref, "./"):
			ref = ref[2:]
		case strings.HasPrefix(ref, "../"):
			ref = ref[3:]
			dir = parent(dir)
		default:
			return dir + ref
		}
	}
}

// Origin returns scheme://host for u, or "" when u is not absolute.
func Origin(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// IsHTTP reports whether u is an absolute http or https URL.
func IsHTTP(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func stripQuery(u string) string {
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		return u[:idx]
	}
	return u
}

// directory returns base up to and including its last path slash. A bare
// origin gets a trailing slash.
func directory(base string) string {
	base = stripQuery(base)
	origin := Origin(base)
	if origin != "" && len(base) <= len(origin) {
		return origin + "/"
	}
	if idx := strings.LastIndex(base, "/"); idx >= len(origin) {
		return base[:idx+1]
	}
	return ""
}

// parent drops the last segment of dir, never climbing above the origin.
func parent(dir string) string {
	origin := Origin(dir)
	trimmed := strings.TrimSuffix(dir, "/")
	if len(trimmed) <= len(origin) {
		return dir
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= len(origin) {
		return trimmed[:idx+1]
	}
	return dir
}
