package permission

import (
	"github.com/bmatcuk/doublestar/v4"
)

// MatchBlockedPath reports whether path matches any of the glob
// patterns a backend supplied as PermissionRequest.Suggestions or
// BlockedPath — e.g. "src/**/*.go" or "**/*.env". Malformed patterns
// never match rather than erroring, since they come from an untrusted
// backend and a permission decision must never panic on bad input.
func MatchBlockedPath(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// FirstMatchingPattern returns the first pattern in patterns that
// matches path, or "" if none do.
func FirstMatchingPattern(path string, patterns []string) string {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return pattern
		}
	}
	return ""
}
