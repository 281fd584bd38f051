package event

import (
	"fmt"
	"strings"
)

// MatchAll is the pattern that matches every event type.
const MatchAll = "*"

// Match reports whether an event type matches a subscription pattern.
// Patterns are either exact types, the universal `*`, or a prefix followed
// by `.*`: `a.b.*` matches `a.b`, `a.b.c` and `a.b.c.d`.
func Match(pattern, eventType string) bool {
	if pattern == MatchAll {
		return true
	}
	if base, ok := strings.CutSuffix(pattern, ".*"); ok {
		return eventType == base || strings.HasPrefix(eventType, base+".")
	}
	return pattern == eventType
}

// IsWildcard reports whether the pattern uses prefix matching.
func IsWildcard(pattern string) bool {
	return pattern == MatchAll || strings.HasSuffix(pattern, ".*")
}

// ValidatePattern rejects malformed subscription patterns: empty strings,
// empty segments, and `*` anywhere but the trailing position.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty event pattern")
	}
	if pattern == MatchAll {
		return nil
	}
	var segments = strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("event pattern %q has an empty segment", pattern)
		}
		if seg == "*" && i != len(segments)-1 {
			return fmt.Errorf("event pattern %q: wildcard must be the last segment", pattern)
		}
	}
	return nil
}

// TypeRoot returns the first dotted segment of an event type:
// TypeRoot("inject.requested") == "inject".
func TypeRoot(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		return eventType[:i]
	}
	return eventType
}
