package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration string from config. Empty means
// "unset" and returns zero without error.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}

// DurationOrDefault resolves a config duration with a fallback; invalid
// values fall back silently (callers that want errors use ParseDurationField
// during validation).
func DurationOrDefault(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d == 0 {
		return def
	}
	return d
}
