package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-string field ("500ms", "2s", "1m") from
// the config. An empty value parses to 0 so the caller can decide the default;
// negative values are rejected outright because every duration in this config
// is a wait window (debounce, restore grace, busy timeout).
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config %s: %q is not a duration: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config %s: %q must not be negative", field, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// empty (or zero) value.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
