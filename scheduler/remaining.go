package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// FormatRemaining renders the time left until executeAt (unix milli) as a
// short human-readable string, e.g. "2d 4h", "5m 12s", "42s". Anything at or
// past the deadline renders as "overdue". It never fails.
func FormatRemaining(executeAt int64) string {
	return formatRemaining(time.Until(time.UnixMilli(executeAt)))
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "overdue"
	}

	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int64(d / time.Second)

	// Keep the two most significant non-zero units.
	parts := make([]string, 0, 2)
	add := func(v int64, unit string) {
		if len(parts) >= 2 || v <= 0 {
			return
		}
		parts = append(parts, fmt.Sprintf("%d%s", v, unit))
	}
	add(days, "d")
	add(hours, "h")
	add(minutes, "m")
	add(seconds, "s")

	if len(parts) == 0 {
		return "under 1s"
	}
	return strings.Join(parts, " ")
}
