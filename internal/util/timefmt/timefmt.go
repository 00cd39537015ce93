package timefmt

import (
	"fmt"
	"time"
)

// ISO8601 is the ISO-8601 format used for timestamp serialization.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// Format formats a time.Time to the standard string representation.
func Format(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// Parse parses a timestamp in the standard string representation.
// RFC 3339 timestamps with other precisions are accepted too.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(ISO8601, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Ago renders the distance from t to now as a short human-readable
// string ("just now", "5m ago", "3h ago", "2d ago").
func Ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	seconds := time.Since(t).Seconds()
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", int(seconds/60))
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", int(seconds/3600))
	default:
		return fmt.Sprintf("%dd ago", int(seconds/86400))
	}
}
