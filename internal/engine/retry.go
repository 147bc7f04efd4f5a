package engine

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// WaitForBackoff sleeps for delay or returns early with ctx's error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SecondsToDuration converts a (possibly fractional) number of seconds.
// Negative, NaN and infinite values yield zero.
func SecondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

var waitDurationPattern = regexp.MustCompile(`^(\d+)([smh])$`)

// ParseWaitDuration parses the compact "<n>s", "<n>m", "<n>h" form used by
// wait_for. It reports false for anything else.
func ParseWaitDuration(s string) (time.Duration, bool) {
	m := waitDurationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour}[m[2]]
	return time.Duration(n) * unit, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseWaitTimestamp parses an ISO-8601 timestamp. A trailing Z means UTC
// and timestamps without an offset are taken as UTC.
func ParseWaitTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if trimmed, ok := strings.CutSuffix(s, "Z"); ok {
		for _, layout := range timestampLayouts[1:] {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
