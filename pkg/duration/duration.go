// Package duration provides human-readable duration parsing. It extends Go's
// standard time.ParseDuration with days, weeks, months, and years, and with
// spelled-out unit names ("30 days", "2 weeks", "3 hours").
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
	// Month represents 30 days (approximate).
	Month = 30 * Day
	// Year represents 365 days (approximate).
	Year = 365 * Day
)

// extendedMultipliers maps extended unit names to hours, the largest unit
// time.ParseDuration accepts natively.
var extendedMultipliers = map[string]int64{
	"y": 365 * 24, "yr": 365 * 24, "yrs": 365 * 24, "year": 365 * 24, "years": 365 * 24,
	"mo": 30 * 24, "mos": 30 * 24, "month": 30 * 24, "months": 30 * 24,
	"w": 7 * 24, "wk": 7 * 24, "wks": 7 * 24, "week": 7 * 24, "weeks": 7 * 24,
	"d": 24, "day": 24, "days": 24,
}

// wordReplacements maps spelled-out standard units to their short forms.
var wordReplacements = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms",
	"microsecond": "us", "microseconds": "us",
	"nanosecond": "ns", "nanoseconds": "ns",
}

var extendedPattern = regexp.MustCompile(`(?i)(\d+)\s*(years?|yrs?|y|months?|mos?|mo|weeks?|wks?|w|days?|d)`)

var wordPattern = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|microseconds?|nanoseconds?)`)

// Parse parses a human-readable duration string. Extended units (d, w, mo, y)
// are converted to hours before delegating to time.ParseDuration, so mixed
// forms like "1w2d12h" work. Whitespace between number and unit is optional.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var totalHours int64
	remaining := extendedPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedPattern.FindStringSubmatch(match)
		if len(parts) == 3 {
			value, _ := strconv.ParseInt(parts[1], 10, 64)
			if multiplier, ok := extendedMultipliers[strings.ToLower(parts[2])]; ok {
				totalHours += value * multiplier
			}
		}
		return ""
	})

	remaining = wordPattern.ReplaceAllStringFunc(remaining, func(match string) string {
		parts := wordPattern.FindStringSubmatch(match)
		if len(parts) == 3 {
			if short, ok := wordReplacements[strings.ToLower(parts[2])]; ok {
				return parts[1] + short
			}
		}
		return match
	})

	// time.ParseDuration rejects whitespace between components.
	remaining = strings.Join(strings.Fields(remaining), "")

	var durationStr string
	if totalHours > 0 {
		durationStr = fmt.Sprintf("%dh", totalHours)
	}
	durationStr += remaining
	if durationStr == "" {
		durationStr = "0s"
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}

	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format converts a duration to a compact human-readable string using the
// largest applicable units. Zero components are omitted.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder

	for _, part := range []struct {
		unit  time.Duration
		label string
	}{
		{Year, "y"},
		{Month, "mo"},
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	} {
		if n := d / part.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, part.label)
			d -= n * part.unit
		}
	}

	if d > 0 && b.Len() == 0 {
		// Sub-second remainder with no larger components.
		return d.String()
	}

	result := b.String()
	if negative {
		return "-" + result
	}
	return result
}
