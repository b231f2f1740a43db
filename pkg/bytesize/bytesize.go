// Package bytesize provides human-readable byte size parsing and formatting.
// Units are binary (1024-based); "KB" and "KiB" are equivalent.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "1024" = 1024 bytes (no unit means bytes)
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Size constants using binary (1024) base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
	PB Size = 1024 * TB
)

var unitMultipliers = map[string]Size{
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
	"p": PB, "pb": PB, "pib": PB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size string. Integer and floating-point
// values are accepted; a missing unit means bytes.
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier := B
	if unit := strings.ToLower(matches[2]); unit != "" {
		var ok bool
		multiplier, ok = unitMultipliers[unit]
		if !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
		}
	}

	return Size(value * float64(multiplier)), nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format converts a byte size to a human-readable string using the largest
// unit that yields a value >= 1.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	var result string
	switch {
	case s >= PB:
		result = formatFloat(float64(s)/float64(PB), "PB")
	case s >= TB:
		result = formatFloat(float64(s)/float64(TB), "TB")
	case s >= GB:
		result = formatFloat(float64(s)/float64(GB), "GB")
	case s >= MB:
		result = formatFloat(float64(s)/float64(MB), "MB")
	case s >= KB:
		result = formatFloat(float64(s)/float64(KB), "KB")
	default:
		result = fmt.Sprintf("%dB", s)
	}

	if negative {
		return "-" + result
	}
	return result
}

func formatFloat(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(fmt.Sprintf("%.2f", value), "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + unit
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns a human-readable string representation.
func (s Size) String() string {
	return Format(s)
}
