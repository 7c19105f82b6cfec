// Package bytesize provides human-readable byte size parsing and
// formatting for configuration values such as a maximum segment size,
// trimmed to the binary (1024-based) units the config layer uses.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count that parses from and formats to human strings.
type Size int64

// Binary (1024-based) size constants.
const (
	B  Size = 1
	KB Size = 1024 * B
	MB Size = 1024 * KB
	GB Size = 1024 * MB
)

var unitMultipliers = map[string]Size{
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size ("20MB", "1.5 GB", "1024").
// A bare number with no unit is taken as bytes.
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
		m, ok := unitMultipliers[unit]
		if !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
		}
		multiplier = m
	}
	return Size(value * float64(multiplier)), nil
}

// Format converts s to a human-readable string using the largest unit
// that keeps the value >= 1.
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
	case s >= GB:
		result = formatFloat(float64(s)/float64(GB), "GB")
	case s >= MB:
		result = formatFloat(float64(s)/float64(MB), "MB")
	case s >= KB:
		result = formatFloat(float64(s)/float64(KB), "KB")
	default:
		result = fmt.Sprintf("%dB", int64(s))
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
	return strings.TrimRight(formatted, ".") + unit
}

// Bytes returns s as a plain int64 byte count.
func (s Size) Bytes() int64 { return int64(s) }

// String implements fmt.Stringer as a human-readable size.
func (s Size) String() string { return Format(s) }

// UnmarshalText lets viper/mapstructure decode config values like
// "50MB" directly into a Size field.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
