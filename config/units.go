package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Size units in bytes.
const (
	B  int64 = 1
	KB       = 1024 * B
	MB       = 1024 * KB
	GB       = 1024 * MB
	TB       = 1024 * GB
)

// Time units in microseconds, the resolution of every measured sample.
const (
	Microsecond int64 = 1
	Millisecond       = 1000 * Microsecond
	Second            = 1000 * Millisecond
)

// ParseSize converts a human size string (e.g. "512K", "4M", "1G") to bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimSuffix(s, "IB")
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multipliers := map[byte]int64{
		'K': KB,
		'M': MB,
		'G': GB,
		'T': TB,
	}

	last := s[len(s)-1]
	if m, ok := multipliers[last]; ok {
		val, err := strconv.ParseFloat(strings.TrimSpace(s[:len(s)-1]), 64)
		if err != nil {
			return 0, fmt.Errorf("parse size %q: %w", s, err)
		}

		return int64(val * float64(m)), nil
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}

	return val, nil
}

// FormatSize renders a byte count the way block sizes are labelled
// (e.g. "4MB", "512B").
func FormatSize(size int64) string {
	switch {
	case size >= GB:
		return trimFloat(float64(size)/float64(GB)) + "GB"
	case size >= MB:
		return trimFloat(float64(size)/float64(MB)) + "MB"
	case size >= KB:
		return trimFloat(float64(size)/float64(KB)) + "KB"
	default:
		return strconv.FormatInt(size, 10) + "B"
	}
}

func trimFloat(v float64) string {
	formatted := strconv.FormatFloat(v, 'f', 1, 64)
	formatted = strings.TrimRight(formatted, "0")

	return strings.TrimRight(formatted, ".")
}
