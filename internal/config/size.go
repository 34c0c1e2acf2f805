package config

import (
	"fmt"
	"strconv"
	"strings"
)

// memorySuffixes maps accepted memory quantity suffixes to their byte
// multiplier. Longer suffixes come first so "Mi" is not read as a bare "M"
// with a stray "i". Both the container-style binary forms (Ki, Mi, Gi) and
// the file-size forms (KiB, MB, ...) are accepted.
var memorySuffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"KIB", 1 << 10},
	{"MIB", 1 << 20},
	{"GIB", 1 << 30},
	{"KI", 1 << 10},
	{"MI", 1 << 20},
	{"GI", 1 << 30},
	{"KB", 1e3},
	{"MB", 1e6},
	{"GB", 1e9},
	{"K", 1e3},
	{"M", 1e6},
	{"G", 1e9},
	{"B", 1},
}

// ParseMemory converts a memory quantity such as "512Mi", "1Gi" or "256MB"
// to bytes. A bare number is raw bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid memory quantity: empty")
	}

	upper := strings.ToUpper(s)

	for _, sf := range memorySuffixes {
		if !strings.HasSuffix(upper, sf.suffix) {
			continue
		}

		num := strings.TrimSpace(s[:len(s)-len(sf.suffix)])

		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
		}

		if f < 0 {
			return 0, fmt.Errorf("invalid memory quantity %q: must be non-negative", s)
		}

		return int64(f * float64(sf.multiplier)), nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid memory quantity %q: must be non-negative", s)
	}

	return n, nil
}
