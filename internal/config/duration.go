package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration units are explicit approximations, centralized here per the
// design note that this must not silently drift to calendar arithmetic:
// a "month" is always 30 days and a "year" is always 365 days.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// ParseDuration parses a `<integer><unit>` duration string with
// unit in {s, m, h, d, w, M, y}. Note the case sensitivity: lowercase `m`
// is minutes, uppercase `M` is the 30-day month approximation.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration string %q", s)
	}

	unit := s[len(s)-1:]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration string %q: %w", s, err)
	}

	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * day, nil
	case "w":
		return time.Duration(n) * week, nil
	case "M":
		return time.Duration(n) * month, nil
	case "y":
		return time.Duration(n) * year, nil
	default:
		return 0, fmt.Errorf("invalid duration string %q: unrecognized unit %q", s, unit)
	}
}
