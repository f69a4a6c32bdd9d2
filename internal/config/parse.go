package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scalar field parsing. Durations in the file are Go duration strings
// ("30m", "1h15m"); window clock times are "HH:MM". Every error carries the
// config field path so a rejected file points at the offending key.

// ParseDurationField parses a duration field. Empty means unset and
// yields zero; negative durations are rejected, no field here means
// "go backwards".
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with unset (or zero)
// replaced by def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// ParseClock parses an "HH:MM" window boundary.
func ParseClock(path, raw string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%s: invalid time %q, expected HH:MM", path, raw)
	}
	if hour, err = clockPart(h, 23); err != nil {
		return 0, 0, fmt.Errorf("%s: invalid hour in %q", path, raw)
	}
	if minute, err = clockPart(m, 59); err != nil {
		return 0, 0, fmt.Errorf("%s: invalid minute in %q", path, raw)
	}
	return hour, minute, nil
}

func clockPart(s string, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}
