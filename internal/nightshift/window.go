package nightshift

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window evaluation. Two activation paths, in order:
//
//  1. Trigger window: a good-night trigger at T opens the window at T+buffer;
//     it closes at the next occurrence of the configured end clock time at or
//     after the open, or immediately when a morning greeting lands strictly
//     inside the bounds. A greeting-closed window does NOT fall through to
//     the clock window: the explicit greeting overrides the clock.
//  2. Clock fallback: plain minute-of-day comparison, wrapping midnight when
//     start > end.
//
// A zero good-night timestamp means path 1 never matches.

type clockWindow struct {
	startMin int // minute of day
	endMin   int
}

func parseClockWindow(start, end string) (clockWindow, error) {
	s, err := parseHHMM(start)
	if err != nil {
		return clockWindow{}, err
	}
	e, err := parseHHMM(end)
	if err != nil {
		return clockWindow{}, err
	}
	return clockWindow{startMin: s, endMin: e}, nil
}

func parseHHMM(raw string) (minuteOfDay int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h*60 + m, nil
}

// contains reports whether the minute-of-day lies inside the window,
// treating start > end as wrapping midnight.
func (w clockWindow) contains(min int) bool {
	if w.startMin > w.endMin {
		return min >= w.startMin || min < w.endMin
	}
	return min >= w.startMin && min < w.endMin
}

// triggerBounds computes the open/close instants of a trigger-based window.
// The close is the next occurrence of the end clock time on or after the open.
func triggerBounds(goodNight time.Time, buffer time.Duration, w clockWindow, loc *time.Location) (start, end time.Time) {
	start = goodNight.Add(buffer)
	local := start.In(loc)
	end = time.Date(local.Year(), local.Month(), local.Day(), w.endMin/60, w.endMin%60, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// inWindow evaluates both activation paths for the given instant.
func inWindow(goodNight, morning time.Time, buffer time.Duration, w clockWindow, loc *time.Location, now time.Time) bool {
	if !goodNight.IsZero() {
		start, end := triggerBounds(goodNight, buffer, w, loc)
		if !morning.IsZero() && morning.After(start) && morning.Before(end) {
			return false
		}
		if !now.Before(start) && now.Before(end) {
			return true
		}
	}

	local := now.In(loc)
	return w.contains(local.Hour()*60 + local.Minute())
}
