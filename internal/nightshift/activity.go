package nightshift

import "time"

// userActive reports whether the operator interacted within the threshold.
// A zero last-activity timestamp means never recorded and is treated as
// inactive, so a cold start never blocks processing.
func userActive(last time.Time, threshold time.Duration, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < threshold
}
