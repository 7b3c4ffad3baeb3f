package schedule

import "time"

// NextSleep returns how long to deep-sleep after a cycle ending at now.
//
// A due or overdue log yields 0. A period at or above the ceiling sleeps exactly
// the ceiling and relies on repeated wakes; a log due sooner than that runs
// up to one ceiling late, which is accepted. An unestablished schedule also
// sleeps the ceiling.
func NextSleep(s State, now int64, ceiling time.Duration) time.Duration {
	if !s.Established() {
		return ceiling
	}
	remaining := s.NextLog() - now
	if remaining <= 0 {
		return 0
	}
	if time.Duration(s.Period)*time.Second >= ceiling {
		return ceiling
	}
	d := time.Duration(remaining) * time.Second
	if d > ceiling {
		return ceiling
	}
	return d
}
