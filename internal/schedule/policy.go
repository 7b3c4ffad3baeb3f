package schedule

import (
	"fmt"
	"time"
)

// AdvertisePolicy decides whether a periodic wake should open a bounded
// advertising window.
type AdvertisePolicy interface {
	IsAdvertiseTime(s State, now int64) bool
	Name() string
}

// IntervalPolicy advertises once every Interval, independent of the log period.
type IntervalPolicy struct {
	Interval time.Duration
}

func (p IntervalPolicy) Name() string { return "interval" }

func (p IntervalPolicy) IsAdvertiseTime(s State, now int64) bool {
	if !s.Established() {
		return false
	}
	return now-s.LastAdvertise >= int64(p.Interval/time.Second)
}

// GapFillPolicy advertises on every wake that happens before the next log is due.
type GapFillPolicy struct{}

func (GapFillPolicy) Name() string { return "gapfill" }

func (GapFillPolicy) IsAdvertiseTime(s State, now int64) bool {
	if !s.Established() {
		return false
	}
	return now < s.NextLog()
}

// PolicyByName maps a configured policy name to its implementation.
func PolicyByName(name string, interval time.Duration) (AdvertisePolicy, error) {
	switch name {
	case "interval":
		if interval < time.Second {
			return nil, fmt.Errorf("advertise interval must be at least 1s, got %v", interval)
		}
		return IntervalPolicy{Interval: interval}, nil
	case "gapfill":
		return GapFillPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown advertise policy %q", name)
	}
}
