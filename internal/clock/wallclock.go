package clock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ISOLayout is the timestamp layout used in the record log.
const ISOLayout = "2006-01-02T15:04:05"

var ErrInvalidTime = errors.New("invalid wall-clock time")

// ParseWallClock accepts the time forms a controller may send: epoch seconds,
// a [Y, M, D, h, m, s] array in UTC, or an ISO-8601 string.
func ParseWallClock(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: missing", ErrInvalidTime)
	}

	switch raw[0] {
	case '[':
		var parts []int
		if err := json.Unmarshal(raw, &parts); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidTime, err)
		}
		return fromParts(parts)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidTime, err)
		}
		return ParseISO(s)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidTime, err)
		}
		epoch, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: epoch %q: %v", ErrInvalidTime, n, err)
		}
		if epoch < 0 {
			return 0, fmt.Errorf("%w: negative epoch %d", ErrInvalidTime, epoch)
		}
		return epoch, nil
	}
}

func fromParts(p []int) (int64, error) {
	if len(p) != 6 {
		return 0, fmt.Errorf("%w: want [Y,M,D,h,m,s], got %d fields", ErrInvalidTime, len(p))
	}
	t := time.Date(p[0], time.Month(p[1]), p[2], p[3], p[4], p[5], 0, time.UTC)
	// time.Date normalizes out-of-range fields; reject instead of rolling over.
	if t.Year() != p[0] || int(t.Month()) != p[1] || t.Day() != p[2] ||
		t.Hour() != p[3] || t.Minute() != p[4] || t.Second() != p[5] {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidTime, p)
	}
	if t.Unix() < 0 {
		return 0, fmt.Errorf("%w: %v before epoch", ErrInvalidTime, p)
	}
	return t.Unix(), nil
}

// ParseISO parses "YYYY-MM-DDTHH:MM:SS" (UTC) or RFC 3339. Times before the
// Unix epoch are rejected.
func ParseISO(s string) (int64, error) {
	t, err := time.ParseInLocation(ISOLayout, s, time.UTC)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
	}
	if t.Unix() < 0 {
		return 0, fmt.Errorf("%w: %q before epoch", ErrInvalidTime, s)
	}
	return t.Unix(), nil
}

// FormatISO renders epoch seconds in the record log layout.
func FormatISO(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(ISOLayout)
}
