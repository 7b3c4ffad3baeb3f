package schedule

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// formatVersion prefixes every RTC memory record. Records written by older
// firmware lack it and are treated as corrupt.
const formatVersion = "v2:"

// maxEncodedLen bounds the record so it always fits the RTC slow memory region.
const maxEncodedLen = 64

// Encode renders s as "v2:<last_log>,<period>,<last_advertise>".
func Encode(s State) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := fmt.Sprintf("%s%d,%d,%d", formatVersion, s.LastLog, s.Period, s.LastAdvertise)
	return []byte(out), nil
}

// Decode parses an RTC memory record. Every failure wraps ErrPersistenceCorrupt.
func Decode(b []byte) (State, error) {
	b = bytes.TrimRight(b, "\x00")
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return Unestablished, fmt.Errorf("%w: empty", ErrPersistenceCorrupt)
	}
	if len(raw) > maxEncodedLen {
		return Unestablished, fmt.Errorf("%w: %d bytes exceeds %d", ErrPersistenceCorrupt, len(raw), maxEncodedLen)
	}
	body, ok := strings.CutPrefix(raw, formatVersion)
	if !ok {
		return Unestablished, fmt.Errorf("%w: unknown format %q", ErrPersistenceCorrupt, raw)
	}
	parts := strings.Split(body, ",")
	if len(parts) != 3 {
		return Unestablished, fmt.Errorf("%w: want 3 fields, got %d", ErrPersistenceCorrupt, len(parts))
	}

	lastLog, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Unestablished, fmt.Errorf("%w: last log: %v", ErrPersistenceCorrupt, err)
	}
	period, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Unestablished, fmt.Errorf("%w: period: %v", ErrPersistenceCorrupt, err)
	}
	lastAdv, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Unestablished, fmt.Errorf("%w: last advertise: %v", ErrPersistenceCorrupt, err)
	}

	s := State{LastLog: lastLog, Period: uint32(period), LastAdvertise: lastAdv}
	if err := s.Validate(); err != nil {
		return Unestablished, fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err)
	}
	return s, nil
}
