// Package schedule holds the wake/sleep schedule that survives deep sleep in
// battery-backed RTC memory, and the predicates the boot cycle derives from it.
package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when saving a schedule that is not fully established.
	ErrInvalidState = errors.New("invalid schedule state")
	// ErrPersistenceCorrupt marks RTC memory that cannot be decoded.
	ErrPersistenceCorrupt = errors.New("rtc memory corrupt")
)

// State is the persisted schedule. The zero value is the unestablished schedule;
// a schedule is established once Period is non-zero, and then all three fields
// carry meaning.
type State struct {
	LastLog       int64  // epoch seconds of the last sensor log
	Period        uint32 // log period in seconds
	LastAdvertise int64  // epoch seconds of the last advertising window
}

// Unestablished is the state of a device that has never been configured or
// lost its RTC memory.
var Unestablished = State{}

func (s State) Established() bool {
	return s.Period > 0
}

// Validate reports whether s can be persisted.
func (s State) Validate() error {
	if s.Period == 0 {
		return fmt.Errorf("%w: period must be > 0", ErrInvalidState)
	}
	if s.LastLog < 0 || s.LastAdvertise < 0 {
		return fmt.Errorf("%w: negative epoch (log=%d, advertise=%d)", ErrInvalidState, s.LastLog, s.LastAdvertise)
	}
	return nil
}

// NextLog is the epoch at which the next sample is due.
func (s State) NextLog() int64 {
	return s.LastLog + int64(s.Period)
}

// IsLogTime reports whether a sample is due at now. Once true it stays true
// for every later now until the state changes.
func (s State) IsLogTime(now int64) bool {
	if !s.Established() {
		return false
	}
	return now >= s.NextLog()
}

// WithLog returns s with the last log moved to now.
func (s State) WithLog(now int64) State {
	s.LastLog = now
	return s
}

// WithAdvertise returns s with the last advertising window moved to now.
func (s State) WithAdvertise(now int64) State {
	s.LastAdvertise = now
	return s
}
