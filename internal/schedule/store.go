package schedule

import (
	"fmt"
	"log/slog"
)

// Memory is the battery-backed RTC memory region. It survives deep sleep and
// is lost on power loss.
type Memory interface {
	Read() ([]byte, error)
	Write(b []byte) error
}

// Store loads and saves the schedule in RTC memory.
type Store struct {
	mem    Memory
	logger *slog.Logger
}

func NewStore(mem Memory, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{mem: mem, logger: logger}
}

// Load never fails: unreadable, empty or foreign RTC memory is reported as the
// unestablished schedule so the caller falls back to registration.
func (s *Store) Load() State {
	b, err := s.mem.Read()
	if err != nil {
		s.logger.Warn("rtc memory read failed", "error", err)
		return Unestablished
	}
	if len(b) == 0 {
		s.logger.Info("rtc memory empty")
		return Unestablished
	}
	st, err := Decode(b)
	if err != nil {
		s.logger.Warn("rtc memory load failed", "error", err)
		return Unestablished
	}
	s.logger.Debug("rtc memory loaded",
		"last_log", st.LastLog,
		"period", st.Period,
		"last_advertise", st.LastAdvertise,
	)
	return st
}

// Save persists st; a partial state is rejected with ErrInvalidState.
func (s *Store) Save(st State) error {
	b, err := Encode(st)
	if err != nil {
		return err
	}
	if err := s.mem.Write(b); err != nil {
		return fmt.Errorf("rtc memory write: %w", err)
	}
	s.logger.Info("rtc memory saved",
		"last_log", st.LastLog,
		"period", st.Period,
		"last_advertise", st.LastAdvertise,
	)
	return nil
}
