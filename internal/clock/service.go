package clock

import (
	"fmt"
	"log/slog"
	"time"
)

// Service is the single source of time for a boot cycle.
type Service struct {
	rtc    RTC
	logger *slog.Logger
}

func NewService(rtc RTC, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rtc: rtc, logger: logger}
}

// Now returns the RTC time in epoch seconds.
func (s *Service) Now() int64 {
	return s.rtc.Now().Unix()
}

// Sync sets the RTC to epoch. Both the settings and the trigger write paths
// call it.
func (s *Service) Sync(epoch int64) error {
	if epoch < 0 {
		return fmt.Errorf("%w: negative epoch %d", ErrInvalidTime, epoch)
	}
	before := s.rtc.Now().Unix()
	if err := s.rtc.Set(time.Unix(epoch, 0).UTC()); err != nil {
		return fmt.Errorf("rtc set: %w", err)
	}
	s.logger.Info("rtc synchronized",
		"time", FormatISO(epoch),
		"drift_s", epoch-before,
	)
	return nil
}
