// Package power ends a boot cycle with a deep sleep.
package power

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// MinSleep is the shortest sleep ever requested. A zero sleep still goes
// through a full wake so the next cycle starts from a fresh boot.
const MinSleep = 10 * time.Millisecond

func Clamp(d time.Duration) time.Duration {
	if d < MinSleep {
		return MinSleep
	}
	return d
}

type Sleeper interface {
	// DeepSleep ends the current cycle for d.
	DeepSleep(ctx context.Context, d time.Duration) error
	// Resumes reports whether the process survives DeepSleep and should run
	// another cycle itself.
	Resumes() bool
}

// New returns the sleeper for mode: "exit" or "simulate".
func New(mode, wakeFile string, logger *slog.Logger) (Sleeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch mode {
	case "exit":
		return &Exit{WakeFile: wakeFile, now: time.Now, logger: logger}, nil
	case "simulate":
		return &Simulate{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown sleep mode %q", mode)
	}
}

// Exit records the wake-up time for the supervisor (systemd timer or
// rtcwake) and lets the process terminate, which drops all volatile state
// the way deep sleep does.
type Exit struct {
	WakeFile string
	now      func() time.Time
	logger   *slog.Logger
}

func (e *Exit) DeepSleep(ctx context.Context, d time.Duration) error {
	d = Clamp(d)
	wake := e.now().Add(d).UTC()
	if e.WakeFile != "" {
		if err := os.MkdirAll(filepath.Dir(e.WakeFile), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(e.WakeFile), err)
		}
		if err := os.WriteFile(e.WakeFile, []byte(wake.Format(time.RFC3339)+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", e.WakeFile, err)
		}
	}
	e.logger.Info("entering deep sleep", "duration", d, "wake_at", wake.Format(time.RFC3339))
	return nil
}

func (e *Exit) Resumes() bool { return false }

// Simulate blocks for the sleep duration and keeps the process alive.
type Simulate struct {
	logger *slog.Logger
}

func (s *Simulate) DeepSleep(ctx context.Context, d time.Duration) error {
	d = Clamp(d)
	s.logger.Info("simulated deep sleep", "duration", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulate) Resumes() bool { return true }
