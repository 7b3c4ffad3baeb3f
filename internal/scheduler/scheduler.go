// Package scheduler runs the single decision pass of one boot cycle: log if
// due, advertise if due, then compute the next deep sleep.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"cloudpico-node/internal/ble"
	"cloudpico-node/internal/recordlog"
	"cloudpico-node/internal/schedule"
	"cloudpico-node/internal/sensor"
)

type ScheduleStore interface {
	Load() schedule.State
	Save(schedule.State) error
}

type Clock interface {
	Now() int64
}

type Sensor interface {
	Read() (sensor.Reading, error)
}

type Advertiser interface {
	UntilRegistered(ctx context.Context, registered func() bool) error
	Window(ctx context.Context, d time.Duration) (ble.Outcome, error)
}

// Mirror receives a copy of every logged record. It is best effort.
type Mirror interface {
	Publish(ctx context.Context, r recordlog.Record) error
}

type Deps struct {
	Schedule   ScheduleStore
	Clock      Clock
	Records    recordlog.Log
	Sensor     Sensor
	Advertiser Advertiser
	Policy     schedule.AdvertisePolicy
	Mirror     Mirror // optional
}

type Options struct {
	AdvertiseWindow  time.Duration
	DeepSleepCeiling time.Duration
}

// Result describes one boot cycle. Sleep is always set.
type Result struct {
	Registered bool
	Logged     bool
	Advertised bool
	Outcome    ble.Outcome
	Sleep      time.Duration
}

type Scheduler struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{deps: deps, opts: opts, logger: logger}
}

// RunCycle never fails: sensor and radio errors are logged and the cycle
// still ends with a sleep duration.
func (s *Scheduler) RunCycle(ctx context.Context) Result {
	var res Result

	st := s.deps.Schedule.Load()
	if !st.Established() {
		return s.register(ctx)
	}

	now := s.deps.Clock.Now()
	logDue := st.IsLogTime(now)
	advDue := s.deps.Policy.IsAdvertiseTime(st, now)
	s.logger.Info("boot cycle",
		"now", now,
		"next_log", st.NextLog(),
		"log_due", logDue,
		"advertise_due", advDue,
		"policy", s.deps.Policy.Name(),
	)

	if logDue {
		s.logReading(ctx, now)
		st = st.WithLog(now)
		if err := s.deps.Schedule.Save(st); err != nil {
			s.logger.Error("schedule save failed", "error", err)
		}
		res.Logged = true
	}

	if advDue {
		out, err := s.deps.Advertiser.Window(ctx, s.opts.AdvertiseWindow)
		if err != nil {
			s.logger.Warn("advertising window failed", "reason", out.Reason, "error", err)
		}
		res.Advertised = true
		res.Outcome = out

		// The session may have rewritten the schedule or moved the clock.
		st = s.deps.Schedule.Load()
		if st.Established() {
			st = st.WithAdvertise(s.deps.Clock.Now())
			if err := s.deps.Schedule.Save(st); err != nil {
				s.logger.Error("schedule save failed", "error", err)
			}
		}
	}

	res.Sleep = schedule.NextSleep(st, s.deps.Clock.Now(), s.opts.DeepSleepCeiling)
	s.logger.Info("boot cycle done", "sleep", res.Sleep, "logged", res.Logged, "advertised", res.Advertised)
	return res
}

// register advertises until a controller configures the schedule, then takes
// the first reading.
func (s *Scheduler) register(ctx context.Context) Result {
	res := Result{Registered: true}
	s.logger.Info("schedule unestablished, entering registration")

	registered := func() bool { return s.deps.Schedule.Load().Established() }
	if err := s.deps.Advertiser.UntilRegistered(ctx, registered); err != nil {
		s.logger.Warn("registration advertising ended", "error", err)
	}

	now := s.deps.Clock.Now()
	s.logReading(ctx, now)
	res.Logged = true

	st := s.deps.Schedule.Load()
	if st.Established() {
		st = st.WithLog(now)
		if err := s.deps.Schedule.Save(st); err != nil {
			s.logger.Error("schedule save failed", "error", err)
		}
	}

	res.Sleep = schedule.NextSleep(st, s.deps.Clock.Now(), s.opts.DeepSleepCeiling)
	s.logger.Info("boot cycle done", "sleep", res.Sleep, "registered", st.Established())
	return res
}

// logReading reads the sensor and appends one record stamped now. Failures
// are logged; the caller advances the schedule regardless.
func (s *Scheduler) logReading(ctx context.Context, now int64) {
	reading, err := s.deps.Sensor.Read()
	if err != nil {
		s.logger.Warn("sensor read failed", "error", err)
		return
	}

	rec := recordlog.Record{
		Timestamp:   time.Unix(now, 0).UTC(),
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
	}
	if err := s.deps.Records.Append(rec); err != nil {
		s.logger.Error("record append failed", "error", err)
		return
	}
	s.logger.Info("record logged",
		"T", reading.Temperature,
		"H", reading.Humidity,
		"at", rec.Timestamp.Format(time.RFC3339),
	)

	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.Publish(ctx, rec); err != nil {
			s.logger.Warn("uplink publish failed", "error", err)
		}
	}
}
