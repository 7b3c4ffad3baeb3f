package sensor

import (
	"math"
	"sync"
)

// Simulated produces a slow, deterministic diurnal-ish curve. Used on
// benches without a sensor and in tests.
type Simulated struct {
	mu   sync.Mutex
	step int
	// Fail, when set, makes every Read return ErrSensorFault.
	Fail bool
}

func NewSimulated(start int) *Simulated {
	return &Simulated{step: start}
}

func (s *Simulated) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail {
		return Reading{}, ErrSensorFault
	}

	phase := float64(s.step) * math.Pi / 24
	s.step++
	return Reading{
		Temperature: float32(21 + 4*math.Sin(phase)),
		Humidity:    float32(50 - 10*math.Sin(phase)),
		Pressure:    1013.25,
	}, nil
}

func (s *Simulated) Close() error { return nil }
