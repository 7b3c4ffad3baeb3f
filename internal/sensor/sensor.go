// Package sensor reads temperature and humidity from the node's environmental sensor.
package sensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrSensorFault is returned when the sensor cannot produce a plausible reading.
var ErrSensorFault = errors.New("sensor fault")

type Reading struct {
	Temperature float32 // °C
	Humidity    float32 // %rH
	Pressure    float32 // hPa
}

type Sensor interface {
	Read() (Reading, error)
	Close() error
}

// BME280 operating range.
const (
	minTemperature = -40
	maxTemperature = 85
)

func (r Reading) validate() error {
	t, h := float64(r.Temperature), float64(r.Humidity)
	if math.IsNaN(t) || math.IsNaN(h) {
		return fmt.Errorf("%w: NaN reading", ErrSensorFault)
	}
	if t < minTemperature || t > maxTemperature {
		return fmt.Errorf("%w: temperature %.2f out of range", ErrSensorFault, t)
	}
	if h < 0 || h > 100 {
		return fmt.Errorf("%w: humidity %.2f out of range", ErrSensorFault, h)
	}
	return nil
}

// Unavailable stands in for a sensor that could not be opened, so the boot
// cycle still runs and every read reports the fault.
type Unavailable struct {
	Err error
}

func (u Unavailable) Read() (Reading, error) {
	return Reading{}, fmt.Errorf("%w: %w", ErrSensorFault, u.Err)
}

func (u Unavailable) Close() error { return nil }
