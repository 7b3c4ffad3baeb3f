package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// BMXX80 drives the sensor through periph's bmxx80 driver.
type BMXX80 struct {
	dev    *bmxx80.Dev
	closer func() error
}

func NewBMXX80(bus i2c.Bus, addr uint16) (*BMXX80, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: bmxx80.NewI2C: %w", ErrSensorFault, err)
	}
	return &BMXX80{dev: dev}, nil
}

func (s *BMXX80) Read() (Reading, error) {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("%w: sense: %w", ErrSensorFault, err)
	}

	r := Reading{
		Temperature: float32(env.Temperature.Celsius()),
		// 0.00001%rH fixed point
		Humidity: float32(float64(env.Humidity) / float64(physic.PercentRH)),
		Pressure: float32(float64(env.Pressure) / float64(100*physic.Pascal)),
	}
	if err := r.validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func (s *BMXX80) Close() error {
	err := s.dev.Halt()
	if s.closer != nil {
		if cerr := s.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
