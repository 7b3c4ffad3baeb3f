package sensor

import (
	"fmt"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/bme280"
)

// BME280 drives the sensor through the tinygo driver over any I²C bus.
type BME280 struct {
	device *bme280.Device
	closer func() error
}

func NewBME280(bus drivers.I2C, addr uint16) (*BME280, error) {
	dev := bme280.New(bus)
	dev.Address = addr
	if !dev.Connected() {
		return nil, fmt.Errorf("%w: no bme280 at %#x", ErrSensorFault, addr)
	}
	dev.Configure()

	return &BME280{device: &dev}, nil
}

func (s *BME280) Read() (Reading, error) {
	t, err := s.device.ReadTemperature()
	if err != nil {
		return Reading{}, fmt.Errorf("%w: read temperature: %w", ErrSensorFault, err)
	}
	p, err := s.device.ReadPressure()
	if err != nil {
		return Reading{}, fmt.Errorf("%w: read pressure: %w", ErrSensorFault, err)
	}
	h, err := s.device.ReadHumidity()
	if err != nil {
		return Reading{}, fmt.Errorf("%w: read humidity: %w", ErrSensorFault, err)
	}

	r := Reading{
		Temperature: float32(t) / 1000.0,
		Pressure:    float32(p) / 100000.0,
		Humidity:    float32(h) / 100.0,
	}
	if err := r.validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func (s *BME280) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
