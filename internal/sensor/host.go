package sensor

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Open returns the sensor selected by driver. Hardware drivers share the
// host I²C bus opened through periph; "simulated" needs no hardware.
func Open(driver, busName string, addr uint16, logger *slog.Logger) (Sensor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if driver == "simulated" {
		logger.Info("sensor opened", "driver", driver)
		return NewSimulated(0), nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host.Init: %w", err)
	}

	bus, err := i2creg.Open(busName) // "" is the default bus, usually /dev/i2c-1
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open %q: %w", busName, err)
	}

	switch driver {
	case "bme280":
		s, err := NewBME280(bus, addr)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		s.closer = bus.Close
		logger.Info("sensor opened", "driver", driver, "bus", bus.String(), "addr", fmt.Sprintf("%#x", addr))
		return s, nil
	case "bmxx80":
		s, err := NewBMXX80(bus, addr)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		s.closer = bus.Close
		logger.Info("sensor opened", "driver", driver, "bus", bus.String(), "addr", fmt.Sprintf("%#x", addr))
		return s, nil
	default:
		_ = bus.Close()
		return nil, fmt.Errorf("unknown sensor driver %q", driver)
	}
}
