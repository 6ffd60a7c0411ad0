package env

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/itohio/gosoil/pkg/measurement"
)

// ErrClosed is returned by Sense after Close.
var ErrClosed = errors.New("sensor closed")

// BME280 reads a Bosch BME280 over I2C.
type BME280 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// NewBME280 opens busName (empty selects the first bus) and probes the
// sensor at addr.
func NewBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("open bme280 at 0x%02x: %w", addr, err)
	}

	return &BME280{bus: bus, dev: dev}, nil
}

// Sense performs one forced measurement. The I2C transaction itself is not
// interruptible; ctx is only checked before it starts.
func (s *BME280) Sense(ctx context.Context) (measurement.Environment, error) {
	if err := ctx.Err(); err != nil {
		return measurement.UnknownEnvironment(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return measurement.UnknownEnvironment(), ErrClosed
	}

	var e physic.Env
	if err := s.dev.Sense(&e); err != nil {
		return measurement.UnknownEnvironment(), fmt.Errorf("bme280 sense: %w", err)
	}

	return fromPhysic(e), nil
}

// Close halts the sensor and releases the bus.
func (s *BME280) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}
	err := errors.Join(s.dev.Halt(), s.bus.Close())
	s.dev = nil
	s.bus = nil
	return err
}

func fromPhysic(e physic.Env) measurement.Environment {
	return measurement.Environment{
		TemperatureC:    measurement.Known(float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)),
		HumidityPercent: measurement.Known(float64(e.Humidity) / float64(physic.PercentRH)),
	}
}
