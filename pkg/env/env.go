// Package env provides ambient temperature and humidity sensors.
package env

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/itohio/gosoil/pkg/config"
	"github.com/itohio/gosoil/pkg/measurement"
)

// Sensor reads ambient air conditions. Implementations must be safe for
// concurrent use.
type Sensor interface {
	Sense(ctx context.Context) (measurement.Environment, error)
	Close() error
}

var (
	_ Sensor = (*BME280)(nil)
	_ Sensor = (*Mock)(nil)
	_ Sensor = None{}
)

// Open builds the sensor selected by cfg.Driver.
func Open(cfg config.EnvironmentConfig, logger *slog.Logger) (Sensor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "", "none":
		return None{}, nil
	case "mock":
		return NewMock(), nil
	case "bme280":
		s, err := NewBME280(cfg.I2CBus, cfg.Address)
		if err != nil {
			return nil, err
		}
		logger.Info("environment sensor ready", "driver", cfg.Driver, "bus", cfg.I2CBus, "address", fmt.Sprintf("0x%02x", cfg.Address))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown environment driver %q", cfg.Driver)
	}
}

// None is used when no ambient sensor is fitted. It always reports unknown.
type None struct{}

func (None) Sense(context.Context) (measurement.Environment, error) {
	return measurement.UnknownEnvironment(), nil
}

func (None) Close() error { return nil }
