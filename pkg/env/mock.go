package env

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/itohio/gosoil/pkg/measurement"
)

// Mock simulates a daily temperature and humidity swing.
type Mock struct {
	mu   sync.Mutex
	fail error
	now  func() time.Time
}

// NewMock creates a simulated sensor.
func NewMock() *Mock {
	return &Mock{now: time.Now}
}

// Fail makes subsequent reads return err. A nil err restores normal reads.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *Mock) Sense(ctx context.Context) (measurement.Environment, error) {
	if err := ctx.Err(); err != nil {
		return measurement.UnknownEnvironment(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return measurement.UnknownEnvironment(), m.fail
	}
	return simulate(m.now()), nil
}

func (m *Mock) Close() error { return nil }

// simulate peaks at 15:00 local time: 22±6 °C, humidity moving inversely 55∓15 %.
func simulate(t time.Time) measurement.Environment {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	phase := math.Cos((hour - 15) / 24 * 2 * math.Pi)

	return measurement.Environment{
		TemperatureC:    measurement.Known(math.Round((22+6*phase)*10) / 10),
		HumidityPercent: measurement.Known(math.Round((55-15*phase)*10) / 10),
	}
}
