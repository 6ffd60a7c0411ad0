package measurement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/itohio/gosoil/pkg/soil"
)

// DefaultEnvironmentTimeout bounds a single environment sensor read.
const DefaultEnvironmentTimeout = 500 * time.Millisecond

// SoilReader reads one calibrated soil measurement.
type SoilReader interface {
	Read() (soil.Reading, error)
}

// EnvironmentSensor reads ambient temperature and humidity.
type EnvironmentSensor interface {
	Sense(ctx context.Context) (Environment, error)
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// WithEnvironmentTimeout bounds how long Collect waits for the environment sensor.
func WithEnvironmentTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.envTimeout = d
		}
	}
}

// WithLogger sets the logger used for degraded reads.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Collector runs one sampling cycle and assembles a Snapshot.
type Collector struct {
	soil       SoilReader
	env        EnvironmentSensor
	deviceUID  string
	envTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewCollector creates a Collector. env may be nil when no ambient sensor is fitted.
func NewCollector(soilReader SoilReader, env EnvironmentSensor, deviceUID string, opts ...CollectorOption) *Collector {
	c := &Collector{
		soil:       soilReader,
		env:        env,
		deviceUID:  deviceUID,
		envTimeout: DefaultEnvironmentTimeout,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeviceUID returns the identifier stamped on every snapshot.
func (c *Collector) DeviceUID() string {
	return c.deviceUID
}

// Collect samples the soil probe and the environment sensor. It always
// returns a snapshot: failed reads degrade to unknown values. The clock is
// read once so every field shares the same timestamp.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	ts := c.now()

	snap := Snapshot{
		SoilPercent:    Unknown(),
		SoilMillivolts: Unknown(),
		Environment:    c.readEnvironment(ctx),
		Timestamp:      ts,
		DeviceUID:      c.deviceUID,
	}

	reading, err := c.soil.Read()
	if err != nil {
		c.logger.Warn("soil read failed", "error", err)
	} else {
		snap.SoilRaw = reading.Raw
		snap.SoilPercent = Known(reading.Percent)
		snap.SoilMillivolts = Known(reading.Millivolts)
	}

	return snap
}

type envResult struct {
	env Environment
	err error
}

// readEnvironment never blocks longer than envTimeout. A read that outlives
// the timeout finishes in the background and its result is discarded.
func (c *Collector) readEnvironment(ctx context.Context) Environment {
	if c.env == nil {
		return UnknownEnvironment()
	}

	ctx, cancel := context.WithTimeout(ctx, c.envTimeout)
	defer cancel()

	done := make(chan envResult, 1)
	go func() {
		env, err := c.env.Sense(ctx)
		done <- envResult{env: env, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			c.logger.Warn("environment read failed", "error", res.err)
			return UnknownEnvironment()
		}
		return res.env
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("environment read timed out", "timeout", c.envTimeout)
		}
		return UnknownEnvironment()
	}
}
