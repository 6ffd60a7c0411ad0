// Package node runs the fixed-period sampling loop.
package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
	"github.com/itohio/gosoil/pkg/telemetry"
)

// Collector takes one measurement. It must not block beyond its own timeouts.
type Collector interface {
	Collect(ctx context.Context) measurement.Snapshot
}

// Recorder persists a measurement. Failures are its own concern.
type Recorder interface {
	Append(measurement.Snapshot)
}

// Gate decides whether and publishes.
type Gate interface {
	Offer(ctx context.Context, s measurement.Snapshot, label mood.Label) error
}

// Cycle is the outcome of one loop iteration.
type Cycle struct {
	Snapshot   measurement.Snapshot
	Label      mood.Label
	Published  bool
	PublishErr error // nil when published or skipped
	Took       time.Duration
}

// Loop samples, logs, classifies and offers a publish every period.
type Loop struct {
	period    time.Duration
	collector Collector
	recorder  Recorder
	gate      Gate
	logger    *slog.Logger

	mu       sync.RWMutex
	onCycle  []func(Cycle)
	lastMood mood.Label
}

// NewLoop creates a Loop.
func NewLoop(period time.Duration, c Collector, r Recorder, g Gate, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		period:    period,
		collector: c,
		recorder:  r,
		gate:      g,
		logger:    logger,
	}
}

// OnCycle registers fn to run after every cycle. Callbacks run on the loop
// goroutine and must return quickly.
func (l *Loop) OnCycle(fn func(Cycle)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCycle = append(l.onCycle, fn)
}

// Run executes a cycle immediately and then every period until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Info("sampling loop started", "period", l.period)
	for {
		l.RunOnce(ctx)

		select {
		case <-ctx.Done():
			l.logger.Info("sampling loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle.
func (l *Loop) RunOnce(ctx context.Context) Cycle {
	start := time.Now()

	snap := l.collector.Collect(ctx)
	l.recorder.Append(snap)
	label := mood.ClassifySnapshot(snap)

	cycle := Cycle{Snapshot: snap, Label: label}
	switch err := l.gate.Offer(ctx, snap, label); {
	case err == nil:
		cycle.Published = true
	case errors.Is(err, telemetry.ErrNotReady), errors.Is(err, telemetry.ErrNotDue):
	default:
		cycle.PublishErr = err
	}
	cycle.Took = time.Since(start)

	if label != l.lastMood {
		l.logger.Info("mood changed", "from", l.lastMood, "to", label, "soil_pct", snap.SoilPercent.String())
		l.lastMood = label
	}
	l.logger.Debug("cycle",
		"soil_raw", snap.SoilRaw,
		"soil_pct", snap.SoilPercent.String(),
		"temp_c", snap.Environment.TemperatureC.String(),
		"mood", label,
		"published", cycle.Published,
		"took", cycle.Took,
	)

	l.mu.RLock()
	callbacks := make([]func(Cycle), len(l.onCycle))
	copy(callbacks, l.onCycle)
	l.mu.RUnlock()
	for _, cb := range callbacks {
		cb(cycle)
	}

	return cycle
}
