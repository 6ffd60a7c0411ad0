package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

var (
	// ErrNotReady means the link or broker session is down; the cycle is skipped.
	ErrNotReady = errors.New("transport not ready")
	// ErrNotDue means the publish interval has not elapsed yet.
	ErrNotDue = errors.New("publish not due")
)

// Publisher is the transport the gate publishes through.
type Publisher interface {
	IsReadyToPublish() bool
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ShouldPublish reports whether interval has elapsed since last. All values
// are milliseconds.
func ShouldPublish(nowMs, lastMs, intervalMs int64) bool {
	return nowMs-lastMs >= intervalMs
}

// Clock returns milliseconds on a monotonic scale. Only differences between
// readings are meaningful.
type Clock func() int64

// MonotonicClock counts milliseconds since it was created. It is unaffected
// by wall clock steps.
func MonotonicClock() Clock {
	start := time.Now()
	return func() int64 {
		return time.Since(start).Milliseconds()
	}
}

// mark is one successful publish. It is swapped in as a whole so the
// interval clock and the reported wall time always belong together.
type mark struct {
	mono   int64
	wallMs int64
}

// Gate publishes at most once per interval. The interval runs on a
// monotonic clock; snapshot wall time is only reported.
type Gate struct {
	pub      Publisher
	topic    string
	interval time.Duration
	timeout  time.Duration
	clock    Clock
	logger   *slog.Logger

	last     atomic.Pointer[mark]
	attempts atomic.Uint64
	failures atomic.Uint64
}

// NewGate creates a gate publishing to topic. timeout bounds one publish call.
func NewGate(pub Publisher, topic string, interval, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		pub:      pub,
		topic:    topic,
		interval: interval,
		timeout:  timeout,
		clock:    MonotonicClock(),
		logger:   logger,
	}
}

// SetClock replaces the interval clock, mainly for tests. Call it before the
// gate is used.
func (g *Gate) SetClock(c Clock) {
	if c != nil {
		g.clock = c
	}
}

// Offer publishes s when the transport is ready and the interval has
// elapsed. It returns ErrNotReady or ErrNotDue when it skips, and the
// transport error when the publish fails; the last publish then stays
// unchanged so the next cycle retries.
func (g *Gate) Offer(ctx context.Context, s measurement.Snapshot, label mood.Label) error {
	if !g.pub.IsReadyToPublish() {
		return ErrNotReady
	}
	now := g.clock()
	if last := g.last.Load(); last != nil && !ShouldPublish(now, last.mono, g.interval.Milliseconds()) {
		return ErrNotDue
	}
	return g.publish(ctx, s, label, now)
}

// Force publishes s regardless of the interval and restarts the interval
// on success.
func (g *Gate) Force(ctx context.Context, s measurement.Snapshot, label mood.Label) error {
	return g.publish(ctx, s, label, g.clock())
}

func (g *Gate) publish(ctx context.Context, s measurement.Snapshot, label mood.Label, at int64) error {
	payload, err := Encode(s, label)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.attempts.Add(1)
	if err := g.pub.Publish(ctx, g.topic, payload); err != nil {
		g.failures.Add(1)
		g.logger.Warn("publish failed", "topic", g.topic, "error", err)
		return err
	}

	g.MarkPublished(at, s.TimestampMs())
	g.logger.Debug("published", "topic", g.topic, "mood", label, "bytes", len(payload))
	return nil
}

// MarkPublished records a publish at clock reading mono whose snapshot was
// taken at wallMs. The mono reading never moves backwards, so a slower
// concurrent publish cannot undo a newer one.
func (g *Gate) MarkPublished(mono, wallMs int64) {
	next := &mark{mono: mono, wallMs: wallMs}
	for {
		cur := g.last.Load()
		if cur != nil && mono <= cur.mono {
			return
		}
		if g.last.CompareAndSwap(cur, next) {
			return
		}
	}
}

// LastPublishMs returns the wall time of the last successful publish, 0 if
// none.
func (g *Gate) LastPublishMs() int64 {
	if last := g.last.Load(); last != nil {
		return last.wallMs
	}
	return 0
}

// Attempts returns the number of publish calls made.
func (g *Gate) Attempts() uint64 {
	return g.attempts.Load()
}

// Failures returns the number of failed publish calls.
func (g *Gate) Failures() uint64 {
	return g.failures.Load()
}
