// Package command decodes and executes commands received on the command topic.
package command

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/itohio/gosoil/pkg/broker"
	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

// Command is a recognised remote command.
type Command int

const (
	// GetInfo asks for an immediate measurement and publish.
	GetInfo Command = iota + 1
)

// GetInfoPayload is the literal payload of GetInfo.
const GetInfoPayload = "get_info"

func (c Command) String() string {
	switch c {
	case GetInfo:
		return GetInfoPayload
	default:
		return "unknown"
	}
}

// Decode matches topic and payload exactly. Anything else is not a command.
func Decode(topic string, payload []byte, commandTopic string) (Command, bool) {
	if topic != commandTopic {
		return 0, false
	}
	switch string(payload) {
	case GetInfoPayload:
		return GetInfo, true
	default:
		return 0, false
	}
}

// Collector takes one measurement.
type Collector interface {
	Collect(ctx context.Context) measurement.Snapshot
}

// Recorder persists a measurement locally.
type Recorder interface {
	Append(measurement.Snapshot)
}

// Publisher publishes outside the periodic rate limit.
type Publisher interface {
	Force(ctx context.Context, s measurement.Snapshot, label mood.Label) error
}

// Dispatcher executes inbound commands one at a time.
type Dispatcher struct {
	topic     string
	collector Collector
	recorder  Recorder
	publisher Publisher
	logger    *slog.Logger

	handled atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher creates a Dispatcher for commandTopic. recorder may be nil.
func NewDispatcher(commandTopic string, c Collector, r Recorder, p Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		topic:     commandTopic,
		collector: c,
		recorder:  r,
		publisher: p,
		logger:    logger,
	}
}

// Run handles messages until ctx is cancelled or msgs is closed.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan broker.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			d.Handle(ctx, msg)
		}
	}
}

// Handle executes msg if it is a command and reports whether it was one.
func (d *Dispatcher) Handle(ctx context.Context, msg broker.Message) bool {
	cmd, ok := Decode(msg.Topic, msg.Payload, d.topic)
	if !ok {
		d.logger.Debug("ignoring message", "topic", msg.Topic, "bytes", len(msg.Payload))
		return false
	}

	switch cmd {
	case GetInfo:
		d.getInfo(ctx)
	}
	d.handled.Add(1)
	return true
}

func (d *Dispatcher) getInfo(ctx context.Context) {
	snap := d.collector.Collect(ctx)
	if d.recorder != nil {
		d.recorder.Append(snap)
	}
	label := mood.ClassifySnapshot(snap)

	if err := d.publisher.Force(ctx, snap, label); err != nil {
		d.failed.Add(1)
		d.logger.Warn("get_info publish failed", "error", err)
		return
	}
	d.logger.Info("get_info answered", "mood", label, "soil_raw", snap.SoilRaw)
}

// Handled returns the number of commands executed.
func (d *Dispatcher) Handled() uint64 {
	return d.handled.Load()
}

// Failed returns the number of commands whose publish failed.
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}
