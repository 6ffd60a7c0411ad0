// Package broker adapts an MQTT client to the event-driven transport the
// connectivity manager expects.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Publish and Subscribe while the session is down.
var ErrNotConnected = errors.New("broker not connected")

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("broker operation timed out")

// EventKind distinguishes broker events.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	MessageReceived
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case MessageReceived:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Message is an inbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Event is a session transition or an inbound message.
type Event struct {
	Kind    EventKind
	Message Message
	Err     error
}

// Client is a publish/subscribe session.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	IsConnected() bool
	Events() <-chan Event
	Close() error
}

var _ Client = (*Paho)(nil)
