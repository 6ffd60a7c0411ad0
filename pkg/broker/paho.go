package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/itohio/gosoil/pkg/config"
)

// Paho is a Client over eclipse/paho.mqtt.golang. Automatic reconnection is
// disabled; the caller decides when to reconnect.
type Paho struct {
	client         mqtt.Client
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         *slog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// NewPaho creates an unconnected client from cfg. clientID is used when
// cfg.ClientID is empty.
func NewPaho(cfg config.MQTTConfig, clientID string, logger *slog.Logger) *Paho {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID != "" {
		clientID = cfg.ClientID
	}

	p := &Paho{
		connectTimeout: cfg.ConnectTimeout,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger,
		events:         make(chan Event, 64),
		done:           make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost).
		SetDefaultPublishHandler(p.onMessage)

	p.client = mqtt.NewClient(opts)
	return p
}

func (p *Paho) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.logger.Info("mqtt connected")
	p.send(Event{Kind: Connected})
}

func (p *Paho) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn("mqtt connection lost", "error", err)
	p.send(Event{Kind: Disconnected, Err: err})
}

func (p *Paho) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ev := Event{Kind: MessageReceived, Message: Message{Topic: msg.Topic(), Payload: msg.Payload()}}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("mqtt message dropped, event queue full", "topic", msg.Topic())
	}
}

// send delivers session events reliably until Close.
func (p *Paho) send(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// Connect dials the broker and waits for CONNACK.
func (p *Paho) Connect(ctx context.Context) error {
	if err := wait(ctx, p.client.Connect(), p.connectTimeout); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (p *Paho) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	if err := wait(ctx, p.client.Publish(topic, qos, false, payload), p.publishTimeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (p *Paho) Subscribe(ctx context.Context, topic string, qos byte) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	if err := wait(ctx, p.client.Subscribe(topic, qos, p.onMessage), p.publishTimeout); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

func (p *Paho) IsConnected() bool {
	return p.connected.Load()
}

func (p *Paho) Events() <-chan Event {
	return p.events
}

// Close disconnects, waiting briefly for in-flight work.
func (p *Paho) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.client.IsConnectionOpen() {
			p.client.Disconnect(250)
		}
		p.connected.Store(false)
	})
	return nil
}

// wait blocks until tok completes, ctx ends, or timeout elapses.
func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrTimeout
	}
}
