package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gosoil/pkg/broker"
	"github.com/itohio/gosoil/pkg/link"
)

// ErrBootTimeout is returned by AwaitLinkUp when the link does not come up
// in time. The node keeps running without publishing.
var ErrBootTimeout = errors.New("link not up within boot timeout")

// Options configures a Manager.
type Options struct {
	CommandTopic string
	QoS          byte
	// RetryInterval is the delay before re-issuing a connect that failed.
	RetryInterval time.Duration
	// ActivationTimeout is how long an accepted link connect may stay
	// pending before it is re-issued.
	ActivationTimeout time.Duration
	// MessageBuffer bounds queued inbound messages.
	MessageBuffer int
	Logger        *slog.Logger
}

// Manager runs the connectivity state machine. All state writes happen on
// the goroutine running Run; readers use atomics and never block.
type Manager struct {
	link   link.Link
	broker broker.Client
	opts   Options
	logger *slog.Logger

	linkState   atomic.Int32
	brokerState atomic.Int32
	reconnects  atomic.Uint64

	firstUp     chan struct{}
	firstUpOnce sync.Once
	messages    chan broker.Message

	linkResults   chan error
	brokerResults chan error
	linkPending   bool
	brokerPending bool
	linkRetry     *time.Timer
	brokerRetry   *time.Timer

	mu        sync.Mutex
	observers []func(LinkState, BrokerState)
}

// NewManager creates a Manager. Nothing is connected until Run.
func NewManager(l link.Link, b broker.Client, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}
	if opts.ActivationTimeout <= 0 {
		opts.ActivationTimeout = 15 * time.Second
	}
	if opts.MessageBuffer <= 0 {
		opts.MessageBuffer = 8
	}

	return &Manager{
		link:          l,
		broker:        b,
		opts:          opts,
		logger:        opts.Logger,
		firstUp:       make(chan struct{}),
		messages:      make(chan broker.Message, opts.MessageBuffer),
		linkResults:   make(chan error, 1),
		brokerResults: make(chan error, 1),
	}
}

// OnStateChange registers fn to run after every state transition. Register
// before Run.
func (m *Manager) OnStateChange(fn func(LinkState, BrokerState)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// LinkState returns the current link state.
func (m *Manager) LinkState() LinkState {
	return LinkState(m.linkState.Load())
}

// BrokerState returns the current broker state.
func (m *Manager) BrokerState() BrokerState {
	return BrokerState(m.brokerState.Load())
}

// IsReadyToPublish reports whether the link is up and the broker session is
// established.
func (m *Manager) IsReadyToPublish() bool {
	return m.LinkState() == LinkUp && m.BrokerState() == BrokerConnected
}

// Reconnects returns how many times the link was lost and re-requested.
func (m *Manager) Reconnects() uint64 {
	return m.reconnects.Load()
}

// Messages delivers inbound broker messages.
func (m *Manager) Messages() <-chan broker.Message {
	return m.messages
}

// Publish sends payload over the broker session.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	return m.broker.Publish(ctx, topic, payload, m.opts.QoS)
}

// AwaitLinkUp waits for the first link Up, at most timeout.
func (m *Manager) AwaitLinkUp(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.firstUp:
		return nil
	case <-timer.C:
		return ErrBootTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the state machine until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	defer m.stopTimers()

	m.setLink(LinkConnecting)
	m.connectLink(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.link.Events():
			m.handleLinkEvent(ctx, ev)
		case ev := <-m.broker.Events():
			m.handleBrokerEvent(ctx, ev)
		case err := <-m.linkResults:
			m.handleLinkResult(err)
		case err := <-m.brokerResults:
			m.handleBrokerResult(err)
		case <-timerC(m.linkRetry):
			m.linkRetry = nil
			if m.LinkState() != LinkUp {
				m.connectLink(ctx)
			}
		case <-timerC(m.brokerRetry):
			m.brokerRetry = nil
			m.connectBroker(ctx)
		}
	}
}

func (m *Manager) handleLinkEvent(ctx context.Context, ev link.Event) {
	switch ev.Kind {
	case link.Up:
		if m.LinkState() == LinkUp {
			return
		}
		stopTimer(&m.linkRetry)
		m.setLink(LinkUp)
		m.firstUpOnce.Do(func() { close(m.firstUp) })
		m.logger.Info("link up")
		m.connectBroker(ctx)

	case link.Down:
		if m.LinkState() == LinkUp {
			m.reconnects.Add(1)
		}
		m.logger.Warn("link down, reconnecting", "error", ev.Err)
		stopTimer(&m.brokerRetry)
		m.setLink(LinkConnecting)
		m.connectLink(ctx)
	}
}

func (m *Manager) handleBrokerEvent(ctx context.Context, ev broker.Event) {
	switch ev.Kind {
	case broker.Connected:
		stopTimer(&m.brokerRetry)
		m.setBroker(BrokerConnected)
		m.logger.Info("broker connected")
		go m.subscribe(ctx)

	case broker.Disconnected:
		m.setBroker(BrokerDisconnected)
		m.logger.Warn("broker disconnected", "error", ev.Err)
		m.connectBroker(ctx)

	case broker.MessageReceived:
		select {
		case m.messages <- ev.Message:
		default:
			m.logger.Warn("inbound message dropped, dispatcher busy", "topic", ev.Message.Topic)
		}
	}
}

// connectLink issues a link connect unless one is already in flight.
func (m *Manager) connectLink(ctx context.Context) {
	if m.linkPending {
		return
	}
	m.linkPending = true
	stopTimer(&m.linkRetry)

	go func() {
		cctx, cancel := context.WithTimeout(ctx, m.opts.ActivationTimeout)
		defer cancel()
		m.linkResults <- m.link.Connect(cctx)
	}()
}

func (m *Manager) handleLinkResult(err error) {
	m.linkPending = false
	if m.LinkState() == LinkUp {
		return
	}
	if err != nil {
		m.logger.Warn("link connect failed", "error", err, "retry_in", m.opts.RetryInterval)
		m.linkRetry = time.NewTimer(m.opts.RetryInterval)
		return
	}
	m.linkRetry = time.NewTimer(m.opts.ActivationTimeout)
}

// connectBroker dials the broker when the link is up and no session or dial
// exists.
func (m *Manager) connectBroker(ctx context.Context) {
	if m.brokerPending || m.LinkState() != LinkUp || m.BrokerState() == BrokerConnected {
		return
	}
	m.brokerPending = true

	go func() {
		m.brokerResults <- m.broker.Connect(ctx)
	}()
}

func (m *Manager) handleBrokerResult(err error) {
	m.brokerPending = false
	if err == nil {
		return
	}
	m.logger.Warn("broker connect failed", "error", err, "retry_in", m.opts.RetryInterval)
	if m.LinkState() == LinkUp {
		stopTimer(&m.brokerRetry)
		m.brokerRetry = time.NewTimer(m.opts.RetryInterval)
	}
}

func (m *Manager) subscribe(ctx context.Context) {
	if m.opts.CommandTopic == "" {
		return
	}
	if err := m.broker.Subscribe(ctx, m.opts.CommandTopic, m.opts.QoS); err != nil {
		m.logger.Warn("command subscribe failed", "topic", m.opts.CommandTopic, "error", err)
		return
	}
	m.logger.Info("subscribed", "topic", m.opts.CommandTopic)
}

func (m *Manager) setLink(s LinkState) {
	if LinkState(m.linkState.Swap(int32(s))) != s {
		m.notify()
	}
}

func (m *Manager) setBroker(s BrokerState) {
	if BrokerState(m.brokerState.Swap(int32(s))) != s {
		m.notify()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	l, b := m.LinkState(), m.BrokerState()
	for _, fn := range observers {
		fn(l, b)
	}
}

func (m *Manager) stopTimers() {
	stopTimer(&m.linkRetry)
	stopTimer(&m.brokerRetry)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// timerC returns the timer channel, or nil so the select case never fires.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
