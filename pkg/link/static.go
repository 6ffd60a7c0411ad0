package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Static is a link managed outside the node, such as Ethernet or a
// development host. When an interface name is given, Connect succeeds only
// once that interface is up; the interface is then polled for loss.
type Static struct {
	iface        string
	pollInterval time.Duration
	lookup       func(name string) (*net.Interface, error)
	logger       *slog.Logger

	events    chan Event
	connected atomic.Bool

	mu      sync.Mutex
	polling bool
	gen     uint64
	cancel  context.CancelFunc
}

// NewStatic creates a static link. iface may be empty.
func NewStatic(iface string, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{
		iface:        iface,
		pollInterval: 2 * time.Second,
		lookup:       net.InterfaceByName,
		logger:       logger,
		events:       make(chan Event, 8),
	}
}

func (s *Static) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.iface != "" {
		if err := s.check(); err != nil {
			return err
		}
	}

	s.setConnected(true, nil)

	if s.iface != "" {
		s.startPolling()
	}
	return nil
}

func (s *Static) check() error {
	ifi, err := s.lookup(s.iface)
	if err != nil {
		return fmt.Errorf("lookup interface %s: %w", s.iface, err)
	}
	if ifi.Flags&net.FlagUp == 0 {
		return fmt.Errorf("interface %s is down", s.iface)
	}
	return nil
}

func (s *Static) startPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.cancel = cancel
	s.polling = true
	go s.poll(ctx, s.gen)
}

// stopPolling clears the polling flag if gen is still the current poller.
func (s *Static) stopPolling(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.polling = false
	}
	s.mu.Unlock()
}

func (s *Static) poll(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopPolling(gen)
			return
		case <-ticker.C:
			if err := s.check(); err != nil {
				s.logger.Warn("link lost", "interface", s.iface, "error", err)
				// A Connect reacting to Down must be able to start the next poller.
				s.stopPolling(gen)
				s.setConnected(false, err)
				return
			}
		}
	}
}

func (s *Static) setConnected(up bool, cause error) {
	if s.connected.Swap(up) == up {
		return
	}
	if up {
		emit(s.events, Event{Kind: Up})
	} else {
		emit(s.events, Event{Kind: Down, Err: cause})
	}
}

func (s *Static) IsConnected() bool {
	return s.connected.Load()
}

func (s *Static) Events() <-chan Event {
	return s.events
}

func (s *Static) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
