// Package link brings up the node's network link and reports Up/Down
// transitions as events.
package link

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/itohio/gosoil/pkg/config"
)

// EventKind distinguishes link events.
type EventKind int

const (
	Up EventKind = iota
	Down
)

func (k EventKind) String() string {
	switch k {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a link transition. Err carries the cause of a Down, if known.
type Event struct {
	Kind EventKind
	Err  error
}

// Link is a network attachment the node can (re)establish.
type Link interface {
	// Connect starts establishing the link. It returns once the request is
	// issued; the outcome arrives as an Event.
	Connect(ctx context.Context) error
	IsConnected() bool
	Events() <-chan Event
	Close() error
}

var (
	_ Link = (*Static)(nil)
	_ Link = (*NetworkManager)(nil)
)

// Open builds the link selected by cfg.Driver.
func Open(cfg config.LinkConfig, logger *slog.Logger) (Link, error) {
	switch cfg.Driver {
	case "", "static":
		return NewStatic(cfg.Interface, logger), nil
	case "networkmanager":
		return NewNetworkManager(NetworkManagerOptions{
			Interface: cfg.Interface,
			SSID:      cfg.SSID,
			Password:  cfg.Password,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown link driver %q", cfg.Driver)
	}
}

// emit delivers ev without blocking. When the buffer is full the oldest
// event is dropped so the latest state always gets through.
func emit(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
