// Package connectivity owns the link and broker state machines and decides
// when the node may publish.
package connectivity

import "fmt"

// LinkState is the network link state.
type LinkState int32

const (
	LinkDown LinkState = iota
	LinkConnecting
	LinkUp
)

func (s LinkState) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkConnecting:
		return "connecting"
	case LinkUp:
		return "up"
	default:
		return fmt.Sprintf("LinkState(%d)", int32(s))
	}
}

// BrokerState is the broker session state. It changes only on broker
// callbacks.
type BrokerState int32

const (
	BrokerDisconnected BrokerState = iota
	BrokerConnected
)

func (s BrokerState) String() string {
	switch s {
	case BrokerDisconnected:
		return "disconnected"
	case BrokerConnected:
		return "connected"
	default:
		return fmt.Sprintf("BrokerState(%d)", int32(s))
	}
}
