package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest          = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmSettingsPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	nmIface         = "org.freedesktop.NetworkManager"
	nmSettingsIface = "org.freedesktop.NetworkManager.Settings"
	nmConnIface     = "org.freedesktop.NetworkManager.Settings.Connection"
)

// NetworkManager states, see NMState.
const (
	nmStateUnknown         uint32 = 0
	nmStateAsleep          uint32 = 10
	nmStateDisconnected    uint32 = 20
	nmStateDisconnecting   uint32 = 30
	nmStateConnecting      uint32 = 40
	nmStateConnectedLocal  uint32 = 50
	nmStateConnectedSite   uint32 = 60
	nmStateConnectedGlobal uint32 = 70
)

// ErrNoConnection is returned when there is nothing to activate.
var ErrNoConnection = errors.New("no connection profile and no ssid configured")

// NetworkManagerOptions configures a NetworkManager link.
type NetworkManagerOptions struct {
	Interface string // Wi-Fi device, e.g. wlan0. Empty lets NetworkManager choose.
	SSID      string
	Password  string
	Logger    *slog.Logger
}

// NetworkManager drives a Wi-Fi connection through NetworkManager on the
// system bus. Any NetworkManager state at or above CONNECTED_LOCAL counts as
// Up.
type NetworkManager struct {
	opts   NetworkManagerOptions
	logger *slog.Logger

	conn    *dbus.Conn
	signals chan *dbus.Signal
	events  chan Event

	connected atomic.Bool
	watchOnce sync.Once
	done      chan struct{}
}

// NewNetworkManager connects to the system bus and subscribes to
// NetworkManager state changes.
func NewNetworkManager(opts NetworkManagerOptions) (*NetworkManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(nmPath),
		dbus.WithMatchInterface(nmIface),
		dbus.WithMatchMember("StateChanged"),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe networkmanager state: %w", err)
	}

	n := newNetworkManager(opts)
	n.conn = conn
	n.signals = make(chan *dbus.Signal, 16)
	conn.Signal(n.signals)
	return n, nil
}

func newNetworkManager(opts NetworkManagerOptions) *NetworkManager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &NetworkManager{
		opts:   opts,
		logger: opts.Logger,
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}
}

// Connect asks NetworkManager to activate the configured connection,
// creating a profile from SSID and password on first use.
func (n *NetworkManager) Connect(ctx context.Context) error {
	n.watchOnce.Do(func() { go n.watch() })

	nm := n.conn.Object(nmDest, nmPath)

	if state, err := n.state(ctx); err == nil {
		n.handleState(state)
		if stateUp(state) && n.opts.SSID == "" {
			return nil
		}
	}

	device := dbus.ObjectPath("/")
	if n.opts.Interface != "" {
		if err := nm.CallWithContext(ctx, nmIface+".GetDeviceByIpIface", 0, n.opts.Interface).Store(&device); err != nil {
			return fmt.Errorf("find device %s: %w", n.opts.Interface, err)
		}
	}

	if n.opts.SSID == "" {
		return ErrNoConnection
	}

	profile, err := n.findProfile(ctx, n.opts.SSID)
	if err != nil {
		return err
	}

	if profile != "" {
		var active dbus.ObjectPath
		if err := nm.CallWithContext(ctx, nmIface+".ActivateConnection", 0, profile, device, dbus.ObjectPath("/")).Store(&active); err != nil {
			return fmt.Errorf("activate %s: %w", n.opts.SSID, err)
		}
		n.logger.Info("activating connection", "ssid", n.opts.SSID, "active", active)
		return nil
	}

	var created, active dbus.ObjectPath
	err = nm.CallWithContext(ctx, nmIface+".AddAndActivateConnection", 0,
		wifiSettings(n.opts.SSID, n.opts.Password), device, dbus.ObjectPath("/")).Store(&created, &active)
	if err != nil {
		return fmt.Errorf("add connection %s: %w", n.opts.SSID, err)
	}
	n.logger.Info("created connection", "ssid", n.opts.SSID, "profile", created, "active", active)
	return nil
}

func (n *NetworkManager) state(ctx context.Context) (uint32, error) {
	var state uint32
	err := n.conn.Object(nmDest, nmPath).
		CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, nmIface, "State").
		Store(&state)
	return state, err
}

// findProfile returns the saved connection whose id matches ssid, or "".
func (n *NetworkManager) findProfile(ctx context.Context, ssid string) (dbus.ObjectPath, error) {
	var paths []dbus.ObjectPath
	settings := n.conn.Object(nmDest, nmSettingsPath)
	if err := settings.CallWithContext(ctx, nmSettingsIface+".ListConnections", 0).Store(&paths); err != nil {
		return "", fmt.Errorf("list connections: %w", err)
	}

	for _, p := range paths {
		var s map[string]map[string]dbus.Variant
		if err := n.conn.Object(nmDest, p).CallWithContext(ctx, nmConnIface+".GetSettings", 0).Store(&s); err != nil {
			n.logger.Debug("skipping connection", "path", p, "error", err)
			continue
		}
		if profileID(s) == ssid {
			return p, nil
		}
	}
	return "", nil
}

func profileID(s map[string]map[string]dbus.Variant) string {
	v, ok := s["connection"]["id"]
	if !ok {
		return ""
	}
	id, _ := v.Value().(string)
	return id
}

func wifiSettings(ssid, password string) map[string]map[string]dbus.Variant {
	s := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(ssid),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(true),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {"method": dbus.MakeVariant("auto")},
		"ipv6": {"method": dbus.MakeVariant("auto")},
	}
	if password != "" {
		s["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(password),
		}
	}
	return s
}

func (n *NetworkManager) watch() {
	for {
		select {
		case <-n.done:
			return
		case sig, ok := <-n.signals:
			if !ok {
				n.handleState(nmStateUnknown)
				return
			}
			if state, ok := stateFromSignal(sig); ok {
				n.handleState(state)
			}
		}
	}
}

func stateFromSignal(sig *dbus.Signal) (uint32, bool) {
	if sig == nil || sig.Name != nmIface+".StateChanged" || len(sig.Body) == 0 {
		return 0, false
	}
	state, ok := sig.Body[0].(uint32)
	return state, ok
}

func stateUp(state uint32) bool {
	return state >= nmStateConnectedLocal
}

func (n *NetworkManager) handleState(state uint32) {
	up := stateUp(state)
	if n.connected.Swap(up) == up {
		return
	}
	n.logger.Info("networkmanager state changed", "state", state, "up", up)
	if up {
		emit(n.events, Event{Kind: Up})
	} else {
		emit(n.events, Event{Kind: Down, Err: fmt.Errorf("networkmanager state %d", state)})
	}
}

func (n *NetworkManager) IsConnected() bool {
	return n.connected.Load()
}

func (n *NetworkManager) Events() <-chan Event {
	return n.events
}

func (n *NetworkManager) Close() error {
	select {
	case <-n.done:
		return nil
	default:
		close(n.done)
	}
	if n.conn == nil {
		return nil
	}
	n.conn.RemoveSignal(n.signals)
	return n.conn.Close()
}
