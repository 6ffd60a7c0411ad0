// Package history keeps a time window of recent cycles for the diagnostics API.
package history

import (
	"sync"
	"time"

	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

// Entry is one sampling cycle.
type Entry struct {
	Snapshot  measurement.Snapshot
	Label     mood.Label
	Published bool
}

// History is a FIFO of entries bounded by age, oldest first. Alongside it
// keeps the soil moisture rate between consecutive entries:
// rate[i] = (soil[i+1] - soil[i]) / dt in percent per hour, so n entries
// have n-1 rates.
type History struct {
	window time.Duration

	mu       sync.RWMutex
	entries  []Entry
	rates    []measurement.Optional
	shutdown bool

	callbacks []func(entries []Entry)
	cbMu      sync.RWMutex
}

// New creates a History keeping entries younger than window.
func New(window time.Duration) *History {
	return &History{
		window:  window,
		entries: make([]Entry, 0),
		rates:   make([]measurement.Optional, 0),
	}
}

// Process adds entries from input until it is closed. No callbacks are
// sent after that.
func (h *History) Process(input <-chan Entry) {
	for e := range input {
		h.Add(e)
	}
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
}

// Add appends e, drops entries that fell out of the window and notifies
// subscribers.
func (h *History) Add(e Entry) {
	h.mu.Lock()

	h.entries = append(h.entries, e)
	if n := len(h.entries); n >= 2 {
		h.rates = append(h.rates, rate(h.entries[n-2].Snapshot, h.entries[n-1].Snapshot))
	}

	cutoff := e.Snapshot.Timestamp.Add(-h.window)
	cut := 0
	for i, old := range h.entries {
		if old.Snapshot.Timestamp.After(cutoff) {
			cut = i
			break
		}
	}
	if cut > 0 {
		h.entries = h.entries[cut:]
		if cut <= len(h.rates) {
			h.rates = h.rates[cut:]
		} else {
			h.rates = h.rates[:0]
		}
	}

	notify := !h.shutdown
	h.mu.Unlock()

	if notify {
		h.notifyCallbacks()
	}
}

func rate(prev, curr measurement.Snapshot) measurement.Optional {
	a, okA := prev.SoilPercent.Get()
	b, okB := curr.SoilPercent.Get()
	dt := curr.Timestamp.Sub(prev.Timestamp).Hours()
	if !okA || !okB || dt <= 0 {
		return measurement.Unknown()
	}
	return measurement.Known((b - a) / dt)
}

// Entries returns a copy of the buffered entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Entry, len(h.entries))
	copy(result, h.entries)
	return result
}

// Rates returns a copy of the soil moisture rates in percent per hour.
func (h *History) Rates() []measurement.Optional {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]measurement.Optional, len(h.rates))
	copy(result, h.rates)
	return result
}

// Latest returns the newest entry.
func (h *History) Latest() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// OnUpdate registers a callback run after every Add. The callback receives
// a copy and should return quickly.
func (h *History) OnUpdate(callback func(entries []Entry)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, callback)
}

func (h *History) notifyCallbacks() {
	h.cbMu.RLock()
	callbacks := make([]func([]Entry), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.cbMu.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	entries := h.Entries()
	for _, cb := range callbacks {
		if cb != nil {
			cb(entries)
		}
	}
}
