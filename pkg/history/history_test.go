package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

func entryAt(ts time.Time, soil measurement.Optional) Entry {
	return Entry{
		Snapshot: measurement.Snapshot{SoilPercent: soil, Timestamp: ts},
		Label:    mood.Normal,
	}
}

func TestNew(t *testing.T) {
	h := New(time.Hour)
	assert.Empty(t, h.Entries())
	assert.Empty(t, h.Rates())
	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestAdd_Rates(t *testing.T) {
	h := New(time.Hour)
	now := time.Now()

	h.Add(entryAt(now, measurement.Known(50)))
	assert.Len(t, h.Rates(), 0)

	// 1 % lost in 6 minutes is -10 %/h.
	h.Add(entryAt(now.Add(6*time.Minute), measurement.Known(49)))
	h.Add(entryAt(now.Add(7*time.Minute), measurement.Unknown()))
	h.Add(entryAt(now.Add(7*time.Minute), measurement.Known(49)))

	entries, rates := h.Entries(), h.Rates()
	require.Len(t, entries, 4)
	require.Len(t, rates, len(entries)-1)
	assert.InDelta(t, -10.0, rates[0].Or(0), 1e-9)
	assert.False(t, rates[1].IsKnown(), "unknown soil yields unknown rate")
	assert.False(t, rates[2].IsKnown(), "zero dt yields unknown rate")

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, entries[3], latest)
}

func TestAdd_TimeWindow(t *testing.T) {
	h := New(10 * time.Second)
	now := time.Now()

	for i := 0; i < 30; i++ {
		h.Add(entryAt(now.Add(time.Duration(i)*time.Second), measurement.Known(float64(i))))
	}

	entries := h.Entries()
	require.Len(t, entries, 10)
	assert.Equal(t, now.Add(20*time.Second), entries[0].Snapshot.Timestamp)
	assert.Equal(t, now.Add(29*time.Second), entries[9].Snapshot.Timestamp)
	assert.Len(t, h.Rates(), 9)
}

func TestEntries_ReturnsCopy(t *testing.T) {
	h := New(time.Hour)
	h.Add(entryAt(time.Now(), measurement.Known(1)))

	entries := h.Entries()
	entries[0].Label = mood.Hot
	assert.Equal(t, mood.Normal, h.Entries()[0].Label)
}

func TestOnUpdate(t *testing.T) {
	h := New(time.Hour)

	var mu sync.Mutex
	var sizes []int
	h.OnUpdate(func(entries []Entry) {
		mu.Lock()
		sizes = append(sizes, len(entries))
		mu.Unlock()
	})

	now := time.Now()
	h.Add(entryAt(now, measurement.Known(1)))
	h.Add(entryAt(now.Add(time.Second), measurement.Known(2)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, sizes)
}

func TestProcess_NoCallbacksAfterClose(t *testing.T) {
	h := New(time.Hour)

	var mu sync.Mutex
	count := 0
	h.OnUpdate(func([]Entry) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	input := make(chan Entry, 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		input <- entryAt(now.Add(time.Duration(i)*time.Second), measurement.Known(1))
	}
	close(input)
	h.Process(input)

	mu.Lock()
	assert.Equal(t, 3, count)
	mu.Unlock()

	h.Add(entryAt(now.Add(10*time.Second), measurement.Known(1)))
	mu.Lock()
	assert.Equal(t, 3, count, "no callbacks after input closed")
	mu.Unlock()
	assert.Len(t, h.Entries(), 4)
}

func TestEntries_ConcurrentReaders(t *testing.T) {
	h := New(time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		now := time.Now()
		for i := 0; i < 200; i++ {
			h.Add(entryAt(now.Add(time.Duration(i)*time.Second), measurement.Known(float64(i%100))))
		}
	}()

	for {
		select {
		case <-done:
			entries := h.Entries()
			require.NotEmpty(t, entries)
			assert.Len(t, h.Rates(), len(entries)-1)
			return
		default:
			_ = h.Entries()
			_ = h.Rates()
			_, _ = h.Latest()
		}
	}
}
