package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 123e6, time.UTC)

func snapshotAt(ts time.Time) measurement.Snapshot {
	return measurement.Snapshot{
		SoilRaw:     2100,
		SoilPercent: measurement.Known(50),
		Environment: measurement.Environment{
			TemperatureC:    measurement.Known(21.5),
			HumidityPercent: measurement.Known(40),
		},
		Timestamp: ts,
		DeviceUID: "uid-1",
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(snapshotAt(t0), mood.Normal)
	require.NoError(t, err)
	assert.Equal(t,
		`{"deviceUid":"uid-1","measurements":{"airTemperatureC":21.5,"airHumidityPercent":40,"soilMoisturePercent":50,"soilMoistureRaw":2100,"timestamp":"2026-05-01T12:00:00.123Z"},"mood":"normal","friendVisible":true}`,
		string(data))
}

func TestEncode_UnknownValuesAreNull(t *testing.T) {
	s := snapshotAt(t0)
	s.Environment = measurement.UnknownEnvironment()
	s.SoilPercent = measurement.Unknown()
	s.SoilRaw = 0

	data, err := Encode(s, mood.Normal)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"airTemperatureC":null`)
	assert.Contains(t, string(data), `"airHumidityPercent":null`)
	assert.Contains(t, string(data), `"soilMoisturePercent":null`)
	assert.Contains(t, string(data), `"soilMoistureRaw":0`)
	assert.NotContains(t, strings.ToLower(string(data)), "nan")
}

func TestEncode_TimestampIsUTCWithMillis(t *testing.T) {
	local := time.FixedZone("EEST", 3*3600)
	s := snapshotAt(time.Date(2026, 5, 1, 15, 0, 0, 7e6, local))

	data, err := Encode(s, mood.Happy)
	require.NoError(t, err)

	var p struct {
		Measurements struct {
			Timestamp string `json:"timestamp"`
		} `json:"measurements"`
	}
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "2026-05-01T12:00:00.007Z", p.Measurements.Timestamp)

	parsed, err := iso8601.ParseString(p.Measurements.Timestamp)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(s.Timestamp))
}

func TestShouldPublish(t *testing.T) {
	tests := []struct {
		name          string
		now, last, iv int64
		want          bool
	}{
		{name: "never published", now: 1000, last: 0, iv: 60000, want: false},
		{name: "boot after epoch", now: 1_700_000_000_000, last: 0, iv: 60000, want: true},
		{name: "exactly due", now: 61000, last: 1000, iv: 60000, want: true},
		{name: "one ms early", now: 60999, last: 1000, iv: 60000, want: false},
		{name: "overdue", now: 500000, last: 1000, iv: 60000, want: true},
		{name: "zero interval", now: 5, last: 5, iv: 0, want: true},
		{name: "clock went back", now: 900, last: 1000, iv: 60000, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				assert.Equal(t, tt.want, ShouldPublish(tt.now, tt.last, tt.iv))
			}
		})
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	ready    bool
	err      error
	payloads [][]byte
}

func (f *fakePublisher) IsReadyToPublish() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeClock struct {
	ms atomic.Int64
}

func (c *fakeClock) now() int64 { return c.ms.Load() }

func (c *fakeClock) advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

func newTestGate(pub Publisher, timeout time.Duration) (*Gate, *fakeClock) {
	clk := &fakeClock{}
	g := NewGate(pub, "soil/data", time.Minute, timeout, nil)
	g.SetClock(clk.now)
	return g, clk
}

func TestGate_NotReadySkipsSilently(t *testing.T) {
	pub := &fakePublisher{}
	g, clk := newTestGate(pub, time.Second)

	for i := 0; i < 5; i++ {
		err := g.Offer(context.Background(), snapshotAt(t0.Add(time.Duration(i)*time.Minute)), mood.Normal)
		assert.True(t, errors.Is(err, ErrNotReady))
		clk.advance(time.Minute)
	}
	assert.Equal(t, 0, pub.count())
	assert.Equal(t, int64(0), g.LastPublishMs())
	assert.Equal(t, uint64(0), g.Attempts())
}

func TestGate_RateLimits(t *testing.T) {
	pub := &fakePublisher{ready: true}
	g, clk := newTestGate(pub, time.Second)
	ctx := context.Background()

	require.NoError(t, g.Offer(ctx, snapshotAt(t0), mood.Normal), "first ready cycle publishes")
	assert.Equal(t, t0.UnixMilli(), g.LastPublishMs())

	clk.advance(59 * time.Second)
	err := g.Offer(ctx, snapshotAt(t0.Add(59*time.Second)), mood.Normal)
	assert.True(t, errors.Is(err, ErrNotDue))

	clk.advance(time.Second)
	require.NoError(t, g.Offer(ctx, snapshotAt(t0.Add(time.Minute)), mood.Normal))
	assert.Equal(t, 2, pub.count())
	assert.Equal(t, t0.Add(time.Minute).UnixMilli(), g.LastPublishMs())
}

func TestGate_WallClockStepBack(t *testing.T) {
	pub := &fakePublisher{ready: true}
	g, clk := newTestGate(pub, time.Second)
	ctx := context.Background()

	ahead := t0.Add(2 * time.Hour)
	require.NoError(t, g.Offer(ctx, snapshotAt(ahead), mood.Normal))
	assert.Equal(t, ahead.UnixMilli(), g.LastPublishMs())

	// NTP pulls the wall clock two hours back; the monotonic clock keeps going.
	published := 0
	for i := 1; i <= 1800; i++ {
		clk.advance(time.Second)
		if g.Offer(ctx, snapshotAt(t0.Add(time.Duration(i)*time.Second)), mood.Normal) == nil {
			published++
		}
	}

	assert.Equal(t, 30, published, "one publish per interval after the step")
	assert.Equal(t, t0.Add(1800*time.Second).UnixMilli(), g.LastPublishMs())
}

func TestGate_FailureLeavesTimestamp(t *testing.T) {
	pub := &fakePublisher{ready: true}
	g, clk := newTestGate(pub, time.Second)
	ctx := context.Background()

	require.NoError(t, g.Offer(ctx, snapshotAt(t0), mood.Normal))

	clk.advance(time.Minute)
	pub.err = errors.New("broker gone")
	err := g.Offer(ctx, snapshotAt(t0.Add(time.Minute)), mood.Normal)
	assert.EqualError(t, err, "broker gone")
	assert.Equal(t, t0.UnixMilli(), g.LastPublishMs())

	clk.advance(time.Second)
	pub.err = nil
	require.NoError(t, g.Offer(ctx, snapshotAt(t0.Add(time.Minute+time.Second)), mood.Normal),
		"next cycle must retry immediately")
	assert.Equal(t, uint64(3), g.Attempts())
	assert.Equal(t, uint64(1), g.Failures())
}

func TestGate_ForceBypassesAndResets(t *testing.T) {
	pub := &fakePublisher{ready: true}
	g, clk := newTestGate(pub, time.Second)
	ctx := context.Background()

	require.NoError(t, g.Offer(ctx, snapshotAt(t0), mood.Normal))

	clk.advance(10 * time.Second)
	forced := t0.Add(10 * time.Second)
	require.NoError(t, g.Force(ctx, snapshotAt(forced), mood.Normal))
	assert.Equal(t, forced.UnixMilli(), g.LastPublishMs())

	clk.advance(50 * time.Second)
	err := g.Offer(ctx, snapshotAt(t0.Add(time.Minute)), mood.Normal)
	assert.True(t, errors.Is(err, ErrNotDue), "interval restarts from the forced publish")

	clk.advance(10 * time.Second)
	require.NoError(t, g.Offer(ctx, snapshotAt(forced.Add(time.Minute)), mood.Normal))
}

func TestGate_ForceFailureLeavesTimestamp(t *testing.T) {
	pub := &fakePublisher{ready: true, err: errors.New("timeout")}
	g, _ := newTestGate(pub, time.Second)

	assert.Error(t, g.Force(context.Background(), snapshotAt(t0), mood.Normal))
	assert.Equal(t, int64(0), g.LastPublishMs())
}

func TestGate_MarkPublishedNeverMovesBack(t *testing.T) {
	g, _ := newTestGate(&fakePublisher{}, 0)

	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(mono int64) {
			defer wg.Done()
			g.MarkPublished(mono, mono*1000)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(100_000), g.LastPublishMs())

	g.MarkPublished(50, 999_999)
	assert.Equal(t, int64(100_000), g.LastPublishMs())
}

func TestMonotonicClock(t *testing.T) {
	clk := MonotonicClock()
	a := clk()
	time.Sleep(5 * time.Millisecond)
	b := clk()
	assert.GreaterOrEqual(t, a, int64(0))
	assert.GreaterOrEqual(t, b-a, int64(5))
}
