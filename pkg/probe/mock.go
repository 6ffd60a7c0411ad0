package probe

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/gosoil/pkg/config"
)

// Mock simulates a soil probe for testing and development. Moisture starts
// at StartPercent and decays linearly until Water is called.
type Mock struct {
	cfg    *config.MockConfig
	dryRaw float64
	wetRaw float64

	codes     *window
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	// Simulation state
	startTime   time.Time
	wateredAt   time.Time
	wateredPct  float64
	sampleCount int64
}

// NewMock creates a new mocked probe. dryRaw and wetRaw map the simulated
// moisture back to ADC codes.
func NewMock(cfg *config.MockConfig, dryRaw, wetRaw int) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			StartPercent:    60,
			DryingPerMinute: 1.5,
			Noise:           8,
			SampleRate:      100 * time.Millisecond,
		}
	}
	if wetRaw <= dryRaw {
		dryRaw, wetRaw = 1200, 3000
	}

	return &Mock{
		cfg:    cfg,
		dryRaw: float64(dryRaw),
		wetRaw: float64(wetRaw),
		codes:  newWindow(DefaultAverageSamples),
	}
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = time.Now()
	m.wateredAt = m.startTime
	m.wateredPct = m.cfg.StartPercent
	m.codes.reset()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})

	go m.generateSamples(m.ctx, m.done)

	return nil
}

// Close stops the mocked probe and waits for the generator to exit.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	done := m.done
	m.mu.Unlock()

	<-done
	return nil
}

// IsConnected returns whether the mock is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ReadRaw returns the rounded mean of the most recent simulated codes.
func (m *Mock) ReadRaw() (RawSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return RawSample{}, ErrNotConnected
	}
	avg, ok := m.codes.average()
	if !ok {
		return RawSample{}, ErrNoSample
	}
	return avg, nil
}

// Water simulates watering the plant up to percent moisture.
func (m *Mock) Water(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wateredAt = time.Now()
	m.wateredPct = math.Min(math.Max(percent, 0), 100)
}

// generateSamples generates simulated samples until ctx is cancelled.
func (m *Mock) generateSamples(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	m.addSample(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.addSample(now)
		}
	}
}

func (m *Mock) addSample(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes.add(m.generateSample(now))
}

// generateSample generates a single simulated sample. Caller holds m.mu.
func (m *Mock) generateSample(now time.Time) RawSample {
	m.sampleCount++

	percent := m.wateredPct - now.Sub(m.wateredAt).Minutes()*m.cfg.DryingPerMinute
	percent = math.Min(math.Max(percent, 0), 100)

	elapsed := float64(now.Sub(m.startTime).Nanoseconds())
	noise := (math.Sin(elapsed*0.001) + math.Cos(elapsed*0.0013)) * m.cfg.Noise * 0.5

	code := m.dryRaw + percent/100*(m.wetRaw-m.dryRaw) + noise
	if code < 0 {
		code = 0
	} else if code > MaxCode {
		code = MaxCode
	}

	return RawSample{
		Code:      uint16(code),
		DeviceMs:  now.Sub(m.startTime).Milliseconds(),
		Timestamp: now,
	}
}
