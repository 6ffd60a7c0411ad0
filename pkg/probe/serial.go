package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate the probe firmware uses.
	DefaultBaudRate = 115200
	// DefaultAverageSamples is the number of codes averaged per reading.
	DefaultAverageSamples = 8
	// DefaultStaleAfter is how old the newest code may be before ReadRaw fails.
	DefaultStaleAfter = 5 * time.Second
	// DefaultReopenInterval is how often ReadRaw retries a port whose stream ended.
	DefaultReopenInterval = 2 * time.Second
)

// SerialOptions configures a Serial front end.
type SerialOptions struct {
	Port           string
	BaudRate       int
	Channel        int
	AverageSamples int
	StaleAfter     time.Duration
	Logger         *slog.Logger
}

// Serial reads soil codes streamed by the probe MCU over a serial line.
type Serial struct {
	port       string
	baudRate   int
	channel    int
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
	open       func(name string, baudRate int) (io.ReadCloser, error)

	reopenInterval time.Duration

	conn       io.ReadCloser
	codes      *window
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	connected  bool
	gen        uint64
	lost       bool
	lastReopen time.Time
}

// NewSerial creates a new Serial front end. It does not open the port.
func NewSerial(opts SerialOptions) *Serial {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.AverageSamples == 0 {
		opts.AverageSamples = DefaultAverageSamples
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Serial{
		port:           opts.Port,
		baudRate:       opts.BaudRate,
		channel:        opts.Channel,
		staleAfter:     opts.StaleAfter,
		logger:         opts.Logger,
		now:            time.Now,
		open:           openPort,
		reopenInterval: DefaultReopenInterval,
		codes:          newWindow(opts.AverageSamples),
	}
}

func openPort(name string, baudRate int) (io.ReadCloser, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baudRate})
}

// Ports returns the names of available serial ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Connect opens the serial port and starts reading codes.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	return d.openLocked()
}

func (d *Serial) openLocked() error {
	port, err := d.open(d.port, d.baudRate)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.gen++
	d.conn = port
	d.connected = true
	d.lost = false
	d.codes.reset()
	d.ctx, d.cancel = context.WithCancel(context.Background())

	go d.readLines(d.ctx, port, d.gen)

	return nil
}

// markLost closes the port after its stream ended on its own, for example
// when the USB device was unplugged. ReadRaw then tries to reopen it.
func (d *Serial) markLost(gen uint64, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected || d.conn == nil || d.gen != gen {
		return
	}

	d.cancel()
	if err := d.conn.Close(); err != nil {
		d.logger.Debug("error closing lost serial port", "port", d.port, "error", err)
	}
	d.conn = nil
	d.connected = false
	d.lost = true
	d.logger.Warn("serial stream ended, will reopen", "port", d.port, "error", cause)
}

// reopen retries a lost port at most once per reopenInterval.
func (d *Serial) reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lost {
		return
	}
	now := d.now()
	if !d.lastReopen.IsZero() && now.Sub(d.lastReopen) < d.reopenInterval {
		return
	}
	d.lastReopen = now

	if err := d.openLocked(); err != nil {
		d.logger.Debug("serial reopen failed", "port", d.port, "error", err)
		return
	}
	d.logger.Info("serial port reopened", "port", d.port)
}

// Close closes the port and stops reading codes.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.logger.Warn("error closing serial port", "port", d.port, "error", err)
		}
		d.conn = nil
	}

	d.connected = false
	d.lost = false

	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// ReadRaw returns the rounded mean of the most recent codes on the
// configured channel.
func (d *Serial) ReadRaw() (RawSample, error) {
	d.reopen()

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return RawSample{}, ErrNotConnected
	}

	avg, ok := d.codes.average()
	if !ok {
		return RawSample{}, ErrNoSample
	}
	if age := d.now().Sub(avg.Timestamp); age > d.staleAfter {
		return RawSample{}, fmt.Errorf("%w: last code %s old", ErrStale, age.Truncate(time.Millisecond))
	}

	return avg, nil
}

// readLines reads lines from r and records codes for the configured channel.
// gen identifies the connection r belongs to.
func (d *Serial) readLines(ctx context.Context, r io.Reader, gen uint64) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic in serial reader", "panic", rec)
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sample, err := parseLine(line)
		if err != nil {
			d.logger.Warn("failed to parse probe line", "line", line, "error", err)
			continue
		}
		if sample.ChannelID != d.channel {
			continue
		}

		sample.Timestamp = d.now()
		d.mu.Lock()
		d.codes.add(sample)
		d.mu.Unlock()
	}

	if ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err != nil {
		d.logger.Warn("error reading from serial port", "port", d.port, "error", err)
	} else {
		err = io.EOF
	}
	d.markLost(gen, err)
}

// parseLine parses a line from the MCU into a RawSample.
// Format: uptime_ms,channel,code
// Example: 123456,6,2048
func parseLine(line string) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return RawSample{}, fmt.Errorf("invalid line format: expected 3 comma-separated values, got %d", len(parts))
	}

	deviceMs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	channel, err := strconv.Atoi(parts[1])
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid channel: %w", err)
	}

	code, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid code: %w", err)
	}
	if code > MaxCode {
		return RawSample{}, fmt.Errorf("code out of range: %d (max %d)", code, MaxCode)
	}

	return RawSample{
		ChannelID: channel,
		Code:      uint16(code),
		DeviceMs:  deviceMs,
	}, nil
}
