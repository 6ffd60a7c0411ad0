package probe

import (
	"errors"
	"time"
)

const (
	// MaxCode is the largest code a 12-bit ADC can report.
	MaxCode = 4095
)

var (
	// ErrNotConnected is returned by ReadRaw before Connect or after Close.
	ErrNotConnected = errors.New("probe not connected")
	// ErrNoSample is returned when the front end has not reported any code yet.
	ErrNoSample = errors.New("no sample received yet")
	// ErrStale is returned when the newest code is older than the staleness limit.
	ErrStale = errors.New("sample is stale")
)

// RawSample is a single soil sensor code as reported by the analog front end.
type RawSample struct {
	ChannelID int
	Code      uint16    // 12-bit ADC code (0-4095)
	DeviceMs  int64     // MCU uptime when the code was captured
	Timestamp time.Time // Host time the code was received
}

// FrontEnd defines the interface for soil probe front ends (real or mocked).
type FrontEnd interface {
	Connect() error
	Close() error
	IsConnected() bool
	ReadRaw() (RawSample, error)
}

var _ FrontEnd = (*Serial)(nil)

var _ FrontEnd = (*Mock)(nil)
