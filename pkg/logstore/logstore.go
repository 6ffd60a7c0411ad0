// Package logstore persists every measurement locally. Writes are best
// effort: the sampling loop never waits on or fails because of them.
package logstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/itohio/gosoil/pkg/config"
	"github.com/itohio/gosoil/pkg/measurement"
)

// Value columns.
const (
	ColumnSoilPercent = "soil_pct"
	ColumnVoltageMv   = "voltage_mv"
)

var (
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("log store closed")
	// ErrUnavailable is returned by Append when the store could not be opened.
	ErrUnavailable = errors.New("log store unavailable")
)

// Record is one persisted row.
type Record struct {
	TimestampMs int64
	Raw         int
	Value       measurement.Optional
}

// Fields renders the record as text columns. Unknown values are empty.
func (r Record) Fields() []string {
	return []string{
		strconv.FormatInt(r.TimestampMs, 10),
		strconv.Itoa(r.Raw),
		r.Value.String(),
	}
}

// Header returns the column names for valueColumn.
func Header(valueColumn string) []string {
	return []string{"timestamp_ms", "raw", valueColumn}
}

// Store is an append-only sink of records.
type Store interface {
	Append(Record) error
	Close() error
}

var (
	_ Store = (*CSV)(nil)
	_ Store = (*Bolt)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = Unavailable{}
)

// Unavailable stands in for a store that failed to open. Every Append fails
// with ErrUnavailable so the failure is still counted.
type Unavailable struct {
	Cause error
}

func (u Unavailable) Append(Record) error {
	if u.Cause == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, u.Cause)
}

func (Unavailable) Close() error { return nil }

// OpenOrUnavailable opens the configured store. If that fails it logs a
// warning and returns Unavailable, so sampling runs without a local log.
func OpenOrUnavailable(cfg config.LogStoreConfig, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := Open(cfg, logger)
	if err != nil {
		logger.Warn("log store unavailable, measurements will not be persisted", "driver", cfg.Driver, "path", cfg.Path, "error", err)
		return Unavailable{Cause: err}
	}
	return store
}

// Open creates the store selected by cfg.Driver.
func Open(cfg config.LogStoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := validColumn(cfg.ValueColumn); err != nil {
		return nil, err
	}

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", "csv":
		store, err = OpenCSV(cfg.Path, cfg.ValueColumn)
	case "bolt":
		store, err = OpenBolt(cfg.Path, cfg.ValueColumn)
	case "sqlite":
		store, err = OpenSQLite(cfg.Path, cfg.ValueColumn)
	default:
		return nil, fmt.Errorf("unknown log store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	size := "0 B"
	if fi, statErr := os.Stat(cfg.Path); statErr == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	logger.Info("log store opened", "driver", cfg.Driver, "path", cfg.Path, "column", cfg.ValueColumn, "size", size)

	return store, nil
}

func validColumn(column string) error {
	switch column {
	case ColumnSoilPercent, ColumnVoltageMv:
		return nil
	default:
		return fmt.Errorf("unknown log value column %q", column)
	}
}

// Logger turns snapshots into records and appends them to a Store.
type Logger struct {
	store       Store
	valueColumn string
	logger      *slog.Logger
	failures    atomic.Uint64
	appended    atomic.Uint64
}

// NewLogger wraps store. valueColumn selects which snapshot value is persisted.
func NewLogger(store Store, valueColumn string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, valueColumn: valueColumn, logger: logger}
}

// RecordFor builds the record persisted for s.
func (l *Logger) RecordFor(s measurement.Snapshot) Record {
	value := s.SoilPercent
	if l.valueColumn == ColumnVoltageMv {
		value = s.SoilMillivolts
	}
	return Record{TimestampMs: s.TimestampMs(), Raw: s.SoilRaw, Value: value}
}

// Append persists s. Failures are logged and counted, never returned.
func (l *Logger) Append(s measurement.Snapshot) {
	if err := l.store.Append(l.RecordFor(s)); err != nil {
		l.failures.Add(1)
		l.logger.Warn("log append failed", "timestamp_ms", s.TimestampMs(), "error", err)
		return
	}
	l.appended.Add(1)
}

// Failures returns the number of failed appends since start.
func (l *Logger) Failures() uint64 {
	return l.failures.Load()
}

// Appended returns the number of successful appends since start.
func (l *Logger) Appended() uint64 {
	return l.appended.Load()
}

// Close closes the underlying store.
func (l *Logger) Close() error {
	return l.store.Close()
}
