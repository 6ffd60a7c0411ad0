package logstore

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/gosoil/pkg/config"
	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotAt(ms int64, raw int, pct, mv measurement.Optional) measurement.Snapshot {
	return measurement.Snapshot{
		SoilRaw:        raw,
		SoilPercent:    pct,
		SoilMillivolts: mv,
		Timestamp:      time.UnixMilli(ms),
	}
}

func TestRecord_Fields(t *testing.T) {
	r := Record{TimestampMs: 1700000000123, Raw: 2100, Value: measurement.Known(50)}
	assert.Equal(t, []string{"1700000000123", "2100", "50"}, r.Fields())

	r.Value = measurement.Unknown()
	assert.Equal(t, []string{"1700000000123", "2100", ""}, r.Fields())
}

func TestCSV_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	s, err := OpenCSV(path, ColumnSoilPercent)
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{TimestampMs: 1, Raw: 2100, Value: measurement.Known(50)}))
	require.NoError(t, s.Close())

	s, err = OpenCSV(path, ColumnSoilPercent)
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{TimestampMs: 2, Raw: 1100, Value: measurement.Unknown()}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp_ms,raw,soil_pct\n1,2100,50\n2,1100,\n", string(data))
}

func TestCSV_AppendAfterClose(t *testing.T) {
	s, err := OpenCSV(filepath.Join(t.TempDir(), "log.csv"), ColumnSoilPercent)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Append(Record{})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")

	s, err := OpenBolt(path, ColumnVoltageMv)
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{TimestampMs: 10, Raw: 2100, Value: measurement.Known(1692.5)}))
	require.NoError(t, s.Append(Record{TimestampMs: 11, Raw: 0, Value: measurement.Unknown()}))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path, ColumnVoltageMv)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(Record{TimestampMs: 12, Raw: 4095, Value: measurement.Known(3300)}))

	lines, err := s.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"timestamp_ms,raw,voltage_mv",
		"10,2100,1692.5",
		"11,0,",
		"12,4095,3300",
	}, lines)
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.sqlite")

	s, err := OpenSQLite(path, ColumnSoilPercent)
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{TimestampMs: 10, Raw: 2100, Value: measurement.Known(50)}))
	require.NoError(t, s.Append(Record{TimestampMs: 11, Raw: 0, Value: measurement.Unknown()}))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT timestamp_ms, raw, soil_pct FROM soil_log ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		ts    int64
		raw   int
		value sql.NullFloat64
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.ts, &r.raw, &r.value))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, row{ts: 10, raw: 2100, value: sql.NullFloat64{Float64: 50, Valid: true}}, got[0])
	assert.Equal(t, int64(11), got[1].ts)
	assert.False(t, got[1].value.Valid)
}

func TestSQLite_RejectsUnknownColumn(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"), "soil_pct); DROP TABLE x; --")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"csv", "bolt", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s, err := Open(config.LogStoreConfig{
				Driver:      driver,
				Path:        filepath.Join(dir, "log."+driver),
				ValueColumn: ColumnSoilPercent,
			}, nil)
			require.NoError(t, err)
			require.NoError(t, s.Append(Record{TimestampMs: 1, Raw: 1}))
			require.NoError(t, s.Close())
		})
	}

	_, err := Open(config.LogStoreConfig{Driver: "parquet", Path: filepath.Join(dir, "x"), ValueColumn: ColumnSoilPercent}, nil)
	assert.Error(t, err)

	_, err = Open(config.LogStoreConfig{Driver: "csv", Path: filepath.Join(dir, "y"), ValueColumn: "lux"}, nil)
	assert.Error(t, err)
}

type failingStore struct {
	records []Record
	err     error
}

func (f *failingStore) Append(r Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

func (f *failingStore) Close() error { return nil }

func TestLogger_ValueColumn(t *testing.T) {
	snap := snapshotAt(1000, 2100, measurement.Known(50), measurement.Known(1692))

	store := &failingStore{}
	NewLogger(store, ColumnSoilPercent, nil).Append(snap)
	NewLogger(store, ColumnVoltageMv, nil).Append(snap)

	require.Len(t, store.records, 2)
	assert.Equal(t, Record{TimestampMs: 1000, Raw: 2100, Value: measurement.Known(50)}, store.records[0])
	assert.Equal(t, Record{TimestampMs: 1000, Raw: 2100, Value: measurement.Known(1692)}, store.records[1])
}

func TestLogger_SwallowsFailures(t *testing.T) {
	store := &failingStore{err: errors.New("disk full")}
	l := NewLogger(store, ColumnSoilPercent, nil)

	l.Append(snapshotAt(1, 1, measurement.Unknown(), measurement.Unknown()))
	l.Append(snapshotAt(2, 1, measurement.Unknown(), measurement.Unknown()))
	assert.Equal(t, uint64(2), l.Failures())
	assert.Equal(t, uint64(0), l.Appended())

	store.err = nil
	l.Append(snapshotAt(3, 1, measurement.Unknown(), measurement.Unknown()))
	assert.Equal(t, uint64(2), l.Failures())
	assert.Equal(t, uint64(1), l.Appended())
}

func TestOpenOrUnavailable(t *testing.T) {
	dir := t.TempDir()

	store := OpenOrUnavailable(config.LogStoreConfig{
		Driver:      "csv",
		Path:        filepath.Join(dir, "log.csv"),
		ValueColumn: ColumnSoilPercent,
	}, nil)
	assert.IsType(t, &CSV{}, store)
	require.NoError(t, store.Close())

	for _, driver := range []string{"csv", "bolt", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			store := OpenOrUnavailable(config.LogStoreConfig{
				Driver:      driver,
				Path:        filepath.Join(dir, "missing", "soil_log."+driver),
				ValueColumn: ColumnSoilPercent,
			}, nil)
			require.IsType(t, Unavailable{}, store)

			err := store.Append(Record{TimestampMs: 1, Raw: 1})
			assert.True(t, errors.Is(err, ErrUnavailable))

			l := NewLogger(store, ColumnSoilPercent, nil)
			for i := int64(1); i <= 3; i++ {
				l.Append(snapshotAt(i, 2100, measurement.Known(50), measurement.Unknown()))
			}
			assert.Equal(t, uint64(3), l.Failures())
			assert.Equal(t, uint64(0), l.Appended())
			assert.NoError(t, l.Close())
		})
	}
}

func TestUnavailable_NilCause(t *testing.T) {
	assert.Equal(t, ErrUnavailable, Unavailable{}.Append(Record{}))
}
