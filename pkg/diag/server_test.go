package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gosoil/pkg/connectivity"
	"github.com/itohio/gosoil/pkg/history"
	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/metrics"
	"github.com/itohio/gosoil/pkg/mood"
)

type fakeConnectivity struct{}

func (fakeConnectivity) LinkState() connectivity.LinkState     { return connectivity.LinkUp }
func (fakeConnectivity) BrokerState() connectivity.BrokerState { return connectivity.BrokerConnected }
func (fakeConnectivity) IsReadyToPublish() bool                { return true }

func newTestServer(t *testing.T) (*Server, *history.History, *prometheus.Registry) {
	t.Helper()
	h := history.New(time.Hour)
	reg := prometheus.NewRegistry()
	s := NewServer(Deps{
		DeviceUID:     "uid-1",
		Connectivity:  fakeConnectivity{},
		History:       h,
		LastPublishMs: func() int64 { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli() },
		Gatherer:      reg,
	})
	return s, h, reg
}

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s, h, _ := newTestServer(t)

	rec := do(t, s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"latest":null`)

	ts := time.Date(2026, 5, 1, 12, 0, 1, 0, time.UTC)
	h.Add(history.Entry{
		Snapshot: measurement.Snapshot{
			SoilRaw:     2100,
			SoilPercent: measurement.Known(50),
			Environment: measurement.UnknownEnvironment(),
			Timestamp:   ts,
			DeviceUID:   "uid-1",
		},
		Label: mood.Normal,
	})

	rec = do(t, s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "uid-1", st.DeviceUID)
	assert.Equal(t, "up", st.Link)
	assert.Equal(t, "connected", st.Broker)
	assert.True(t, st.ReadyToPublish)
	require.NotNil(t, st.LastPublish)
	assert.Equal(t, "2026-05-01T12:00:00.000Z", *st.LastPublish)
	require.NotNil(t, st.Latest)
	assert.Equal(t, 2100, st.Latest.Measurements.SoilMoistureRaw)
	assert.Contains(t, rec.Body.String(), `"airTemperatureC":null`)
}

func TestHistory(t *testing.T) {
	s, h, _ := newTestServer(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		h.Add(history.Entry{
			Snapshot: measurement.Snapshot{SoilRaw: i, Timestamp: start.Add(time.Duration(i) * time.Second)},
			Label:    mood.Normal,
		})
	}

	rec := do(t, s, "/api/history?max=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var points []Point
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 5)
	assert.Equal(t, 0, points[0].SoilMoistureRaw)
	assert.Equal(t, "2026-05-01T12:00:00.000Z", points[0].Timestamp)

	rec = do(t, s, "/api/history")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Len(t, points, 50)
}

func TestHistory_BadMax(t *testing.T) {
	s, _, _ := newTestServer(t)
	for _, q := range []string{"max=0", "max=-1", "max=lots"} {
		assert.Equal(t, http.StatusBadRequest, do(t, s, "/api/history?"+q).Code, q)
	}
}

func TestHistory_Empty(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, "/api/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, reg := newTestServer(t)
	m := metrics.New(reg)
	m.SetConnectivity(connectivity.LinkUp, connectivity.BrokerConnected)

	rec := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "soil_link_up 1"))
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWater(t *testing.T) {
	var got []float64
	s := NewServer(Deps{
		Gatherer: prometheus.NewRegistry(),
		Water:    func(pct float64) { got = append(got, pct) },
	})

	post := func(target string) int {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, post("/api/water?percent=85"))
	for _, q := range []string{"", "?percent=", "?percent=101", "?percent=-1", "?percent=wet"} {
		assert.Equal(t, http.StatusBadRequest, post("/api/water"+q), q)
	}
	assert.Equal(t, []float64{85}, got)
}

func TestWater_DisabledWithoutMock(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/water?percent=50", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
