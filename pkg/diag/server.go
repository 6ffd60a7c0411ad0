// Package diag serves local diagnostics over HTTP: Prometheus metrics, the
// current node status and recent history.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itohio/gosoil/pkg/connectivity"
	"github.com/itohio/gosoil/pkg/history"
	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/telemetry"
)

// DefaultHistoryPoints is the history size returned when max is not given.
const DefaultHistoryPoints = 200

// Connectivity reports link and broker state.
type Connectivity interface {
	LinkState() connectivity.LinkState
	BrokerState() connectivity.BrokerState
	IsReadyToPublish() bool
}

// Deps are the components the server reports on.
type Deps struct {
	DeviceUID     string
	Connectivity  Connectivity
	History       *history.History
	LastPublishMs func() int64
	Gatherer      prometheus.Gatherer
	// Water, when set, enables POST /api/water to wet a simulated probe.
	Water  func(percent float64)
	Logger *slog.Logger
}

// Server is the diagnostics HTTP server.
type Server struct {
	deps    Deps
	router  *mux.Router
	started time.Time
	logger  *slog.Logger
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		started: time.Now(),
		logger:  deps.Logger,
	}

	s.router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	sr := s.router.PathPrefix("/api").Subrouter()
	sr.HandleFunc("/status", s.getStatus).Methods("GET")
	sr.HandleFunc("/history", s.getHistory).Methods("GET")
	if deps.Water != nil {
		sr.HandleFunc("/water", s.postWater).Methods("POST")
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics listening", "address", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Status is the /api/status document.
type Status struct {
	DeviceUID      string               `json:"deviceUid"`
	Link           string               `json:"link"`
	Broker         string               `json:"broker"`
	ReadyToPublish bool                 `json:"readyToPublish"`
	LastPublish    *string              `json:"lastPublish"`
	UptimeSeconds  int64                `json:"uptimeSeconds"`
	Latest         *telemetry.Payload   `json:"latest"`
	SoilRatePerH   measurement.Optional `json:"soilRatePercentPerHour"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		DeviceUID:     s.deps.DeviceUID,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if c := s.deps.Connectivity; c != nil {
		st.Link = c.LinkState().String()
		st.Broker = c.BrokerState().String()
		st.ReadyToPublish = c.IsReadyToPublish()
	}

	if s.deps.LastPublishMs != nil {
		if ms := s.deps.LastPublishMs(); ms > 0 {
			ts := time.UnixMilli(ms).UTC().Format(telemetry.TimestampLayout)
			st.LastPublish = &ts
		}
	}

	if h := s.deps.History; h != nil {
		if e, ok := h.Latest(); ok {
			p := telemetry.NewPayload(e.Snapshot, e.Label)
			st.Latest = &p
		}
		if rates := h.Rates(); len(rates) > 0 {
			st.SoilRatePerH = rates[len(rates)-1]
		}
	}

	s.writeJSON(w, st)
}

// Point is one /api/history element.
type Point struct {
	Timestamp           string               `json:"timestamp"`
	SoilMoistureRaw     int                  `json:"soilMoistureRaw"`
	SoilMoisturePercent measurement.Optional `json:"soilMoisturePercent"`
	AirTemperatureC     measurement.Optional `json:"airTemperatureC"`
	AirHumidityPercent  measurement.Optional `json:"airHumidityPercent"`
	Mood                string               `json:"mood"`
	Published           bool                 `json:"published"`
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	maxPoints := DefaultHistoryPoints
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "max must be a positive integer", http.StatusBadRequest)
			return
		}
		maxPoints = n
	}

	points := []Point{}
	if h := s.deps.History; h != nil {
		for _, e := range history.Downsample(nil, h.Entries(), maxPoints) {
			points = append(points, Point{
				Timestamp:           e.Snapshot.Timestamp.UTC().Format(telemetry.TimestampLayout),
				SoilMoistureRaw:     e.Snapshot.SoilRaw,
				SoilMoisturePercent: e.Snapshot.SoilPercent,
				AirTemperatureC:     e.Snapshot.Environment.TemperatureC,
				AirHumidityPercent:  e.Snapshot.Environment.HumidityPercent,
				Mood:                string(e.Label),
				Published:           e.Published,
			})
		}
	}

	s.writeJSON(w, points)
}

func (s *Server) postWater(w http.ResponseWriter, r *http.Request) {
	pct, err := strconv.ParseFloat(r.URL.Query().Get("percent"), 64)
	if err != nil || pct < 0 || pct > 100 {
		http.Error(w, "percent must be a number between 0 and 100", http.StatusBadRequest)
		return
	}
	s.deps.Water(pct)
	s.logger.Info("simulated watering", "percent", pct)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write diagnostics response", "error", err)
	}
}
