// Package metrics exports node health and the latest readings to Prometheus.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/itohio/gosoil/pkg/connectivity"
	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

const namespace = "soil"

// Sources are counters owned by other components, read at scrape time.
// Nil funcs are not registered.
type Sources struct {
	LogAppended    func() uint64
	LogFailures    func() uint64
	PublishTotal   func() uint64
	PublishFailed  func() uint64
	LastPublishMs  func() int64
	Commands       func() uint64
	LinkReconnects func() uint64
}

// Metrics holds the collectors updated by the sampling loop.
type Metrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	moods         *prometheus.CounterVec
	soilPercent   prometheus.Gauge
	soilRaw       prometheus.Gauge
	airTemp       prometheus.Gauge
	airHumidity   prometheus.Gauge
	linkUp        prometheus.Gauge
	brokerUp      prometheus.Gauge
	soilRate      prometheus.Gauge
	historySize   prometheus.Gauge

	reg prometheus.Registerer
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sampling cycles completed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent collecting, logging and gating one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		moods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mood_total",
			Help:      "Cycles per mood label.",
		}, []string{"mood"}),
		soilPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "moisture_percent",
			Help:      "Latest calibrated soil moisture. NaN when unknown.",
		}),
		soilRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "moisture_raw",
			Help:      "Latest raw ADC code of the soil probe.",
		}),
		airTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "air_temperature_celsius",
			Help:      "Latest air temperature. NaN when unknown.",
		}),
		airHumidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "air_humidity_percent",
			Help:      "Latest relative humidity. NaN when unknown.",
		}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 when the network link is up.",
		}),
		brokerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 when the broker session is established.",
		}),
		soilRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "moisture_rate_percent_per_hour",
			Help:      "Soil moisture change between the last two cycles. NaN when unknown.",
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Cycles held in the diagnostics history window.",
		}),
	}

	reg.MustRegister(
		m.cycles, m.cycleDuration, m.moods,
		m.soilPercent, m.soilRaw, m.airTemp, m.airHumidity,
		m.linkUp, m.brokerUp,
		m.soilRate, m.historySize,
	)
	return m
}

// RegisterSources exposes counters kept by other components.
func (m *Metrics) RegisterSources(src Sources) {
	counter := func(name, help string, fn func() uint64) {
		if fn == nil {
			return
		}
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) }))
	}

	counter("log_appended_total", "Records written to the local log.", src.LogAppended)
	counter("log_failures_total", "Local log writes that failed.", src.LogFailures)
	counter("publish_total", "Publish attempts.", src.PublishTotal)
	counter("publish_failures_total", "Publish attempts that failed.", src.PublishFailed)
	counter("commands_total", "Commands executed.", src.Commands)
	counter("link_reconnects_total", "Link losses followed by a reconnect.", src.LinkReconnects)

	if src.LastPublishMs != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publish, 0 if none.",
		}, func() float64 { return float64(src.LastPublishMs()) / 1000 }))
	}
}

// ObserveCycle records one completed sampling cycle.
func (m *Metrics) ObserveCycle(s measurement.Snapshot, label mood.Label, took time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(took.Seconds())
	m.moods.WithLabelValues(string(label)).Inc()
	m.soilPercent.Set(gaugeValue(s.SoilPercent))
	m.soilRaw.Set(float64(s.SoilRaw))
	m.airTemp.Set(gaugeValue(s.Environment.TemperatureC))
	m.airHumidity.Set(gaugeValue(s.Environment.HumidityPercent))
}

// ObserveHistory records the history window size and the latest soil rate.
func (m *Metrics) ObserveHistory(entries int, rate measurement.Optional) {
	m.historySize.Set(float64(entries))
	m.soilRate.Set(gaugeValue(rate))
}

// SetConnectivity mirrors the connectivity state.
func (m *Metrics) SetConnectivity(l connectivity.LinkState, b connectivity.BrokerState) {
	m.linkUp.Set(boolValue(l == connectivity.LinkUp))
	m.brokerUp.Set(boolValue(b == connectivity.BrokerConnected))
}

func gaugeValue(o measurement.Optional) float64 {
	v, ok := o.Get()
	if !ok {
		return math.NaN()
	}
	return v
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
