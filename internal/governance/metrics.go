package governance

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/decodeguard/pkg/domain"
)

// Metrics holds the Prometheus metrics of the decode governor. A nil *Metrics
// records nothing.
type Metrics struct {
	decodeCalls        *prometheus.CounterVec
	decodeDuration     prometheus.Histogram
	windowResets       prometheus.Counter
	terminations       prometheus.Counter
	shutdownFailures   prometheus.Counter
	trackedConnections prometheus.Gauge
	hookEnabled        prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decodeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decodeguard_decode_calls_total",
				Help: "Total number of governed decode calls by decision",
			},
			[]string{"decision"},
		),

		decodeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "decodeguard_decode_duration_seconds",
				Help:    "Time spent in the original decode implementation",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),

		windowResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "decodeguard_window_resets_total",
				Help: "Total number of accounting windows that expired and restarted",
			},
		),

		terminations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "decodeguard_terminations_total",
				Help: "Total number of connections terminated for excessive decode time",
			},
		),

		shutdownFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "decodeguard_shutdown_failures_total",
				Help: "Total number of connection shutdowns that returned an error or panicked",
			},
		),

		trackedConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decodeguard_tracked_connections",
				Help: "Number of connections with an accounting record",
			},
		),

		hookEnabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decodeguard_hook_enabled",
				Help: "Whether decode calls are routed through the governor (1=enabled, 0=disabled)",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.decodeCalls,
		m.decodeDuration,
		m.windowResets,
		m.terminations,
		m.shutdownFailures,
		m.trackedConnections,
		m.hookEnabled,
	)

	return m
}

// RecordDecode records one governed call and the time the original took.
func (m *Metrics) RecordDecode(decision domain.Decision, duration time.Duration) {
	if m == nil {
		return
	}
	m.decodeCalls.WithLabelValues(string(decision)).Inc()
	if duration > 0 {
		m.decodeDuration.Observe(duration.Seconds())
	}
}

// RecordWindowReset records an expired accounting window.
func (m *Metrics) RecordWindowReset() {
	if m == nil {
		return
	}
	m.windowResets.Inc()
}

// RecordTermination records a terminated connection.
func (m *Metrics) RecordTermination() {
	if m == nil {
		return
	}
	m.terminations.Inc()
}

// RecordShutdownFailure records a shutdown that did not complete cleanly.
func (m *Metrics) RecordShutdownFailure() {
	if m == nil {
		return
	}
	m.shutdownFailures.Inc()
}

// SetTrackedConnections updates the tracked connection gauge.
func (m *Metrics) SetTrackedConnections(n int) {
	if m == nil {
		return
	}
	m.trackedConnections.Set(float64(n))
}

// SetHookEnabled updates the hook state gauge.
func (m *Metrics) SetHookEnabled(enabled bool) {
	if m == nil {
		return
	}
	v := 0.0
	if enabled {
		v = 1.0
	}
	m.hookEnabled.Set(v)
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
