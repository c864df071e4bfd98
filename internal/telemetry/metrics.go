package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the assistant backend. Turn
// counters are labelled by entry surface ("chat" or "voice") and outcome.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	tokensTotal  *prometheus.CounterVec
	sessionsLive prometheus.Gauge
}

// NewMetrics creates and registers the metric collectors on a private
// registry, so tests can create as many instances as they need.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtord_turns_total",
			Help: "Completed conversation turns by surface and status.",
		}, []string{"surface", "status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realtord_turn_duration_seconds",
			Help:    "End-to-end turn duration including the model call.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"surface"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtord_tokens_total",
			Help: "Model tokens consumed by type.",
		}, []string{"type"}),
		sessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtord_sessions_live",
			Help: "Sessions currently held in the store.",
		}),
	}

	registry.MustRegister(m.turnsTotal, m.turnDuration, m.tokensTotal, m.sessionsLive)
	return m
}

// RecordTurn records a completed (or failed) conversation turn.
func (m *Metrics) RecordTurn(surface, status string, duration time.Duration, inputTokens, outputTokens int) {
	m.turnsTotal.WithLabelValues(surface, status).Inc()
	m.turnDuration.WithLabelValues(surface).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// SetLiveSessions updates the live session gauge.
func (m *Metrics) SetLiveSessions(n int) {
	m.sessionsLive.Set(float64(n))
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
