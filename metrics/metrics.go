// Package metrics exposes Prometheus instrumentation for the evaluation
// engine. It implements the rate arbiter's observer interface and provides
// hooks for cycle outcomes and generation latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
)

// Metrics holds the engine's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	permitsGranted    prometheus.Counter
	permitsDenied     *prometheus.CounterVec
	tokensCommitted   prometheus.Counter
	windowUtilization *prometheus.GaugeVec
	inFlight          prometheus.Gauge

	cycles            *prometheus.CounterVec
	generationErrors  *prometheus.CounterVec
	generationSeconds prometheus.Histogram
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		permitsGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gauntlet_permits_granted_total",
			Help: "Generation permits granted by the rate arbiter.",
		}),
		permitsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gauntlet_permits_denied_total",
			Help: "Generation permits denied by the rate arbiter.",
		}, []string{"reason"}),
		tokensCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gauntlet_tokens_committed_total",
			Help: "Actual token cost settled against the budget windows.",
		}),
		windowUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gauntlet_window_utilization_ratio",
			Help: "Consumed fraction of each budget window.",
		}, []string{"window"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gauntlet_generation_in_flight",
			Help: "Generation calls currently holding a permit.",
		}),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gauntlet_cycles_total",
			Help: "Completed test cycles by outcome.",
		}, []string{"outcome"}),
		generationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gauntlet_generation_errors_total",
			Help: "Generation call failures by error class.",
		}, []string{"class"}),
		generationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gauntlet_generation_duration_seconds",
			Help:    "Latency of external generation calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PermitGranted implements ratelimit.Observer.
func (m *Metrics) PermitGranted(_ int64) {
	m.permitsGranted.Inc()
	m.inFlight.Inc()
}

// PermitDenied implements ratelimit.Observer.
func (m *Metrics) PermitDenied(reason ratelimit.DenialReason) {
	m.permitsDenied.WithLabelValues(string(reason)).Inc()
}

// PermitReleased implements ratelimit.Observer.
func (m *Metrics) PermitReleased(actualCost int64, _ bool) {
	m.inFlight.Dec()
	m.tokensCommitted.Add(float64(actualCost))
}

// WindowUtilization implements ratelimit.Observer.
func (m *Metrics) WindowUtilization(window string, fraction float64) {
	m.windowUtilization.WithLabelValues(window).Set(fraction)
}

// CycleCompleted counts a finished cycle.
func (m *Metrics) CycleCompleted(outcome record.Outcome) {
	m.cycles.WithLabelValues(string(outcome)).Inc()
}

// GenerationError counts a failed generation call by error class.
func (m *Metrics) GenerationError(transient bool) {
	class := "fatal"
	if transient {
		class = "transient"
	}
	m.generationErrors.WithLabelValues(class).Inc()
}

// ObserveGeneration records one generation call's latency.
func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.generationSeconds.Observe(d.Seconds())
}
