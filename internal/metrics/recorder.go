// Package metrics records ingestion activity. Emission is a collaborator:
// components depend on Recorder and the process picks Prometheus or Nop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives ingestion events.
type Recorder interface {
	// ProviderAttempt records one provider lookup outcome ("completed", "error", "skipped").
	ProviderAttempt(provider, outcome string, calls int, elapsed time.Duration)
	// BreakerTransition records a circuit breaker state change.
	BreakerTransition(provider, from, to string)
	// Placement records a placement decision by reason code.
	Placement(reason string)
	// RecordProcessed records a record reaching a terminal status.
	RecordProcessed(status string)
	// BatchFinished records a batch reaching a terminal status.
	BatchFinished(status string, elapsed time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ProviderAttempt(string, string, int, time.Duration) {}
func (Nop) BreakerTransition(string, string, string)           {}
func (Nop) Placement(string)                                    {}
func (Nop) RecordProcessed(string)                              {}
func (Nop) BatchFinished(string, time.Duration)                 {}

// PrometheusRecorder is a Recorder backed by its own Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	providerAttempts *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	breakerChanges   *prometheus.CounterVec
	placements       *prometheus.CounterVec
	records          *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with Go and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelver_enrichment_attempts_total",
			Help: "Enrichment provider attempts by outcome.",
		}, []string{"provider", "outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelver_enrichment_calls_total",
			Help: "Individual provider calls including retries.",
		}, []string{"provider"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelver_enrichment_duration_seconds",
			Help:    "Time spent per provider attempt, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelver_breaker_transitions_total",
			Help: "Circuit breaker state changes.",
		}, []string{"provider", "from", "to"}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelver_placements_total",
			Help: "Placement decisions by reason code.",
		}, []string{"reason"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelver_records_processed_total",
			Help: "Records reaching a terminal status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelver_batch_duration_seconds",
			Help:    "Wall time of background batch processing.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
	}

	registry.MustRegister(r.providerAttempts)
	registry.MustRegister(r.providerCalls)
	registry.MustRegister(r.providerDuration)
	registry.MustRegister(r.breakerChanges)
	registry.MustRegister(r.placements)
	registry.MustRegister(r.records)
	registry.MustRegister(r.batchDuration)

	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) ProviderAttempt(provider, outcome string, calls int, elapsed time.Duration) {
	r.providerAttempts.WithLabelValues(provider, outcome).Inc()
	if calls > 0 {
		r.providerCalls.WithLabelValues(provider).Add(float64(calls))
	}
	r.providerDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) BreakerTransition(provider, from, to string) {
	r.breakerChanges.WithLabelValues(provider, from, to).Inc()
}

func (r *PrometheusRecorder) Placement(reason string) {
	r.placements.WithLabelValues(reason).Inc()
}

func (r *PrometheusRecorder) RecordProcessed(status string) {
	r.records.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) BatchFinished(status string, elapsed time.Duration) {
	r.batchDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}
