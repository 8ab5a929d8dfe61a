// Package metrics provides concrete MetricRecorder and Tracer implementations
// for the orchestration layer.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/factweave/factweave/pkg/orchestration/core/metrics"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec
	batchRowsCounter   *prometheus.CounterVec
	breakerTripCounter *prometheus.CounterVec
	gateWaitSeconds    *prometheus.HistogramVec
	iterationCounter   *prometheus.CounterVec
	activeAgentsGauge  *prometheus.GaugeVec
	signalCounter      *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestration_job_duration_seconds",
			Help:    "Duration of checkpointed batch jobs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_job_status_total",
			Help: "Total batch jobs by terminal status.",
		}, []string{"job_type", "status"}),
		batchRowsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_batch_rows_total",
			Help: "Rows updated or failed per batch job type.",
		}, []string{"job_type", "outcome"}),
		breakerTripCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_breaker_trips_total",
			Help: "Circuit breaker trips by component.",
		}, []string{"component"}),
		gateWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestration_gate_wait_seconds",
			Help:    "Time workflows spent waiting for admission.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		iterationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_population_iterations_total",
			Help: "Population loop iterations by run.",
		}, []string{"run_id"}),
		activeAgentsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestration_population_active_agents",
			Help: "Active agent count observed at the top of each iteration.",
		}, []string{"run_id"}),
		signalCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestration_signals_received_total",
			Help: "Fan-in signals received by topic.",
		}, []string{"topic"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.batchRowsCounter,
		r.breakerTripCounter,
		r.gateWaitSeconds,
		r.iterationCounter,
		r.activeAgentsGauge,
		r.signalCounter,
	)
	return r
}

// Registry exposes the underlying registry for HTTP scraping setups.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, jobType string) {
	// Start is implicit in the duration histogram; nothing to count here.
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, jobType, status string, duration time.Duration) {
	r.jobDurationSeconds.WithLabelValues(jobType, status).Observe(duration.Seconds())
	r.jobStatusCounter.WithLabelValues(jobType, status).Inc()
}

func (r *PrometheusRecorder) RecordBatch(ctx context.Context, jobType string, updated, failed int) {
	if updated > 0 {
		r.batchRowsCounter.WithLabelValues(jobType, "updated").Add(float64(updated))
	}
	if failed > 0 {
		r.batchRowsCounter.WithLabelValues(jobType, "failed").Add(float64(failed))
	}
}

func (r *PrometheusRecorder) RecordBreakerTrip(ctx context.Context, component string) {
	r.breakerTripCounter.WithLabelValues(component).Inc()
}

func (r *PrometheusRecorder) RecordGateWait(ctx context.Context, pool string, wait time.Duration) {
	r.gateWaitSeconds.WithLabelValues(pool).Observe(wait.Seconds())
}

func (r *PrometheusRecorder) RecordIteration(ctx context.Context, runID string, activeAgents int) {
	r.iterationCounter.WithLabelValues(runID).Inc()
	r.activeAgentsGauge.WithLabelValues(runID).Set(float64(activeAgents))
}

func (r *PrometheusRecorder) RecordSignal(ctx context.Context, topic string) {
	r.signalCounter.WithLabelValues(topic).Inc()
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
