// Package metrics defines abstract interfaces for recording orchestration
// metrics and traces, decoupling the engines from any concrete backend
// (Prometheus, OpenTelemetry, ...).
package metrics

import (
	"context"
	"time"
)

// MetricRecorder is an abstract interface for recording metrics related to
// orchestration workflow execution.
type MetricRecorder interface {
	// RecordJobStart records the start of a checkpointed batch job.
	RecordJobStart(ctx context.Context, jobType string)

	// RecordJobEnd records the end of a batch job with its terminal status.
	RecordJobEnd(ctx context.Context, jobType, status string, duration time.Duration)

	// RecordBatch records one processed batch with its success/failure row counts.
	RecordBatch(ctx context.Context, jobType string, updated, failed int)

	// RecordBreakerTrip records a circuit breaker opening for a component.
	RecordBreakerTrip(ctx context.Context, component string)

	// RecordGateWait records how long a workflow waited for admission.
	RecordGateWait(ctx context.Context, pool string, wait time.Duration)

	// RecordIteration records one population loop iteration and the active
	// agent count observed at its top.
	RecordIteration(ctx context.Context, runID string, activeAgents int)

	// RecordSignal records receipt of a fan-in signal on a topic.
	RecordSignal(ctx context.Context, topic string)
}

// Tracer is an abstract interface for recording spans and errors.
type Tracer interface {
	// StartSpan starts a span for the named operation and returns the derived
	// context plus a function ending the span.
	StartSpan(ctx context.Context, name string) (context.Context, func())

	// RecordError attaches an error to the current span.
	RecordError(ctx context.Context, component string, err error)
}
