package metrics

import (
	"context"
	"time"
)

// NoopMetricRecorder is a MetricRecorder that does nothing.
type NoopMetricRecorder struct{}

// NewNoopMetricRecorder creates a new NoopMetricRecorder.
func NewNoopMetricRecorder() *NoopMetricRecorder {
	return &NoopMetricRecorder{}
}

func (r *NoopMetricRecorder) RecordJobStart(ctx context.Context, jobType string)          {}
func (r *NoopMetricRecorder) RecordJobEnd(ctx context.Context, jobType, status string, duration time.Duration) {
}
func (r *NoopMetricRecorder) RecordBatch(ctx context.Context, jobType string, updated, failed int) {}
func (r *NoopMetricRecorder) RecordBreakerTrip(ctx context.Context, component string)             {}
func (r *NoopMetricRecorder) RecordGateWait(ctx context.Context, pool string, wait time.Duration) {}
func (r *NoopMetricRecorder) RecordIteration(ctx context.Context, runID string, activeAgents int) {}
func (r *NoopMetricRecorder) RecordSignal(ctx context.Context, topic string)                      {}

var _ MetricRecorder = (*NoopMetricRecorder)(nil)

// NoopTracer is a Tracer that does nothing.
type NoopTracer struct{}

// NewNoopTracer creates a new NoopTracer.
func NewNoopTracer() *NoopTracer {
	return &NoopTracer{}
}

func (t *NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}
func (t *NoopTracer) RecordError(ctx context.Context, component string, err error) {}

var _ Tracer = (*NoopTracer)(nil)
