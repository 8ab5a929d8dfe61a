package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	metrics "github.com/factweave/factweave/pkg/orchestration/core/metrics"
)

const tracerName = "github.com/factweave/factweave/pkg/orchestration"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates an OpenTelemetryTracer from the global
// tracer provider. Exporter wiring is bootstrap's responsibility.
func NewOpenTelemetryTracer() *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: otel.Tracer(tracerName)}
}

// StartSpan starts a span for the named operation.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

// RecordError attaches an error to the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, component string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("component", component)))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
