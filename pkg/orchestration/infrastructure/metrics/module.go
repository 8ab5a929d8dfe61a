package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/factweave/factweave/pkg/orchestration/core/metrics"
)

// Module provides the Prometheus recorder and the OpenTelemetry tracer as the
// concrete metrics implementations.
var Module = fx.Options(
	fx.Provide(
		NewPrometheusRecorder,
		func(r *PrometheusRecorder) metrics.MetricRecorder { return r },
		fx.Annotate(
			NewOpenTelemetryTracer,
			fx.As(new(metrics.Tracer)),
		),
	),
	fx.Invoke(RegisterTracerProvider),
)
