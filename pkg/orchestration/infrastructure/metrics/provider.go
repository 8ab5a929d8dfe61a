package metrics

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const serviceName = "factweave-orchestrator"

// RegisterTracerProvider installs a global OpenTelemetry tracer provider and
// ties its flush to the application lifecycle. FACTWEAVE_TRACE_EXPORTER
// selects the exporter: "stdout" (default) or "none" to leave the no-op
// global in place.
func RegisterTracerProvider(lc fx.Lifecycle) error {
	kind := os.Getenv("FACTWEAVE_TRACE_EXPORTER")
	if kind == "none" {
		return nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Debugf("OpenTelemetry tracer provider installed (exporter: stdout).")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
