package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

// InitTracing installs a global tracer provider. The returned function
// flushes and shuts it down.
func InitTracing(opts ...trace.TracerProviderOption) func(context.Context) error {
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
