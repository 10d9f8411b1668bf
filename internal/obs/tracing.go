package obs

import (
	"context"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingOptions selects the span exporter. An empty Endpoint with a nil Writer disables export.
type TracingOptions struct {
	Service  string
	Version  string
	Endpoint string
	Writer   io.Writer
}

// InitTracing installs a global tracer provider and W3C propagation.
// The returned func flushes and shuts the provider down.
func InitTracing(ctx context.Context, opts TracingOptions) (func(context.Context) error, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch {
	case opts.Endpoint != "":
		endpoint := strings.TrimPrefix(strings.TrimPrefix(opts.Endpoint, "http://"), "https://")
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case opts.Writer != nil:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(opts.Writer), stdouttrace.WithoutTimestamps())
	default:
		otel.SetTextMapPropagator(propagation.TraceContext{})
		return func(context.Context) error { return nil }, nil
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.Service),
			attribute.String("service.version", opts.Version),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Logger().Info("tracing enabled", zap.String("endpoint", opts.Endpoint))
	return tp.Shutdown, nil
}

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
