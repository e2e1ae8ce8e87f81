package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name on every exported span.
const ServiceName = "quiz-battle"

// Config selects where spans go. An empty Endpoint keeps the global no-op provider.
type Config struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Setup installs a global tracer provider exporting over OTLP/gRPC and returns
// its shutdown func, which flushes pending spans.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	provider := NewProvider(sdktrace.WithBatcher(exporter), cfg.SampleRatio)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// NewProvider builds a provider around a span processor option, sampling
// ratio of root spans (0 or above 1 means sample everything).
func NewProvider(processor sdktrace.TracerProviderOption, ratio float64) *sdktrace.TracerProvider {
	sampler := sdktrace.AlwaysSample()
	if ratio > 0 && ratio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
	)
}
