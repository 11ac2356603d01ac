package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"issue-notifications/shared/config"
)

type TracerConfig struct {
	ServiceName string
	Env         string
	Version     string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// FromConfig maps the shared config onto TracerConfig. Tracing is off
// unless OTEL_ENABLED is set.
func FromConfig(cfg config.Config, version string) TracerConfig {
	tc := TracerConfig{
		ServiceName: cfg.ServiceName,
		Env:         cfg.Env,
		Version:     version,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	}
	if cfg.OtelEnabled {
		tc.Endpoint = cfg.OtelEndpoint
	}
	return tc
}

func noop(context.Context) error { return nil }

func InitTracer(ctx context.Context, cfg TracerConfig) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if cfg.Endpoint == "" {
		return noop, nil
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName), semconv.DeploymentEnvironment(cfg.Env)}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
