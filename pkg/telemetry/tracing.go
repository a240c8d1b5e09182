// Package telemetry sets up OpenTelemetry tracing for the engine.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dsrkit/dsrkit/internal/build"
)

type TracerOption func(d *tracerConfig)

func WithOTLPEndpoint(endpoint string) TracerOption {
	return func(d *tracerConfig) {
		d.endpoint = endpoint
	}
}

func WithServiceName(serviceName string) TracerOption {
	return func(d *tracerConfig) {
		d.serviceName = serviceName
	}
}

func WithSamplingRatio(samplingRatio float64) TracerOption {
	return func(d *tracerConfig) {
		d.samplingRatio = samplingRatio
	}
}

// WithSlowTraceThreshold only exports traces whose root span took at least d.
// Zero exports every sampled trace.
func WithSlowTraceThreshold(d time.Duration) TracerOption {
	return func(c *tracerConfig) {
		c.slowTraceThreshold = d
	}
}

// WithExporter replaces the OTLP exporter.
func WithExporter(exp sdktrace.SpanExporter) TracerOption {
	return func(c *tracerConfig) {
		c.exporter = exp
	}
}

type tracerConfig struct {
	endpoint           string
	serviceName        string
	samplingRatio      float64
	slowTraceThreshold time.Duration
	exporter           sdktrace.SpanExporter
}

// NewTracerProvider builds a provider exporting over OTLP/gRPC and installs it
// as the global tracer provider together with the W3C propagators.
func NewTracerProvider(ctx context.Context, opts ...TracerOption) (TracerProvider, error) {
	cfg := &tracerConfig{serviceName: "dsrkit"}
	for _, opt := range opts {
		opt(cfg)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(cfg.serviceName),
			semconv.ServiceVersionKey.String(build.Version),
		))
	if err != nil {
		return nil, err
	}

	exp := cfg.exporter
	if exp == nil {
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create the otlp exporter: %w", err)
		}
	}
	if cfg.slowTraceThreshold > 0 {
		exp = NewSlowTraceExporter(exp, cfg.slowTraceThreshold)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.samplingRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp)),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)

	return &tracerProvider{tp: tp}, nil
}

func MustNewTracerProvider(opts ...TracerOption) TracerProvider {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tp, err := NewTracerProvider(ctx, opts...)
	if err != nil {
		panic(err)
	}
	return tp
}

// TraceError marks span as failed with err.
func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
