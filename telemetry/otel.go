package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinelops/orchestrator/core"
)

// Provider wires OpenTelemetry tracing and metrics into the process. It
// implements core.Telemetry and owns the lifetime of both providers.
//
// With an empty OTLP endpoint it exports to stdout, suitable for local
// development; with an endpoint set it exports traces via OTLP/gRPC and
// metrics via OTLP/HTTP.
type Provider struct {
	tracer         trace.Tracer
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu       sync.Mutex
	shutdown bool
}

// NewProvider creates a Provider for serviceName, exporting to endpoint
// (traces over OTLP/gRPC, metrics over OTLP/HTTP) when non-empty, or to
// stdout otherwise.
func NewProvider(ctx context.Context, serviceName, endpoint string) (*Provider, error) {
	res := resource.Default()

	traceProvider, err := newTraceProvider(ctx, endpoint, res)
	if err != nil {
		return nil, fmt.Errorf("creating trace provider: %w", err)
	}

	metricProvider, err := newMetricProvider(ctx, endpoint, res)
	if err != nil {
		return nil, fmt.Errorf("creating metric provider: %w", err)
	}

	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(metricProvider)

	return &Provider{
		tracer:         traceProvider.Tracer(serviceName),
		traceProvider:  traceProvider,
		metricProvider: metricProvider,
	}, nil
}

func newTraceProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	if endpoint != "" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newMetricProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var reader sdkmetric.Reader
	if endpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))
	} else {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

// StartSpan implements core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, otelSpan{span}
}

type otelSpan struct{ trace.Span }

func (s otelSpan) SetAttribute(key string, value interface{}) {
	s.Span.SetAttributes(attributeFor(key, value))
}

func (s otelSpan) RecordError(err error) {
	if err != nil {
		s.Span.RecordError(err)
	}
}

// Shutdown flushes and stops both providers. Safe to call once.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil
	}
	p.shutdown = true

	if err := p.traceProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down trace provider: %w", err)
	}
	if err := p.metricProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down metric provider: %w", err)
	}
	return nil
}

// Meter returns the global meter used to build a Sink.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

func attributeFor(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
