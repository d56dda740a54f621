package core

import (
	"context"
	"sync"
)

// Telemetry is the optional tracing surface a component may use to wrap
// a unit of work in a span.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents one traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry is the default Telemetry when none is configured.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}

// NoOpSpan is the default Span when none is configured.
type NoOpSpan struct{}

func (NoOpSpan) End()                               {}
func (NoOpSpan) SetAttribute(string, interface{})   {}
func (NoOpSpan) RecordError(error)                  {}

// MetricsRegistry is the telemetry module's injection point into core so
// that orchestration/resilience/approval/etc. can emit metrics without
// importing the telemetry package directly, avoiding a dependency cycle.
// The telemetry package implements this interface and registers itself
// with SetMetricsRegistry during process startup.
type MetricsRegistry interface {
	// Counter increments a counter metric by 1.
	Counter(name string, labels ...string)

	// Gauge sets a gauge metric to a specific value.
	Gauge(name string, value float64, labels ...string)

	// Histogram records a value in a histogram distribution.
	Histogram(name string, value float64, labels ...string)

	// EmitWithContext emits a metric with context for trace correlation.
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
}

var (
	globalMetricsRegistry MetricsRegistry
	metricsMu             sync.RWMutex
)

// SetMetricsRegistry installs the process-wide metrics registry.
func SetMetricsRegistry(registry MetricsRegistry) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetricsRegistry = registry
}

// GetGlobalMetricsRegistry returns the registered MetricsRegistry, or nil
// if telemetry has not initialized yet.
func GetGlobalMetricsRegistry() MetricsRegistry {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetricsRegistry
}

// NoOpMetricsRegistry discards every metric. Components that accept a
// MetricsRegistry via constructor injection fall back to this when both
// the caller and the global registry leave it nil, so they never need to
// nil-check before a Counter/Gauge/Histogram call.
type NoOpMetricsRegistry struct{}

func (NoOpMetricsRegistry) Counter(name string, labels ...string)                             {}
func (NoOpMetricsRegistry) Gauge(name string, value float64, labels ...string)                 {}
func (NoOpMetricsRegistry) Histogram(name string, value float64, labels ...string)             {}
func (NoOpMetricsRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
}
