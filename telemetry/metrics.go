package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sentinelops/orchestrator/core"
)

// Sink implements core.MetricsRegistry on top of an OpenTelemetry Meter.
// Admission, the Dispatcher and the workflow Engine accept a
// core.MetricsRegistry and emit through it. Circuit breakers report
// through their own CircuitBreakerConfig.Metrics collector, and the cache,
// batcher, approval engine and recovery policy emit no metrics.
type Sink struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewSink creates a Sink backed by the named OTel meter. Call
// core.SetMetricsRegistry(sink) once during startup so the rest of the
// module can reach it without importing telemetry directly.
func NewSink(meterName string) *Sink {
	return &Sink{
		meter:      otel.Meter(meterName),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func labelsToAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

func (s *Sink) counter(name string) (metric.Int64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, nil
	}
	c, err := s.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("creating counter %s: %w", name, err)
	}
	s.counters[name] = c
	return c, nil
}

func (s *Sink) gauge(name string) (metric.Float64Gauge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, nil
	}
	g, err := s.meter.Float64Gauge(name)
	if err != nil {
		return nil, fmt.Errorf("creating gauge %s: %w", name, err)
	}
	s.gauges[name] = g
	return g, nil
}

func (s *Sink) histogram(name string) (metric.Float64Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, nil
	}
	h, err := s.meter.Float64Histogram(name)
	if err != nil {
		return nil, fmt.Errorf("creating histogram %s: %w", name, err)
	}
	s.histograms[name] = h
	return h, nil
}

// Counter increments a counter metric by 1.
func (s *Sink) Counter(name string, labels ...string) {
	c, err := s.counter(sanitize(name))
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(labelsToAttrs(labels)...))
}

// Gauge sets a gauge metric to a specific value.
func (s *Sink) Gauge(name string, value float64, labels ...string) {
	g, err := s.gauge(sanitize(name))
	if err != nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(labelsToAttrs(labels)...))
}

// Histogram records a value in a histogram distribution.
func (s *Sink) Histogram(name string, value float64, labels ...string) {
	h, err := s.histogram(sanitize(name))
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(labelsToAttrs(labels)...))
}

// EmitWithContext emits a metric with context for trace correlation. It
// treats the value as a histogram observation, the most general shape.
func (s *Sink) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	h, err := s.histogram(sanitize(name))
	if err != nil {
		return
	}
	h.Record(ctx, value, metric.WithAttributes(labelsToAttrs(labels)...))
}

var _ core.MetricsRegistry = (*Sink)(nil)

func sanitize(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}
