package bus

import (
	"context"
	"time"

	"github.com/sentinelops/orchestrator/resilience"
)

// CircuitBreaking wraps a Bus so every Publish/Receive runs through a
// single shared breaker. Use DependencyRouting instead when distinct
// topics should fail independently of one another.
type CircuitBreaking struct {
	inner   Bus
	breaker *resilience.CircuitBreaker
}

// WithCircuitBreaker decorates inner with breaker.
func WithCircuitBreaker(inner Bus, breaker *resilience.CircuitBreaker) *CircuitBreaking {
	return &CircuitBreaking{inner: inner, breaker: breaker}
}

func (c *CircuitBreaking) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.breaker.Execute(ctx, func() error {
		return c.inner.Publish(ctx, topic, payload)
	})
}

func (c *CircuitBreaking) Receive(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	var msg *Message
	err := c.breaker.Execute(ctx, func() error {
		var innerErr error
		msg, innerErr = c.inner.Receive(ctx, topic, timeout)
		return innerErr
	})
	return msg, err
}

func (c *CircuitBreaking) Close() error {
	return c.inner.Close()
}

// DependencyRouting wraps a Bus and picks a breaker per topic instead of
// sharing one breaker across the whole transport: the analysis agent,
// remediation agent, and communication channel each publish on their own
// topic and each can fail independently even though they share one
// underlying transport. classify maps a topic to a dependency name in
// registry; topics it doesn't recognize fall back to the registry's
// DependencyBus breaker.
type DependencyRouting struct {
	inner    Bus
	registry *resilience.Registry
	classify func(topic string) string
}

// NewDependencyRouting builds a DependencyRouting over inner using
// registry's breakers, routed by classify.
func NewDependencyRouting(inner Bus, registry *resilience.Registry, classify func(topic string) string) *DependencyRouting {
	return &DependencyRouting{inner: inner, registry: registry, classify: classify}
}

func (d *DependencyRouting) breakerFor(topic string) *resilience.CircuitBreaker {
	name := resilience.DependencyBus
	if d.classify != nil {
		if mapped := d.classify(topic); mapped != "" {
			name = mapped
		}
	}
	if cb := d.registry.Get(name); cb != nil {
		return cb
	}
	return d.registry.Get(resilience.DependencyBus)
}

func (d *DependencyRouting) Publish(ctx context.Context, topic string, payload []byte) error {
	return d.breakerFor(topic).Execute(ctx, func() error {
		return d.inner.Publish(ctx, topic, payload)
	})
}

func (d *DependencyRouting) Receive(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	var msg *Message
	err := d.breakerFor(topic).Execute(ctx, func() error {
		var innerErr error
		msg, innerErr = d.inner.Receive(ctx, topic, timeout)
		return innerErr
	})
	return msg, err
}

func (d *DependencyRouting) Close() error {
	return d.inner.Close()
}
