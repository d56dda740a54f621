package store

import (
	"context"
	"errors"

	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/resilience"
)

// BreakerErrorClassifier extends resilience.DefaultErrorClassifier to also
// exclude core.ErrPreconditionFailed from the breaker's failure count: a
// version conflict means another writer raced ahead, not that the store is
// unhealthy, so it shouldn't push the breaker toward open.
func BreakerErrorClassifier(err error) bool {
	if errors.Is(err, core.ErrPreconditionFailed) {
		return false
	}
	return resilience.DefaultErrorClassifier(err)
}

// CircuitBreaking wraps a Store so every call runs through a shared
// breaker, isolating the rest of the engine from a struggling backing
// store instead of letting every incident block on it in turn.
type CircuitBreaking struct {
	inner   Store
	breaker *resilience.CircuitBreaker
}

// WithCircuitBreaker decorates inner with breaker.
func WithCircuitBreaker(inner Store, breaker *resilience.CircuitBreaker) *CircuitBreaking {
	return &CircuitBreaking{inner: inner, breaker: breaker}
}

func (c *CircuitBreaking) Get(ctx context.Context, incidentID string) (*core.Incident, error) {
	var incident *core.Incident
	err := c.breaker.Execute(ctx, func() error {
		var innerErr error
		incident, innerErr = c.inner.Get(ctx, incidentID)
		return innerErr
	})
	return incident, err
}

func (c *CircuitBreaking) Save(ctx context.Context, incident *core.Incident, expectedVersion int64) error {
	return c.breaker.Execute(ctx, func() error {
		return c.inner.Save(ctx, incident, expectedVersion)
	})
}

func (c *CircuitBreaking) List(ctx context.Context, state core.WorkflowState) ([]*core.Incident, error) {
	var incidents []*core.Incident
	err := c.breaker.Execute(ctx, func() error {
		var innerErr error
		incidents, innerErr = c.inner.List(ctx, state)
		return innerErr
	})
	return incidents, err
}

func (c *CircuitBreaking) Delete(ctx context.Context, incidentID string) error {
	return c.breaker.Execute(ctx, func() error {
		return c.inner.Delete(ctx, incidentID)
	})
}
