package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuildsAllFiveNamedDependencies(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	for _, name := range []string{
		DependencyAnalysisAgent,
		DependencyRemediationAgent,
		DependencyCommunicationChannel,
		DependencyStore,
		DependencyBus,
	} {
		assert.NotNil(t, r.Get(name), "expected a breaker for %s", name)
	}
}

func TestRegistry_GetUnknownNameReturnsNil(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.Nil(t, r.Get("not_a_dependency"))
}

func TestRegistry_PerDependencyConfigIsIsolated(t *testing.T) {
	r, err := NewRegistry(func(name string) *CircuitBreakerConfig {
		cfg := DefaultConfig()
		cfg.VolumeThreshold = 2
		cfg.SleepWindow = 10 * time.Millisecond
		return cfg
	})
	require.NoError(t, err)
	ctx := context.Background()
	failing := errors.New("downstream unavailable")

	analysis := r.Get(DependencyAnalysisAgent)
	for i := 0; i < 2; i++ {
		_ = analysis.Execute(ctx, func() error { return failing })
	}
	assert.Equal(t, "open", analysis.GetState())

	remediation := r.Get(DependencyRemediationAgent)
	assert.Equal(t, "closed", remediation.GetState())
}

func TestRegistry_Snapshot(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	snap := r.Snapshot()
	assert.Len(t, snap, 5)
	assert.Contains(t, snap, DependencyStore)
}

func TestRegistry_ResetClearsNamedBreaker(t *testing.T) {
	r, err := NewRegistry(func(name string) *CircuitBreakerConfig {
		cfg := DefaultConfig()
		cfg.VolumeThreshold = 1
		return cfg
	})
	require.NoError(t, err)
	ctx := context.Background()
	failing := errors.New("downstream unavailable")

	store := r.Get(DependencyStore)
	_ = store.Execute(ctx, func() error { return failing })
	require.Equal(t, "open", store.GetState())

	assert.True(t, r.Reset(DependencyStore))
	assert.Equal(t, "closed", store.GetState())
}

func TestRegistry_ResetUnknownNameReturnsFalse(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.False(t, r.Reset("not_a_dependency"))
}
