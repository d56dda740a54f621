package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/resilience"
)

func newTestRegistry(t *testing.T) *resilience.Registry {
	t.Helper()
	r, err := resilience.NewRegistry(func(name string) *resilience.CircuitBreakerConfig {
		cfg := resilience.DefaultConfig()
		cfg.VolumeThreshold = 2
		cfg.SleepWindow = 10 * time.Millisecond
		return cfg
	})
	require.NoError(t, err)
	return r
}

func TestDependencyRouting_RoutesTopicsToDistinctBreakers(t *testing.T) {
	registry := newTestRegistry(t)
	b := NewInMemory()
	routed := NewDependencyRouting(b, registry, func(topic string) string {
		switch topic {
		case "analyze_incident":
			return resilience.DependencyAnalysisAgent
		case "execute_remediation":
			return resilience.DependencyRemediationAgent
		default:
			return resilience.DependencyBus
		}
	})
	ctx := context.Background()

	require.NoError(t, routed.Publish(ctx, "analyze_incident", []byte("x")))
	msg, err := routed.Receive(ctx, "analyze_incident", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "closed", registry.Get(resilience.DependencyAnalysisAgent).GetState())
	assert.Equal(t, "closed", registry.Get(resilience.DependencyRemediationAgent).GetState())
}

func TestDependencyRouting_UnroutedTopicFallsBackToBusBreaker(t *testing.T) {
	registry := newTestRegistry(t)
	b := NewInMemory()
	routed := NewDependencyRouting(b, registry, func(topic string) string { return "" })
	ctx := context.Background()

	require.NoError(t, routed.Publish(ctx, "new_incident", []byte("x")))
	assert.Equal(t, "closed", registry.Get(resilience.DependencyBus).GetState())
}

func TestDependencyRouting_OneDependencyOpeningDoesNotAffectAnother(t *testing.T) {
	registry := newTestRegistry(t)
	failing := &alwaysFailBus{err: core.ErrUnrecoverable}
	routed := NewDependencyRouting(failing, registry, func(topic string) string {
		if topic == "analyze_incident" {
			return resilience.DependencyAnalysisAgent
		}
		return resilience.DependencyRemediationAgent
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = routed.Publish(ctx, "analyze_incident", []byte("x"))
	}
	err := routed.Publish(ctx, "analyze_incident", []byte("x"))
	assert.ErrorIs(t, err, core.ErrCircuitOpen)

	err = routed.Publish(ctx, "execute_remediation", []byte("x"))
	assert.ErrorIs(t, err, core.ErrUnrecoverable)
}

type alwaysFailBus struct{ err error }

func (a *alwaysFailBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return a.err
}
func (a *alwaysFailBus) Receive(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	return nil, a.err
}
func (a *alwaysFailBus) Close() error { return nil }
