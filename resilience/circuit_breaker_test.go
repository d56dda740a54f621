package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) *CircuitBreaker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "analysis-agent"
	cfg.VolumeThreshold = 4
	cfg.SleepWindow = 20 * time.Millisecond
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)
	return cb
}

func TestCircuitBreaker_OpensAfterErrorRateExceeded(t *testing.T) {
	cb := newTestBreaker(t)
	ctx := context.Background()
	failing := errors.New("downstream unavailable")

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, func() error { return failing })
	}

	assert.Equal(t, "open", cb.GetState())
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb := newTestBreaker(t)
	cb.ForceOpen()

	err := cb.Execute(context.Background(), func() error { return nil })
	require.Error(t, err)
}

func TestCircuitBreaker_ClosedStateAllowsExecution(t *testing.T) {
	cb := newTestBreaker(t)

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}
