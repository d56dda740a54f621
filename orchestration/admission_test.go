package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/core"
)

func TestAdmission_AdmitsUpToConcurrencyCap(t *testing.T) {
	a := NewAdmission(2, 2, nil, nil)
	ctx := context.Background()

	admitted, err := a.Admit(ctx, "inc-1", nil)
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, err = a.Admit(ctx, "inc-2", nil)
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, 2, a.ActiveCount())
}

func TestAdmission_QueuesPastConcurrencyCap(t *testing.T) {
	a := NewAdmission(1, 2, nil, nil)
	ctx := context.Background()

	admitted, err := a.Admit(ctx, "inc-1", nil)
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, err = a.Admit(ctx, "inc-2", nil)
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, 1, a.BacklogLen())
}

func TestAdmission_RejectsWhenBacklogFull(t *testing.T) {
	a := NewAdmission(1, 1, nil, nil)
	ctx := context.Background()

	_, err := a.Admit(ctx, "inc-1", nil)
	require.NoError(t, err)
	_, err = a.Admit(ctx, "inc-2", nil)
	require.NoError(t, err)

	_, err = a.Admit(ctx, "inc-3", nil)
	assert.ErrorIs(t, err, core.ErrQueueFull)
}

func TestAdmission_RejectsDuplicateAdmission(t *testing.T) {
	a := NewAdmission(2, 2, nil, nil)
	ctx := context.Background()

	_, err := a.Admit(ctx, "inc-1", nil)
	require.NoError(t, err)

	_, err = a.Admit(ctx, "inc-1", nil)
	assert.ErrorIs(t, err, core.ErrAlreadyAdmitted)
}

func TestAdmission_ReleasePromotesOldestBacklogEntry(t *testing.T) {
	a := NewAdmission(1, 2, nil, nil)
	ctx := context.Background()

	_, err := a.Admit(ctx, "inc-1", nil)
	require.NoError(t, err)
	_, err = a.Admit(ctx, "inc-2", []byte(`{"incident_id":"inc-2","severity":"high"}`))
	require.NoError(t, err)
	_, err = a.Admit(ctx, "inc-3", []byte(`{"incident_id":"inc-3","severity":"low"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, a.BacklogLen())

	promoted, payload, ok := a.Release("inc-1")
	assert.True(t, ok)
	assert.Equal(t, "inc-2", promoted)
	assert.Equal(t, []byte(`{"incident_id":"inc-2","severity":"high"}`), payload)
	assert.Equal(t, 1, a.BacklogLen())
	assert.Equal(t, 1, a.ActiveCount())
}

func TestAdmission_ReleaseWithEmptyBacklogPromotesNothing(t *testing.T) {
	a := NewAdmission(2, 2, nil, nil)
	ctx := context.Background()

	_, err := a.Admit(ctx, "inc-1", nil)
	require.NoError(t, err)

	promoted, payload, ok := a.Release("inc-1")
	assert.False(t, ok)
	assert.Empty(t, promoted)
	assert.Nil(t, payload)
	assert.Equal(t, 0, a.ActiveCount())
}
