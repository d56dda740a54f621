package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/core"
)

func TestTransit_HappyPathReachesDetectionReceived(t *testing.T) {
	m := New()
	result, err := m.Transit("inc-1", core.StateInitialized, TriggerDetectionReceived, GuardContext{})
	require.NoError(t, err)
	assert.Equal(t, core.StateDetectionReceived, result.NextState)
	assert.Equal(t, "inc-1", result.Transition.IncidentID)
}

func TestTransit_RejectsUnknownTrigger(t *testing.T) {
	m := New()
	_, err := m.Transit("inc-1", core.StateInitialized, TriggerApproved, GuardContext{})
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestTransit_AutoApproveGuardBlocksWhenApprovalRequired(t *testing.T) {
	m := New()
	_, err := m.Transit("inc-1", core.StateRemediationProposed, TriggerAutoApproved, GuardContext{RequiresApproval: true})
	assert.ErrorIs(t, err, core.ErrGuardFailed)
}

func TestTransit_AutoApproveSucceedsWithoutApprovalRequirement(t *testing.T) {
	m := New()
	result, err := m.Transit("inc-1", core.StateRemediationProposed, TriggerAutoApproved, GuardContext{RequiresApproval: false})
	require.NoError(t, err)
	assert.Equal(t, core.StateRemediationApproved, result.NextState)
}

func TestTransit_AnyNonTerminalStateAcceptsTimeout(t *testing.T) {
	m := New()
	for _, s := range []core.WorkflowState{
		core.StateDetectionReceived, core.StateAnalysisInProgress, core.StateApprovalPending,
	} {
		result, err := m.Transit("inc-1", s, TriggerTimeout, GuardContext{})
		require.NoError(t, err)
		assert.Equal(t, core.StateWorkflowTimeout, result.NextState)
	}
}

func TestTransit_RemediationInProgressTimeoutFailsInsteadOfTimingOut(t *testing.T) {
	m := New()
	result, err := m.Transit("inc-1", core.StateRemediationInProgress, TriggerTimeout, GuardContext{})
	require.NoError(t, err)
	assert.Equal(t, core.StateWorkflowFailed, result.NextState)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(core.StateIncidentClosed))
	assert.True(t, IsTerminal(core.StateWorkflowFailed))
	assert.False(t, IsTerminal(core.StateAnalysisInProgress))
}

func TestCanTransit(t *testing.T) {
	m := New()
	assert.True(t, m.CanTransit(core.StateInitialized, TriggerDetectionReceived))
	assert.False(t, m.CanTransit(core.StateIncidentClosed, TriggerDetectionReceived))
}
