// Package statemachine implements the orchestrator's fifteen-state
// incident workflow as an explicit, guarded transition table — the same
// compile-time-fixed rule-table style this module's circuit breaker and
// step-type enumerations use, rather than a generic graph library.
package statemachine

import (
	"fmt"

	"github.com/sentinelops/orchestrator/core"
)

// Triggers recognized by the transition table.
const (
	TriggerDetectionReceived    core.Trigger = "detection_received"
	TriggerAnalysisRequested    core.Trigger = "analysis_requested"
	TriggerAnalysisStarted      core.Trigger = "analysis_started"
	TriggerAnalysisCompleted    core.Trigger = "analysis_completed"
	TriggerRemediationRequested core.Trigger = "remediation_requested"
	TriggerRemediationProposed  core.Trigger = "remediation_proposed"
	TriggerApprovalRequired     core.Trigger = "approval_required"
	TriggerAutoApproved         core.Trigger = "auto_approved"
	TriggerApproved             core.Trigger = "approved"
	TriggerDenied               core.Trigger = "denied"
	TriggerRemediationStarted   core.Trigger = "remediation_started"
	TriggerRemediationCompleted core.Trigger = "remediation_completed"
	TriggerResolved             core.Trigger = "resolved"
	TriggerClosed               core.Trigger = "closed"
	TriggerTimeout              core.Trigger = "timeout"
	TriggerFail                 core.Trigger = "fail"
)

// GuardContext carries the incident facts a guard evaluates against.
type GuardContext struct {
	Confidence       float64
	RequiresApproval bool
	CumulativeRisk   float64
}

// Result is the outcome of a successful Transit call.
type Result struct {
	Transition core.Transition
	NextState  core.WorkflowState
}

// Guard evaluates whether a transition may proceed given the incident's
// current facts. A guard returning an error blocks the transition with
// core.ErrGuardFailed.
type Guard func(GuardContext) error

type edge struct {
	to    core.WorkflowState
	guard Guard
}

// Machine is the incident workflow's transition table.
type Machine struct {
	table map[core.WorkflowState]map[core.Trigger]edge
}

// New builds the fixed transition table described by the orchestrator's
// state diagram. Every non-terminal state except INITIALIZED,
// REMEDIATION_COMPLETE and INCIDENT_RESOLVED accepts TriggerTimeout and
// TriggerFail: REMEDIATION_IN_PROGRESS sends both to StateWorkflowFailed,
// the others send TriggerTimeout to StateWorkflowTimeout and TriggerFail
// to StateWorkflowFailed. The three terminal states accept nothing further.
func New() *Machine {
	m := &Machine{table: make(map[core.WorkflowState]map[core.Trigger]edge)}

	m.add(core.StateInitialized, TriggerDetectionReceived, core.StateDetectionReceived, nil)
	m.add(core.StateDetectionReceived, TriggerAnalysisRequested, core.StateAnalysisRequested, nil)
	m.add(core.StateAnalysisRequested, TriggerAnalysisStarted, core.StateAnalysisInProgress, nil)
	m.add(core.StateAnalysisInProgress, TriggerAnalysisCompleted, core.StateAnalysisComplete, nil)
	m.add(core.StateAnalysisComplete, TriggerRemediationRequested, core.StateRemediationRequested, nil)
	m.add(core.StateRemediationRequested, TriggerRemediationProposed, core.StateRemediationProposed, nil)

	m.add(core.StateRemediationProposed, TriggerAutoApproved, core.StateRemediationApproved, requireConfidence)
	m.add(core.StateRemediationProposed, TriggerApprovalRequired, core.StateApprovalPending, nil)

	m.add(core.StateApprovalPending, TriggerApproved, core.StateRemediationApproved, nil)
	m.add(core.StateApprovalPending, TriggerDenied, core.StateWorkflowFailed, nil)

	m.add(core.StateRemediationApproved, TriggerRemediationStarted, core.StateRemediationInProgress, nil)
	m.add(core.StateRemediationInProgress, TriggerRemediationCompleted, core.StateRemediationComplete, nil)
	m.add(core.StateRemediationComplete, TriggerResolved, core.StateIncidentResolved, nil)
	m.add(core.StateIncidentResolved, TriggerClosed, core.StateIncidentClosed, nil)

	for _, s := range []core.WorkflowState{
		core.StateDetectionReceived, core.StateAnalysisRequested, core.StateAnalysisInProgress,
		core.StateAnalysisComplete, core.StateRemediationRequested, core.StateRemediationProposed,
		core.StateApprovalPending, core.StateRemediationApproved,
	} {
		m.add(s, TriggerTimeout, core.StateWorkflowTimeout, nil)
		m.add(s, TriggerFail, core.StateWorkflowFailed, nil)
	}

	// REMEDIATION_IN_PROGRESS's hard timeout fails the incident directly
	// instead of routing through WORKFLOW_TIMEOUT: remediation actions may
	// already be half-applied, so the resolution is a failure to remediate,
	// not a wait that simply expired.
	m.add(core.StateRemediationInProgress, TriggerTimeout, core.StateWorkflowFailed, nil)
	m.add(core.StateRemediationInProgress, TriggerFail, core.StateWorkflowFailed, nil)

	return m
}

func requireConfidence(ctx GuardContext) error {
	if ctx.RequiresApproval {
		return fmt.Errorf("%w: action requires human approval", core.ErrGuardFailed)
	}
	return nil
}

func (m *Machine) add(from core.WorkflowState, trigger core.Trigger, to core.WorkflowState, guard Guard) {
	if m.table[from] == nil {
		m.table[from] = make(map[core.Trigger]edge)
	}
	m.table[from][trigger] = edge{to: to, guard: guard}
}

// Transit attempts to move an incident from its current state via
// trigger. It returns core.ErrInvalidTransition if the (state, trigger)
// pair is not in the table, or core.ErrGuardFailed if the pair exists but
// its guard rejects the context.
func (m *Machine) Transit(incidentID string, current core.WorkflowState, trigger core.Trigger, ctx GuardContext) (Result, error) {
	edges, ok := m.table[current]
	if !ok {
		return Result{}, fmt.Errorf("%w: no transitions defined from %s", core.ErrInvalidTransition, current)
	}
	e, ok := edges[trigger]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s does not accept trigger %s", core.ErrInvalidTransition, current, trigger)
	}
	if e.guard != nil {
		if err := e.guard(ctx); err != nil {
			return Result{}, err
		}
	}
	return Result{
		NextState: e.to,
		Transition: core.Transition{
			IncidentID: incidentID,
			From:       current,
			To:         e.to,
			Trigger:    trigger,
		},
	}, nil
}

// CanTransit reports whether trigger is legal from current, without
// evaluating guards.
func (m *Machine) CanTransit(current core.WorkflowState, trigger core.Trigger) bool {
	edges, ok := m.table[current]
	if !ok {
		return false
	}
	_, ok = edges[trigger]
	return ok
}

// IsTerminal reports whether a state accepts no further transitions.
func IsTerminal(s core.WorkflowState) bool {
	switch s {
	case core.StateIncidentClosed, core.StateWorkflowFailed, core.StateWorkflowTimeout:
		return true
	default:
		return false
	}
}
