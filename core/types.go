package core

import "time"

// WorkflowState is one of the fifteen states an incident workflow can
// occupy. Transitions between states are owned by the statemachine
// package; core only names them so every package can refer to the same
// vocabulary.
type WorkflowState string

const (
	StateInitialized          WorkflowState = "INITIALIZED"
	StateDetectionReceived    WorkflowState = "DETECTION_RECEIVED"
	StateAnalysisRequested    WorkflowState = "ANALYSIS_REQUESTED"
	StateAnalysisInProgress   WorkflowState = "ANALYSIS_IN_PROGRESS"
	StateAnalysisComplete     WorkflowState = "ANALYSIS_COMPLETE"
	StateRemediationRequested WorkflowState = "REMEDIATION_REQUESTED"
	StateRemediationProposed  WorkflowState = "REMEDIATION_PROPOSED"
	StateApprovalPending      WorkflowState = "APPROVAL_PENDING"
	StateRemediationApproved  WorkflowState = "REMEDIATION_APPROVED"
	StateRemediationInProgress WorkflowState = "REMEDIATION_IN_PROGRESS"
	StateRemediationComplete  WorkflowState = "REMEDIATION_COMPLETE"
	StateIncidentResolved     WorkflowState = "INCIDENT_RESOLVED"
	StateIncidentClosed       WorkflowState = "INCIDENT_CLOSED"
	StateWorkflowFailed       WorkflowState = "WORKFLOW_FAILED"
	StateWorkflowTimeout      WorkflowState = "WORKFLOW_TIMEOUT"
)

// Severity classifies an incident's reported impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Incident is the root aggregate the orchestrator tracks end to end.
type Incident struct {
	ID               string                 `json:"id"`
	State            WorkflowState          `json:"state"`
	Severity         Severity               `json:"severity"`
	Source           string                 `json:"source"`
	Resource         string                 `json:"resource"`
	Confidence       float64                `json:"confidence"`
	Risk             float64                `json:"risk"`
	Detected         time.Time              `json:"detected"`
	Deadline         time.Time              `json:"deadline"`
	ProposedActions  []Action               `json:"proposed_actions,omitempty"`
	ExecutedActions  []string               `json:"executed_actions,omitempty"` // idempotency keys already executed
	ResolutionReason string                 `json:"resolution_reason,omitempty"`
	Owner            string                 `json:"owner,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Version          int64                  `json:"version"`
}

// Trigger names an event that may cause a workflow transition.
type Trigger string

// Transition records one state change of an incident's workflow.
type Transition struct {
	IncidentID string        `json:"incident_id"`
	From       WorkflowState `json:"from"`
	To         WorkflowState `json:"to"`
	Trigger    Trigger       `json:"trigger"`
	At         time.Time     `json:"at"`
	Reason     string        `json:"reason,omitempty"`
}

// ActionKind names the category of a proposed remediation action.
type ActionKind string

// Action describes one unit of remediation work.
type Action struct {
	ID               string                 `json:"id"`
	IncidentID       string                 `json:"incident_id"`
	Kind             ActionKind             `json:"kind"`
	Resource         string                 `json:"resource"`
	ResourceTags     []string               `json:"resource_tags,omitempty"`
	Risk             float64                `json:"risk"`
	RequiresApproval bool                   `json:"requires_approval"`
	DryRun           bool                   `json:"dry_run"`
	IdempotencyKey   string                 `json:"idempotency_key"`
	Params           map[string]interface{} `json:"params,omitempty"`
}

// ApprovalOutcome is the verdict an approval evaluation reaches for one
// action or for an aggregate of actions.
type ApprovalOutcome string

const (
	ApprovalAutoApproved ApprovalOutcome = "auto_approved"
	ApprovalDenied       ApprovalOutcome = "denied"
	ApprovalDeferred     ApprovalOutcome = "deferred_to_human"
)

// ApprovalDecision is the recorded result of evaluating one or more
// actions against the approval rule set.
type ApprovalDecision struct {
	IncidentID string          `json:"incident_id"`
	Outcome    ApprovalOutcome `json:"outcome"`
	RuleID     string          `json:"rule_id,omitempty"`
	Reason     string          `json:"reason"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// AuditEntry is one record chained two independent ways: PrevHash/Hash
// link it into the single global append-order chain, and
// IncidentPrevHash/IncidentHash link it into incidentID's own chain, so
// an incident's sub-log can be verified on its own without the rest of
// the global chain.
type AuditEntry struct {
	Sequence         int64     `json:"sequence"`
	IncidentID       string    `json:"incident_id"`
	Kind             string    `json:"kind"`
	Payload          []byte    `json:"payload"`
	PrevHash         []byte    `json:"prev_hash"`
	Hash             []byte    `json:"hash"`
	IncidentPrevHash []byte    `json:"incident_prev_hash"`
	IncidentHash     []byte    `json:"incident_hash"`
	Signature        []byte    `json:"signature,omitempty"`
	At               time.Time `json:"at"`
}

// CacheEntry is a single cached, read-only derived artifact.
type CacheEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CircuitPhase names one of the three circuit breaker states.
type CircuitPhase string

const (
	CircuitClosed   CircuitPhase = "closed"
	CircuitOpen     CircuitPhase = "open"
	CircuitHalfOpen CircuitPhase = "half_open"
)

// CircuitState is a snapshot of a named circuit breaker's condition.
type CircuitState struct {
	Name        string       `json:"name"`
	Phase       CircuitPhase `json:"phase"`
	ErrorRate   float64      `json:"error_rate"`
	OpenedAt    time.Time    `json:"opened_at,omitempty"`
	NextProbeAt time.Time    `json:"next_probe_at,omitempty"`
}

// ErrorKind classifies a failure for the recovery policy.
type ErrorKind string

const (
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindPrecondition  ErrorKind = "precondition"
	ErrorKindCircuitOpen   ErrorKind = "circuit_open"
	ErrorKindUnrecoverable ErrorKind = "unrecoverable"
)
