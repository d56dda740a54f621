// Package approval evaluates proposed remediation actions against a
// declarative rule set and produces an ApprovalDecision, a pure
// function over (actions, severity, confidence, rules) with no
// dependency on any other component.
//
// The rule-matching shape (category pattern, per-severity confidence
// floor, risk cap, resource-scope filter, explicit deny list) is
// grounded on the framework's RuleBasedPolicy in
// orchestration/hitl_policy.go, generalized from LLM routing-plan
// approval to remediation-action approval.
package approval

import (
	"path"
	"time"

	"github.com/sentinelops/orchestrator/clock"
	"github.com/sentinelops/orchestrator/core"
)

// Rule evaluates one class of action. Rules are checked in order;
// the first rule whose CategoryPattern matches an action's Kind wins.
type Rule struct {
	ID               string
	CategoryPattern  string // glob, matched against core.Action.Kind
	MinConfidence    map[core.Severity]float64
	MaxRisk          float64
	DeniedResourceTags []string
	Deny             bool
}

// Config holds the rule set plus the default thresholds applied when a
// matched rule leaves its confidence or risk threshold unset. An action
// that no rule matches is always deferred.
type Config struct {
	Rules                []Rule
	DefaultMinConfidence map[core.Severity]float64
	DefaultMaxRisk       float64
}

// DefaultConfig mirrors spec defaults: HIGH/CRITICAL require 0.85
// confidence, LOW/MEDIUM require 0.70, and the default risk cap is 0.5.
func DefaultConfig() Config {
	return Config{
		DefaultMinConfidence: map[core.Severity]float64{
			core.SeverityLow:      0.70,
			core.SeverityMedium:   0.70,
			core.SeverityHigh:     0.85,
			core.SeverityCritical: 0.85,
		},
		DefaultMaxRisk: 0.5,
	}
}

// Engine evaluates approval decisions.
type Engine struct {
	cfg   Config
	clock clock.Clock
}

// New creates an Engine with the given configuration.
func New(cfg Config, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.DefaultMinConfidence == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg, clock: clk}
}

// Decide evaluates every action and returns a per-action decision slice
// plus the aggregate decision: auto-approved only if every action
// auto-approves, otherwise deferred (a denied action also makes the
// aggregate deferred).
func (e *Engine) Decide(incidentID string, actions []core.Action, severity core.Severity, confidence float64) (per []core.ApprovalDecision, aggregate core.ApprovalDecision) {
	now := e.clock.Now()
	per = make([]core.ApprovalDecision, 0, len(actions))

	anyDenied := false
	anyDeferred := false

	for _, action := range actions {
		d := e.decideOne(incidentID, action, severity, confidence, now)
		per = append(per, d)
		switch d.Outcome {
		case core.ApprovalDenied:
			anyDenied = true
		case core.ApprovalDeferred:
			anyDeferred = true
		}
	}

	switch {
	case anyDenied:
		// A deny-list match on any single action forces the aggregate
		// decision to defer to a human rather than failing outright —
		// the per-action decision still records Denied for audit.
		aggregate = core.ApprovalDecision{
			IncidentID: incidentID,
			Outcome:    core.ApprovalDeferred,
			Reason:     "one or more actions denied, deferring to human",
			DecidedAt:  now,
		}
	case anyDeferred:
		aggregate = core.ApprovalDecision{
			IncidentID: incidentID,
			Outcome:    core.ApprovalDeferred,
			Reason:     "one or more actions deferred to human",
			DecidedAt:  now,
		}
	default:
		aggregate = core.ApprovalDecision{
			IncidentID: incidentID,
			Outcome:    core.ApprovalAutoApproved,
			Reason:     "all actions auto-approved",
			DecidedAt:  now,
		}
	}
	return per, aggregate
}

func (e *Engine) decideOne(incidentID string, action core.Action, severity core.Severity, confidence float64, now time.Time) core.ApprovalDecision {
	rule, matched := e.matchRule(action)

	if matched && rule.Deny {
		return deny(incidentID, rule.ID, "category on deny list", now)
	}

	if !matched {
		// Unknown categories default to defer-to-human.
		return defer_(incidentID, "", "no matching rule for category", now)
	}

	minConfidence := e.cfg.DefaultMinConfidence[severity]
	if rule.MinConfidence != nil {
		if v, ok := rule.MinConfidence[severity]; ok {
			minConfidence = v
		}
	}
	maxRisk := e.cfg.DefaultMaxRisk
	if rule.MaxRisk > 0 {
		maxRisk = rule.MaxRisk
	}

	if confidence < minConfidence {
		return defer_(incidentID, rule.ID, "confidence below required floor", now)
	}
	if action.Risk > maxRisk {
		return defer_(incidentID, rule.ID, "risk exceeds allowed cap", now)
	}
	for _, tag := range action.ResourceTags {
		for _, denied := range rule.DeniedResourceTags {
			if tag == denied {
				return deny(incidentID, rule.ID, "resource carries a denied tag: "+tag, now)
			}
		}
	}
	if action.RequiresApproval {
		return defer_(incidentID, rule.ID, "action explicitly requires approval", now)
	}

	return core.ApprovalDecision{
		IncidentID: incidentID,
		Outcome:    core.ApprovalAutoApproved,
		RuleID:     rule.ID,
		Reason:     "within confidence, risk, and scope limits",
		DecidedAt:  now,
	}
}

func (e *Engine) matchRule(action core.Action) (Rule, bool) {
	for _, r := range e.cfg.Rules {
		if ok, _ := path.Match(r.CategoryPattern, string(action.Kind)); ok {
			return r, true
		}
	}
	return Rule{}, false
}

func deny(incidentID, ruleID, reason string, now time.Time) core.ApprovalDecision {
	return core.ApprovalDecision{IncidentID: incidentID, Outcome: core.ApprovalDenied, RuleID: ruleID, Reason: reason, DecidedAt: now}
}

func defer_(incidentID, ruleID, reason string, now time.Time) core.ApprovalDecision {
	return core.ApprovalDecision{IncidentID: incidentID, Outcome: core.ApprovalDeferred, RuleID: ruleID, Reason: reason, DecidedAt: now}
}
