package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelops/orchestrator/clock"
	"github.com/sentinelops/orchestrator/core"
)

func testEngine() *Engine {
	cfg := DefaultConfig()
	cfg.Rules = []Rule{
		{ID: "block-ip", CategoryPattern: "block-ip", MaxRisk: 0.6},
		{ID: "isolate-host", CategoryPattern: "isolate-*", MaxRisk: 0.3},
		{ID: "revoke-admin", CategoryPattern: "revoke-credentials", Deny: true},
	}
	return New(cfg, clock.NewFake(time.Unix(0, 0)))
}

func TestEngine_AutoApprovesWithinLimits(t *testing.T) {
	e := testEngine()
	actions := []core.Action{{Kind: "block-ip", Risk: 0.2}}

	per, agg := e.Decide("inc-1", actions, core.SeverityMedium, 0.9)
	assert.Equal(t, core.ApprovalAutoApproved, per[0].Outcome)
	assert.Equal(t, core.ApprovalAutoApproved, agg.Outcome)
}

func TestEngine_DefersOnLowConfidence(t *testing.T) {
	e := testEngine()
	actions := []core.Action{{Kind: "block-ip", Risk: 0.1}}

	per, agg := e.Decide("inc-1", actions, core.SeverityHigh, 0.5)
	assert.Equal(t, core.ApprovalDeferred, per[0].Outcome)
	assert.Equal(t, core.ApprovalDeferred, agg.Outcome)
}

func TestEngine_DefersOnExcessRisk(t *testing.T) {
	e := testEngine()
	actions := []core.Action{{Kind: "isolate-host", Risk: 0.9}}

	per, _ := e.Decide("inc-1", actions, core.SeverityMedium, 0.9)
	assert.Equal(t, core.ApprovalDeferred, per[0].Outcome)
}

func TestEngine_DeniesExplicitDenyList(t *testing.T) {
	e := testEngine()
	actions := []core.Action{{Kind: "revoke-credentials", Risk: 0.1}}

	per, agg := e.Decide("inc-1", actions, core.SeverityLow, 0.99)
	assert.Equal(t, core.ApprovalDenied, per[0].Outcome)
	assert.Equal(t, core.ApprovalDeferred, agg.Outcome)
}

func TestEngine_UnknownCategoryDefersToHuman(t *testing.T) {
	e := testEngine()
	actions := []core.Action{{Kind: "unknown-category", Risk: 0.1}}

	per, _ := e.Decide("inc-1", actions, core.SeverityMedium, 0.99)
	assert.Equal(t, core.ApprovalDeferred, per[0].Outcome)
}

func TestEngine_AggregateDefersIfAnyActionDenied(t *testing.T) {
	e := testEngine()
	actions := []core.Action{
		{Kind: "block-ip", Risk: 0.1},
		{Kind: "revoke-credentials", Risk: 0.1},
	}

	_, agg := e.Decide("inc-1", actions, core.SeverityLow, 0.99)
	assert.Equal(t, core.ApprovalDeferred, agg.Outcome)
}

func TestEngine_DeniedResourceTagOverridesOtherwiseValidAction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = []Rule{
		{ID: "block-ip", CategoryPattern: "block-ip", MaxRisk: 0.6, DeniedResourceTags: []string{"critical"}},
	}
	e := New(cfg, clock.NewFake(time.Unix(0, 0)))

	actions := []core.Action{{Kind: "block-ip", Risk: 0.1, ResourceTags: []string{"critical"}}}
	per, _ := e.Decide("inc-1", actions, core.SeverityLow, 0.99)
	assert.Equal(t, core.ApprovalDenied, per[0].Outcome)
}
