package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func criticalSSHD(entries ...kv) *fakeFileAdapter {
	a := newFakeAdapter("sshd", KindFileBlock, entries...)
	a.ref.AccessCritical = true
	return &fakeFileAdapter{fakeAdapter: a}
}

func TestGate_DeclineSafety(t *testing.T) {
	sshd := criticalSSHD(kv{"PasswordAuthentication", "yes"})
	h := newHarness(sshd)
	gate := NewGate(h.registry, nil, DeclineAll{}, zerolog.Nop())

	plan, err := h.planner.Plan(context.Background(), DirectiveSet{Directives: []Directive{
		fileKey("PasswordAuthentication", "no"),
	}})
	require.NoError(t, err)
	require.Equal(t, ActionReplace, plan.Actions[0].Kind)

	reviewed, reviews, err := gate.Review(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.True(t, reviews[0].Risky)
	assert.Equal(t, DecisionDeclined, reviews[0].Decision)

	assert.Equal(t, ActionSkip, reviewed.Actions[0].Kind)
	assert.Equal(t, RationaleDeclined, reviewed.Actions[0].Rationale)
	assert.Equal(t, ActionReplace, plan.Actions[0].Kind, "input plan is not modified")
	assert.True(t, plan.HasChanges())
	assert.False(t, reviewed.HasChanges(), "a declined plan changes nothing")

	entries, err := h.executor.Execute(context.Background(), reviewed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, entries[0].Outcome)
	assert.Equal(t, RationaleDeclined, entries[0].Detail)
	assert.Zero(t, sshd.applies)
	assert.Equal(t, "PasswordAuthentication=yes\n", sshd.render())
}

func TestGate_ApprovedPassesThrough(t *testing.T) {
	sshd := criticalSSHD(kv{"PasswordAuthentication", "yes"})
	h := newHarness(sshd)
	gate := NewGate(h.registry, nil, AutoApprove{}, zerolog.Nop())

	plan, err := h.planner.Plan(context.Background(), DirectiveSet{Directives: []Directive{
		fileKey("PasswordAuthentication", "no"),
	}})
	require.NoError(t, err)

	reviewed, reviews, err := gate.Review(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, reviews[0].Decision)
	assert.True(t, plan.Equivalent(reviewed))
}

func TestGate_NonRiskyActionsAreNotPrompted(t *testing.T) {
	sshd := criticalSSHD()
	fw := newFakeAdapter("firewall", KindRule, kv{"25/tcp", "allow"})
	h := newHarness(sshd, fw)

	prompted := 0
	approver := funcApprover(func(ResourceRef, Action) (bool, error) {
		prompted++
		return false, nil
	})
	gate := NewGate(h.registry, nil, approver, zerolog.Nop())

	plan, err := h.planner.Plan(context.Background(), DirectiveSet{Directives: []Directive{
		fileKey("PasswordAuthentication", "no"), // add on critical: not destructive
		absent(rule("25/tcp", "")),              // remove on non-critical
		rule("80/tcp", "allow"),
	}})
	require.NoError(t, err)

	reviewed, reviews, err := gate.Review(context.Background(), plan)
	require.NoError(t, err)
	assert.Zero(t, prompted)
	assert.True(t, plan.Equivalent(reviewed))
	for _, r := range reviews {
		assert.False(t, r.Risky)
		assert.Equal(t, DecisionApproved, r.Decision)
	}
}

func TestGate_ApproverErrorDeclines(t *testing.T) {
	sshd := criticalSSHD(kv{"X11Forwarding", "yes"})
	h := newHarness(sshd)
	approver := funcApprover(func(ResourceRef, Action) (bool, error) {
		return true, errors.New("EOF")
	})
	gate := NewGate(h.registry, nil, approver, zerolog.Nop())

	plan, err := h.planner.Plan(context.Background(), DirectiveSet{Directives: []Directive{
		absent(fileKey("X11Forwarding", "")),
	}})
	require.NoError(t, err)

	reviewed, reviews, err := gate.Review(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeclined, reviews[0].Decision)
	assert.Equal(t, ActionSkip, reviewed.Actions[0].Kind)
}

func TestGate_ClassifierErrorRequiresConfirmation(t *testing.T) {
	fw := newFakeAdapter("firewall", KindRule)
	h := newHarness(fw)
	classifier := funcClassifier(func(ResourceRef, Action) (bool, []string, error) {
		return false, nil, errors.New("policy compile error")
	})

	var seen []Action
	approver := funcApprover(func(_ ResourceRef, a Action) (bool, error) {
		seen = append(seen, a)
		return true, nil
	})
	gate := NewGate(h.registry, classifier, approver, zerolog.Nop())

	plan, err := h.planner.Plan(context.Background(), DirectiveSet{Directives: []Directive{rule("22/tcp", "allow")}})
	require.NoError(t, err)

	_, reviews, err := gate.Review(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, seen, 1)
	assert.True(t, reviews[0].Risky)
	assert.Contains(t, reviews[0].Reasons[0], "policy compile error")
}

func TestDecision_Transitions(t *testing.T) {
	assert.True(t, DecisionPlanned.CanTransition(DecisionPending))
	assert.True(t, DecisionPlanned.CanTransition(DecisionApproved))
	assert.False(t, DecisionPlanned.CanTransition(DecisionDeclined))
	assert.True(t, DecisionPending.CanTransition(DecisionApproved))
	assert.True(t, DecisionPending.CanTransition(DecisionDeclined))
	assert.False(t, DecisionApproved.CanTransition(DecisionDeclined))
	assert.False(t, DecisionDeclined.CanTransition(DecisionApproved))
	assert.True(t, DecisionDeclined.IsTerminal())
}
