package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ValueCanonicalizer is implemented by adapters whose values need more than
// whitespace collapsing to compare (e.g. case-insensitive firewall actions).
type ValueCanonicalizer interface {
	CanonicalValue(value string) string
}

// Planner computes one action per directive by comparing the directive with
// the probed state of its resource. Planning never mutates anything.
type Planner struct {
	registry Registry
	prober   *Prober
	logger   zerolog.Logger
}

// NewPlanner creates a new planner.
func NewPlanner(registry Registry, prober *Prober, logger zerolog.Logger) *Planner {
	return &Planner{
		registry: registry,
		prober:   prober,
		logger:   logger.With().Str("component", "planner").Logger(),
	}
}

// Plan validates the directive set, probes each referenced resource once and
// returns the ordered plan. Later directives on a resource are decided
// against its state as projected by the earlier mutating actions. Structural problems are returned as
// invalid_directive errors before anything is probed. Unreachable resources
// do not fail the plan: their actions are skips marked Unavailable.
func (p *Planner) Plan(ctx context.Context, set DirectiveSet) (*Plan, error) {
	if err := ValidateDirectives(set, p.registry); err != nil {
		return nil, err
	}

	states := make(map[string]State)
	probeErrs := make(map[string]error)

	plan := &Plan{
		ID:        uuid.New().String(),
		Source:    set.Source,
		CreatedAt: time.Now().UTC(),
		Actions:   make([]Action, 0, len(set.Directives)),
	}

	for _, d := range set.Directives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		adapter, err := p.registry.Resolve(d)
		if err != nil {
			return nil, err
		}
		name := adapter.Ref().Name

		state, probed := states[name]
		probeErr := probeErrs[name]
		if !probed && probeErr == nil {
			state, probeErr = p.prober.Probe(ctx, adapter)
			if probeErr != nil {
				probeErrs[name] = probeErr
				p.logger.Warn().Err(probeErr).Str("resource", name).Msg("Resource unavailable, its directives will be skipped")
			} else {
				states[name] = state
			}
		}

		if probeErr != nil {
			plan.Actions = append(plan.Actions, Action{
				Directive:   d,
				Kind:        ActionSkip,
				Rationale:   "resource unavailable: " + probeErr.Error(),
				Unavailable: true,
			})
			continue
		}

		action := Decide(adapter, state, d)
		if action.Kind.IsMutating() {
			states[name] = Project(adapter, state, action)
		}
		plan.Actions = append(plan.Actions, action)
	}

	plan.Summarize()

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Int("actions", plan.Summary.Total).
		Int("changes", plan.Summary.Add+plan.Summary.Replace+plan.Summary.Remove).
		Msg("Plan computed")

	return plan, nil
}

// Decide returns the action for a single directive against a probed state.
// It is a pure function of its inputs.
func Decide(adapter Adapter, state State, d Directive) Action {
	key := adapter.CanonicalKey(d.Key)
	current, present := state.Lookup(key)

	action := Action{
		Directive: d,
		Current:   current,
		Present:   present,
	}

	switch {
	case d.IsRemoval() && present:
		action.Kind = ActionRemove
		action.Rationale = fmt.Sprintf("%q is present (%q) and must be removed", key, current)
	case d.IsRemoval():
		action.Kind = ActionSkip
		action.Rationale = fmt.Sprintf("%q is already absent", key)
	case !present:
		action.Kind = ActionAdd
		action.Rationale = fmt.Sprintf("%q is absent", key)
	case d.Match == MatchPresence:
		action.Kind = ActionSkip
		action.Rationale = fmt.Sprintf("%q is present", key)
	case canonicalValue(adapter, d.Value) == current:
		action.Kind = ActionSkip
		action.Rationale = fmt.Sprintf("%q already has the desired value", key)
	default:
		action.Kind = ActionReplace
		action.Rationale = fmt.Sprintf("%q is %q, want %q", key, current, canonicalValue(adapter, d.Value))
	}

	if guard, ok := adapter.(Guard); ok && action.Kind.IsMutating() {
		if reason, blocked := guard.Precondition(state, d); blocked {
			action.Kind = ActionAbort
			action.Rationale = reason
		}
	}

	return action
}

// Project returns a copy of state with the effect of a mutating action
// applied to it. The input state is not modified.
func Project(adapter Adapter, state State, action Action) State {
	projected := make(State, len(state)+1)
	for k, v := range state {
		projected[k] = v
	}

	key := adapter.CanonicalKey(action.Directive.Key)
	switch action.Kind {
	case ActionAdd, ActionReplace:
		projected[key] = canonicalValue(adapter, action.Directive.Value)
	case ActionRemove:
		delete(projected, key)
	}
	return projected
}

// CanonicalValue normalizes a desired value the way the adapter normalizes
// probed values.
func CanonicalValue(adapter Adapter, value string) string {
	return canonicalValue(adapter, value)
}

func canonicalValue(adapter Adapter, value string) string {
	if vc, ok := adapter.(ValueCanonicalizer); ok {
		return vc.CanonicalValue(value)
	}
	return CollapseSpace(value)
}

// CollapseSpace trims a value and collapses internal whitespace runs to a
// single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ValidateDirectives checks a directive set for structural errors: invalid
// enums, missing fields, unknown resources, kind mismatches and two
// directives on the same canonical key of the same resource.
func ValidateDirectives(set DirectiveSet, registry Registry) error {
	seen := make(map[string]int, len(set.Directives))

	for i, d := range set.Directives {
		pos := fmt.Sprintf("directive %d", i+1)

		if err := d.Kind.Validate(); err != nil {
			return NewDirectiveError(pos, err)
		}
		if err := d.Match.Validate(); err != nil {
			return NewDirectiveError(pos, err)
		}
		if err := d.Ensure.Validate(); err != nil {
			return NewDirectiveError(pos, err)
		}
		if strings.TrimSpace(d.Key) == "" {
			return NewDirectiveError(pos+": key is required", nil)
		}
		if d.Ensure == EnsurePresent && d.Match == MatchExact && strings.TrimSpace(d.Value) == "" {
			return NewDirectiveError(pos+": value is required for an exact match", nil)
		}

		adapter, err := registry.Resolve(d)
		if err != nil {
			return NewDirectiveError(pos, err).WithResource(d.Resource)
		}
		ref := adapter.Ref()
		if ref.Kind != d.Kind {
			return NewDirectiveError(
				fmt.Sprintf("%s: resource %q is a %s, not a %s", pos, ref.Name, ref.Kind, d.Kind), nil,
			).WithResource(ref.Name)
		}

		id := ref.Name + "\x00" + adapter.CanonicalKey(d.Key)
		if prev, dup := seen[id]; dup {
			return NewDirectiveError(
				fmt.Sprintf("%s: duplicates directive %d on key %q", pos, prev+1, adapter.CanonicalKey(d.Key)), nil,
			).WithResource(ref.Name).WithCode(ErrCodeDuplicate)
		}
		seen[id] = i
	}

	return nil
}
