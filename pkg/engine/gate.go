package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// RationaleDeclined is the rationale of actions the operator declined.
const RationaleDeclined = "operator declined"

// Gate routes risky actions through an approver before they reach the
// executor. Declined actions become skips; declining is never an error.
type Gate struct {
	registry   Registry
	classifier RiskClassifier
	approver   Approver
	logger     zerolog.Logger
}

// NewGate creates a confirmation gate. A nil classifier uses
// DefaultClassifier; a nil approver declines every pending action.
func NewGate(registry Registry, classifier RiskClassifier, approver Approver, logger zerolog.Logger) *Gate {
	if classifier == nil {
		classifier = DefaultClassifier{}
	}
	if approver == nil {
		approver = DeclineAll{}
	}
	return &Gate{
		registry:   registry,
		classifier: classifier,
		approver:   approver,
		logger:     logger.With().Str("component", "gate").Logger(),
	}
}

// Review walks the plan in order and returns a new plan in which every
// declined action is replaced by a skip. The input plan is not modified.
// Only mutating actions are classified.
func (g *Gate) Review(ctx context.Context, plan *Plan) (*Plan, []Review, error) {
	out := &Plan{
		ID:        plan.ID,
		Source:    plan.Source,
		CreatedAt: plan.CreatedAt,
		Actions:   make([]Action, len(plan.Actions)),
	}
	copy(out.Actions, plan.Actions)

	reviews := make([]Review, 0, len(plan.Actions))

	for i, action := range plan.Actions {
		review := Review{Index: i, Decision: DecisionPlanned}

		if !action.Kind.IsMutating() {
			review.Decision = transition(review.Decision, DecisionApproved)
			reviews = append(reviews, review)
			continue
		}

		adapter, err := g.registry.Resolve(action.Directive)
		if err != nil {
			return nil, nil, err
		}
		ref := adapter.Ref()

		risky, reasons, err := g.classifier.Classify(ctx, ref, action)
		if err != nil {
			// Classification errors require confirmation.
			g.logger.Warn().Err(err).Str("resource", ref.String()).Msg("Risk classification failed, requiring confirmation")
			risky = true
			reasons = append(reasons, "risk classification failed: "+err.Error())
		}

		if !risky {
			review.Decision = transition(review.Decision, DecisionApproved)
			reviews = append(reviews, review)
			continue
		}

		review.Risky = true
		review.Reasons = reasons
		review.Decision = transition(review.Decision, DecisionPending)

		approved, err := g.approver.Approve(ctx, ref, action, reasons)
		if err != nil {
			g.logger.Warn().Err(err).Str("resource", ref.String()).Msg("Approval failed, treating as declined")
			approved = false
		}

		if approved {
			review.Decision = transition(review.Decision, DecisionApproved)
		} else {
			review.Decision = transition(review.Decision, DecisionDeclined)
			out.Actions[i] = Action{
				Directive: action.Directive,
				Kind:      ActionSkip,
				Rationale: RationaleDeclined,
				Current:   action.Current,
				Present:   action.Present,
			}
		}

		g.logger.Info().
			Int("index", i).
			Str("resource", ref.String()).
			Str("action", string(action.Kind)).
			Str("decision", string(review.Decision)).
			Msg("Risky action reviewed")

		reviews = append(reviews, review)
	}

	out.Summarize()
	return out, reviews, nil
}

func transition(from, to Decision) Decision {
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("invalid gate transition %s -> %s", from, to))
	}
	return to
}

// DefaultClassifier flags replace and remove actions on access-critical
// resources.
type DefaultClassifier struct{}

// Classify implements RiskClassifier.
func (DefaultClassifier) Classify(_ context.Context, ref ResourceRef, action Action) (bool, []string, error) {
	var reasons []string
	if ref.AccessCritical && action.Kind.IsDestructive() {
		reasons = append(reasons, fmt.Sprintf("%s of %q on access-critical resource %s", action.Kind, action.Directive.Key, ref))
	}
	return len(reasons) > 0, reasons, nil
}

// AutoApprove approves every pending action.
type AutoApprove struct{}

// Approve implements Approver.
func (AutoApprove) Approve(context.Context, ResourceRef, Action, []string) (bool, error) {
	return true, nil
}

// DeclineAll declines every pending action. Used for non-interactive runs.
type DeclineAll struct{}

// Approve implements Approver.
func (DeclineAll) Approve(context.Context, ResourceRef, Action, []string) (bool, error) {
	return false, nil
}
