package engine

import (
	"encoding/json"
	"fmt"
)

// ResourceKind is the category of system configuration a directive targets.
type ResourceKind string

const (
	// KindRule is a packet-filter rule table entry (e.g. "22/tcp" -> "allow").
	KindRule ResourceKind = "rule"

	// KindFileBlock is a key inside a structured text file (e.g. sshd_config).
	KindFileBlock ResourceKind = "file_block"

	// KindJob is an entry in a scheduled-job table (crontab).
	KindJob ResourceKind = "job"
)

// Validate checks if the resource kind is valid.
func (k ResourceKind) Validate() error {
	switch k {
	case KindRule, KindFileBlock, KindJob:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %q", string(k))
	}
}

// MatchMode controls how a present key is compared with the directive.
type MatchMode string

const (
	// MatchExact requires the normalized value to equal the desired value.
	MatchExact MatchMode = "exact"

	// MatchPresence only requires the key to exist.
	MatchPresence MatchMode = "presence"
)

// Validate checks if the match mode is valid.
func (m MatchMode) Validate() error {
	switch m {
	case MatchExact, MatchPresence:
		return nil
	default:
		return fmt.Errorf("invalid match mode: %q", string(m))
	}
}

// Ensure expresses whether the directive wants the key present or removed.
type Ensure string

const (
	// EnsurePresent asserts the key exists (with the desired value in exact mode).
	EnsurePresent Ensure = "present"

	// EnsureAbsent asserts the key is removed.
	EnsureAbsent Ensure = "absent"
)

// Validate checks if the ensure value is valid.
func (e Ensure) Validate() error {
	switch e {
	case EnsurePresent, EnsureAbsent:
		return nil
	default:
		return fmt.Errorf("invalid ensure value: %q", string(e))
	}
}

// ActionKind is the change the planner chose for a directive.
type ActionKind string

const (
	// ActionSkip means the resource already satisfies the directive.
	ActionSkip ActionKind = "skip"

	// ActionAdd means the key is absent and must be added.
	ActionAdd ActionKind = "add"

	// ActionReplace means the key is present with a different value.
	ActionReplace ActionKind = "replace"

	// ActionRemove means the key is present and must be removed.
	ActionRemove ActionKind = "remove"

	// ActionAbort means applying the directive would leave the resource unrecoverable.
	ActionAbort ActionKind = "abort"
)

// IsMutating returns true if the action changes the live resource.
func (k ActionKind) IsMutating() bool {
	return k == ActionAdd || k == ActionReplace || k == ActionRemove
}

// IsDestructive returns true if the action overwrites or drops existing state.
func (k ActionKind) IsDestructive() bool {
	return k == ActionReplace || k == ActionRemove
}

// Validate checks if the action kind is valid.
func (k ActionKind) Validate() error {
	switch k {
	case ActionSkip, ActionAdd, ActionReplace, ActionRemove, ActionAbort:
		return nil
	default:
		return fmt.Errorf("invalid action kind: %q", string(k))
	}
}

// Outcome is what happened when the executor processed an action.
type Outcome string

const (
	// OutcomeSkipped means nothing was changed (skip, or declined by the operator).
	OutcomeSkipped Outcome = "skipped"

	// OutcomeApplied means the change was written and verified.
	OutcomeApplied Outcome = "applied"

	// OutcomeFailed means the backend refused the write or a snapshot could not be taken.
	OutcomeFailed Outcome = "failed"

	// OutcomeRolledBack means validation failed and the snapshot was restored.
	OutcomeRolledBack Outcome = "rolled_back"

	// OutcomeConvergenceMismatch means the re-probe disagrees with the directive.
	OutcomeConvergenceMismatch Outcome = "convergence_mismatch"

	// OutcomeAborted means the planner refused the action by precondition.
	OutcomeAborted Outcome = "aborted"

	// OutcomeUnavailable means the resource backend could not be reached.
	OutcomeUnavailable Outcome = "unavailable"
)

// IsFailure returns true if the outcome leaves the directive unconverged because
// something went wrong.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeRolledBack || o == OutcomeUnavailable
}

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSkipped, OutcomeApplied, OutcomeFailed, OutcomeRolledBack,
		OutcomeConvergenceMismatch, OutcomeAborted, OutcomeUnavailable:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %q", string(o))
	}
}

// Decision is the confirmation-gate state of a planned action.
type Decision string

const (
	// DecisionPlanned is the initial state of every action.
	DecisionPlanned Decision = "planned"

	// DecisionPending means the action is risky and waits for the operator.
	DecisionPending Decision = "pending"

	// DecisionApproved is terminal: the action proceeds to the executor.
	DecisionApproved Decision = "approved"

	// DecisionDeclined is terminal: the action is converted to skip.
	DecisionDeclined Decision = "declined"
)

// IsTerminal returns true if no further transition is allowed.
func (d Decision) IsTerminal() bool {
	return d == DecisionApproved || d == DecisionDeclined
}

// CanTransition reports whether the gate state machine allows d -> next.
func (d Decision) CanTransition(next Decision) bool {
	switch d {
	case DecisionPlanned:
		return next == DecisionPending || next == DecisionApproved
	case DecisionPending:
		return next == DecisionApproved || next == DecisionDeclined
	default:
		return false
	}
}

// RunStatus represents the overall status of a reconciliation run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every action converged or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some actions failed, rolled back or mismatched.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the run was interrupted between actions.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *ResourceKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = ResourceKind(str)
	return k.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *ActionKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = ActionKind(str)
	return k.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = Outcome(str)
	return o.Validate()
}
