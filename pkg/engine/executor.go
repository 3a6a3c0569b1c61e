package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExecutorConfig wires the executor's collaborators.
type ExecutorConfig struct {
	// Registry resolves directives to adapters.
	Registry Registry

	// Prober re-reads resources after mutation.
	Prober *Prober

	// Audit receives one entry per processed action.
	Audit AuditLog

	// Snapshots persists snapshots of file-like resources. When nil,
	// snapshots are kept in memory for the duration of the action only.
	Snapshots SnapshotStore

	// Observer is notified around every action. Optional.
	Observer Observer

	// Host labels the run ("local" or an SSH address).
	Host string

	// Logger is the base logger.
	Logger zerolog.Logger
}

// Executor applies approved plan actions one at a time, in plan order.
type Executor struct {
	cfg    ExecutorConfig
	logger zerolog.Logger
}

// NewExecutor creates a new executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Host == "" {
		cfg.Host = "local"
	}
	return &Executor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs every action of the plan and returns the audit entries in plan
// order. Failures are isolated per action and recorded as outcomes. The
// returned error is non-nil only when the audit log could not record the run
// or the context was cancelled between actions; in both cases the entries of
// the actions processed so far are still returned.
func (e *Executor) Execute(ctx context.Context, plan *Plan) ([]AuditEntry, error) {
	run := &Run{
		ID:        uuid.New().String(),
		PlanID:    plan.ID,
		Source:    plan.Source,
		Host:      e.cfg.Host,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	logger := e.logger.With().Str("run_id", run.ID).Logger()

	var auditErrs []error
	if e.cfg.Audit != nil {
		if err := e.cfg.Audit.BeginRun(ctx, run); err != nil {
			auditErrs = append(auditErrs, fmt.Errorf("failed to record run start: %w", err))
		}
	}

	logger.Info().Str("plan_id", plan.ID).Int("actions", len(plan.Actions)).Msg("Starting execution")

	entries := make([]AuditEntry, 0, len(plan.Actions))
	unavailable := make(map[string]error)
	status := RunStatusSucceeded
	var cancelErr error

	for i, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			status = RunStatusCancelled
			logger.Warn().Int("remaining", len(plan.Actions)-i).Msg("Execution cancelled")
			break
		}

		// A started action runs to completion; cancellation is honoured
		// between actions only.
		actionCtx := context.WithoutCancel(ctx)
		if e.cfg.Observer != nil {
			actionCtx = e.cfg.Observer.ActionStarted(actionCtx, i, action)
		}

		entry := e.executeAction(actionCtx, run.ID, i, action, unavailable)
		entry.ID = uuid.New().String()
		entry.RunID = run.ID
		entry.Sequence = i
		entry.Timestamp = time.Now().UTC()

		if e.cfg.Observer != nil {
			e.cfg.Observer.ActionFinished(actionCtx, i, &entry)
		}

		if e.cfg.Audit != nil {
			if err := e.cfg.Audit.Append(actionCtx, &entry); err != nil {
				auditErrs = append(auditErrs, fmt.Errorf("failed to record audit entry %d: %w", i, err))
			}
		}

		switch {
		case entry.Outcome.IsFailure(), entry.Outcome == OutcomeConvergenceMismatch, entry.Outcome == OutcomeAborted:
			status = RunStatusPartial
		}

		logEvent := logger.Info()
		if entry.Outcome.IsFailure() || entry.Outcome == OutcomeConvergenceMismatch {
			logEvent = logger.Warn()
		}
		logEvent.
			Int("sequence", i).
			Str("directive", action.Directive.String()).
			Str("action", string(action.Kind)).
			Str("outcome", string(entry.Outcome)).
			Str("detail", entry.Detail).
			Msg("Action processed")

		entries = append(entries, entry)
	}

	if e.cfg.Audit != nil {
		if err := e.cfg.Audit.FinishRun(context.WithoutCancel(ctx), run.ID, status); err != nil {
			auditErrs = append(auditErrs, fmt.Errorf("failed to record run status: %w", err))
		}
	}

	logger.Info().Str("status", string(status)).Int("processed", len(entries)).Msg("Execution finished")

	if cancelErr != nil {
		auditErrs = append(auditErrs, cancelErr)
	}
	return entries, errors.Join(auditErrs...)
}

func (e *Executor) executeAction(ctx context.Context, runID string, seq int, action Action, unavailable map[string]error) AuditEntry {
	entry := AuditEntry{Action: action}

	switch action.Kind {
	case ActionSkip:
		entry.Outcome = OutcomeSkipped
		if action.Unavailable {
			entry.Outcome = OutcomeUnavailable
		}
		entry.Detail = action.Rationale
		return entry
	case ActionAbort:
		entry.Outcome = OutcomeAborted
		entry.Detail = action.Rationale
		return entry
	}

	adapter, err := e.cfg.Registry.Resolve(action.Directive)
	if err != nil {
		entry.Outcome = OutcomeFailed
		entry.Detail = err.Error()
		return entry
	}
	ref := adapter.Ref()

	if prev, ok := unavailable[ref.Name]; ok {
		entry.Outcome = OutcomeUnavailable
		entry.Detail = "resource unavailable: " + prev.Error()
		return entry
	}

	fail := func(err error) AuditEntry {
		entry.Detail = err.Error()
		if IsUnavailable(err) {
			unavailable[ref.Name] = err
			entry.Outcome = OutcomeUnavailable
		} else {
			entry.Outcome = OutcomeFailed
		}
		return entry
	}

	// Earlier actions of the run may have changed the resource since it was
	// planned, so guarded resources are checked again against a fresh probe.
	if guard, ok := adapter.(Guard); ok {
		state, err := e.cfg.Prober.Probe(ctx, adapter)
		if err != nil {
			return fail(err)
		}
		if reason, blocked := guard.Precondition(state, action.Directive); blocked {
			entry.Outcome = OutcomeAborted
			entry.Detail = reason
			return entry
		}
	}

	// Step 1: snapshot file-like resources before any write.
	var snap *ResourceSnapshot
	if snapshotter, ok := adapter.(Snapshotter); ok {
		raw, err := snapshotter.Snapshot(ctx)
		if err != nil {
			return fail(asUnavailable(err, ref, "snapshot"))
		}
		snap = &ResourceSnapshot{
			RunID:      runID,
			Ref:        ref,
			Content:    raw.Content,
			Existed:    raw.Exists,
			CapturedAt: time.Now().UTC(),
		}
		if e.cfg.Snapshots != nil {
			if err := e.cfg.Snapshots.SaveSnapshot(ctx, snap); err != nil {
				entry.Outcome = OutcomeFailed
				entry.Detail = NewApplyRejectedError("failed to persist snapshot, not applying", err).
					WithResource(ref.Name).WithCode(ErrCodeSnapshotFailed).Error()
				return entry
			}
			entry.SnapshotRef = snap.ID
		}
	}

	// Step 2: apply.
	if err := adapter.Apply(ctx, action); err != nil {
		if !IsUnavailable(err) && ClassOf(err) == "" {
			err = NewApplyRejectedError("apply failed", err).WithResource(ref.Name).WithOperation("apply")
		}
		return fail(err)
	}

	// Step 3: validate, restoring the snapshot on failure.
	if validator, ok := adapter.(Validator); ok {
		if err := validator.Validate(ctx); err != nil {
			return e.rollback(ctx, entry, adapter, snap, "validation failed: "+err.Error())
		}
	}

	if reloader, ok := adapter.(Reloader); ok {
		if err := reloader.Reload(ctx); err != nil {
			return e.rollback(ctx, entry, adapter, snap, "reload failed: "+err.Error())
		}
	}

	// Step 4: re-probe and compare with the directive's expectation.
	state, err := e.cfg.Prober.Probe(ctx, adapter)
	if err != nil {
		entry.Outcome = OutcomeConvergenceMismatch
		entry.Detail = "re-probe failed: " + err.Error()
		return entry
	}
	if ok, observed := converged(adapter, state, action.Directive); !ok {
		entry.Outcome = OutcomeConvergenceMismatch
		entry.Detail = observed
		return entry
	}

	entry.Outcome = OutcomeApplied
	entry.Detail = action.Rationale
	e.logger.Debug().Int("sequence", seq).Str("resource", ref.String()).Msg("Action converged")
	return entry
}

func (e *Executor) rollback(ctx context.Context, entry AuditEntry, adapter Adapter, snap *ResourceSnapshot, reason string) AuditEntry {
	snapshotter, ok := adapter.(Snapshotter)
	if !ok || snap == nil {
		entry.Outcome = OutcomeFailed
		entry.Detail = reason + " (no snapshot to restore)"
		return entry
	}

	if err := snapshotter.Restore(ctx, snap.Raw()); err != nil {
		entry.Outcome = OutcomeFailed
		entry.Detail = NewValidationError(reason, err).
			WithResource(adapter.Ref().Name).
			WithCode(ErrCodeRestoreFailed).
			WithDetail("snapshot", snap.ID).
			Error()
		e.logger.Error().Err(err).Str("resource", adapter.Ref().String()).Str("snapshot", snap.ID).Msg("Restore failed")
		return entry
	}

	entry.Outcome = OutcomeRolledBack
	entry.Detail = reason
	return entry
}

// converged checks a probed state against a directive and describes the
// observed value when it does not match.
func converged(adapter Adapter, state State, d Directive) (bool, string) {
	key := adapter.CanonicalKey(d.Key)
	current, present := state.Lookup(key)

	switch {
	case d.IsRemoval():
		if present {
			return false, fmt.Sprintf("%q still present with %q", key, current)
		}
	case !present:
		return false, fmt.Sprintf("%q absent after apply", key)
	case d.Match == MatchExact:
		if want := CanonicalValue(adapter, d.Value); current != want {
			return false, fmt.Sprintf("%q is %q, want %q", key, current, want)
		}
	}
	return true, ""
}
