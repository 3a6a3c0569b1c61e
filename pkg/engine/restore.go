package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RestorePlanID is the plan ID recorded for operator-initiated restores.
const RestorePlanID = "restore"

// Restore writes a stored snapshot back to its resource. The current content
// is snapshotted first, so a restore can itself be undone. The restored
// content goes through the adapter's validation and reload; if either fails
// the pre-restore content is put back. The restore is recorded as a one-entry
// run in the audit log.
func (e *Executor) Restore(ctx context.Context, snapshotID string) (*AuditEntry, error) {
	if e.cfg.Snapshots == nil {
		return nil, fmt.Errorf("no snapshot store configured")
	}

	snap, err := e.cfg.Snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}

	adapter, ok := e.cfg.Registry.Lookup(snap.Ref.Name)
	if !ok {
		return nil, fmt.Errorf("snapshot %s belongs to resource %q, which is not configured", snap.ID, snap.Ref.Name)
	}
	snapshotter, ok := adapter.(Snapshotter)
	if !ok {
		return nil, fmt.Errorf("resource %s does not support restore", adapter.Ref())
	}
	ref := adapter.Ref()

	run := &Run{
		ID:        uuid.New().String(),
		PlanID:    RestorePlanID,
		Source:    "snapshot:" + snap.ID,
		Host:      e.cfg.Host,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	logger := e.logger.With().Str("run_id", run.ID).Str("snapshot", snap.ID).Str("resource", ref.String()).Logger()

	var auditErrs []error
	if e.cfg.Audit != nil {
		if err := e.cfg.Audit.BeginRun(ctx, run); err != nil {
			auditErrs = append(auditErrs, fmt.Errorf("failed to record run start: %w", err))
		}
	}

	entry := AuditEntry{
		ID:    uuid.New().String(),
		RunID: run.ID,
		Action: Action{
			Directive: Directive{
				Kind:     ref.Kind,
				Resource: ref.Name,
				Key:      ref.Location,
				Match:    MatchPresence,
				Ensure:   EnsurePresent,
			},
			Kind:      ActionReplace,
			Rationale: "restore snapshot " + snap.ID,
		},
	}

	entry.Outcome, entry.Detail, entry.SnapshotRef = e.restore(context.WithoutCancel(ctx), run.ID, adapter, snapshotter, snap)
	entry.Timestamp = time.Now().UTC()

	status := RunStatusSucceeded
	if entry.Outcome != OutcomeApplied {
		status = RunStatusPartial
	}

	if e.cfg.Audit != nil {
		if err := e.cfg.Audit.Append(context.WithoutCancel(ctx), &entry); err != nil {
			auditErrs = append(auditErrs, fmt.Errorf("failed to record audit entry: %w", err))
		}
		if err := e.cfg.Audit.FinishRun(context.WithoutCancel(ctx), run.ID, status); err != nil {
			auditErrs = append(auditErrs, fmt.Errorf("failed to record run status: %w", err))
		}
	}

	logger.Info().Str("outcome", string(entry.Outcome)).Str("detail", entry.Detail).Msg("Snapshot restore finished")
	return &entry, errors.Join(auditErrs...)
}

func (e *Executor) restore(ctx context.Context, runID string, adapter Adapter, snapshotter Snapshotter, snap *ResourceSnapshot) (Outcome, string, string) {
	ref := adapter.Ref()

	raw, err := snapshotter.Snapshot(ctx)
	if err != nil {
		return OutcomeUnavailable, asUnavailable(err, ref, "snapshot").Error(), ""
	}
	current := &ResourceSnapshot{
		RunID:      runID,
		Ref:        ref,
		Content:    raw.Content,
		Existed:    raw.Exists,
		CapturedAt: time.Now().UTC(),
	}
	if err := e.cfg.Snapshots.SaveSnapshot(ctx, current); err != nil {
		return OutcomeFailed, NewApplyRejectedError("failed to persist snapshot, not restoring", err).
			WithResource(ref.Name).WithCode(ErrCodeSnapshotFailed).Error(), ""
	}

	if err := snapshotter.Restore(ctx, snap.Raw()); err != nil {
		return OutcomeFailed, err.Error(), current.ID
	}

	var reason string
	if validator, ok := adapter.(Validator); ok {
		if err := validator.Validate(ctx); err != nil {
			reason = "validation failed: " + err.Error()
		}
	}
	if reloader, ok := adapter.(Reloader); ok && reason == "" {
		if err := reloader.Reload(ctx); err != nil {
			reason = "reload failed: " + err.Error()
		}
	}
	if reason == "" {
		return OutcomeApplied, "restored snapshot " + snap.ID, current.ID
	}

	if err := snapshotter.Restore(ctx, current.Raw()); err != nil {
		return OutcomeFailed, NewValidationError(reason, err).
			WithResource(ref.Name).
			WithCode(ErrCodeRestoreFailed).
			WithDetail("snapshot", current.ID).
			Error(), current.ID
	}
	return OutcomeRolledBack, reason, current.ID
}
