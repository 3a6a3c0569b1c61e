package engine

import (
	"context"
)

// Adapter is the uniform probe/apply interface over one resource instance.
// Adapters are the only components that touch the live system.
type Adapter interface {
	// Ref identifies the resource.
	Ref() ResourceRef

	// Probe lists the live resource. Failures are ResourceUnavailable.
	Probe(ctx context.Context) (RawState, error)

	// Normalize converts raw state into the canonical key -> value mapping.
	// It must be deterministic: equal input yields equal output.
	Normalize(raw RawState) (State, error)

	// CanonicalKey normalizes a directive key so it compares with State keys.
	CanonicalKey(key string) string

	// Apply performs the minimal change described by the action.
	// Failures are ApplyRejected (or ResourceUnavailable when the backend vanished).
	Apply(ctx context.Context, action Action) error
}

// Validator is implemented by adapters that support a check-only validation
// that does not change any running service.
type Validator interface {
	Validate(ctx context.Context) error
}

// Snapshotter is implemented by file-like adapters whose raw content can be
// captured and written back verbatim.
type Snapshotter interface {
	Snapshot(ctx context.Context) (RawState, error)
	Restore(ctx context.Context, raw RawState) error
}

// Reloader is implemented by adapters that must signal a service after a
// validated change.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Guard is implemented by adapters that can refuse a directive by
// precondition, such as removing the last access path to the host.
type Guard interface {
	Precondition(state State, directive Directive) (reason string, blocked bool)
}

// Registry resolves directive resource names to adapters.
type Registry interface {
	// Lookup returns the adapter for a resource name.
	Lookup(name string) (Adapter, bool)

	// Resolve returns the adapter for a directive, applying kind defaults.
	Resolve(d Directive) (Adapter, error)

	// Adapters returns all registered adapters in registration order.
	Adapters() []Adapter
}

// AuditLog is the append-only record of executed actions.
type AuditLog interface {
	// BeginRun records the start of an executor pass.
	BeginRun(ctx context.Context, run *Run) error

	// Append records one entry. Entries are never updated.
	Append(ctx context.Context, entry *AuditEntry) error

	// FinishRun records the final status of a run.
	FinishRun(ctx context.Context, runID string, status RunStatus) error

	// Entries lists entries matching the filter in (run, sequence) order.
	Entries(ctx context.Context, filter RunFilter) ([]*AuditEntry, error)
}

// SnapshotStore persists resource snapshots before mutation.
type SnapshotStore interface {
	// SaveSnapshot persists the snapshot and fills in ID, Checksum, Size and Path.
	SaveSnapshot(ctx context.Context, snap *ResourceSnapshot) error

	// GetSnapshot loads a snapshot including its content.
	GetSnapshot(ctx context.Context, id string) (*ResourceSnapshot, error)

	// ListSnapshots lists snapshot metadata, optionally filtered by resource name.
	ListSnapshots(ctx context.Context, resource string, limit int) ([]*ResourceSnapshot, error)
}

// RiskClassifier decides whether an action needs operator confirmation.
type RiskClassifier interface {
	Classify(ctx context.Context, ref ResourceRef, action Action) (risky bool, reasons []string, err error)
}

// Approver decides pending actions. An error is treated as a decline.
type Approver interface {
	Approve(ctx context.Context, ref ResourceRef, action Action, reasons []string) (bool, error)
}

// Observer receives execution events for metrics and tracing.
type Observer interface {
	ActionStarted(ctx context.Context, seq int, action Action) context.Context
	ActionFinished(ctx context.Context, seq int, entry *AuditEntry)
}
