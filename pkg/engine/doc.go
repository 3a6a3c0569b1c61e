// Package engine provides the core types and components of the converge
// reconciliation engine.
//
// # Overview
//
// converge brings a single host's configuration (firewall rules, structured
// config files, scheduled jobs) to a declared state without duplicating
// entries. A reconciliation run goes through five phases:
//
//  1. Directives - Load and validate an ordered DirectiveSet
//  2. Probe - Read and normalize the live state of each resource (Prober)
//  3. Plan - Decide one Action per directive (Planner)
//  4. Review - Route risky actions through an operator (Gate)
//  5. Execute - Snapshot, apply, validate, re-probe and audit (Executor)
//
// # Core Domain Types
//
//   - Directive: one desired-state assertion about a resource key
//   - State: the canonical key -> value mapping of a probed resource
//   - Action: skip, add, replace, remove or abort for one directive
//   - Plan: the ordered actions, one per directive, in directive order
//   - ResourceSnapshot: verbatim content captured before a file write
//   - AuditEntry: the append-only record of an executed action
//
// # Adapters
//
// Resource adapters are the only components that touch the live system:
//
//	type Adapter interface {
//	    Ref() ResourceRef
//	    Probe(ctx context.Context) (RawState, error)
//	    Normalize(raw RawState) (State, error)
//	    CanonicalKey(key string) string
//	    Apply(ctx context.Context, action Action) error
//	}
//
// Optional capabilities are discovered by type assertion: Validator
// (check-only validation), Snapshotter (file-like resources), Reloader and
// Guard (preconditions such as keeping the last access path open).
//
// # Error Handling
//
// Errors are classified with EngineError:
//
//   - resource_unavailable: backend missing or unreachable, skips that resource
//   - apply_rejected: backend refused a write, outcome failed
//   - validation_failed: triggers a snapshot restore, outcome rolled_back
//   - convergence_mismatch: re-probe disagrees with the directive
//   - invalid_directive: structural problem, fatal before planning
//
// Declining a risky action is not an error: the action becomes a skip with
// the rationale "operator declined".
//
// # Concurrency
//
// A run is strictly sequential. Actions execute one at a time in plan order
// and every probe re-reads the live system, so an interrupted run is planned
// around correctly by the next one.
package engine
