package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// ReconcilerConfig wires a Reconciler.
type ReconcilerConfig struct {
	Registry   Registry
	Audit      AuditLog
	Snapshots  SnapshotStore
	Classifier RiskClassifier
	Approver   Approver
	Observer   Observer
	Host       string
	Logger     zerolog.Logger
}

// Reconciler is the outward entry point: Plan is a pure preview, Review runs
// the confirmation gate and Execute applies a reviewed plan.
type Reconciler struct {
	planner  *Planner
	gate     *Gate
	executor *Executor
}

// NewReconciler creates a reconciler from its collaborators.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	prober := NewProber(cfg.Logger)
	return &Reconciler{
		planner: NewPlanner(cfg.Registry, prober, cfg.Logger),
		gate:    NewGate(cfg.Registry, cfg.Classifier, cfg.Approver, cfg.Logger),
		executor: NewExecutor(ExecutorConfig{
			Registry:  cfg.Registry,
			Prober:    prober,
			Audit:     cfg.Audit,
			Snapshots: cfg.Snapshots,
			Observer:  cfg.Observer,
			Host:      cfg.Host,
			Logger:    cfg.Logger,
		}),
	}
}

// Plan computes the plan for a directive set without side effects.
func (r *Reconciler) Plan(ctx context.Context, set DirectiveSet) (*Plan, error) {
	return r.planner.Plan(ctx, set)
}

// Review passes the plan through the confirmation gate.
func (r *Reconciler) Review(ctx context.Context, plan *Plan) (*Plan, []Review, error) {
	return r.gate.Review(ctx, plan)
}

// Execute applies a reviewed plan.
func (r *Reconciler) Execute(ctx context.Context, plan *Plan) ([]AuditEntry, error) {
	return r.executor.Execute(ctx, plan)
}

// Restore writes a stored snapshot back to its resource.
func (r *Reconciler) Restore(ctx context.Context, snapshotID string) (*AuditEntry, error) {
	return r.executor.Restore(ctx, snapshotID)
}
