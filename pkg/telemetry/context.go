package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/converge/pkg/engine"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  NewLogger(cfg.Logging),
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes spans and writes the metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Metrics.WriteTextfile(),
		t.Tracer.Shutdown(ctx),
	)
}

// Observer returns an engine.Observer that traces and counts actions.
func (t *Telemetry) Observer() engine.Observer {
	return &observer{tel: t}
}

// RecordPlan records plan metrics.
func (t *Telemetry) RecordPlan(plan *engine.Plan) {
	s := plan.Summary
	t.Metrics.SetPlanSummary(s.Skip, s.Add, s.Replace, s.Remove, s.Abort)
}

// RecordRun records the final status of a run and ends its span.
func (t *Telemetry) RecordRun(span trace.Span, runID string, status engine.RunStatus, duration time.Duration) {
	t.Metrics.RecordRunCompleted(string(status), duration)

	span.SetAttributes(AttrRunID.String(runID), AttrRunStatus.String(string(status)))
	if status == engine.RunStatusSucceeded {
		RecordSuccess(span)
	} else {
		RecordError(span, errors.New("run finished "+string(status)))
	}
	span.End()
}

type observer struct {
	tel *Telemetry
}

type actionStartKey struct{}

// ActionStarted implements engine.Observer.
func (o *observer) ActionStarted(ctx context.Context, seq int, action engine.Action) context.Context {
	ctx, _ = o.tel.Tracer.StartActionSpan(ctx, seq,
		string(action.Directive.Kind), action.Directive.Resource, action.Directive.Key, string(action.Kind))
	return context.WithValue(ctx, actionStartKey{}, time.Now())
}

// ActionFinished implements engine.Observer.
func (o *observer) ActionFinished(ctx context.Context, seq int, entry *engine.AuditEntry) {
	var elapsed time.Duration
	if start, ok := ctx.Value(actionStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}

	action := entry.Action
	o.tel.Metrics.RecordAction(string(action.Directive.Kind), string(action.Kind), string(entry.Outcome), elapsed)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrOutcome.String(string(entry.Outcome)))
	if entry.SnapshotRef != "" {
		span.SetAttributes(AttrSnapshotID.String(entry.SnapshotRef))
	}

	if entry.Outcome.IsFailure() || entry.Outcome == engine.OutcomeConvergenceMismatch {
		class := outcomeClass(entry.Outcome)
		o.tel.Metrics.RecordError(class)
		span.SetAttributes(AttrErrorClass.String(class))
		RecordError(span, errors.New(entry.Detail))
	} else {
		RecordSuccess(span)
	}
	span.End()
}

func outcomeClass(outcome engine.Outcome) string {
	switch outcome {
	case engine.OutcomeFailed:
		return string(engine.ErrorClassApplyRejected)
	case engine.OutcomeRolledBack:
		return string(engine.ErrorClassValidationFailed)
	case engine.OutcomeUnavailable:
		return string(engine.ErrorClassUnavailable)
	case engine.OutcomeConvergenceMismatch:
		return string(engine.ErrorClassConvergenceMismatch)
	default:
		return ""
	}
}
