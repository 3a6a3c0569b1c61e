// Package telemetry provides logging, tracing and metrics for converge.
//
// # Logging
//
// Logger wraps zerolog. Library packages receive the underlying
// zerolog.Logger through Zerolog() and add a "component" field:
//
//	tel, err := telemetry.NewTelemetry(ctx, cfg)
//	logger := tel.Logger.NewComponentLogger("executor").Zerolog()
//
// Console output is the default; set Logging.Format to "json" for log
// shippers. Logs go to stderr.
//
// # Tracing
//
// Tracer creates OpenTelemetry spans: plan.compute for planning,
// run.execute for a run and action.<kind> for every executed action. Spans
// are exported to stdout or an OTLP gRPC collector, or not at all.
//
// # Metrics
//
// Metrics keeps Prometheus counters and histograms in a private registry:
//
//	converge_planned_actions{kind}
//	converge_runs_completed_total{status}
//	converge_run_duration_seconds{status}
//	converge_last_run_timestamp_seconds
//	converge_actions_total{resource_kind,action,outcome}
//	converge_action_duration_seconds{resource_kind,action}
//	converge_errors_by_class_total{class}
//
// converge is a one-shot command, so metrics are not served over HTTP.
// Shutdown writes them to a node_exporter textfile collector path instead.
//
// # Executor integration
//
// Telemetry.Observer returns an engine.Observer that wraps each action in a
// span and records its outcome:
//
//	reconciler := engine.NewReconciler(engine.ReconcilerConfig{
//	    Observer: tel.Observer(),
//	    ...
//	})
package telemetry
