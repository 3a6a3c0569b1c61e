package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for converge runs.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plannedActions *prometheus.GaugeVec

	// Run metrics
	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	lastRunSeconds prometheus.Gauge

	// Action metrics
	actionsProcessed *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plannedActions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "planned_actions",
				Help:      "Actions in the most recent plan by kind",
			},
			[]string{"kind"},
		),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		lastRunSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the most recent run finished",
			},
		),

		actionsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of actions processed by the executor",
			},
			[]string{"resource_kind", "action", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"resource_kind", "action"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.plannedActions,
		m.runsCompleted,
		m.runDuration,
		m.lastRunSeconds,
		m.actionsProcessed,
		m.actionDuration,
		m.errorsByClass,
	)

	return m
}

// SetPlanSummary records the action counts of a plan.
func (m *Metrics) SetPlanSummary(skip, add, replace, remove, abort int) {
	if m.plannedActions == nil {
		return
	}
	m.plannedActions.WithLabelValues("skip").Set(float64(skip))
	m.plannedActions.WithLabelValues("add").Set(float64(add))
	m.plannedActions.WithLabelValues("replace").Set(float64(replace))
	m.plannedActions.WithLabelValues("remove").Set(float64(remove))
	m.plannedActions.WithLabelValues("abort").Set(float64(abort))
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.lastRunSeconds.SetToCurrentTime()
}

// RecordAction records one processed action.
func (m *Metrics) RecordAction(resourceKind, action, outcome string, duration time.Duration) {
	if m.actionsProcessed == nil {
		return
	}
	m.actionsProcessed.WithLabelValues(resourceKind, action, outcome).Inc()
	m.actionDuration.WithLabelValues(resourceKind, action).Observe(duration.Seconds())
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the metrics in text exposition format to the
// configured node_exporter textfile path. The write is atomic.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer measures elapsed time.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
