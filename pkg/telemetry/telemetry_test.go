package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/converge/pkg/engine"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: "endpoint is required"},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: "invalid trace exporter"},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "no service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: &buf})

	logger.NewComponentLogger("executor").WithRunID("run-1").WithHost("vps").Info("Action processed")
	logger.Debug("visible at debug")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "vps", entry["host"])
	assert.Equal(t, "Action processed", entry["message"])
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: &buf})

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")

	// The fallback logger discards output.
	FromContext(context.Background()).Error("dropped")
}

func TestMetrics_RecordAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converge.prom")
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "converge", Textfile: path})

	m.SetPlanSummary(3, 1, 0, 1, 0)
	m.RecordAction("rule", "add", "applied", 20*time.Millisecond)
	m.RecordAction("rule", "add", "applied", 30*time.Millisecond)
	m.RecordAction("file_block", "replace", "rolled_back", time.Second)
	m.RecordError("validation_failed")
	m.RecordRunCompleted("partial", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionsProcessed.WithLabelValues("rule", "add", "applied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.plannedActions.WithLabelValues("skip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues("partial")))

	require.NoError(t, m.WriteTextfile())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `converge_actions_total{action="replace",outcome="rolled_back",resource_kind="file_block"} 1`)
	assert.Contains(t, text, `converge_errors_by_class_total{class="validation_failed"} 1`)
	assert.Contains(t, text, "converge_last_run_timestamp_seconds")
}

func TestMetrics_Disabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, Textfile: filepath.Join(t.TempDir(), "x.prom")})

	m.RecordAction("rule", "add", "applied", time.Millisecond)
	m.RecordRunCompleted("succeeded", time.Second)
	m.SetPlanSummary(1, 0, 0, 0, 0)
	m.RecordError("apply_rejected")

	assert.Nil(t, m.Gatherer())
	assert.NoError(t, m.WriteTextfile())
}

func newRecordingTelemetry(t *testing.T) (*Telemetry, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return &Telemetry{
		Logger:  NewLogger(LoggingConfig{Level: "error", Format: "json", Output: &bytes.Buffer{}}),
		Tracer:  &Tracer{provider: provider, tracer: provider.Tracer("test")},
		Metrics: NewMetrics(MetricsConfig{Enabled: true, Namespace: "converge"}),
		Config:  DefaultConfig(),
	}, recorder
}

func TestObserver(t *testing.T) {
	tel, recorder := newRecordingTelemetry(t)
	obs := tel.Observer()

	add := engine.Action{
		Directive: engine.Directive{Kind: engine.KindRule, Resource: "firewall", Key: "443/tcp", Value: "allow"},
		Kind:      engine.ActionAdd,
	}
	replace := engine.Action{
		Directive: engine.Directive{Kind: engine.KindFileBlock, Resource: "sshd", Key: "Port", Value: "2222"},
		Kind:      engine.ActionReplace,
		Current:   "22",
		Present:   true,
	}

	ctx := obs.ActionStarted(context.Background(), 0, add)
	obs.ActionFinished(ctx, 0, &engine.AuditEntry{Action: add, Outcome: engine.OutcomeApplied})

	ctx = obs.ActionStarted(context.Background(), 1, replace)
	obs.ActionFinished(ctx, 1, &engine.AuditEntry{
		Action: replace, Outcome: engine.OutcomeRolledBack, Detail: "sshd -t failed", SnapshotRef: "snap-1",
	})

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "action.add", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Equal(t, "action.replace", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "sshd -t failed", spans[1].Status().Description)

	attrs := map[string]string{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "rolled_back", attrs["action.outcome"])
	assert.Equal(t, "snap-1", attrs["snapshot.id"])
	assert.Equal(t, "validation_failed", attrs["error.class"])
	assert.Equal(t, "sshd", attrs["resource.name"])

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.actionsProcessed.WithLabelValues("file_block", "replace", "rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.errorsByClass.WithLabelValues("validation_failed")))
}

func TestRecordRun(t *testing.T) {
	tel, recorder := newRecordingTelemetry(t)

	_, span := tel.Tracer.StartRunSpan(context.Background(), "plan-1", "local")
	tel.RecordRun(span, "run-1", engine.RunStatusPartial, time.Second)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "run.execute", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.runsCompleted.WithLabelValues("partial")))
}

func TestNewTelemetry_StdoutExporter(t *testing.T) {
	var spans bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Output = &bytes.Buffer{}
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.Output = &spans

	ctx := context.Background()
	tel, err := NewTelemetry(ctx, cfg)
	require.NoError(t, err)

	spanCtx, span := tel.Tracer.StartPlanSpan(ctx, "site.yaml", 3)
	assert.NotEmpty(t, TraceID(spanCtx))
	span.End()

	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, spans.String(), `"Name": "plan.compute"`)
	assert.Empty(t, TraceID(ctx))
}

func TestNewTelemetry_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "chatty"

	_, err := NewTelemetry(context.Background(), cfg)
	require.Error(t, err)
}
