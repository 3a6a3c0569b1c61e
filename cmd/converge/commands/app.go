package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/policy"
	"github.com/openfroyo/converge/pkg/resources"
	"github.com/openfroyo/converge/pkg/stores"
	"github.com/openfroyo/converge/pkg/telemetry"
	"github.com/openfroyo/converge/pkg/transports"
	"github.com/openfroyo/converge/pkg/transports/local"
	"github.com/openfroyo/converge/pkg/transports/ssh"
)

// needs selects which collaborators a command opens.
type needs struct {
	host   bool
	store  bool
	policy bool
}

// app holds the collaborators of one command invocation.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	host      *transports.Host
	registry  *resources.Registry
	store     *stores.SQLiteStore
	policy    *policy.Engine
}

// openApp loads settings and opens what the command needs. The caller must
// Close the app.
func openApp(cmd *cobra.Command, n needs) (*app, error) {
	ctx := cmd.Context()

	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(ctx, telemetryConfig(settings, cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger.Zerolog(),
	}

	if n.host {
		if err := a.connect(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	if n.store {
		if err := a.openStore(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	if n.policy {
		a.policy, err = policy.NewEngine(ctx, a.logger, settings.Policy.Paths...)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	return a, nil
}

func telemetryConfig(settings *config.Settings, cmd *cobra.Command) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildInfo.version

	cfg.Logging.Level = settings.Telemetry.LogLevel
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if settings.Telemetry.LogFormat != "" {
		cfg.Logging.Format = settings.Telemetry.LogFormat
	}
	cfg.Logging.Output = cmd.ErrOrStderr()

	if settings.Telemetry.Tracing != "" {
		cfg.Tracing.Exporter = settings.Telemetry.Tracing
	}
	cfg.Tracing.Endpoint = settings.Telemetry.TracingEndpoint
	cfg.Tracing.Output = cmd.ErrOrStderr()

	cfg.Metrics.Textfile = settings.Telemetry.MetricsTextfile
	return cfg
}

// connect opens the target host. --host forces SSH.
func (a *app) connect(ctx context.Context) error {
	ts := a.settings.Transport

	if hostTarget == "" && ts.Type == "local" {
		a.host = local.NewHost(a.logger, ts.Sudo)
	} else {
		target := hostTarget
		if target == "" {
			target = ts.Host
			if ts.Port != 0 {
				target = fmt.Sprintf("%s:%d", ts.Host, ts.Port)
			}
		}

		user := ts.User
		if user == "" {
			user = "root"
		}
		sshCfg, err := ssh.ParseTarget(target, user)
		if err != nil {
			return fmt.Errorf("invalid host %q: %w", target, err)
		}
		if ts.KeyPath != "" {
			sshCfg.PrivateKeyPath = ts.KeyPath
		}
		if ts.KnownHosts != "" {
			sshCfg.KnownHostsPath = ts.KnownHosts
		}
		if ts.Timeout > 0 {
			sshCfg.ConnectionTimeout = ts.Timeout
		}
		sshCfg.StrictHostKeyChecking = !ts.InsecureIgnoreHostKey
		sshCfg.Sudo = ts.Sudo

		host, err := ssh.Connect(ctx, sshCfg, a.logger)
		if err != nil {
			return err
		}
		a.host = host
	}

	registry, err := config.BuildRegistry(a.settings, a.host, a.logger)
	if err != nil {
		return err
	}
	a.registry = registry

	a.logger.Debug().
		Str("host", a.host.Name).
		Strs("resources", a.settings.ResourceNames()).
		Msg("Target host ready")
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:      a.settings.StorePath,
		BackupDir: a.settings.BackupDir,
	})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	a.store = store

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate state database: %w", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("state database unusable: %w", err)
	}
	return nil
}

// reconciler wires the engine with the given approver.
func (a *app) reconciler(approver engine.Approver) *engine.Reconciler {
	cfg := engine.ReconcilerConfig{
		Registry:   a.registry,
		Classifier: engine.DefaultClassifier{},
		Approver:   approver,
		Observer:   a.telemetry.Observer(),
		Host:       a.host.Name,
		Logger:     a.logger,
	}
	if a.policy != nil {
		cfg.Classifier = a.policy
	}
	if a.store != nil {
		cfg.Audit = a.store
		cfg.Snapshots = a.store
	}
	return engine.NewReconciler(cfg)
}

// Close releases everything openApp opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error

	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.host != nil && a.host.Close != nil {
		errs = append(errs, a.host.Close())
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	errs = append(errs, a.telemetry.Shutdown(shutdownCtx))

	return errors.Join(errs...)
}

// release closes the app and logs a failure instead of returning it.
func (a *app) release(ctx context.Context) {
	if err := a.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown failed")
	}
}
