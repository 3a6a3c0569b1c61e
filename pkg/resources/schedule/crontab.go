// Package schedule implements the job resource on top of crontab.
//
// A job's canonical key is its command with whitespace collapsed; its value
// is the schedule, either five time fields or an @macro. Comments and
// environment assignments in the table are preserved on every rewrite.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/transports"
)

// Config configures the crontab adapter.
type Config struct {
	// Name is the resource name used in directives.
	Name string

	// User selects another user's table ("crontab -u"). Empty means the
	// connecting user.
	User string

	// Binary is the crontab executable (default "crontab").
	Binary string

	// AccessCritical marks the table for confirmation of destructive changes.
	AccessCritical bool
}

// Adapter manages the jobs of one crontab.
type Adapter struct {
	cfg    Config
	runner transports.Runner
	logger zerolog.Logger
}

// New creates a crontab adapter.
func New(cfg Config, runner transports.Runner, logger zerolog.Logger) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "crontab"
	}
	if cfg.Binary == "" {
		cfg.Binary = "crontab"
	}
	return &Adapter{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("resource", cfg.Name).Logger(),
	}
}

// Ref implements engine.Adapter.
func (a *Adapter) Ref() engine.ResourceRef {
	location := "crontab"
	if a.cfg.User != "" {
		location += ":" + a.cfg.User
	}
	return engine.ResourceRef{
		Kind:           engine.KindJob,
		Name:           a.cfg.Name,
		Location:       location,
		AccessCritical: a.cfg.AccessCritical,
	}
}

// Probe implements engine.Adapter. A user without a crontab has an empty,
// non-existing table.
func (a *Adapter) Probe(ctx context.Context) (engine.RawState, error) {
	res, err := a.run(ctx, nil, "-l")
	if err != nil {
		return engine.RawState{}, engine.NewUnavailableError("crontab unavailable", err).
			WithResource(a.cfg.Name).WithOperation("probe")
	}
	if !res.Success() {
		if strings.Contains(strings.ToLower(res.Output()), "no crontab") {
			return engine.RawState{Exists: false}, nil
		}
		return engine.RawState{}, engine.NewUnavailableError("crontab -l failed", errors.New(res.Output())).
			WithResource(a.cfg.Name).WithOperation("probe")
	}
	return engine.RawState{Content: []byte(res.Stdout), Exists: true}, nil
}

// Normalize implements engine.Adapter.
func (a *Adapter) Normalize(raw engine.RawState) (engine.State, error) {
	state := engine.State{}
	for _, e := range parseTable(string(raw.Content)) {
		if e.job == nil {
			continue
		}
		if _, seen := state[e.job.command]; !seen {
			state[e.job.command] = e.job.schedule
		}
	}
	return state, nil
}

// CanonicalKey implements engine.Adapter.
func (a *Adapter) CanonicalKey(key string) string {
	return engine.CollapseSpace(key)
}

// CanonicalValue implements engine.ValueCanonicalizer.
func (a *Adapter) CanonicalValue(value string) string {
	return canonicalSchedule(value)
}

// Apply implements engine.Adapter.
func (a *Adapter) Apply(ctx context.Context, action engine.Action) error {
	raw, err := a.Probe(ctx)
	if err != nil {
		return err
	}
	entries := parseTable(string(raw.Content))
	command := a.CanonicalKey(action.Directive.Key)

	switch action.Kind {
	case engine.ActionAdd, engine.ActionReplace:
		schedule := canonicalSchedule(action.Directive.Value)
		if err := validateSchedule(schedule); err != nil {
			return engine.NewApplyRejectedError("invalid schedule", err).
				WithResource(a.cfg.Name).WithDetail("command", command)
		}
		entries = setJob(entries, command, schedule)
	case engine.ActionRemove:
		entries = removeJob(entries, command)
	default:
		return engine.NewApplyRejectedError(fmt.Sprintf("unsupported action %s", action.Kind), nil).
			WithResource(a.cfg.Name)
	}

	if err := a.install(ctx, renderTable(entries)); err != nil {
		return err
	}
	a.logger.Info().Str("action", string(action.Kind)).Str("command", command).Msg("Crontab updated")
	return nil
}

// Snapshot implements engine.Snapshotter.
func (a *Adapter) Snapshot(ctx context.Context) (engine.RawState, error) {
	return a.Probe(ctx)
}

// Restore implements engine.Snapshotter. A snapshot of a missing table
// restores by removing the table.
func (a *Adapter) Restore(ctx context.Context, raw engine.RawState) error {
	if raw.Exists {
		return a.install(ctx, raw.Content)
	}
	res, err := a.run(ctx, nil, "-r")
	if err != nil {
		return fmt.Errorf("crontab -r: %w", err)
	}
	if !res.Success() && !strings.Contains(strings.ToLower(res.Output()), "no crontab") {
		return fmt.Errorf("crontab -r failed: %s", res.Output())
	}
	return nil
}

func (a *Adapter) install(ctx context.Context, table []byte) error {
	res, err := a.run(ctx, table, "-")
	if err != nil {
		return engine.NewUnavailableError("crontab unavailable", err).
			WithResource(a.cfg.Name).WithOperation("apply")
	}
	if !res.Success() {
		return engine.NewApplyRejectedError("crontab rejected the table", errors.New(res.Output())).
			WithResource(a.cfg.Name).WithOperation("apply")
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, stdin []byte, args ...string) (transports.Result, error) {
	if a.cfg.User != "" {
		args = append([]string{"-u", a.cfg.User}, args...)
	}
	return a.runner.Run(ctx, transports.Command{Name: a.cfg.Binary, Args: args, Stdin: stdin})
}

var (
	_ engine.Adapter            = (*Adapter)(nil)
	_ engine.Snapshotter        = (*Adapter)(nil)
	_ engine.ValueCanonicalizer = (*Adapter)(nil)
)
