// Package textfile implements the file_block resource: key/value entries of
// a line-oriented configuration file such as sshd_config, sysctl.conf or
// fail2ban's jail.local.
package textfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/transports"
)

const defaultPerm fs.FileMode = 0o644

// Config configures a text file adapter.
type Config struct {
	// Name is the resource name used in directives.
	Name string

	// Path is the file location on the target host.
	Path string

	// Syntax selects the file dialect.
	Syntax Syntax

	// ValidateCommand checks the file without touching the running service,
	// e.g. "sshd -t -f {path}". Empty disables validation.
	ValidateCommand string

	// ReloadCommand is run after a validated change, e.g.
	// "systemctl reload ssh". Empty disables reloading.
	ReloadCommand string

	// AccessCritical marks the file for confirmation of destructive changes.
	AccessCritical bool
}

// Adapter edits one configuration file.
type Adapter struct {
	cfg    Config
	fs     transports.FS
	runner transports.Runner
	logger zerolog.Logger
}

// New creates a text file adapter.
func New(cfg Config, fsys transports.FS, runner transports.Runner, logger zerolog.Logger) (*Adapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("resource %s: path is required", cfg.Name)
	}
	if err := cfg.Syntax.Validate(); err != nil {
		return nil, fmt.Errorf("resource %s: %w", cfg.Name, err)
	}
	cfg.ValidateCommand = strings.TrimSpace(cfg.ValidateCommand)
	cfg.ReloadCommand = strings.TrimSpace(cfg.ReloadCommand)
	return &Adapter{
		cfg:    cfg,
		fs:     fsys,
		runner: runner,
		logger: logger.With().Str("resource", cfg.Name).Str("path", cfg.Path).Logger(),
	}, nil
}

// Ref implements engine.Adapter.
func (a *Adapter) Ref() engine.ResourceRef {
	return engine.ResourceRef{
		Kind:           engine.KindFileBlock,
		Name:           a.cfg.Name,
		Location:       a.cfg.Path,
		AccessCritical: a.cfg.AccessCritical,
	}
}

// Path returns the managed file path.
func (a *Adapter) Path() string {
	return a.cfg.Path
}

// Probe implements engine.Adapter. A missing file is an existing resource
// with no entries. For sshd_config the probed content includes the files
// named by Include lines, so the state is what sshd would use.
func (a *Adapter) Probe(ctx context.Context) (engine.RawState, error) {
	raw, err := a.read(ctx, "probe")
	if err != nil || a.cfg.Syntax != SyntaxSSHD || !raw.Exists {
		return raw, err
	}

	doc, err := a.expand(ctx, raw.Content)
	if err != nil {
		return engine.RawState{}, engine.NewUnavailableError("failed to read included files", err).
			WithResource(a.cfg.Name).WithOperation("probe").WithDetail("path", a.cfg.Path)
	}
	return engine.RawState{Content: doc.render(), Exists: true}, nil
}

// Normalize implements engine.Adapter.
func (a *Adapter) Normalize(raw engine.RawState) (engine.State, error) {
	return parse(a.cfg.Syntax, raw.Content).state(), nil
}

// CanonicalKey implements engine.Adapter.
func (a *Adapter) CanonicalKey(key string) string {
	return canonicalKey(a.cfg.Syntax, key)
}

// Apply implements engine.Adapter.
func (a *Adapter) Apply(ctx context.Context, action engine.Action) error {
	raw, err := a.read(ctx, "apply")
	if err != nil {
		return err
	}

	if a.cfg.Syntax == SyntaxSSHD {
		key := a.CanonicalKey(action.Directive.Key)
		owner, err := a.includedOwner(ctx, raw.Content, key)
		if err != nil {
			return engine.NewUnavailableError("failed to read included files", err).
				WithResource(a.cfg.Name).WithOperation("apply").WithDetail("path", a.cfg.Path)
		}
		if owner != "" {
			a.logger.Warn().Str("key", action.Directive.Key).Str("include", owner).Msg("Key is set by an included file")
			return engine.NewApplyRejectedError(
				fmt.Sprintf("%s is set in included file %s, which sshd reads first", action.Directive.Key, owner), nil,
			).WithResource(a.cfg.Name).WithOperation("apply").WithDetail("include", owner)
		}
	}

	updated, err := a.render(raw, action)
	if err != nil {
		return err
	}
	if string(updated) == string(raw.Content) && (raw.Exists || len(updated) == 0) {
		a.logger.Debug().Str("key", action.Directive.Key).Msg("File already up to date")
		return nil
	}

	if err := a.fs.WriteFile(ctx, a.cfg.Path, updated, defaultPerm); err != nil {
		return engine.NewApplyRejectedError("failed to write file", err).
			WithResource(a.cfg.Name).WithOperation("apply").WithDetail("path", a.cfg.Path)
	}
	a.logger.Info().
		Str("action", string(action.Kind)).
		Str("key", action.Directive.Key).
		Msg("File updated")
	return nil
}

// render returns the file content after applying action to raw.
func (a *Adapter) render(raw engine.RawState, action engine.Action) ([]byte, error) {
	doc := parse(a.cfg.Syntax, raw.Content)
	d := action.Directive

	switch action.Kind {
	case engine.ActionAdd, engine.ActionReplace:
		if strings.TrimSpace(d.Value) == "" && d.Match == engine.MatchPresence {
			return nil, engine.NewApplyRejectedError("presence directive has no value to write", nil).
				WithResource(a.cfg.Name).WithDetail("key", d.Key)
		}
		doc.set(d.Key, d.Value)
	case engine.ActionRemove:
		doc.remove(d.Key)
	default:
		return nil, engine.NewApplyRejectedError(fmt.Sprintf("unsupported action %s", action.Kind), nil).
			WithResource(a.cfg.Name)
	}
	return doc.render(), nil
}

// Preview returns a unified diff of the change action would make.
func (a *Adapter) Preview(ctx context.Context, action engine.Action) (string, error) {
	if !action.Kind.IsMutating() {
		return "", nil
	}
	raw, err := a.read(ctx, "preview")
	if err != nil {
		return "", err
	}
	updated, err := a.render(raw, action)
	if err != nil {
		return "", err
	}
	return Diff(raw.Content, updated, a.cfg.Path, a.cfg.Path+" (planned)"), nil
}

// Validate implements engine.Validator.
func (a *Adapter) Validate(ctx context.Context) error {
	if a.cfg.ValidateCommand == "" {
		return nil
	}
	res, err := a.runner.Run(ctx, a.command(a.cfg.ValidateCommand))
	if err != nil {
		return engine.NewValidationError("validation command could not run", err).
			WithResource(a.cfg.Name).WithOperation("validate")
	}
	if !res.Success() {
		return engine.NewValidationError(fmt.Sprintf("validation exited with status %d", res.ExitCode), errors.New(res.Output())).
			WithResource(a.cfg.Name).WithOperation("validate")
	}
	return nil
}

// Reload implements engine.Reloader.
func (a *Adapter) Reload(ctx context.Context) error {
	if a.cfg.ReloadCommand == "" {
		return nil
	}
	res, err := a.runner.Run(ctx, a.command(a.cfg.ReloadCommand))
	if err != nil {
		return fmt.Errorf("reload command could not run: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("reload exited with status %d: %s", res.ExitCode, res.Output())
	}
	a.logger.Info().Str("command", a.cfg.ReloadCommand).Msg("Service reloaded")
	return nil
}

// command expands {path} and splits a configured command line on whitespace.
func (a *Adapter) command(line string) transports.Command {
	fields := strings.Fields(strings.ReplaceAll(line, "{path}", a.cfg.Path))
	return transports.Command{Name: fields[0], Args: fields[1:]}
}

// Snapshot implements engine.Snapshotter.
func (a *Adapter) Snapshot(ctx context.Context) (engine.RawState, error) {
	return a.read(ctx, "snapshot")
}

// Restore implements engine.Snapshotter. A snapshot of a missing file
// restores by removing the file.
func (a *Adapter) Restore(ctx context.Context, raw engine.RawState) error {
	if !raw.Exists {
		if err := a.fs.Remove(ctx, a.cfg.Path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", a.cfg.Path, err)
		}
		return nil
	}
	if err := a.fs.WriteFile(ctx, a.cfg.Path, raw.Content, defaultPerm); err != nil {
		return fmt.Errorf("failed to restore %s: %w", a.cfg.Path, err)
	}
	a.logger.Info().Int("bytes", len(raw.Content)).Msg("File restored")
	return nil
}

func (a *Adapter) read(ctx context.Context, op string) (engine.RawState, error) {
	data, err := a.fs.ReadFile(ctx, a.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.RawState{Exists: false}, nil
		}
		return engine.RawState{}, engine.NewUnavailableError("failed to read file", err).
			WithResource(a.cfg.Name).WithOperation(op).WithDetail("path", a.cfg.Path)
	}
	return engine.RawState{Content: data, Exists: true}, nil
}

var (
	_ engine.Adapter     = (*Adapter)(nil)
	_ engine.Validator   = (*Adapter)(nil)
	_ engine.Reloader    = (*Adapter)(nil)
	_ engine.Snapshotter = (*Adapter)(nil)
)
