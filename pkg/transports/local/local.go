// Package local implements host access on the machine converge runs on.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/transports"
)

// Runner runs commands with os/exec.
type Runner struct {
	// Sudo prefixes every command with "sudo -n".
	Sudo bool

	logger zerolog.Logger
}

// NewRunner creates a local runner.
func NewRunner(logger zerolog.Logger, sudo bool) *Runner {
	return &Runner{Sudo: sudo, logger: logger.With().Str("component", "local-runner").Logger()}
}

// Run implements transports.Runner.
func (r *Runner) Run(ctx context.Context, c transports.Command) (transports.Result, error) {
	name, args := c.Name, c.Args
	if r.Sudo {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}

	if _, err := exec.LookPath(c.Name); err != nil {
		return transports.Result{}, fmt.Errorf("%s: %w", c.Name, transports.ErrCommandNotFound)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	result := transports.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	r.logger.Debug().
		Str("command", c.String()).
		Dur("duration", result.Duration).
		Err(err).
		Msg("command completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%s: %w", c.Name, transports.ErrCommandNotFound)
		}
		return result, fmt.Errorf("failed to execute %s: %w", c.Name, err)
	}

	return result, nil
}

// FS is file access through the os package.
type FS struct{}

// ReadFile implements transports.FS.
func (FS) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat implements transports.FS.
func (FS) Stat(_ context.Context, path string) (transports.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return transports.FileInfo{}, err
	}
	return transports.FileInfo{Mode: info.Mode().Perm(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Glob implements transports.FS.
func (FS) Glob(_ context.Context, pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

// Remove implements transports.FS.
func (FS) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFile implements transports.FS. The content is written to a temporary
// file in the same directory, synced and renamed over the target.
func (FS) WriteFile(_ context.Context, path string, data []byte, perm fs.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".converge-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// NewHost returns the local host.
func NewHost(logger zerolog.Logger, sudo bool) *transports.Host {
	return &transports.Host{
		Name:   "local",
		Runner: NewRunner(logger, sudo),
		FS:     FS{},
	}
}
