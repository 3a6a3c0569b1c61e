// Package transports provides host access for resource adapters: running
// backend tools and reading or writing configuration files, either on the
// local machine or on a remote host over SSH.
package transports

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"
)

// ErrCommandNotFound is returned by a Runner when the backend tool is not
// installed on the target host.
var ErrCommandNotFound = errors.New("command not found")

// Command is a program invocation without a shell.
type Command struct {
	// Name is the program to run.
	Name string

	// Args are passed to the program verbatim.
	Args []string

	// Stdin is written to the program's standard input when non-nil.
	Stdin []byte
}

// String renders the command as a shell-quoted line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, ShellQuote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, ShellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// ExitCode is the process exit status.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Success returns true if the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stderr when present, stdout otherwise, trimmed.
// Used for error messages.
func (r Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner runs commands on the target host. A non-zero exit status is not an
// error: it is reported in Result.ExitCode. Errors mean the command could not
// be run at all (ErrCommandNotFound, connection lost, context cancelled).
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// FileInfo describes a file on the target host.
type FileInfo struct {
	Mode    fs.FileMode
	Size    int64
	ModTime time.Time
}

// FS is file access on the target host. Missing files are reported with
// errors satisfying errors.Is(err, fs.ErrNotExist).
type FS interface {
	// ReadFile returns the file content.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the file content atomically (temp file + rename).
	// An existing file keeps its mode; a new file gets perm.
	WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error

	// Stat returns file metadata.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Remove deletes the file. Removing a missing file is not an error.
	Remove(ctx context.Context, path string) error

	// Glob returns the sorted paths matching a shell pattern.
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// Host bundles the runner and file access of one target.
type Host struct {
	// Name labels the target ("local" or user@host:port).
	Name string

	Runner Runner
	FS     FS

	// Close releases connections. Nil for the local host.
	Close func() error
}

// ShellQuote quotes s for a POSIX shell when it contains anything other than
// safe characters.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%_-+=:,./", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
