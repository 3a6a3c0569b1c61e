package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	hostTarget string
	verbose    bool
	jsonOutput bool
)

// buildInfo is set by Execute.
var buildInfo = struct {
	version   string
	commit    string
	buildDate string
}{version: "dev", commit: "unknown", buildDate: "unknown"}

// errUnconverged is returned when a run leaves directives unconverged, so
// the process exits non-zero.
var errUnconverged = errors.New("run finished with unconverged directives")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildInfo.version = version
	buildInfo.commit = commit
	buildInfo.buildDate = buildDate

	rootCmd := newRootCommand()
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "converge - idempotent host configuration",
		Long: `converge brings a host's firewall rules, configuration files and scheduled
jobs in line with a declarative directive set, changing only what differs.

Features:
  - Plans are pure previews: every directive maps to skip, add, replace,
    remove or abort
  - Risky changes to access-critical resources wait for confirmation
  - File changes are snapshotted, validated and rolled back on failure
  - Every executed action is recorded in an append-only audit log
  - Works on the local host or over SSH`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", buildInfo.version, buildInfo.commit, buildInfo.buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default $CONVERGE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&hostTarget, "host", "", "target host as [user@]host[:port] (default from settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newBackupsCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
