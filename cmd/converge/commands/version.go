package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, map[string]string{
					"version":    buildInfo.version,
					"commit":     buildInfo.commit,
					"build_date": buildInfo.buildDate,
					"go":         runtime.Version(),
				})
			}
			fmt.Fprintf(out, "converge %s\n", buildInfo.version)
			fmt.Fprintf(out, "  commit: %s\n", buildInfo.commit)
			fmt.Fprintf(out, "  built:  %s\n", buildInfo.buildDate)
			fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
			return nil
		},
	}
}
