package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

// unconvergedOutcomes are the outcomes that leave a directive unsatisfied.
var unconvergedOutcomes = []engine.Outcome{
	engine.OutcomeFailed,
	engine.OutcomeRolledBack,
	engine.OutcomeConvergenceMismatch,
	engine.OutcomeAborted,
	engine.OutcomeUnavailable,
}

func newAuditCommand() *cobra.Command {
	var (
		runID       string
		unconverged bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
		Long: `Show past runs and the actions they executed.

Without flags, the most recent runs are listed. --run shows every entry of
one run; --unconverged shows entries whose directive was left unsatisfied
(failed, rolled back, mismatched, aborted or unavailable).`,
		Example: `  # List recent runs
  converge audit

  # Show the entries of one run
  converge audit --run 3f2a9c1e-...

  # Show what remains unconverged across all runs
  converge audit --unconverged --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, needs{store: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			out := cmd.OutOrStdout()

			if runID == "" && !unconverged {
				runs, err := a.store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, runs)
				}
				printRuns(out, runs)
				return nil
			}

			filter := engine.RunFilter{RunID: runID, Limit: limit}
			if unconverged {
				filter.Outcomes = unconvergedOutcomes
			}
			entries, err := a.store.Entries(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if runID != "" && len(entries) == 0 {
				if _, err := a.store.GetRun(cmd.Context(), runID); err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No matching audit entries.")
				return nil
			}
			printEntries(out, entries, runID == "")
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the entries of one run")
	cmd.Flags().BoolVar(&unconverged, "unconverged", false, "show only entries left unconverged")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows (0 for all)")

	return cmd
}

func printRuns(w io.Writer, runs []*engine.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Host", "Source", "Status"})
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		status := successColor.Sprint(r.Status)
		if r.Status != engine.RunStatusSucceeded {
			status = warningColor.Sprint(r.Status)
		}
		t.AppendRow(table.Row{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			r.Host,
			truncate(r.Source),
			status,
		})
	}
	t.Render()
}
