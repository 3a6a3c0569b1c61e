package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/prompt"
)

// applyOutput is the JSON form of an apply.
type applyOutput struct {
	Plan    *engine.Plan        `json:"plan"`
	Reviews []engine.Review     `json:"reviews"`
	RunID   string              `json:"run_id,omitempty"`
	Status  engine.RunStatus    `json:"status,omitempty"`
	Entries []engine.AuditEntry `json:"entries,omitempty"`
}

func newApplyCommand() *cobra.Command {
	var (
		file           string
		varFlags       []string
		autoApprove    bool
		nonInteractive bool
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Bring the host in line with a directive set",
		Long: `Plan a directive set, confirm risky actions and execute the plan.

This command:
  - Probes every addressed resource and computes the plan
  - Asks for confirmation of risky actions, such as removing the SSH rule
    from the firewall or changing login settings in sshd_config
  - Snapshots file resources before writing and rolls them back when
    validation or reload fails
  - Re-probes after each change and reports directives that did not converge
  - Records every action in the audit log

Declining a risky action skips it; the command still succeeds. The command
exits non-zero when any directive is left unconverged.`,
		Example: `  # Apply with confirmation prompts for risky actions
  converge apply -f hardening.yaml

  # Apply from a pipeline, approving everything
  converge apply -f hardening.yaml --auto-approve

  # Apply only what needs no confirmation
  converge apply -f hardening.yaml --non-interactive

  # Show what would run after confirmation without changing anything
  converge apply -f hardening.yaml --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if autoApprove && nonInteractive {
				return fmt.Errorf("--auto-approve and --non-interactive are mutually exclusive")
			}
			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, needs{host: true, store: !dryRun, policy: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			var approver engine.Approver
			switch {
			case autoApprove:
				approver = engine.AutoApprove{}
			case nonInteractive:
				approver = engine.DeclineAll{}
			default:
				if file == config.StdinSource {
					return fmt.Errorf("directives on stdin need --auto-approve or --non-interactive")
				}
				approver = prompt.NewTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
				if !prompt.IsTerminal(cmd.InOrStdin()) {
					a.logger.Warn().Msg("Input is not a terminal, risky actions will be declined")
				}
			}

			return a.runApply(cmd.Context(), cmd.OutOrStdout(), file, vars, approver, dryRun)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "directive file (.yaml, .yml, .star, .cue, or - for stdin)")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "script variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve risky actions without prompting")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "decline risky actions without prompting")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop after confirmation, do not execute")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (a *app) runApply(ctx context.Context, w io.Writer, file string, vars map[string]interface{}, approver engine.Approver, dryRun bool) error {
	set, err := config.LoadDirectives(ctx, file, vars)
	if err != nil {
		return err
	}

	rec := a.reconciler(approver)
	plan, err := a.plan(ctx, rec, set)
	if err != nil {
		return err
	}

	if !jsonOutput {
		printPlan(w, plan, a.registry, a.classify(ctx, plan))
	}

	reviewed, reviews, err := rec.Review(ctx, plan)
	if err != nil {
		return err
	}
	declined := 0
	for _, r := range reviews {
		if r.Decision == engine.DecisionDeclined {
			declined++
		}
	}

	if dryRun {
		if jsonOutput {
			return writeJSON(w, applyOutput{Plan: reviewed, Reviews: reviews})
		}
		if !reviewed.HasChanges() {
			fmt.Fprintf(w, "\n%s nothing would change, %d declined.\n", headerColor.Sprint("Dry run:"), declined)
			return nil
		}
		fmt.Fprintf(w, "\n%s %d action(s) would run, %d declined.\n",
			headerColor.Sprint("Dry run:"), reviewed.Summary.Add+reviewed.Summary.Replace+reviewed.Summary.Remove, declined)
		return nil
	}

	runCtx, span := a.telemetry.Tracer.StartRunSpan(ctx, reviewed.ID, a.host.Name)
	started := time.Now()
	entries, execErr := rec.Execute(runCtx, reviewed)

	status := runStatus(entries, execErr)
	runID := ""
	if len(entries) > 0 {
		runID = entries[0].RunID
		if run, err := a.store.GetRun(context.WithoutCancel(ctx), runID); err == nil {
			status = run.Status
		}
	}
	a.telemetry.RecordRun(span, runID, status, time.Since(started))
	a.telemetry.Logger.WithRunID(runID).WithHost(a.host.Name).Infof("Run finished: %s, %d action(s)", status, len(entries))

	if jsonOutput {
		if err := writeJSON(w, applyOutput{Plan: reviewed, Reviews: reviews, RunID: runID, Status: status, Entries: entries}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w)
		printEntries(w, pointers(entries), false)
		printRunResult(w, runID, status, entries, declined)
	}

	if execErr != nil {
		return execErr
	}
	if status != engine.RunStatusSucceeded {
		return errUnconverged
	}
	return nil
}

// runStatus derives the run status from the entries when the store cannot
// be asked.
func runStatus(entries []engine.AuditEntry, execErr error) engine.RunStatus {
	if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
		return engine.RunStatusCancelled
	}
	for _, e := range entries {
		if e.Outcome.IsFailure() || e.Outcome == engine.OutcomeConvergenceMismatch || e.Outcome == engine.OutcomeAborted {
			return engine.RunStatusPartial
		}
	}
	return engine.RunStatusSucceeded
}

func printRunResult(w io.Writer, runID string, status engine.RunStatus, entries []engine.AuditEntry, declined int) {
	counts := make(map[engine.Outcome]int)
	for _, e := range entries {
		counts[e.Outcome]++
	}

	label := successColor.Sprint(status)
	if status != engine.RunStatusSucceeded {
		label = warningColor.Sprint(status)
	}
	fmt.Fprintf(w, "\nRun %s %s: %d applied, %d skipped, %d failed, %d rolled back, %d mismatched, %d aborted, %d unavailable.\n",
		runID, label,
		counts[engine.OutcomeApplied],
		counts[engine.OutcomeSkipped],
		counts[engine.OutcomeFailed],
		counts[engine.OutcomeRolledBack],
		counts[engine.OutcomeConvergenceMismatch],
		counts[engine.OutcomeAborted],
		counts[engine.OutcomeUnavailable],
	)
	if declined > 0 {
		fmt.Fprintf(w, "%d risky action(s) declined and skipped.\n", declined)
	}
}
