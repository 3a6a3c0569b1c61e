package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/prompt"
	"github.com/openfroyo/converge/pkg/resources/textfile"
)

func newBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backups",
		Aliases: []string{"backup"},
		Short:   "Manage the snapshots taken before file changes",
		Long: `Every change to a file resource is preceded by a snapshot of the file.
Snapshots are kept until removed by hand. Use these commands to list them,
compare them with the live file and write one back.`,
	}

	cmd.AddCommand(newBackupsListCommand())
	cmd.AddCommand(newBackupsShowCommand())
	cmd.AddCommand(newBackupsDiffCommand())
	cmd.AddCommand(newBackupsRestoreCommand())

	return cmd
}

func newBackupsListCommand() *cobra.Command {
	var (
		resource string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Example: `  converge backups list
  converge backups list --resource sshd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, needs{store: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			snaps, err := a.store.ListSnapshots(cmd.Context(), resource, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, snaps)
			}
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No snapshots.")
				return nil
			}
			printSnapshots(out, snaps)
			return nil
		},
	}

	cmd.Flags().StringVarP(&resource, "resource", "r", "", "only snapshots of this resource")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of snapshots (0 for all)")

	return cmd
}

func newBackupsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <snapshot-id>",
		Short:   "Print the content of a snapshot",
		Example: `  converge backups show 7c1d0e52-...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, needs{store: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			snap, err := a.store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, struct {
					*engine.ResourceSnapshot
					Content string `json:"content"`
				}{snap, string(snap.Content)})
			}
			if !snap.Existed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s did not exist when snapshot %s was taken\n", snap.Ref.Location, snap.ID)
				return nil
			}
			_, err = out.Write(snap.Content)
			return err
		},
	}
}

func newBackupsDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <snapshot-id>",
		Short: "Compare a snapshot with the live file",
		Long: `Show a unified diff from the snapshot to the current content of the file
on the target host. No output means the file is unchanged since the snapshot.`,
		Example: `  converge backups diff 7c1d0e52-...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, needs{host: true, store: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			snap, err := a.store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snapshotter, err := a.snapshotter(snap)
			if err != nil {
				return err
			}
			live, err := snapshotter.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			diff := textfile.Diff(snap.Content, live.Content,
				fmt.Sprintf("%s (snapshot %s)", snap.Ref.Location, shortID(snap.ID)),
				fmt.Sprintf("%s (live)", snap.Ref.Location),
			)
			if diff == "" && snap.Existed != live.Exists {
				diff = fmt.Sprintf("%s existed: %t in snapshot, %t live\n", snap.Ref.Location, snap.Existed, live.Exists)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, map[string]string{"snapshot": snap.ID, "diff": diff})
			}
			fmt.Fprint(out, diff)
			return nil
		},
	}
}

func newBackupsRestoreCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Write a snapshot back to its file",
		Long: `Write a snapshot back to the file it was taken from.

The current content is snapshotted first, so a restore can be undone with
another restore. The restored file is validated and the service reloaded;
if either fails the previous content is put back. The restore is recorded in
the audit log as a run of its own.`,
		Example: `  # Restore with a confirmation prompt
  converge backups restore 7c1d0e52-...

  # Restore without asking
  converge backups restore 7c1d0e52-... --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, needs{host: true, store: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			snap, err := a.store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.snapshotter(snap); err != nil {
				return err
			}

			if !force {
				term := prompt.NewTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
				question := fmt.Sprintf("Restore %s from snapshot %s taken %s?",
					snap.Ref.Location, snap.ID, snap.CapturedAt.Local().Format("2006-01-02 15:04:05"))
				ok, err := term.Confirm(cmd.Context(), question)
				if err != nil {
					return fmt.Errorf("%w (use --force to restore without confirmation)", err)
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Restore cancelled.")
					return nil
				}
			}

			entry, err := a.reconciler(engine.DeclineAll{}).Restore(cmd.Context(), snap.ID)
			if err != nil && entry == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if werr := writeJSON(out, entry); werr != nil {
					return werr
				}
			} else {
				printEntries(out, []*engine.AuditEntry{entry}, true)
				if entry.SnapshotRef != "" {
					fmt.Fprintf(out, "Previous content saved as snapshot %s.\n", entry.SnapshotRef)
				}
			}

			if err != nil {
				return err
			}
			if entry.Outcome != engine.OutcomeApplied {
				return fmt.Errorf("restore of snapshot %s %s: %s", snap.ID, entry.Outcome, entry.Detail)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "restore without confirmation")

	return cmd
}

// snapshotter returns the configured adapter a snapshot was taken from.
func (a *app) snapshotter(snap *engine.ResourceSnapshot) (engine.Snapshotter, error) {
	adapter, ok := a.registry.Lookup(snap.Ref.Name)
	if !ok {
		return nil, fmt.Errorf("snapshot %s belongs to resource %q, which is not configured", snap.ID, snap.Ref.Name)
	}
	snapshotter, ok := adapter.(engine.Snapshotter)
	if !ok {
		return nil, fmt.Errorf("resource %s does not support snapshots", adapter.Ref())
	}
	return snapshotter, nil
}
