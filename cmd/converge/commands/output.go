package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/openfroyo/converge/pkg/engine"
)

var (
	addColor     = color.New(color.FgGreen)
	replaceColor = color.New(color.FgYellow)
	removeColor  = color.New(color.FgRed)
	abortColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
	riskColor    = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
)

const maxCellWidth = 48

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func actionLabel(kind engine.ActionKind) string {
	switch kind {
	case engine.ActionAdd:
		return addColor.Sprint("+ add")
	case engine.ActionReplace:
		return replaceColor.Sprint("~ replace")
	case engine.ActionRemove:
		return removeColor.Sprint("- remove")
	case engine.ActionAbort:
		return abortColor.Sprint("! abort")
	default:
		return dimColor.Sprint("  skip")
	}
}

func outcomeLabel(outcome engine.Outcome) string {
	switch {
	case outcome == engine.OutcomeApplied:
		return addColor.Sprint(outcome)
	case outcome == engine.OutcomeSkipped:
		return dimColor.Sprint(outcome)
	case outcome.IsFailure(), outcome == engine.OutcomeAborted:
		return removeColor.Sprint(outcome)
	default:
		return replaceColor.Sprint(outcome)
	}
}

// resourceName resolves the adapter instance a directive addresses, falling
// back to its kind when the registry cannot resolve it.
func resourceName(registry engine.Registry, d engine.Directive) string {
	if d.Resource != "" {
		return d.Resource
	}
	if registry != nil {
		if adapter, err := registry.Resolve(d); err == nil {
			return adapter.Ref().Name
		}
	}
	return string(d.Kind)
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxCellWidth {
		return s
	}
	return s[:maxCellWidth-3] + "..."
}

func desired(d engine.Directive) string {
	switch {
	case d.IsRemoval():
		return "(absent)"
	case d.Match == engine.MatchPresence:
		return "(present)"
	default:
		return d.Value
	}
}

func current(a engine.Action) string {
	if !a.Present {
		return "(absent)"
	}
	return a.Current
}

// printPlan renders a plan. risks maps action indexes to the reasons the
// action needs confirmation.
func printPlan(w io.Writer, plan *engine.Plan, registry engine.Registry, risks map[int][]string) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Resource", "Key", "Action", "Current", "Desired", "Rationale"})

	for i, a := range plan.Actions {
		label := actionLabel(a.Kind)
		if _, risky := risks[i]; risky {
			label += riskColor.Sprint(" *")
		}
		t.AppendRow(table.Row{
			i + 1,
			resourceName(registry, a.Directive),
			truncate(a.Directive.Key),
			label,
			truncate(current(a)),
			truncate(desired(a.Directive)),
			truncate(a.Rationale),
		})
	}
	t.Render()

	for i := range plan.Actions {
		reasons, ok := risks[i]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s action %d needs confirmation:\n", riskColor.Sprint("*"), i+1)
		for _, r := range reasons {
			fmt.Fprintf(w, "    - %s\n", r)
		}
	}

	printSummary(w, plan.Summary)
}

func printSummary(w io.Writer, s engine.PlanSummary) {
	changes := s.Add + s.Replace + s.Remove
	if changes == 0 && s.Abort == 0 {
		fmt.Fprintf(w, "\n%s %d directive(s) already converged.\n", successColor.Sprint("No changes."), s.Total)
		if s.Unavailable > 0 {
			fmt.Fprintf(w, "%s %d directive(s) skipped: resource unavailable.\n", warningColor.Sprint("Warning:"), s.Unavailable)
		}
		return
	}

	fmt.Fprintf(w, "\n%s %s to add, %s to replace, %s to remove, %s aborted, %d unchanged.\n",
		headerColor.Sprint("Plan:"),
		addColor.Sprint(s.Add),
		replaceColor.Sprint(s.Replace),
		removeColor.Sprint(s.Remove),
		abortColor.Sprint(s.Abort),
		s.Skip,
	)
	if s.Unavailable > 0 {
		fmt.Fprintf(w, "%s %d directive(s) skipped: resource unavailable.\n", warningColor.Sprint("Warning:"), s.Unavailable)
	}
}

// printEntries renders audit entries.
func printEntries(w io.Writer, entries []*engine.AuditEntry, withRun bool) {
	t := newTable(w)
	header := table.Row{"#", "Resource", "Key", "Action", "Outcome", "Detail", "Snapshot"}
	if withRun {
		header = append(table.Row{"Run", "Time"}, header...)
	}
	t.AppendHeader(header)

	for _, e := range entries {
		row := table.Row{
			e.Sequence + 1,
			resourceName(nil, e.Action.Directive),
			truncate(e.Action.Directive.Key),
			string(e.Action.Kind),
			outcomeLabel(e.Outcome),
			truncate(e.Detail),
			shortID(e.SnapshotRef),
		}
		if withRun {
			row = append(table.Row{shortID(e.RunID), e.Timestamp.Local().Format("2006-01-02 15:04:05")}, row...)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func printSnapshots(w io.Writer, snaps []*engine.ResourceSnapshot) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Resource", "Location", "Captured", "Size", "Run"})
	for _, s := range snaps {
		size := strconv.FormatInt(s.Size, 10)
		if !s.Existed {
			size = "(missing)"
		}
		t.AppendRow(table.Row{
			s.ID,
			s.Ref.Name,
			s.Ref.Location,
			s.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			size,
			shortID(s.RunID),
		})
	}
	t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pointers(entries []engine.AuditEntry) []*engine.AuditEntry {
	out := make([]*engine.AuditEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out
}
