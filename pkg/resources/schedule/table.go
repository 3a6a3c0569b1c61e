package schedule

import (
	"fmt"
	"strings"

	"github.com/openfroyo/converge/pkg/engine"
)

var macroAliases = map[string]string{
	"@midnight": "@daily",
	"@annually": "@yearly",
}

var macros = map[string]bool{
	"@reboot":  true,
	"@yearly":  true,
	"@monthly": true,
	"@weekly":  true,
	"@daily":   true,
	"@hourly":  true,
}

type job struct {
	schedule string
	command  string
}

// entry is one crontab line. Non-job lines keep their text verbatim.
type entry struct {
	text string
	job  *job
}

func parseTable(content string) []entry {
	if content == "" {
		return nil
	}
	var entries []entry
	for _, row := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		entries = append(entries, entry{text: row, job: parseJob(row)})
	}
	return entries
}

// parseJob returns nil for comments, blank lines and environment assignments.
func parseJob(row string) *job {
	fields := strings.Fields(row)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	if isAssignment(row) {
		return nil
	}

	if strings.HasPrefix(fields[0], "@") {
		if len(fields) < 2 {
			return nil
		}
		return &job{
			schedule: canonicalSchedule(fields[0]),
			command:  strings.Join(fields[1:], " "),
		}
	}
	if len(fields) < 6 {
		return nil
	}
	return &job{
		schedule: strings.Join(fields[:5], " "),
		command:  strings.Join(fields[5:], " "),
	}
}

// isAssignment reports whether row is "NAME=value" (spaces around '=' allowed).
func isAssignment(row string) bool {
	name, _, ok := strings.Cut(strings.TrimSpace(row), "=")
	if !ok {
		return false
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func canonicalSchedule(s string) string {
	s = engine.CollapseSpace(s)
	if strings.HasPrefix(s, "@") {
		s = strings.ToLower(s)
		if alias, ok := macroAliases[s]; ok {
			return alias
		}
	}
	return s
}

func validateSchedule(s string) error {
	if strings.HasPrefix(s, "@") {
		if !macros[s] {
			return fmt.Errorf("unknown schedule macro %q", s)
		}
		return nil
	}
	if n := len(strings.Fields(s)); n != 5 {
		return fmt.Errorf("schedule %q has %d fields, want 5", s, n)
	}
	return nil
}

func formatJob(schedule, command string) string {
	return schedule + " " + command
}

// setJob rewrites the first job running command or appends a new one.
func setJob(entries []entry, command, schedule string) []entry {
	j := &job{schedule: schedule, command: command}
	for i, e := range entries {
		if e.job != nil && e.job.command == command {
			entries[i] = entry{text: formatJob(schedule, command), job: j}
			return entries
		}
	}
	return append(entries, entry{text: formatJob(schedule, command), job: j})
}

// removeJob drops every job running command.
func removeJob(entries []entry, command string) []entry {
	kept := entries[:0]
	for _, e := range entries {
		if e.job != nil && e.job.command == command {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// renderTable serializes entries. crontab requires a trailing newline.
func renderTable(entries []entry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.text)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
