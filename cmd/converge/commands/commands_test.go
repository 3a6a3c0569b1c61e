package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/prompt"
)

const sysctlConf = `# tuned by hand
vm.swappiness = 60
kernel.panic = 10
`

const directivesYAML = `directives:
  - kind: file_block
    key: vm.swappiness
    value: "10"
  - kind: file_block
    key: kernel.panic
    ensure: absent
  - kind: file_block
    key: net.ipv4.ip_forward
    value: "1"
`

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type env struct {
	dir        string
	settings   string
	conf       string
	directives string
}

func newEnv(t *testing.T, critical bool) *env {
	t.Helper()
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CONVERGE_CONFIG", "")

	dir := t.TempDir()
	e := &env{
		dir:        dir,
		settings:   filepath.Join(dir, "converge.yaml"),
		conf:       filepath.Join(dir, "sysctl.conf"),
		directives: filepath.Join(dir, "tuning.yaml"),
	}

	settings := fmt.Sprintf(`state_dir: %s
transport:
  type: local
resources:
  - name: sysctl
    kind: file_block
    path: %s
    syntax: kv
    access_critical: %t
telemetry:
  log_level: error
`, filepath.Join(dir, "state"), e.conf, critical)

	require.NoError(t, os.WriteFile(e.settings, []byte(settings), 0o644))
	require.NoError(t, os.WriteFile(e.conf, []byte(sysctlConf), 0o644))
	require.NoError(t, os.WriteFile(e.directives, []byte(directivesYAML), 0o644))
	return e
}

// run executes the CLI with the env's settings file and returns stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := e.runLogged(t, args...)
	return stdout, err
}

// runLogged is run that also returns the log output written to stderr.
func (e *env) runLogged(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", e.settings}, args...))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (e *env) content(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.conf)
	require.NoError(t, err)
	return string(data)
}

func TestPlan_DoesNotChangeHost(t *testing.T) {
	e := newEnv(t, false)

	out, err := e.run(t, "plan", "-f", e.directives)
	require.NoError(t, err)

	assert.Contains(t, out, "replace")
	assert.Contains(t, out, "remove")
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "1 to add, 1 to replace, 1 to remove")
	assert.Equal(t, sysctlConf, e.content(t))
}

func TestPlan_JSONAndDiff(t *testing.T) {
	e := newEnv(t, false)

	out, err := e.run(t, "plan", "-f", e.directives, "--json")
	require.NoError(t, err)

	var result struct {
		Plan engine.Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Plan.Actions, 3)
	assert.Equal(t, engine.ActionReplace, result.Plan.Actions[0].Kind)
	assert.Equal(t, "60", result.Plan.Actions[0].Current)
	assert.Equal(t, engine.ActionRemove, result.Plan.Actions[1].Kind)
	assert.Equal(t, engine.ActionAdd, result.Plan.Actions[2].Kind)

	out, err = e.run(t, "plan", "-f", e.directives, "--diff")
	require.NoError(t, err)
	assert.Contains(t, out, "-vm.swappiness = 60")
	assert.Contains(t, out, "+vm.swappiness = 10")
}

func TestPlan_InvalidDirectives(t *testing.T) {
	e := newEnv(t, false)
	bad := filepath.Join(e.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("directives:\n  - kind: service\n    key: nginx\n"), 0o644))

	_, err := e.run(t, "plan", "-f", bad)
	require.Error(t, err)
	assert.True(t, engine.IsInvalidDirective(err))
	assert.Contains(t, err.Error(), "directive 1")
}

func TestApply_ConvergesAndIsIdempotent(t *testing.T) {
	e := newEnv(t, false)

	out, err := e.run(t, "apply", "-f", e.directives, "--auto-approve", "--json")
	require.NoError(t, err)

	var result applyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, engine.RunStatusSucceeded, result.Status)
	require.Len(t, result.Entries, 3)
	for _, entry := range result.Entries {
		assert.Equal(t, engine.OutcomeApplied, entry.Outcome, entry.Detail)
		assert.NotEmpty(t, entry.SnapshotRef)
	}

	content := e.content(t)
	assert.Contains(t, content, "vm.swappiness = 10")
	assert.Contains(t, content, "net.ipv4.ip_forward = 1")
	assert.NotContains(t, content, "kernel.panic")
	assert.Contains(t, content, "# tuned by hand")

	out, err = e.run(t, "plan", "-f", e.directives, "--json")
	require.NoError(t, err)
	var replan struct {
		Plan engine.Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &replan))
	assert.True(t, replan.Plan.AllSkip())

	// A second apply changes nothing and records skipped entries.
	_, err = e.run(t, "apply", "-f", e.directives, "--auto-approve")
	require.NoError(t, err)
	assert.Equal(t, content, e.content(t))

	out, err = e.run(t, "audit", "--json")
	require.NoError(t, err)
	var runs []engine.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 2)

	out, err = e.run(t, "audit", "--run", result.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")
	assert.Contains(t, out, "vm.swappiness")

	out, err = e.run(t, "audit", "--unconverged")
	require.NoError(t, err)
	assert.Contains(t, out, "No matching audit entries.")
}

func TestApply_DryRun(t *testing.T) {
	e := newEnv(t, false)

	out, err := e.run(t, "apply", "-f", e.directives, "--auto-approve", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: 3 action(s) would run, 0 declined.")
	assert.Equal(t, sysctlConf, e.content(t))
}

func TestApply_DryRunWhenConverged(t *testing.T) {
	e := newEnv(t, false)

	_, err := e.run(t, "apply", "-f", e.directives, "--auto-approve")
	require.NoError(t, err)
	content := e.content(t)

	out, err := e.run(t, "apply", "-f", e.directives, "--auto-approve", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: nothing would change, 0 declined.")
	assert.Equal(t, content, e.content(t))
}

func TestApply_LogsRunID(t *testing.T) {
	e := newEnv(t, false)
	t.Setenv("LOG_LEVEL", "info")

	out, logs, err := e.runLogged(t, "apply", "-f", e.directives, "--auto-approve", "--json")
	require.NoError(t, err)

	var result applyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.RunID)
	assert.Contains(t, logs, "Run finished: succeeded, 3 action(s)")
	assert.Contains(t, logs, result.RunID)
}

func TestApply_DeclinedRiskyActionsAreSkipped(t *testing.T) {
	e := newEnv(t, true)

	out, err := e.run(t, "apply", "-f", e.directives, "--non-interactive", "--json")
	require.NoError(t, err, "declining is not an error")

	var result applyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	require.Len(t, result.Reviews, 3)
	assert.Equal(t, engine.DecisionDeclined, result.Reviews[0].Decision)
	assert.Equal(t, engine.DecisionDeclined, result.Reviews[1].Decision)
	assert.Equal(t, engine.DecisionApproved, result.Reviews[2].Decision)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, engine.OutcomeSkipped, result.Entries[0].Outcome)
	assert.Equal(t, engine.RationaleDeclined, result.Entries[0].Detail)
	assert.Equal(t, engine.OutcomeSkipped, result.Entries[1].Outcome)
	assert.Equal(t, engine.OutcomeApplied, result.Entries[2].Outcome)

	content := e.content(t)
	assert.Contains(t, content, "vm.swappiness = 60")
	assert.Contains(t, content, "kernel.panic = 10")
	assert.Contains(t, content, "net.ipv4.ip_forward = 1")
}

func TestApply_FlagConflict(t *testing.T) {
	e := newEnv(t, false)

	_, err := e.run(t, "apply", "-f", e.directives, "--auto-approve", "--non-interactive")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestBackups_ListDiffRestore(t *testing.T) {
	e := newEnv(t, false)

	_, err := e.run(t, "apply", "-f", e.directives, "--auto-approve")
	require.NoError(t, err)
	applied := e.content(t)

	out, err := e.run(t, "backups", "list", "--json")
	require.NoError(t, err)
	var snaps []engine.ResourceSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 3)

	oldest := snaps[len(snaps)-1]
	assert.Equal(t, "sysctl", oldest.Ref.Name)

	out, err = e.run(t, "backups", "show", oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, sysctlConf, out)

	out, err = e.run(t, "backups", "diff", oldest.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "-vm.swappiness = 60")
	assert.Contains(t, out, "+vm.swappiness = 10")

	_, err = e.run(t, "backups", "restore", oldest.ID)
	require.ErrorIs(t, err, prompt.ErrNotInteractive)
	assert.Equal(t, applied, e.content(t))

	out, err = e.run(t, "backups", "restore", oldest.ID, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Previous content saved as snapshot")
	assert.Equal(t, sysctlConf, e.content(t))

	out, err = e.run(t, "backups", "list", "--resource", "sysctl", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	assert.Len(t, snaps, 4)

	out, err = e.run(t, "audit", "--json")
	require.NoError(t, err)
	var runs []engine.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, engine.RestorePlanID, runs[0].PlanID)
}

func TestValidate(t *testing.T) {
	e := newEnv(t, false)

	out, err := e.run(t, "validate", e.directives)
	require.NoError(t, err)
	assert.Contains(t, out, "ok settings: 1 resource(s) [sysctl]")
	assert.Contains(t, out, "ok directives: "+e.directives)

	dup := filepath.Join(e.dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte(`directives:
  - kind: file_block
    key: vm.swappiness
    value: "10"
  - kind: file_block
    key: vm.swappiness
    value: "20"
`), 0o644))

	_, err = e.run(t, "validate", dup)
	require.Error(t, err)
	assert.True(t, engine.IsInvalidDirective(err))
	assert.Equal(t, sysctlConf, e.content(t))
}

func TestVersion(t *testing.T) {
	e := newEnv(t, false)

	out, err := e.run(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "dev"`)
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"port=2222", "strict=true", "name=web-1", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"port":   2222,
		"strict": true,
		"name":   "web-1",
		"empty":  "",
	}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}
