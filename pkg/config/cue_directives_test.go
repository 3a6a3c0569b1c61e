package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/engine"
)

const directivesCUE = `
directives: [
	{kind: "rule", key: "\(vars.ssh_port)/tcp", value: "limit"},
	{kind: "file_block", resource: "sshd", key: "Port", value: "\(vars.ssh_port)"},
	{kind: "rule", key: "23/tcp", ensure: "absent"},
	{kind: "job", key: "/usr/local/bin/backup.sh", match: "presence"},
]
`

func TestParseCUEDirectives(t *testing.T) {
	set, err := ParseCUEDirectives([]byte(directivesCUE), "site.cue", map[string]interface{}{"ssh_port": 2222})
	require.NoError(t, err)

	assert.Equal(t, "site.cue", set.Source)
	require.Len(t, set.Directives, 4)

	assert.Equal(t, engine.Directive{
		Kind: engine.KindRule, Key: "2222/tcp", Value: "limit",
		Match: engine.MatchExact, Ensure: engine.EnsurePresent,
	}, set.Directives[0])
	assert.Equal(t, "sshd", set.Directives[1].Resource)
	assert.Equal(t, "2222", set.Directives[1].Value)
	assert.True(t, set.Directives[2].IsRemoval())
	assert.Equal(t, engine.MatchPresence, set.Directives[3].Match)
}

func TestParseCUEDirectives_Empty(t *testing.T) {
	set, err := ParseCUEDirectives([]byte(""), "empty.cue", nil)
	require.NoError(t, err)
	assert.Empty(t, set.Directives)
}

func TestParseCUEDirectives_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", `directives: [{kind: "rule"`},
		{"unknown kind", `directives: [{kind: "service", key: "nginx"}]`},
		{"unknown field", `directives: [{kind: "rule", key: "22/tcp", value: "allow", comment: "ssh"}]`},
		{"empty key", `directives: [{kind: "rule", key: " ", value: "allow"}]`},
		{"bad ensure", `directives: [{kind: "rule", key: "22/tcp", ensure: "gone"}]`},
		{"missing var", `directives: [{kind: "rule", key: "\(vars.port)/tcp", value: "allow"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCUEDirectives([]byte(tt.content), "bad.cue", nil)
			require.Error(t, err)
			assert.True(t, engine.IsInvalidDirective(err), err.Error())
		})
	}
}

func TestLoadDirectives_CUE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.cue")
	require.NoError(t, os.WriteFile(path, []byte(directivesCUE), 0o600))

	set, err := LoadDirectives(context.Background(), path, map[string]interface{}{"ssh_port": "2200"})
	require.NoError(t, err)
	require.Len(t, set.Directives, 4)
	assert.Equal(t, "2200/tcp", set.Directives[0].Key)
	assert.Equal(t, path, set.Source)
}
