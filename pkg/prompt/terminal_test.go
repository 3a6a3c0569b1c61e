package prompt

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/engine"
)

func init() {
	color.NoColor = true
}

var sshdRef = engine.ResourceRef{Kind: engine.KindFileBlock, Name: "sshd", Location: "/etc/ssh/sshd_config", AccessCritical: true}

func replaceAction() engine.Action {
	return engine.Action{
		Directive: engine.Directive{Kind: engine.KindFileBlock, Key: "PasswordAuthentication", Value: "no", Match: engine.MatchExact, Ensure: engine.EnsurePresent},
		Kind:      engine.ActionReplace,
		Current:   "yes",
		Present:   true,
	}
}

func scripted(input string) (*Terminal, *bytes.Buffer) {
	out := &bytes.Buffer{}
	term := NewTerminal(strings.NewReader(input), out)
	term.interactive = true
	return term, out
}

func TestTerminal_Approve(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
		{"y", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			term, out := scripted(tt.input)

			ok, err := term.Approve(context.Background(), sshdRef, replaceAction(), []string{"'PasswordAuthentication' controls SSH login"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			text := out.String()
			assert.Contains(t, text, "! REPLACE file_block/sshd")
			assert.Contains(t, text, `PasswordAuthentication: "yes" -> "no"`)
			assert.Contains(t, text, "  - 'PasswordAuthentication' controls SSH login")
			assert.Contains(t, text, "Apply this change? [y/N]: ")
		})
	}
}

func TestTerminal_SequentialAnswers(t *testing.T) {
	term, _ := scripted("y\nn\n")
	ctx := context.Background()

	first, err := term.Confirm(ctx, "first?")
	require.NoError(t, err)
	second, err := term.Confirm(ctx, "second?")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestTerminal_NotInteractive(t *testing.T) {
	term := NewTerminal(strings.NewReader("y\n"), &bytes.Buffer{})

	ok, err := term.Approve(context.Background(), sshdRef, replaceAction(), nil)
	assert.ErrorIs(t, err, ErrNotInteractive)
	assert.False(t, ok)
}

func TestTerminal_Canceled(t *testing.T) {
	term, _ := scripted("y\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := term.Confirm(ctx, "apply?")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestIsTerminal(t *testing.T) {
	orig := termIsTerminal
	t.Cleanup(func() { termIsTerminal = orig })

	termIsTerminal = func(int) bool { return true }
	assert.True(t, IsTerminal(os.Stdin))
	assert.False(t, IsTerminal(strings.NewReader("")))

	termIsTerminal = func(int) bool { return false }
	assert.False(t, IsTerminal(os.Stdin))
}

func TestDescribe(t *testing.T) {
	add := engine.Action{Directive: engine.Directive{Key: "443/tcp", Value: "allow"}, Kind: engine.ActionAdd}
	remove := engine.Action{Directive: engine.Directive{Key: "23/tcp"}, Kind: engine.ActionRemove, Current: "allow", Present: true}
	abort := engine.Action{Directive: engine.Directive{Key: "22/tcp"}, Kind: engine.ActionAbort, Rationale: "would remove last access path"}

	assert.Equal(t, `443/tcp: (absent) -> "allow"`, Describe(add))
	assert.Equal(t, `23/tcp: "allow" -> (absent)`, Describe(remove))
	assert.Equal(t, "22/tcp: would remove last access path", Describe(abort))
}
