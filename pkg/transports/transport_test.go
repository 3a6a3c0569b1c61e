package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"ufw":                 "ufw",
		"22/tcp":              "22/tcp",
		"":                    "''",
		"allow from 10.0.0.1": "'allow from 10.0.0.1'",
		"it's":                `'it'"'"'s'`,
		"/etc/ssh/sshd_config": "/etc/ssh/sshd_config",
	}
	for in, want := range tests {
		assert.Equal(t, want, ShellQuote(in), in)
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Name: "crontab", Args: []string{"-u", "root", "-l"}}
	assert.Equal(t, "crontab -u root -l", c.String())

	c = Command{Name: "sh", Args: []string{"-c", "echo hi"}}
	assert.Equal(t, "sh -c 'echo hi'", c.String())
}

func TestResult_Output(t *testing.T) {
	assert.Equal(t, "ERROR: Bad port", Result{Stdout: "ignored", Stderr: "ERROR: Bad port\n"}.Output())
	assert.Equal(t, "Rule added", Result{Stdout: "Rule added\n"}.Output())
}
