package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/engine"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "converge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvLogLevel, "")
}

func TestLoadSettings_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "local", s.Transport.Type)
	assert.Equal(t, "/var/lib/converge/converge.db", s.StorePath)
	assert.Equal(t, "/var/lib/converge/backups", s.BackupDir)
	assert.Equal(t, []string{"firewall", "sshd", "crontab"}, s.ResourceNames())
	assert.Equal(t, "info", s.Telemetry.LogLevel)
}

func TestLoadSettings_File(t *testing.T) {
	clearEnv(t)

	path := writeSettings(t, `
state_dir: /srv/converge
transport:
  type: ssh
  host: vps.example.com
  port: 2222
  user: admin
  sudo: true
  timeout: 10s
resources:
  - name: nginx
    kind: file_block
    path: /etc/nginx/conf.d/tuning.conf
    syntax: kv
  - name: ufw
    kind: rule
    access_keys: ["2222/tcp"]
    access_critical: true
telemetry:
  log_format: json
`)

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/converge/converge.db", s.StorePath)
	assert.Equal(t, "ssh", s.Transport.Type)
	assert.Equal(t, 2222, s.Transport.Port)
	assert.True(t, s.Transport.Sudo)
	assert.Equal(t, 10*time.Second, s.Transport.Timeout)
	assert.Equal(t, []string{"nginx", "ufw"}, s.ResourceNames())
	assert.Equal(t, engine.KindFileBlock, s.Resources[0].Kind)
	assert.Equal(t, "json", s.Telemetry.LogFormat)
	assert.Equal(t, "info", s.Telemetry.LogLevel)
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	path := writeSettings(t, "state_dir: /tmp/converge\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvLogLevel, "DEBUG")

	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/converge", s.StateDir)
	assert.Equal(t, "debug", s.Telemetry.LogLevel)
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "ssh without host",
			content: "transport:\n  type: ssh\n",
			wantErr: "Transport.Host is required",
		},
		{
			name:    "unknown transport",
			content: "transport:\n  type: telnet\n",
			wantErr: "Transport.Type must be one of",
		},
		{
			name:    "unknown kind",
			content: "resources:\n  - name: pf\n    kind: packet\n",
			wantErr: "Resources[0].Kind must be one of",
		},
		{
			name:    "bad resource name",
			content: "resources:\n  - name: My Firewall\n    kind: rule\n",
			wantErr: "must be lower-case",
		},
		{
			name:    "duplicate names",
			content: "resources:\n  - name: cron\n    kind: job\n  - name: cron\n    kind: job\n",
			wantErr: `duplicate resource name "cron"`,
		},
		{
			name:    "file block without path",
			content: "resources:\n  - name: sysctl\n    kind: file_block\n    syntax: kv\n",
			wantErr: "path is required for file_block",
		},
		{
			name:    "critical rule without access keys",
			content: "resources:\n  - name: fw\n    kind: rule\n    access_critical: true\n",
			wantErr: "need access_keys",
		},
		{
			name:    "malformed yaml",
			content: "transport: [",
			wantErr: "failed to parse settings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadSettings(writeSettings(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read settings")
}
