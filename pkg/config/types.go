package config

import (
	"time"

	"github.com/openfroyo/converge/pkg/engine"
)

// Settings is the converge configuration file.
type Settings struct {
	// StateDir holds the audit database and snapshot backups.
	StateDir string `yaml:"state_dir" validate:"required"`

	// StorePath is the SQLite database (default <state_dir>/converge.db).
	StorePath string `yaml:"store_path,omitempty"`

	// BackupDir holds snapshot content (default <state_dir>/backups).
	BackupDir string `yaml:"backup_dir,omitempty"`

	// Transport selects the target host.
	Transport TransportSettings `yaml:"transport"`

	// Resources are the adapter instances directives can address.
	Resources []ResourceSettings `yaml:"resources" validate:"dive"`

	// Policy configures risk classification for the confirmation gate.
	Policy PolicySettings `yaml:"policy"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// TransportSettings configures host access.
type TransportSettings struct {
	// Type is "local" or "ssh".
	Type string `yaml:"type" validate:"required,oneof=local ssh"`

	Host       string        `yaml:"host,omitempty" validate:"required_if=Type ssh"`
	Port       int           `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User       string        `yaml:"user,omitempty"`
	KeyPath    string        `yaml:"key_path,omitempty"`
	KnownHosts string        `yaml:"known_hosts,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key,omitempty"`

	// Sudo runs backend tools through "sudo -n".
	Sudo bool `yaml:"sudo,omitempty"`
}

// ResourceSettings declares one adapter instance.
type ResourceSettings struct {
	Name string              `yaml:"name" validate:"required,resource_name"`
	Kind engine.ResourceKind `yaml:"kind" validate:"required,oneof=rule file_block job"`

	// AccessCritical requires confirmation for destructive changes.
	AccessCritical bool `yaml:"access_critical,omitempty"`

	// Binary overrides the backend tool (rule, job).
	Binary string `yaml:"binary,omitempty"`

	// AccessKeys are the rules that keep the operator's access path (rule).
	AccessKeys []string `yaml:"access_keys,omitempty"`

	// Path and Syntax locate and describe the file (file_block).
	Path   string `yaml:"path,omitempty"`
	Syntax string `yaml:"syntax,omitempty" validate:"omitempty,oneof=sshd kv ini"`

	// ValidateCommand and ReloadCommand accept a {path} placeholder (file_block).
	ValidateCommand string `yaml:"validate_command,omitempty"`
	ReloadCommand   string `yaml:"reload_command,omitempty"`

	// User selects another user's crontab (job).
	User string `yaml:"user,omitempty"`
}

// PolicySettings configures the risk policy.
type PolicySettings struct {
	// Paths are .rego files or directories. Empty uses the built-in policy.
	Paths []string `yaml:"paths,omitempty"`
}

// TelemetrySettings configures the ambient observability stack.
type TelemetrySettings struct {
	LogLevel  string `yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	// Tracing is the span exporter: none, stdout or otlp.
	Tracing         string `yaml:"tracing,omitempty" validate:"omitempty,oneof=none stdout otlp"`
	TracingEndpoint string `yaml:"tracing_endpoint,omitempty"`

	// MetricsTextfile is a node_exporter textfile collector path written
	// after every apply. Empty disables it.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`
}
