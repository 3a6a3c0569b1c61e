package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/converge/pkg/engine"
)

const (
	// EnvConfig names the settings file when --config is not given.
	EnvConfig = "CONVERGE_CONFIG"

	// EnvLogLevel overrides telemetry.log_level.
	EnvLogLevel = "LOG_LEVEL"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	resourceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("resource_name", func(fl validator.FieldLevel) bool {
			return resourceNamePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// DefaultSettings returns the settings used when no file is given: the local
// host with ufw, sshd_config and root's crontab.
func DefaultSettings() *Settings {
	return &Settings{
		StateDir:  "/var/lib/converge",
		Transport: TransportSettings{Type: "local"},
		Resources: []ResourceSettings{
			{
				Name:           "firewall",
				Kind:           engine.KindRule,
				AccessKeys:     []string{"22/tcp", "22", "OpenSSH"},
				AccessCritical: true,
			},
			{
				Name:            "sshd",
				Kind:            engine.KindFileBlock,
				Path:            "/etc/ssh/sshd_config",
				Syntax:          "sshd",
				ValidateCommand: "sshd -t -f {path}",
				ReloadCommand:   "systemctl reload ssh",
				AccessCritical:  true,
			},
			{
				Name: "crontab",
				Kind: engine.KindJob,
			},
		},
		Telemetry: TelemetrySettings{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing:   "none",
		},
	}
}

// LoadSettings reads settings from path, or from $CONVERGE_CONFIG when path
// is empty. With neither, the defaults are returned. Values in the file
// replace the defaults field by field; a resources list replaces the default
// resources entirely.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		settings.Telemetry.LogLevel = strings.ToLower(level)
	}

	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Settings) applyDefaults() {
	if s.StorePath == "" {
		s.StorePath = filepath.Join(s.StateDir, "converge.db")
	}
	if s.BackupDir == "" {
		s.BackupDir = filepath.Join(s.StateDir, "backups")
	}
	if s.Transport.Type == "" {
		s.Transport.Type = "local"
	}
}

// Validate checks field constraints and cross-field rules.
func (s *Settings) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return formatValidationError(err)
	}

	var errs []error
	seen := make(map[string]bool, len(s.Resources))
	for i, r := range s.Resources {
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("resources[%d]: duplicate resource name %q", i, r.Name))
		}
		seen[r.Name] = true

		if r.Kind == engine.KindFileBlock {
			if r.Path == "" {
				errs = append(errs, fmt.Errorf("resources[%d] (%s): path is required for file_block", i, r.Name))
			}
			if r.Syntax == "" {
				errs = append(errs, fmt.Errorf("resources[%d] (%s): syntax is required for file_block", i, r.Name))
			}
		}
		if r.Kind == engine.KindRule && r.AccessCritical && len(r.AccessKeys) == 0 {
			errs = append(errs, fmt.Errorf("resources[%d] (%s): access_critical rule resources need access_keys", i, r.Name))
		}
	}
	return errors.Join(errs...)
}

// ResourceNames returns the configured resource names in order.
func (s *Settings) ResourceNames() []string {
	names := make([]string, 0, len(s.Resources))
	for _, r := range s.Resources {
		names = append(names, r.Name)
	}
	return names
}

// formatValidationError turns validator errors into one readable error with
// one line per field, sorted by field path.
func formatValidationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("invalid settings: %w", err)
	}

	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		field := strings.TrimPrefix(fe.Namespace(), "Settings.")
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		case "resource_name":
			msgs = append(msgs, fmt.Sprintf("%s %q must be lower-case letters, digits, '-' or '_'", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	sort.Strings(msgs)
	return fmt.Errorf("invalid settings:\n  %s", strings.Join(msgs, "\n  "))
}
