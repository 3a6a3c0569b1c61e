package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/transports/local"
)

// validateOutput is the JSON form of a validation.
type validateOutput struct {
	Valid     bool     `json:"valid"`
	Resources []string `json:"resources"`
	Policies  []string `json:"policies"`
	Files     []string `json:"files,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var varFlags []string

	cmd := &cobra.Command{
		Use:   "validate [directive-file...]",
		Short: "Validate settings, policies and directive files",
		Long: `Validate the settings file, the risk policies and any directive files
without contacting the target host.

This command checks:
  - Settings fields, resource definitions and transport options
  - Rego policy syntax
  - Directive syntax, enum values and required fields
  - Resource references, kind mismatches and duplicate keys`,
		Example: `  # Validate settings and policies
  converge validate

  # Validate directive files against the configured resources
  converge validate hardening.yaml baseline.star --var ssh_port=2222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, needs{policy: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			result := validateOutput{
				Resources: a.settings.ResourceNames(),
				Files:     args,
			}
			for _, p := range a.policy.ListPolicies() {
				result.Policies = append(result.Policies, p.Name)
			}

			// Adapters do not touch the host until they probe, so the local
			// host stands in for the configured transport.
			registry, err := config.BuildRegistry(a.settings, local.NewHost(a.logger, false), a.logger)
			if err == nil {
				err = validateFiles(cmd, registry, args, vars)
			}

			result.Valid = err == nil
			if err != nil {
				result.Error = err.Error()
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if werr := writeJSON(out, result); werr != nil {
					return werr
				}
				return err
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s settings: %d resource(s) %v\n", successColor.Sprint("ok"), len(result.Resources), result.Resources)
			fmt.Fprintf(out, "%s policies: %v\n", successColor.Sprint("ok"), result.Policies)
			for _, f := range args {
				fmt.Fprintf(out, "%s directives: %s\n", successColor.Sprint("ok"), f)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "script variable as key=value (repeatable)")

	return cmd
}

func validateFiles(cmd *cobra.Command, registry engine.Registry, files []string, vars map[string]interface{}) error {
	for _, f := range files {
		set, err := config.LoadDirectives(cmd.Context(), f, vars)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		if err := engine.ValidateDirectives(set, registry); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}
