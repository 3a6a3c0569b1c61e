package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// previewer is implemented by adapters that can show a planned change as a diff.
type previewer interface {
	Preview(ctx context.Context, action engine.Action) (string, error)
}

// planOutput is the JSON form of a plan.
type planOutput struct {
	Plan  *engine.Plan        `json:"plan"`
	Risks map[string][]string `json:"risks,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var (
		file     string
		varFlags []string
		showDiff bool
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the changes a directive set would make",
		Long: `Probe the target host and compute a plan for a directive set.

Planning never changes the host. Every directive maps to exactly one action:
  - skip     the host already satisfies the directive
  - add      the key is absent
  - replace  the key is present with a different value
  - remove   the key is present and the directive asks for it to be absent
  - abort    applying would cut off access to the host

Actions marked with * need confirmation during apply.`,
		Example: `  # Preview a directive file
  converge plan -f hardening.yaml

  # Evaluate a Starlark directive script with variables
  converge plan -f baseline.star --var ssh_port=2222

  # Show file diffs and re-plan whenever the directives change
  converge plan -f hardening.yaml --diff --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			if watch && file == config.StdinSource {
				return fmt.Errorf("--watch needs a directive file, not stdin")
			}

			a, err := openApp(cmd, needs{host: true, policy: true})
			if err != nil {
				return err
			}
			defer a.release(cmd.Context())

			out := cmd.OutOrStdout()
			if !watch {
				return a.runPlan(cmd.Context(), out, file, vars, showDiff)
			}

			if err := a.runPlan(cmd.Context(), out, file, vars, showDiff); err != nil {
				a.logger.Error().Err(err).Msg("Plan failed")
			}

			policyPaths := a.policy.Paths()
			paths := append([]string{file}, policyPaths...)
			return config.Watch(cmd.Context(), paths, config.DefaultDebounce, a.logger, func(name string) {
				if isPolicyPath(name, policyPaths) {
					if err := a.policy.Reload(cmd.Context()); err != nil {
						a.logger.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
					}
				}
				fmt.Fprintf(out, "\n%s %s changed\n", headerColor.Sprint("==>"), name)
				if err := a.runPlan(cmd.Context(), out, file, vars, showDiff); err != nil {
					a.logger.Error().Err(err).Msg("Plan failed")
				}
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "directive file (.yaml, .yml, .star, .cue, or - for stdin)")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "script variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "show unified diffs for file changes")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when the directive file or policies change")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// runPlan loads the directives, plans them and prints the result.
func (a *app) runPlan(ctx context.Context, w io.Writer, file string, vars map[string]interface{}, showDiff bool) error {
	set, err := config.LoadDirectives(ctx, file, vars)
	if err != nil {
		return err
	}

	rec := a.reconciler(engine.DeclineAll{})
	plan, err := a.plan(ctx, rec, set)
	if err != nil {
		return err
	}
	risks := a.classify(ctx, plan)

	if jsonOutput {
		return writeJSON(w, planOutput{Plan: plan, Risks: riskKeys(risks)})
	}

	printPlan(w, plan, a.registry, risks)
	if showDiff {
		a.printDiffs(ctx, w, plan)
	}
	return nil
}

// plan computes a plan inside a trace span and records plan metrics.
func (a *app) plan(ctx context.Context, rec *engine.Reconciler, set engine.DirectiveSet) (*engine.Plan, error) {
	ctx, span := a.telemetry.Tracer.StartPlanSpan(ctx, set.Source, len(set.Directives))
	defer span.End()

	plan, err := rec.Plan(ctx, set)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	a.telemetry.RecordPlan(plan)
	return plan, nil
}

// classify returns the reasons each risky action needs confirmation,
// without asking for it.
func (a *app) classify(ctx context.Context, plan *engine.Plan) map[int][]string {
	var classifier engine.RiskClassifier = engine.DefaultClassifier{}
	if a.policy != nil {
		classifier = a.policy
	}

	risks := make(map[int][]string)
	for i, action := range plan.Actions {
		if !action.Kind.IsMutating() {
			continue
		}
		adapter, err := a.registry.Resolve(action.Directive)
		if err != nil {
			continue
		}
		risky, reasons, err := classifier.Classify(ctx, adapter.Ref(), action)
		if err != nil {
			risky = true
			reasons = append(reasons, "risk classification failed: "+err.Error())
		}
		if risky {
			risks[i] = reasons
		}
	}
	return risks
}

func (a *app) printDiffs(ctx context.Context, w io.Writer, plan *engine.Plan) {
	for _, action := range plan.Actions {
		if !action.Kind.IsMutating() {
			continue
		}
		adapter, err := a.registry.Resolve(action.Directive)
		if err != nil {
			continue
		}
		p, ok := adapter.(previewer)
		if !ok {
			continue
		}
		diff, err := p.Preview(ctx, action)
		if err != nil {
			a.logger.Warn().Err(err).Str("resource", adapter.Ref().String()).Msg("Preview failed")
			continue
		}
		if diff != "" {
			fmt.Fprintf(w, "\n%s\n%s", headerColor.Sprint(action.Directive.String()), diff)
		}
	}
}

func riskKeys(risks map[int][]string) map[string][]string {
	if len(risks) == 0 {
		return nil
	}
	out := make(map[string][]string, len(risks))
	for i, reasons := range risks {
		out[strconv.Itoa(i)] = reasons
	}
	return out
}

// parseVars turns key=value flags into script variables. Integers and
// booleans keep their type.
func parseVars(flags []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(flags))
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", f)
		}
		if n, err := strconv.Atoi(value); err == nil {
			vars[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			vars[key] = b
		} else {
			vars[key] = value
		}
	}
	return vars, nil
}

func isPolicyPath(name string, policyPaths []string) bool {
	for _, p := range policyPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if name == abs || strings.HasPrefix(name, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
