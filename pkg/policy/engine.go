package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/engine"
)

// Engine classifies actions with Rego. It implements engine.RiskClassifier.
type Engine struct {
	mu       sync.RWMutex
	paths    []string
	policies []Policy
	query    rego.PreparedEvalQuery
	logger   zerolog.Logger
}

var _ engine.RiskClassifier = (*Engine)(nil)

// NewEngine compiles the built-in policies together with the .rego files
// found under paths.
func NewEngine(ctx context.Context, logger zerolog.Logger, paths ...string) (*Engine, error) {
	e := &Engine{
		paths:  paths,
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the policy paths and recompiles. On failure the
// previously compiled policies stay in effect.
func (e *Engine) Reload(ctx context.Context) error {
	policies := GetBuiltinPolicies()

	if len(e.paths) > 0 {
		loaded, err := NewLoader(e.logger).LoadFromPaths(ctx, e.paths)
		if err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		policies = append(policies, loaded...)
	}

	query, err := compile(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policies = policies
	e.query = query
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Risk policies loaded")

	return nil
}

func compile(ctx context.Context, policies []Policy) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){rego.Query(RiskQuery)}

	for i := range policies {
		if _, err := ast.ParseModule(policies[i].Name, policies[i].Rego); err != nil {
			return rego.PreparedEvalQuery{}, fmt.Errorf("failed to parse policy %s: %w", policies[i].Name, err)
		}
		filename := policies[i].Source
		if filename == "" {
			filename = "builtin/" + policies[i].Name + ".rego"
		}
		opts = append(opts, rego.Module(filename, policies[i].Rego))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to compile policies: %w", err)
	}
	return query, nil
}

// Classify implements engine.RiskClassifier. An action is risky when any
// policy adds a reason for it.
func (e *Engine) Classify(ctx context.Context, ref engine.ResourceRef, action engine.Action) (bool, []string, error) {
	start := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(NewInput(ref, action)))
	if err != nil {
		return false, nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var reasons []string
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		set, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			return false, nil, fmt.Errorf("policy %s returned %T, want a set of strings", RiskQuery, result.Expressions[0].Value)
		}
		for _, item := range set {
			reasons = append(reasons, fmt.Sprint(item))
		}
	}
	sort.Strings(reasons)

	e.logger.Debug().
		Str("resource", ref.String()).
		Str("action", string(action.Kind)).
		Int("reasons", len(reasons)).
		Dur("duration", time.Since(start)).
		Msg("Action classified")

	return len(reasons) > 0, reasons, nil
}

// ListPolicies returns the loaded policies, built-ins first.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Paths returns the configured policy paths.
func (e *Engine) Paths() []string {
	return e.paths
}
