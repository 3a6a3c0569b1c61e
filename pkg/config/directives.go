package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/converge/pkg/engine"
)

// StdinSource is the path that reads a YAML directive set from stdin.
const StdinSource = "-"

// directiveFile is the on-disk YAML layout.
type directiveFile struct {
	Directives []engine.Directive `yaml:"directives"`
}

// LoadDirectives reads a directive set. YAML files (.yaml, .yml and "-" for
// stdin) are parsed directly; .star and .cue files are evaluated with vars
// available as "vars".
func LoadDirectives(ctx context.Context, path string, vars map[string]interface{}) (engine.DirectiveSet, error) {
	switch {
	case path == StdinSource:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return engine.DirectiveSet{}, fmt.Errorf("failed to read directives from stdin: %w", err)
		}
		return ParseDirectives(data, StdinSource)

	case strings.HasSuffix(path, ".star"):
		data, err := os.ReadFile(path)
		if err != nil {
			return engine.DirectiveSet{}, fmt.Errorf("failed to read directives: %w", err)
		}
		result, err := NewStarlarkEvaluator(0).Evaluate(ctx, filepath.Base(path), string(data), vars)
		if err != nil {
			return engine.DirectiveSet{}, err
		}
		set := engine.DirectiveSet{Source: path, Directives: result.Directives}
		if err := checkDirectives(set.Directives); err != nil {
			return engine.DirectiveSet{}, err
		}
		return set, nil

	case strings.HasSuffix(path, ".cue"):
		data, err := os.ReadFile(path)
		if err != nil {
			return engine.DirectiveSet{}, fmt.Errorf("failed to read directives: %w", err)
		}
		return ParseCUEDirectives(data, path, vars)

	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err := os.ReadFile(path)
		if err != nil {
			return engine.DirectiveSet{}, fmt.Errorf("failed to read directives: %w", err)
		}
		return ParseDirectives(data, path)

	default:
		return engine.DirectiveSet{}, fmt.Errorf("unsupported directive file %q: want .yaml, .yml, .star, .cue or -", path)
	}
}

// ParseDirectives parses a YAML directive set. Unknown fields are rejected.
// Match defaults to exact and ensure to present.
func ParseDirectives(data []byte, source string) (engine.DirectiveSet, error) {
	var file directiveFile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return engine.DirectiveSet{}, engine.NewDirectiveError(fmt.Sprintf("failed to parse %s", source), err)
	}

	for i := range file.Directives {
		applyDirectiveDefaults(&file.Directives[i])
	}
	if err := checkDirectives(file.Directives); err != nil {
		return engine.DirectiveSet{}, err
	}

	return engine.DirectiveSet{Source: source, Directives: file.Directives}, nil
}

func applyDirectiveDefaults(d *engine.Directive) {
	if d.Match == "" {
		d.Match = engine.MatchExact
	}
	if d.Ensure == "" {
		d.Ensure = engine.EnsurePresent
	}
	d.Key = strings.TrimSpace(d.Key)
	d.Resource = strings.TrimSpace(d.Resource)
}

// checkDirectives reports field-level problems with the directive's
// position. Registry-dependent checks happen in engine.ValidateDirectives.
func checkDirectives(directives []engine.Directive) error {
	v := validatorInstance()
	for i, d := range directives {
		err := v.Struct(d)
		if err == nil {
			continue
		}

		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return engine.NewDirectiveError(fmt.Sprintf("directive %d", i+1), err)
		}
		fe := ves[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return engine.NewDirectiveError(fmt.Sprintf("directive %d: %s is required", i+1, field), nil)
		case "oneof":
			return engine.NewDirectiveError(
				fmt.Sprintf("directive %d: %s must be one of [%s], got %q", i+1, field, fe.Param(), fe.Value()), nil,
			)
		default:
			return engine.NewDirectiveError(fmt.Sprintf("directive %d: %s failed %s validation", i+1, field, fe.Tag()), nil)
		}
	}
	return nil
}
