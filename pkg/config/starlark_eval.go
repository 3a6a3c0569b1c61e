package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/converge/pkg/engine"
)

const collectorKey = "converge.directives"

// StarlarkEvaluator executes directive scripts. Scripts emit directives by
// calling rule(), file_block(), job(), present() and absent(); emission
// order is the directive order.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult is the outcome of one script evaluation.
type StarlarkResult struct {
	Directives    []engine.Directive
	ExecutionTime time.Duration
	Error         string
}

type collector struct {
	directives []engine.Directive
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate executes script with vars predeclared as the dict "vars".
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, vars map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "converge",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	coll := &collector{}
	thread.SetLocal(collectorKey, coll)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- se.evaluateSync(thread, filename, script, vars)
	}()

	var err error
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-resultCh
		err = fmt.Errorf("starlark execution of %s stopped after %v: %w", filename, time.Since(startTime).Round(time.Millisecond), evalCtx.Err())
	case err = <-resultCh:
	}

	result := &StarlarkResult{ExecutionTime: time.Since(startTime)}
	if err != nil {
		result.Error = err.Error()
		return result, engine.NewDirectiveError("failed to evaluate "+filename, err)
	}
	result.Directives = coll.directives
	return result, nil
}

func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, vars map[string]interface{}) error {
	predeclared := starlark.StringDict{
		"struct":     starlarkstruct.Default,
		"rule":       starlark.NewBuiltin("rule", builtinRule),
		"file_block": starlark.NewBuiltin("file_block", builtinFileBlock),
		"job":        starlark.NewBuiltin("job", builtinJob),
		"present":    starlark.NewBuiltin("present", builtinPresent),
		"absent":     starlark.NewBuiltin("absent", builtinAbsent),
	}

	if vars == nil {
		vars = map[string]interface{}{}
	}
	varsVal, err := toStarlarkValue(vars)
	if err != nil {
		return fmt.Errorf("failed to convert vars: %w", err)
	}
	predeclared["vars"] = varsVal

	if _, err := starlark.ExecFile(thread, filename, script, predeclared); err != nil {
		return err
	}
	return nil
}

func emit(thread *starlark.Thread, d engine.Directive) {
	coll, _ := thread.Local(collectorKey).(*collector)
	if coll != nil {
		coll.directives = append(coll.directives, d)
	}
}

// builtinRule implements rule(key, value="allow", resource="", ensure="present").
func builtinRule(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, resource string
	var value starlark.Value = starlark.String("allow")
	ensure := string(engine.EnsurePresent)

	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"key", &key, "value?", &value, "resource?", &resource, "ensure?", &ensure); err != nil {
		return nil, err
	}
	v, err := scalarString(b.Name(), value)
	if err != nil {
		return nil, err
	}

	emit(thread, engine.Directive{
		Kind:     engine.KindRule,
		Resource: resource,
		Key:      key,
		Value:    v,
		Match:    engine.MatchExact,
		Ensure:   engine.Ensure(ensure),
	})
	return starlark.None, nil
}

// builtinFileBlock implements file_block(key, value="", resource="", ensure="present").
func builtinFileBlock(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, resource string
	var value starlark.Value = starlark.String("")
	ensure := string(engine.EnsurePresent)

	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"key", &key, "value?", &value, "resource?", &resource, "ensure?", &ensure); err != nil {
		return nil, err
	}
	v, err := scalarString(b.Name(), value)
	if err != nil {
		return nil, err
	}

	emit(thread, engine.Directive{
		Kind:     engine.KindFileBlock,
		Resource: resource,
		Key:      key,
		Value:    v,
		Match:    engine.MatchExact,
		Ensure:   engine.Ensure(ensure),
	})
	return starlark.None, nil
}

// builtinJob implements job(command, schedule="", resource="", ensure="present").
func builtinJob(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command, schedule, resource string
	ensure := string(engine.EnsurePresent)

	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"command", &command, "schedule?", &schedule, "resource?", &resource, "ensure?", &ensure); err != nil {
		return nil, err
	}

	emit(thread, engine.Directive{
		Kind:     engine.KindJob,
		Resource: resource,
		Key:      command,
		Value:    schedule,
		Match:    engine.MatchExact,
		Ensure:   engine.Ensure(ensure),
	})
	return starlark.None, nil
}

// builtinPresent implements present(kind, key, resource="").
func builtinPresent(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var kind, key, resource string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "kind", &kind, "key", &key, "resource?", &resource); err != nil {
		return nil, err
	}

	emit(thread, engine.Directive{
		Kind:     engine.ResourceKind(kind),
		Resource: resource,
		Key:      key,
		Match:    engine.MatchPresence,
		Ensure:   engine.EnsurePresent,
	})
	return starlark.None, nil
}

// builtinAbsent implements absent(kind, key, resource="").
func builtinAbsent(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var kind, key, resource string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "kind", &kind, "key", &key, "resource?", &resource); err != nil {
		return nil, err
	}

	emit(thread, engine.Directive{
		Kind:     engine.ResourceKind(kind),
		Resource: resource,
		Key:      key,
		Match:    engine.MatchExact,
		Ensure:   engine.EnsureAbsent,
	})
	return starlark.None, nil
}

// scalarString renders a string, int or bool argument as a directive value.
func scalarString(fn string, v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		return val.String(), nil
	case starlark.Bool:
		if val {
			return "yes", nil
		}
		return "no", nil
	default:
		return "", fmt.Errorf("%s: value must be a string, int or bool, got %s", fn, v.Type())
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		generic := make(map[string]interface{}, len(val))
		for k, s := range val {
			generic[k] = s
		}
		return toStarlarkValue(generic)
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
