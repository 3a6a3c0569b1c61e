package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/openfroyo/converge/pkg/engine"
)

// directiveSchema constrains CUE directive files. #Directive is closed, so
// unknown fields are rejected like in YAML files.
const directiveSchema = `
#Directive: {
	kind:      "rule" | "file_block" | "job"
	resource?: string
	key:       string & =~"\\S"
	value?:    string
	match:     *"exact" | "presence"
	ensure:    *"present" | "absent"
}

directives: [...#Directive]
`

// ParseCUEDirectives evaluates a CUE directive set. The file may refer to
// the --var values through the identifier "vars", e.g.
//
//	directives: [{kind: "file_block", key: "Port", value: "\(vars.ssh_port)"}]
func ParseCUEDirectives(data []byte, source string, vars map[string]interface{}) (engine.DirectiveSet, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(directiveSchema, cue.Filename("directives.schema.cue"))
	if err := schema.Err(); err != nil {
		return engine.DirectiveSet{}, fmt.Errorf("invalid directive schema: %w", err)
	}

	scope := cctx.Encode(map[string]interface{}{"vars": vars})
	if err := scope.Err(); err != nil {
		return engine.DirectiveSet{}, engine.NewDirectiveError("invalid vars", err)
	}

	val := cctx.CompileBytes(data, cue.Filename(source), cue.Scope(scope))
	if err := val.Err(); err != nil {
		return engine.DirectiveSet{}, engine.NewDirectiveError(fmt.Sprintf("failed to parse %s", source), cueError(err))
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return engine.DirectiveSet{}, engine.NewDirectiveError(fmt.Sprintf("invalid %s", source), cueError(err))
	}

	var directives []engine.Directive
	if list := unified.LookupPath(cue.ParsePath("directives")); list.Exists() {
		if err := list.Decode(&directives); err != nil {
			return engine.DirectiveSet{}, engine.NewDirectiveError(fmt.Sprintf("failed to decode %s", source), err)
		}
	}

	for i := range directives {
		applyDirectiveDefaults(&directives[i])
	}
	if err := checkDirectives(directives); err != nil {
		return engine.DirectiveSet{}, err
	}

	return engine.DirectiveSet{Source: source, Directives: directives}, nil
}

// cueError flattens a CUE error list into one error with positions.
func cueError(err error) error {
	errs := cueerrors.Errors(err)
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
