package expressions

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/rendis/flowforge/pkg/schema"
)

// CELVariables are the top-level names a cel.eval expression may use.
//   - data: the action's "data" input
//   - vars: flow variables at the time the step runs
var CELVariables = []string{"data", "vars"}

// CELEngine evaluates Common Expression Language programs for the cel.eval
// action. Programs are cached and shared across goroutines.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(CELVariables))
	for _, name := range CELVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newProgramCache[cel.Program](),
	}, nil
}

func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) expression and evaluates it.
// Missing activation keys default to empty maps.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile(expression))
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(CELVariables))
	for _, key := range CELVariables {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	// Lists and maps built inside CEL come back as CEL values; convert them.
	if native, err := out.ConvertToNative(reflect.TypeFor[any]()); err == nil {
		return native, nil
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(expression string) func() (cel.Program, error) {
	return func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL compile error in %q: %s", expression, issues.Err().Error()).
				WithCause(issues.Err()).
				WithDetails(map[string]any{"expression": expression})
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL program error for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		return prg, nil
	}
}

var _ Engine = (*CELEngine)(nil)
