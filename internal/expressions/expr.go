package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/flowforge/pkg/schema"
)

// ExprEngine evaluates unrestricted expr-lang expressions for the expr.eval
// action: let bindings, filter/map/count, string helpers, ?? and ?. all work.
// Unlike ConditionEvaluator, the full builtin set is available.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) expression and runs it with the
// keys of data as top-level variables.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.cache.get(expression, func() (*vm.Program, error) {
		prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"expr compile error in %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		return prg, nil
	})
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
