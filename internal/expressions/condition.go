package expressions

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/flowforge/pkg/schema"
)

// conditionBuiltins is the whitelist of expr builtins reachable from
// conditions and template expressions. Everything else is disabled.
var conditionBuiltins = []string{"int", "float", "len", "round", "sum", "min", "max", "abs"}

// conditionConstants are injected into the bindings unless a flow variable
// of the same name shadows them.
var conditionConstants = map[string]any{
	"True":  true,
	"False": false,
	"None":  nil,
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ConditionEvaluator evaluates boolean and arithmetic expressions against a
// flat mapping of names to values. It backs control.if/while conditions and
// expression placeholders inside templates.
// Thread-safe: compiled programs are cached and shared.
type ConditionEvaluator struct {
	cache  *programCache[*vm.Program]
	logger *slog.Logger
}

// NewConditionEvaluator creates an evaluator. A nil logger discards output.
func NewConditionEvaluator(logger *slog.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ConditionEvaluator{
		cache:  newProgramCache[*vm.Program](),
		logger: logger,
	}
}

// Evaluate returns the truthiness of expression. Any compile or runtime
// failure is logged and treated as false.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, expression string, bindings map[string]any) bool {
	ok, err := c.Check(expression, bindings)
	if err != nil {
		c.logger.WarnContext(ctx, "condition evaluation failed, treating as false",
			"expression", expression,
			"error", err,
		)
		return false
	}
	return ok
}

// Check is Evaluate with the error surfaced.
func (c *ConditionEvaluator) Check(expression string, bindings map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, schema.NewError(schema.ErrCodeCondition, "empty condition")
	}

	// A bare name that is bound short-circuits compilation.
	if identPattern.MatchString(expression) {
		if v, ok := bindings[expression]; ok {
			return Truthy(v), nil
		}
	}

	out, err := c.Value(expression, bindings)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Value evaluates expression and returns its raw result.
func (c *ConditionEvaluator) Value(expression string, bindings map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	prg, err := c.cache.get(expression, func() (*vm.Program, error) {
		return compileCondition(expression)
	})
	if err != nil {
		return nil, err
	}

	env := make(map[string]any, len(bindings)+len(conditionConstants))
	for k, v := range conditionConstants {
		env[k] = v
	}
	for k, v := range bindings {
		env[k] = v
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func compileCondition(expression string) (*vm.Program, error) {
	opts := []expr.Option{
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
	}
	for _, name := range conditionBuiltins {
		opts = append(opts, expr.EnableBuiltin(name))
	}
	opts = append(opts,
		expr.Function("bool", func(params ...any) (any, error) {
			if len(params) == 0 {
				return false, nil
			}
			return Truthy(params[0]), nil
		}),
		expr.Function("str", func(params ...any) (any, error) {
			if len(params) == 0 {
				return "", nil
			}
			return Stringify(params[0]), nil
		}),
		expr.Function("list", func(params ...any) (any, error) {
			if len(params) == 0 {
				return []any{}, nil
			}
			if s, ok := params[0].(string); ok {
				out := make([]any, 0, len(s))
				for _, r := range s {
					out = append(out, string(r))
				}
				return out, nil
			}
			items, _ := ToList(params[0])
			return append([]any{}, items...), nil
		}),
		expr.Function("dict", func(params ...any) (any, error) {
			if len(params) == 0 {
				return map[string]any{}, nil
			}
			if m, ok := params[0].(map[string]any); ok {
				return DeepCopyMap(m), nil
			}
			return map[string]any{}, nil
		}),
	)

	prg, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return prg, nil
}
