package actions

import (
	"context"
	"fmt"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// ExprActions returns the expression evaluation actions: expr.eval,
// cel.eval and jq.transform.
func ExprActions() ([]Action, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("cel.eval: %w", err)
	}
	return []Action{
		&evalAction{
			name:     "expr.eval",
			desc:     "Evaluate an Expr expression; the keys of 'data' are top-level variables",
			param:    "expression",
			engine:   expressions.NewExprEngine(),
			flatData: true,
		},
		&evalAction{
			name:   "cel.eval",
			desc:   "Evaluate a CEL expression over 'data' and 'vars'",
			param:  "expression",
			engine: celEngine,
		},
		&evalAction{
			name:   "jq.transform",
			desc:   "Run a jq filter over the 'data' object",
			param:  "filter",
			engine: expressions.NewGoJQEngine(),
			asRoot: true,
		},
	}, nil
}

// evalAction runs one expression engine. The scope it builds depends on the
// language: expr sees data keys directly (plus data itself), CEL sees the
// declared data/vars variables, jq runs with data as its input document.
type evalAction struct {
	name     string
	desc     string
	param    string
	engine   expressions.Engine
	flatData bool
	asRoot   bool
}

func (a *evalAction) Name() string { return a.name }

func (a *evalAction) Schema() ActionSchema {
	return ActionSchema{Description: a.desc}
}

func (a *evalAction) Validate(input map[string]any) error {
	expr, ok := input[a.param].(string)
	if !ok || expr == "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s requires non-empty '%s' string parameter", a.name, a.param)
	}
	if a.asRoot {
		if data, ok := input["data"]; ok && data != nil {
			if _, isMap := data.(map[string]any); !isMap {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"%s: 'data' must be an object, got %T", a.name, data)
			}
		}
	}
	return nil
}

func (a *evalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	expression, _ := input.Params[a.param].(string)
	data := input.Params["data"]

	var scope map[string]any
	switch {
	case a.asRoot:
		scope, _ = data.(map[string]any)
	case a.flatData:
		scope = make(map[string]any)
		if m, ok := data.(map[string]any); ok {
			for k, v := range m {
				scope[k] = v
			}
		}
		scope["data"] = data
	default:
		scope = map[string]any{"data": data, "vars": input.Params["vars"]}
	}
	if scope == nil {
		scope = map[string]any{}
	}

	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	return &ActionOutput{Data: map[string]any{"result": result}}, nil
}
