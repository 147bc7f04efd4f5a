package actions

import (
	"context"
	"errors"
	"maps"
	"math"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// BasicActions returns the arithmetic and test-support actions.
func BasicActions() []Action {
	return []Action{
		&funcAction{
			name:  "basic.add",
			desc:  "Add two numbers: {a, b} -> {sum}",
			input: numberPairSchema("a", "b"),
			exec: func(_ context.Context, in map[string]any) (any, error) {
				sum, err := arithmetic("basic.add", in["a"], in["b"], func(x, y float64) float64 { return x + y })
				if err != nil {
					return nil, err
				}
				return map[string]any{"sum": sum}, nil
			},
		},
		&funcAction{
			name:  "basic.multiply",
			desc:  "Multiply two numbers: {x, y} -> {product}",
			input: numberPairSchema("x", "y"),
			exec: func(_ context.Context, in map[string]any) (any, error) {
				product, err := arithmetic("basic.multiply", in["x"], in["y"], func(x, y float64) float64 { return x * y })
				if err != nil {
					return nil, err
				}
				return map[string]any{"product": product}, nil
			},
		},
		&funcAction{
			name: "basic.const",
			desc: "Return the step inputs unchanged",
			exec: func(_ context.Context, in map[string]any) (any, error) {
				return maps.Clone(in), nil
			},
		},
		&funcAction{
			name: "basic.fail",
			desc: "Always fail with the given message",
			exec: func(_ context.Context, in map[string]any) (any, error) {
				msg := expressions.Stringify(in["message"])
				if msg == "" {
					msg = "basic.fail invoked"
				}
				return nil, errors.New(msg)
			},
		},
	}
}

func numberPairSchema(a, b string) []byte {
	return []byte(`{"type":"object","required":["` + a + `","` + b + `"],"properties":{"` +
		a + `":{"type":"number"},"` + b + `":{"type":"number"}}}`)
}

// arithmetic applies op and keeps integer results integral when both
// operands are integers.
func arithmetic(action string, a, b any, op func(x, y float64) float64) (any, error) {
	x, ok := expressions.ToFloat(a)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: operand %v is not a number", action, a)
	}
	y, ok := expressions.ToFloat(b)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: operand %v is not a number", action, b)
	}
	r := op(x, y)
	if isInt(a) && isInt(b) && r == math.Trunc(r) && math.Abs(r) < 1<<53 {
		return int(r), nil
	}
	return r, nil
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}
