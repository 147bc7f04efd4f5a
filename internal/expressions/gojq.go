package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/flowforge/pkg/schema"
)

// GoJQEngine evaluates jq programs for the jq.transform action.
// Compiled programs are cached and shared across goroutines.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate runs expression over data. A single output is returned as is,
// several are collected into []any, and no output yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll always returns every output of the program.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.get(expression, func() (*gojq.Code, error) {
		query, err := gojq.Parse(expression)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq parse error in %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		// Empty environ loader blocks $ENV.
		code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq compile error in %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		return code, nil
	})
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(data))
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

// normalizeForJQ converts Go values into the types gojq accepts: gojq
// rejects typed slices, typed maps and narrow integer types.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case map[any]any:
		return normalizeForJQ(schema.StringKeys(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case float32:
		return float64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
