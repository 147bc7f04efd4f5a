package actions

import (
	"context"
	"log/slog"
	"testing"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewBuiltinRegistry()
	require.NoError(t, err)
	return reg
}

// requireAssertionFailed checks err is an ASSERTION_FAILED FlowError and
// returns it.
func requireAssertionFailed(t *testing.T, err error) *schema.FlowError {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, schema.ErrCodeAssertionFailed, fe.Code, fe.Error())
	return fe
}

func TestAssertEquals(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		pass     bool
	}{
		{"strings", "hello", "hello", true},
		{"different strings", "hello", "world", false},
		{"int and float", 3, 3.0, true},
		{"int and int64", int64(7), 7, true},
		{"nested mapping", map[string]any{"a": 1, "b": []any{1, "x"}}, map[string]any{"a": 1.0, "b": []any{1.0, "x"}}, true},
		{"template-embedded list", []any{1, 2}, "[1,2]", true},
		{"template-embedded mapping", `{"a":1}`, map[string]any{"a": 1}, true},
		{"json text against text", `[1,2]`, `[1, 2]`, false},
		{"number against numeric text", 5, "5", false},
		{"nil against nil", nil, nil, true},
	}
	reg := builtinRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := reg.Execute(context.Background(), "assert.equals", map[string]any{
				"expected": tt.expected,
				"actual":   tt.actual,
			})
			if tt.pass {
				require.NoError(t, err)
				assert.Equal(t, map[string]any{"pass": true}, out)
				return
			}
			fe := requireAssertionFailed(t, err)
			assert.Equal(t, tt.expected, fe.Details["expected"])
			assert.Equal(t, tt.actual, fe.Details["actual"])
		})
	}
}

func TestOperand_NormalizesDecodedShapes(t *testing.T) {
	assert.Equal(t, map[string]any{"k": 1.0}, operand(map[any]any{"k": 1}, false))
	assert.Equal(t, []any{1.0, "x"}, operand(`[1,"x"]`, true))
	assert.Equal(t, `[1,"x"]`, operand(`[1,"x"]`, false))
	assert.Equal(t, "[not json", operand("[not json", true))
	assert.Equal(t, true, operand(true, true))
}

func TestAssertEquals_CustomMessage(t *testing.T) {
	_, err := builtinRegistry(t).Execute(context.Background(), "assert.equals", map[string]any{
		"expected": 1,
		"actual":   2,
		"message":  "order total drifted",
	})
	fe := requireAssertionFailed(t, err)
	assert.Equal(t, "order total drifted", fe.Message)
}

func TestAssert_MissingParamsRejectedBySchema(t *testing.T) {
	reg := builtinRegistry(t)
	for name, params := range map[string]map[string]any{
		"assert.equals":   {"expected": 1},
		"assert.contains": {"haystack": "abc"},
		"assert.matches":  {"value": "abc"},
		"assert.schema":   {"data": map[string]any{}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Execute(context.Background(), name, params)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation), err.Error())
		})
	}
}

func TestAssertContains(t *testing.T) {
	tests := []struct {
		name     string
		haystack any
		needle   any
		pass     bool
	}{
		{"substring", "hello world", "world", true},
		{"missing substring", "hello", "xyz", false},
		{"number in text", "order 42 shipped", 42, true},
		{"list element", []any{"a", 2, "c"}, 2.0, true},
		{"missing list element", []any{"a", "b"}, "z", false},
		{"mapping key", map[string]any{"sku": "X1"}, "sku", true},
		{"missing mapping key", map[string]any{"sku": "X1"}, "price", false},
		{"template-embedded list", `["red","green"]`, "green", true},
	}
	reg := builtinRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := reg.Execute(context.Background(), "assert.contains", map[string]any{
				"haystack": tt.haystack,
				"needle":   tt.needle,
			})
			if tt.pass {
				require.NoError(t, err)
				assert.Equal(t, true, out.(map[string]any)["pass"])
				return
			}
			requireAssertionFailed(t, err)
		})
	}
}

func TestAssertContains_ReportsListIndex(t *testing.T) {
	out, err := builtinRegistry(t).Execute(context.Background(), "assert.contains", map[string]any{
		"haystack": []any{"a", "b", "c"},
		"needle":   "c",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]any)["index"])
}

func TestAssertContains_UnsupportedHaystack(t *testing.T) {
	_, err := builtinRegistry(t).Execute(context.Background(), "assert.contains", map[string]any{
		"haystack": 42,
		"needle":   4,
	})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestAssertMatches(t *testing.T) {
	reg := builtinRegistry(t)

	out, err := reg.Execute(context.Background(), "assert.matches", map[string]any{
		"value":   "order-1234",
		"pattern": `^order-(\d+)$`,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pass": true, "matches": "order-1234", "groups": []any{"1234"}}, out)

	_, err = reg.Execute(context.Background(), "assert.matches", map[string]any{
		"value":   "invoice-9",
		"pattern": `^order-\d+$`,
	})
	fe := requireAssertionFailed(t, err)
	assert.Equal(t, `^order-\d+$`, fe.Details["pattern"])
}

func TestAssertMatches_BadInputs(t *testing.T) {
	reg := builtinRegistry(t)

	_, err := reg.Execute(context.Background(), "assert.matches", map[string]any{
		"value":   "abc",
		"pattern": "[unclosed",
	})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	// A number is not a string once resolved.
	_, err = reg.Execute(context.Background(), "assert.matches", map[string]any{
		"value":   12,
		"pattern": `\d+`,
	})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestAssertSchema(t *testing.T) {
	reg := builtinRegistry(t)
	orderSchema := map[string]any{
		"type":     "object",
		"required": []any{"id", "total"},
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"total": map[string]any{"type": "number", "minimum": 0},
		},
	}

	out, err := reg.Execute(context.Background(), "assert.schema", map[string]any{
		"data":   map[string]any{"id": "o-1", "total": 12.5},
		"schema": orderSchema,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pass": true}, out)

	_, err = reg.Execute(context.Background(), "assert.schema", map[string]any{
		"data":   map[string]any{"id": 7, "total": -1},
		"schema": orderSchema,
	})
	fe := requireAssertionFailed(t, err)
	assert.Len(t, fe.Details["violations"], 2)
}

func TestAssertSchema_EmbeddedJSONAndBrokenSchema(t *testing.T) {
	reg := builtinRegistry(t)

	out, err := reg.Execute(context.Background(), "assert.schema", map[string]any{
		"data":   `{"id":"o-2"}`,
		"schema": `{"type":"object","required":["id"]}`,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["pass"])

	_, err = reg.Execute(context.Background(), "assert.schema", map[string]any{
		"data":   map[string]any{"id": "o-3"},
		"schema": map[string]any{"type": 12},
	})
	require.Error(t, err)
	assert.False(t, schema.HasCode(err, schema.ErrCodeAssertionFailed))

	_, err = reg.Execute(context.Background(), "assert.schema", map[string]any{
		"data":   []any{1},
		"schema": map[string]any{"type": "array"},
	})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

// --- assertions inside flows ---

func runWithBuiltins(t *testing.T, f *schema.FlowDefinition) (*engine.RunResult, error) {
	t.Helper()
	e := engine.New(builtinRegistry(t), engine.Config{}, engine.WithLogger(slog.New(slog.DiscardHandler)))
	return e.ExecuteFlow(context.Background(), f, nil)
}

func TestAssertInFlow_ComparesResolvedReferences(t *testing.T) {
	res, err := runWithBuiltins(t, &schema.FlowDefinition{ID: "checks", Steps: []schema.StepDefinition{
		{ID: "order", Action: "basic.const", Inputs: map[string]any{
			"id": "o-9", "qty": 3, "tags": []any{"rush", "gift"},
		}},
		{ID: "total", Action: "basic.multiply", Inputs: map[string]any{"x": "order.qty", "y": 2.5}},
		{ID: "set_owner", Action: "variables.set_local", Inputs: map[string]any{"name": "owner", "value": "ops"}},
		{ID: "qty_is_3", Action: "assert.equals", Inputs: map[string]any{"expected": 3, "actual": "{{order.qty}}"}},
		{ID: "total_ok", Action: "assert.equals", Inputs: map[string]any{"expected": 7.5, "actual": "total.product"}},
		{ID: "owner_ok", Action: "assert.equals", Inputs: map[string]any{"expected": "ops", "actual": "var.owner"}},
		{ID: "tags_ok", Action: "assert.equals", Inputs: map[string]any{"expected": []any{"rush", "gift"}, "actual": "{{order.tags}}"}},
		{ID: "has_rush", Action: "assert.contains", Inputs: map[string]any{"haystack": "order.tags", "needle": "rush"}},
		{ID: "id_shape", Action: "assert.matches", Inputs: map[string]any{"value": "order.id", "pattern": `^o-\d+$`}},
	}})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	for _, id := range []string{"qty_is_3", "total_ok", "owner_ok", "tags_ok", "has_rush", "id_shape"} {
		assert.Equal(t, true, res.Steps[id].(map[string]any)["pass"], id)
	}
}

func TestAssertInFlow_FailureFailsRun(t *testing.T) {
	res, err := runWithBuiltins(t, &schema.FlowDefinition{ID: "checks", Steps: []schema.StepDefinition{
		{ID: "n", Action: "basic.add", Inputs: map[string]any{"a": 1, "b": 1}},
		{ID: "check", Action: "assert.equals", Inputs: map[string]any{"expected": 3, "actual": "n.sum", "message": "bad sum"}},
		{ID: "after", Action: "basic.const"},
	}})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeAssertionFailed))
	assert.Contains(t, err.Error(), "bad sum")
	assert.Equal(t, schema.RunStatusFailed, res.Status)
	assert.NotContains(t, res.Steps, "after")
}

func TestAssertInFlow_CaughtByTryCatch(t *testing.T) {
	res, err := runWithBuiltins(t, &schema.FlowDefinition{ID: "checks", Steps: []schema.StepDefinition{
		{ID: "guard", Action: "control.try_catch", Inputs: map[string]any{
			"subflow": []any{
				map[string]any{"id": "check", "action": "assert.matches", "inputs": map[string]any{
					"value": "abc", "pattern": `^\d+$`, "message": "not numeric",
				}},
			},
		}},
	}})
	require.NoError(t, err)
	guard := res.Steps["guard"].(map[string]any)
	assert.Equal(t, false, guard["success"])
	assert.Equal(t,
		map[string]any{"type": schema.ErrCodeAssertionFailed, "message": "not numeric"},
		guard["error_details"])
}
