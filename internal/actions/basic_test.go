package actions

import (
	"context"
	"testing"

	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findAction(t *testing.T, actions []Action, name string) Action {
	t.Helper()
	for _, a := range actions {
		if a.Name() == name {
			return a
		}
	}
	t.Fatalf("action %s not found", name)
	return nil
}

func execBasic(t *testing.T, name string, params map[string]any) (any, error) {
	t.Helper()
	out, err := findAction(t, BasicActions(), name).Execute(context.Background(), ActionInput{Params: params})
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func TestBasicAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want any
	}{
		{"ints", 2, 3, 5},
		{"floats", 1.5, 2.25, 3.75},
		{"mixed", 1, 0.5, 1.5},
		{"negative", -4, 1, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := execBasic(t, "basic.add", map[string]any{"a": tt.a, "b": tt.b})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"sum": tt.want}, got)
		})
	}
}

func TestBasicAdd_NotANumber(t *testing.T) {
	_, err := execBasic(t, "basic.add", map[string]any{"a": 1, "b": []any{}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestBasicMultiply(t *testing.T) {
	got, err := execBasic(t, "basic.multiply", map[string]any{"x": 6, "y": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"product": 42}, got)

	got, err = execBasic(t, "basic.multiply", map[string]any{"x": 2, "y": 0.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"product": 1.0}, got)
}

func TestBasicConst(t *testing.T) {
	in := map[string]any{"k": "v", "n": 1}
	got, err := execBasic(t, "basic.const", in)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	got.(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", in["k"])
}

func TestBasicFail(t *testing.T) {
	_, err := execBasic(t, "basic.fail", map[string]any{"message": "nope"})
	assert.EqualError(t, err, "nope")

	_, err = execBasic(t, "basic.fail", nil)
	assert.EqualError(t, err, "basic.fail invoked")
}
