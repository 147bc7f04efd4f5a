package validation

import (
	"testing"

	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJSONSchemaValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestJSONSchema_ValidFlow(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	def := &schema.FlowDefinition{
		ID: "demo",
		Steps: []schema.StepDefinition{
			{ID: "a", Action: "basic.const", Inputs: map[string]any{"x": 5}},
			{ID: "b", Action: "control.if", Inputs: map[string]any{"condition": "x > 1"}},
		},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestJSONSchema_InvalidAction(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	tests := []struct {
		name   string
		action string
	}{
		{"empty", ""},
		{"no namespace", "const"},
		{"trailing dot", "basic."},
		{"spaces", "basic. add"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &schema.FlowDefinition{ID: "f", Steps: []schema.StepDefinition{{ID: "a", Action: tt.action}}}
			err := v.ValidateDefinition(def)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestJSONSchema_EmptyStepID(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	def := &schema.FlowDefinition{ID: "f", Steps: []schema.StepDefinition{{ID: "", Action: "basic.const"}}}
	assert.Error(t, v.ValidateDefinition(def))
}

func TestJSONSchema_NilDefinition(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	assert.Error(t, v.ValidateDefinition(nil))
}

func TestValidateInput(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"count": {"type": "integer", "minimum": 0}
		}
	}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"name": "x", "count": 3}, inputSchema))

	err := v.ValidateInput(map[string]any{"count": -1}, inputSchema)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}

func TestValidateInput_NoSchema(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	assert.NoError(t, v.ValidateInput(map[string]any{"a": 1}, nil))
	assert.Error(t, v.ValidateInput(nil, []byte(`{}`)))
}

func TestValidateInput_BadSchema(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	err := v.ValidateInput(map[string]any{"a": 1}, []byte(`{"type": 12}`))
	assert.Error(t, err)
}

func TestValidateInput_Cached(t *testing.T) {
	v := newTestJSONSchemaValidator(t)
	s := []byte(`{"type": "object"}`)
	require.NoError(t, v.ValidateInput(map[string]any{}, s))
	require.NoError(t, v.ValidateInput(map[string]any{}, s))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
