package validation

import (
	"testing"

	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, actions ...string) *FlowValidator {
	t.Helper()
	v, err := NewFlowValidator(newMockLookup(actions...))
	require.NoError(t, err)
	return v
}

func TestFlowValidator_Valid(t *testing.T) {
	v := newTestValidator(t, "basic.const", "basic.add")
	def := &schema.FlowDefinition{ID: "demo", Steps: []schema.StepDefinition{
		{ID: "A", Action: "basic.const", Inputs: map[string]any{"x": 5}},
		{ID: "B", Action: "control.if", Inputs: map[string]any{
			"condition": "x > 10", "x": "A.x", "then_step": "C", "else_step": "D",
		}},
		{ID: "C", Action: "basic.add", Inputs: map[string]any{"a": 1, "b": 2}},
		{ID: "D", Action: "basic.const"},
	}}
	r := v.Validate(def)
	assert.True(t, r.Valid(), "%v", r.Errors)
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestFlowValidator_StructuralShortCircuits(t *testing.T) {
	v := newTestValidator(t)
	def := &schema.FlowDefinition{Steps: []schema.StepDefinition{{ID: "a", Action: "nonamespace"}}}
	r := v.Validate(def)
	require.False(t, r.Valid())
	for _, issue := range r.Errors {
		assert.Equal(t, schema.ErrCodeValidation, issue.Code)
	}
}

func TestFlowValidator_SelfReferencingBody(t *testing.T) {
	v := newTestValidator(t, "basic.const")
	def := &schema.FlowDefinition{Steps: []schema.StepDefinition{
		{ID: "loop", Action: "control.while", Inputs: map[string]any{
			"condition": "True",
			"subflow":   []any{"loop"},
		}},
	}}
	r := v.Validate(def)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeFlowStructure, r.Errors[0].Code)
	assert.Contains(t, r.Errors[0].Message, "loop")
}

func TestFlowValidator_MutualRecursion(t *testing.T) {
	v := newTestValidator(t)
	def := &schema.FlowDefinition{Steps: []schema.StepDefinition{
		{ID: "a", Action: "control.try_catch", Inputs: map[string]any{"subflow": "b"}},
		{ID: "b", Action: "control.retry", Inputs: map[string]any{"action_step": "a"}},
	}}
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeFlowStructure))
}

func TestFlowValidator_TopLevelBodyMemberWarns(t *testing.T) {
	v := newTestValidator(t, "basic.flaky")
	def := &schema.FlowDefinition{Steps: []schema.StepDefinition{
		{ID: "r", Action: "control.retry", Inputs: map[string]any{"action_step": "flaky"}},
		{ID: "flaky", Action: "basic.flaky"},
	}}
	r := v.Validate(def)
	require.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[1]", r.Warnings[0].Path)
}

func TestFlowValidator_Nil(t *testing.T) {
	v := newTestValidator(t)
	assert.False(t, v.Validate(nil).Valid())
}
