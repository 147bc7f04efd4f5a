package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepDefinition_ControlKind(t *testing.T) {
	cases := map[string]ControlKind{
		"control.if":         ControlIf,
		"control.if_node":    ControlIf,
		"control.while_loop": ControlWhile,
		"control.try":        ControlTryCatch,
		"control.try_except": ControlTryCatch,
		"control.for_each":   ControlForEach,
		"basic.add":          "",
		"control":            "",
	}
	for action, want := range cases {
		t.Run(action, func(t *testing.T) {
			s := StepDefinition{ID: "s", Action: action}
			assert.Equal(t, want, s.ControlKind())
		})
	}
}

func TestStepDefinition_IsControl(t *testing.T) {
	assert.True(t, (&StepDefinition{Action: "control.delay"}).IsControl())
	assert.False(t, (&StepDefinition{Action: "variables.set"}).IsControl())
}

func TestStepFromMap(t *testing.T) {
	step, err := StepFromMap(map[string]any{
		"id":     "inc",
		"action": "basic.add",
		"inputs": map[any]any{"a": 1, 2: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "inc", step.ID)
	assert.Equal(t, "basic.add", step.Action)
	assert.Equal(t, map[string]any{"a": 1, "2": "b"}, step.Inputs)
}

func TestStepFromMap_Invalid(t *testing.T) {
	_, err := StepFromMap(map[string]any{"action": "basic.add"})
	assert.True(t, HasCode(err, ErrCodeFlowStructure))

	_, err = StepFromMap(map[string]any{"id": "x", "inputs": []any{1}})
	assert.True(t, HasCode(err, ErrCodeFlowStructure))
}

func TestFlowError_Chain(t *testing.T) {
	root := errors.New("boom")
	err := NewErrorf(ErrCodeActionExecution, "step failed").WithStep("s1").
		WithCause(NewError(ErrCodeActionUnavailable, "missing").WithCause(root))

	assert.Equal(t, "[ACTION_EXECUTION_ERROR] step s1: step failed", err.Error())
	assert.True(t, HasCode(err, ErrCodeActionUnavailable))
	assert.False(t, HasCode(err, ErrCodeFlowStructure))
	assert.ErrorIs(t, err, root)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(NewError(ErrCodeFlowStructure, "x")))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, IsFatal(NewError(ErrCodeActionExecution, "x")))
	assert.False(t, IsFatal(errors.New("plain")))
}
