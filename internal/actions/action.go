package actions

import (
	"context"
	"encoding/json"
)

// Action backs every non-control step. The registry hands it the step's
// inputs after reference resolution, so values arrive as the flow author
// referenced them: direct references keep their type, templates arrive as
// text or coerced scalars.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(input map[string]any) error
}

// ActionSchema is an action's input contract. InputSchema, when set, is a
// JSON Schema the registry checks the resolved inputs against before
// Validate runs.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput carries the resolved inputs of one step.
type ActionInput struct {
	Params map[string]any `json:"params"`
}

// ActionOutput wraps what the action produced. Data is stored as the step
// result, where later steps reach it as "step_id.field".
type ActionOutput struct {
	Data any `json:"data,omitempty"`
}

// ActionInfo describes a registered action for `flowforge actions`.
type ActionInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
