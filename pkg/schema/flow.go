package schema

import (
	"fmt"
	"strings"
)

// FlowDefinition is an already-parsed flow: an id plus an ordered step list.
// Step order is meaningful: after every step the dispatch loop falls through
// to the positionally next top-level step.
type FlowDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition describes one step. Inputs hold literals, reference strings,
// or nested mappings/sequences of the same; control steps additionally carry
// nested bodies (inline step mappings or step ids) inside their inputs.
type StepDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	Action string         `json:"action" yaml:"action"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// ControlNamespace marks control steps: action = "control.<kind>".
const ControlNamespace = "control"

// ControlKind enumerates the control-flow constructs the interpreter drives itself.
type ControlKind string

const (
	ControlIf        ControlKind = "if"
	ControlSwitch    ControlKind = "switch"
	ControlWhile     ControlKind = "while"
	ControlForEach   ControlKind = "for_each"
	ControlParallel  ControlKind = "parallel"
	ControlTryCatch  ControlKind = "try_catch"
	ControlRetry     ControlKind = "retry"
	ControlSubflow   ControlKind = "subflow"
	ControlDelay     ControlKind = "delay"
	ControlWaitFor   ControlKind = "wait_for"
	ControlTerminate ControlKind = "terminate"
)

// controlAliases maps legacy control verbs onto their canonical kind.
var controlAliases = map[string]ControlKind{
	"if_node":    ControlIf,
	"while_loop": ControlWhile,
	"try":        ControlTryCatch,
	"try_except": ControlTryCatch,
}

// IsControl reports whether the step is a control step.
func (s *StepDefinition) IsControl() bool {
	ns, _, _ := strings.Cut(s.Action, ".")
	return ns == ControlNamespace
}

// ControlKind returns the canonical control kind of a control step, or "" for
// ordinary action steps.
func (s *StepDefinition) ControlKind() ControlKind {
	ns, verb, ok := strings.Cut(s.Action, ".")
	if !ok || ns != ControlNamespace {
		return ""
	}
	if k, ok := controlAliases[verb]; ok {
		return k
	}
	return ControlKind(verb)
}

// Input returns the raw (unresolved) input value for key.
func (s *StepDefinition) Input(key string) (any, bool) {
	if s.Inputs == nil {
		return nil, false
	}
	v, ok := s.Inputs[key]
	return v, ok
}

// StepFromMap builds a StepDefinition from a decoded mapping such as an inline
// body entry {"id": ..., "action": ..., "inputs": {...}}.
func StepFromMap(m map[string]any) (StepDefinition, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return StepDefinition{}, NewError(ErrCodeFlowStructure, "inline step is missing a string 'id'")
	}
	action, _ := m["action"].(string)
	step := StepDefinition{ID: id, Action: action}

	switch in := m["inputs"].(type) {
	case nil:
	case map[string]any:
		step.Inputs = in
	case map[any]any:
		step.Inputs = StringKeys(in)
	default:
		return StepDefinition{}, NewErrorf(ErrCodeFlowStructure, "inline step %q: 'inputs' must be a mapping, got %T", id, in).WithStep(id)
	}
	return step, nil
}

// StringKeys converts a mapping with arbitrary keys into one keyed by the
// keys' string form.
func StringKeys(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}
