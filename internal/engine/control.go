package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// controlKeywords are control-step inputs that are never condition bindings.
var controlKeywords = map[string]struct{}{
	"condition": {}, "subflow": {}, "max_iterations": {}, "then_step": {}, "else_step": {},
	"cases": {}, "default": {}, "list_variable_name": {}, "list": {}, "iterator_name": {},
	"branches": {}, "wait_for_all": {}, "try_subflow": {}, "catch_subflow": {}, "on_error": {},
	"action_step": {}, "attempts": {}, "backoff_seconds": {}, "flow_id": {}, "flow_ref": {},
	"inputs": {}, "seconds": {}, "until": {}, "event": {}, "message": {},
	"loop_variable_updater_step": {}, "loop_variable_updater_output": {},
}

// resolveControlInputs resolves the named inputs of a control step. Body
// inputs (nested step lists) must never go through here.
func (e *Engine) resolveControlInputs(ctx context.Context, st *ExecutionState, step *schema.StepDefinition, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := step.Input(k); ok {
			out[k] = e.resolver.Resolve(ctx, v, st)
		}
	}
	return out
}

// conditionBindings is the flow variables overlaid with the step's resolved
// non-keyword inputs.
func (e *Engine) conditionBindings(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) map[string]any {
	bindings := st.vars.Snapshot()
	for k, v := range step.Inputs {
		if _, skip := controlKeywords[k]; skip {
			continue
		}
		bindings[k] = e.resolver.Resolve(ctx, v, st)
	}
	return bindings
}

func (e *Engine) evalCondition(ctx context.Context, st *ExecutionState, step *schema.StepDefinition, raw any) (bool, map[string]any) {
	bindings := e.conditionBindings(ctx, st, step)
	var ok bool
	if expr, isString := raw.(string); isString {
		ok = e.cond.Evaluate(ctx, expr, bindings)
	} else {
		ok = expressions.Truthy(raw)
	}
	e.emit(ctx, st, step.ID, schema.EventConditionEvaluated, map[string]any{
		"condition": raw,
		"result":    ok,
	})
	return ok, bindings
}

// resolveBody turns a body spec into step definitions. A body is a list of
// inline step mappings, a list of step ids, or a single step id. Ids are
// looked up among the inline definitions first, then the top-level steps.
func (e *Engine) resolveBody(st *ExecutionState, owner *schema.StepDefinition, spec any, role string) ([]*schema.StepDefinition, error) {
	missing := func(id string) error {
		return schema.NewErrorf(schema.ErrCodeFlowStructure,
			"%s step %q of %q not found in flow or inline definitions", role, id, owner.ID).
			WithStep(owner.ID)
	}
	lookup := func(id string, inline map[string]*schema.StepDefinition) (*schema.StepDefinition, error) {
		if def, ok := inline[id]; ok {
			return def, nil
		}
		if def, ok := st.flow.byID[id]; ok {
			return def, nil
		}
		return nil, missing(id)
	}

	switch body := spec.(type) {
	case nil:
		return nil, nil
	case string:
		def, err := lookup(body, nil)
		if err != nil {
			return nil, err
		}
		return []*schema.StepDefinition{def}, nil
	case []schema.StepDefinition:
		out := make([]*schema.StepDefinition, len(body))
		for i := range body {
			out[i] = &body[i]
		}
		return out, nil
	case []string:
		out := make([]*schema.StepDefinition, 0, len(body))
		for _, id := range body {
			def, err := lookup(id, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, def)
		}
		return out, nil
	case []any:
		if len(body) == 0 {
			return nil, nil
		}
		if !isMapping(body[0]) {
			out := make([]*schema.StepDefinition, 0, len(body))
			for _, item := range body {
				id, ok := item.(string)
				if !ok {
					continue
				}
				def, err := lookup(id, nil)
				if err != nil {
					return nil, err
				}
				out = append(out, def)
			}
			return out, nil
		}

		inline := make(map[string]*schema.StepDefinition, len(body))
		order := make([]string, 0, len(body))
		for _, item := range body {
			m, ok := asMapping(item)
			if !ok {
				continue
			}
			def, err := schema.StepFromMap(m)
			if err != nil {
				return nil, err
			}
			inline[def.ID] = &def
			order = append(order, def.ID)
		}
		out := make([]*schema.StepDefinition, 0, len(order))
		for _, id := range order {
			def, err := lookup(id, inline)
			if err != nil {
				return nil, err
			}
			out = append(out, def)
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
			"%s of %q must be a step list or step id, got %T", role, owner.ID, spec).
			WithStep(owner.ID)
	}
}

func isMapping(v any) bool {
	_, ok := asMapping(v)
	return ok
}

func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		return schema.StringKeys(m), true
	}
	return nil, false
}

// runBody executes steps in order, stopping early on error or termination.
// It returns the results of the steps that completed, keyed by id.
func (e *Engine) runBody(ctx context.Context, st *ExecutionState, steps []*schema.StepDefinition) (map[string]any, error) {
	results := make(map[string]any, len(steps))
	for _, step := range steps {
		if st.halt.Terminated() {
			break
		}
		res, err := e.executeStep(ctx, st, step)
		if err != nil {
			return results, err
		}
		results[step.ID] = res
	}
	return results, nil
}

// --- if / switch ---

func (e *Engine) runIf(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	raw, _ := step.Input("condition")
	// Placeholders are rendered first so "{{A.x}} > 10" reaches the
	// evaluator as "15 > 10"; a whole placeholder keeps its scalar type.
	ok, bindings := e.evalCondition(ctx, st, step, e.resolver.Resolve(ctx, raw, st))
	e.trace(ctx, "if evaluated", "condition", raw, "bindings", bindings, "result", ok)
	return map[string]any{"result": ok}, nil
}

func (e *Engine) runSwitch(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	in := e.resolveControlInputs(ctx, st, step, "value", "cases", "default")
	value := in["value"]
	// value may name a sibling input holding the actual subject.
	if name, ok := value.(string); ok && name != "value" && name != "cases" && name != "default" {
		if sibling, ok := step.Input(name); ok {
			value = e.resolver.Resolve(ctx, sibling, st)
		}
	}
	key := expressions.Stringify(value)

	var matched any
	switch cases := in["cases"].(type) {
	case map[string]any:
		if target, ok := cases[key]; ok {
			matched = target
		}
	case map[any]any:
		for k, target := range cases {
			if expressions.Stringify(k) == key {
				matched = target
				break
			}
		}
	}
	if matched == nil {
		matched = in["default"]
	}
	e.trace(ctx, "switch evaluated", "value", key, "matched_case", matched)
	return map[string]any{"matched_case": matched}, nil
}

// --- delay / wait_for / terminate ---

func (e *Engine) runDelay(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	in := e.resolveControlInputs(ctx, st, step, "seconds")
	seconds := 0.0
	if raw, ok := in["seconds"]; ok {
		if f, ok := expressions.ToFloat(raw); ok {
			seconds = f
		} else {
			e.logger.WarnContext(ctx, "invalid delay seconds, defaulting to 0", "seconds", raw)
		}
	}

	e.emit(ctx, st, step.ID, schema.EventWaitStarted, map[string]any{"seconds": seconds})
	if err := WaitForBackoff(ctx, SecondsToDuration(seconds)); err != nil {
		return nil, err
	}
	e.emit(ctx, st, step.ID, schema.EventWaitCompleted, nil)
	return map[string]any{"delayed_for_seconds": seconds, "completed": true}, nil
}

func (e *Engine) runWaitFor(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	in := e.resolveControlInputs(ctx, st, step, "until", "event", "timeout")
	until, ok := in["until"]
	if !ok || until == nil {
		until = in["event"]
	}
	timeout := in["timeout"]

	result := map[string]any{
		"event_triggered": true,
		"condition_met":   true,
		"details":         until,
		"timeout":         timeout,
	}

	var wait time.Duration
	switch u := until.(type) {
	case string:
		if d, ok := ParseWaitDuration(u); ok {
			wait = d
			result["waited_for_duration"] = true
		} else if at, ok := ParseWaitTimestamp(u); ok {
			wait = time.Until(at)
			result["waited_until_time"] = wait > 0
			if wait <= 0 {
				result["details"] = "Timestamp in past"
			}
		} else {
			result["simulated_event"] = true
		}
	default:
		if f, ok := expressions.ToFloat(until); ok && until != nil {
			wait = SecondsToDuration(f)
			result["waited_for_duration"] = true
		} else {
			result["simulated_event"] = true
		}
	}

	if _, simulated := result["simulated_event"]; simulated {
		e.logger.InfoContext(ctx, "waiting for named event is simulated as satisfied",
			"event", until,
			"timeout", timeout,
		)
		return result, nil
	}

	e.emit(ctx, st, step.ID, schema.EventWaitStarted, map[string]any{"until": until})
	if err := WaitForBackoff(ctx, wait); err != nil {
		return nil, err
	}
	e.emit(ctx, st, step.ID, schema.EventWaitCompleted, nil)
	return result, nil
}

func (e *Engine) runTerminate(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	in := e.resolveControlInputs(ctx, st, step, "message")
	message := fmt.Sprintf("Flow terminated by step '%s'.", step.ID)
	if m, ok := in["message"]; ok && m != nil {
		message = expressions.Stringify(m)
	}
	st.halt.Terminate(message)
	e.logger.InfoContext(ctx, "termination requested", "message", message)
	return map[string]any{"terminated": true, "message": message}, nil
}
