package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/pkg/schema"
)

// dispatch walks the top-level step list starting at the first step and
// returns the id of the last step that completed.
func (e *Engine) dispatch(ctx context.Context, st *ExecutionState) (string, error) {
	var lastID string
	current := st.flow.flow.Steps[0].ID

	for current != "" && !st.halt.Terminated() {
		if err := ctx.Err(); err != nil {
			return lastID, err
		}

		step, ok := st.flow.byID[current]
		if !ok {
			return lastID, schema.NewErrorf(schema.ErrCodeFlowStructure,
				"step %q not found in flow %q", current, st.FlowID).
				WithDetails(map[string]any{"previous_step": lastID})
		}

		result, err := e.executeStep(ctx, st, step)
		if err != nil {
			return lastID, err
		}
		lastID = step.ID

		if st.halt.Terminated() {
			break
		}
		current = e.nextStep(ctx, st, step, result)
	}
	return lastID, nil
}

// nextStep applies the linking rule: if and switch jump to a named step,
// everything else falls through to the positionally next top-level step.
func (e *Engine) nextStep(ctx context.Context, st *ExecutionState, step *schema.StepDefinition, result any) string {
	switch step.ControlKind() {
	case schema.ControlIf:
		key := "else_step"
		if m, ok := result.(map[string]any); ok && expressions.Truthy(m["result"]) {
			key = "then_step"
		}
		target, ok := step.Input(key)
		if !ok || target == nil {
			return ""
		}
		return expressions.Stringify(e.resolver.Resolve(ctx, target, st))
	case schema.ControlSwitch:
		if m, ok := result.(map[string]any); ok && m["matched_case"] != nil {
			return expressions.Stringify(m["matched_case"])
		}
		return ""
	}
	return st.flow.next(step.ID)
}

// executeStep runs one step, control or action, and stores its result.
// It is the single entry point for top-level and nested steps alike.
func (e *Engine) executeStep(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	ctx = logging.WithStepID(ctx, step.ID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.emit(ctx, st, step.ID, schema.EventStepStarted, map[string]any{"action": step.Action})
	e.trace(ctx, "step started", "action", step.Action)
	start := time.Now()

	var (
		result any
		err    error
	)
	if step.IsControl() {
		result, err = e.executeControl(ctx, st, step)
	} else {
		result, err = e.executeAction(ctx, st, step)
	}

	if err != nil {
		var fe *schema.FlowError
		if errors.As(err, &fe) && fe.StepID == "" {
			fe.StepID = step.ID
		}
		e.emit(ctx, st, step.ID, schema.EventStepFailed, map[string]any{"error": err.Error()})
		e.logger.DebugContext(ctx, "step failed", "action", step.Action, "error", err)
		return nil, err
	}

	st.results.Set(step.ID, result)
	e.emit(ctx, st, step.ID, schema.EventStepCompleted, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	e.trace(ctx, "step completed", "action", step.Action, "result", result)
	return result, nil
}

func (e *Engine) executeControl(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	switch step.ControlKind() {
	case schema.ControlIf:
		return e.runIf(ctx, st, step)
	case schema.ControlSwitch:
		return e.runSwitch(ctx, st, step)
	case schema.ControlWhile:
		return e.runWhile(ctx, st, step)
	case schema.ControlForEach:
		return e.runForEach(ctx, st, step)
	case schema.ControlParallel:
		return e.runParallel(ctx, st, step)
	case schema.ControlTryCatch:
		return e.runTryCatch(ctx, st, step)
	case schema.ControlRetry:
		return e.runRetry(ctx, st, step)
	case schema.ControlSubflow:
		return e.runSubflow(ctx, st, step)
	case schema.ControlDelay:
		return e.runDelay(ctx, st, step)
	case schema.ControlWaitFor:
		return e.runWaitFor(ctx, st, step)
	case schema.ControlTerminate:
		return e.runTerminate(ctx, st, step)
	default:
		// Unknown control verbs go to the registry like any other action.
		return e.executeAction(ctx, st, step)
	}
}

// executeAction resolves inputs and hands the step to the registry.
// variables.* actions are served here since they touch flow variables.
func (e *Engine) executeAction(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	inputs := e.resolver.ResolveInputs(ctx, step.Inputs, st)

	if ns, verb, _ := strings.Cut(step.Action, "."); ns == "variables" {
		if result, ok := e.variableAction(ctx, st, step, verb, inputs); ok {
			return result, nil
		}
	}

	if e.registry == nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable,
			"no action registry configured for %q", step.Action).WithStep(step.ID)
	}

	result, err := e.registry.Execute(ctx, step.Action, inputs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution,
			"action %q failed: %s", step.Action, err.Error()).
			WithStep(step.ID).
			WithCause(err)
	}
	return result, nil
}

func (e *Engine) variableAction(ctx context.Context, st *ExecutionState, step *schema.StepDefinition, verb string, inputs map[string]any) (any, bool) {
	name := expressions.Stringify(inputs["name"])

	switch verb {
	case "get_local":
		if v, ok := st.vars.Get(name); ok {
			return map[string]any{"value": v}, true
		}
		return map[string]any{"value": inputs["default"]}, true
	case "set_local", "set":
		value := inputs["value"]
		st.vars.Set(name, value)
		e.emit(ctx, st, step.ID, schema.EventVariableSet, map[string]any{"name": name})
		return map[string]any{"value": value}, true
	case "get_env":
		if v, ok := st.env[name]; ok {
			return map[string]any{"value": v}, true
		}
		def, ok := inputs["default"]
		if !ok {
			def = ""
		}
		return map[string]any{"value": def}, true
	case "get":
		if v, ok := st.vars.Get(name); ok {
			return map[string]any{"value": v}, true
		}
		if v, ok := st.env[name]; ok {
			return map[string]any{"value": v}, true
		}
		return map[string]any{"value": inputs["default"]}, true
	}
	return nil, false
}
