package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

const errorVariable = "__error"

// errorDetails renders err as the {type, message} mapping exposed to catch
// bodies. Action failures report the registry's own error.
func errorDetails(err error) map[string]any {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		return map[string]any{"type": "error", "message": err.Error()}
	}
	if fe.Code == schema.ErrCodeActionExecution && fe.Cause != nil {
		var inner *schema.FlowError
		if errors.As(fe.Cause, &inner) {
			return map[string]any{"type": inner.Code, "message": inner.Message}
		}
		return map[string]any{"type": schema.ErrCodeActionExecution, "message": fe.Cause.Error()}
	}
	return map[string]any{"type": fe.Code, "message": fe.Message}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

func firstInput(step *schema.StepDefinition, keys ...string) any {
	for _, k := range keys {
		if v, ok := step.Input(k); ok {
			return v
		}
	}
	return nil
}

func (e *Engine) runTryCatch(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	tryBody, err := e.resolveBody(st, step, firstInput(step, "subflow", "try_subflow"), "try block")
	if err != nil {
		return nil, err
	}
	catchSpec := firstInput(step, "on_error", "catch_subflow")

	tryResults, tryErr := e.runBody(ctx, st, tryBody)
	if tryErr == nil {
		if terminated, message := st.Terminated(); terminated {
			return map[string]any{
				"success":           false,
				"error_details":     map[string]any{"type": flowTerminatedErrType, "message": message},
				"try_block_results": tryResults,
			}, nil
		}
		return map[string]any{
			"success":           true,
			"error_details":     nil,
			"try_block_results": tryResults,
		}, nil
	}
	if schema.IsFatal(tryErr) {
		return nil, tryErr
	}

	details := errorDetails(tryErr)
	e.logger.InfoContext(ctx, "error caught in try block",
		"error_type", details["type"],
		"error", tryErr,
	)
	e.emit(ctx, st, step.ID, schema.EventErrorCaught, details)

	if catchSpec != nil && !st.halt.Terminated() {
		catchBody, err := e.resolveBody(st, step, catchSpec, "catch block")
		if err != nil {
			return nil, err
		}
		if err := e.runCatch(ctx, st, step, catchBody, details); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"success":           false,
		"error_details":     details,
		"try_block_results": tryResults,
	}, nil
}

// runCatch runs the catch body with the error exposed as the __error flow
// variable and the __error_<id> step result, then removes both.
func (e *Engine) runCatch(ctx context.Context, st *ExecutionState, step *schema.StepDefinition, body []*schema.StepDefinition, details map[string]any) error {
	key := errorVariable + "_" + step.ID
	prev, hadPrev := st.results.Get(key)
	st.results.Set(key, map[string]any{"details": expressions.DeepCopyMap(details)})
	st.vars.Set(errorVariable, expressions.DeepCopyMap(details))

	defer func() {
		if hadPrev && prev != nil {
			st.results.Set(key, prev)
		} else {
			st.results.Delete(key)
		}
		st.vars.Delete(errorVariable)
	}()

	_, err := e.runBody(ctx, st, body)
	return err
}

func (e *Engine) runRetry(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	in := e.resolveControlInputs(ctx, st, step, "action_step", "attempts", "backoff_seconds")

	target := expressions.Stringify(in["action_step"])
	action, ok := st.flow.byID[target]
	if target == "" || !ok {
		return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
			"retry step %q: action_step %q not found in main flow", step.ID, target).
			WithStep(step.ID)
	}

	maxAttempts := defaultRetryAttempts
	if raw, ok := in["attempts"]; ok {
		if f, ok := expressions.ToFloat(raw); ok {
			maxAttempts = int(f)
		}
	}
	backoff := 0.0
	if raw, ok := in["backoff_seconds"]; ok {
		if f, ok := expressions.ToFloat(raw); ok {
			backoff = f
		}
	}

	st.retries.Set(step.ID, 0)
	var (
		last      any
		lastErr   error
		succeeded bool
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if st.halt.Terminated() {
			break
		}
		st.retries.Set(step.ID, attempt)
		e.emit(ctx, st, step.ID, schema.EventRetryAttempt, map[string]any{
			"attempt":     attempt,
			"max":         maxAttempts,
			"action_step": target,
		})

		res, err := e.executeStep(ctx, st, action)
		if err == nil {
			last, succeeded, lastErr = res, true, nil
			e.trace(ctx, "retry target succeeded", "target", target, "attempt", attempt)
			break
		}
		if schema.IsFatal(err) {
			return nil, err
		}
		lastErr = err
		e.logger.WarnContext(ctx, "retry attempt failed",
			"target", target,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)

		if attempt < maxAttempts && !st.halt.Terminated() {
			if err := WaitForBackoff(ctx, SecondsToDuration(backoff)); err != nil {
				return nil, err
			}
		}
	}

	if !succeeded && lastErr != nil {
		e.logger.WarnContext(ctx, "retry exhausted", "target", target, "attempts", st.retries.Get(step.ID))
	}

	var lastErrMsg any
	if lastErr != nil {
		lastErrMsg = lastErr.Error()
	}
	return map[string]any{
		"action_succeeded":   succeeded,
		"attempts_made":      st.retries.Get(step.ID),
		"last_action_result": last,
		"max_attempts":       maxAttempts,
		"last_error":         lastErrMsg,
	}, nil
}
