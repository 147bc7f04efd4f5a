package engine

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

func (e *Engine) runSubflow(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	in := e.resolveControlInputs(ctx, st, step, "flow_id", "flow_ref", "inputs")

	target := in["flow_id"]
	if target == nil {
		target = in["flow_ref"]
	}
	id := expressions.Stringify(target)
	if id == "" {
		return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
			"subflow step %q is missing 'flow_id' or 'flow_ref'", step.ID).WithStep(step.ID)
	}

	fl := e.flowLoader()
	if fl == nil {
		return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
			"subflow %q: no flow loader available", id).
			WithStep(step.ID).
			WithCause(e.loaderErr)
	}
	flow, err := fl.Load(ctx, id)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
			"subflow %q could not be loaded: %s", id, err.Error()).
			WithStep(step.ID).
			WithCause(err)
	}

	seed := expressions.DeepCopyMap(st.vars.Snapshot())
	switch explicit := in["inputs"].(type) {
	case map[string]any:
		maps.Copy(seed, explicit)
	case map[any]any:
		maps.Copy(seed, schema.StringKeys(explicit))
	case nil:
	default:
		e.logger.WarnContext(ctx, "subflow inputs are not a mapping, ignoring", "type", typeName(explicit))
	}

	e.emit(ctx, st, step.ID, schema.EventSubflowStarted, map[string]any{"subflow_id": id})
	child := e.child(seed)
	res, err := child.ExecuteFlow(ctx, flow, nil)
	if err != nil {
		if schema.IsFatal(err) && ctx.Err() != nil {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeSubflowFailed, "Subflow '%s' failed.", id).
			WithStep(step.ID).
			WithCause(err)
	}

	for name, v := range child.ListVariables() {
		if old, ok := seed[name]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		st.vars.Set(name, v)
		e.trace(ctx, "imported variable from subflow", "subflow_id", id, "name", name)
	}

	if res.Terminated {
		st.halt.Terminate(fmt.Sprintf("Subflow '%s' terminated: %s", id, res.Message))
	}
	e.emit(ctx, st, step.ID, schema.EventSubflowCompleted, map[string]any{
		"subflow_id": id,
		"terminated": res.Terminated,
	})

	return map[string]any{
		"subflow_id":            id,
		"result":                res.Output,
		"terminated_by_subflow": res.Terminated,
	}, nil
}
