package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/rendis/flowforge/pkg/schema"
)

// branchRun is the outcome of one parallel branch.
type branchRun struct {
	state   *ExecutionState
	results map[string]any
	err     error
	ran     bool
}

func (e *Engine) runParallel(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	raw, _ := step.Input("branches")
	specs, ok := raw.([]any)
	if raw != nil && !ok {
		return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
			"parallel step %q: branches must be a list, got %T", step.ID, raw).WithStep(step.ID)
	}

	bodies := make([][]*schema.StepDefinition, len(specs))
	for i, spec := range specs {
		if isMapping(spec) {
			spec = []any{spec}
		}
		body, err := e.resolveBody(st, step, spec, fmt.Sprintf("parallel branch %d", i+1))
		if err != nil {
			return nil, err
		}
		bodies[i] = body
	}

	e.emit(ctx, st, step.ID, schema.EventParallelStarted, map[string]any{"branches": len(bodies)})

	baseResults := st.results.Snapshot()
	baseVars := st.vars.Snapshot()
	runs := make([]branchRun, len(bodies))

	var stats PoolStats
	if len(bodies) > 0 {
		pool := NewWorkerPool(min(len(bodies), e.cfg.PoolSize), len(bodies))
		var submitErr error
		for i, body := range bodies {
			if st.halt.Terminated() {
				break
			}
			run := &runs[i]
			run.state = st.fork()
			run.ran = true
			if err := pool.Go(ctx, i, func(ctx context.Context) error {
				var err error
				run.results, err = e.runBody(ctx, run.state, body)
				return err
			}); err != nil {
				run.ran = false
				submitErr = err
				break
			}
		}
		var errs []error
		errs, stats = pool.Wait()
		for i, err := range errs {
			var bp *BranchPanic
			if errors.As(err, &bp) {
				err = schema.NewErrorf(schema.ErrCodeActionExecution,
					"parallel branch %d of %q: %v", i+1, step.ID, bp).WithStep(step.ID).WithCause(bp)
			}
			runs[i].err = err
		}
		if submitErr != nil {
			return nil, submitErr
		}
	}

	outputs := make([]any, 0, len(runs))
	var firstErr error
	for i := range runs {
		run := &runs[i]
		if !run.ran {
			continue
		}
		if run.state != nil {
			mergeChanged(st.results.Set, run.state.results.Snapshot(), baseResults)
			mergeChanged(st.vars.Set, run.state.vars.Snapshot(), baseVars)
		}
		if run.results == nil {
			run.results = map[string]any{}
		}
		outputs = append(outputs, run.results)
		if run.err != nil && firstErr == nil {
			firstErr = run.err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	e.emit(ctx, st, step.ID, schema.EventParallelCompleted, map[string]any{
		"branches_executed": len(outputs),
		"peak_concurrency":  stats.Peak,
		"failed":            stats.Failed,
		"panicked":          stats.Panicked,
	})
	return map[string]any{
		"branches_executed":  len(outputs),
		"outputs_per_branch": outputs,
	}, nil
}

// mergeChanged writes back every entry of branch that is new or differs
// from base. Branches are merged in order, so later branches win.
func mergeChanged(set func(string, any), branch, base map[string]any) {
	for k, v := range branch {
		if old, ok := base[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		set(k, v)
	}
}
