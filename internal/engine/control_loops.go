package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

const (
	defaultMaxIterations  = 100
	conventionalUpdater   = "update_loop_total"
	defaultUpdaterOutput  = "value"
	defaultListInput      = "list"
	defaultIteratorName   = "item"
	iteratorIndexSuffix   = "_index"
	iterationIndexEntry   = "_index"
	defaultRetryAttempts  = 3
	flowTerminatedErrType = "FlowTerminated"
)

var conditionIdentPattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

// stateRef addresses one field of a step result.
type stateRef struct {
	stepID string
	field  string
}

// loopBindings maps condition variables to the step.field they are read
// from. Built once per loop entry; the updater's output is written back to
// every entry after each iteration so the next evaluation observes it.
func loopBindings(condition string, inputs map[string]any) map[string]stateRef {
	table := make(map[string]stateRef)
	for _, name := range conditionIdentPattern.FindAllString(condition, -1) {
		ref, ok := inputs[name].(string)
		if !ok {
			continue
		}
		stepID, field, found := strings.Cut(ref, ".")
		if !found || stepID == "" || field == "" {
			continue
		}
		table[name] = stateRef{stepID: stepID, field: field}
	}
	return table
}

func (e *Engine) intInput(ctx context.Context, st *ExecutionState, step *schema.StepDefinition, key string, def int) int {
	raw, ok := step.Input(key)
	if !ok {
		return def
	}
	f, ok := expressions.ToFloat(e.resolver.Resolve(ctx, raw, st))
	if !ok {
		e.logger.WarnContext(ctx, "invalid integer input, using default", "input", key, "value", raw, "default", def)
		return def
	}
	return int(f)
}

func (e *Engine) runWhile(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	condition := "False"
	if raw, ok := step.Input("condition"); ok {
		condition = expressions.Stringify(raw)
	}
	maxIterations := e.intInput(ctx, st, step, "max_iterations", defaultMaxIterations)

	bindings := loopBindings(condition, step.Inputs)
	if len(bindings) == 0 {
		e.trace(ctx, "while loop has no step.field condition bindings", "condition", condition)
	}

	spec, _ := step.Input("subflow")
	body, err := e.resolveBody(st, step, spec, "while body")
	if err != nil {
		return nil, err
	}

	updaterID, _ := step.Input("loop_variable_updater_step")
	updater, _ := updaterID.(string)
	outputKey := defaultUpdaterOutput
	if k, ok := step.Input("loop_variable_updater_output"); ok {
		outputKey = expressions.Stringify(k)
	}
	var updaterStep *schema.StepDefinition
	if updater == "" && len(body) > 0 {
		updaterStep = body[len(body)-1]
		for _, s := range body {
			if s.ID == conventionalUpdater {
				updaterStep = s
				break
			}
		}
		updater = updaterStep.ID
	} else {
		for _, s := range body {
			if s.ID == updater {
				updaterStep = s
				break
			}
		}
	}

	st.loops.Set(step.ID, 0)
	iterations := make([]any, 0)
	ok, _ := e.evalCondition(ctx, st, step, condition)

	for ok && st.loops.Get(step.ID) < maxIterations && !st.halt.Terminated() {
		n := st.loops.Get(step.ID) + 1
		st.loops.Set(step.ID, n)
		e.emit(ctx, st, step.ID, schema.EventLoopIterStarted, map[string]any{"iteration": n})

		iterResults, err := e.runBody(ctx, st, body)
		iterations = append(iterations, iterResults)
		if err != nil {
			return nil, err
		}
		if st.halt.Terminated() {
			break
		}

		e.applyLoopUpdate(ctx, st, step, bindings, updaterStep, iterResults[updater], outputKey)
		e.emit(ctx, st, step.ID, schema.EventLoopIterCompleted, map[string]any{"iteration": n})

		ok, _ = e.evalCondition(ctx, st, step, condition)
	}

	runs := st.loops.Get(step.ID)
	if ok && runs >= maxIterations && !st.halt.Terminated() {
		e.logger.WarnContext(ctx, "while loop reached max iterations with condition still true",
			"max_iterations", maxIterations)
	}
	e.emit(ctx, st, step.ID, schema.EventLoopCompleted, map[string]any{"iterations": runs})

	return map[string]any{
		"iterations_run":        runs,
		"results_per_iteration": iterations,
		"loop_ended_naturally":  !ok,
	}, nil
}

// applyLoopUpdate writes the updater's output into every bound step.field
// and, for variables.set* updaters, into the named flow variable.
func (e *Engine) applyLoopUpdate(ctx context.Context, st *ExecutionState, loop *schema.StepDefinition, bindings map[string]stateRef, updater *schema.StepDefinition, result any, outputKey string) {
	res, ok := result.(map[string]any)
	if !ok {
		if updater != nil {
			e.trace(ctx, "while updater result is not a mapping", "updater", updater.ID)
		}
		return
	}
	value, ok := res[outputKey]
	if !ok || value == nil {
		e.trace(ctx, "while updater produced no value", "updater", updater.ID, "output", outputKey)
		return
	}

	if updater != nil && strings.HasPrefix(updater.Action, "variables.set") {
		if name, ok := updater.Input("name"); ok {
			if s, ok := name.(string); ok && s != "" {
				st.vars.Set(s, value)
			}
		}
	}

	for name, ref := range bindings {
		if !st.results.SetField(ref.stepID, ref.field, value) {
			e.trace(ctx, "cannot update loop state, target result is not a mapping",
				"loop", loop.ID, "variable", name, "target", ref.stepID)
		}
	}
}

func (e *Engine) runForEach(ctx context.Context, st *ExecutionState, step *schema.StepDefinition) (any, error) {
	listKey := defaultListInput
	if v, ok := step.Input("list_variable_name"); ok {
		listKey = expressions.Stringify(v)
	}
	iterator := defaultIteratorName
	if v, ok := step.Input("iterator_name"); ok {
		iterator = expressions.Stringify(v)
	}

	var items []any
	if raw, ok := step.Input(listKey); ok {
		resolved := e.resolver.Resolve(ctx, raw, st)
		list, ok := expressions.ToList(resolved)
		if !ok && resolved != nil {
			e.logger.WarnContext(ctx, "for_each input is not iterable, using empty list",
				"input", listKey, "type", typeName(resolved))
		}
		items = list
	}

	spec, _ := step.Input("subflow")
	body, err := e.resolveBody(st, step, spec, "for_each body")
	if err != nil {
		return nil, err
	}

	iterations := make([]any, 0, len(items))
	indexName := iterator + iteratorIndexSuffix

	for i, item := range items {
		if st.halt.Terminated() {
			break
		}
		st.loops.Set(step.ID, i+1)
		e.emit(ctx, st, step.ID, schema.EventLoopIterStarted, map[string]any{"index": i})

		restore := e.bindIterator(st, iterator, indexName, item, i)
		entry := map[string]any{iterator: item, iterationIndexEntry: i}
		bodyResults, err := e.runBody(ctx, st, body)
		for id, r := range bodyResults {
			entry[id] = r
		}
		iterations = append(iterations, entry)
		restore()
		if err != nil {
			return nil, err
		}
		e.emit(ctx, st, step.ID, schema.EventLoopIterCompleted, map[string]any{"index": i})
	}

	e.emit(ctx, st, step.ID, schema.EventLoopCompleted, map[string]any{"iterations": len(iterations)})
	return map[string]any{
		"iterations_completed":  len(iterations),
		"results_per_iteration": iterations,
	}, nil
}

// bindIterator exposes the current item as flow variables and as a
// transient step result. The returned func puts back what was there before.
func (e *Engine) bindIterator(st *ExecutionState, iterator, indexName string, item any, index int) func() {
	prevItem, hadItem := st.vars.Get(iterator)
	prevIndex, hadIndex := st.vars.Get(indexName)
	prevResult, hadResult := st.results.Get(iterator)

	st.vars.Set(iterator, item)
	st.vars.Set(indexName, index)
	st.results.Set(iterator, map[string]any{"value": item, "index": index})

	return func() {
		restoreVar(st.vars, iterator, prevItem, hadItem)
		restoreVar(st.vars, indexName, prevIndex, hadIndex)
		if hadResult {
			st.results.Set(iterator, prevResult)
		} else {
			st.results.Delete(iterator)
		}
	}
}

func restoreVar(vars *VarStore, name string, prev any, had bool) {
	if had {
		vars.Set(name, prev)
	} else {
		vars.Delete(name)
	}
}
