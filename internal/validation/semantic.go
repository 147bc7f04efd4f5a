package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/flowforge/pkg/schema"
)

// bodyInputs lists, per control kind, the inputs holding nested step bodies.
var bodyInputs = map[schema.ControlKind][]string{
	schema.ControlWhile:    {"subflow"},
	schema.ControlForEach:  {"subflow"},
	schema.ControlTryCatch: {"subflow", "try_subflow", "on_error", "catch_subflow"},
}

var knownControls = map[schema.ControlKind]bool{
	schema.ControlIf: true, schema.ControlSwitch: true, schema.ControlWhile: true,
	schema.ControlForEach: true, schema.ControlParallel: true, schema.ControlTryCatch: true,
	schema.ControlRetry: true, schema.ControlSubflow: true, schema.ControlDelay: true,
	schema.ControlWaitFor: true, schema.ControlTerminate: true,
}

// body is one nested step list: inline definitions plus id references, in
// their declared order.
type body struct {
	path   string
	inline []schema.StepDefinition
	refs   []string
}

// semanticPass carries state across the recursive walk.
type semanticPass struct {
	topIDs map[string]bool
	seen   map[string]string
	lookup ActionLookup
	result *schema.ValidationResult
	graph  *bodyGraph
}

// validateSemantic checks what the document schema cannot: unique step ids
// across nested bodies, jump and retry targets, body references, required
// control inputs and registered actions.
func validateSemantic(def *schema.FlowDefinition, lookup ActionLookup) (*schema.ValidationResult, *bodyGraph) {
	p := &semanticPass{
		topIDs: make(map[string]bool, len(def.Steps)),
		seen:   make(map[string]string),
		lookup: lookup,
		result: &schema.ValidationResult{},
		graph:  newBodyGraph(),
	}
	for _, s := range def.Steps {
		p.topIDs[s.ID] = true
	}
	if len(def.Steps) == 0 {
		p.result.AddWarning("steps", schema.ErrCodeValidation, "flow contains no steps")
	}

	for i := range def.Steps {
		p.step(&def.Steps[i], fmt.Sprintf("steps[%d]", i), true)
	}
	return p.result, p.graph
}

func (p *semanticPass) step(step *schema.StepDefinition, path string, topLevel bool) {
	if prev, dup := p.seen[step.ID]; dup {
		p.result.AddError(path+".id", schema.ErrCodeFlowStructure,
			fmt.Sprintf("duplicate step id %q (first defined at %s)", step.ID, prev))
	} else {
		p.seen[step.ID] = path
	}
	p.graph.addNode(step.ID)

	if step.Action == "" {
		p.result.AddError(path+".action", schema.ErrCodeValidation, "step has no action")
		return
	}

	if !step.IsControl() {
		p.action(step, path)
		return
	}

	kind := step.ControlKind()
	if !knownControls[kind] {
		p.result.AddWarning(path+".action", schema.ErrCodeValidation,
			fmt.Sprintf("unknown control %q is dispatched to the action registry", step.Action))
		return
	}

	switch kind {
	case schema.ControlIf:
		p.jumpTargets(step, path, topLevel, "then_step", "else_step")
	case schema.ControlSwitch:
		p.switchTargets(step, path, topLevel)
	case schema.ControlRetry:
		p.retryTarget(step, path)
	case schema.ControlSubflow:
		if !hasInput(step, "flow_id") && !hasInput(step, "flow_ref") {
			p.result.AddError(path+".inputs", schema.ErrCodeFlowStructure,
				"subflow requires 'flow_id' or 'flow_ref'")
		}
	case schema.ControlWhile:
		if !hasInput(step, "condition") {
			p.result.AddWarning(path+".inputs.condition", schema.ErrCodeValidation,
				"while has no condition and will not iterate")
		}
	case schema.ControlParallel:
		p.branches(step, path)
	}

	for _, key := range bodyInputs[kind] {
		spec, ok := step.Input(key)
		if !ok {
			continue
		}
		p.body(step, parseBody(spec, fmt.Sprintf("%s.inputs.%s", path, key), p.result))
	}
}

func (p *semanticPass) action(step *schema.StepDefinition, path string) {
	if strings.HasPrefix(step.Action, "variables.") || p.lookup == nil {
		return
	}
	if !p.lookup.Has(step.Action) {
		p.result.AddError(path+".action", schema.ErrCodeActionUnavailable,
			fmt.Sprintf("action %q not registered", step.Action))
	}
}

func (p *semanticPass) jumpTargets(step *schema.StepDefinition, path string, topLevel bool, keys ...string) {
	for _, key := range keys {
		target, ok := literalID(step, key)
		if !ok {
			continue
		}
		if !topLevel {
			p.result.AddWarning(path+".inputs."+key, schema.ErrCodeValidation,
				"jump targets of nested steps are ignored")
			continue
		}
		if !p.topIDs[target] {
			p.result.AddError(path+".inputs."+key, schema.ErrCodeFlowStructure,
				fmt.Sprintf("references non-existent step %q", target))
		}
	}
}

func (p *semanticPass) switchTargets(step *schema.StepDefinition, path string, topLevel bool) {
	raw, ok := step.Input("cases")
	if !ok {
		p.result.AddWarning(path+".inputs.cases", schema.ErrCodeValidation, "switch has no cases")
	} else {
		var cases map[string]any
		switch c := raw.(type) {
		case map[string]any:
			cases = c
		case map[any]any:
			cases = schema.StringKeys(c)
		default:
			p.result.AddError(path+".inputs.cases", schema.ErrCodeFlowStructure,
				fmt.Sprintf("cases must be a mapping, got %T", raw))
		}
		for name, target := range cases {
			id, ok := target.(string)
			if !ok || isTemplate(id) {
				continue
			}
			if topLevel && !p.topIDs[id] {
				p.result.AddError(fmt.Sprintf("%s.inputs.cases.%s", path, name), schema.ErrCodeFlowStructure,
					fmt.Sprintf("references non-existent step %q", id))
			}
		}
	}
	p.jumpTargets(step, path, topLevel, "default")
}

func (p *semanticPass) retryTarget(step *schema.StepDefinition, path string) {
	target, ok := literalID(step, "action_step")
	if !ok {
		if !hasInput(step, "action_step") {
			p.result.AddError(path+".inputs.action_step", schema.ErrCodeFlowStructure,
				"retry requires 'action_step'")
		}
		return
	}
	if !p.topIDs[target] {
		p.result.AddError(path+".inputs.action_step", schema.ErrCodeFlowStructure,
			fmt.Sprintf("references step %q which is not a top-level step", target))
		return
	}
	p.graph.addEdge(step.ID, target)

	if n, ok := step.Input("attempts"); ok {
		if attempts, ok := n.(int); ok && attempts > 10 {
			p.result.AddWarning(path+".inputs.attempts", schema.ErrCodeValidation,
				fmt.Sprintf("high retry count (%d) may cause excessive delays", attempts))
		}
	}
}

func (p *semanticPass) branches(step *schema.StepDefinition, path string) {
	raw, ok := step.Input("branches")
	if !ok {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		p.result.AddError(path+".inputs.branches", schema.ErrCodeFlowStructure,
			fmt.Sprintf("branches must be a list, got %T", raw))
		return
	}
	for i, spec := range list {
		if isMapping(spec) {
			spec = []any{spec}
		}
		p.body(step, parseBody(spec, fmt.Sprintf("%s.inputs.branches[%d]", path, i), p.result))
	}
}

// body checks one nested body: id references must name an inline step of
// the same body or a top-level step; inline steps are walked recursively.
func (p *semanticPass) body(owner *schema.StepDefinition, b body) {
	local := make(map[string]bool, len(b.inline))
	for _, s := range b.inline {
		local[s.ID] = true
	}
	for i, ref := range b.refs {
		if !local[ref] && !p.topIDs[ref] {
			p.result.AddError(fmt.Sprintf("%s[%d]", b.path, i), schema.ErrCodeFlowStructure,
				fmt.Sprintf("body step %q not found in flow or inline definitions", ref))
			continue
		}
		if !local[ref] {
			p.graph.addEdge(owner.ID, ref)
		}
	}
	for i := range b.inline {
		p.graph.addEdge(owner.ID, b.inline[i].ID)
		p.step(&b.inline[i], fmt.Sprintf("%s[%d]", b.path, i), false)
	}
}

// parseBody reads a body spec: a step id, a list of ids, or a list of inline
// step mappings.
func parseBody(spec any, path string, result *schema.ValidationResult) body {
	b := body{path: path}
	switch v := spec.(type) {
	case nil:
	case string:
		b.refs = append(b.refs, v)
	case []string:
		b.refs = append(b.refs, v...)
	case []any:
		for i, item := range v {
			switch it := item.(type) {
			case string:
				b.refs = append(b.refs, it)
			case map[string]any, map[any]any:
				m, _ := asMapping(it)
				def, err := schema.StepFromMap(m)
				if err != nil {
					result.AddError(fmt.Sprintf("%s[%d]", path, i), schema.ErrCodeFlowStructure, err.Error())
					continue
				}
				b.inline = append(b.inline, def)
				b.refs = append(b.refs, def.ID)
			default:
				result.AddError(fmt.Sprintf("%s[%d]", path, i), schema.ErrCodeFlowStructure,
					fmt.Sprintf("body entry must be a step id or step mapping, got %T", item))
			}
		}
	default:
		result.AddError(path, schema.ErrCodeFlowStructure,
			fmt.Sprintf("body must be a step list or step id, got %T", spec))
	}
	return b
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

func hasInput(step *schema.StepDefinition, key string) bool {
	v, ok := step.Input(key)
	return ok && v != nil
}

// literalID returns the input as a step id when it is a plain string rather
// than a template resolved at run time.
func literalID(step *schema.StepDefinition, key string) (string, bool) {
	v, ok := step.Input(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" || isTemplate(s) {
		return "", false
	}
	return s, true
}

func isTemplate(s string) bool {
	return strings.Contains(s, "{") || strings.Contains(s, ".")
}
