package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// Registry is the thread-safe action registry consumed by the engine.
type Registry struct {
	mu        sync.RWMutex
	actions   map[string]Action
	validator *validation.JSONSchemaValidator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// UseSchemaValidator enables InputSchema checks on Execute.
func (r *Registry) UseSchemaValidator(v *validation.JSONSchemaValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validator = v
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = action
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "action %q not registered", name)
	}
	return action, nil
}

// Execute looks up name, validates inputs and runs the action. The returned
// value is the action's output data.
func (r *Registry) Execute(ctx context.Context, name string, inputs map[string]any) (any, error) {
	action, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	r.mu.RLock()
	v := r.validator
	r.mu.RUnlock()
	if s := action.Schema().InputSchema; v != nil && len(s) > 0 {
		if err := v.ValidateInput(inputs, s); err != nil {
			return nil, err
		}
	}
	if err := action.Validate(inputs); err != nil {
		return nil, err
	}

	out, err := action.Execute(ctx, ActionInput{Params: inputs})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.Data, nil
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		s := a.Schema()
		infos = append(infos, ActionInfo{
			Name:        a.Name(),
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// RegisterPlugin bulk-registers actions under a prefixed namespace.
// Each action name becomes "prefix.originalName" (e.g. "slack.post_message").
func (r *Registry) RegisterPlugin(prefix string, acts []Action) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "plugin prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, a := range acts {
		prefixed := fmt.Sprintf("%s.%s", prefix, a.Name())
		if _, exists := r.actions[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "plugin action %q already registered", prefixed)
		}
		r.actions[prefixed] = &prefixedAction{inner: a, name: prefixed}
		registered++
	}
	return registered, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// prefixedAction wraps a plugin action with a prefixed name.
type prefixedAction struct {
	inner Action
	name  string
}

func (p *prefixedAction) Name() string                        { return p.name }
func (p *prefixedAction) Schema() ActionSchema                { return p.inner.Schema() }
func (p *prefixedAction) Validate(input map[string]any) error { return p.inner.Validate(input) }

func (p *prefixedAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	return p.inner.Execute(ctx, input)
}

// funcAction adapts plain functions to Action.
type funcAction struct {
	name     string
	desc     string
	input    json.RawMessage
	validate func(map[string]any) error
	exec     func(context.Context, map[string]any) (any, error)
}

func (f *funcAction) Name() string { return f.name }

func (f *funcAction) Schema() ActionSchema {
	return ActionSchema{InputSchema: f.input, Description: f.desc}
}

func (f *funcAction) Validate(input map[string]any) error {
	if f.validate == nil {
		return nil
	}
	return f.validate(input)
}

func (f *funcAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	data, err := f.exec(ctx, input.Params)
	if err != nil {
		return nil, err
	}
	return &ActionOutput{Data: data}, nil
}
