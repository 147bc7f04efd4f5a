package engine

import (
	"maps"
	"sync"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

// ResultStore maps step ids to the results they produced. All step ids of
// one run, nested ones included, share this namespace.
type ResultStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{data: make(map[string]any)}
}

// Get returns the result stored for id.
func (s *ResultStore) Get(id string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok
}

// Set stores v as the result of id, replacing any earlier result.
func (s *ResultStore) Set(id string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = v
}

// Delete removes the result of id.
func (s *ResultStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}

// SetField writes result[id][field] = v, creating the mapping when id has no
// result yet. Existing mappings are copied before the write so earlier
// readers never observe the change. It reports false when the stored
// result is not a mapping.
func (s *ResultStore) SetField(id, field string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next map[string]any
	switch cur := s.data[id].(type) {
	case nil:
		next = make(map[string]any, 1)
	case map[string]any:
		next = maps.Clone(cur)
	case map[any]any:
		next = schema.StringKeys(cur)
	default:
		return false
	}
	next[field] = v
	s.data[id] = next
	return true
}

// Snapshot returns a shallow copy of the store.
func (s *ResultStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

func (s *ResultStore) clone() *ResultStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &ResultStore{data: expressions.DeepCopyMap(s.data)}
}

// VarStore holds flow-local variables.
type VarStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewVarStore creates a VarStore holding a shallow copy of seed.
func NewVarStore(seed map[string]any) *VarStore {
	data := make(map[string]any, len(seed))
	maps.Copy(data, seed)
	return &VarStore{data: data}
}

// Get returns the variable name and whether it is set. A variable set to
// nil is reported as set.
func (s *VarStore) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[name]
	return v, ok
}

// Set assigns a variable.
func (s *VarStore) Set(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = v
}

// Delete unsets a variable.
func (s *VarStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, name)
}

// Merge copies every entry of m into the store.
func (s *VarStore) Merge(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.data, m)
}

// Snapshot returns a shallow copy of all variables.
func (s *VarStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

func (s *VarStore) clone() *VarStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &VarStore{data: expressions.DeepCopyMap(s.data)}
}

// haltSignal is the cooperative termination flag shared by every lane of a
// run. The first message wins.
type haltSignal struct {
	mu         sync.Mutex
	terminated bool
	message    string
}

func (h *haltSignal) Terminate(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return
	}
	h.terminated = true
	h.message = message
}

func (h *haltSignal) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

func (h *haltSignal) State() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated, h.message
}

// counters tracks loop iterations and retry attempts per control step id.
type counters struct {
	mu   sync.Mutex
	data map[string]int
}

func newCounters() *counters {
	return &counters{data: make(map[string]int)}
}

func (c *counters) Set(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = n
}

func (c *counters) Get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[id]
}

// flowIndex is the immutable lookup structure over a flow's top-level steps.
// Building it also rejects inline body steps that reuse an id.
type flowIndex struct {
	flow *schema.FlowDefinition
	byID map[string]*schema.StepDefinition
	pos  map[string]int
}

func newFlowIndex(flow *schema.FlowDefinition) (*flowIndex, error) {
	idx := &flowIndex{
		flow: flow,
		byID: make(map[string]*schema.StepDefinition, len(flow.Steps)),
		pos:  make(map[string]int, len(flow.Steps)),
	}
	for i := range flow.Steps {
		step := &flow.Steps[i]
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
				"flow %q: step at position %d has no id", flow.ID, i)
		}
		if _, dup := idx.byID[step.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeFlowStructure,
				"flow %q: duplicate step id %q", flow.ID, step.ID).WithStep(step.ID)
		}
		idx.byID[step.ID] = step
		idx.pos[step.ID] = i
	}

	seen := make(map[string]bool, len(idx.byID))
	for id := range idx.byID {
		seen[id] = true
	}
	for i := range flow.Steps {
		if err := checkInlineIDs(flow.ID, &flow.Steps[i], seen); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// nestedBodyInputs are the control inputs that may carry inline steps.
var nestedBodyInputs = []string{"subflow", "try_subflow", "on_error", "catch_subflow", "branches"}

// checkInlineIDs registers the ids of inline body steps under step, at any
// depth, and rejects any id already in seen. Malformed entries are left to
// body resolution.
func checkInlineIDs(flowID string, step *schema.StepDefinition, seen map[string]bool) error {
	if !step.IsControl() {
		return nil
	}
	var inline []schema.StepDefinition
	collect := func(spec any) {
		switch body := spec.(type) {
		case []schema.StepDefinition:
			inline = append(inline, body...)
		case []any:
			for _, item := range body {
				if m, ok := asMapping(item); ok {
					if def, err := schema.StepFromMap(m); err == nil {
						inline = append(inline, def)
					}
				}
			}
		}
	}
	for _, key := range nestedBodyInputs {
		spec, ok := step.Input(key)
		if !ok {
			continue
		}
		if key == "branches" {
			branches, _ := spec.([]any)
			for _, b := range branches {
				if isMapping(b) {
					b = []any{b}
				}
				collect(b)
			}
			continue
		}
		collect(spec)
	}

	for i := range inline {
		def := &inline[i]
		if seen[def.ID] {
			return schema.NewErrorf(schema.ErrCodeFlowStructure,
				"flow %q: duplicate step id %q in body of %q", flowID, def.ID, step.ID).WithStep(step.ID)
		}
		seen[def.ID] = true
		if err := checkInlineIDs(flowID, def, seen); err != nil {
			return err
		}
	}
	return nil
}

// next returns the id of the step positionally after id, or "".
func (f *flowIndex) next(id string) string {
	i, ok := f.pos[id]
	if !ok || i+1 >= len(f.flow.Steps) {
		return ""
	}
	return f.flow.Steps[i+1].ID
}

// ExecutionState is the mutable state of one run. Control executors share
// it by pointer; parallel branches work on forks.
type ExecutionState struct {
	RunID  string
	FlowID string

	flow    *flowIndex
	results *ResultStore
	vars    *VarStore
	env     map[string]string
	halt    *haltSignal
	loops   *counters
	retries *counters
}

func newExecutionState(runID string, flow *flowIndex, vars *VarStore, env map[string]string) *ExecutionState {
	return &ExecutionState{
		RunID:   runID,
		FlowID:  flow.flow.ID,
		flow:    flow,
		results: NewResultStore(),
		vars:    vars,
		env:     env,
		halt:    &haltSignal{},
		loops:   newCounters(),
		retries: newCounters(),
	}
}

// fork returns a state with isolated copies of the result and variable
// stores. Termination and counters stay shared with the parent.
func (s *ExecutionState) fork() *ExecutionState {
	cp := *s
	cp.results = s.results.clone()
	cp.vars = s.vars.clone()
	return &cp
}

// Terminated reports the run's termination flag and message.
func (s *ExecutionState) Terminated() (bool, string) {
	return s.halt.State()
}

func (s *ExecutionState) StepResult(id string) (any, bool) {
	return s.results.Get(id)
}

func (s *ExecutionState) Variable(name string) (any, bool) {
	return s.vars.Get(name)
}

func (s *ExecutionState) Variables() map[string]any {
	return s.vars.Snapshot()
}

func (s *ExecutionState) EnvValue(name string) (string, bool) {
	v, ok := s.env[name]
	return v, ok
}

var _ expressions.Scope = (*ExecutionState)(nil)
