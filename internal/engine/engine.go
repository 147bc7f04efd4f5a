package engine

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/loader"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// DefaultPoolSize bounds concurrent parallel branches when Config.PoolSize is unset.
const DefaultPoolSize = 8

// ActionRegistry executes non-control actions.
type ActionRegistry interface {
	Execute(ctx context.Context, action string, inputs map[string]any) (any, error)
}

// FlowLoader resolves a subflow identifier to a parsed flow.
type FlowLoader interface {
	Load(ctx context.Context, identifier string) (*schema.FlowDefinition, error)
}

// Config holds engine construction parameters.
type Config struct {
	// Debug only adds trace records; it never changes control flow.
	Debug bool
	// BasePath is where the default file loader looks up subflows.
	BasePath string
	// ParentVars seeds flow variables and flow inputs (subflow children).
	ParentVars map[string]any
	// PoolSize bounds concurrently running parallel branches.
	PoolSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the loader used to resolve subflow identifiers. Without
// it a FileLoader rooted at Config.BasePath is built on first use.
func WithLoader(l FlowLoader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEventHub publishes run, step and control events to h.
func WithEventHub(h streaming.EventHub) Option {
	return func(e *Engine) { e.hub = h }
}

// WithEnvironment replaces the process environment snapshot.
func WithEnvironment(env map[string]string) Option {
	return func(e *Engine) { e.env = maps.Clone(env) }
}

// RunResult is the outcome of one ExecuteFlow call.
type RunResult struct {
	RunID      string           `json:"run_id"`
	FlowID     string           `json:"flow_id"`
	Status     schema.RunStatus `json:"status"`
	Output     any              `json:"output"`
	Terminated bool             `json:"terminated"`
	Message    string           `json:"message,omitempty"`
	Steps      map[string]any   `json:"steps"`
}

// Engine interprets flows. Flow variables live on the engine and survive
// across runs; everything else is per run.
type Engine struct {
	registry ActionRegistry
	loader   FlowLoader
	cond     *expressions.ConditionEvaluator
	resolver *expressions.Resolver
	logger   *slog.Logger
	hub      streaming.EventHub
	cfg      Config
	env      map[string]string

	vars *VarStore

	mu         sync.Mutex
	flowInputs map[string]any
	terminated bool
	message    string

	loaderOnce sync.Once
	loaderErr  error
}

// New creates an Engine. The environment snapshot is taken here unless
// WithEnvironment is given.
func New(registry ActionRegistry, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		cfg:        cfg,
		vars:       NewVarStore(cfg.ParentVars),
		flowInputs: seedInputs(cfg.ParentVars),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.env == nil {
		e.env = environSnapshot()
	}
	if e.cfg.PoolSize <= 0 {
		e.cfg.PoolSize = DefaultPoolSize
	}
	e.cond = expressions.NewConditionEvaluator(e.logger)
	e.resolver = expressions.NewResolver(e.cond, e.logger)
	return e
}

func seedInputs(seed map[string]any) map[string]any {
	if seed == nil {
		return make(map[string]any)
	}
	return expressions.DeepCopyMap(seed)
}

func environSnapshot() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// child builds the engine for a subflow run. It shares everything but the
// variable store, which is seeded from seed.
func (e *Engine) child(seed map[string]any) *Engine {
	cfg := e.cfg
	cfg.ParentVars = seed
	fl := e.flowLoader()
	return &Engine{
		registry:   e.registry,
		loader:     fl,
		cond:       e.cond,
		resolver:   e.resolver,
		logger:     e.logger,
		hub:        e.hub,
		cfg:        cfg,
		env:        e.env,
		vars:       NewVarStore(seed),
		flowInputs: seedInputs(seed),
	}
}

// flowLoader returns the configured loader, building the default file
// loader on first use.
func (e *Engine) flowLoader() FlowLoader {
	e.loaderOnce.Do(func() {
		if e.loader != nil {
			return
		}
		fl, err := loader.NewFileLoader(e.cfg.BasePath)
		if err != nil {
			e.loaderErr = err
			return
		}
		e.loader = fl
	})
	return e.loader
}

// ExecuteFlow runs flow to completion, termination or the first unhandled
// error. inputs are merged into the flow inputs and flow variables first.
// On error the returned result still describes the failed run.
func (e *Engine) ExecuteFlow(ctx context.Context, flow *schema.FlowDefinition, inputs map[string]any) (*RunResult, error) {
	if flow == nil {
		return nil, schema.NewError(schema.ErrCodeFlowStructure, "flow definition is nil")
	}

	runID := uuid.NewString()
	ctx = logging.WithRun(ctx, runID, flow.ID)

	res := &RunResult{RunID: runID, FlowID: flow.ID, Status: schema.RunStatusReady}
	fsm := NewRunFSM(func(ctx context.Context, eventType string, payload map[string]any) {
		e.publish(ctx, runID, flow.ID, "", eventType, payload)
	})

	idx, err := newFlowIndex(flow)
	if err != nil {
		_ = fsm.Transition(ctx, schema.RunStatusFailed, map[string]any{"error": err.Error()})
		res.Status = fsm.Status()
		return res, err
	}

	e.mu.Lock()
	maps.Copy(e.flowInputs, inputs)
	flowInputs := expressions.DeepCopyMap(e.flowInputs)
	e.terminated, e.message = false, ""
	e.mu.Unlock()
	e.vars.Merge(inputs)

	st := newExecutionState(runID, idx, e.vars, e.env)
	if len(flowInputs) > 0 {
		st.results.Set("flow_input", flowInputs)
	}

	if err := fsm.Transition(ctx, schema.RunStatusRunning, map[string]any{"inputs": len(inputs)}); err != nil {
		return res, err
	}
	start := time.Now()
	e.logger.InfoContext(ctx, "flow started", "steps", len(flow.Steps))

	if len(flow.Steps) == 0 {
		e.logger.WarnContext(ctx, "flow contains no steps")
		res.Output = map[string]any{}
		res.Steps = st.results.Snapshot()
		_ = fsm.Transition(ctx, schema.RunStatusCompleted, nil)
		res.Status = fsm.Status()
		return res, nil
	}

	lastID, runErr := e.dispatch(ctx, st)
	res.Steps = st.results.Snapshot()
	terminated, message := st.Terminated()

	e.mu.Lock()
	e.terminated, e.message = terminated, message
	e.mu.Unlock()

	if runErr != nil {
		_ = fsm.Transition(ctx, schema.RunStatusFailed, map[string]any{"error": runErr.Error()})
		res.Status = fsm.Status()
		e.logger.ErrorContext(ctx, "flow failed",
			"error", runErr,
			"duration", time.Since(start),
		)
		return res, runErr
	}

	lastResult, _ := st.results.Get(lastID)
	if terminated {
		res.Terminated = true
		res.Message = message
		res.Output = map[string]any{
			"terminated":        true,
			"message":           message,
			"last_step_results": lastResult,
		}
		_ = fsm.Transition(ctx, schema.RunStatusTerminated, map[string]any{"message": message})
		e.logger.InfoContext(ctx, "flow terminated",
			"message", message,
			"duration", time.Since(start),
		)
	} else {
		res.Output = lastResult
		_ = fsm.Transition(ctx, schema.RunStatusCompleted, nil)
		e.logger.InfoContext(ctx, "flow completed",
			"last_step", lastID,
			"duration", time.Since(start),
		)
	}
	res.Status = fsm.Status()
	return res, nil
}

// GetVariable returns a flow variable or def when it is not set.
func (e *Engine) GetVariable(name string, def any) any {
	if v, ok := e.vars.Get(name); ok {
		return v
	}
	return def
}

// SetVariable sets a flow variable and returns the value.
func (e *Engine) SetVariable(name string, value any) any {
	e.vars.Set(name, value)
	return value
}

// ListVariables returns a copy of all flow variables.
func (e *Engine) ListVariables() map[string]any {
	return e.vars.Snapshot()
}

// GetEnvVariable reads the environment snapshot.
func (e *Engine) GetEnvVariable(name, def string) string {
	if v, ok := e.env[name]; ok {
		return v
	}
	return def
}

// Terminated reports whether the most recent run was terminated, and why.
func (e *Engine) Terminated() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated, e.message
}

func (e *Engine) publish(ctx context.Context, runID, flowID, stepID, eventType string, payload map[string]any) {
	if e.hub == nil {
		return
	}
	ev := streaming.StreamEvent{
		RunID:     runID,
		FlowID:    flowID,
		StepID:    stepID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		ev.Payload = payload
	}
	if err := e.hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.DebugContext(ctx, "event publish failed", "event", eventType, "error", err)
	}
}

func (e *Engine) emit(ctx context.Context, st *ExecutionState, stepID, eventType string, payload map[string]any) {
	e.publish(ctx, st.RunID, st.FlowID, stepID, eventType, payload)
}

func (e *Engine) trace(ctx context.Context, msg string, args ...any) {
	if e.cfg.Debug {
		e.logger.DebugContext(ctx, msg, args...)
	}
}
