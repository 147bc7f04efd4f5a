package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/flowforge/pkg/schema"
)

// TransitionHook is called after a run state transition.
type TransitionHook func(from, to schema.RunStatus) error

// EventPublisher receives the lifecycle event emitted for a transition.
type EventPublisher func(ctx context.Context, eventType string, payload map[string]any)

// ValidRunTransitions defines the allowed state transitions for a run.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusReady:      {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:    {schema.RunStatusCompleted, schema.RunStatusTerminated, schema.RunStatusFailed},
	schema.RunStatusCompleted:  {},
	schema.RunStatusTerminated: {},
	schema.RunStatusFailed:     {},
}

// RunFSM tracks the lifecycle of one ExecuteFlow call:
// Ready -> Running -> {Completed, Terminated, Failed}.
type RunFSM struct {
	mu      sync.Mutex
	status  schema.RunStatus
	publish EventPublisher
	after   []TransitionHook
}

// NewRunFSM creates a RunFSM in the Ready state. publish may be nil.
func NewRunFSM(publish EventPublisher) *RunFSM {
	return &RunFSM{status: schema.RunStatusReady, publish: publish}
}

// OnTransition registers a hook called after every successful transition.
func (f *RunFSM) OnTransition(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, hook)
}

// Status returns the current state.
func (f *RunFSM) Status() schema.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Transition moves the run to the target state and emits the matching event.
func (f *RunFSM) Transition(ctx context.Context, to schema.RunStatus, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.status
	if !slices.Contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.status = to

	if eventType := runEventType(to); eventType != "" && f.publish != nil {
		f.publish(ctx, eventType, payload)
	}

	for _, hook := range f.after {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusTerminated:
		return schema.EventRunTerminated
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}
