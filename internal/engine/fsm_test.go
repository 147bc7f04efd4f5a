package engine

import (
	"context"
	"testing"

	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFSM_HappyPath(t *testing.T) {
	var events []string
	fsm := NewRunFSM(func(_ context.Context, eventType string, _ map[string]any) {
		events = append(events, eventType)
	})
	assert.Equal(t, schema.RunStatusReady, fsm.Status())

	require.NoError(t, fsm.Transition(context.Background(), schema.RunStatusRunning, nil))
	require.NoError(t, fsm.Transition(context.Background(), schema.RunStatusCompleted, nil))

	assert.Equal(t, schema.RunStatusCompleted, fsm.Status())
	assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunCompleted}, events)
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	tests := []struct {
		name string
		path []schema.RunStatus
		to   schema.RunStatus
	}{
		{"ready to completed", nil, schema.RunStatusCompleted},
		{"ready to terminated", nil, schema.RunStatusTerminated},
		{"completed is final", []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusCompleted}, schema.RunStatusRunning},
		{"failed is final", []schema.RunStatus{schema.RunStatusFailed}, schema.RunStatusRunning},
		{"terminated is final", []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusTerminated}, schema.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsm := NewRunFSM(nil)
			for _, s := range tt.path {
				require.NoError(t, fsm.Transition(context.Background(), s, nil))
			}
			before := fsm.Status()
			err := fsm.Transition(context.Background(), tt.to, nil)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
			assert.Equal(t, before, fsm.Status())
		})
	}
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(nil)
	var seen [][2]schema.RunStatus
	fsm.OnTransition(func(from, to schema.RunStatus) error {
		seen = append(seen, [2]schema.RunStatus{from, to})
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), schema.RunStatusRunning, nil))
	require.NoError(t, fsm.Transition(context.Background(), schema.RunStatusTerminated, nil))

	assert.Equal(t, [][2]schema.RunStatus{
		{schema.RunStatusReady, schema.RunStatusRunning},
		{schema.RunStatusRunning, schema.RunStatusTerminated},
	}, seen)
	assert.True(t, fsm.Status().IsFinal())
}
