package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

func assertEmpty(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %+v", got)
	default:
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		RunID:     "run-1",
		FlowID:    "main",
		StepID:    "s1",
		EventType: schema.EventStepCompleted,
		Payload:   map[string]any{"sum": 3},
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event.RunID, got.RunID)
	assert.Equal(t, event.StepID, got.StepID)
	assert.Equal(t, event.EventType, got.EventType)
}

func TestFilterByRunAndFlow(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	byRun, cancelRun, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancelRun()
	byFlow, cancelFlow, err := hub.Subscribe(ctx, EventFilter{FlowID: "child"})
	require.NoError(t, err)
	defer cancelFlow()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-2", FlowID: "main", EventType: schema.EventStepStarted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", FlowID: "child", EventType: schema.EventStepStarted}))

	assert.Equal(t, "run-1", receive(t, byRun).RunID)
	assertEmpty(t, byRun)
	assert.Equal(t, "child", receive(t, byFlow).FlowID)
	assertEmpty(t, byFlow)
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{schema.EventRunCompleted, schema.EventRunFailed}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventStepStarted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventRunFailed}))

	assert.Equal(t, schema.EventRunFailed, receive(t, ch).EventType)
	assertEmpty(t, ch)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventStepStarted}))
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for range defaultChannelBuffer + 10 {
		require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventStepStarted}))
	}
	assert.Equal(t, int64(10), hub.Dropped())
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = hub.Publish(ctx, StreamEvent{RunID: "run", StepID: string(rune('a' + n)), EventType: schema.EventStepCompleted})
		}(i)
	}
	wg.Wait()
	assert.Len(t, ch, 20)
}
