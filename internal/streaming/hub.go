package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while a flow runs.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	FlowID    string    `json:"flow_id"`
	StepID    string    `json:"step_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter selects which events a subscriber receives. Empty fields match
// everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	FlowID     string   `json:"flow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
