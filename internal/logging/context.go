package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	flowIDKey
	stepIDKey
)

// Attribute keys for correlation ids.
const (
	KeyRunID  = "run_id"
	KeyFlowID = "flow_id"
	KeyStepID = "step_id"
)

// WithRunID returns a context carrying the run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithFlowID returns a context carrying the flow id.
func WithFlowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowIDKey, id)
}

// WithStepID returns a context carrying the step id.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

func FlowID(ctx context.Context) string {
	v, _ := ctx.Value(flowIDKey).(string)
	return v
}

func StepID(ctx context.Context) string {
	v, _ := ctx.Value(stepIDKey).(string)
	return v
}

// WithRun sets run and flow ids at once. A nested run (subflow) overwrites
// the flow id but the step id of the parent is cleared.
func WithRun(ctx context.Context, runID, flowID string) context.Context {
	ctx = WithRunID(ctx, runID)
	ctx = WithFlowID(ctx, flowID)
	return WithStepID(ctx, "")
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if v := RunID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyRunID, v))
	}
	if v := FlowID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyFlowID, v))
	}
	if v := StepID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyStepID, v))
	}
	return attrs
}

// LogWith returns a logger enriched with the correlation ids found in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and injects the correlation ids
// from the record's context, so logger.InfoContext(ctx, ...) is enough.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
