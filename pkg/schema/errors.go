package schema

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeFlowStructure     = "FLOW_STRUCTURE_ERROR"
	ErrCodeActionExecution   = "ACTION_EXECUTION_ERROR"
	ErrCodeActionUnavailable = "ACTION_UNAVAILABLE"
	ErrCodeCondition         = "CONDITION_EVALUATION_ERROR"
	ErrCodeSubflowFailed     = "SUBFLOW_FAILED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeAssertionFailed   = "ASSERTION_FAILED"
	ErrCodeExpression        = "EXPRESSION_ERROR"
)

// FlowError is the structured error type for all interpreter operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// HasCode reports whether any FlowError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var fe *FlowError
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}

// IsFatal reports whether err must abort the run even inside try_catch or
// retry: broken flow structure and context cancellation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code == ErrCodeFlowStructure
	}
	return false
}
