package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue blocks execution.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single problem found in a flow document, located by a
// path such as "steps[2].inputs.subflow[0]".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult aggregates the issues of one validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors. Warnings are acceptable.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge folds other into r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a FlowError, or nil when valid. A single
// issue keeps its own code; several issues are reported as one
// VALIDATION_ERROR listing every message.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	details := map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
	}
	if len(r.Errors) == 1 {
		return NewError(r.Errors[0].Code, r.Errors[0].String()).WithDetails(details)
	}

	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = issue.String()
	}
	return NewErrorf(ErrCodeValidation, "validation failed with %d errors: %s", len(r.Errors), strings.Join(msgs, "; ")).
		WithDetails(details)
}
