package errors

import (
	"fmt"
)

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures request validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StepError represents a failure while executing a provisioning step. It
// carries the failing step's identity, the host it ran against, and any
// output captured from the remote action so callers can diagnose without
// re-running.
type StepError struct {
	StepID string
	Target string
	Output string
	Err    error
}

// NewStepError constructs a StepError.
func NewStepError(stepID, target, output string, err error) error {
	return &StepError{StepID: stepID, Target: target, Output: output, Err: err}
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("step %s failed on %s: %v", e.StepID, e.Target, e.Err)
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return msg
}

// Unwrap exposes the root error.
func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
