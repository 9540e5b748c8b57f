// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrValidation indicates malformed event or request fields.
// Validation failures fail fast and are never retried.
var ErrValidation = errors.New("validation failed")

// ErrToolTimeout indicates a tool call exceeded its configured deadline.
var ErrToolTimeout = errors.New("tool execution timed out")

// ErrUnknownEvent indicates the engine received an event type with no handler.
var ErrUnknownEvent = errors.New("no handler for event type")

// StepError wraps a failure inside a workflow step with the step name.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError wraps err with the owning step's name.
func NewStepError(step string, err error) *StepError {
	return &StepError{Step: step, Err: err}
}
