package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrAmbiguousName    = errors.New("workflow name is ambiguous")
)

// MissingParameterError is returned before any step runs when a required
// parameter has no value.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// InvalidStepError reports a step that fails validation after
// substitution.
type InvalidStepError struct {
	Index int
	Name  string
	Err   error
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *InvalidStepError) Unwrap() error { return e.Err }

// StepFailedError is returned when a required step fails. Index is zero
// based.
type StepFailedError struct {
	Index int
	Name  string
	Err   error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index+1, e.Name, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }
