package resilience

import (
	"fmt"
	"strings"
)

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Err        error
	Kind       Kind
	Attempts   int
	Strategies []Strategy
}

func (e *ExhaustedError) Error() string {
	names := make([]string, len(e.Strategies))
	for i, s := range e.Strategies {
		names[i] = s.String()
	}
	return fmt.Sprintf("recovery exhausted after %d attempts (%s; tried %s): %v",
		e.Attempts, e.Kind, strings.Join(names, ", "), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// EscalationError is returned for failures no strategy may handle. A human
// has to take over.
type EscalationError struct {
	Err  error
	Kind Kind
	// Filed is set when a takeover request was created for the failure.
	Filed bool
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("%s requires human takeover: %v", e.Kind, e.Err)
}

func (e *EscalationError) Unwrap() error { return e.Err }
