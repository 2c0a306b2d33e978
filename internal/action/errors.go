package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/neboloop/domguard/internal/cdp"
)

// Kind classifies an ActionError.
type Kind int

const (
	NotFound Kind = iota + 1
	NotVisible
	NotInteractable
	Timeout
	Failed
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case NotVisible:
		return "not visible"
	case NotInteractable:
		return "not interactable"
	case Timeout:
		return "timeout"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Code is the stable error code reported to callers.
func (k Kind) Code() string {
	switch k {
	case NotFound:
		return "ELEMENT_NOT_FOUND"
	case NotVisible:
		return "ELEMENT_NOT_VISIBLE"
	case NotInteractable:
		return "NOT_INTERACTABLE"
	case Timeout:
		return "TIMEOUT"
	}
	return "ACTION_FAILED"
}

// ActionError is the only error kind the executor reports for failures of
// the page itself. Connection failures pass through unchanged.
type ActionError struct {
	Kind     Kind
	Action   string
	Selector string
	URL      string
	Msg      string
	// LastObserved is the final observed result of a timed-out wait.
	LastObserved string
	Err          error
}

func (e *ActionError) Error() string {
	s := e.Action
	if e.Selector != "" {
		s += fmt.Sprintf(" %q", e.Selector)
	}
	s += ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.LastObserved != "" {
		s += " (last observed: " + e.LastObserved + ")"
	}
	return s
}

func (e *ActionError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first ActionError in err's chain, or 0.
func KindOf(err error) Kind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// wrapTransport turns command timeouts into ActionErrors and leaves
// connection failures untouched.
func wrapTransport(err error, action string, sel Selector) error {
	if err == nil {
		return nil
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	var te *cdp.CommandTimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return &ActionError{Kind: Timeout, Action: action, Selector: Describe(sel), Msg: "timed out", Err: err}
	}
	var ee *cdp.EvaluationError
	if errors.As(err, &ee) {
		return &ActionError{Kind: Failed, Action: action, Selector: Describe(sel), Msg: ee.Text, Err: err}
	}
	return fmt.Errorf("%s: %w", action, err)
}
