package cdp

import (
	"errors"
	"fmt"
	"time"
)

// Connection failures. Connect wraps these in a *ConnectionError.
var (
	ErrUnreachable      = errors.New("browser endpoint unreachable")
	ErrHandshakeFailed  = errors.New("websocket handshake failed")
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrRemoteNotAllowed = errors.New("remote browser connections are disabled")
	ErrNoPageTarget     = errors.New("no page target available")
)

// Failures of an established session.
var (
	ErrTargetClosed   = errors.New("target closed")
	ErrConnectionLost = errors.New("connection lost")
	ErrSessionClosed  = errors.New("session closed")
	ErrStreamClosed   = errors.New("event stream closed")
)

// ConnectionError describes a failed attempt to reach the debug endpoint.
type ConnectionError struct {
	Endpoint string
	Kind     error
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Endpoint, e.Kind, e.Cause)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ProtocolError is an error object returned by the browser for a command.
type ProtocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("protocol error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// CommandTimeoutError is returned when no response arrived within the
// command's timeout. The browser may still complete the command.
type CommandTimeoutError struct {
	ID     int64
	Method string
	After  time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("%s (id %d) timed out after %s", e.Method, e.ID, e.After)
}

// EvaluationError is a JavaScript exception thrown by Runtime.evaluate.
type EvaluationError struct {
	Text string
	Line int64
	Col  int64
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at %d:%d: %s", e.Line, e.Col, e.Text)
}
