package engine

import (
	"context"
	"errors"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/cdp"
	"github.com/neboloop/domguard/internal/recorder"
	"github.com/neboloop/domguard/internal/resilience"
	"github.com/neboloop/domguard/internal/takeover"
	"github.com/neboloop/domguard/internal/workflow"
)

// Error codes reported to callers.
const (
	CodeElementNotFound     = "ELEMENT_NOT_FOUND"
	CodeElementNotVisible   = "ELEMENT_NOT_VISIBLE"
	CodeNotInteractable     = "NOT_INTERACTABLE"
	CodeTimeout             = "TIMEOUT"
	CodeActionFailed        = "ACTION_FAILED"
	CodeConnectionRefused   = "CONNECTION_REFUSED"
	CodeTargetClosed        = "TARGET_CLOSED"
	CodeConnectionLost      = "CONNECTION_LOST"
	CodeProtocolError       = "PROTOCOL_ERROR"
	CodeRemoteNotAllowed    = "REMOTE_NOT_ALLOWED"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeAlreadyRecording    = "ALREADY_RECORDING"
	CodeNotRecording        = "NOT_RECORDING"
	CodeWorkflowNotFound    = "WORKFLOW_NOT_FOUND"
	CodeAmbiguousName       = "AMBIGUOUS_NAME"
	CodeInvalidStep         = "INVALID_STEP"
	CodeMissingParameter    = "MISSING_PARAMETER"
	CodeStepFailed          = "STEP_FAILED"
	CodeAlreadyActive       = "ALREADY_ACTIVE"
	CodeNoneActive          = "NONE_ACTIVE"
	CodeNotPending          = "NOT_PENDING"
	CodeTakeoverPending     = "TAKEOVER_PENDING"
	CodeResilienceExhausted = "RESILIENCE_EXHAUSTED"
	CodeEscalated           = "ESCALATED"
	CodeUnknown             = "UNKNOWN"
)

// Code maps any error chain to a stable code. Wrappers are checked before
// what they wrap, so a workflow step that exhausted recovery reports
// STEP_FAILED and Cause reports what lies underneath.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var (
		blocked    *takeover.BlockedError
		escalated  *resilience.EscalationError
		stepFailed *workflow.StepFailedError
		missing    *workflow.MissingParameterError
		invalid    *workflow.InvalidStepError
		exhausted  *resilience.ExhaustedError
		actionErr  *action.ActionError
		protoErr   *cdp.ProtocolError
		timeoutErr *cdp.CommandTimeoutError
	)
	switch {
	case errors.As(err, &blocked):
		return CodeTakeoverPending
	case errors.As(err, &stepFailed):
		return CodeStepFailed
	case errors.As(err, &escalated):
		return CodeEscalated
	case errors.As(err, &missing):
		return CodeMissingParameter
	case errors.As(err, &invalid):
		return CodeInvalidStep
	case errors.As(err, &exhausted):
		return CodeResilienceExhausted
	case errors.As(err, &actionErr):
		return actionCode(actionErr.Kind)
	}

	switch {
	case errors.Is(err, cdp.ErrRemoteNotAllowed):
		return CodeRemoteNotAllowed
	case errors.Is(err, cdp.ErrUnreachable),
		errors.Is(err, cdp.ErrHandshakeFailed),
		errors.Is(err, cdp.ErrConnectTimeout):
		return CodeConnectionRefused
	case errors.Is(err, cdp.ErrTargetClosed), errors.Is(err, cdp.ErrNoPageTarget):
		return CodeTargetClosed
	case errors.Is(err, cdp.ErrConnectionLost), errors.Is(err, cdp.ErrSessionClosed):
		return CodeConnectionLost
	case errors.As(err, &protoErr):
		return CodeProtocolError
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, recorder.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return CodeAlreadyRecording
	case errors.Is(err, recorder.ErrNotRecording), errors.Is(err, recorder.ErrNotPaused):
		return CodeNotRecording
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		return CodeWorkflowNotFound
	case errors.Is(err, workflow.ErrAmbiguousName):
		return CodeAmbiguousName
	case errors.Is(err, takeover.ErrAlreadyActive):
		return CodeAlreadyActive
	case errors.Is(err, takeover.ErrNoneActive):
		return CodeNoneActive
	case errors.Is(err, takeover.ErrNotPending):
		return CodeNotPending
	}
	return CodeUnknown
}

func actionCode(k action.Kind) string {
	switch k {
	case action.NotFound:
		return CodeElementNotFound
	case action.NotVisible:
		return CodeElementNotVisible
	case action.NotInteractable:
		return CodeNotInteractable
	case action.Timeout:
		return CodeTimeout
	}
	return CodeActionFailed
}

// ErrorBody is the error member of the JSON envelope.
type ErrorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Selector string `json:"selector,omitempty"`
	URL      string `json:"url,omitempty"`
	// Cause is the code of the wrapped failure when Code names a wrapper.
	Cause string `json:"cause,omitempty"`
}

// Envelope is the --json output of every command.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// Success wraps data.
func Success(data any) Envelope {
	return Envelope{OK: true, Data: data}
}

// Failure describes err.
func Failure(err error) Envelope {
	body := &ErrorBody{Code: Code(err), Message: err.Error()}
	var ae *action.ActionError
	if errors.As(err, &ae) {
		body.Selector = ae.Selector
		body.URL = ae.URL
		if inner := actionCode(ae.Kind); inner != body.Code {
			body.Cause = inner
		}
	}
	return Envelope{Error: body}
}
