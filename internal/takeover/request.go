// Package takeover hands control of the browser to a human and blocks the
// automation pipeline until they resolve the request.
package takeover

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reason says why a human is needed.
type Reason string

const (
	ReasonCaptcha   Reason = "captcha"
	ReasonAuth      Reason = "auth"
	ReasonSensitive Reason = "sensitive"
	ReasonError     Reason = "error"
	ReasonUncertain Reason = "uncertain"
	ReasonComplex   Reason = "complex"
	Reason2FA       Reason = "2fa"
	ReasonPayment   Reason = "payment"
	ReasonUser      Reason = "user"
	ReasonCustom    Reason = "custom"
)

var reasons = map[string]Reason{
	"captcha":        ReasonCaptcha,
	"auth":           ReasonAuth,
	"authentication": ReasonAuth,
	"login":          ReasonAuth,
	"sensitive":      ReasonSensitive,
	"error":          ReasonError,
	"uncertain":      ReasonUncertain,
	"complex":        ReasonComplex,
	"2fa":            Reason2FA,
	"mfa":            Reason2FA,
	"payment":        ReasonPayment,
	"user":           ReasonUser,
	"custom":         ReasonCustom,
}

// ParseReason maps a reason name to a Reason. Unknown names are custom
// reasons; the text is kept as the request message by callers.
func ParseReason(s string) (Reason, bool) {
	r, ok := reasons[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return ReasonCustom, false
	}
	return r, true
}

// DefaultMessage is shown when a request carries no message.
func (r Reason) DefaultMessage() string {
	switch r {
	case ReasonCaptcha:
		return "CAPTCHA detected, please solve it"
	case ReasonAuth:
		return "Login required, please sign in"
	case ReasonSensitive:
		return "Sensitive action needs confirmation"
	case ReasonError:
		return "Automation hit an error it cannot recover from"
	case ReasonUncertain:
		return "Not sure how to proceed"
	case ReasonComplex:
		return "Interaction too complex to automate"
	case Reason2FA:
		return "Two-factor authentication required"
	case ReasonPayment:
		return "Payment needs human confirmation"
	case ReasonUser:
		return "User requested control"
	}
	return "Human action required"
}

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Open reports whether the request still blocks automation.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusActive
}

type Resolution string

const (
	Success Resolution = "success"
	Failure Resolution = "failure"
)

// Request is one takeover, from request to resolution.
type Request struct {
	ID              string     `json:"id"`
	Reason          Reason     `json:"reason"`
	Message         string     `json:"message,omitempty"`
	Instructions    string     `json:"instructions,omitempty"`
	ExpectedOutcome string     `json:"expected_outcome,omitempty"`
	URL             string     `json:"url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Status          Status     `json:"status"`
	Resolution      Resolution `json:"resolution,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// Duration is how long the request was open, or has been so far.
func (r *Request) Duration(now time.Time) time.Duration {
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	return end.Sub(r.CreatedAt)
}

var (
	ErrAlreadyActive = errors.New("a takeover is already pending or active")
	ErrNoneActive    = errors.New("no takeover is pending or active")
	ErrNotPending    = errors.New("takeover is not pending")
)

// BlockedError is returned by Gate while a takeover is open.
type BlockedError struct {
	Request *Request
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("automation paused: takeover %s (%s) is %s", e.Request.ID, e.Request.Reason, e.Request.Status)
}
