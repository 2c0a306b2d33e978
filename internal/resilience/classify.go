package resilience

import (
	"strings"

	"github.com/neboloop/domguard/internal/action"
)

// Kind is the recovery-relevant class of a failure.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	NotVisible
	Timeout
	Captcha
	Overlay
	Stale
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case NotVisible:
		return "not_visible"
	case Timeout:
		return "timeout"
	case Captcha:
		return "captcha"
	case Overlay:
		return "overlay"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Strategy is one recovery step applied before re-attempting an action.
type Strategy int

const (
	Retry Strategy = iota
	ScrollIntoView
	DismissOverlay
	WaitStable
	AlternativeSelector
)

func (s Strategy) String() string {
	switch s {
	case ScrollIntoView:
		return "scroll_into_view"
	case DismissOverlay:
		return "dismiss_overlay"
	case WaitStable:
		return "wait_stable"
	case AlternativeSelector:
		return "alternative_selector"
	}
	return "retry"
}

// MarshalText renders strategies by name in JSON output.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var plans = map[Kind][]Strategy{
	NotFound:   {WaitStable, Retry, AlternativeSelector},
	NotVisible: {ScrollIntoView, WaitStable, Retry},
	Timeout:    {WaitStable, Retry},
	Overlay:    {DismissOverlay, Retry},
	Stale:      {WaitStable, Retry},
	Captcha:    {},
	Unknown:    {Retry},
}

// PlanFor returns the ordered recovery plan for k. Captcha has none.
func PlanFor(k Kind) []Strategy {
	p := plans[k]
	out := make([]Strategy, len(p))
	copy(out, p)
	return out
}

var keywords = []struct {
	kind  Kind
	words []string
}{
	{Captcha, []string{"captcha", "recaptcha", "hcaptcha"}},
	{Overlay, []string{"intercept", "obscured", "overlay", "other element would receive"}},
	{Stale, []string{"stale", "detached", "removed from dom", "not attached"}},
	{NotVisible, []string{"not visible", "hidden", "zero size", "display: none"}},
	{NotFound, []string{"not found", "no element", "could not find", "out of bounds"}},
	{Timeout, []string{"timeout", "timed out"}},
}

// Classify maps err to a Kind. Typed executor errors map directly; anything
// else is matched on keywords in its message.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	switch action.KindOf(err) {
	case action.NotFound:
		return NotFound
	case action.NotVisible:
		return NotVisible
	case action.Timeout:
		return Timeout
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a bare error message.
func ClassifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.kind
			}
		}
	}
	return Unknown
}

// Analysis is what Analyze reports about an error message.
type Analysis struct {
	Kind     Kind       `json:"kind"`
	Plan     []Strategy `json:"plan"`
	Escalate bool       `json:"escalate"`
}

// Analyze classifies msg and reports the plan without executing anything.
func Analyze(msg string) Analysis {
	k := ClassifyMessage(msg)
	return Analysis{Kind: k, Plan: PlanFor(k), Escalate: k == Captcha}
}
