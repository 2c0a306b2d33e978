package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neboloop/domguard/internal/cdp"
)

// DefaultPollInterval is how often wait conditions are checked.
const DefaultPollInterval = 100 * time.Millisecond

// ConditionKind enumerates wait conditions.
type ConditionKind int

const (
	ElementPresent ConditionKind = iota + 1
	ElementVisible
	ElementGone
	TextPresent
	TextAbsent
	Duration
)

func (k ConditionKind) String() string {
	switch k {
	case ElementPresent:
		return "element present"
	case ElementVisible:
		return "element visible"
	case ElementGone:
		return "element gone"
	case TextPresent:
		return "text present"
	case TextAbsent:
		return "text absent"
	case Duration:
		return "duration"
	}
	return "unknown"
}

// Condition is something WaitFor polls for.
type Condition struct {
	Kind     ConditionKind
	Target   Selector
	Text     string
	Duration time.Duration
}

func Present(sel Selector) Condition { return Condition{Kind: ElementPresent, Target: sel} }
func Visible(sel Selector) Condition { return Condition{Kind: ElementVisible, Target: sel} }
func Gone(sel Selector) Condition { return Condition{Kind: ElementGone, Target: sel} }
func TextAppears(text string) Condition { return Condition{Kind: TextPresent, Text: text} }
func TextDisappears(text string) Condition { return Condition{Kind: TextAbsent, Text: text} }
func Sleep(d time.Duration) Condition { return Condition{Kind: Duration, Duration: d} }

func (c Condition) String() string {
	switch c.Kind {
	case TextPresent, TextAbsent:
		return fmt.Sprintf("%s %q", c.Kind, c.Text)
	case Duration:
		return c.Duration.String()
	}
	return fmt.Sprintf("%s %s", c.Kind, Describe(c.Target))
}

type observation struct {
	Satisfied bool   `json:"satisfied"`
	Observed  string `json:"observed"`
}

// WaitFor polls c every poll interval until it holds or timeout elapses.
// On timeout it returns an *ActionError of kind Timeout carrying the last
// observed state. Cancelling ctx returns ctx.Err().
func (e *Executor) WaitFor(ctx context.Context, c Condition, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = e.poll
	}
	if timeout <= 0 {
		timeout = e.timeout
	}
	if c.Kind == Duration {
		return sleep(ctx, c.Duration)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	script := conditionScript(c)
	last := "not yet checked"
	for {
		pctx, cancel := context.WithTimeout(ctx, poll*5)
		var p observation
		raw, err := e.page.Evaluate(pctx, script)
		cancel()
		switch {
		case err == nil:
			if jerr := json.Unmarshal(raw, &p); jerr != nil {
				last = "unreadable condition result"
			} else if p.Satisfied {
				return nil
			} else {
				last = p.Observed
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case transient(err):
			last = err.Error()
		default:
			return fmt.Errorf("wait for %s: %w", c, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &ActionError{
				Kind:         Timeout,
				Action:       Wait,
				Selector:     Describe(c.Target),
				Msg:          fmt.Sprintf("%s not met after %s", c, timeout),
				LastObserved: last,
			}
		case <-ticker.C:
		}
	}
}

// Check evaluates c once. Duration conditions always hold.
func (e *Executor) Check(ctx context.Context, c Condition) (bool, error) {
	if c.Kind == Duration {
		return true, nil
	}
	raw, err := e.page.Evaluate(ctx, conditionScript(c))
	if err != nil {
		return false, wrapTransport(err, Wait, c.Target)
	}
	var p observation
	if err := json.Unmarshal(raw, &p); err != nil {
		return false, fmt.Errorf("check %s: %w", c, err)
	}
	return p.Satisfied, nil
}

// transient reports errors a poll loop may see while the page navigates.
func transient(err error) bool {
	var (
		ee *cdp.EvaluationError
		te *cdp.CommandTimeoutError
		pe *cdp.ProtocolError
	)
	return errors.As(err, &ee) || errors.As(err, &te) || errors.As(err, &pe) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
