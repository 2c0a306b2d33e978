// Package resilience wraps the action executor with bounded, classified
// recovery. Failures are classified, a recovery plan is applied one
// strategy per retry, and exhaustion or escalation is reported as a typed
// error. Retries are strictly sequential.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/cdp"
)

const (
	stableChecks   = 3
	stableInterval = 200 * time.Millisecond
	stableLimit    = 3 * time.Second
)

// Config controls retries. It mirrors the correction section of the config
// file.
type Config struct {
	Enabled            bool
	MaxRetries         int
	BaseDelay          time.Duration
	ExponentialBackoff bool
	MaxRecoveryTime    time.Duration
	EscalateCaptcha    bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		MaxRetries:         3,
		BaseDelay:          500 * time.Millisecond,
		ExponentialBackoff: true,
		MaxRecoveryTime:    30 * time.Second,
		EscalateCaptcha:    true,
	}
}

// Executor is the part of *action.Executor the controller drives.
type Executor interface {
	Perform(ctx context.Context, a action.Action) (action.Result, error)
	Resolve(ctx context.Context, sel action.Selector) (action.Element, error)
	ScrollTo(ctx context.Context, sel action.Selector) error
	DismissOverlays(ctx context.Context) (int, error)
	WaitStable(ctx context.Context, checks int, interval, limit time.Duration) (bool, error)
}

// Gate reports whether execution may proceed. It returns an error while a
// human holds control of the page.
type Gate interface {
	Gate(ctx context.Context) error
}

// EscalateFunc files a takeover request for a failure no strategy may
// handle.
type EscalateFunc func(ctx context.Context, kind Kind, err error) error

// Outcome describes a completed Execute.
type Outcome struct {
	Result   action.Result
	Attempts int
	Applied  []Strategy
}

// Retries is the number of attempts after the first.
func (o Outcome) Retries() int {
	if o.Attempts == 0 {
		return 0
	}
	return o.Attempts - 1
}

type Controller struct {
	exec     Executor
	cfg      Config
	gate     Gate
	escalate EscalateFunc
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

type Option func(*Controller)

func WithGate(g Gate) Option {
	return func(c *Controller) { c.gate = g }
}

func WithEscalation(fn EscalateFunc) Option {
	return func(c *Controller) { c.escalate = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(exec Executor, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		exec:   exec,
		cfg:    cfg,
		logger: slog.Default().With("component", "resilience"),
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config { return c.cfg }

// Perform runs a with the configured retry budget.
func (c *Controller) Perform(ctx context.Context, a action.Action) (action.Result, error) {
	out, err := c.Execute(ctx, a, -1)
	return out.Result, err
}

// Execute runs a, recovering from classified failures. maxRetries
// overrides the configured budget when non-negative.
func (c *Controller) Execute(ctx context.Context, a action.Action, maxRetries int) (Outcome, error) {
	if maxRetries < 0 {
		maxRetries = c.cfg.MaxRetries
	}
	var out Outcome

	if !c.cfg.Enabled {
		if err := c.checkGate(ctx); err != nil {
			return out, err
		}
		out.Attempts = 1
		res, err := c.exec.Perform(ctx, a)
		out.Result = res
		return out, err
	}
	if err := a.Validate(); err != nil {
		return out, &action.ActionError{Kind: action.Failed, Action: a.Name, Selector: action.Describe(a.Target), Msg: err.Error()}
	}

	start := c.now()
	tried := map[Strategy]bool{}
	for {
		if err := c.checkGate(ctx); err != nil {
			return out, err
		}
		out.Attempts++
		res, err := c.exec.Perform(ctx, a)
		if err == nil {
			out.Result = res
			if out.Attempts > 1 {
				c.logger.Info("recovered", "action", a.Name, "attempts", out.Attempts, "strategies", out.Applied)
			}
			return out, nil
		}
		if ctx.Err() != nil || fatal(err) {
			return out, err
		}

		kind := Classify(err)
		if kind == Captcha {
			return out, c.escalation(ctx, kind, err)
		}
		if out.Attempts > maxRetries {
			return out, &ExhaustedError{Err: err, Kind: kind, Attempts: out.Attempts, Strategies: out.Applied}
		}
		elapsed := c.now().Sub(start)
		if c.cfg.MaxRecoveryTime > 0 && elapsed >= c.cfg.MaxRecoveryTime {
			c.logger.Warn("recovery time exceeded", "action", a.Name, "elapsed", elapsed)
			return out, &ExhaustedError{Err: err, Kind: kind, Attempts: out.Attempts, Strategies: out.Applied}
		}

		s := nextStrategy(kind, tried)
		tried[s] = true
		c.logger.Debug("recovering", "action", a.Name, "kind", kind, "strategy", s, "attempt", out.Attempts, "error", err)
		if serr := c.apply(ctx, s, &a); serr != nil {
			if ctx.Err() != nil || fatal(serr) {
				return out, serr
			}
			c.logger.Debug("strategy failed", "strategy", s, "error", serr)
		}
		out.Applied = append(out.Applied, s)

		if err := c.sleep(ctx, c.backoff(out.Attempts, elapsed)); err != nil {
			return out, err
		}
	}
}

// nextStrategy picks the first untried strategy of kind's plan. Plans
// shorter than the retry budget fall back to plain retries.
func nextStrategy(kind Kind, tried map[Strategy]bool) Strategy {
	for _, s := range plans[kind] {
		if !tried[s] {
			return s
		}
	}
	return Retry
}

func (c *Controller) backoff(attempt int, elapsed time.Duration) time.Duration {
	d := c.cfg.BaseDelay
	if c.cfg.ExponentialBackoff {
		for i := 1; i < attempt && d < c.cfg.MaxRecoveryTime; i++ {
			d *= 2
		}
	}
	if c.cfg.MaxRecoveryTime > 0 {
		if remaining := c.cfg.MaxRecoveryTime - elapsed; d > remaining {
			d = max(remaining, 0)
		}
	}
	return d
}

func (c *Controller) apply(ctx context.Context, s Strategy, a *action.Action) error {
	switch s {
	case ScrollIntoView:
		if a.Target == nil {
			return nil
		}
		if _, ok := a.Target.(action.Coordinates); ok {
			return nil
		}
		return c.exec.ScrollTo(ctx, a.Target)
	case DismissOverlay:
		n, err := c.exec.DismissOverlays(ctx)
		c.logger.Debug("overlays dismissed", "count", n)
		return err
	case WaitStable:
		_, err := c.exec.WaitStable(ctx, stableChecks, stableInterval, stableLimit)
		return err
	case AlternativeSelector:
		for _, alt := range Alternatives(a.Target) {
			if _, err := c.exec.Resolve(ctx, alt); err == nil {
				c.logger.Info("using alternative selector", "from", action.Describe(a.Target), "to", action.Describe(alt))
				a.Target = alt
				return nil
			}
		}
	}
	return nil
}

func (c *Controller) checkGate(ctx context.Context) error {
	if c.gate == nil {
		return nil
	}
	return c.gate.Gate(ctx)
}

func (c *Controller) escalation(ctx context.Context, kind Kind, err error) error {
	ee := &EscalationError{Err: err, Kind: kind}
	if c.cfg.EscalateCaptcha && c.escalate != nil {
		if ferr := c.escalate(ctx, kind, err); ferr != nil {
			c.logger.Warn("could not file takeover request", "error", ferr)
		} else {
			ee.Filed = true
		}
	}
	return ee
}

// fatal reports failures no page-level strategy can fix.
func fatal(err error) bool {
	var ce *cdp.ConnectionError
	return errors.Is(err, cdp.ErrConnectionLost) ||
		errors.Is(err, cdp.ErrTargetClosed) ||
		errors.Is(err, cdp.ErrSessionClosed) ||
		errors.As(err, &ce)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
