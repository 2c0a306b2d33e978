package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/resilience"
)

// Dispatcher runs one action with recovery. maxRetries < 0 uses the
// configured budget.
type Dispatcher interface {
	Execute(ctx context.Context, a action.Action, maxRetries int) (resilience.Outcome, error)
}

// Page answers step conditions and takes step screenshots.
type Page interface {
	Check(ctx context.Context, c action.Condition) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, opts action.ScreenshotOptions) (string, error)
}

// StepStatus is the outcome of one step of a run.
type StepStatus string

const (
	StepPlanned StepStatus = "planned"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

type StepResult struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Action     string     `json:"action"`
	Target     string     `json:"target,omitempty"`
	Value      string     `json:"value,omitempty"`
	Status     StepStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`
	Retries    int        `json:"retries,omitempty"`
	Strategies []string   `json:"strategies,omitempty"`
	Error      string     `json:"error,omitempty"`
	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`
}

// Result is the report of one run. Steps always lists every step.
type Result struct {
	RunID       string       `json:"run_id"`
	WorkflowID  string       `json:"workflow_id"`
	DryRun      bool         `json:"dry_run,omitempty"`
	Success     bool         `json:"success"`
	StartedAt   time.Time    `json:"started_at"`
	DurationMs  int64        `json:"duration_ms"`
	Steps       []StepResult `json:"steps"`
	Error       string       `json:"error,omitempty"`
	Screenshots []string     `json:"screenshots,omitempty"`
}

// Count returns how many steps ended in status.
func (r *Result) Count(status StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

type RunOptions struct {
	DryRun bool
}

// RunLog receives every finished run, dry runs excluded.
type RunLog func(ctx context.Context, w *Workflow, r *Result) error

// StepObserver is called as each executed step reaches its final status.
type StepObserver func(ctx context.Context, res *Result, step StepResult)

type Runner struct {
	exec    Dispatcher
	page    Page
	gate    resilience.Gate
	runLog  RunLog
	observe StepObserver
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

type RunnerOption func(*Runner)

// WithGate makes the runner check g before every step.
func WithGate(g resilience.Gate) RunnerOption {
	return func(r *Runner) { r.gate = g }
}

func WithRunLog(fn RunLog) RunnerOption {
	return func(r *Runner) { r.runLog = fn }
}

func WithStepObserver(fn StepObserver) RunnerOption {
	return func(r *Runner) { r.observe = fn }
}

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(exec Dispatcher, page Page, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:   exec,
		page:   page,
		logger: slog.Default().With("component", "workflow"),
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run resolves parameters, validates every step, then executes the steps
// in order unless opts.DryRun is set. A failed required step stops the run
// with *StepFailedError and marks the remaining steps skipped; a failed
// optional step does not.
func (r *Runner) Run(ctx context.Context, w *Workflow, params map[string]string, opts RunOptions) (*Result, error) {
	values, err := w.ResolveParams(params)
	if err != nil {
		return nil, err
	}
	plan, err := w.Plan(values)
	if err != nil {
		return nil, err
	}

	start := r.now()
	res := &Result{
		RunID:      uuid.NewString(),
		WorkflowID: w.ID,
		DryRun:     opts.DryRun,
		StartedAt:  start.UTC(),
		Steps:      make([]StepResult, len(plan)),
	}
	secret := secretValues(w, values)
	for i, p := range plan {
		res.Steps[i] = StepResult{
			Index:  p.Index,
			Name:   p.Step.Label(),
			Action: p.Step.Action,
			Target: p.Step.Target,
			Value:  mask(p.Step.Value, secret),
			Status: StepPlanned,
		}
	}
	if opts.DryRun {
		res.Success = true
		return res, nil
	}

	r.logger.Info("workflow started", "workflow", w.ID, "run", res.RunID, "steps", len(plan))
	runErr := r.execute(ctx, plan, res)
	res.DurationMs = r.now().Sub(start).Milliseconds()
	res.Success = runErr == nil
	if runErr != nil {
		res.Error = runErr.Error()
	}
	r.logger.Info("workflow finished", "workflow", w.ID, "run", res.RunID, "success", res.Success,
		"failed", res.Count(StepFailed), "skipped", res.Count(StepSkipped))

	if r.runLog != nil {
		if err := r.runLog(context.WithoutCancel(ctx), w, res); err != nil {
			r.logger.Warn("failed to record workflow run", "run", res.RunID, "error", err)
		}
	}
	return res, runErr
}

func (r *Runner) execute(ctx context.Context, plan []Planned, res *Result) error {
	skipRest := func(from int, reason string) {
		for j := from; j < len(plan); j++ {
			res.Steps[j].Status = StepSkipped
			res.Steps[j].Reason = reason
		}
	}

	for i, p := range plan {
		sr := &res.Steps[i]
		if err := ctx.Err(); err != nil {
			skipRest(i, "cancelled")
			return err
		}
		if r.gate != nil {
			if err := r.gate.Gate(ctx); err != nil {
				skipRest(i, "takeover pending")
				return err
			}
		}

		if !p.Step.Condition.empty() {
			ok, err := r.conditionHolds(ctx, *p.Step.Condition)
			if err != nil {
				r.logger.Warn("step condition check failed", "step", i+1, "error", err)
			}
			if !ok {
				sr.Status = StepSkipped
				sr.Reason = "condition not met: " + p.Step.Condition.String()
				r.logger.Debug("step skipped", "step", i+1, "reason", sr.Reason)
				r.notify(ctx, res, sr)
				continue
			}
		}

		if err := r.sleep(ctx, ms(p.Step.DelayBeforeMs)); err != nil {
			skipRest(i, "cancelled")
			return err
		}

		retries := -1
		if p.Step.RetryCount != nil {
			retries = *p.Step.RetryCount
		}
		began := r.now()
		out, err := r.exec.Execute(ctx, p.Action, retries)
		sr.DurationMs = r.now().Sub(began).Milliseconds()
		sr.Retries = out.Retries()
		for _, s := range out.Applied {
			sr.Strategies = append(sr.Strategies, s.String())
		}

		if err != nil {
			sr.Status = StepFailed
			sr.Error = err.Error()
			r.notify(ctx, res, sr)
			if p.Step.IsRequired() {
				r.logger.Warn("required step failed", "step", i+1, "name", sr.Name, "error", err)
				skipRest(i+1, fmt.Sprintf("step %d failed", i+1))
				return &StepFailedError{Index: i, Name: sr.Name, Err: err}
			}
			r.logger.Info("optional step failed, continuing", "step", i+1, "name", sr.Name, "error", err)
			continue
		}
		sr.Status = StepSuccess
		r.notify(ctx, res, sr)

		if p.Step.ScreenshotAfter && r.page != nil {
			path, err := r.page.Screenshot(ctx, action.ScreenshotOptions{})
			if err != nil {
				r.logger.Warn("step screenshot failed", "step", i+1, "error", err)
			} else {
				res.Screenshots = append(res.Screenshots, path)
			}
		}
		if err := r.sleep(ctx, ms(p.Step.DelayAfterMs)); err != nil {
			skipRest(i+1, "cancelled")
			return err
		}
	}
	return nil
}

func (r *Runner) notify(ctx context.Context, res *Result, sr *StepResult) {
	if r.observe != nil {
		r.observe(ctx, res, *sr)
	}
}

// conditionHolds reports whether every set field of c holds.
func (r *Runner) conditionHolds(ctx context.Context, c Condition) (bool, error) {
	if r.page == nil {
		return false, fmt.Errorf("no page to check %s", c)
	}
	var checks []action.Condition
	for _, f := range []struct {
		raw  string
		make func(action.Selector) action.Condition
	}{
		{c.SelectorExists, action.Present},
		{c.SelectorNotExists, action.Gone},
	} {
		if f.raw == "" {
			continue
		}
		sel, err := action.ParseSelector(f.raw, 0)
		if err != nil {
			return false, err
		}
		checks = append(checks, f.make(sel))
	}
	if c.TextContains != "" {
		checks = append(checks, action.TextAppears(c.TextContains))
	}
	for _, ch := range checks {
		ok, err := r.page.Check(ctx, ch)
		if err != nil || !ok {
			return false, err
		}
	}
	if c.URLContains != "" {
		u, err := r.page.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		if !strings.Contains(u, c.URLContains) {
			return false, nil
		}
	}
	return true, nil
}

// secretValues returns the values of password parameters.
func secretValues(w *Workflow, values map[string]string) []string {
	var out []string
	for _, p := range w.Parameters {
		if p.Type() == "password" && values[p.Name] != "" {
			out = append(out, values[p.Name])
		}
	}
	return out
}

func mask(s string, secrets []string) string {
	for _, v := range secrets {
		s = strings.ReplaceAll(s, v, "********")
	}
	return s
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

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
