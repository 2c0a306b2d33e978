package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/resilience"
)

type dispatch struct {
	action     action.Action
	maxRetries int
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatch
	fail  map[int]error
}

func (f *fakeDispatcher) Execute(_ context.Context, a action.Action, maxRetries int) (resilience.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatch{a, maxRetries})
	if err := f.fail[len(f.calls)-1]; err != nil {
		return resilience.Outcome{Attempts: 2, Applied: []resilience.Strategy{resilience.Retry}}, err
	}
	return resilience.Outcome{Attempts: 1, Result: action.Result{Action: a.Name}}, nil
}

func (f *fakeDispatcher) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.action.Name)
	}
	return out
}

type fakePage struct {
	present map[string]bool
	url     string
	shots   int
}

func (p *fakePage) Check(_ context.Context, c action.Condition) (bool, error) {
	switch c.Kind {
	case action.ElementPresent:
		return p.present[action.Describe(c.Target)], nil
	case action.ElementGone:
		return !p.present[action.Describe(c.Target)], nil
	case action.TextPresent:
		return p.present["text:"+c.Text], nil
	}
	return false, errors.New("unexpected condition")
}

func (p *fakePage) CurrentURL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) Screenshot(context.Context, action.ScreenshotOptions) (string, error) {
	p.shots++
	return "/tmp/shot.png", nil
}

func newRunner(d Dispatcher, p Page, opts ...RunnerOption) *Runner {
	r := NewRunner(d, p, opts...)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func loginWorkflow() *Workflow {
	return &Workflow{
		ID:   "login",
		Name: "Login",
		Parameters: []Parameter{
			{Name: "username", Required: true},
			{Name: "password", Required: true, ParamType: "password"},
		},
		Steps: []Step{
			{Action: "navigate", Target: "https://example.com/login"},
			{Action: "type", Target: "#user", Value: "{{username}}"},
			{Action: "type", Target: "#pass", Value: "{{password}}"},
			{Action: "click", Target: "button[type=submit]"},
		},
	}
}

func TestDryRunMakesNoExecutorCalls(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRunner(d, &fakePage{})

	res, err := r.Run(context.Background(), loginWorkflow(), map[string]string{"username": "ada", "password": "hunter2"}, RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, d.calls)
	assert.True(t, res.DryRun)
	assert.True(t, res.Success)
	require.Len(t, res.Steps, 4)
	assert.Equal(t, 4, res.Count(StepPlanned))
	assert.Equal(t, "ada", res.Steps[1].Value)
	assert.Equal(t, "********", res.Steps[2].Value)
	assert.Equal(t, "button[type=submit]", res.Steps[3].Target)
}

func TestMissingParameterAbortsBeforeDispatch(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRunner(d, &fakePage{})

	_, err := r.Run(context.Background(), loginWorkflow(), map[string]string{"username": "ada"}, RunOptions{})
	var mp *MissingParameterError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "password", mp.Name)
	assert.Empty(t, d.calls)
}

func TestParameterDefaultsAndUndeclaredPlaceholders(t *testing.T) {
	def := "https://example.com"
	w := &Workflow{
		ID:         "w",
		Parameters: []Parameter{{Name: "url", Default: &def}},
		Steps: []Step{
			{Action: "navigate", Target: "{{url}}"},
			{Action: "type", Target: "#q", Value: "{{query}}"},
		},
	}
	d := &fakeDispatcher{}
	r := newRunner(d, &fakePage{})

	_, err := r.Run(context.Background(), w, nil, RunOptions{})
	var mp *MissingParameterError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "query", mp.Name)
	assert.Empty(t, d.calls)

	res, err := r.Run(context.Background(), w, map[string]string{"query": "go"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(StepSuccess))
	assert.Equal(t, "https://example.com", d.calls[0].action.Value)
	assert.Equal(t, "go", d.calls[1].action.Value)
}

func TestInvalidStepRejectedBeforeDispatch(t *testing.T) {
	w := &Workflow{ID: "w", Steps: []Step{
		{Action: "navigate", Target: "https://example.com"},
		{Action: "click"},
	}}
	d := &fakeDispatcher{}
	_, err := newRunner(d, nil).Run(context.Background(), w, nil, RunOptions{DryRun: true})

	var inv *InvalidStepError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, 1, inv.Index)

	w.Steps[1] = Step{Action: "fly", Target: "#x"}
	_, err = newRunner(d, nil).Run(context.Background(), w, nil, RunOptions{})
	require.ErrorAs(t, err, &inv)
	assert.Empty(t, d.calls)
}

func TestOptionalStepFailureContinues(t *testing.T) {
	w := &Workflow{ID: "w", Steps: []Step{
		{Action: "navigate", Target: "https://example.com"},
		{Action: "click", Target: "#cookie-banner", Required: boolPtr(false)},
		{Action: "click", Target: "#go"},
	}}
	d := &fakeDispatcher{fail: map[int]error{1: errors.New("no element matches")}}
	res, err := newRunner(d, &fakePage{}).Run(context.Background(), w, nil, RunOptions{})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"navigate", "click", "click"}, d.names())
	statuses := []StepStatus{res.Steps[0].Status, res.Steps[1].Status, res.Steps[2].Status}
	assert.Equal(t, []StepStatus{StepSuccess, StepFailed, StepSuccess}, statuses)
	assert.Equal(t, 1, res.Steps[1].Retries)
	assert.Equal(t, []string{"retry"}, res.Steps[1].Strategies)
}

func TestRequiredStepFailureSkipsRest(t *testing.T) {
	boom := errors.New("no element matches")
	d := &fakeDispatcher{fail: map[int]error{1: boom}}
	res, err := newRunner(d, &fakePage{}).Run(context.Background(), loginWorkflow(),
		map[string]string{"username": "ada", "password": "x"}, RunOptions{})

	var sf *StepFailedError
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, 1, sf.Index)
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	assert.Len(t, d.calls, 2)

	var got []StepStatus
	for _, s := range res.Steps {
		got = append(got, s.Status)
	}
	want := []StepStatus{StepSuccess, StepFailed, StepSkipped, StepSkipped}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("step statuses (-want +got):\n%s", diff)
	}
}

func TestStepOverridesReachDispatcher(t *testing.T) {
	w := &Workflow{ID: "w", Steps: []Step{
		{Action: "click", Target: "#a"},
		{Action: "click", Target: "text:Next", Nth: -1, RetryCount: intPtr(0), TimeoutMs: 1500},
		{Action: "drag", Target: "#card", Value: "#lane"},
	}}
	d := &fakeDispatcher{}
	_, err := newRunner(d, &fakePage{}).Run(context.Background(), w, nil, RunOptions{})
	require.NoError(t, err)

	require.Len(t, d.calls, 3)
	assert.Equal(t, -1, d.calls[0].maxRetries)
	assert.Equal(t, 0, d.calls[1].maxRetries)
	assert.Equal(t, 1500*time.Millisecond, d.calls[1].action.Timeout)
	assert.Equal(t, action.Text{Needle: "Next", Nth: -1}, d.calls[1].action.Target)
	assert.Equal(t, action.CSS{Pattern: "#lane"}, d.calls[2].action.To)
}

func TestUnmetConditionSkipsStep(t *testing.T) {
	w := &Workflow{ID: "w", Steps: []Step{
		{Action: "click", Target: "#accept", Condition: &Condition{SelectorExists: "#accept"}},
		{Action: "click", Target: "#go", Condition: &Condition{URLContains: "/checkout"}},
		{Action: "click", Target: "#done", Condition: &Condition{SelectorNotExists: ".spinner", TextContains: "Ready"}},
	}}
	page := &fakePage{url: "https://shop.test/checkout", present: map[string]bool{"text:Ready": true}}
	d := &fakeDispatcher{}
	res, err := newRunner(d, page).Run(context.Background(), w, nil, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StepSkipped, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Reason, "condition not met")
	assert.Equal(t, StepSuccess, res.Steps[1].Status)
	assert.Equal(t, StepSuccess, res.Steps[2].Status)
	assert.Len(t, d.calls, 2)
}

func TestScreenshotAfterStep(t *testing.T) {
	w := &Workflow{ID: "w", Steps: []Step{{Action: "click", Target: "#a", ScreenshotAfter: true}}}
	page := &fakePage{}
	res, err := newRunner(&fakeDispatcher{}, page).Run(context.Background(), w, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.shots)
	assert.Equal(t, []string{"/tmp/shot.png"}, res.Screenshots)
}

type gateFunc func(context.Context) error

func (g gateFunc) Gate(ctx context.Context) error { return g(ctx) }

func TestGateStopsRun(t *testing.T) {
	blocked := errors.New("takeover pending")
	n := 0
	gate := gateFunc(func(context.Context) error {
		n++
		if n > 1 {
			return blocked
		}
		return nil
	})
	d := &fakeDispatcher{}
	res, err := newRunner(d, &fakePage{}, WithGate(gate)).Run(context.Background(), loginWorkflow(),
		map[string]string{"username": "a", "password": "b"}, RunOptions{})

	require.ErrorIs(t, err, blocked)
	assert.Len(t, d.calls, 1)
	assert.Equal(t, 3, res.Count(StepSkipped))
}

func TestRunLogSeesFinishedRuns(t *testing.T) {
	var logged []*Result
	log := func(_ context.Context, _ *Workflow, r *Result) error {
		logged = append(logged, r)
		return nil
	}
	r := newRunner(&fakeDispatcher{}, &fakePage{}, WithRunLog(log))
	params := map[string]string{"username": "a", "password": "b"}

	_, err := r.Run(context.Background(), loginWorkflow(), params, RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, logged)

	res, err := r.Run(context.Background(), loginWorkflow(), params, RunOptions{})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Same(t, res, logged[0])
	assert.NotEmpty(t, res.RunID)
}

func TestCancelledRunSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &fakeDispatcher{}
	res, err := newRunner(d, &fakePage{}).Run(ctx, loginWorkflow(), map[string]string{"username": "a", "password": "b"}, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.calls)
	assert.Equal(t, 4, res.Count(StepSkipped))
}

func TestStepObserverSeesEveryExecutedStep(t *testing.T) {
	d := &fakeDispatcher{fail: map[int]error{1: errors.New("boom")}}
	w := &Workflow{
		ID: "observed",
		Steps: []Step{
			{Action: "click", Target: "#a"},
			{Action: "click", Target: "#b", Required: boolPtr(false)},
			{Action: "click", Target: "#c", Condition: &Condition{SelectorExists: "#missing"}},
			{Action: "click", Target: "#d"},
		},
	}
	var seen []StepStatus
	var runIDs []string
	r := newRunner(d, &fakePage{}, WithStepObserver(func(_ context.Context, res *Result, sr StepResult) {
		seen = append(seen, sr.Status)
		runIDs = append(runIDs, res.RunID)
	}))

	res, err := r.Run(context.Background(), w, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{StepSuccess, StepFailed, StepSkipped, StepSuccess}, seen)
	for _, id := range runIDs {
		assert.Equal(t, res.RunID, id)
	}
}

func TestStepDelaysWrapDispatch(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRunner(d, &fakePage{})
	var slept []time.Duration
	r.sleep = func(ctx context.Context, dur time.Duration) error {
		if dur > 0 {
			slept = append(slept, dur)
		}
		return ctx.Err()
	}
	w := &Workflow{
		ID: "delays",
		Steps: []Step{
			{Action: "navigate", Target: "https://example.com", DelayBeforeMs: 250, DelayAfterMs: 40},
			{Action: "click", Target: "#go"},
		},
	}

	res, err := r.Run(context.Background(), w, nil, RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 40 * time.Millisecond}, slept)
	assert.Equal(t, []string{"navigate", "click"}, d.names())
}
