// Package engine wires the components one DOMGuard invocation needs: the
// protocol session, the action executor behind the recovery controller,
// the session recorder, the takeover controller, the workflow store and
// runner, and the history database.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/cdp"
	"github.com/neboloop/domguard/internal/config"
	"github.com/neboloop/domguard/internal/crashlog"
	"github.com/neboloop/domguard/internal/db"
	"github.com/neboloop/domguard/internal/defaults"
	"github.com/neboloop/domguard/internal/events"
	"github.com/neboloop/domguard/internal/notify"
	"github.com/neboloop/domguard/internal/recorder"
	"github.com/neboloop/domguard/internal/resilience"
	"github.com/neboloop/domguard/internal/takeover"
	"github.com/neboloop/domguard/internal/workflow"
)

// Options configures Open.
type Options struct {
	// DataDir defaults to the resolved data directory.
	DataDir string
	// Config defaults to config.yaml in DataDir.
	Config *config.Config
	// Endpoint overrides the host and port of the config. It is an http
	// base or a ws:// debugger URL.
	Endpoint     string
	AllowRemote  bool
	NoCorrection bool
	Logger       *slog.Logger
	// Notify is called when a takeover request is filed. It defaults to a
	// desktop notification when takeover.desktop_notify is set.
	Notify func(ctx context.Context, title, body string) error
}

// Engine is the single owner of every component for one invocation.
// Browser-facing parts connect lazily so offline commands never dial.
type Engine struct {
	cfg         *config.Config
	dataDir     string
	endpoint    string
	allowRemote bool
	correction  resilience.Config
	logger      *slog.Logger
	base        *slog.Logger
	httpClient  *http.Client
	notify      func(context.Context, string, string) error
	now         func() time.Time

	events    *events.Subject
	history   *db.Store
	takeover  *takeover.Controller
	recorder  *recorder.Recorder
	workflows *workflow.Store
	runner    *workflow.Runner

	mu      sync.Mutex
	session *cdp.Session
	exec    *action.Executor
	ctrl    *resilience.Controller
}

// Open prepares the data directory and the offline components.
func Open(opts Options) (*Engine, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dir, err := defaults.EnsureDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = dir
	} else if err := defaults.Init(dataDir, false); err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(dataDir)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	history, err := db.NewSQLite(filepath.Join(dataDir, defaults.HistoryDBFile))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		dataDir:     dataDir,
		endpoint:    opts.Endpoint,
		allowRemote: opts.AllowRemote || cfg.Chrome.AllowRemote,
		correction:  cfg.Resilience(),
		logger:      logger.With("component", "engine"),
		base:        logger,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		notify:      opts.Notify,
		now:         func() time.Time { return time.Now().UTC() },
		events:      events.NewSubject(events.WithLogger(logger.With("component", "events"))),
		history:     history,
	}
	if e.endpoint == "" {
		e.endpoint = cdp.BaseURL(cfg.Chrome.Host, cfg.Chrome.Port)
	}
	if opts.NoCorrection {
		e.correction.Enabled = false
	}
	if e.notify == nil && cfg.Takeover.DesktopNotify {
		e.notify = notify.Send
	}
	crashlog.Init(history)

	e.takeover = takeover.New(dataDir, history,
		takeover.WithLogger(logger.With("component", "takeover")),
		takeover.WithNotify(e.takeoverChanged))
	e.recorder = recorder.New(filepath.Join(dataDir, defaults.SessionsDir),
		recorder.WithLogger(logger.With("component", "recorder")))
	e.workflows = workflow.NewStore(filepath.Join(dataDir, defaults.WorkflowsDir))
	e.runner = workflow.NewRunner(e, e,
		workflow.WithGate(e.takeover),
		workflow.WithRunLog(e.logRun),
		workflow.WithStepObserver(e.stepFinished),
		workflow.WithLogger(logger.With("component", "workflow")))

	events.Subscribe(e.events, events.TopicActionAttempted, e.recordAction)
	events.Subscribe(e.events, events.TopicTakeoverChanged, func(_ context.Context, ev events.TakeoverChanged) error {
		e.logger.Info("takeover changed", "id", ev.ID, "reason", ev.Reason, "status", ev.Status)
		return nil
	})
	events.Subscribe(e.events, events.TopicWorkflowStep, func(_ context.Context, ev events.WorkflowStep) error {
		e.logger.Debug("workflow step", "run", ev.RunID, "step", ev.Index+1, "name", ev.Name, "status", ev.Status)
		return nil
	})
	return e, nil
}

// Close disconnects from the browser and closes the history database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Close())
		e.session, e.exec, e.ctrl = nil, nil, nil
	}
	crashlog.Init(nil)
	errs = append(errs, e.history.Close())
	return errors.Join(errs...)
}

func (e *Engine) Config() *config.Config { return e.cfg }

// DataDir returns the data directory the engine was opened on.
func (e *Engine) DataDir() string { return e.dataDir }

// Endpoint returns the debug endpoint commands connect to.
func (e *Engine) Endpoint() string { return e.endpoint }

// Correction returns the effective recovery settings.
func (e *Engine) Correction() resilience.Config { return e.correction }

func (e *Engine) Events() *events.Subject { return e.events }

func (e *Engine) History() *db.Store { return e.history }

func (e *Engine) Takeover() *takeover.Controller { return e.takeover }

func (e *Engine) Recorder() *recorder.Recorder { return e.recorder }

func (e *Engine) Workflows() *workflow.Store { return e.workflows }

// ScreenshotDir is where screenshots and PDFs land by default.
func (e *Engine) ScreenshotDir() string {
	return filepath.Join(e.dataDir, defaults.ScreenshotDir)
}

// Connected reports whether a protocol session is open.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Connect opens the protocol session if it is not open yet.
func (e *Engine) Connect(ctx context.Context) error {
	_, err := e.executor(ctx)
	return err
}

// Session returns the connected protocol session.
func (e *Engine) Session(ctx context.Context) (*cdp.Session, error) {
	if _, err := e.executor(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

func (e *Engine) executor(ctx context.Context) (*action.Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exec != nil {
		return e.exec, nil
	}

	s, err := cdp.Connect(ctx, e.endpoint,
		cdp.WithAllowRemote(e.allowRemote),
		cdp.WithDefaultTimeout(e.cfg.Timeout()),
		cdp.WithLogger(e.base.With("component", "cdp")))
	if err != nil {
		return nil, err
	}
	e.session = s
	e.exec = action.New(s,
		action.WithTimeout(e.cfg.Timeout()),
		action.WithScreenshotDir(e.ScreenshotDir()),
		action.WithScreenshotFormat(e.cfg.Defaults.ScreenshotFormat),
		action.WithLogger(e.base.With("component", "action")))
	e.ctrl = resilience.New(e.exec, e.correction,
		resilience.WithGate(e.takeover),
		resilience.WithEscalation(e.escalate),
		resilience.WithLogger(e.base.With("component", "resilience")))
	return e.exec, nil
}

// Execute runs a through the recovery controller. maxRetries overrides
// the configured budget when non-negative. Every attempt is published on
// TopicActionAttempted, which is how an active recording sees it.
func (e *Engine) Execute(ctx context.Context, a action.Action, maxRetries int) (resilience.Outcome, error) {
	began := e.now()
	if _, err := e.executor(ctx); err != nil {
		e.published(ctx, a, began, resilience.Outcome{}, err)
		return resilience.Outcome{}, err
	}
	out, err := e.ctrl.Execute(ctx, a, maxRetries)
	e.published(ctx, a, began, out, err)
	return out, err
}

// Perform is Execute with the configured retry budget.
func (e *Engine) Perform(ctx context.Context, a action.Action) (action.Result, error) {
	out, err := e.Execute(ctx, a, -1)
	return out.Result, err
}

func (e *Engine) published(ctx context.Context, a action.Action, began time.Time, out resilience.Outcome, err error) {
	ev := events.ActionAttempted{
		Command:  a.Name,
		Args:     recordedArgs(a),
		Selector: action.Describe(a.Target),
		PageURL:  out.Result.URL,
		Started:  began,
		Duration: e.now().Sub(began),
		Attempts: out.Attempts,
		Artifact: out.Result.Path,
		Err:      err,
	}
	if ev.PageURL == "" && e.recorder.State() == recorder.Recording {
		ev.PageURL = e.quickURL(ctx)
	}
	if perr := events.Emit(ctx, e.events, events.TopicActionAttempted, ev); perr != nil {
		e.logger.Warn("failed to record action", "action", a.Name, "error", perr)
	}
}

// recordedArgs flattens an action into the args map stored with a
// recording. Workflows created from the recording read it back.
func recordedArgs(a action.Action) map[string]any {
	args := make(map[string]any, len(a.Args)+2)
	for k, v := range a.Args {
		args[k] = v
	}
	switch {
	case a.Name == action.Drag && a.To != nil:
		args["value"] = action.Describe(a.To)
	case a.Value != "":
		args["value"] = a.Value
	}
	if a.Timeout > 0 {
		args["timeout_ms"] = a.Timeout.Milliseconds()
	}
	return args
}

func (e *Engine) recordAction(_ context.Context, ev events.ActionAttempted) error {
	rec := recorder.ActionRecord{
		Timestamp:     ev.Started,
		DurationMs:    ev.Duration.Milliseconds(),
		Command:       ev.Command,
		Args:          ev.Args,
		Status:        recorder.ActionSuccess,
		Selector:      ev.Selector,
		PageURL:       ev.PageURL,
		ScreenshotRef: ev.Artifact,
	}
	if ev.Err != nil {
		rec.Status = recorder.ActionFailed
		rec.Error = ev.Err.Error()
	}
	if err := e.recorder.Record(rec); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		crashlog.LogError("recorder", err, map[string]string{"command": ev.Command})
		return err
	}
	return nil
}

// escalate files a takeover request for a failure recovery may not touch.
// An already open request counts as filed.
func (e *Engine) escalate(ctx context.Context, kind resilience.Kind, cause error) error {
	reason := takeover.ReasonError
	if kind == resilience.Captcha {
		reason = takeover.ReasonCaptcha
	}
	_, err := e.takeover.Request(ctx, takeover.Request{
		Reason:  reason,
		Message: fmt.Sprintf("%s: %v", reason.DefaultMessage(), cause),
		URL:     e.quickURL(ctx),
	})
	if errors.Is(err, takeover.ErrAlreadyActive) {
		return nil
	}
	return err
}

func (e *Engine) takeoverChanged(r *takeover.Request) {
	_ = events.Emit(context.Background(), e.events, events.TopicTakeoverChanged, events.TakeoverChanged{
		ID:     r.ID,
		Reason: string(r.Reason),
		Status: string(r.Status),
	})
	if r.Status != takeover.StatusPending || e.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.notify(ctx, "DOMGuard needs you", r.Message); err != nil {
		e.logger.Warn("desktop notification failed", "id", r.ID, "error", err)
	}
}

// quickURL reads the page URL with a short budget, or returns "".
func (e *Engine) quickURL(ctx context.Context) string {
	e.mu.Lock()
	exec := e.exec
	e.mu.Unlock()
	if exec == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	u, _ := exec.CurrentURL(ctx)
	return u
}

// Check evaluates c once. It backs workflow step conditions.
func (e *Engine) Check(ctx context.Context, c action.Condition) (bool, error) {
	exec, err := e.executor(ctx)
	if err != nil {
		return false, err
	}
	return exec.Check(ctx, c)
}

// CurrentURL returns the URL of the driven page.
func (e *Engine) CurrentURL(ctx context.Context) (string, error) {
	exec, err := e.executor(ctx)
	if err != nil {
		return "", err
	}
	return exec.CurrentURL(ctx)
}

// Screenshot captures the page without recovery or recording.
func (e *Engine) Screenshot(ctx context.Context, opts action.ScreenshotOptions) (string, error) {
	exec, err := e.executor(ctx)
	if err != nil {
		return "", err
	}
	return exec.Screenshot(ctx, opts)
}

// Console collects console output for d.
func (e *Engine) Console(ctx context.Context, d time.Duration) ([]action.ConsoleEntry, error) {
	exec, err := e.executor(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Console(ctx, d)
}

// Eval evaluates expr in the page and returns its JSON value.
func (e *Engine) Eval(ctx context.Context, expr string) (json.RawMessage, error) {
	s, err := e.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, expr)
}

// RunWorkflow loads a workflow by id or name and runs it.
func (e *Engine) RunWorkflow(ctx context.Context, idOrName string, params map[string]string, dryRun bool) (*workflow.Result, error) {
	w, err := e.workflows.Get(idOrName)
	if err != nil {
		return nil, err
	}
	return e.runner.Run(ctx, w, params, workflow.RunOptions{DryRun: dryRun})
}

func (e *Engine) logRun(ctx context.Context, w *workflow.Workflow, r *workflow.Result) error {
	if err := e.history.RecordWorkflowRun(ctx, w, r); err != nil {
		crashlog.LogError("history", err, map[string]string{"run": r.RunID, "workflow": w.ID})
		return err
	}
	return e.workflows.RecordRun(w.ID)
}

func (e *Engine) stepFinished(ctx context.Context, res *workflow.Result, sr workflow.StepResult) {
	_ = events.Emit(ctx, e.events, events.TopicWorkflowStep, events.WorkflowStep{
		RunID:      res.RunID,
		WorkflowID: res.WorkflowID,
		Index:      sr.Index,
		Name:       sr.Name,
		Status:     string(sr.Status),
		Err:        sr.Error,
	})
}

// checkRemote applies the loopback rule to discovery requests that do not
// go through cdp.Connect.
func (e *Engine) checkRemote() error {
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return &cdp.ConnectionError{Endpoint: e.endpoint, Kind: cdp.ErrUnreachable, Cause: err}
	}
	if !e.allowRemote && !cdp.IsLoopbackHost(u.Hostname()) {
		return &cdp.ConnectionError{Endpoint: e.endpoint, Kind: cdp.ErrRemoteNotAllowed}
	}
	return nil
}

// httpBase returns the discovery base of the endpoint.
func (e *Engine) httpBase() (string, error) {
	if err := e.checkRemote(); err != nil {
		return "", err
	}
	u, _ := url.Parse(e.endpoint)
	switch u.Scheme {
	case "http", "https":
		return e.endpoint, nil
	case "ws":
		return "http://" + u.Host, nil
	case "wss":
		return "https://" + u.Host, nil
	}
	return "", &cdp.ConnectionError{Endpoint: e.endpoint, Kind: cdp.ErrUnreachable,
		Cause: fmt.Errorf("unsupported scheme %q", u.Scheme)}
}
