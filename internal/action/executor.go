// Package action resolves selectors against the live document and performs
// interaction primitives through a protocol session. Elements are resolved
// fresh for every action; nothing is cached between calls.
package action

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"

	"github.com/neboloop/domguard/internal/cdp"
)

const (
	DefaultTimeout           = 5 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	dragSteps                = 5
)

// Page is the protocol surface the executor drives. *cdp.Session
// implements it.
type Page interface {
	Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
	Subscribe(ctx context.Context, domain string) (*cdp.Stream, error)
}

// Executor performs actions against one page.
type Executor struct {
	page          Page
	timeout       time.Duration
	navTimeout    time.Duration
	poll          time.Duration
	screenshotDir string
	format        string
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Executor)

// WithTimeout sets the default per-action timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithNavigationTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.navTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.poll = d
		}
	}
}

// WithScreenshotDir sets where screenshots and PDFs without an explicit
// path are written.
func WithScreenshotDir(dir string) Option {
	return func(e *Executor) { e.screenshotDir = dir }
}

// WithScreenshotFormat sets the default capture format, png or jpeg.
func WithScreenshotFormat(format string) Option {
	return func(e *Executor) {
		if format != "" {
			e.format = format
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(p Page, opts ...Option) *Executor {
	e := &Executor{
		page:          p,
		timeout:       DefaultTimeout,
		navTimeout:    DefaultNavigationTimeout,
		poll:          DefaultPollInterval,
		screenshotDir: os.TempDir(),
		format:        "png",
		logger:        slog.Default().With("component", "action"),
		now:           time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Timeout is the default per-action timeout.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Element describes a resolved element at the moment of resolution.
type Element struct {
	Tag     string  `json:"tag"`
	ID      string  `json:"id,omitempty"`
	Text    string  `json:"text,omitempty"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	// Count is how many elements matched the selector.
	Count int `json:"count"`
	Index int `json:"index"`
}

// outcome is the shape every element script returns.
type outcome struct {
	OK      bool    `json:"ok"`
	Reason  string  `json:"reason"`
	Count   int     `json:"count"`
	Index   int     `json:"index"`
	Detail  string  `json:"detail"`
	Tag     string  `json:"tag"`
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Value   string  `json:"value"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// run evaluates body against the element sel resolves to.
func (e *Executor) run(ctx context.Context, name string, sel Selector, body string) (outcome, error) {
	var out outcome
	raw, err := e.page.Evaluate(ctx, elementScript(sel, body))
	if err != nil {
		return out, e.annotate(ctx, wrapTransport(err, name, sel))
	}
	if len(raw) == 0 {
		return out, e.annotate(ctx, &ActionError{Kind: Failed, Action: name, Selector: Describe(sel), Msg: "script returned no result"})
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ActionError{Kind: Failed, Action: name, Selector: Describe(sel), Msg: "unreadable script result", Err: err}
	}
	if out.OK {
		return out, nil
	}
	return out, e.annotate(ctx, failure(name, sel, out))
}

// outOfBounds names the requested nth when it counts from the end.
func outOfBounds(sel Selector, out outcome) string {
	nth := 0
	switch s := sel.(type) {
	case CSS:
		nth = s.Nth
	case Text:
		nth = s.Nth
	}
	if _, ok := nthIndex(out.Count, nth); nth < 0 && !ok {
		return fmt.Sprintf("nth %d out of bounds, found %d element(s)", nth, out.Count)
	}
	return fmt.Sprintf("index %d out of bounds, found %d element(s)", out.Index, out.Count)
}

func failure(name string, sel Selector, out outcome) *ActionError {
	ae := &ActionError{Action: name, Selector: Describe(sel)}
	switch out.Reason {
	case reasonNotFound:
		ae.Kind = NotFound
		switch {
		case out.Detail != "":
			ae.Msg = out.Detail
		case out.Count > 0:
			ae.Msg = outOfBounds(sel, out)
		default:
			ae.Msg = "no element matches"
		}
	case reasonInvalid:
		ae.Kind = NotFound
		ae.Msg = "invalid selector: " + out.Detail
	case reasonNotVisible:
		ae.Kind = NotVisible
		ae.Msg = "element is hidden or has zero size"
	case reasonIntercepted:
		ae.Kind = NotInteractable
		ae.Msg = "click intercepted by overlay element " + out.Detail
	case reasonNotInteractable:
		ae.Kind = NotInteractable
		ae.Msg = out.Detail
	default:
		ae.Kind = Failed
		ae.Msg = out.Reason + " " + out.Detail
	}
	return ae
}

// annotate adds the current page URL to an ActionError. It runs on a short
// detached context because ctx may already be expired.
func (e *Executor) annotate(ctx context.Context, err error) error {
	var ae *ActionError
	if !errors.As(err, &ae) || ae.URL != "" {
		return err
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	var u string
	if raw, uerr := e.page.Evaluate(uctx, `window.location.href`); uerr == nil {
		_ = json.Unmarshal(raw, &u)
	}
	ae.URL = u
	return err
}

// Resolve finds the element sel names without acting on it.
func (e *Executor) Resolve(ctx context.Context, sel Selector) (Element, error) {
	out, err := e.run(ctx, "resolve", sel, describeBody)
	if err != nil {
		return Element{}, err
	}
	return Element{
		Tag: out.Tag, ID: out.ID, Text: out.Text, Visible: out.Visible,
		X: out.X, Y: out.Y, Width: out.Width, Height: out.Height,
		Count: out.Count, Index: out.Index,
	}, nil
}

// Click clicks the center of the element, or the point itself for
// Coordinates.
func (e *Executor) Click(ctx context.Context, sel Selector) error {
	return e.click(ctx, Click, sel, 1)
}

func (e *Executor) TripleClick(ctx context.Context, sel Selector) error {
	return e.click(ctx, TripleClick, sel, 3)
}

func (e *Executor) click(ctx context.Context, name string, sel Selector, count int) error {
	x, y, err := e.point(ctx, name, sel)
	if err != nil {
		return err
	}
	if err := e.mouse(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y)); err != nil {
		return wrapTransport(err, name, sel)
	}
	for i := 1; i <= count; i++ {
		for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
			ev := input.DispatchMouseEvent(typ, x, y).WithButton(input.Left).WithClickCount(int64(i))
			if err := e.mouse(ctx, ev); err != nil {
				return wrapTransport(err, name, sel)
			}
		}
	}
	return nil
}

// point returns the viewport point an interaction with sel lands on.
func (e *Executor) point(ctx context.Context, name string, sel Selector) (float64, float64, error) {
	if c, ok := sel.(Coordinates); ok {
		return c.X, c.Y, nil
	}
	out, err := e.run(ctx, name, sel, pointBody)
	if err != nil {
		return 0, 0, err
	}
	return out.X, out.Y, nil
}

func (e *Executor) mouse(ctx context.Context, ev *input.DispatchMouseEventParams) error {
	_, err := e.page.Send(ctx, input.CommandDispatchMouseEvent, ev, 0)
	return err
}

// Type replaces the element's value with text. Typing into Focused appends
// at the current value instead.
func (e *Executor) Type(ctx context.Context, sel Selector, text string) (string, error) {
	_, appendText := sel.(Focused)
	out, err := e.run(ctx, Type, sel, typeBody(text, appendText))
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

// Key presses a space separated sequence of chords such as
// "Control+a Backspace".
func (e *Executor) Key(ctx context.Context, keys string) error {
	chords, err := parseKeys(keys)
	if err != nil {
		return &ActionError{Kind: Failed, Action: Key, Msg: err.Error()}
	}
	for _, c := range chords {
		var held input.Modifier
		for _, m := range c.mods {
			if err := e.key(ctx, keyEvent(input.KeyDown, m, held)); err != nil {
				return err
			}
		}
		held = c.modifier
		if err := e.key(ctx, keyEvent(input.KeyDown, c.key, held)); err != nil {
			return err
		}
		if err := e.key(ctx, keyEvent(input.KeyUp, c.key, held)); err != nil {
			return err
		}
		for i := len(c.mods) - 1; i >= 0; i-- {
			if err := e.key(ctx, keyEvent(input.KeyUp, c.mods[i], held)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) key(ctx context.Context, ev *input.DispatchKeyEventParams) error {
	if _, err := e.page.Send(ctx, input.CommandDispatchKeyEvent, ev, 0); err != nil {
		return wrapTransport(err, Key, nil)
	}
	return nil
}

func (e *Executor) Hover(ctx context.Context, sel Selector) error {
	x, y := 0.0, 0.0
	if c, ok := sel.(Coordinates); ok {
		x, y = c.X, c.Y
	} else {
		out, err := e.run(ctx, Hover, sel, hoverBody)
		if err != nil {
			return err
		}
		x, y = out.X, out.Y
	}
	return wrapTransport(e.mouse(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y)), Hover, sel)
}

// MoveMouse moves the pointer to a viewport point.
func (e *Executor) MoveMouse(ctx context.Context, c Coordinates) error {
	return wrapTransport(e.mouse(ctx, input.DispatchMouseEvent(input.MouseMoved, c.X, c.Y)), MouseMove, c)
}

// ScrollBy scrolls the window by a pixel delta.
func (e *Executor) ScrollBy(ctx context.Context, dx, dy float64) error {
	_, err := e.page.Evaluate(ctx, fmt.Sprintf(`window.scrollBy(%s, %s)`, jsNumber(dx), jsNumber(dy)))
	return wrapTransport(err, Scroll, nil)
}

// ScrollTo scrolls the element into the middle of the viewport.
func (e *Executor) ScrollTo(ctx context.Context, sel Selector) error {
	_, err := e.run(ctx, Scroll, sel, scrollIntoViewBody)
	return err
}

// Select picks an option of a <select> by value, visible label or index.
func (e *Executor) Select(ctx context.Context, sel Selector, value string, opts SelectOptions) (string, error) {
	out, err := e.run(ctx, Select, sel, selectBody(value, opts.ByLabel, opts.ByIndex))
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

type navigateResult struct {
	FrameID   string `json:"frameId"`
	ErrorText string `json:"errorText,omitempty"`
}

// Navigate loads url and waits until the document is complete.
func (e *Executor) Navigate(ctx context.Context, url string) error {
	raw, err := e.page.Send(ctx, page.CommandNavigate, page.Navigate(url), 0)
	if err != nil {
		return wrapTransport(err, Navigate, nil)
	}
	var res navigateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return &ActionError{Kind: Failed, Action: Navigate, URL: url, Msg: "unreadable navigate result", Err: err}
	}
	if res.ErrorText != "" {
		return &ActionError{Kind: Failed, Action: Navigate, URL: url, Msg: res.ErrorText}
	}
	return e.waitReady(ctx, Navigate)
}

type historyEntry struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

type history struct {
	CurrentIndex int64          `json:"currentIndex"`
	Entries      []historyEntry `json:"entries"`
}

// Back goes one entry back in the tab's history.
func (e *Executor) Back(ctx context.Context) error {
	raw, err := e.page.Send(ctx, page.CommandGetNavigationHistory, page.GetNavigationHistory(), 0)
	if err != nil {
		return wrapTransport(err, Back, nil)
	}
	var h history
	if err := json.Unmarshal(raw, &h); err != nil {
		return &ActionError{Kind: Failed, Action: Back, Msg: "unreadable history", Err: err}
	}
	if h.CurrentIndex <= 0 || int(h.CurrentIndex) > len(h.Entries) {
		return e.annotate(ctx, &ActionError{Kind: Failed, Action: Back, Msg: "no previous page"})
	}
	prev := h.Entries[h.CurrentIndex-1]
	if _, err := e.page.Send(ctx, page.CommandNavigateToHistoryEntry, page.NavigateToHistoryEntry(prev.ID), 0); err != nil {
		return wrapTransport(err, Back, nil)
	}
	return e.waitReady(ctx, Back)
}

func (e *Executor) Refresh(ctx context.Context) error {
	if _, err := e.page.Send(ctx, page.CommandReload, page.Reload(), 0); err != nil {
		return wrapTransport(err, Refresh, nil)
	}
	return e.waitReady(ctx, Refresh)
}

type readyState struct {
	State string `json:"state"`
	URL   string `json:"url"`
}

// waitReady polls document.readyState until complete or ctx expires.
func (e *Executor) waitReady(ctx context.Context, name string) error {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	last := "unknown"
	for {
		var rs readyState
		raw, err := e.page.Evaluate(ctx, readyStateJS)
		switch {
		case err == nil:
			if json.Unmarshal(raw, &rs) == nil {
				if rs.State == "complete" {
					return nil
				}
				last = rs.State
			}
		case ctx.Err() != nil:
		case !transient(err):
			return wrapTransport(err, name, nil)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &ActionError{Kind: Timeout, Action: name, URL: rs.URL, Msg: "page did not finish loading", LastObserved: "readyState=" + last}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type captureResult struct {
	Data string `json:"data"`
}

// Screenshot captures the viewport, or the whole page when Full is set, and
// returns the written file path.
func (e *Executor) Screenshot(ctx context.Context, opts ScreenshotOptions) (string, error) {
	format := opts.Format
	if format == "" {
		format = e.format
	}
	params := page.CaptureScreenshot().WithCaptureBeyondViewport(opts.Full)
	ext := "png"
	switch format {
	case "jpeg", "jpg":
		params = params.WithFormat(page.CaptureScreenshotFormatJpeg)
		if opts.Quality > 0 {
			params = params.WithQuality(int64(opts.Quality))
		}
		ext = "jpg"
	case "png":
		params = params.WithFormat(page.CaptureScreenshotFormatPng)
	default:
		return "", &ActionError{Kind: Failed, Action: Screenshot, Msg: "unsupported format " + format}
	}
	raw, err := e.page.Send(ctx, page.CommandCaptureScreenshot, params, 0)
	if err != nil {
		return "", wrapTransport(err, Screenshot, nil)
	}
	return e.writeCapture(Screenshot, raw, opts.Path, ext)
}

// PDF prints the page and returns the written file path.
func (e *Executor) PDF(ctx context.Context, opts PDFOptions) (string, error) {
	params := page.PrintToPDF().WithLandscape(opts.Landscape).WithPrintBackground(opts.Background)
	raw, err := e.page.Send(ctx, page.CommandPrintToPDF, params, 0)
	if err != nil {
		return "", wrapTransport(err, PDF, nil)
	}
	return e.writeCapture(PDF, raw, opts.Path, "pdf")
}

func (e *Executor) writeCapture(name string, raw json.RawMessage, path, ext string) (string, error) {
	var res captureResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", &ActionError{Kind: Failed, Action: name, Msg: "unreadable capture result", Err: err}
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return "", &ActionError{Kind: Failed, Action: name, Msg: "capture is not base64", Err: err}
	}
	if path == "" {
		path = filepath.Join(e.screenshotDir, fmt.Sprintf("%s-%s.%s", name, e.now().Format("20060102-150405.000"), ext))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	e.logger.Debug("capture written", "action", name, "path", path, "bytes", len(data))
	return path, nil
}

// Drag presses on from, moves to to in a few steps and releases.
func (e *Executor) Drag(ctx context.Context, from, to Selector) error {
	fx, fy, err := e.point(ctx, Drag, from)
	if err != nil {
		return err
	}
	tx, ty, err := e.point(ctx, Drag, to)
	if err != nil {
		return err
	}
	events := []*input.DispatchMouseEventParams{
		input.DispatchMouseEvent(input.MouseMoved, fx, fy),
		input.DispatchMouseEvent(input.MousePressed, fx, fy).WithButton(input.Left).WithClickCount(1),
	}
	for i := 1; i <= dragSteps; i++ {
		f := float64(i) / dragSteps
		events = append(events, input.DispatchMouseEvent(input.MouseMoved, fx+(tx-fx)*f, fy+(ty-fy)*f).WithButton(input.Left))
	}
	events = append(events, input.DispatchMouseEvent(input.MouseReleased, tx, ty).WithButton(input.Left).WithClickCount(1))
	for _, ev := range events {
		if err := e.mouse(ctx, ev); err != nil {
			return wrapTransport(err, Drag, from)
		}
	}
	return nil
}

// HandleDialog accepts or dismisses the open JavaScript dialog.
func (e *Executor) HandleDialog(ctx context.Context, opts DialogOptions) error {
	params := page.HandleJavaScriptDialog(!opts.Dismiss)
	if opts.Text != "" {
		params = params.WithPromptText(opts.Text)
	}
	_, err := e.page.Send(ctx, page.CommandHandleJavaScriptDialog, params, 0)
	var pe *cdp.ProtocolError
	if errors.As(err, &pe) && strings.Contains(strings.ToLower(pe.Message), "no dialog") {
		return &ActionError{Kind: NotFound, Action: Dialog, Msg: "no dialog is showing", Err: err}
	}
	return wrapTransport(err, Dialog, nil)
}

// Resize overrides the viewport size.
func (e *Executor) Resize(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return &ActionError{Kind: Failed, Action: Resize, Msg: fmt.Sprintf("invalid size %dx%d", width, height)}
	}
	params := emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false)
	_, err := e.page.Send(ctx, emulation.CommandSetDeviceMetricsOverride, params, 0)
	return wrapTransport(err, Resize, nil)
}

// read evaluates a page property that yields a string, such as the title.
func (e *Executor) read(ctx context.Context, name, expr string) (string, error) {
	raw, err := e.page.Evaluate(ctx, expr)
	if err != nil {
		return "", wrapTransport(err, name, nil)
	}
	var s string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &ActionError{Kind: Failed, Action: name, Msg: "unexpected result", Err: err}
		}
	}
	return s, nil
}

func (e *Executor) Title(ctx context.Context) (string, error) {
	return e.read(ctx, Title, `document.title`)
}

func (e *Executor) CurrentURL(ctx context.Context) (string, error) {
	return e.read(ctx, URL, `window.location.href`)
}

// Perform runs one action under its timeout.
func (e *Executor) Perform(ctx context.Context, a Action) (Result, error) {
	res := Result{Action: a.Name, Selector: Describe(a.Target)}
	if err := a.Validate(); err != nil {
		return res, &ActionError{Kind: Failed, Action: a.Name, Selector: res.Selector, Msg: err.Error()}
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = e.timeout
		switch a.Name {
		case Navigate, Back, Refresh:
			timeout = e.navTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("perform", "action", a.Name, "selector", res.Selector)

	var err error
	switch a.Name {
	case Navigate:
		err = e.Navigate(ctx, a.Value)
		res.URL = a.Value
	case Click:
		err = e.Click(ctx, a.Target)
	case TripleClick:
		err = e.TripleClick(ctx, a.Target)
	case Type:
		res.Value, err = e.Type(ctx, a.Target, a.Value)
	case Key:
		err = e.Key(ctx, a.Value)
	case Hover:
		err = e.Hover(ctx, a.Target)
	case MouseMove:
		c, ok := a.Target.(Coordinates)
		if !ok {
			return res, &ActionError{Kind: Failed, Action: a.Name, Selector: res.Selector, Msg: "mouse-move needs x,y coordinates"}
		}
		err = e.MoveMouse(ctx, c)
	case Scroll:
		if a.Target != nil {
			err = e.ScrollTo(ctx, a.Target)
			break
		}
		var o ScrollOptions
		if err = decodeArgs(a.Args, &o); err == nil {
			err = e.ScrollBy(ctx, o.DX, o.DY)
		}
	case Select:
		var o SelectOptions
		if err = decodeArgs(a.Args, &o); err == nil {
			res.Value, err = e.Select(ctx, a.Target, a.Value, o)
		}
	case Wait:
		var c Condition
		if c, err = a.condition(); err == nil {
			err = e.WaitFor(ctx, c, timeout, e.poll)
		}
	case Screenshot:
		var o ScreenshotOptions
		if err = decodeArgs(a.Args, &o); err == nil {
			res.Path, err = e.Screenshot(ctx, o)
		}
	case PDF:
		var o PDFOptions
		if err = decodeArgs(a.Args, &o); err == nil {
			res.Path, err = e.PDF(ctx, o)
		}
	case Back:
		err = e.Back(ctx)
	case Refresh:
		err = e.Refresh(ctx)
	case Drag:
		err = e.Drag(ctx, a.Target, a.To)
	case Dialog:
		var o DialogOptions
		if err = decodeArgs(a.Args, &o); err == nil {
			err = e.HandleDialog(ctx, o)
		}
	case Resize:
		var o ResizeOptions
		if err = decodeArgs(a.Args, &o); err == nil {
			err = e.Resize(ctx, o.Width, o.Height)
		}
	case Title:
		res.Value, err = e.Title(ctx)
	case URL:
		res.Value, err = e.CurrentURL(ctx)
	}
	return res, err
}

// DismissOverlays clicks common close controls and hides fixed overlays.
// It returns how many elements it acted on.
func (e *Executor) DismissOverlays(ctx context.Context) (int, error) {
	raw, err := e.page.Evaluate(ctx, dismissOverlayJS)
	if err != nil {
		return 0, wrapTransport(err, "dismiss-overlay", nil)
	}
	var n int
	_ = json.Unmarshal(raw, &n)
	return n, nil
}

// WaitStable waits until the document body stops changing: checks in a row
// with the same snapshot, at interval, for at most limit.
func (e *Executor) WaitStable(ctx context.Context, checks int, interval, limit time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	prev, same := "", 0
	for {
		raw, err := e.page.Evaluate(ctx, domSnapshotJS)
		switch {
		case err == nil:
			var snap string
			_ = json.Unmarshal(raw, &snap)
			if snap == prev {
				same++
			} else {
				prev, same = snap, 1
			}
			if same >= checks {
				return true, nil
			}
		case ctx.Err() != nil:
		case !transient(err):
			return false, wrapTransport(err, "wait-stable", nil)
		}
		if err := sleep(ctx, interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return false, nil
			}
			return false, err
		}
	}
}
