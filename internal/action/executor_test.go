package action

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/cdp"
	"github.com/neboloop/domguard/internal/cdp/cdptest"
)

const pageURL = "https://example.com/page"

type evalLog struct {
	mu    sync.Mutex
	exprs []string
}

func (l *evalLog) add(expr string) {
	l.mu.Lock()
	l.exprs = append(l.exprs, expr)
	l.mu.Unlock()
}

// scripts returns evaluated expressions other than URL lookups.
func (l *evalLog) scripts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.exprs {
		if e != `window.location.href` {
			out = append(out, e)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, eval func(expr string) (any, error), opts ...Option) (*Executor, *cdptest.Server, *evalLog) {
	t.Helper()
	srv := cdptest.New(t)
	log := &evalLog{}
	srv.HandleEval(func(expr string) (any, error) {
		log.add(expr)
		if expr == `window.location.href` {
			return pageURL, nil
		}
		if eval == nil {
			return nil, nil
		}
		return eval(expr)
	})
	for _, m := range []string{"Input.dispatchMouseEvent", "Input.dispatchKeyEvent"} {
		srv.Handle(m, func(json.RawMessage) (any, error) { return struct{}{}, nil })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := cdp.Connect(ctx, srv.URL())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	opts = append([]Option{WithPollInterval(10 * time.Millisecond), WithTimeout(2 * time.Second)}, opts...)
	return New(s, opts...), srv, log
}

type mouseParams struct {
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Button     string  `json:"button"`
	ClickCount int     `json:"clickCount"`
}

func mouseEvents(t *testing.T, srv *cdptest.Server) []mouseParams {
	t.Helper()
	var out []mouseParams
	for _, c := range srv.Calls("Input.dispatchMouseEvent") {
		var p mouseParams
		require.NoError(t, json.Unmarshal(c.Params, &p))
		out = append(out, p)
	}
	return out
}

func outcomeFor(pattern string, result map[string]any) func(string) (any, error) {
	return func(expr string) (any, error) {
		if strings.Contains(expr, pattern) {
			return result, nil
		}
		return nil, nil
	}
}

func TestClickDispatchesAtElementCenter(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, outcomeFor(`querySelectorAll("#go")`,
		map[string]any{"ok": true, "x": 50, "y": 60, "count": 1, "index": 0, "tag": "button"}))

	require.NoError(t, ex.Click(context.Background(), CSS{Pattern: "#go"}))

	events := mouseEvents(t, srv)
	require.Len(t, events, 3)
	assert.Equal(t, "mouseMoved", events[0].Type)
	assert.Equal(t, "mousePressed", events[1].Type)
	assert.Equal(t, "mouseReleased", events[2].Type)
	for _, ev := range events {
		assert.Equal(t, 50.0, ev.X)
		assert.Equal(t, 60.0, ev.Y)
	}
	assert.Equal(t, "left", events[1].Button)
	assert.Equal(t, 1, events[1].ClickCount)
}

func TestTripleClickCountsUp(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, outcomeFor(`querySelectorAll("p")`,
		map[string]any{"ok": true, "x": 1, "y": 2}))

	require.NoError(t, ex.TripleClick(context.Background(), CSS{Pattern: "p"}))

	events := mouseEvents(t, srv)
	require.Len(t, events, 7)
	assert.Equal(t, 3, events[5].ClickCount)
	assert.Equal(t, "mousePressed", events[5].Type)
}

func TestClickCoordinatesSkipsResolution(t *testing.T) {
	ex, srv, log := newTestExecutor(t, nil)

	require.NoError(t, ex.Click(context.Background(), Coordinates{X: 7, Y: 9}))

	assert.Empty(t, log.scripts())
	events := mouseEvents(t, srv)
	require.Len(t, events, 3)
	assert.Equal(t, 7.0, events[1].X)
}

func TestClickFailures(t *testing.T) {
	tests := []struct {
		name    string
		outcome map[string]any
		kind    Kind
		msg     string
	}{
		{"no match", map[string]any{"ok": false, "reason": "not_found", "count": 0, "index": 0}, NotFound, "no element matches"},
		{"index out of range", map[string]any{"ok": false, "reason": "not_found", "count": 2, "index": 5}, NotFound, "index 5 out of bounds, found 2 element(s)"},
		{"invalid selector", map[string]any{"ok": false, "reason": "invalid_selector", "detail": "'##' is not a valid selector"}, NotFound, "invalid selector"},
		{"hidden", map[string]any{"ok": false, "reason": "not_visible", "detail": "button#go"}, NotVisible, "hidden"},
		{"covered", map[string]any{"ok": false, "reason": "intercepted", "detail": "div#cookie-banner"}, NotInteractable, "intercepted by overlay element div#cookie-banner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, srv, _ := newTestExecutor(t, outcomeFor(`querySelectorAll("#go")`, tt.outcome))

			err := ex.Click(context.Background(), CSS{Pattern: "#go"})
			require.Error(t, err)

			var ae *ActionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.kind, ae.Kind)
			assert.Contains(t, ae.Msg, tt.msg)
			assert.Equal(t, "#go", ae.Selector)
			assert.Equal(t, pageURL, ae.URL)
			assert.Empty(t, srv.Calls("Input.dispatchMouseEvent"))
		})
	}
}

func TestTypeUsesNativeSetter(t *testing.T) {
	ex, _, log := newTestExecutor(t, outcomeFor(`querySelectorAll("#email")`,
		map[string]any{"ok": true, "tag": "input", "value": "a@b.c"}))

	got, err := ex.Type(context.Background(), CSS{Pattern: "#email"}, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", got)

	scripts := log.scripts()
	require.Len(t, scripts, 1)
	assert.Contains(t, scripts[0], `Object.getOwnPropertyDescriptor(proto, 'value').set`)
	assert.Contains(t, scripts[0], `const append = false;`)
}

func TestTypeFocusedAppends(t *testing.T) {
	ex, _, log := newTestExecutor(t, outcomeFor(`document.activeElement`,
		map[string]any{"ok": true, "tag": "textarea", "value": "ab"}))

	_, err := ex.Type(context.Background(), Focused{}, "b")
	require.NoError(t, err)
	assert.Contains(t, log.scripts()[0], `const append = true;`)
}

func TestTypeValueDidNotStick(t *testing.T) {
	ex, _, _ := newTestExecutor(t, outcomeFor(`querySelectorAll("#q")`,
		map[string]any{"ok": false, "reason": "not_interactable", "detail": "value did not stick"}))

	_, err := ex.Type(context.Background(), CSS{Pattern: "#q"}, "x")
	assert.Equal(t, NotInteractable, KindOf(err))
}

func TestKeyChord(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, nil)

	require.NoError(t, ex.Key(context.Background(), "Control+a"))

	type keyParams struct {
		Type      string `json:"type"`
		Key       string `json:"key"`
		Text      string `json:"text"`
		Modifiers int    `json:"modifiers"`
	}
	var got []keyParams
	for _, c := range srv.Calls("Input.dispatchKeyEvent") {
		var p keyParams
		require.NoError(t, json.Unmarshal(c.Params, &p))
		got = append(got, p)
	}
	require.Len(t, got, 4)
	assert.Equal(t, keyParams{Type: "keyDown", Key: "Control"}, got[0])
	assert.Equal(t, keyParams{Type: "keyDown", Key: "a", Modifiers: 2}, got[1])
	assert.Equal(t, keyParams{Type: "keyUp", Key: "a", Modifiers: 2}, got[2])
	assert.Equal(t, "keyUp", got[3].Type)
	assert.Equal(t, "Control", got[3].Key)
}

func TestNavigateWaitsForComplete(t *testing.T) {
	var polls atomic.Int32
	ex, srv, _ := newTestExecutor(t, func(expr string) (any, error) {
		if expr == readyStateJS {
			if polls.Add(1) < 3 {
				return map[string]any{"state": "loading", "url": pageURL}, nil
			}
			return map[string]any{"state": "complete", "url": pageURL}, nil
		}
		return nil, nil
	})
	srv.Handle("Page.navigate", func(json.RawMessage) (any, error) {
		return map[string]string{"frameId": "f1", "loaderId": "l1"}, nil
	})

	require.NoError(t, ex.Navigate(context.Background(), pageURL))
	assert.Equal(t, int32(3), polls.Load())

	calls := srv.Calls("Page.navigate")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"url":"https://example.com/page"}`, string(calls[0].Params))
}

func TestNavigateErrorText(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, nil)
	srv.Handle("Page.navigate", func(json.RawMessage) (any, error) {
		return map[string]string{"frameId": "f1", "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
	})

	err := ex.Navigate(context.Background(), "https://nope.invalid")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Failed, ae.Kind)
	assert.Contains(t, ae.Msg, "ERR_NAME_NOT_RESOLVED")
}

func TestNavigateTimesOutWhileLoading(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, func(expr string) (any, error) {
		return map[string]any{"state": "loading", "url": pageURL}, nil
	})
	srv.Handle("Page.navigate", func(json.RawMessage) (any, error) {
		return map[string]string{"frameId": "f1"}, nil
	})

	_, err := ex.Perform(context.Background(), Action{Name: Navigate, Value: pageURL, Timeout: 100 * time.Millisecond})
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Timeout, ae.Kind)
	assert.Equal(t, "readyState=loading", ae.LastObserved)
}

func TestWaitForTimeoutCarriesLastObserved(t *testing.T) {
	ex, _, _ := newTestExecutor(t, func(string) (any, error) {
		return map[string]any{"satisfied": false, "observed": "0 match(es)"}, nil
	})

	start := time.Now()
	err := ex.WaitFor(context.Background(), Visible(CSS{Pattern: ".done"}), 150*time.Millisecond, 10*time.Millisecond)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Timeout, ae.Kind)
	assert.Equal(t, "0 match(es)", ae.LastObserved)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWaitForSatisfiedAfterPolls(t *testing.T) {
	var n atomic.Int32
	ex, _, _ := newTestExecutor(t, func(string) (any, error) {
		return map[string]any{"satisfied": n.Add(1) >= 3, "observed": "x"}, nil
	})

	require.NoError(t, ex.WaitFor(context.Background(), TextAppears("Saved"), time.Second, 10*time.Millisecond))
	assert.Equal(t, int32(3), n.Load())
}

func TestWaitForToleratesTransientErrors(t *testing.T) {
	var n atomic.Int32
	ex, _, _ := newTestExecutor(t, func(string) (any, error) {
		if n.Add(1) == 1 {
			return nil, assert.AnError
		}
		return map[string]any{"satisfied": true}, nil
	})

	require.NoError(t, ex.WaitFor(context.Background(), Gone(CSS{Pattern: ".spinner"}), time.Second, 10*time.Millisecond))
}

func TestWaitForCancelled(t *testing.T) {
	ex, _, _ := newTestExecutor(t, func(string) (any, error) {
		return map[string]any{"satisfied": false, "observed": "nope"}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := ex.WaitFor(ctx, TextAppears("never"), 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForDuration(t *testing.T) {
	ex, _, log := newTestExecutor(t, nil)

	start := time.Now()
	require.NoError(t, ex.WaitFor(context.Background(), Sleep(50*time.Millisecond), time.Second, 0))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Empty(t, log.scripts())
}

func TestScreenshotWritesFile(t *testing.T) {
	dir := t.TempDir()
	ex, srv, _ := newTestExecutor(t, nil, WithScreenshotDir(dir))
	srv.Handle("Page.captureScreenshot", func(json.RawMessage) (any, error) {
		return map[string]string{"data": base64.StdEncoding.EncodeToString([]byte("png-bytes"))}, nil
	})

	res, err := ex.Perform(context.Background(), Action{Name: Screenshot, Args: map[string]any{"full": true}})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(res.Path))
	assert.True(t, strings.HasSuffix(res.Path, ".png"))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	var p struct {
		Format                string `json:"format"`
		CaptureBeyondViewport bool   `json:"captureBeyondViewport"`
	}
	require.NoError(t, json.Unmarshal(srv.Calls("Page.captureScreenshot")[0].Params, &p))
	assert.Equal(t, "png", p.Format)
	assert.True(t, p.CaptureBeyondViewport)
}

func TestBackWithoutHistory(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, nil)
	srv.Handle("Page.getNavigationHistory", func(json.RawMessage) (any, error) {
		return map[string]any{"currentIndex": 0, "entries": []map[string]any{{"id": 1, "url": pageURL}}}, nil
	})

	err := ex.Back(context.Background())
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "no previous page", ae.Msg)
	assert.Empty(t, srv.Calls("Page.navigateToHistoryEntry"))
}

func TestBackNavigatesToPreviousEntry(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, func(expr string) (any, error) {
		return map[string]any{"state": "complete"}, nil
	})
	srv.Handle("Page.getNavigationHistory", func(json.RawMessage) (any, error) {
		return map[string]any{"currentIndex": 1, "entries": []map[string]any{{"id": 11, "url": "a"}, {"id": 12, "url": "b"}}}, nil
	})
	srv.Handle("Page.navigateToHistoryEntry", func(json.RawMessage) (any, error) { return nil, nil })

	require.NoError(t, ex.Back(context.Background()))
	calls := srv.Calls("Page.navigateToHistoryEntry")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"entryId":11}`, string(calls[0].Params))
}

func TestDialogWithoutDialog(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, nil)
	srv.Handle("Page.handleJavaScriptDialog", func(json.RawMessage) (any, error) {
		return nil, &cdptest.Error{Code: -32602, Message: "No dialog is showing"}
	})

	err := ex.HandleDialog(context.Background(), DialogOptions{})
	assert.Equal(t, NotFound, KindOf(err))
}

func TestPerformTimeout(t *testing.T) {
	ex, _, _ := newTestExecutor(t, func(expr string) (any, error) {
		if strings.Contains(expr, "querySelectorAll") {
			return nil, cdptest.ErrNoReply
		}
		return nil, nil
	})

	_, err := ex.Perform(context.Background(), Action{Name: Click, Target: CSS{Pattern: "#slow"}, Timeout: 100 * time.Millisecond})
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Timeout, ae.Kind)
	assert.Equal(t, pageURL, ae.URL)
}

func TestPerformSelectDecodesArgs(t *testing.T) {
	ex, _, log := newTestExecutor(t, outcomeFor(`querySelectorAll("#country")`,
		map[string]any{"ok": true, "tag": "select", "value": "de"}))

	res, err := ex.Perform(context.Background(), Action{
		Name:   Select,
		Target: CSS{Pattern: "#country"},
		Value:  "Germany",
		Args:   map[string]any{"by_label": "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, "de", res.Value)
	assert.Contains(t, log.scripts()[0], "if (false) {")
	assert.Contains(t, log.scripts()[0], "} else if (true) {")
}

func TestPerformRejectsInvalidAction(t *testing.T) {
	ex, srv, log := newTestExecutor(t, nil)

	_, err := ex.Perform(context.Background(), Action{Name: Click})
	assert.Equal(t, Failed, KindOf(err))
	assert.Empty(t, log.scripts())
	assert.Empty(t, srv.Calls("Input.dispatchMouseEvent"))
}

func TestWaitStable(t *testing.T) {
	snaps := []string{"1:a", "2:b", "2:b", "2:b"}
	var n atomic.Int32
	ex, _, _ := newTestExecutor(t, func(expr string) (any, error) {
		i := int(n.Add(1)) - 1
		if i >= len(snaps) {
			i = len(snaps) - 1
		}
		return snaps[i], nil
	})

	stable, err := ex.WaitStable(context.Background(), 3, 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.True(t, stable)
	assert.Equal(t, int32(4), n.Load())
}

func TestWaitStableGivesUp(t *testing.T) {
	var n atomic.Int32
	ex, _, _ := newTestExecutor(t, func(string) (any, error) {
		return string(rune('a' + n.Add(1)%26)), nil
	})

	stable, err := ex.WaitStable(context.Background(), 3, 5*time.Millisecond, 80*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, stable)
}

func TestConsoleCollectsEntries(t *testing.T) {
	ex, srv, _ := newTestExecutor(t, nil)

	type result struct {
		entries []ConsoleEntry
		err     error
	}
	done := make(chan result, 1)
	go func() {
		entries, err := ex.Console(context.Background(), 300*time.Millisecond)
		done <- result{entries, err}
	}()

	require.Eventually(t, func() bool {
		return len(srv.Calls("Runtime.enable")) == 1 && len(srv.Calls("Log.enable")) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Emit("Runtime.consoleAPICalled", map[string]any{
		"type":      "log",
		"args":      []map[string]any{{"type": "string", "value": "hello"}, {"type": "number", "value": 42}},
		"timestamp": 1000,
	}))
	require.NoError(t, srv.Emit("Log.entryAdded", map[string]any{
		"entry": map[string]any{"source": "network", "level": "error", "text": "404", "url": pageURL, "timestamp": 2000},
	}))
	require.NoError(t, srv.Emit("Runtime.exceptionThrown", map[string]any{
		"timestamp":        3000,
		"exceptionDetails": map[string]any{"text": "Uncaught", "exception": map[string]any{"type": "object", "description": "TypeError: x is undefined"}},
	}))

	r := <-done
	require.NoError(t, r.err)
	require.Len(t, r.entries, 3)
	assert.Equal(t, "hello 42", r.entries[0].Text)
	assert.Equal(t, "console", r.entries[0].Source)
	assert.Equal(t, "network", r.entries[1].Source)
	assert.Equal(t, "TypeError: x is undefined", r.entries[2].Text)
	assert.Equal(t, "error", r.entries[2].Level)

	require.Eventually(t, func() bool {
		return len(srv.Calls("Runtime.disable")) == 1 && len(srv.Calls("Log.disable")) == 1
	}, time.Second, 5*time.Millisecond)
}
