package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/cdp/cdptest"
)

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Selector string `json:"selector"`
	} `json:"error"`
}

type result struct {
	code           int
	stdout, stderr string
}

func (r result) envelope(t *testing.T) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &env), r.stdout)
	return env
}

// cli runs one invocation against an isolated data directory. Endpoint
// flags point at an unused port unless the test passes its own.
func cli(t *testing.T, args ...string) result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var out, errOut bytes.Buffer
	code := run(ctx, SetupRootCmd(), args, &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("DOMGUARD_DATA_DIR", t.TempDir())
	t.Setenv("DOMGUARD_HOST", "127.0.0.1")
	t.Setenv("DOMGUARD_PORT", "1")
}

// fakeBrowser points the endpoint env at a fake debug endpoint whose page
// has one clickable "#buy" button.
func fakeBrowser(t *testing.T) *cdptest.Server {
	t.Helper()
	srv := cdptest.New(t)
	srv.HandleEval(func(expr string) (any, error) {
		switch {
		case expr == `window.location.href`:
			return "https://shop.example.com/", nil
		case expr == "6 * 7":
			return 42, nil
		case strings.Contains(expr, "#buy"):
			return map[string]any{"ok": true, "x": 40, "y": 20, "visible": true}, nil
		}
		return map[string]any{"ok": false, "reason": "not_found"}, nil
	})
	srv.Handle("Input.dispatchMouseEvent", func(json.RawMessage) (any, error) { return nil, nil })

	u, err := url.Parse(srv.URL())
	require.NoError(t, err)
	t.Setenv("DOMGUARD_HOST", u.Hostname())
	t.Setenv("DOMGUARD_PORT", u.Port())
	return srv
}

func TestVerbsAvailableUnderInteractAndTopLevel(t *testing.T) {
	root := SetupRootCmd()
	for _, verb := range []string{"navigate", "click", "type", "wait", "drag", "mouse-move", "pdf"} {
		top, _, err := root.Find([]string{verb})
		require.NoError(t, err, verb)
		nested, _, err := root.Find([]string{"interact", verb})
		require.NoError(t, err, verb)
		assert.Equal(t, verb, top.Name())
		assert.NotSame(t, top, nested)
	}
}

func TestCorrectionAnalyzeNeedsNoBrowser(t *testing.T) {
	isolate(t)
	r := cli(t, "correction", "analyze", "--json", "reCAPTCHA", "challenge", "shown")
	require.Equal(t, 0, r.code, r.stderr)

	env := r.envelope(t)
	require.True(t, env.OK)
	var a struct {
		Kind     string   `json:"kind"`
		Plan     []string `json:"plan"`
		Escalate bool     `json:"escalate"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, "captcha", a.Kind)
	assert.True(t, a.Escalate)
	assert.Empty(t, a.Plan)

	r = cli(t, "correction", "analyze", "element", "not", "found")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Kind: not_found")
	assert.Contains(t, r.stdout, "1. wait_stable\n  2. retry\n  3. alternative_selector")
	assert.NotContains(t, r.stdout, "scroll_into_view")

	r = cli(t, "correction", "analyze", "element", "is", "not", "visible")
	assert.Contains(t, r.stdout, "1. scroll_into_view")
}

func TestSessionLifecycleOffline(t *testing.T) {
	isolate(t)

	r := cli(t, "session", "start", "--name", "checkout")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Recording session ")

	r = cli(t, "session", "start")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Error: ")

	require.Equal(t, 0, cli(t, "session", "pause").code)
	r = cli(t, "session", "status", "--json")
	assert.Contains(t, string(r.envelope(t).Data), `"state": "paused"`)
	require.Equal(t, 0, cli(t, "session", "resume").code)

	r = cli(t, "session", "stop")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "(completed): 0 actions")

	r = cli(t, "session", "list", "--json")
	var list []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(r.envelope(t).Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "checkout", list[0].Name)

	r = cli(t, "session", "export", list[0].ID)
	assert.Contains(t, r.stdout, `"status": "completed"`)

	require.Equal(t, 0, cli(t, "session", "delete", list[0].ID).code)
	r = cli(t, "session", "show", list[0].ID, "--json")
	assert.Equal(t, 1, r.code)
	assert.Equal(t, "SESSION_NOT_FOUND", r.envelope(t).Error.Code)
}

func TestErrorEnvelope(t *testing.T) {
	isolate(t)
	r := cli(t, "session", "stop", "--json")
	assert.Equal(t, 1, r.code)
	env := r.envelope(t)
	assert.False(t, env.OK)
	assert.Equal(t, "NOT_RECORDING", env.Error.Code)
	assert.Empty(t, r.stderr)

	r = cli(t, "click", "#buy", "--json")
	assert.Equal(t, 1, r.code)
	assert.Equal(t, "CONNECTION_REFUSED", r.envelope(t).Error.Code)

	r = cli(t, "status", "--host", "10.0.0.9", "--json")
	assert.Equal(t, "REMOTE_NOT_ALLOWED", r.envelope(t).Error.Code)
}

func TestWorkflowCreateAndDryRun(t *testing.T) {
	isolate(t)

	r := cli(t, "workflow", "create", "Open shop", "--json")
	require.Equal(t, 0, r.code, r.stderr)
	var wf struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(r.envelope(t).Data, &wf))

	r = cli(t, "workflow", "run", "open shop", "--dry-run", "-p", "url=https://shop.example.com")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Dry run:")
	assert.Contains(t, r.stdout, "https://shop.example.com")

	r = cli(t, "workflow", "run", wf.ID, "--dry-run", "--json")
	assert.Equal(t, "MISSING_PARAMETER", r.envelope(t).Error.Code)

	r = cli(t, "workflow", "runs", wf.ID, "--json")
	require.Equal(t, 0, r.code, r.stderr)
	assert.JSONEq(t, "null", string(r.envelope(t).Data))

	r = cli(t, "workflow", "show", wf.ID)
	assert.Contains(t, r.stdout, "{{url}}")

	require.Equal(t, 0, cli(t, "workflow", "delete", wf.ID).code)
	r = cli(t, "workflow", "show", wf.ID, "--json")
	assert.Equal(t, "WORKFLOW_NOT_FOUND", r.envelope(t).Error.Code)
}

func TestInteractionsAgainstFakeBrowser(t *testing.T) {
	isolate(t)
	srv := fakeBrowser(t)

	r := cli(t, "status", "--json")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, string(r.envelope(t).Data), `"reachable": true`)

	r = cli(t, "click", "#buy")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "OK click \"#buy\"\n", r.stdout)
	assert.Len(t, srv.Calls("Input.dispatchMouseEvent"), 3)

	r = cli(t, "debug", "eval", "6 * 7")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "42\n", r.stdout)

	r = cli(t, "click", "#gone", "--json", "--no-correction")
	assert.Equal(t, "ELEMENT_NOT_FOUND", r.envelope(t).Error.Code)
	assert.Equal(t, "#gone", r.envelope(t).Error.Selector)
}

func TestTakeoverBlocksInteractions(t *testing.T) {
	isolate(t)
	fakeBrowser(t)

	r := cli(t, "takeover", "request", "captcha", "--url", "https://shop.example.com/")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "pending (captcha)")

	r = cli(t, "takeover", "request", "auth")
	assert.Equal(t, 1, r.code)

	r = cli(t, "click", "#buy", "--json")
	assert.Equal(t, "TAKEOVER_PENDING", r.envelope(t).Error.Code)

	require.Equal(t, 0, cli(t, "takeover", "accept").code)
	r = cli(t, "takeover", "done", "--notes", "solved by hand", "--json")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, string(r.envelope(t).Data), `"resolution": "success"`)

	r = cli(t, "takeover", "status")
	assert.Equal(t, "No takeover in progress.\n", r.stdout)

	r = cli(t, "takeover", "history", "--json")
	var hist []struct {
		Reason string `json:"reason"`
		Notes  string `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(r.envelope(t).Data, &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, "solved by hand", hist[0].Notes)

	require.Equal(t, 0, cli(t, "click", "#buy").code)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"user=ada", "query=a=b", "empty="})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"user": "ada", "query": "a=b", "empty": ""}, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseParams([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestTarget(t *testing.T) {
	sel, err := target(nil, "", "10,20", 0)
	require.NoError(t, err)
	assert.Equal(t, action.Coordinates{X: 10, Y: 20}, sel)

	sel, err = target(nil, "Buy now", "", 1)
	require.NoError(t, err)
	assert.Equal(t, action.Text{Needle: "Buy now", Nth: 1}, sel)

	sel, err = target([]string{"li.item >> nth=-1"}, "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, action.CSS{Pattern: "li.item", Nth: -1}, sel)

	_, err = target(nil, "", "", 0)
	assert.Error(t, err)
}

func TestWaitFlags(t *testing.T) {
	a, err := waitFlags{}.action([]string{"#spinner"})
	require.NoError(t, err)
	assert.Equal(t, "present", a.Args["mode"])

	a, err = waitFlags{gone: true}.action([]string{"#spinner"})
	require.NoError(t, err)
	assert.Equal(t, "gone", a.Args["mode"])

	a, err = waitFlags{text: "Order placed"}.action(nil)
	require.NoError(t, err)
	assert.Nil(t, a.Target)
	assert.Equal(t, "Order placed", a.Args["text"])

	_, err = waitFlags{}.action(nil)
	assert.Error(t, err)
}

func TestScrollFlags(t *testing.T) {
	a, err := scrollFlags{}.action()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dx": 0.0, "dy": 500.0}, a.Args)

	a, err = scrollFlags{up: 200, right: 50}.action()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dx": 50.0, "dy": -200.0}, a.Args)

	a, err = scrollFlags{to: "text:Reviews"}.action()
	require.NoError(t, err)
	assert.Equal(t, action.Text{Needle: "Reviews"}, a.Target)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com", normalizeURL("example.com"))
	assert.Equal(t, "http://localhost:3000", normalizeURL("http://localhost:3000"))
	assert.Equal(t, "about:blank", normalizeURL("about:blank"))
}
