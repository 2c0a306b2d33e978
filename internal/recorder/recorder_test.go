package recorder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r := New(t.TempDir(), WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	return r
}

func ok(cmd string) ActionRecord {
	return ActionRecord{Command: cmd, Status: ActionSuccess, DurationMs: 10}
}

func TestRecordTwoActionsInOrder(t *testing.T) {
	r := newTestRecorder(t)
	s, err := r.Start("login", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, Recording, r.State())

	require.NoError(t, r.Record(ok("navigate")))
	require.NoError(t, r.Record(ActionRecord{Command: "click", Selector: "#go", Status: ActionSuccess}))

	done, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, s.ID, done.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.EndedAt)
	require.Len(t, done.Actions, 2)
	assert.Equal(t, "navigate", done.Actions[0].Command)
	assert.Equal(t, "click", done.Actions[1].Command)
	assert.Equal(t, NotStarted, r.State())

	_, err = os.Stat(filepath.Join(r.Dir(), activeFile))
	assert.ErrorIs(t, err, os.ErrNotExist)

	loaded, err := r.Load(s.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(done, loaded); diff != "" {
		t.Errorf("loaded session mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordingSpansRecorders(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Start("", "")
	require.NoError(t, err)
	require.NoError(t, r.Record(ok("navigate")))

	// A second process sees the same active session.
	other := New(r.Dir())
	require.NoError(t, other.Record(ok("click")))
	s, err := r.Active()
	require.NoError(t, err)
	assert.Len(t, s.Actions, 2)
}

func TestStartWhileRecording(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Start("a", "")
	require.NoError(t, err)
	_, err = r.Start("b", "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	require.NoError(t, r.Pause())
	_, err = r.Start("c", "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestRecordRequiresRecordingState(t *testing.T) {
	r := newTestRecorder(t)
	assert.ErrorIs(t, r.Record(ok("click")), ErrNotRecording)

	_, err := r.Start("", "")
	require.NoError(t, err)
	require.NoError(t, r.Pause())
	assert.Equal(t, Paused, r.State())
	assert.ErrorIs(t, r.Record(ok("click")), ErrNotRecording)
	assert.ErrorIs(t, r.Pause(), ErrNotRecording)

	require.NoError(t, r.Resume())
	assert.ErrorIs(t, r.Resume(), ErrNotPaused)
	require.NoError(t, r.Record(ok("click")))

	s, err := r.Active()
	require.NoError(t, err)
	assert.Len(t, s.Actions, 1)
}

func TestStopWithoutSession(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStopStatus(t *testing.T) {
	failed := ActionRecord{Command: "click", Status: ActionFailed, Error: "no element matches"}
	tests := []struct {
		name    string
		actions []ActionRecord
		want    Status
	}{
		{"empty", nil, StatusCompleted},
		{"all ok", []ActionRecord{ok("navigate"), ok("click")}, StatusCompleted},
		{"recovered", []ActionRecord{failed, ok("click")}, StatusCompleted},
		{"last failed", []ActionRecord{ok("navigate"), failed}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecorder(t)
			_, err := r.Start("", "")
			require.NoError(t, err)
			for _, a := range tt.actions {
				require.NoError(t, r.Record(a))
			}
			s, err := r.Stop()
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Status)
		})
	}
}

func TestFailRecordsReason(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Start("", "")
	require.NoError(t, err)
	require.NoError(t, r.Record(ok("navigate")))

	s, err := r.Fail("browser crashed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "browser crashed", s.Metadata.FailureReason)
}

func TestListNewestFirst(t *testing.T) {
	r := newTestRecorder(t)
	for _, name := range []string{"first", "second"} {
		_, err := r.Start(name, "")
		require.NoError(t, err)
		require.NoError(t, r.Record(ok("navigate")))
		_, err = r.Stop()
		require.NoError(t, err)
	}
	_, err := r.Start("in progress", "")
	require.NoError(t, err)

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)
	assert.Equal(t, "first", list[1].Name)
	assert.Equal(t, 1, list[0].TotalActions)
	assert.Equal(t, 1.0, list[0].SuccessRate)
}

func TestLoadDeleteExport(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Load("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Load("../etc")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := r.Start("x", "")
	require.NoError(t, err)
	_, err = r.Stop()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Export(s.ID, &buf))
	var exported Session
	require.NoError(t, json.Unmarshal(buf.Bytes(), &exported))
	assert.Equal(t, s.ID, exported.ID)

	require.NoError(t, r.Delete(s.ID))
	assert.ErrorIs(t, r.Delete(s.ID), ErrSessionNotFound)
}

func TestSummary(t *testing.T) {
	s := &Session{
		ID: "x",
		Actions: []ActionRecord{
			{Command: "click", Status: ActionSuccess, DurationMs: 100},
			{Command: "click", Status: ActionFailed, DurationMs: 50},
			{Command: "type", Status: ActionSuccess, DurationMs: 30},
			{Command: "navigate", Status: ActionSuccess, DurationMs: 20},
		},
	}
	sum := s.Summary()
	assert.Equal(t, 4, sum.TotalActions)
	assert.Equal(t, 3, sum.SuccessfulActions)
	assert.Equal(t, 1, sum.FailedActions)
	assert.Equal(t, int64(200), sum.TotalDurationMs)
	assert.Equal(t, 0.75, sum.SuccessRate)
	assert.Equal(t, map[string]int{"click": 2, "type": 1, "navigate": 1}, sum.ActionCounts)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSessionRoundTripsThroughFileShape(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(time.Minute)
	s := &Session{
		ID:         "0b8f3c2e",
		Name:       "checkout",
		StartedAt:  started,
		EndedAt:    &ended,
		InitialURL: "https://shop.example.com",
		Status:     StatusFailed,
		Metadata: Metadata{
			Description:    "guest checkout",
			Tags:           []string{"shop", "smoke"},
			BrowserVersion: "Chrome/126.0",
			Viewport:       []int{1280, 720},
			FailureReason:  "payment declined",
		},
		Actions: []ActionRecord{
			{
				Timestamp:     started.Add(time.Second),
				DurationMs:    120,
				Command:       "click",
				Args:          map[string]any{"nth": 2.0, "value": "Buy", "force": true},
				Status:        ActionFailed,
				Error:         "element not found",
				Selector:      "#buy",
				PageURL:       "https://shop.example.com/cart",
				ScreenshotRef: "/tmp/buy.png",
			},
		},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Session
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(s, &back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.ElementsMatch(t, []string{"id", "name", "started_at", "ended_at", "status", "initial_url", "metadata", "actions"}, keys(raw))
	meta := raw["metadata"].(map[string]any)
	assert.ElementsMatch(t, []string{"description", "tags", "browser_version", "viewport", "failure_reason"}, keys(meta))
	act := raw["actions"].([]any)[0].(map[string]any)
	assert.ElementsMatch(t, []string{"timestamp", "duration_ms", "command", "args", "status", "error", "selector", "page_url", "screenshot"}, keys(act))
}

func TestSessionFileShapeOptionalFields(t *testing.T) {
	doc := `{
		"id": "s1",
		"started_at": "2026-03-01T12:00:00Z",
		"status": "completed",
		"metadata": {"tags": []},
		"actions": [{
			"timestamp": "2026-03-01T12:00:01Z",
			"duration_ms": 40,
			"command": "screenshot",
			"args": {},
			"status": "success",
			"screenshot": "/tmp/a.png"
		}]
	}`
	var s Session
	require.NoError(t, json.Unmarshal([]byte(doc), &s))
	require.Len(t, s.Actions, 1)
	assert.Equal(t, "/tmp/a.png", s.Actions[0].ScreenshotRef)

	data, err := json.Marshal(&s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"screenshot":"/tmp/a.png"`)

	s.Metadata.Tags = nil
	data, err = json.Marshal(&s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tags":[]`)
	assert.NotContains(t, string(data), `"name"`)
	assert.NotContains(t, string(data), `"ended_at"`)
}
