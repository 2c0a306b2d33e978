package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/takeover"
	"github.com/neboloop/domguard/internal/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.WorkflowRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestTakeoverHistoryNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"takeover-a", "takeover-b"} {
		accepted := base.Add(time.Duration(i)*time.Hour + time.Minute)
		ended := accepted.Add(time.Minute)
		require.NoError(t, s.AppendTakeover(ctx, &takeover.Request{
			ID:         id,
			Reason:     takeover.ReasonCaptcha,
			Message:    "solve it",
			URL:        "https://example.com/login",
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			AcceptedAt: &accepted,
			EndedAt:    &ended,
			Status:     takeover.StatusDone,
			Resolution: takeover.Success,
			Notes:      "ok",
		}))
	}
	require.NoError(t, s.AppendTakeover(ctx, &takeover.Request{
		ID:        "takeover-c",
		Reason:    takeover.ReasonAuth,
		CreatedAt: base.Add(30 * time.Minute),
		Status:    takeover.StatusCancelled,
	}))

	all, err := s.TakeoverHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "takeover-b", all[0].ID)
	assert.Equal(t, "takeover-c", all[1].ID)
	assert.Equal(t, "takeover-a", all[2].ID)

	assert.Nil(t, all[1].AcceptedAt)
	require.NotNil(t, all[0].EndedAt)
	assert.True(t, all[0].EndedAt.Equal(base.Add(time.Hour+2*time.Minute)))
	assert.Equal(t, takeover.Success, all[0].Resolution)

	limited, err := s.TakeoverHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAppendTakeoverDuplicateID(t *testing.T) {
	s := openTestStore(t)
	r := &takeover.Request{ID: "takeover-x", Reason: takeover.ReasonUser, Status: takeover.StatusCancelled, CreatedAt: time.Now()}
	require.NoError(t, s.AppendTakeover(context.Background(), r))
	assert.Error(t, s.AppendTakeover(context.Background(), r))
}

func TestRecordWorkflowRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := &workflow.Workflow{ID: "workflow-1", Name: "login"}
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := &workflow.Result{
		RunID: "run-1", WorkflowID: w.ID, Success: true, StartedAt: start, DurationMs: 1200,
		Steps: []workflow.StepResult{{Index: 0, Name: "open", Status: workflow.StepSuccess}},
	}
	second := &workflow.Result{
		RunID: "run-2", WorkflowID: w.ID, StartedAt: start.Add(time.Hour), Error: "step 1 failed",
		Steps: []workflow.StepResult{
			{Index: 0, Name: "open", Status: workflow.StepSuccess},
			{Index: 1, Name: "submit", Status: workflow.StepFailed},
			{Index: 2, Name: "check", Status: workflow.StepSkipped},
		},
	}
	var log workflow.RunLog = s.RecordWorkflowRun
	require.NoError(t, log(ctx, w, first))
	require.NoError(t, log(ctx, w, second))
	require.NoError(t, s.RecordWorkflowRun(ctx, &workflow.Workflow{ID: "workflow-2"}, &workflow.Result{RunID: "run-3", StartedAt: start}))

	runs, err := s.WorkflowRuns(ctx, w.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.False(t, runs[0].Success)
	assert.Equal(t, 3, runs[0].StepsTotal)
	assert.Equal(t, 1, runs[0].StepsFailed)
	assert.Equal(t, 1, runs[0].StepsSkipped)
	require.NotNil(t, runs[0].Result)
	assert.Equal(t, "submit", runs[0].Result.Steps[1].Name)

	all, err := s.WorkflowRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	last, err := s.LastRun(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-2", last.RunID)

	_, err = s.LastRun(ctx, "workflow-none")
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestStoreServesTakeoverController(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := takeover.New(t.TempDir(), s)

	_, err := c.Request(ctx, takeover.Request{Reason: takeover.ReasonCaptcha})
	require.NoError(t, err)
	_, err = c.Accept(ctx)
	require.NoError(t, err)
	done, err := c.Done(ctx, true, "solved")
	require.NoError(t, err)

	hist, err := c.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, done.ID, hist[0].ID)
	assert.Equal(t, "solved", hist[0].Notes)
}
