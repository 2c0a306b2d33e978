package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/crashlog"
)

func TestErrorLogsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertErrorLog(ctx, crashlog.Entry{
		Level: crashlog.LevelError, Module: "history", Message: "older", CreatedAt: base,
	}))
	require.NoError(t, s.InsertErrorLog(ctx, crashlog.Entry{
		Level: crashlog.LevelPanic, Module: "cli", Message: "newer", Stacktrace: "goroutine 1",
		Context: map[string]string{"command": "domguard click"}, CreatedAt: base.Add(time.Minute),
	}))

	all, err := s.ErrorLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "newer", all[0].Message)
	assert.Equal(t, "goroutine 1", all[0].Stacktrace)
	assert.Equal(t, "domguard click", all[0].Context["command"])
	assert.Equal(t, base.Add(time.Minute), all[0].CreatedAt)
	assert.Nil(t, all[1].Context)

	one, err := s.ErrorLogs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestStoreIsCrashlogSink(t *testing.T) {
	s := openTestStore(t)
	crashlog.Init(s)
	t.Cleanup(func() { crashlog.Init(nil) })

	crashlog.LogError("history", errors.New("constraint failed"), map[string]string{"run": "r1"})

	logs, err := s.ErrorLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, crashlog.LevelError, logs[0].Level)
	assert.Equal(t, "r1", logs[0].Context["run"])
}
