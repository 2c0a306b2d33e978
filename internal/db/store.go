package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neboloop/domguard/internal/takeover"
	"github.com/neboloop/domguard/internal/workflow"
)

// Store is the history database: finished takeovers and workflow runs.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendTakeover records a finished takeover request.
func (s *Store) AppendTakeover(ctx context.Context, r *takeover.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO takeover_history
			(id, reason, message, instructions, expected_outcome, url, status, resolution, notes, created_at, accepted_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Reason), r.Message, r.Instructions, r.ExpectedOutcome, r.URL,
		string(r.Status), string(r.Resolution), r.Notes,
		r.CreatedAt.UnixMilli(), nullMillis(r.AcceptedAt), nullMillis(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("append takeover %s: %w", r.ID, err)
	}
	return nil
}

// TakeoverHistory returns finished requests, most recent first. limit <= 0
// returns all of them.
func (s *Store) TakeoverHistory(ctx context.Context, limit int) ([]takeover.Request, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reason, message, instructions, expected_outcome, url, status, resolution, notes, created_at, accepted_at, ended_at
		FROM takeover_history
		ORDER BY COALESCE(ended_at, created_at) DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query takeover history: %w", err)
	}
	defer rows.Close()

	var out []takeover.Request
	for rows.Next() {
		var (
			r                   takeover.Request
			reason, status, res string
			created             int64
			accepted, ended     sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &reason, &r.Message, &r.Instructions, &r.ExpectedOutcome, &r.URL,
			&status, &res, &r.Notes, &created, &accepted, &ended); err != nil {
			return nil, err
		}
		r.Reason = takeover.Reason(reason)
		r.Status = takeover.Status(status)
		r.Resolution = takeover.Resolution(res)
		r.CreatedAt = time.UnixMilli(created)
		r.AcceptedAt = fromNullMillis(accepted)
		r.EndedAt = fromNullMillis(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

// WorkflowRun is one row of workflow_runs.
type WorkflowRun struct {
	RunID        string           `json:"run_id"`
	WorkflowID   string           `json:"workflow_id"`
	WorkflowName string           `json:"workflow_name"`
	DryRun       bool             `json:"dry_run"`
	Success      bool             `json:"success"`
	StartedAt    time.Time        `json:"started_at"`
	DurationMs   int64            `json:"duration_ms"`
	StepsTotal   int              `json:"steps_total"`
	StepsFailed  int              `json:"steps_failed"`
	StepsSkipped int              `json:"steps_skipped"`
	Error        string           `json:"error,omitempty"`
	Result       *workflow.Result `json:"result,omitempty"`
}

// RecordWorkflowRun stores a finished run. Its signature matches
// workflow.RunLog.
func (s *Store) RecordWorkflowRun(ctx context.Context, w *workflow.Workflow, r *workflow.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs
			(run_id, workflow_id, workflow_name, dry_run, success, started_at, duration_ms, steps_total, steps_failed, steps_skipped, error, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, w.ID, w.Name, r.DryRun, r.Success, r.StartedAt.UnixMilli(), r.DurationMs,
		len(r.Steps), r.Count(workflow.StepFailed), r.Count(workflow.StepSkipped), r.Error, string(data),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// WorkflowRuns returns runs of workflowID (all workflows when empty), most
// recent first.
func (s *Store) WorkflowRuns(ctx context.Context, workflowID string, limit int) ([]WorkflowRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, workflow_id, workflow_name, dry_run, success, started_at, duration_ms,
		       steps_total, steps_failed, steps_skipped, error, result_json
		FROM workflow_runs
		WHERE ? = '' OR workflow_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, workflowID, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("query workflow runs: %w", err)
	}
	defer rows.Close()

	var out []WorkflowRun
	for rows.Next() {
		var (
			run     WorkflowRun
			started int64
			raw     string
		)
		if err := rows.Scan(&run.RunID, &run.WorkflowID, &run.WorkflowName, &run.DryRun, &run.Success,
			&started, &run.DurationMs, &run.StepsTotal, &run.StepsFailed, &run.StepsSkipped, &run.Error, &raw); err != nil {
			return nil, err
		}
		run.StartedAt = time.UnixMilli(started)
		var res workflow.Result
		if err := json.Unmarshal([]byte(raw), &res); err == nil {
			run.Result = &res
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run of workflowID.
func (s *Store) LastRun(ctx context.Context, workflowID string) (*WorkflowRun, error) {
	runs, err := s.WorkflowRuns(ctx, workflowID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[0], nil
}

// ErrNoRuns is returned by LastRun for a workflow that never ran.
var ErrNoRuns = errors.New("workflow has no recorded runs")

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}
