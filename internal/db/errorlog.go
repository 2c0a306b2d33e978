package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neboloop/domguard/internal/crashlog"
)

// InsertErrorLog stores a crash log entry. It makes Store a crashlog.Sink.
func (s *Store) InsertErrorLog(ctx context.Context, e crashlog.Entry) error {
	ctxJSON := "{}"
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return err
		}
		ctxJSON = string(b)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_logs (level, module, message, stacktrace, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Level, e.Module, e.Message, e.Stacktrace, ctxJSON, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

// ErrorLogs returns logged entries, most recent first.
func (s *Store) ErrorLogs(ctx context.Context, limit int) ([]crashlog.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, module, message, stacktrace, context, created_at
		FROM error_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query error logs: %w", err)
	}
	defer rows.Close()

	var out []crashlog.Entry
	for rows.Next() {
		var (
			e       crashlog.Entry
			raw     string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Level, &e.Module, &e.Message, &e.Stacktrace, &raw, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(raw), &e.Context)
		if len(e.Context) == 0 {
			e.Context = nil
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
