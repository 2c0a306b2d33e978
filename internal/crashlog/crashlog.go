// Package crashlog persists panics and background errors that would
// otherwise only reach stderr. The engine points it at the history
// database for the lifetime of an invocation.
package crashlog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Levels of an Entry.
const (
	LevelPanic = "panic"
	LevelError = "error"
	LevelWarn  = "warn"
)

// Entry is one persisted record.
type Entry struct {
	ID         int64             `json:"id,omitempty"`
	Level      string            `json:"level"`
	Module     string            `json:"module"`
	Message    string            `json:"message"`
	Stacktrace string            `json:"stacktrace,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Sink stores entries.
type Sink interface {
	InsertErrorLog(ctx context.Context, e Entry) error
}

var (
	sink   Sink
	sinkMu sync.Mutex
)

// Init sets the global sink. nil detaches it; later calls only log.
func Init(s Sink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = s
}

// LogPanic records a recovered panic with the stack of the calling
// goroutine. Safe to call before Init.
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := make([]byte, 8192)
	stack = stack[:runtime.Stack(stack, false)]

	slog.Error("panic", "module", module, "panic", msg)
	insert(Entry{Level: LevelPanic, Module: module, Message: msg, Stacktrace: string(stack), Context: ctx})
}

// LogError records err. A nil err is ignored.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	slog.Debug("recorded error", "module", module, "error", err)
	insert(Entry{Level: LevelError, Module: module, Message: err.Error(), Context: ctx})
}

// LogWarn records a warning.
func LogWarn(module, msg string, ctx map[string]string) {
	slog.Debug("recorded warning", "module", module, "message", msg)
	insert(Entry{Level: LevelWarn, Module: module, Message: msg, Context: ctx})
}

func insert(e Entry) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sink == nil {
		return
	}
	e.CreatedAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.InsertErrorLog(ctx, e); err != nil {
		slog.Warn("failed to persist error log", "module", e.Module, "error", err)
	}
}
