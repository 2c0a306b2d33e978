package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var disabled atomic.Bool

// Setup installs the process-wide slog handler on stderr. The CLI is quiet
// by default: only warnings and errors unless verbose.
func Setup(verbose, jsonOutput bool) *slog.Logger {
	return SetupWriter(os.Stderr, verbose, jsonOutput)
}

// SetupWriter is Setup with an explicit writer.
func SetupWriter(w io.Writer, verbose, jsonOutput bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if jsonOutput {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Disable turns off the package-level helpers.
func Disable() {
	disabled.Store(true)
}

// Enable turns the package-level helpers back on.
func Enable() {
	disabled.Store(false)
}

// Info logs an info message
func Info(v ...any) {
	if !disabled.Load() {
		slog.Info(fmt.Sprint(v...))
	}
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled.Load() {
		slog.Info(fmt.Sprintf(format, v...))
	}
}

// Warn logs a warning message
func Warn(v ...any) {
	if !disabled.Load() {
		slog.Warn(fmt.Sprint(v...))
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		slog.Warn(fmt.Sprintf(format, v...))
	}
}

// Error logs an error message
func Error(v ...any) {
	if !disabled.Load() {
		slog.Error(fmt.Sprint(v...))
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		slog.Error(fmt.Sprintf(format, v...))
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if !disabled.Load() {
		slog.Debug(fmt.Sprintf(format, v...))
	}
}
