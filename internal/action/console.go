package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neboloop/domguard/internal/cdp"
)

// ConsoleEntry is one console message, log entry or uncaught exception.
type ConsoleEntry struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type remoteArg struct {
	Type        string `json:"type"`
	Value       any    `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

type consoleAPICalled struct {
	Type      string      `json:"type"`
	Args      []remoteArg `json:"args"`
	Timestamp float64     `json:"timestamp"`
}

type exceptionThrown struct {
	Timestamp        float64 `json:"timestamp"`
	ExceptionDetails struct {
		Text      string     `json:"text"`
		URL       string     `json:"url"`
		Exception *remoteArg `json:"exception,omitempty"`
	} `json:"exceptionDetails"`
}

type logEntryAdded struct {
	Entry struct {
		Source    string  `json:"source"`
		Level     string  `json:"level"`
		Text      string  `json:"text"`
		URL       string  `json:"url"`
		Timestamp float64 `json:"timestamp"`
	} `json:"entry"`
}

// Console collects console output for d. Runtime and Log are enabled for
// the duration and disabled again when the last stream closes.
func (e *Executor) Console(ctx context.Context, d time.Duration) ([]ConsoleEntry, error) {
	rt, err := e.page.Subscribe(ctx, "Runtime")
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	defer rt.Close()
	lg, err := e.page.Subscribe(ctx, "Log")
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	defer lg.Close()

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var (
		mu      sync.Mutex
		entries []ConsoleEntry
	)
	add := func(ce ConsoleEntry) {
		mu.Lock()
		entries = append(entries, ce)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range []*cdp.Stream{rt, lg} {
		g.Go(func() error {
			for {
				ev, err := st.Next(gctx)
				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				if ce, ok := consoleEntry(ev); ok {
					add(ce)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return entries, fmt.Errorf("console: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}

func consoleEntry(ev cdp.Event) (ConsoleEntry, bool) {
	switch ev.Method {
	case "Runtime.consoleAPICalled":
		var p consoleAPICalled
		if ev.Decode(&p) != nil {
			return ConsoleEntry{}, false
		}
		parts := make([]string, 0, len(p.Args))
		for _, a := range p.Args {
			parts = append(parts, a.String())
		}
		return ConsoleEntry{
			Level:     p.Type,
			Text:      strings.Join(parts, " "),
			Source:    "console",
			Timestamp: epochMillis(p.Timestamp),
		}, true
	case "Runtime.exceptionThrown":
		var p exceptionThrown
		if ev.Decode(&p) != nil {
			return ConsoleEntry{}, false
		}
		text := p.ExceptionDetails.Text
		if ex := p.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			text = ex.Description
		}
		return ConsoleEntry{
			Level:     "error",
			Text:      text,
			Source:    "exception",
			URL:       p.ExceptionDetails.URL,
			Timestamp: epochMillis(p.Timestamp),
		}, true
	case "Log.entryAdded":
		var p logEntryAdded
		if ev.Decode(&p) != nil {
			return ConsoleEntry{}, false
		}
		return ConsoleEntry{
			Level:     p.Entry.Level,
			Text:      p.Entry.Text,
			Source:    p.Entry.Source,
			URL:       p.Entry.URL,
			Timestamp: epochMillis(p.Entry.Timestamp),
		}, true
	}
	return ConsoleEntry{}, false
}

func (a remoteArg) String() string {
	switch v := a.Value.(type) {
	case nil:
		if a.Description != "" {
			return a.Description
		}
		return a.Type
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func epochMillis(ms float64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
