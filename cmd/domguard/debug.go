package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/cdp"
	"github.com/neboloop/domguard/internal/engine"
)

// DebugCmd groups console, tab and eval tooling.
func DebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect the browser: console, tabs, JavaScript",
	}
	cmd.AddCommand(consoleCmd())
	cmd.AddCommand(tabsCmd())
	cmd.AddCommand(evalCmd())
	cmd.AddCommand(errorsCmd())
	return cmd
}

func errorsCmd() *cobra.Command {
	var limit int
	var stack bool
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show panics and background errors recorded in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				logs, err := e.History().ErrorLogs(ctx, limit)
				if err != nil {
					return err
				}
				return render(cmd, logs, func(w io.Writer) {
					if len(logs) == 0 {
						fmt.Fprintln(w, "No errors recorded.")
						return
					}
					for _, l := range logs {
						fmt.Fprintf(w, "%s %-5s %-10s %s\n", l.CreatedAt.Local().Format("2006-01-02 15:04:05"),
							strings.ToUpper(l.Level), l.Module, l.Message)
						if stack && l.Stacktrace != "" {
							fmt.Fprintln(w, l.Stacktrace)
						}
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	cmd.Flags().BoolVar(&stack, "stack", false, "print stack traces of panics")
	return cmd
}

func consoleCmd() *cobra.Command {
	var durationMs int
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Collect console messages and exceptions for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				entries, err := e.Console(ctx, msDuration(durationMs))
				if err != nil {
					return err
				}
				return render(cmd, entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "No console output.")
						return
					}
					for _, en := range entries {
						fmt.Fprintf(w, "%s [%s] %s\n", en.Timestamp.Format("15:04:05.000"), strings.ToUpper(en.Level), en.Text)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&durationMs, "duration", 3000, "how long to listen, in milliseconds")
	return cmd
}

func tabsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List, open, switch and close tabs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				tabs, err := e.Tabs(ctx)
				if err != nil {
					return err
				}
				return render(cmd, tabs, func(w io.Writer) { printTabs(w, tabs) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new [url]",
		Short: "Open a new tab",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := "about:blank"
			if len(args) > 0 {
				u = normalizeURL(args[0])
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				t, err := e.NewTab(ctx, u)
				if err != nil {
					return err
				}
				return render(cmd, t, func(w io.Writer) { fmt.Fprintf(w, "Opened tab %s (%s)\n", t.ID, t.URL) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "switch <id>",
		Short: "Bring a tab to the front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.SwitchTab(ctx, args[0]); err != nil {
					return err
				}
				return render(cmd, map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Switched to tab %s\n", args[0])
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "close <id>",
		Short: "Close a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.CloseTab(ctx, args[0]); err != nil {
					return err
				}
				return render(cmd, map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Closed tab %s\n", args[0])
				})
			})
		},
	})

	return cmd
}

func printTabs(w io.Writer, tabs []cdp.Target) {
	if len(tabs) == 0 {
		fmt.Fprintln(w, "No tabs open.")
		return
	}
	for _, t := range tabs {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "  %s  %s\n      %s\n", t.ID, title, t.URL)
	}
}

func evalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate JavaScript in the page and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				raw, err := e.Eval(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if len(raw) == 0 {
					raw = json.RawMessage("null")
				}
				return render(cmd, raw, func(w io.Writer) { fmt.Fprintln(w, string(raw)) })
			})
		},
	}
}
