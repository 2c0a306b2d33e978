package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/engine"
	"github.com/neboloop/domguard/internal/takeover"
)

// TakeoverCmd hands control to a human and back.
func TakeoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "takeover",
		Short: "Pause automation for a human and resume afterwards",
		Long: `A takeover request blocks every interaction and workflow step until it is
resolved with 'done' or 'cancel'. Reasons: captcha, auth, 2fa, sensitive,
payment, error, uncertain, complex, user; anything else is a custom reason.`,
	}

	var message, instructions, expected, pageURL string
	request := &cobra.Command{
		Use:   "request <reason>",
		Short: "Ask a human to take over",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			reason, known := takeover.ParseReason(text)
			if !known && message == "" {
				message = text
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				u := pageURL
				if u == "" {
					u = currentURL(ctx, e)
				}
				r, err := e.Takeover().Request(ctx, takeover.Request{
					Reason:          reason,
					Message:         message,
					Instructions:    instructions,
					ExpectedOutcome: expected,
					URL:             u,
				})
				if err != nil {
					return err
				}
				return render(cmd, r, func(w io.Writer) { printTakeover(w, r) })
			})
		},
	}
	request.Flags().StringVar(&message, "message", "", "what the human should know")
	request.Flags().StringVar(&instructions, "instructions", "", "what the human should do")
	request.Flags().StringVar(&expected, "expected", "", "the expected outcome")
	request.Flags().StringVar(&pageURL, "url", "", "page URL (default: read from the browser)")
	cmd.AddCommand(request)

	cmd.AddCommand(takeoverStep("accept", "Take control of a pending request",
		func(ctx context.Context, c *takeover.Controller) (*takeover.Request, error) { return c.Accept(ctx) }))

	var failed bool
	var notes string
	done := takeoverStep("done", "Hand control back to automation",
		func(ctx context.Context, c *takeover.Controller) (*takeover.Request, error) {
			return c.Done(ctx, !failed, notes)
		})
	done.Flags().BoolVar(&failed, "failed", false, "the human could not complete the task")
	done.Flags().StringVar(&notes, "notes", "", "notes for the history")
	cmd.AddCommand(done)

	cmd.AddCommand(takeoverStep("cancel", "Withdraw the open request",
		func(ctx context.Context, c *takeover.Controller) (*takeover.Request, error) { return c.Cancel(ctx) }))

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the open request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
				r, err := e.Takeover().Status()
				if err != nil {
					return err
				}
				return render(cmd, r, func(w io.Writer) {
					if r == nil {
						fmt.Fprintln(w, "No takeover in progress.")
						return
					}
					printTakeover(w, r)
				})
			})
		},
	})

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List resolved requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				list, err := e.Takeover().History(ctx, limit)
				if err != nil {
					return err
				}
				return render(cmd, list, func(w io.Writer) { printTakeoverHistory(w, list) })
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "maximum number of entries (0 for all)")
	cmd.AddCommand(history)

	var maxWait time.Duration
	wait := &cobra.Command{
		Use:   "wait",
		Short: "Block until the open request is resolved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if maxWait > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, maxWait)
					defer cancel()
				}
				r, err := e.Takeover().Wait(ctx)
				if err != nil {
					return err
				}
				return render(cmd, r, func(w io.Writer) {
					if r == nil {
						fmt.Fprintln(w, "No takeover in progress.")
						return
					}
					printTakeover(w, r)
				})
			})
		},
	}
	wait.Flags().DurationVar(&maxWait, "max-wait", 0, "give up after this long (default: wait forever)")
	cmd.AddCommand(wait)

	return cmd
}

func takeoverStep(use, short string, fn func(context.Context, *takeover.Controller) (*takeover.Request, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				r, err := fn(ctx, e.Takeover())
				if err != nil {
					return err
				}
				return render(cmd, r, func(w io.Writer) { printTakeover(w, r) })
			})
		},
	}
}

// currentURL reads the page URL if a browser answers quickly, else "".
func currentURL(ctx context.Context, e *engine.Engine) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	u, err := e.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	return u
}

func printTakeover(w io.Writer, r *takeover.Request) {
	fmt.Fprintf(w, "Takeover %s: %s (%s)\n", r.ID, r.Status, r.Reason)
	if r.Message != "" {
		fmt.Fprintf(w, "  Message:      %s\n", r.Message)
	}
	if r.Instructions != "" {
		fmt.Fprintf(w, "  Instructions: %s\n", r.Instructions)
	}
	if r.ExpectedOutcome != "" {
		fmt.Fprintf(w, "  Expected:     %s\n", r.ExpectedOutcome)
	}
	if r.URL != "" {
		fmt.Fprintf(w, "  URL:          %s\n", r.URL)
	}
	if r.Resolution != "" {
		fmt.Fprintf(w, "  Resolution:   %s\n", r.Resolution)
	}
	if r.Notes != "" {
		fmt.Fprintf(w, "  Notes:        %s\n", r.Notes)
	}
	fmt.Fprintf(w, "  Open for:     %s\n", r.Duration(time.Now()).Round(time.Second))
}

func printTakeoverHistory(w io.Writer, list []takeover.Request) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No takeover history.")
		return
	}
	for _, r := range list {
		outcome := string(r.Status)
		if r.Resolution != "" {
			outcome += "/" + string(r.Resolution)
		}
		fmt.Fprintf(w, "  %s  %s  %-10s %-16s %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.ID, r.Reason, outcome, r.Duration(time.Now()).Round(time.Second))
	}
}
