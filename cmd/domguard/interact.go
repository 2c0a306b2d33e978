package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/action"
	"github.com/neboloop/domguard/internal/engine"
	"github.com/neboloop/domguard/internal/resilience"
)

// InteractCmd groups the page interactions. Each is also available at the
// top level.
func InteractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interact",
		Short: "Interact with the current page",
		Long: `Selectors:
  text:<needle>   element containing the text
  x,y             viewport coordinates
  @focused        the focused element
  anything else   CSS selector

Append " >> nth=N" or pass --nth to pick a match (negative counts from the end).`,
	}
	cmd.AddCommand(interactionCmds()...)
	return cmd
}

// interactionCmds returns fresh command instances, so the same verbs can
// hang off two parents.
func interactionCmds() []*cobra.Command {
	return []*cobra.Command{
		navigateCmd(), clickCmd(), tripleClickCmd(), typeCmd(), keyCmd(), hoverCmd(),
		scrollCmd(), selectCmd(), waitCmd(), screenshotCmd(), backCmd(), refreshCmd(),
		dragCmd(), dialogCmd(), resizeCmd(), mouseMoveCmd(), pdfCmd(),
	}
}

// actionReport is the data of a successful interaction.
type actionReport struct {
	action.Result
	Attempts   int                   `json:"attempts"`
	Strategies []resilience.Strategy `json:"strategies,omitempty"`
}

// perform runs a through the engine and reports the outcome.
func perform(cmd *cobra.Command, a action.Action) error {
	if timeoutMs > 0 {
		a.Timeout = msDuration(timeoutMs)
	}
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		out, err := e.Execute(ctx, a, -1)
		if err != nil {
			return err
		}
		rep := actionReport{Result: out.Result, Attempts: out.Attempts, Strategies: out.Applied}
		return render(cmd, rep, func(w io.Writer) { printAction(w, rep) })
	})
}

func printAction(w io.Writer, r actionReport) {
	line := "OK " + r.Action
	if r.Selector != "" {
		line += " " + strconv.Quote(r.Selector)
	}
	switch {
	case r.Path != "":
		line += " -> " + r.Path
	case r.Value != "":
		line += " = " + strconv.Quote(r.Value)
	}
	fmt.Fprintln(w, line)
	if r.Attempts > 1 {
		names := make([]string, len(r.Strategies))
		for i, s := range r.Strategies {
			names[i] = s.String()
		}
		fmt.Fprintf(w, "   recovered after %d attempts (%s)\n", r.Attempts, strings.Join(names, ", "))
	}
}

func navigateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "navigate <url>",
		Short: "Load a URL in the current tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{Name: action.Navigate, Value: normalizeURL(args[0])})
		},
	}
}

// normalizeURL adds https:// to bare hosts.
func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	return "https://" + raw
}

// target reads the selector from args[0], --text or --coords.
func target(args []string, text, coords string, nth int) (action.Selector, error) {
	switch {
	case coords != "":
		c, err := action.ParseCoords(coords)
		if err != nil {
			return nil, err
		}
		return c, nil
	case text != "":
		return action.Text{Needle: text, Nth: nth}, nil
	case len(args) > 0:
		return action.ParseSelector(args[0], nth)
	}
	return nil, fmt.Errorf("a selector, --text or --coords is required")
}

func clickCmd() *cobra.Command {
	var nth int
	var text, coords string
	cmd := &cobra.Command{
		Use:   "click [selector]",
		Short: "Click an element",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := target(args, text, coords, nth)
			if err != nil {
				return err
			}
			return perform(cmd, action.Action{Name: action.Click, Target: sel})
		},
	}
	cmd.Flags().IntVar(&nth, "nth", 0, "index among matches")
	cmd.Flags().StringVar(&text, "text", "", "click the element containing this text")
	cmd.Flags().StringVar(&coords, "coords", "", "click at x,y")
	return cmd
}

func tripleClickCmd() *cobra.Command {
	var nth int
	cmd := &cobra.Command{
		Use:   "triple-click <selector|x,y>",
		Short: "Triple-click to select a paragraph or field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := action.ParseSelector(args[0], nth)
			if err != nil {
				return err
			}
			return perform(cmd, action.Action{Name: action.TripleClick, Target: sel})
		},
	}
	cmd.Flags().IntVar(&nth, "nth", 0, "index among matches")
	return cmd
}

func typeCmd() *cobra.Command {
	var nth int
	var focused bool
	cmd := &cobra.Command{
		Use:   "type <selector> <text> | type --focused <text>",
		Short: "Replace the value of an input",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sel action.Selector = action.Focused{}
			text := args[len(args)-1]
			switch {
			case focused && len(args) != 1:
				return fmt.Errorf("--focused takes only the text")
			case !focused && len(args) != 2:
				return fmt.Errorf("type needs a selector and the text")
			case !focused:
				var err error
				if sel, err = action.ParseSelector(args[0], nth); err != nil {
					return err
				}
			}
			return perform(cmd, action.Action{Name: action.Type, Target: sel, Value: text})
		},
	}
	cmd.Flags().IntVar(&nth, "nth", 0, "index among matches")
	cmd.Flags().BoolVar(&focused, "focused", false, "type into the focused element")
	return cmd
}

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <keys>",
		Short: "Press keys, e.g. Enter, Ctrl+A or \"Tab Tab Enter\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{Name: action.Key, Value: strings.Join(args, " ")})
		},
	}
}

func hoverCmd() *cobra.Command {
	var nth int
	cmd := &cobra.Command{
		Use:   "hover <selector>",
		Short: "Move the mouse over an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := action.ParseSelector(args[0], nth)
			if err != nil {
				return err
			}
			return perform(cmd, action.Action{Name: action.Hover, Target: sel})
		},
	}
	cmd.Flags().IntVar(&nth, "nth", 0, "index among matches")
	return cmd
}

type scrollFlags struct {
	down, up, left, right float64
	to                    string
}

func (f scrollFlags) action() (action.Action, error) {
	a := action.Action{Name: action.Scroll}
	if f.to != "" {
		sel, err := action.ParseSelector(f.to, 0)
		if err != nil {
			return a, err
		}
		a.Target = sel
		return a, nil
	}
	dx, dy := f.right-f.left, f.down-f.up
	if dx == 0 && dy == 0 {
		dy = 500
	}
	a.Args = map[string]any{"dx": dx, "dy": dy}
	return a, nil
}

func scrollCmd() *cobra.Command {
	var f scrollFlags
	cmd := &cobra.Command{
		Use:   "scroll",
		Short: "Scroll the page by pixels or to an element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := f.action()
			if err != nil {
				return err
			}
			return perform(cmd, a)
		},
	}
	cmd.Flags().Float64Var(&f.down, "down", 0, "pixels down (default 500 when nothing is given)")
	cmd.Flags().Float64Var(&f.up, "up", 0, "pixels up")
	cmd.Flags().Float64Var(&f.left, "left", 0, "pixels left")
	cmd.Flags().Float64Var(&f.right, "right", 0, "pixels right")
	cmd.Flags().StringVar(&f.to, "to", "", "scroll this element into view")
	cmd.MarkFlagsMutuallyExclusive("to", "down")
	cmd.MarkFlagsMutuallyExclusive("to", "up")
	return cmd
}

func selectCmd() *cobra.Command {
	var nth int
	var byLabel, byIndex bool
	cmd := &cobra.Command{
		Use:   "select <selector> <value>",
		Short: "Choose an option of a <select>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := action.ParseSelector(args[0], nth)
			if err != nil {
				return err
			}
			return perform(cmd, action.Action{
				Name:   action.Select,
				Target: sel,
				Value:  args[1],
				Args:   map[string]any{"by_label": byLabel, "by_index": byIndex},
			})
		},
	}
	cmd.Flags().IntVar(&nth, "nth", 0, "index among matches")
	cmd.Flags().BoolVar(&byLabel, "by-label", false, "match the option label instead of its value")
	cmd.Flags().BoolVar(&byIndex, "by-index", false, "treat value as the option index")
	cmd.MarkFlagsMutuallyExclusive("by-label", "by-index")
	return cmd
}

type waitFlags struct {
	nth            int
	visible, gone  bool
	text, textGone string
	durationMs     int
}

func (f waitFlags) action(args []string) (action.Action, error) {
	a := action.Action{Name: action.Wait, Args: map[string]any{}}
	switch {
	case f.durationMs > 0:
		a.Args["duration_ms"] = f.durationMs
	case f.text != "":
		a.Args["text"] = f.text
	case f.textGone != "":
		a.Args["text_gone"] = f.textGone
	}
	if len(args) > 0 {
		sel, err := action.ParseSelector(args[0], f.nth)
		if err != nil {
			return a, err
		}
		a.Target = sel
		switch {
		case f.gone:
			a.Args["mode"] = "gone"
		case f.visible:
			a.Args["mode"] = "visible"
		default:
			a.Args["mode"] = "present"
		}
	}
	return a, a.Validate()
}

func waitCmd() *cobra.Command {
	var f waitFlags
	cmd := &cobra.Command{
		Use:   "wait [selector]",
		Short: "Wait for an element, text or a fixed time",
		Long: `Waits until the selector is attached to the document (--visible: also
visible, --gone: removed or hidden), until text appears (--text) or disappears
(--text-gone), or for --duration milliseconds. Fails with TIMEOUT after --timeout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := f.action(args)
			if err != nil {
				return err
			}
			return perform(cmd, a)
		},
	}
	cmd.Flags().IntVar(&f.nth, "nth", 0, "index among matches")
	cmd.Flags().BoolVar(&f.visible, "visible", false, "wait until the element is visible")
	cmd.Flags().BoolVar(&f.gone, "gone", false, "wait until the element is gone")
	cmd.Flags().StringVar(&f.text, "text", "", "wait until the page contains text")
	cmd.Flags().StringVar(&f.textGone, "text-gone", "", "wait until the page no longer contains text")
	cmd.Flags().IntVar(&f.durationMs, "duration", 0, "wait a fixed number of milliseconds")
	cmd.MarkFlagsMutuallyExclusive("visible", "gone")
	return cmd
}

func screenshotCmd() *cobra.Command {
	var full bool
	var output string
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture the page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{
				Name: action.Screenshot,
				Args: map[string]any{"full": full, "path": output},
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "capture the full scrollable page")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: screenshots/ in the data dir)")
	return cmd
}

func pdfCmd() *cobra.Command {
	var output string
	var landscape bool
	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Print the page to PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{
				Name: action.PDF,
				Args: map[string]any{"path": output, "landscape": landscape, "background": true},
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: screenshots/ in the data dir)")
	cmd.Flags().BoolVar(&landscape, "landscape", false, "landscape orientation")
	return cmd
}

func backCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "back",
		Short: "Go back one history entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{Name: action.Back})
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{Name: action.Refresh})
		},
	}
}

func dragCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "drag --from <selector|x,y> --to <selector|x,y>",
		Short: "Drag with the mouse from one element or point to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := action.ParseSelector(from, 0)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			dst, err := action.ParseSelector(to, 0)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return perform(cmd, action.Action{Name: action.Drag, Target: src, To: dst})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "drag source")
	cmd.Flags().StringVar(&to, "to", "", "drop target")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func dialogCmd() *cobra.Command {
	var accept, dismiss bool
	var text string
	cmd := &cobra.Command{
		Use:   "dialog",
		Short: "Accept or dismiss the open JavaScript dialog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(cmd, action.Action{
				Name: action.Dialog,
				Args: map[string]any{"dismiss": dismiss, "text": text},
			})
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", true, "accept the dialog")
	cmd.Flags().BoolVar(&dismiss, "dismiss", false, "dismiss the dialog")
	cmd.Flags().StringVar(&text, "text", "", "prompt text to enter")
	cmd.MarkFlagsMutuallyExclusive("accept", "dismiss")
	return cmd
}

func resizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resize <width> <height>",
		Short: "Resize the viewport",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := strconv.Atoi(args[0])
			if err != nil || w <= 0 {
				return fmt.Errorf("invalid width %q", args[0])
			}
			h, err := strconv.Atoi(args[1])
			if err != nil || h <= 0 {
				return fmt.Errorf("invalid height %q", args[1])
			}
			return perform(cmd, action.Action{
				Name: action.Resize,
				Args: map[string]any{"width": w, "height": h},
			})
		},
	}
}

func mouseMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mouse-move <x,y>",
		Short: "Move the mouse to viewport coordinates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := action.ParseCoords(args[0])
			if err != nil {
				return err
			}
			return perform(cmd, action.Action{Name: action.MouseMove, Target: c})
		},
	}
}
