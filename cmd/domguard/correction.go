package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/engine"
	"github.com/neboloop/domguard/internal/resilience"
)

// CorrectionCmd inspects and tunes automatic recovery.
func CorrectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correction",
		Short: "Inspect and tune automatic error recovery",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "analyze <error message>",
		Short: "Classify an error message and show the recovery plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := resilience.Analyze(strings.Join(args, " "))
			return render(cmd, a, func(w io.Writer) { printAnalysis(w, a) })
		},
	})

	var enable, disable bool
	var maxRetries int
	config := &cobra.Command{
		Use:   "config",
		Short: "Show or change the recovery settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
				cfg := e.Config()
				changed := false
				if enable || disable {
					cfg.Correction.Enabled = enable
					changed = true
				}
				if cmd.Flags().Changed("max-retries") {
					cfg.Correction.MaxRetries = maxRetries
					changed = true
				}
				if changed {
					if err := cfg.Validate(); err != nil {
						return err
					}
					if err := cfg.Save(); err != nil {
						return err
					}
				}
				c := cfg.Correction
				return render(cmd, c, func(w io.Writer) {
					fmt.Fprintf(w, "Correction:        %s\n", onOff(c.Enabled))
					fmt.Fprintf(w, "Max retries:       %d\n", c.MaxRetries)
					fmt.Fprintf(w, "Base delay:        %dms (exponential: %t)\n", c.BaseDelayMs, c.ExponentialBackoff)
					fmt.Fprintf(w, "Max recovery time: %dms\n", c.MaxRecoveryTimeMs)
					fmt.Fprintf(w, "Escalate CAPTCHA:  %t\n", c.EscalateCaptcha)
					if changed {
						fmt.Fprintf(w, "Saved to %s\n", cfg.Path())
					}
				})
			})
		},
	}
	config.Flags().BoolVar(&enable, "enable", false, "turn recovery on")
	config.Flags().BoolVar(&disable, "disable", false, "turn recovery off")
	config.Flags().IntVar(&maxRetries, "max-retries", 0, "retry budget per action")
	config.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.AddCommand(config)

	return cmd
}

func printAnalysis(w io.Writer, a resilience.Analysis) {
	fmt.Fprintf(w, "Kind: %s\n", a.Kind)
	if a.Escalate {
		fmt.Fprintln(w, "Recovery: none, a human takeover is requested")
		return
	}
	if len(a.Plan) == 0 {
		fmt.Fprintln(w, "Recovery: plain retries with backoff")
		return
	}
	fmt.Fprintln(w, "Recovery plan:")
	for i, s := range a.Plan {
		fmt.Fprintf(w, "  %d. %s\n", i+1, s)
	}
}
