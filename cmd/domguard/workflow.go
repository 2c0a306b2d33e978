package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/domguard/internal/db"
	"github.com/neboloop/domguard/internal/engine"
	"github.com/neboloop/domguard/internal/workflow"
)

// WorkflowCmd manages and runs workflows.
func WorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage and run parameterized workflows",
		Long: `Workflows are YAML files in the workflows/ directory of the data dir. Steps
name an action, a target selector and a value; {{name}} placeholders are filled
from --param name=value or the parameter defaults.`,
	}

	var tag, domain string
	list := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
				var ws []*workflow.Workflow
				var err error
				switch {
				case tag != "":
					ws, err = e.Workflows().ListByTag(tag)
				case domain != "":
					ws, err = e.Workflows().ListForDomain(domain)
				default:
					ws, err = e.Workflows().List()
				}
				if err != nil {
					return err
				}
				return render(cmd, ws, func(w io.Writer) { printWorkflows(w, ws) })
			})
		},
	}
	list.Flags().StringVar(&tag, "tag", "", "only workflows with this tag")
	list.Flags().StringVar(&domain, "domain", "", "only workflows whose domain pattern matches this host")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id|name>",
		Short: "Show a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
				wf, err := e.Workflows().Get(args[0])
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(wf)
				if err != nil {
					return err
				}
				return render(cmd, wf, func(w io.Writer) { w.Write(data) })
			})
		},
	})

	var fromSession string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workflow, empty or from a recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
				wf := workflow.CreateEmpty(args[0])
				if fromSession != "" {
					s, err := e.Recorder().Load(fromSession)
					if err != nil {
						return err
					}
					wf = workflow.FromSession(s, args[0])
				}
				if err := e.Workflows().Save(wf); err != nil {
					return err
				}
				return render(cmd, wf, func(w io.Writer) {
					fmt.Fprintf(w, "Created workflow %s (%s) with %d steps\n", wf.ID, wf.Name, len(wf.Steps))
				})
			})
		},
	}
	create.Flags().StringVar(&fromSession, "from-session", "", "build the steps from this session")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
				if err := e.Workflows().Delete(args[0]); err != nil {
					return err
				}
				return render(cmd, map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted workflow %s\n", args[0])
				})
			})
		},
	})

	var params []string
	var dryRun bool
	runCmd := &cobra.Command{
		Use:   "run <id|name>",
		Short: "Run a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.RunWorkflow(ctx, args[0], values, dryRun)
				if res != nil && !jsonOut {
					printRun(cmd.OutOrStdout(), res)
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return render(cmd, res, nil)
				}
				return nil
			})
		},
	}
	runCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter as name=value (repeatable)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and print the steps without running them")
	cmd.AddCommand(runCmd)

	var limit int
	runs := &cobra.Command{
		Use:   "runs [id]",
		Short: "Show recorded runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if id != "" {
					wf, err := e.Workflows().Get(id)
					if err != nil {
						return err
					}
					id = wf.ID
				}
				list, err := e.History().WorkflowRuns(ctx, id, limit)
				if err != nil {
					return err
				}
				return render(cmd, list, func(w io.Writer) { printRuns(w, list) })
			})
		},
	}
	runs.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	cmd.AddCommand(runs)

	return cmd
}

// parseParams reads name=value pairs.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want name=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func printWorkflows(w io.Writer, ws []*workflow.Workflow) {
	if len(ws) == 0 {
		fmt.Fprintln(w, "No workflows found.")
		return
	}
	fmt.Fprintln(w, "Workflows:")
	for _, wf := range ws {
		fmt.Fprintf(w, "  %s  %s (%d steps, %d runs)\n", wf.ID, wf.Name, len(wf.Steps), wf.RunCount)
		if wf.Domain != "" {
			fmt.Fprintf(w, "      Domain: %s\n", wf.Domain)
		}
		if len(wf.Tags) > 0 {
			fmt.Fprintf(w, "      Tags: %s\n", strings.Join(wf.Tags, ", "))
		}
	}
}

func printRun(w io.Writer, res *workflow.Result) {
	if res.DryRun {
		fmt.Fprintln(w, "Dry run:")
	}
	for _, s := range res.Steps {
		fmt.Fprintf(w, "  %2d %-8s %-12s %s", s.Index+1, s.Status, s.Action, s.Target)
		if s.Value != "" {
			fmt.Fprintf(w, " = %q", s.Value)
		}
		switch {
		case s.Error != "":
			fmt.Fprintf(w, "  (%s)", s.Error)
		case s.Reason != "":
			fmt.Fprintf(w, "  (%s)", s.Reason)
		case s.Retries > 0:
			fmt.Fprintf(w, "  (%d retries)", s.Retries)
		}
		fmt.Fprintln(w)
	}
	if !res.DryRun {
		outcome := "succeeded"
		if !res.Success {
			outcome = "failed"
		}
		fmt.Fprintf(w, "Run %s %s in %dms\n", res.RunID, outcome, res.DurationMs)
	}
}

func printRuns(w io.Writer, runs []db.WorkflowRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		outcome := "ok"
		if !r.Success {
			outcome = "FAILED"
		}
		fmt.Fprintf(w, "  %s  %-20s %-6s %d steps (%d failed, %d skipped) %dms\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.WorkflowName, outcome,
			r.StepsTotal, r.StepsFailed, r.StepsSkipped, r.DurationMs)
		if r.Error != "" {
			fmt.Fprintf(w, "      %s\n", r.Error)
		}
	}
}
