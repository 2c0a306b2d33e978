package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/engine"
	"github.com/neboloop/domguard/internal/recorder"
)

// SessionCmd manages recordings of actions.
func SessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record actions into sessions",
		Long: `While a session is recording, every interaction command is appended to it
with its outcome. Stopped sessions can be turned into workflows with
'domguard workflow create <name> --from-session <id>'.`,
	}

	var name, startURL string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				s, err := e.Recorder().Start(name, startURL)
				if err != nil {
					return err
				}
				return render(cmd, s, func(w io.Writer) { fmt.Fprintf(w, "Recording session %s\n", s.ID) })
			})
		},
	}
	start.Flags().StringVar(&name, "name", "", "session name")
	start.Flags().StringVar(&startURL, "url", "", "initial URL to note in the session")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop recording and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				s, err := r.Stop()
				if err != nil {
					return err
				}
				sum := s.Summary()
				return render(cmd, sum, func(w io.Writer) {
					fmt.Fprintf(w, "Stopped session %s (%s): %d actions, %d failed\n",
						s.ID, s.Status, sum.TotalActions, sum.FailedActions)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pause",
		Short: "Pause recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				if err := r.Pause(); err != nil {
					return err
				}
				return render(cmd, map[string]string{"state": recorder.Paused.String()}, func(w io.Writer) {
					fmt.Fprintln(w, "Recording paused")
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Resume a paused recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				if err := r.Resume(); err != nil {
					return err
				}
				return render(cmd, map[string]string{"state": recorder.Recording.String()}, func(w io.Writer) {
					fmt.Fprintln(w, "Recording resumed")
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the recording state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				s, err := r.Active()
				if err != nil {
					return err
				}
				data := struct {
					State   string            `json:"state"`
					Session *recorder.Summary `json:"session,omitempty"`
				}{State: r.State().String()}
				if s != nil {
					sum := s.Summary()
					data.Session = &sum
				}
				return render(cmd, data, func(w io.Writer) {
					if s == nil {
						fmt.Fprintln(w, "Not recording.")
						return
					}
					fmt.Fprintf(w, "Session %s is %s with %d actions\n", s.ID, data.State, len(s.Actions))
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				list, err := r.List()
				if err != nil {
					return err
				}
				return render(cmd, list, func(w io.Writer) { printSessions(w, list) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				s, err := r.Load(args[0])
				if err != nil {
					return err
				}
				return render(cmd, s, func(w io.Writer) { printSession(w, s) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				if err := r.Delete(args[0]); err != nil {
					return err
				}
				return render(cmd, map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted session %s\n", args[0])
				})
			})
		},
	})

	var output string
	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the session JSON to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(r *recorder.Recorder) error {
				if output == "" {
					return r.Export(args[0], cmd.OutOrStdout())
				}
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
				if err != nil {
					return err
				}
				if err := r.Export(args[0], f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				return render(cmd, map[string]string{"id": args[0], "path": output}, func(w io.Writer) {
					fmt.Fprintf(w, "Exported session %s to %s\n", args[0], output)
				})
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.AddCommand(export)

	return cmd
}

// withRecorder runs fn against the engine's recorder. Nothing here dials
// the browser.
func withRecorder(cmd *cobra.Command, fn func(r *recorder.Recorder) error) error {
	return withEngine(cmd, func(_ context.Context, e *engine.Engine) error {
		return fn(e.Recorder())
	})
}

func printSessions(w io.Writer, list []recorder.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	fmt.Fprintln(w, "Sessions:")
	for _, s := range list {
		name := s.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "  %s  %-20s %-9s %3d actions  %s\n",
			s.ID, name, s.Status, s.TotalActions, s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func printSession(w io.Writer, s *recorder.Session) {
	sum := s.Summary()
	fmt.Fprintf(w, "Session %s", s.ID)
	if s.Name != "" {
		fmt.Fprintf(w, " (%s)", s.Name)
	}
	fmt.Fprintf(w, "\nStatus:  %s\nStarted: %s\n", s.Status, s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if s.InitialURL != "" {
		fmt.Fprintf(w, "URL:     %s\n", s.InitialURL)
	}
	fmt.Fprintf(w, "Actions: %d (%d failed, %.0f%% success)\n", sum.TotalActions, sum.FailedActions, sum.SuccessRate*100)

	cmds := make([]string, 0, len(sum.ActionCounts))
	for c, n := range sum.ActionCounts {
		cmds = append(cmds, fmt.Sprintf("%s x%d", c, n))
	}
	sort.Strings(cmds)
	if len(cmds) > 0 {
		fmt.Fprintf(w, "         %s\n", strings.Join(cmds, ", "))
	}
	for i, a := range s.Actions {
		mark := "ok  "
		if a.Status == recorder.ActionFailed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %3d %s %-12s %s", i+1, mark, a.Command, a.Selector)
		if a.Error != "" {
			fmt.Fprintf(w, "  (%s)", a.Error)
		}
		fmt.Fprintln(w)
	}
}
