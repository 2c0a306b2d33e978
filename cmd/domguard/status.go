package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/defaults"
	"github.com/neboloop/domguard/internal/engine"
)

// InitCmd creates the data directory with the default config.
func InitCmd() *cobra.Command {
	var global, force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory with default config",
		Long: `Creates a .domguard directory in the working directory (or the per-user
directory with --global) holding config.yaml, sessions/, workflows/ and screenshots/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := initDir(global)
			if err != nil {
				return err
			}
			if err := defaults.Init(dir, force); err != nil {
				return err
			}
			return render(cmd, map[string]string{"data_dir": dir}, func(w io.Writer) {
				fmt.Fprintf(w, "Initialized DOMGuard in %s\n", dir)
			})
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "initialize the per-user data directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing default files")
	return cmd
}

func initDir(global bool) (string, error) {
	if global {
		return defaults.GlobalDir()
	}
	if dir := os.Getenv("DOMGUARD_DATA_DIR"); dir != "" {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, defaults.ProjectDirName), nil
}

// StatusCmd reports endpoint, page, recording and takeover state.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show browser connection, recording and takeover state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				st, err := e.Status(ctx)
				if err != nil {
					return err
				}
				return render(cmd, st, func(w io.Writer) { printStatus(w, st) })
			})
		},
	}
}

func printStatus(w io.Writer, st *engine.Status) {
	if st.Reachable {
		fmt.Fprintf(w, "Browser:    %s (protocol %s) at %s\n", st.Browser, st.ProtocolVersion, st.Endpoint)
	} else {
		fmt.Fprintf(w, "Browser:    not reachable at %s\n", st.Endpoint)
		if st.Error != "" {
			fmt.Fprintf(w, "            %s\n", st.Error)
		}
	}
	if st.Page != nil {
		fmt.Fprintf(w, "Page:       %s (%s)\n", st.Page.Title, st.Page.URL)
	}
	if st.SessionID != "" {
		fmt.Fprintf(w, "Recording:  %s (%s)\n", st.Recording, st.SessionID)
	} else {
		fmt.Fprintf(w, "Recording:  %s\n", st.Recording)
	}
	if st.Takeover != nil {
		fmt.Fprintf(w, "Takeover:   %s %s (%s)\n", st.Takeover.ID, st.Takeover.Status, st.Takeover.Reason)
	} else {
		fmt.Fprintln(w, "Takeover:   none")
	}
	fmt.Fprintf(w, "Correction: %s\n", onOff(st.Correction))
	fmt.Fprintf(w, "Data dir:   %s\n", st.DataDir)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
