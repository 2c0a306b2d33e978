package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/browser"
	"github.com/neboloop/domguard/internal/logging"
)

// BrowserCmd locates and launches Chrome with remote debugging.
func BrowserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browser",
		Short: "Find or launch a Chromium-based browser",
	}

	var headless, detach, noSandbox bool
	var execPath, profile string
	launch := &cobra.Command{
		Use:   "launch",
		Short: "Start the browser with the debugging port open",
		Long: `Starts Chrome with --remote-debugging-port on the configured port. By default
the browser runs until Ctrl+C; with --detach it keeps running after domguard exits
and uses a persistent profile in the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts := browser.LaunchOptions{
				ExecPath:    execPath,
				Port:        cfg.Chrome.Port,
				Headless:    headless,
				NoSandbox:   noSandbox,
				UserDataDir: profile,
				Logger:      logging.Component("browser"),
			}
			if opts.ExecPath == "" {
				opts.ExecPath = cfg.Chrome.ExecPath
			}

			if detach {
				if opts.UserDataDir == "" {
					opts.UserDataDir = filepath.Join(dataDir, "chrome-profile")
				}
				r, err := browser.StartDetached(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return render(cmd, r, func(w io.Writer) { printLaunched(w, r) })
			}

			r, err := browser.Launch(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := render(cmd, r, func(w io.Writer) {
				printLaunched(w, r)
				fmt.Fprintln(w, "Press Ctrl+C to close the browser.")
			}); err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
				return r.Stop(5 * time.Second)
			case <-r.Done():
				return nil
			}
		},
	}
	launch.Flags().BoolVar(&headless, "headless", false, "run without a window")
	launch.Flags().BoolVar(&detach, "detach", false, "leave the browser running after exit")
	launch.Flags().BoolVar(&noSandbox, "no-sandbox", false, "disable the sandbox (containers)")
	launch.Flags().StringVar(&execPath, "exec", "", "browser executable (default: chrome.exec_path or auto-detect)")
	launch.Flags().StringVar(&profile, "profile", "", "user data directory")
	cmd.AddCommand(launch)

	cmd.AddCommand(&cobra.Command{
		Use:   "find",
		Short: "List installed Chromium-based browsers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data := struct {
				Selected *browser.BrowserExecutable  `json:"selected,omitempty"`
				Found    []browser.BrowserExecutable `json:"found"`
			}{Found: browser.AllExecutables()}
			data.Selected, err = browser.FindChromeExecutable(cfg.Chrome.ExecPath)
			if err != nil && len(data.Found) == 0 {
				return err
			}
			return render(cmd, data, func(w io.Writer) {
				if data.Selected != nil {
					fmt.Fprintf(w, "Selected: %s (%s)\n", data.Selected.Path, data.Selected.Kind)
				}
				fmt.Fprintln(w, "Installed:")
				for _, b := range data.Found {
					fmt.Fprintf(w, "  %-10s %s\n", b.Kind, b.Path)
				}
			})
		},
	})

	return cmd
}

func printLaunched(w io.Writer, r *browser.RunningChrome) {
	fmt.Fprintf(w, "Browser %s running (pid %d)\n", r.Browser, r.PID)
	fmt.Fprintf(w, "  Executable: %s\n", r.Executable.Path)
	fmt.Fprintf(w, "  Endpoint:   %s\n", r.BaseURL())
	if r.UserDataDir != "" {
		fmt.Fprintf(w, "  Profile:    %s\n", r.UserDataDir)
	}
}
