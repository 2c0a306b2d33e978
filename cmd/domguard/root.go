package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/domguard/internal/config"
	"github.com/neboloop/domguard/internal/crashlog"
	"github.com/neboloop/domguard/internal/defaults"
	"github.com/neboloop/domguard/internal/engine"
	"github.com/neboloop/domguard/internal/logging"
)

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, SetupRootCmd(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if jsonOut {
			writeJSON(stdout, engine.Failure(err))
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "domguard",
		Short: "DOMGuard - browser automation over the DevTools protocol",
		Long: `DOMGuard drives a local Chrome through its remote debugging port.

Start Chrome with --remote-debugging-port=9222 (or run 'domguard browser launch'),
then use the interaction, session, workflow and takeover commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(verbose, false)
		},
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	pf.StringVar(&host, "host", "", "debugging host (default from config)")
	pf.IntVar(&port, "port", 0, "debugging port (default from config)")
	pf.IntVar(&timeoutMs, "timeout", 0, "per-command timeout in milliseconds (default from config)")
	pf.BoolVar(&jsonOut, "json", false, "print results as a JSON envelope")
	pf.BoolVar(&allowRemote, "allow-remote", false, "allow a non-loopback debugging endpoint")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.BoolVar(&noCorrection, "no-correction", false, "disable automatic error recovery")

	rootCmd.AddCommand(InitCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(InteractCmd())
	rootCmd.AddCommand(interactionCmds()...)
	rootCmd.AddCommand(DebugCmd())
	rootCmd.AddCommand(SessionCmd())
	rootCmd.AddCommand(WorkflowCmd())
	rootCmd.AddCommand(TakeoverCmd())
	rootCmd.AddCommand(CorrectionCmd())
	rootCmd.AddCommand(BrowserCmd())

	return rootCmd
}

// loadConfig resolves the data directory and config, then applies the
// global flags on top.
func loadConfig() (string, *config.Config, error) {
	dataDir, err := defaults.EnsureDataDir()
	if err != nil {
		return "", nil, err
	}
	var cfg *config.Config
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load(dataDir)
	}
	if err != nil {
		return "", nil, fmt.Errorf("load config: %w", err)
	}
	if host != "" {
		cfg.Chrome.Host = host
	}
	if port != 0 {
		cfg.Chrome.Port = port
	}
	if timeoutMs > 0 {
		cfg.Defaults.TimeoutMs = timeoutMs
	}
	return dataDir, cfg, cfg.Validate()
}

// openEngine builds the engine for one command. The caller closes it.
func openEngine() (*engine.Engine, error) {
	dataDir, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.Open(engine.Options{
		DataDir:      dataDir,
		Config:       cfg,
		AllowRemote:  allowRemote,
		NoCorrection: noCorrection,
		Logger:       slog.Default(),
	})
}

// withEngine opens the engine, runs fn and closes it.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) (err error) {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()
	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("cli", r, map[string]string{"command": cmd.CommandPath()})
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn(cmd.Context(), e)
}

// render prints data as a JSON envelope with --json, or calls text.
func render(cmd *cobra.Command, data any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(w, engine.Success(data))
	}
	text(w)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
