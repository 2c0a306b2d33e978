package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/neboloop/domguard/internal/cdp"
)

// ErrAlreadyRunning is returned when something already answers on the
// requested debugging port.
var ErrAlreadyRunning = errors.New("a browser is already listening on the debugging port")

// LaunchOptions controls how the browser is started.
type LaunchOptions struct {
	ExecPath     string
	Port         int
	Headless     bool
	NoSandbox    bool
	UserDataDir  string // empty = throwaway profile
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

func (o *LaunchOptions) setDefaults() {
	if o.Port == 0 {
		o.Port = 9222
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "browser")
	}
}

// RunningChrome represents a running browser with its debugging endpoint.
type RunningChrome struct {
	PID          int                `json:"pid"`
	Executable   *BrowserExecutable `json:"executable"`
	UserDataDir  string             `json:"user_data_dir,omitempty"`
	Port         int                `json:"port"`
	StartedAt    time.Time          `json:"started_at"`
	WebSocketURL string             `json:"websocket_url"`
	Browser      string             `json:"browser"`
	Detached     bool               `json:"detached"`

	cancel context.CancelFunc
	cmd    *exec.Cmd
	done   chan struct{}
}

// BaseURL is the http base of the debugging endpoint.
func (r *RunningChrome) BaseURL() string { return cdp.BaseURL("127.0.0.1", r.Port) }

// Done is closed once the browser stops answering on its port.
func (r *RunningChrome) Done() <-chan struct{} { return r.done }

// Launch starts the browser under chromedp's exec allocator. The browser
// lives until ctx is cancelled or Stop is called.
func Launch(ctx context.Context, opts LaunchOptions) (*RunningChrome, error) {
	opts.setDefaults()
	exe, err := preflight(ctx, opts)
	if err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(exe.Path),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(opts.Port)),
		chromedp.Flag("hide-crash-restore-bubble", true),
	)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create user data dir: %w", err)
		}
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	running := &RunningChrome{
		Executable:  exe,
		UserDataDir: opts.UserDataDir,
		Port:        opts.Port,
		StartedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if p := c.Browser.Process(); p != nil {
			running.PID = p.Pid
		}
	}
	if err := running.waitReady(ctx, opts.ReadyTimeout); err != nil {
		cancel()
		return nil, err
	}
	go running.watch(browserCtx)
	opts.Logger.Info("browser launched", "pid", running.PID, "port", running.Port, "exe", exe.Path)
	return running, nil
}

// StartDetached starts the browser in its own process group so it keeps
// running after this process exits.
func StartDetached(ctx context.Context, opts LaunchOptions) (*RunningChrome, error) {
	opts.setDefaults()
	exe, err := preflight(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.UserDataDir == "" {
		return nil, fmt.Errorf("a detached browser needs a user data dir")
	}
	if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user data dir: %w", err)
	}

	cmd := exec.Command(exe.Path, buildChromeArgs(opts)...)
	setChromeProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	running := &RunningChrome{
		PID:         cmd.Process.Pid,
		Executable:  exe,
		UserDataDir: opts.UserDataDir,
		Port:        opts.Port,
		StartedAt:   time.Now(),
		Detached:    true,
		cmd:         cmd,
		done:        make(chan struct{}),
	}
	if err := running.waitReady(ctx, opts.ReadyTimeout); err != nil {
		killChromeProcessGroup(cmd, true)
		_ = cmd.Wait()
		return nil, err
	}
	go running.watch(ctx)
	opts.Logger.Info("browser started detached", "pid", running.PID, "port", running.Port, "exe", exe.Path)
	return running, nil
}

// Stop shuts the browser down, forcing it after timeout.
func (r *RunningChrome) Stop(timeout time.Duration) error {
	if r.cancel != nil {
		r.cancel()
		return nil
	}
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	killChromeProcessGroup(r.cmd, false)

	exited := make(chan error, 1)
	go func() { exited <- r.cmd.Wait() }()
	select {
	case <-exited:
		return nil
	case <-time.After(timeout):
		killChromeProcessGroup(r.cmd, true)
		return <-exited
	}
}

func preflight(ctx context.Context, opts LaunchOptions) (*BrowserExecutable, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if cdp.Reachable(checkCtx, http.DefaultClient, cdp.BaseURL("127.0.0.1", opts.Port)) {
		return nil, fmt.Errorf("%w (port %d)", ErrAlreadyRunning, opts.Port)
	}
	return FindChromeExecutable(opts.ExecPath)
}

func (r *RunningChrome) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		checkCtx, cancelCheck := context.WithTimeout(ctx, 500*time.Millisecond)
		v, err := cdp.Version(checkCtx, http.DefaultClient, r.BaseURL())
		cancelCheck()
		if err == nil {
			r.WebSocketURL = v.WebSocketDebuggerURL
			r.Browser = v.Browser
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("browser debugging port %d did not open within %s", r.Port, timeout)
		case <-ticker.C:
		}
	}
}

// watch closes done once the endpoint stops answering or ctx ends.
func (r *RunningChrome) watch(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, time.Second)
			ok := cdp.Reachable(checkCtx, http.DefaultClient, r.BaseURL())
			cancel()
			if !ok {
				return
			}
		}
	}
}

func buildChromeArgs(opts LaunchOptions) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", opts.Port),
		fmt.Sprintf("--user-data-dir=%s", opts.UserDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-sync",
		"--disable-background-networking",
		"--disable-component-update",
		"--disable-features=Translate,MediaRouter",
		"--disable-session-crashed-bubble",
		"--hide-crash-restore-bubble",
		"--password-store=basic",
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if opts.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	// A blank tab guarantees a page target exists.
	return append(args, "about:blank")
}
