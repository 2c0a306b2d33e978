package takeover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/neboloop/domguard/internal/fileutil"
)

const (
	stateFile = "_takeover_state.json"
	lockFile  = ".takeover.lock"
	lockWait  = 2 * time.Second
)

// History is the append-only log of resolved requests.
type History interface {
	AppendTakeover(ctx context.Context, r *Request) error
	TakeoverHistory(ctx context.Context, limit int) ([]Request, error)
}

// Controller owns the takeover state. The open request lives in a state
// file so it survives across invocations; writers are serialized by a
// mutex and an exclusive lock file.
type Controller struct {
	dir     string
	history History
	mu      sync.Mutex
	logger  *slog.Logger
	notify  func(*Request)
	now     func() time.Time
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNotify registers fn to be called after every state change.
func WithNotify(fn func(*Request)) Option {
	return func(c *Controller) { c.notify = fn }
}

func New(dir string, history History, opts ...Option) *Controller {
	c := &Controller{
		dir:     dir,
		history: history,
		logger:  slog.Default().With("component", "takeover"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) statePath() string { return filepath.Join(c.dir, stateFile) }

func (c *Controller) load() (*Request, error) {
	var r Request
	err := fileutil.ReadJSON(c.statePath(), &r)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read takeover state: %w", err)
	}
	if !r.Status.Open() {
		return nil, nil
	}
	return &r, nil
}

// transition runs fn on the open request under both locks.
func (c *Controller) transition(fn func(cur *Request) (*Request, error)) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, err
	}
	lock, err := fileutil.LockWait(filepath.Join(c.dir, lockFile), lockWait)
	if err != nil {
		return nil, fmt.Errorf("lock takeover state: %w", err)
	}
	defer lock.Unlock()

	cur, err := c.load()
	if err != nil {
		return nil, err
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if c.notify != nil {
		c.notify(next)
	}
	return next, nil
}

// Request opens a takeover. It fails with ErrAlreadyActive while another
// request is pending or active.
func (c *Controller) Request(ctx context.Context, req Request) (*Request, error) {
	return c.transition(func(cur *Request) (*Request, error) {
		if cur != nil {
			return nil, fmt.Errorf("%w (id %s, %s)", ErrAlreadyActive, cur.ID, cur.Status)
		}
		r := req
		r.ID = "takeover-" + uuid.NewString()[:8]
		if r.Reason == "" {
			r.Reason = ReasonUser
		}
		if r.Message == "" {
			r.Message = r.Reason.DefaultMessage()
		}
		r.CreatedAt = c.now()
		r.Status = StatusPending
		r.AcceptedAt, r.EndedAt, r.Resolution, r.Notes = nil, nil, "", ""
		if err := fileutil.WriteJSON(c.statePath(), &r, 0644); err != nil {
			return nil, err
		}
		c.logger.Info("takeover requested", "id", r.ID, "reason", r.Reason)
		return &r, nil
	})
}

// Accept marks a pending request as taken by the human.
func (c *Controller) Accept(ctx context.Context) (*Request, error) {
	return c.transition(func(cur *Request) (*Request, error) {
		if cur == nil {
			return nil, ErrNoneActive
		}
		if cur.Status != StatusPending {
			return nil, fmt.Errorf("%w (id %s is %s)", ErrNotPending, cur.ID, cur.Status)
		}
		now := c.now()
		cur.AcceptedAt = &now
		cur.Status = StatusActive
		if err := fileutil.WriteJSON(c.statePath(), cur, 0644); err != nil {
			return nil, err
		}
		c.logger.Info("takeover accepted", "id", cur.ID)
		return cur, nil
	})
}

// Done resolves the open request with an outcome.
func (c *Controller) Done(ctx context.Context, success bool, notes string) (*Request, error) {
	return c.close(ctx, func(r *Request) {
		r.Status = StatusDone
		r.Resolution = Failure
		if success {
			r.Resolution = Success
		}
		r.Notes = notes
	})
}

// Cancel withdraws the open request.
func (c *Controller) Cancel(ctx context.Context) (*Request, error) {
	return c.close(ctx, func(r *Request) { r.Status = StatusCancelled })
}

// close appends exactly one history entry, then clears the state file.
func (c *Controller) close(ctx context.Context, mark func(*Request)) (*Request, error) {
	return c.transition(func(cur *Request) (*Request, error) {
		if cur == nil {
			return nil, ErrNoneActive
		}
		mark(cur)
		now := c.now()
		cur.EndedAt = &now
		if c.history != nil {
			if err := c.history.AppendTakeover(ctx, cur); err != nil {
				return nil, fmt.Errorf("record takeover history: %w", err)
			}
		}
		if err := os.Remove(c.statePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("clear takeover state: %w", err)
		}
		c.logger.Info("takeover closed", "id", cur.ID, "status", cur.Status, "resolution", cur.Resolution)
		return cur, nil
	})
}

// Status returns the open request, or nil when idle.
func (c *Controller) Status() (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

// History returns resolved requests, newest first. limit <= 0 means all.
func (c *Controller) History(ctx context.Context, limit int) ([]Request, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.TakeoverHistory(ctx, limit)
}

// Gate returns *BlockedError while a request is open.
func (c *Controller) Gate(ctx context.Context) error {
	r, err := c.Status()
	if err != nil {
		return err
	}
	if r != nil {
		return &BlockedError{Request: r}
	}
	return ctx.Err()
}

// Wait blocks until no request is open or ctx is done. It returns the
// request that was open when Wait was called, or nil if none was.
func (c *Controller) Wait(ctx context.Context) (*Request, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(c.dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", c.dir, err)
	}

	open, err := c.Status()
	if err != nil || open == nil {
		return nil, err
	}
	c.logger.Info("waiting for takeover", "id", open.ID)

	// Some filesystems never deliver events.
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return open, ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return open, errors.New("watcher closed")
			}
			if filepath.Base(ev.Name) != stateFile {
				continue
			}
		case err, ok := <-w.Errors:
			if !ok {
				return open, errors.New("watcher closed")
			}
			c.logger.Debug("watcher error", "error", err)
			continue
		case <-poll.C:
		}
		cur, err := c.Status()
		if err != nil {
			c.logger.Debug("takeover state unreadable, retrying", "error", err)
			continue
		}
		if cur == nil || cur.ID != open.ID {
			return c.resolved(ctx, open), nil
		}
	}
}

// resolved looks up the final form of r in history.
func (c *Controller) resolved(ctx context.Context, r *Request) *Request {
	hist, err := c.History(ctx, 20)
	if err != nil {
		return r
	}
	for i := range hist {
		if hist[i].ID == r.ID {
			return &hist[i]
		}
	}
	return r
}
