// Package recorder keeps the append-only log of actions performed while a
// recording is active. The in-progress session lives in
// _active_session.json so recording spans CLI invocations; stopped sessions
// are kept as session_<id>.json.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/domguard/internal/fileutil"
)

const (
	activeFile = "_active_session.json"
	lockFile   = ".sessions.lock"
	lockWait   = 2 * time.Second
)

var (
	ErrAlreadyRecording = errors.New("a session is already being recorded")
	ErrNotRecording     = errors.New("no session is being recorded")
	ErrNotPaused        = errors.New("recording is not paused")
	ErrSessionNotFound  = errors.New("session not found")
)

// State is the recorder's position in its state machine.
type State int

const (
	NotStarted State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	}
	return "not_started"
}

type Recorder struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Recorder)

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New returns a recorder storing sessions under dir.
func New(dir string, opts ...Option) *Recorder {
	r := &Recorder{
		dir:    dir,
		logger: slog.Default().With("component", "recorder"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dir returns the sessions directory.
func (r *Recorder) Dir() string { return r.dir }

func (r *Recorder) activePath() string { return filepath.Join(r.dir, activeFile) }

func (r *Recorder) sessionPath(id string) string {
	return filepath.Join(r.dir, "session_"+id+".json")
}

// update runs fn on the active session under both the in-process and the
// cross-process lock, then persists the result.
func (r *Recorder) update(fn func(s *Session) error) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	lock, err := fileutil.LockWait(filepath.Join(r.dir, lockFile), lockWait)
	if err != nil {
		return nil, fmt.Errorf("lock sessions: %w", err)
	}
	defer lock.Unlock()

	s, err := r.loadActive()
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return s, err
	}
	return s, nil
}

// loadActive returns the in-progress session or nil.
func (r *Recorder) loadActive() (*Session, error) {
	var s Session
	err := fileutil.ReadJSON(r.activePath(), &s)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active session: %w", err)
	}
	return &s, nil
}

func (r *Recorder) saveActive(s *Session) error {
	return fileutil.WriteJSON(r.activePath(), s, 0644)
}

// Start begins a new session.
func (r *Recorder) Start(name, initialURL string) (*Session, error) {
	var started *Session
	_, err := r.update(func(cur *Session) error {
		if cur != nil && cur.Status.Active() {
			return fmt.Errorf("%w (id %s)", ErrAlreadyRecording, cur.ID)
		}
		started = &Session{
			ID:         r.newID(),
			Name:       name,
			StartedAt:  r.now(),
			InitialURL: initialURL,
			Status:     StatusRecording,
			Metadata:   Metadata{Tags: []string{}},
			Actions:    []ActionRecord{},
		}
		return r.saveActive(started)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("recording started", "session", started.ID, "name", name)
	return started, nil
}

// Record appends rec to the active session. It fails with ErrNotRecording
// unless the recorder is in the Recording state.
func (r *Recorder) Record(rec ActionRecord) error {
	_, err := r.update(func(s *Session) error {
		if s == nil || s.Status != StatusRecording {
			return ErrNotRecording
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = r.now()
		}
		if rec.Args == nil {
			rec.Args = map[string]any{}
		}
		s.Actions = append(s.Actions, rec)
		return r.saveActive(s)
	})
	return err
}

func (r *Recorder) Pause() error {
	_, err := r.update(func(s *Session) error {
		if s == nil || s.Status != StatusRecording {
			return ErrNotRecording
		}
		s.Status = StatusPaused
		return r.saveActive(s)
	})
	return err
}

func (r *Recorder) Resume() error {
	_, err := r.update(func(s *Session) error {
		if s == nil || s.Status != StatusPaused {
			return ErrNotPaused
		}
		s.Status = StatusRecording
		return r.saveActive(s)
	})
	return err
}

// Stop ends the session. It is marked failed when its last action failed,
// completed otherwise. The session is durable on disk when Stop returns.
func (r *Recorder) Stop() (*Session, error) {
	return r.finish(func(s *Session) {
		if s.lastFailed() {
			s.Status = StatusFailed
		} else {
			s.Status = StatusCompleted
		}
	})
}

// Fail ends the session as failed with reason.
func (r *Recorder) Fail(reason string) (*Session, error) {
	return r.finish(func(s *Session) {
		s.Status = StatusFailed
		s.Metadata.FailureReason = reason
	})
}

func (r *Recorder) finish(mark func(s *Session)) (*Session, error) {
	s, err := r.update(func(s *Session) error {
		if s == nil || !s.Status.Active() {
			return ErrNotRecording
		}
		mark(s)
		ended := r.now()
		s.EndedAt = &ended
		if err := fileutil.WriteJSON(r.sessionPath(s.ID), s, 0644); err != nil {
			return err
		}
		if err := os.Remove(r.activePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove active session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("recording stopped", "session", s.ID, "status", s.Status, "actions", len(s.Actions))
	return s, nil
}

// Active returns the in-progress session, or nil when none.
func (r *Recorder) Active() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadActive()
}

// State reports the recorder state. Read errors count as NotStarted.
func (r *Recorder) State() State {
	s, err := r.Active()
	if err != nil || s == nil {
		return NotStarted
	}
	switch s.Status {
	case StatusRecording:
		return Recording
	case StatusPaused:
		return Paused
	}
	return NotStarted
}

// List returns summaries of stopped sessions, newest first.
func (r *Recorder) List() ([]Summary, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var s Session
		if err := fileutil.ReadJSON(filepath.Join(r.dir, name), &s); err != nil {
			r.logger.Warn("skipping unreadable session", "file", name, "error", err)
			continue
		}
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Load reads a stopped session.
func (r *Recorder) Load(id string) (*Session, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var s Session
	err := fileutil.ReadJSON(r.sessionPath(id), &s)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Recorder) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	err := os.Remove(r.sessionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return err
}

// Export writes the session JSON to w.
func (r *Recorder) Export(id string, w io.Writer) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := os.ReadFile(r.sessionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// validID rejects ids that would escape the sessions directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid id %q", ErrSessionNotFound, id)
	}
	return nil
}
