package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/domguard/internal/fileutil"
)

const ext = ".yaml"

// Store keeps workflows as <dir>/<id>.yaml.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "workflow"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string { return filepath.Join(s.dir, id+ext) }

// List returns every readable workflow sorted by name.
func (s *Store) List() ([]*Workflow, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	var out []*Workflow
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		w, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable workflow", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListByTag(tag string) ([]*Workflow, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*Workflow
	for _, w := range all {
		for _, t := range w.Tags {
			if strings.EqualFold(t, tag) {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

// ListForDomain returns workflows whose domain pattern matches host.
func (s *Store) ListForDomain(host string) ([]*Workflow, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*Workflow
	for _, w := range all {
		if MatchDomain(w.Domain, host) {
			out = append(out, w)
		}
	}
	return out, nil
}

// MatchDomain matches host against a domain pattern. Patterns may use glob
// syntax with '.' as separator ("*.example.com", "**.example.*"); a plain
// domain also matches its subdomains.
func MatchDomain(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	host = strings.ToLower(strings.TrimSpace(host))
	if pattern == "" || host == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return host == pattern || strings.HasSuffix(host, "."+pattern)
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return false
	}
	return g.Match(host)
}

// Get loads a workflow by id, or by name when no id matches.
func (s *Store) Get(idOrName string) (*Workflow, error) {
	if validID(idOrName) {
		w, err := s.read(s.path(idOrName))
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var found []*Workflow
	for _, w := range all {
		if strings.EqualFold(w.Name, idOrName) {
			found = append(found, w)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, idOrName)
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("%w: %q matches %d workflows", ErrAmbiguousName, idOrName, len(found))
}

// Save writes w, stamping its timestamps.
func (s *Store) Save(w *Workflow) error {
	if !validID(w.ID) {
		return fmt.Errorf("invalid workflow id %q", w.ID)
	}
	now := s.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.ModifiedAt = now
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	return fileutil.WriteAtomic(s.path(w.ID), data, 0644)
}

func (s *Store) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return err
}

// RecordRun bumps the run counter and last-run time of a stored workflow.
func (s *Store) RecordRun(id string) error {
	w, err := s.read(s.path(id))
	if err != nil {
		return err
	}
	w.RunCount++
	now := s.now()
	w.LastRun = &now
	data, err := yaml.Marshal(w)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(s.path(id), data, 0644)
}

func (s *Store) read(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if w.ID == "" {
		w.ID = strings.TrimSuffix(filepath.Base(path), ext)
	}
	return &w, nil
}

// CreateEmpty returns a starter workflow with a single parameterized
// navigate step. It is not saved.
func CreateEmpty(name string) *Workflow {
	return &Workflow{
		ID:   "workflow-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Name: name,
		Parameters: []Parameter{
			{Name: "url", Required: true, ParamType: "url"},
		},
		Steps: []Step{{
			Name:         "Navigate to site",
			Action:       "navigate",
			Target:       "{{url}}",
			TimeoutMs:    10000,
			DelayAfterMs: 1000,
		}},
	}
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}
