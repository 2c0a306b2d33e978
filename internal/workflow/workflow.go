// Package workflow stores named, parameterized step lists and replays them
// through the resilience pipeline.
package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/neboloop/domguard/internal/action"
)

const defaultParamType = "text"

// Workflow is a reusable step list. Field names match the YAML file shape.
type Workflow struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Domain      string      `yaml:"domain,omitempty" json:"domain,omitempty"`
	Tags        []string    `yaml:"tags,omitempty" json:"tags,omitempty"`
	Parameters  []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Steps       []Step      `yaml:"steps" json:"steps"`
	CreatedAt   time.Time   `yaml:"created_at" json:"created_at"`
	ModifiedAt  time.Time   `yaml:"modified_at" json:"modified_at"`
	RunCount    int         `yaml:"run_count,omitempty" json:"run_count"`
	LastRun     *time.Time  `yaml:"last_run,omitempty" json:"last_run,omitempty"`
}

// Parameter is a {{name}} placeholder a run can fill in.
type Parameter struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Default     *string `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool    `yaml:"required,omitempty" json:"required"`
	// ParamType is a hint: text, password, url, number or file.
	ParamType string `yaml:"param_type,omitempty" json:"param_type,omitempty"`
}

// Type returns the parameter type, defaulting to text.
func (p Parameter) Type() string {
	if p.ParamType == "" {
		return defaultParamType
	}
	return p.ParamType
}

// Step is one action of a workflow. Target, Value, Args string values and
// Condition fields may contain {{name}} placeholders.
type Step struct {
	Name      string         `yaml:"name,omitempty" json:"name,omitempty"`
	Action    string         `yaml:"action" json:"action"`
	Target    string         `yaml:"target,omitempty" json:"target,omitempty"`
	Value     string         `yaml:"value,omitempty" json:"value,omitempty"`
	Nth       int            `yaml:"nth,omitempty" json:"nth,omitempty"`
	Args      map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	TimeoutMs int64          `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	// Required defaults to true when absent.
	Required *bool `yaml:"required,omitempty" json:"required,omitempty"`
	// RetryCount overrides the configured max_retries when set.
	RetryCount      *int       `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	DelayBeforeMs   int64      `yaml:"delay_before_ms,omitempty" json:"delay_before_ms,omitempty"`
	DelayAfterMs    int64      `yaml:"delay_after_ms,omitempty" json:"delay_after_ms,omitempty"`
	Condition       *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
	ScreenshotAfter bool       `yaml:"screenshot_after,omitempty" json:"screenshot_after,omitempty"`
}

// IsRequired reports whether a failure of this step stops the run.
func (s Step) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// Label returns the step name, or its action when unnamed.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Action
}

// Condition gates a step. All set fields must hold for the step to run.
type Condition struct {
	SelectorExists    string `yaml:"selector_exists,omitempty" json:"selector_exists,omitempty"`
	SelectorNotExists string `yaml:"selector_not_exists,omitempty" json:"selector_not_exists,omitempty"`
	TextContains      string `yaml:"text_contains,omitempty" json:"text_contains,omitempty"`
	URLContains       string `yaml:"url_contains,omitempty" json:"url_contains,omitempty"`
}

func (c *Condition) empty() bool {
	return c == nil || *c == Condition{}
}

func (c Condition) String() string {
	var parts []string
	if c.SelectorExists != "" {
		parts = append(parts, "exists "+c.SelectorExists)
	}
	if c.SelectorNotExists != "" {
		parts = append(parts, "not exists "+c.SelectorNotExists)
	}
	if c.TextContains != "" {
		parts = append(parts, fmt.Sprintf("text %q", c.TextContains))
	}
	if c.URLContains != "" {
		parts = append(parts, fmt.Sprintf("url contains %q", c.URLContains))
	}
	return strings.Join(parts, " and ")
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Substitute replaces {{name}} placeholders with values. Placeholders with
// no value are left in place and reported.
func Substitute(template string, values map[string]string) (string, []string) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	return out, missing
}

// Placeholders lists the distinct placeholder names a workflow uses.
func (w *Workflow) Placeholders() []string {
	seen := map[string]bool{}
	collect := func(s string) {
		for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = true
		}
	}
	for _, st := range w.Steps {
		collect(st.Target)
		collect(st.Value)
		for _, v := range st.Args {
			if s, ok := v.(string); ok {
				collect(s)
			}
		}
		if st.Condition != nil {
			collect(st.Condition.SelectorExists)
			collect(st.Condition.SelectorNotExists)
			collect(st.Condition.TextContains)
			collect(st.Condition.URLContains)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveParams merges provided values with parameter defaults. A required
// parameter with neither fails with *MissingParameterError. Undeclared
// provided values are kept.
func (w *Workflow) ResolveParams(provided map[string]string) (map[string]string, error) {
	values := make(map[string]string, len(provided)+len(w.Parameters))
	for k, v := range provided {
		values[k] = v
	}
	for _, p := range w.Parameters {
		if _, ok := values[p.Name]; ok {
			continue
		}
		switch {
		case p.Default != nil:
			values[p.Name] = *p.Default
		case p.Required:
			return nil, &MissingParameterError{Name: p.Name}
		default:
			values[p.Name] = ""
		}
	}
	return values, nil
}

// substitute returns a copy of s with placeholders filled in.
func (s Step) substitute(values map[string]string) (Step, error) {
	var missing []string
	sub := func(in string) string {
		out, m := Substitute(in, values)
		missing = append(missing, m...)
		return out
	}
	out := s
	out.Target = sub(s.Target)
	out.Value = sub(s.Value)
	if s.Args != nil {
		out.Args = make(map[string]any, len(s.Args))
		for k, v := range s.Args {
			if str, ok := v.(string); ok {
				v = sub(str)
			}
			out.Args[k] = v
		}
	}
	if s.Condition != nil {
		c := Condition{
			SelectorExists:    sub(s.Condition.SelectorExists),
			SelectorNotExists: sub(s.Condition.SelectorNotExists),
			TextContains:      sub(s.Condition.TextContains),
			URLContains:       sub(s.Condition.URLContains),
		}
		out.Condition = &c
	}
	if len(missing) > 0 {
		return out, &MissingParameterError{Name: missing[0]}
	}
	return out, nil
}

// toAction builds the executor action for a substituted step.
func (s Step) toAction() (action.Action, error) {
	a := action.Action{
		Name:    s.Action,
		Value:   s.Value,
		Args:    s.Args,
		Timeout: time.Duration(s.TimeoutMs) * time.Millisecond,
	}
	switch s.Action {
	case action.Navigate:
		// The URL may be given as target or value.
		if a.Value == "" {
			a.Value = s.Target
		}
		return a, a.Validate()
	case action.Key:
		if a.Value == "" {
			a.Value = s.Target
		}
		return a, a.Validate()
	}
	if s.Target != "" {
		sel, err := action.ParseSelector(s.Target, s.Nth)
		if err != nil {
			return a, err
		}
		a.Target = sel
	}
	if s.Action == action.Drag && s.Value != "" {
		to, err := action.ParseSelector(s.Value, 0)
		if err != nil {
			return a, fmt.Errorf("drag destination: %w", err)
		}
		a.To = to
		a.Value = ""
	}
	return a, a.Validate()
}

// Planned is one step after substitution and validation.
type Planned struct {
	Index  int
	Step   Step
	Action action.Action
}

// Plan substitutes values into every step and validates it, without
// touching the page.
func (w *Workflow) Plan(values map[string]string) ([]Planned, error) {
	plan := make([]Planned, 0, len(w.Steps))
	for i, st := range w.Steps {
		sub, err := st.substitute(values)
		if err != nil {
			return nil, err
		}
		a, err := sub.toAction()
		if err != nil {
			return nil, &InvalidStepError{Index: i, Name: st.Label(), Err: err}
		}
		plan = append(plan, Planned{Index: i, Step: sub, Action: a})
	}
	return plan, nil
}
