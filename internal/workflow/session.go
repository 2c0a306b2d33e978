package workflow

import (
	"net/url"

	"github.com/neboloop/domguard/internal/recorder"
)

const fromSessionTag = "from-session"

// FromSession maps each recorded action to one step, in order.
func FromSession(s *recorder.Session, name string) *Workflow {
	steps := make([]Step, 0, len(s.Actions))
	for _, a := range s.Actions {
		steps = append(steps, Step{
			Name:      a.Command,
			Action:    a.Command,
			Target:    a.Selector,
			Value:     recordedValue(a.Args),
			Args:      extraArgs(a.Args),
			TimeoutMs: 5000,
		})
	}
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return &Workflow{
		ID:          "workflow-" + id,
		Name:        name,
		Description: s.Name,
		Domain:      hostOf(s.InitialURL),
		Tags:        []string{fromSessionTag},
		Steps:       steps,
	}
}

func recordedValue(args map[string]any) string {
	for _, k := range []string{"value", "text", "url", "keys"} {
		if v, ok := args[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// extraArgs keeps recorded options other than the value and target.
func extraArgs(args map[string]any) map[string]any {
	var out map[string]any
	for k, v := range args {
		switch k {
		case "value", "selector", "nth":
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[k] = v
	}
	return out
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
