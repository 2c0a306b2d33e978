package action

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Action names accepted by Perform. They double as recorded command names
// and workflow step actions.
const (
	Navigate    = "navigate"
	Click       = "click"
	TripleClick = "triple-click"
	Type        = "type"
	Key         = "key"
	Hover       = "hover"
	Scroll      = "scroll"
	Select      = "select"
	Wait        = "wait"
	Screenshot  = "screenshot"
	Back        = "back"
	Refresh     = "refresh"
	Drag        = "drag"
	Dialog      = "dialog"
	Resize      = "resize"
	MouseMove   = "mouse-move"
	PDF         = "pdf"
	Title       = "title"
	URL         = "url"
)

var known = map[string]bool{
	Navigate: true, Click: true, TripleClick: true, Type: true, Key: true,
	Hover: true, Scroll: true, Select: true, Wait: true, Screenshot: true,
	Back: true, Refresh: true, Drag: true, Dialog: true, Resize: true,
	MouseMove: true, PDF: true, Title: true, URL: true,
}

// Known reports whether name is an action Perform understands.
func Known(name string) bool { return known[name] }

// NeedsTarget reports whether the action cannot run without a selector.
func NeedsTarget(name string) bool {
	switch name {
	case Click, TripleClick, Type, Hover, Select, Drag, MouseMove:
		return true
	}
	return false
}

// NeedsValue reports whether the action cannot run without a value.
func NeedsValue(name string) bool {
	switch name {
	case Navigate, Type, Key, Select:
		return true
	}
	return false
}

// Action is one request to the executor.
type Action struct {
	Name   string
	Target Selector
	// To is the drop target of a drag.
	To    Selector
	Value string
	// Args carries action specific options, decoded into the *Options
	// structs below.
	Args    map[string]any
	Timeout time.Duration
}

// Validate checks the action's shape without touching the page.
func (a Action) Validate() error {
	if !Known(a.Name) {
		return fmt.Errorf("unknown action %q", a.Name)
	}
	if NeedsTarget(a.Name) && a.Target == nil {
		return fmt.Errorf("%s requires a target", a.Name)
	}
	if a.Name == Drag && a.To == nil {
		return fmt.Errorf("drag requires a destination")
	}
	if NeedsValue(a.Name) && a.Value == "" {
		return fmt.Errorf("%s requires a value", a.Name)
	}
	if a.Name == Wait && a.Target == nil {
		var w WaitOptions
		if err := decodeArgs(a.Args, &w); err != nil {
			return err
		}
		if w.Text == "" && w.TextGone == "" && w.DurationMs <= 0 {
			return fmt.Errorf("wait requires a target, text or duration")
		}
	}
	return nil
}

// Result is what a successful Perform reports.
type Result struct {
	Action   string `json:"action"`
	Selector string `json:"selector,omitempty"`
	// Value is the read-back value of type/select, or the title/url read.
	Value string `json:"value,omitempty"`
	// Path is where a screenshot or PDF was written.
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// ScrollOptions scroll by a pixel delta when no target is given.
type ScrollOptions struct {
	DX float64 `mapstructure:"dx"`
	DY float64 `mapstructure:"dy"`
}

type SelectOptions struct {
	ByLabel bool `mapstructure:"by_label"`
	ByIndex bool `mapstructure:"by_index"`
}

type ScreenshotOptions struct {
	Full    bool   `mapstructure:"full"`
	Path    string `mapstructure:"path"`
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
}

// WaitOptions select the wait condition. Mode applies to a target and is
// one of "present", "visible" (default) or "gone".
type WaitOptions struct {
	Mode       string `mapstructure:"mode"`
	Text       string `mapstructure:"text"`
	TextGone   string `mapstructure:"text_gone"`
	DurationMs int    `mapstructure:"duration_ms"`
}

type DialogOptions struct {
	Dismiss bool   `mapstructure:"dismiss"`
	Text    string `mapstructure:"text"`
}

type ResizeOptions struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type PDFOptions struct {
	Path       string `mapstructure:"path"`
	Landscape  bool   `mapstructure:"landscape"`
	Background bool   `mapstructure:"background"`
}

// decodeArgs fills out from a loosely typed args map. Values recorded as
// strings ("true", "250") decode into bool and numeric fields.
func decodeArgs(args map[string]any, out any) error {
	if len(args) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("decode action args: %w", err)
	}
	return nil
}

// condition builds the wait condition for a wait action.
func (a Action) condition() (Condition, error) {
	var w WaitOptions
	if err := decodeArgs(a.Args, &w); err != nil {
		return Condition{}, err
	}
	switch {
	case w.DurationMs > 0:
		return Sleep(time.Duration(w.DurationMs) * time.Millisecond), nil
	case w.Text != "":
		return TextAppears(w.Text), nil
	case w.TextGone != "":
		return TextDisappears(w.TextGone), nil
	case a.Target == nil:
		return Condition{}, fmt.Errorf("wait requires a target, text or duration")
	}
	switch w.Mode {
	case "present":
		return Present(a.Target), nil
	case "gone":
		return Gone(a.Target), nil
	case "", "visible":
		return Visible(a.Target), nil
	}
	return Condition{}, fmt.Errorf("unknown wait mode %q", w.Mode)
}
