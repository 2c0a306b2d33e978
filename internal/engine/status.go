package engine

import (
	"context"

	"github.com/neboloop/domguard/internal/cdp"
	"github.com/neboloop/domguard/internal/takeover"
)

// Status is what `domguard status` reports.
type Status struct {
	Endpoint        string            `json:"endpoint"`
	Reachable       bool              `json:"reachable"`
	Browser         string            `json:"browser,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	Page            *cdp.Target       `json:"page,omitempty"`
	Recording       string            `json:"recording"`
	SessionID       string            `json:"session_id,omitempty"`
	Takeover        *takeover.Request `json:"takeover,omitempty"`
	Correction      bool              `json:"correction"`
	DataDir         string            `json:"data_dir"`
	Error           string            `json:"error,omitempty"`
}

// Status gathers endpoint, recording and takeover state without opening a
// protocol session. An unreachable browser is reported, not returned.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Endpoint:   e.endpoint,
		Recording:  e.recorder.State().String(),
		Correction: e.correction.Enabled,
		DataDir:    e.dataDir,
	}
	if s, err := e.recorder.Active(); err == nil && s != nil {
		st.SessionID = s.ID
	}
	req, err := e.takeover.Status()
	if err != nil {
		return nil, err
	}
	st.Takeover = req

	base, err := e.httpBase()
	if err != nil {
		return nil, err
	}
	v, err := cdp.Version(ctx, e.httpClient, base)
	if err != nil {
		st.Error = err.Error()
		return st, nil
	}
	st.Reachable = true
	st.Browser = v.Browser
	st.ProtocolVersion = v.ProtocolVersion
	if t, err := cdp.PageTarget(ctx, e.httpClient, base); err == nil {
		st.Page = &t
	}
	return st, nil
}

// Tabs lists the page targets.
func (e *Engine) Tabs(ctx context.Context) ([]cdp.Target, error) {
	base, err := e.httpBase()
	if err != nil {
		return nil, err
	}
	all, err := cdp.Targets(ctx, e.httpClient, base)
	if err != nil {
		return nil, err
	}
	var pages []cdp.Target
	for _, t := range all {
		if t.IsPage() {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// NewTab opens rawURL in a new tab.
func (e *Engine) NewTab(ctx context.Context, rawURL string) (cdp.Target, error) {
	base, err := e.httpBase()
	if err != nil {
		return cdp.Target{}, err
	}
	return cdp.NewTab(ctx, e.httpClient, base, rawURL)
}

// SwitchTab brings the tab to the front. Later invocations drive it.
func (e *Engine) SwitchTab(ctx context.Context, id string) error {
	base, err := e.httpBase()
	if err != nil {
		return err
	}
	return cdp.ActivateTab(ctx, e.httpClient, base, id)
}

// CloseTab closes the tab.
func (e *Engine) CloseTab(ctx context.Context, id string) error {
	base, err := e.httpBase()
	if err != nil {
		return err
	}
	return cdp.CloseTab(ctx, e.httpClient, base, id)
}
