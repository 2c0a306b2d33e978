package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// BrowserVersion is the payload of /json/version.
type BrowserVersion struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version,omitempty"`
	WebKitVersion        string `json:"WebKit-Version,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Target is one entry of /json/list.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Description          string `json:"description,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
}

// IsPage reports whether the target is a regular tab.
func (t Target) IsPage() bool { return t.Type == "page" }

// Version fetches /json/version from the debug endpoint at base.
func Version(ctx context.Context, client *http.Client, base string) (BrowserVersion, error) {
	var v BrowserVersion
	if err := getJSON(ctx, client, http.MethodGet, base, "/json/version", &v); err != nil {
		return v, err
	}
	return v, nil
}

// Targets fetches /json/list.
func Targets(ctx context.Context, client *http.Client, base string) ([]Target, error) {
	var ts []Target
	if err := getJSON(ctx, client, http.MethodGet, base, "/json/list", &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// PageTarget picks the page to drive: the first page that is not blank and
// not an internal chrome:// page, else the first page of any kind.
func PageTarget(ctx context.Context, client *http.Client, base string) (Target, error) {
	ts, err := Targets(ctx, client, base)
	if err != nil {
		return Target{}, err
	}
	var fallback *Target
	for i := range ts {
		t := ts[i]
		if !t.IsPage() || t.WebSocketDebuggerURL == "" {
			continue
		}
		if t.URL != "about:blank" && !strings.HasPrefix(t.URL, "chrome://") {
			return t, nil
		}
		if fallback == nil {
			fallback = &ts[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Target{}, &ConnectionError{Endpoint: base, Kind: ErrNoPageTarget}
}

// NewTab opens a tab, optionally at rawURL.
func NewTab(ctx context.Context, client *http.Client, base, rawURL string) (Target, error) {
	path := "/json/new"
	if rawURL != "" {
		path += "?" + url.QueryEscape(rawURL)
	}
	var t Target
	// Current Chrome only accepts PUT here.
	if err := getJSON(ctx, client, http.MethodPut, base, path, &t); err != nil {
		return t, err
	}
	return t, nil
}

// ActivateTab brings a tab to the foreground.
func ActivateTab(ctx context.Context, client *http.Client, base, id string) error {
	return getJSON(ctx, client, http.MethodGet, base, "/json/activate/"+url.PathEscape(id), nil)
}

// CloseTab closes a tab.
func CloseTab(ctx context.Context, client *http.Client, base, id string) error {
	return getJSON(ctx, client, http.MethodGet, base, "/json/close/"+url.PathEscape(id), nil)
}

// Reachable reports whether a debug endpoint answers at base.
func Reachable(ctx context.Context, client *http.Client, base string) bool {
	_, err := Version(ctx, client, base)
	return err == nil
}

// BaseURL formats the http base of a debug endpoint.
func BaseURL(host string, port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port)))
}

func getJSON(ctx context.Context, client *http.Client, method, base, path string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimSuffix(base, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return &ConnectionError{Endpoint: base, Kind: ErrUnreachable, Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		kind := ErrUnreachable
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = ErrConnectTimeout
		}
		return &ConnectionError{Endpoint: base, Kind: kind, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &ConnectionError{Endpoint: base, Kind: ErrConnectionLost, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{Endpoint: base, Kind: ErrHandshakeFailed,
			Cause: fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ConnectionError{Endpoint: base, Kind: ErrHandshakeFailed, Cause: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

// IsLoopbackHost reports whether host refers to the local machine.
func IsLoopbackHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
	if h == "localhost" || h == "0.0.0.0" || h == "::" {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
