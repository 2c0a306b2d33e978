// Package cdptest runs an in-process DevTools endpoint for tests. It serves
// the HTTP discovery routes and a websocket that answers commands through
// per-method handlers.
package cdptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Handler answers one command. The returned value is marshaled as the
// result; an *Error is sent as a protocol error.
type Handler func(params json.RawMessage) (any, error)

// ErrNoReply makes the server swallow the command, simulating a browser
// that never answers.
var ErrNoReply = errors.New("cdptest: no reply")

// Error is a protocol error returned to the client.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Message) }

// Call is a command received by the server.
type Call struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Target mirrors an entry of /json/list.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Server is a fake browser debug endpoint.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	conns    map[net.Conn]*sync.Mutex
	targets  []Target
	nextTab  int
	upgrades int
	wg       sync.WaitGroup

	// Connected receives each accepted websocket connection.
	Connected chan struct{}
}

// New starts a server with a single blank page target and registers cleanup
// on t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		handlers:  make(map[string]Handler),
		conns:     make(map[net.Conn]*sync.Mutex),
		Connected: make(chan struct{}, 16),
	}

	r := chi.NewRouter()
	r.Get("/json/version", s.handleVersion)
	r.Get("/json/list", s.handleList)
	r.Get("/json", s.handleList)
	r.Put("/json/new", s.handleNew)
	r.Get("/json/activate/{id}", s.handleActivate)
	r.Get("/json/close/{id}", s.handleClose)
	r.Get("/devtools/page/{id}", s.handleWS)
	r.Get("/devtools/browser/{id}", s.handleWS)

	s.srv = httptest.NewServer(r)
	s.targets = []Target{s.pageTarget("page-1", "about:blank", "")}
	t.Cleanup(s.Close)
	return s
}

// URL returns the http base of the endpoint.
func (s *Server) URL() string { return s.srv.URL }

// WebSocketURL returns the debugger URL of the first page target.
func (s *Server) WebSocketURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[0].WebSocketDebuggerURL
}

// SetTargets replaces the target list. Debugger URLs are filled in for page
// targets that have none.
func (s *Server) SetTargets(ts ...Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range ts {
		if ts[i].Type == "page" && ts[i].WebSocketDebuggerURL == "" {
			ts[i].WebSocketDebuggerURL = s.wsURL(ts[i].ID)
		}
	}
	s.targets = ts
}

// Targets returns the current target list.
func (s *Server) Targets() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Target(nil), s.targets...)
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleEval answers Runtime.evaluate by passing the expression to fn and
// wrapping its return value as a by-value remote object.
func (s *Server) HandleEval(fn func(expr string) (any, error)) {
	s.Handle("Runtime.evaluate", func(params json.RawMessage) (any, error) {
		var p struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: -32602, Message: err.Error()}
		}
		v, err := fn(p.Expression)
		if err != nil {
			var pe *Error
			if errors.As(err, &pe) || errors.Is(err, ErrNoReply) {
				return nil, err
			}
			return map[string]any{
				"result": map[string]any{"type": "object", "subtype": "error", "description": err.Error()},
				"exceptionDetails": map[string]any{
					"text":         "Uncaught",
					"lineNumber":   0,
					"columnNumber": 0,
					"exception":    map[string]any{"type": "object", "description": err.Error()},
				},
			}, nil
		}
		return RemoteValue(v), nil
	})
}

// RemoteValue wraps v the way Runtime.evaluate does with returnByValue.
func RemoteValue(v any) map[string]any {
	if v == nil {
		return map[string]any{"result": map[string]any{"type": "undefined"}}
	}
	typ := "object"
	switch v.(type) {
	case string:
		typ = "string"
	case bool:
		typ = "boolean"
	case int, int64, float64:
		typ = "number"
	}
	return map[string]any{"result": map[string]any{"type": typ, "value": v}}
}

// Calls returns the received commands, filtered to method when non-empty.
func (s *Server) Calls(method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Methods returns the method names of all received commands in order.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Method)
	}
	return out
}

// Emit sends an event to every connected client.
func (s *Server) Emit(method string, params any) error {
	data, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return err
	}
	s.mu.Lock()
	conns := make(map[net.Conn]*sync.Mutex, len(s.conns))
	for c, m := range s.conns {
		conns[c] = m
	}
	s.mu.Unlock()

	for c, m := range conns {
		m.Lock()
		err := wsutil.WriteServerText(c, data)
		m.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Upgrades returns how many websocket connections were accepted.
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// DropConnections closes every websocket without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close shuts the server down.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
	s.wg.Wait()
}

func (s *Server) wsURL(id string) string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/devtools/page/" + id
}

func (s *Server) pageTarget(id, rawURL, title string) Target {
	return Target{ID: id, Type: "page", Title: title, URL: rawURL, WebSocketDebuggerURL: s.wsURL(id)}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"Browser":              "HeadlessChrome/124.0.0.0",
		"Protocol-Version":     "1.3",
		"User-Agent":           "Mozilla/5.0 HeadlessChrome/124.0.0.0",
		"webSocketDebuggerUrl": "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/devtools/browser/b-1",
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Targets())
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	rawURL, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil || rawURL == "" {
		rawURL = "about:blank"
	}
	s.mu.Lock()
	s.nextTab++
	t := s.pageTarget(fmt.Sprintf("tab-%d", s.nextTab), rawURL, "")
	s.targets = append(s.targets, t)
	s.mu.Unlock()
	writeJSON(w, t)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.hasTarget(id) {
		http.Error(w, "No such target id: "+id, http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte("Target activated"))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.targets {
		if t.ID == id {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			_, _ = w.Write([]byte("Target is closing"))
			return
		}
	}
	http.Error(w, "No such target id: "+id, http.StatusNotFound)
}

func (s *Server) hasTarget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = writeMu
	s.upgrades++
	s.mu.Unlock()

	select {
	case s.Connected <- struct{}{}:
	default:
	}

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var c Call
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		s.mu.Lock()
		s.calls = append(s.calls, c)
		h := s.handlers[c.Method]
		s.mu.Unlock()

		// Each command is answered on its own goroutine so slow handlers
		// produce out-of-order responses.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.answer(conn, writeMu, c, h)
		}()
	}
}

func (s *Server) answer(conn net.Conn, writeMu *sync.Mutex, c Call, h Handler) {
	var (
		result any
		err    error
	)
	switch {
	case h != nil:
		result, err = h(c.Params)
	case strings.HasSuffix(c.Method, ".enable"), strings.HasSuffix(c.Method, ".disable"):
		result = struct{}{}
	default:
		err = &Error{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", c.Method)}
	}
	if errors.Is(err, ErrNoReply) {
		return
	}

	frame := map[string]any{"id": c.ID}
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			pe = &Error{Code: -32000, Message: err.Error()}
		}
		frame["error"] = pe
	} else {
		if result == nil {
			result = struct{}{}
		}
		frame["result"] = result
	}
	data, merr := json.Marshal(frame)
	if merr != nil {
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = wsutil.WriteServerText(conn, data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
