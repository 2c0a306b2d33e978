// Package cdp is a direct Chrome DevTools Protocol client.
//
// A Session owns one websocket to a page target. Any number of goroutines may
// issue commands concurrently; responses are matched to callers by command ID.
// Three goroutines run per session:
//
//	reader     decodes frames and hands them to the dispatcher
//	writer     the only goroutine writing to the socket
//	dispatcher owns the pending-command table and the event subscribers
//
// Callers never share memory with the reader; every handoff is a channel send.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultCommandTimeout applies when Send is called without a timeout.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultEventBuffer is the per-stream event buffer size.
	DefaultEventBuffer = 256

	defaultHandshakeTimeout = 10 * time.Second
	disableTimeout          = 2 * time.Second
	closeGrace              = time.Second
)

// Session is a live connection to one browser target.
type Session struct {
	endpoint string
	target   Target
	conn     *websocket.Conn

	ids atomic.Int64

	ops    chan any
	writes chan writeRequest
	done   chan struct{}
	wg     sync.WaitGroup

	failOnce sync.Once
	err      error // terminal error, written once before done is closed

	allowRemote      bool
	eventBuffer      int
	defaultTimeout   time.Duration
	handshakeTimeout time.Duration
	httpClient       *http.Client
	logger           *slog.Logger
	audit            *auditLogger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithAllowRemote permits connecting to non-loopback hosts.
func WithAllowRemote(allow bool) Option {
	return func(s *Session) { s.allowRemote = allow }
}

// WithEventBuffer sets the per-stream event buffer size.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithDefaultTimeout sets the timeout used by Send when none is given.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithHTTPClient sets the client used for endpoint discovery.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// Connect opens a session. endpoint is either a ws:// debugger URL or the
// http:// base of a debug endpoint, in which case a page target is chosen
// through discovery.
func Connect(ctx context.Context, endpoint string, opts ...Option) (*Session, error) {
	s := &Session{
		endpoint:         endpoint,
		ops:              make(chan any),
		writes:           make(chan writeRequest),
		done:             make(chan struct{}),
		eventBuffer:      DefaultEventBuffer,
		defaultTimeout:   DefaultCommandTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
		httpClient:       &http.Client{Timeout: defaultHandshakeTimeout},
		logger:           slog.Default().With("component", "cdp"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = newAuditLogger(s.logger)

	wsURL, err := s.resolve(ctx, endpoint)
	if err == nil {
		err = s.dial(ctx, wsURL)
	}
	if err != nil {
		s.httpClient.CloseIdleConnections()
		return nil, err
	}

	s.wg.Add(3)
	go s.readLoop()
	go s.writeLoop()
	go s.dispatchLoop()

	s.logger.Debug("connected", "endpoint", wsURL, "target", truncateID(s.target.ID))
	return s, nil
}

func (s *Session) resolve(ctx context.Context, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &ConnectionError{Endpoint: endpoint, Kind: ErrUnreachable, Cause: err}
	}
	if !s.allowRemote && !IsLoopbackHost(u.Hostname()) {
		return "", &ConnectionError{Endpoint: endpoint, Kind: ErrRemoteNotAllowed}
	}

	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https":
		t, err := PageTarget(ctx, s.httpClient, endpoint)
		if err != nil {
			return "", err
		}
		s.target = t
		ws, err := url.Parse(t.WebSocketDebuggerURL)
		if err != nil || ws.Host == "" {
			return "", &ConnectionError{Endpoint: endpoint, Kind: ErrHandshakeFailed,
				Cause: fmt.Errorf("bad debugger url %q", t.WebSocketDebuggerURL)}
		}
		// Browsers bound to 0.0.0.0 advertise that address; keep the host we reached.
		ws.Host = u.Host
		return ws.String(), nil
	default:
		return "", &ConnectionError{Endpoint: endpoint, Kind: ErrUnreachable,
			Cause: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

func (s *Session) dial(ctx context.Context, wsURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err == nil {
		s.conn = conn
		return nil
	}

	kind := ErrUnreachable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		kind = ErrConnectTimeout
	case errors.Is(err, websocket.ErrBadHandshake):
		kind = ErrHandshakeFailed
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrConnectTimeout
	}
	return &ConnectionError{Endpoint: wsURL, Kind: kind, Cause: err}
}

// Target returns the page target chosen during discovery. It is zero when
// the session was opened with a websocket URL.
func (s *Session) Target() Target { return s.target }

// Endpoint returns the endpoint passed to Connect.
func (s *Session) Endpoint() string { return s.endpoint }

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, or nil while the session is live.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close terminates the session and waits for its goroutines. Pending
// commands fail with ErrSessionClosed.
func (s *Session) Close() error {
	select {
	case <-s.done:
	default:
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
	}
	s.fail(ErrSessionClosed)
	s.wg.Wait()
	s.httpClient.CloseIdleConnections()
	return nil
}

// Send issues a command and waits for its response. timeout <= 0 uses the
// session default; a context deadline that expires first wins. On timeout the
// pending slot is released immediately and a *CommandTimeoutError returned.
func (s *Session) Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}

	id := s.ids.Add(1)
	data, err := json.Marshal(command{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	ch := make(chan response, 1)
	if err := s.submit(registerOp{id: id, ch: ch}); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	s.audit.logCommand(id, method)

	req := writeRequest{data: data, result: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.done:
		return nil, fmt.Errorf("%s: %w", method, s.err)
	}
	select {
	case err := <-req.result:
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return nil, fmt.Errorf("write %s: %w", method, s.err)
		}
	case <-s.done:
		return nil, fmt.Errorf("%s: %w", method, s.err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.err)
		}
		return resp.result, nil
	case <-timer.C:
		_ = s.submit(cancelOp{id: id})
		return nil, &CommandTimeoutError{ID: id, Method: method, After: timeout}
	case <-ctx.Done():
		_ = s.submit(cancelOp{id: id})
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Call sends a command with the default timeout and decodes its result into
// result, which may be nil.
func (s *Session) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := s.Send(ctx, method, params, 0)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Subscribe returns a stream of events for domain. The first subscriber of a
// domain enables it; closing the last stream disables it.
func (s *Session) Subscribe(ctx context.Context, domain string) (*Stream, error) {
	if domain == "" || strings.Contains(domain, ".") {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}
	st := &Stream{
		domain:  domain,
		session: s,
		events:  make(chan Event, s.eventBuffer),
	}

	reply := make(chan int, 1)
	if err := s.submit(subscribeOp{stream: st, reply: reply}); err != nil {
		return nil, err
	}
	if n := <-reply; n == 1 {
		if _, err := s.Send(ctx, domain+".enable", nil, 0); err != nil && !isMethodNotFound(err) {
			st.closeOnce.Do(func() { _, _ = st.unsubscribe() })
			return nil, fmt.Errorf("enable %s: %w", domain, err)
		}
	}
	return st, nil
}

func isMethodNotFound(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Code == -32601
}

// fail records the terminal error, wakes every goroutine and closes the socket.
func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) submit(op any) error {
	select {
	case s.ops <- op:
		return nil
	case <-s.done:
		return s.err
	}
}

type writeRequest struct {
	data   []byte
	result chan error
}

type registerOp struct {
	id int64
	ch chan response
}

type cancelOp struct{ id int64 }

type subscribeOp struct {
	stream *Stream
	reply  chan int
}

type unsubscribeOp struct {
	stream *Stream
	reply  chan int
}

type pendingOp struct{ reply chan int }

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.fail(ErrTargetClosed)
			} else {
				s.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			}
			return
		}

		f := new(inbound)
		if err := json.Unmarshal(data, f); err != nil {
			s.logger.Warn("dropping malformed frame", "error", err, "frame", truncate(string(data), 120))
			continue
		}
		select {
		case s.ops <- f:
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.writes:
			req.result <- s.conn.WriteMessage(websocket.TextMessage, req.data)
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatchLoop() {
	defer s.wg.Done()

	pending := make(map[int64]chan response)
	subs := make(map[string]map[*Stream]struct{})

	defer func() {
		for id, ch := range pending {
			ch <- response{err: s.err}
			delete(pending, id)
		}
		for _, set := range subs {
			for st := range set {
				close(st.events)
			}
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case op := <-s.ops:
			switch op := op.(type) {
			case registerOp:
				pending[op.id] = op.ch
			case cancelOp:
				delete(pending, op.id)
			case subscribeOp:
				set := subs[op.stream.domain]
				if set == nil {
					set = make(map[*Stream]struct{})
					subs[op.stream.domain] = set
				}
				set[op.stream] = struct{}{}
				op.reply <- len(set)
			case unsubscribeOp:
				set := subs[op.stream.domain]
				if _, ok := set[op.stream]; !ok {
					op.reply <- -1
					continue
				}
				delete(set, op.stream)
				close(op.stream.events)
				if len(set) == 0 {
					delete(subs, op.stream.domain)
				}
				op.reply <- len(set)
			case pendingOp:
				op.reply <- len(pending)
			case *inbound:
				s.route(op, pending, subs)
			}
		}
	}
}

func (s *Session) route(f *inbound, pending map[int64]chan response, subs map[string]map[*Stream]struct{}) {
	if f.isEvent() {
		if s.targetGone(f) {
			s.fail(ErrTargetClosed)
			return
		}
		ev := Event{Method: f.Method, Params: f.Params, SessionID: f.SessionID}
		for st := range subs[domainOf(f.Method)] {
			st.deliver(ev, s.logger)
		}
		return
	}

	ch, ok := pending[f.ID]
	if !ok {
		s.logger.Debug("discarding response for unknown or expired command", "id", f.ID)
		return
	}
	delete(pending, f.ID)
	if f.Error != nil {
		ch <- response{err: f.Error}
		return
	}
	ch <- response{result: f.Result}
}

func (s *Session) targetGone(f *inbound) bool {
	switch f.Method {
	case "Inspector.detached":
		return true
	case "Target.targetDestroyed", "Target.detachedFromTarget":
		if s.target.ID == "" {
			return false
		}
		var p struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(f.Params, &p); err != nil {
			return false
		}
		return p.TargetID == s.target.ID
	}
	return false
}

// pendingCount reports how many commands are awaiting a response.
func (s *Session) pendingCount() int {
	reply := make(chan int, 1)
	if err := s.submit(pendingOp{reply: reply}); err != nil {
		return 0
	}
	return <-reply
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
