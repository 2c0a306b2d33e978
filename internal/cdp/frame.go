package cdp

import (
	"encoding/json"
	"strings"
)

// command is an outbound frame. Exactly one response is expected per ID.
type command struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// inbound is any frame read from the browser. Responses carry an ID, events
// carry a method and no ID.
type inbound struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ProtocolError  `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

func (f *inbound) isEvent() bool {
	return f.ID == 0 && f.Method != ""
}

// response is what the dispatcher hands to the caller waiting on an ID.
type response struct {
	result json.RawMessage
	err    error
}

// Event is an unsolicited notification from the browser.
type Event struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Domain returns the protocol domain the event belongs to ("Runtime" for
// "Runtime.consoleAPICalled").
func (e Event) Domain() string {
	return domainOf(e.Method)
}

// Decode unmarshals the event params into v.
func (e Event) Decode(v any) error {
	if len(e.Params) == 0 {
		return nil
	}
	return json.Unmarshal(e.Params, v)
}

func domainOf(method string) string {
	if i := strings.IndexByte(method, '.'); i > 0 {
		return method[:i]
	}
	return method
}
