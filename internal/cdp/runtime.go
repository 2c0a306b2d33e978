package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	cdpruntime "github.com/chromedp/cdproto/runtime"
)

// RemoteObject is the subset of Runtime.RemoteObject the executor reads.
type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	ClassName   string          `json:"className,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
}

type exceptionDetails struct {
	Text         string        `json:"text"`
	LineNumber   int64         `json:"lineNumber"`
	ColumnNumber int64         `json:"columnNumber"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

type evaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

// Evaluate runs expression in the page and returns its JSON value. Promises
// are awaited. A thrown exception becomes an *EvaluationError; undefined
// yields a nil result.
func (s *Session) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	params := cdpruntime.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(true)

	var res evaluateResult
	if err := s.Call(ctx, cdpruntime.CommandEvaluate, params, &res); err != nil {
		return nil, err
	}
	if ex := res.ExceptionDetails; ex != nil {
		text := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			text = ex.Exception.Description
		}
		return nil, &EvaluationError{Text: text, Line: ex.LineNumber, Col: ex.ColumnNumber}
	}
	if res.Result.Type == "undefined" {
		return nil, nil
	}
	return res.Result.Value, nil
}

// EvaluateInto runs expression and decodes its value into v.
func (s *Session) EvaluateInto(ctx context.Context, expression string, v any) error {
	raw, err := s.Evaluate(ctx, expression)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}
