package recorder

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a recorded session.
type Status string

const (
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports whether the session can still change.
func (s Status) Active() bool {
	return s == StatusRecording || s == StatusPaused
}

// ActionStatus is the result of one recorded action.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
)

// ActionRecord is one attempted action. Records are never modified after
// they are appended.
type ActionRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	DurationMs    int64          `json:"duration_ms"`
	Command       string         `json:"command"`
	Args          map[string]any `json:"args"`
	Status        ActionStatus   `json:"status"`
	Error         string         `json:"error,omitempty"`
	Selector      string         `json:"selector,omitempty"`
	PageURL       string         `json:"page_url,omitempty"`
	ScreenshotRef string         `json:"screenshot,omitempty"`
}

// Metadata is free-form context stored with a session.
type Metadata struct {
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags"`
	BrowserVersion string   `json:"browser_version,omitempty"`
	Viewport       []int    `json:"viewport,omitempty"`
	FailureReason  string   `json:"failure_reason,omitempty"`
}

// MarshalJSON writes tags as an empty list rather than null.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	p := plain(m)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return json.Marshal(p)
}

// Session is an ordered, append-only log of actions.
type Session struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	InitialURL string         `json:"initial_url,omitempty"`
	Status     Status         `json:"status"`
	Metadata   Metadata       `json:"metadata"`
	Actions    []ActionRecord `json:"actions"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID                string         `json:"id"`
	Name              string         `json:"name,omitempty"`
	Status            Status         `json:"status"`
	TotalActions      int            `json:"total_actions"`
	SuccessfulActions int            `json:"successful_actions"`
	FailedActions     int            `json:"failed_actions"`
	TotalDurationMs   int64          `json:"total_duration_ms"`
	SuccessRate       float64        `json:"success_rate"`
	ActionCounts      map[string]int `json:"action_counts"`
	StartedAt         time.Time      `json:"started_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
}

// Summary computes totals over the recorded actions.
func (s *Session) Summary() Summary {
	sum := Summary{
		ID:           s.ID,
		Name:         s.Name,
		Status:       s.Status,
		TotalActions: len(s.Actions),
		ActionCounts: map[string]int{},
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
	}
	for _, a := range s.Actions {
		if a.Status == ActionSuccess {
			sum.SuccessfulActions++
		} else {
			sum.FailedActions++
		}
		sum.TotalDurationMs += a.DurationMs
		sum.ActionCounts[a.Command]++
	}
	if sum.TotalActions > 0 {
		sum.SuccessRate = float64(sum.SuccessfulActions) / float64(sum.TotalActions)
	}
	return sum
}

// lastFailed reports whether the most recent action failed.
func (s *Session) lastFailed() bool {
	return len(s.Actions) > 0 && s.Actions[len(s.Actions)-1].Status == ActionFailed
}
