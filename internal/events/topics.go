package events

import "time"

const (
	TopicActionAttempted = "action.attempted"
	TopicTakeoverChanged = "takeover.changed"
	TopicWorkflowStep    = "workflow.step"
)

// ActionAttempted is emitted once per logical action, after recovery.
type ActionAttempted struct {
	Command  string
	Args     map[string]any
	Selector string
	PageURL  string
	Started  time.Time
	Duration time.Duration
	Attempts int
	// Artifact is the file a screenshot or pdf wrote.
	Artifact string
	Err      error
}

// TakeoverChanged is emitted on every takeover transition.
type TakeoverChanged struct {
	ID     string
	Reason string
	Status string
}

// WorkflowStep is emitted when a workflow step finishes.
type WorkflowStep struct {
	RunID      string
	WorkflowID string
	Index      int
	Name       string
	Status     string
	Err        string
}
