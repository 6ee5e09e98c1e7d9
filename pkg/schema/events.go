package schema

import "time"

// Event type constants published by the engine and the variable store.
const (
	EventRunStarted        = "run_started"
	EventRunCompleted      = "run_completed"
	EventRunFailed         = "run_failed"
	EventRunCancelled      = "run_cancelled"
	EventStepStatusChanged = "step_status_changed"
	EventProgress          = "progress"

	EventVariableAdded   = "variable_added"
	EventVariableChanged = "variable_changed"
	EventVariableRemoved = "variable_removed"
)

// RunStatus is the terminal (or in-flight) state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// RunEvent is emitted by the engine while a workflow runs.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	StepIndex  int       `json:"step_index"`
	Timestamp  time.Time `json:"timestamp"`

	// Set on step_status_changed.
	From StepStatus `json:"from,omitempty"`
	To   StepStatus `json:"to,omitempty"`

	// Set on progress.
	Completed int `json:"completed,omitempty"`
	Total     int `json:"total,omitempty"`

	Message string     `json:"message,omitempty"`
	Result  *RunResult `json:"result,omitempty"`
}

// VariableChange is emitted by the variable store on every mutation.
type VariableChange struct {
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	OldValue  any       `json:"old_value,omitempty"`
	NewValue  any       `json:"new_value,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
