package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// WorkflowSummary is a listing row for a stored workflow.
type WorkflowSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StepCount   int       `json:"step_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	// NameLike matches names containing the substring, case-insensitively.
	NameLike string
	Limit    int
	Offset   int
}

// RunFilter narrows ListRuns. Results are newest first.
type RunFilter struct {
	WorkflowID string
	Status     schema.RunStatus
	Since      *time.Time
	Limit      int
}

// RunEventRecord is one persisted run event.
type RunEventRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"event_type"`
	StepIndex int             `json:"step_index"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
