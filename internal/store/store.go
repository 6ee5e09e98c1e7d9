package store

import (
	"context"

	"github.com/rendis/rigflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	FindWorkflowByName(ctx context.Context, name string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// User variables
	SaveVariables(ctx context.Context, vars []schema.Variable) error
	LoadVariables(ctx context.Context) ([]schema.Variable, error)

	// Runs
	RecordRun(ctx context.Context, result *schema.RunResult) error
	GetRun(ctx context.Context, id string) (*schema.RunResult, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunResult, error)

	// Run events (append-only)
	AppendRunEvent(ctx context.Context, ev schema.RunEvent) (*RunEventRecord, error)
	GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEventRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
