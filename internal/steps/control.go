package steps

import (
	"context"
	"log/slog"

	"github.com/rendis/rigflow/pkg/schema"
)

// BreakExecutor stops the nearest enclosing loop.
type BreakExecutor struct {
	deps Deps
}

// NewBreakExecutor creates a BreakExecutor.
func NewBreakExecutor(deps Deps) *BreakExecutor {
	return &BreakExecutor{deps: deps}
}

func (e *BreakExecutor) StepType() schema.StepType { return schema.StepTypeBreak }

func (e *BreakExecutor) Validate(p schema.Parameter) error {
	_, err := paramsAs[*schema.BreakParams](p, schema.StepTypeBreak)
	return err
}

// Execute outside a loop is a no-op with a warning.
func (e *BreakExecutor) Execute(ctx context.Context, _ schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	if !ec.InLoop {
		e.deps.logger().WarnContext(ctx, "break outside a loop ignored", slog.String("step", ec.Path))
		return schema.OK("break outside a loop ignored")
	}
	return schema.Break()
}

// ContinueExecutor skips to the next iteration of the nearest enclosing loop.
type ContinueExecutor struct {
	deps Deps
}

// NewContinueExecutor creates a ContinueExecutor.
func NewContinueExecutor(deps Deps) *ContinueExecutor {
	return &ContinueExecutor{deps: deps}
}

func (e *ContinueExecutor) StepType() schema.StepType { return schema.StepTypeContinue }

func (e *ContinueExecutor) Validate(p schema.Parameter) error {
	_, err := paramsAs[*schema.ContinueParams](p, schema.StepTypeContinue)
	return err
}

func (e *ContinueExecutor) Execute(ctx context.Context, _ schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	if !ec.InLoop {
		e.deps.logger().WarnContext(ctx, "continue outside a loop ignored", slog.String("step", ec.Path))
		return schema.OK("continue outside a loop ignored")
	}
	return schema.Continue()
}
