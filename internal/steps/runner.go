package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/rigflow/internal/logging"
	"github.com/rendis/rigflow/pkg/schema"
)

// Runner executes steps through the registry. Condition and Loop use it for
// their nested lists; the engine uses RunStep for top-level steps.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a Runner over registry. A nil logger uses slog.Default().
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// Registry returns the registry the runner resolves executors from.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// RunStep resolves the executor for step and invokes it. An unknown type is
// a failed result.
func (r *Runner) RunStep(ctx context.Context, step *schema.Step, ec *ExecutionContext) *schema.StepResult {
	if step == nil || step.Params == nil {
		return schema.Failf(schema.ErrCodeValidation, "step at %s has no parameters", ec.Path)
	}
	exec, err := r.registry.Get(step.Type)
	if err != nil {
		return schema.FailFromError(schema.ErrCodeNotFound, err)
	}

	ctx = logging.WithStepPath(ctx, ec.Path)
	r.logger.DebugContext(ctx, "step started",
		slog.String("step_type", string(step.Type)),
		slog.Int("depth", ec.Depth),
	)

	res := Invoke(ctx, exec, step.Params, ec, r.logger)

	r.logger.DebugContext(ctx, "step finished",
		slog.String("step_type", string(step.Type)),
		slog.String("outcome", string(res.Outcome)),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// RunSteps runs an ordered nested list. Disabled steps are skipped. The first
// failed, cancelled, break or continue result stops the list and is returned
// unchanged; otherwise the aggregate is ok. NextStepIndex is ignored here.
func (r *Runner) RunSteps(ctx context.Context, steps []*schema.Step, parent *ExecutionContext) *schema.StepResult {
	if parent == nil {
		parent = &ExecutionContext{}
	}

	executed := 0
	for i, step := range steps {
		if step == nil || !step.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return schema.Cancelled("")
		}

		res := r.RunStep(ctx, step, parent.Derive(i, len(steps)))
		if res.Outcome != schema.OutcomeOK {
			return res
		}
		executed++
	}

	return schema.OK(fmt.Sprintf("executed %d steps", executed))
}

// Validate checks every enabled step in the tree: the step shape, that an
// executor exists, and the executor's own parameter rules. Paths are
// rooted at prefix, e.g. "steps".
func (r *Runner) Validate(prefix string, steps []*schema.Step) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	r.validate(result, prefix, steps)
	return result
}

func (r *Runner) validate(result *schema.ValidationResult, prefix string, steps []*schema.Step) {
	for i, step := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		if step == nil {
			result.AddError(path, schema.ErrCodeValidation, "step is nil")
			continue
		}
		if !step.Enabled {
			continue
		}

		shape := step.Validate()
		result.MergeAt(path, shape)
		if !shape.Valid() {
			continue
		}

		exec, err := r.registry.Get(step.Type)
		if err != nil {
			result.AddError(path+".type", schema.ErrCodeNotFound, err.(*schema.Error).Message)
			continue
		}
		if err := exec.Validate(step.Params); err != nil {
			addValidationError(result, path+".params", err)
		}

		for _, nested := range schema.Nested(step.Params) {
			r.validate(result, path+".params."+nested.Field, nested.Steps)
		}
	}
}

// addValidationError copies the issues carried by a validation error, or the
// error message when it carries none.
func addValidationError(result *schema.ValidationResult, path string, err error) {
	if flowErr, ok := err.(*schema.Error); ok {
		if issues, ok := flowErr.Details["errors"].([]schema.ValidationIssue); ok && len(issues) > 0 {
			result.MergeAt(path, &schema.ValidationResult{Errors: issues})
			return
		}
		result.AddError(path, flowErr.Code, flowErr.Message)
		return
	}
	result.AddError(path, schema.ErrCodeValidation, err.Error())
}
