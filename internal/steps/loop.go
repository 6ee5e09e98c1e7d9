package steps

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/rendis/rigflow/pkg/schema"
)

// LoopExecutor runs its body a bounded number of times.
type LoopExecutor struct {
	deps   Deps
	runner *Runner
}

// NewLoopExecutor creates a LoopExecutor running its body with runner.
func NewLoopExecutor(deps Deps, runner *Runner) *LoopExecutor {
	return &LoopExecutor{deps: deps, runner: runner}
}

func (e *LoopExecutor) StepType() schema.StepType { return schema.StepTypeLoop }

func (e *LoopExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.LoopParams](p, schema.StepTypeLoop)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	if params.CountExpression == "" && params.Count < 0 {
		vr.AddError("count", schema.ErrCodeValidation, "count must not be negative")
	}
	return vr.ToError()
}

// Execute evaluates the count once, then per iteration: checks cancellation,
// checks the exit condition, sets the counter variable and runs the body.
// Only iterations that ran to the end of the body (or hit Continue) count as
// completed.
func (e *LoopExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.LoopParams)

	count := params.Count
	if params.CountExpression != "" {
		v, err := e.deps.Eval.EvaluateNumber(ctx, params.CountExpression)
		if err != nil {
			return schema.FailFromError(schema.ErrCodeExpression, err)
		}
		if v < 0 || v > math.MaxInt32 {
			return schema.Failf(schema.ErrCodeValidation, "loop count %v out of range", v)
		}
		count = int(v)
	}

	completed, iterations, exitedEarly := 0, 0, false
	output := func() map[string]any {
		return map[string]any{
			"completedCount": completed,
			"iterations":     iterations,
			"exitedEarly":    exitedEarly,
		}
	}

	logger := e.deps.logger()
	for i := 1; i <= count; i++ {
		if ctx.Err() != nil {
			res := schema.Cancelled(fmt.Sprintf("loop cancelled before iteration %d", i))
			res.Output = output()
			return res
		}

		if params.ExitCondition != "" && e.deps.Eval.EvaluateBoolean(ctx, params.ExitCondition) {
			exitedEarly = true
			logger.DebugContext(ctx, "loop exit condition met", slog.Int("iteration", i))
			break
		}

		iterations++
		if params.CounterVariable != "" {
			err := e.deps.Vars.Upsert(params.CounterVariable, int64(i), schema.VariableTypeInteger, provenance(schema.StepTypeLoop, ec))
			if err != nil {
				return schema.FailFromError(schema.ErrCodeExecution, err)
			}
		}

		res := e.runner.RunSteps(ctx, params.Body, ec.WithLoop(i, count))
		switch res.Outcome {
		case schema.OutcomeFailed:
			failed := schema.Fail(wrapIterationError(i, res))
			failed.Output = output()
			return failed
		case schema.OutcomeCancelled:
			res.Output = output()
			return res
		case schema.OutcomeBreak:
			exitedEarly = true
		case schema.OutcomeContinue, schema.OutcomeOK:
			completed++
			continue
		}
		break
	}

	return schema.OKWithOutput(
		fmt.Sprintf("loop completed %d of %d iterations", completed, count), output())
}

func wrapIterationError(iteration int, res *schema.StepResult) *schema.Error {
	code, msg := schema.ErrCodeExecution, res.Message
	var cause error
	if res.Err != nil {
		code, msg, cause = res.Err.Code, res.Err.Message, res.Err
	}
	err := schema.NewErrorf(code, "loop iteration %d failed: %s", iteration, msg).
		WithDetails(map[string]any{"iteration": iteration})
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
