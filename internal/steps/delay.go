package steps

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// maxDelayMs is the longest delay a time.Duration can hold.
const maxDelayMs = int64(math.MaxInt64 / int64(time.Millisecond))

// DelayExecutor pauses the run.
type DelayExecutor struct {
	deps Deps
}

// NewDelayExecutor creates a DelayExecutor.
func NewDelayExecutor(deps Deps) *DelayExecutor {
	return &DelayExecutor{deps: deps}
}

func (e *DelayExecutor) StepType() schema.StepType { return schema.StepTypeDelay }

func (e *DelayExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.DelayParams](p, schema.StepTypeDelay)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	if params.DurationExpression == "" && params.DurationMs < 0 {
		vr.AddError("duration_ms", schema.ErrCodeValidation, "duration_ms must not be negative")
	}
	if params.DurationMs > maxDelayMs {
		vr.AddError("duration_ms", schema.ErrCodeValidation, fmt.Sprintf("duration_ms must not exceed %d", maxDelayMs))
	}
	return vr.ToError()
}

func (e *DelayExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.DelayParams)

	ms := params.DurationMs
	if params.DurationExpression != "" {
		v, err := e.deps.Eval.EvaluateNumber(ctx, params.DurationExpression)
		if err != nil {
			return schema.FailFromError(schema.ErrCodeExpression, err)
		}
		if v < 0 {
			return schema.Failf(schema.ErrCodeValidation, "delay duration %v ms is negative", v)
		}
		if math.IsNaN(v) || v > float64(maxDelayMs) {
			return schema.Failf(schema.ErrCodeValidation, "delay duration %v ms exceeds %d ms", v, maxDelayMs)
		}
		ms = int64(v)
	}

	d := time.Duration(ms) * time.Millisecond
	if err := sleep(ctx, d); err != nil {
		return schema.Cancelled(fmt.Sprintf("delay cancelled before %s elapsed", d))
	}
	return schema.OKWithOutput(fmt.Sprintf("waited %s", d), map[string]any{"duration_ms": ms})
}
