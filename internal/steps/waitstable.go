package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// WaitStableExecutor waits until a sampled value stays within a tolerance
// band for a minimum time.
type WaitStableExecutor struct {
	deps Deps
}

// NewWaitStableExecutor creates a WaitStableExecutor.
func NewWaitStableExecutor(deps Deps) *WaitStableExecutor {
	return &WaitStableExecutor{deps: deps}
}

func (e *WaitStableExecutor) StepType() schema.StepType { return schema.StepTypeWaitStable }

func (e *WaitStableExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.WaitStableParams](p, schema.StepTypeWaitStable)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "expression", params.Expression)
	if params.Tolerance < 0 {
		vr.AddError("tolerance", schema.ErrCodeValidation, "tolerance must not be negative")
	}
	if params.StableMs <= 0 {
		vr.AddError("stable_ms", schema.ErrCodeValidation, "stable_ms must be positive")
	}
	if params.TimeoutMs < params.StableMs {
		vr.AddError("timeout_ms", schema.ErrCodeValidation, "timeout_ms must be at least stable_ms")
	}
	if params.IntervalMs < 0 {
		vr.AddError("interval_ms", schema.ErrCodeValidation, "interval_ms must not be negative")
	}
	return vr.ToError()
}

// Execute keeps a window that restarts whenever a sample leaves the band
// spanned by the window's samples; the value is stable once the window is
// StableMs long.
func (e *WaitStableExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.WaitStableParams)
	stableFor := time.Duration(params.StableMs) * time.Millisecond

	var (
		windowStart time.Duration
		lo, hi      float64
		last        float64
		samples     int
	)
	err := poll(ctx, e.deps.interval(params.IntervalMs), time.Duration(params.TimeoutMs)*time.Millisecond,
		func(ctx context.Context, elapsed time.Duration) (bool, error) {
			v, err := e.deps.Eval.EvaluateNumber(ctx, params.Expression)
			if err != nil {
				return false, err
			}
			samples++
			last = v
			if samples == 1 || max(hi, v)-min(lo, v) > params.Tolerance {
				windowStart, lo, hi = elapsed, v, v
				return false, nil
			}
			lo, hi = min(lo, v), max(hi, v)
			return elapsed-windowStart >= stableFor, nil
		})

	output := map[string]any{"value": last, "samples": samples}
	if err != nil {
		if isTimeout(err) {
			res := schema.Fail(schema.NewErrorf(schema.ErrCodeTimeout,
				"%s did not stabilise within %dms (last %v)", params.Expression, params.TimeoutMs, last))
			res.Output = output
			return res
		}
		return cancelledOr(ctx, schema.ErrCodeExpression, err)
	}

	if params.TargetVariable != "" {
		if err := e.deps.Vars.Upsert(params.TargetVariable, last, schema.VariableTypeDouble, provenance(schema.StepTypeWaitStable, ec)); err != nil {
			return schema.FailFromError(schema.ErrCodeExecution, err)
		}
	}
	return schema.OKWithOutput(fmt.Sprintf("stable at %v after %d samples", last, samples), output)
}
