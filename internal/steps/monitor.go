package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// MonitorExecutor watches a condition for a time window. In until mode it
// waits for the condition to become true; in while mode the condition must
// hold for the whole window.
type MonitorExecutor struct {
	deps Deps
}

// NewMonitorExecutor creates a MonitorExecutor.
func NewMonitorExecutor(deps Deps) *MonitorExecutor {
	return &MonitorExecutor{deps: deps}
}

func (e *MonitorExecutor) StepType() schema.StepType { return schema.StepTypeMonitor }

func (e *MonitorExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.MonitorParams](p, schema.StepTypeMonitor)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "condition", params.Condition)
	switch params.Mode {
	case "", schema.MonitorUntil, schema.MonitorWhile:
	default:
		vr.AddError("mode", schema.ErrCodeValidation, fmt.Sprintf("unknown mode %q", params.Mode))
	}
	if params.TimeoutMs <= 0 {
		vr.AddError("timeout_ms", schema.ErrCodeValidation, "timeout_ms must be positive")
	}
	return vr.ToError()
}

func (e *MonitorExecutor) Execute(ctx context.Context, p schema.Parameter, _ *ExecutionContext) *schema.StepResult {
	params := p.(*schema.MonitorParams)
	mode := params.Mode
	if mode == "" {
		mode = schema.MonitorUntil
	}
	timeout := time.Duration(params.TimeoutMs) * time.Millisecond

	var (
		samples  int
		violated time.Duration
		broken   bool
	)
	err := poll(ctx, e.deps.interval(params.IntervalMs), timeout,
		func(ctx context.Context, elapsed time.Duration) (bool, error) {
			samples++
			holds := e.deps.Eval.EvaluateBoolean(ctx, params.Condition)
			if mode == schema.MonitorUntil {
				return holds, nil
			}
			if !holds {
				violated, broken = elapsed, true
				return true, nil
			}
			return false, nil
		})

	output := map[string]any{"mode": string(mode), "samples": samples}
	switch {
	case err != nil && !isTimeout(err):
		return cancelledOr(ctx, schema.ErrCodeExecution, err)

	case mode == schema.MonitorUntil && err != nil:
		res := schema.Fail(schema.NewErrorf(schema.ErrCodeTimeout,
			"condition %q not met within %s", params.Condition, timeout))
		res.Output = output
		return res

	case mode == schema.MonitorWhile && broken:
		res := schema.Failf(schema.ErrCodeExecution,
			"condition %q violated after %s", params.Condition, violated.Round(time.Millisecond))
		res.Output = output
		return res
	}

	if mode == schema.MonitorUntil {
		return schema.OKWithOutput(fmt.Sprintf("condition met after %d samples", samples), output)
	}
	return schema.OKWithOutput(fmt.Sprintf("condition held for %s", timeout), output)
}
