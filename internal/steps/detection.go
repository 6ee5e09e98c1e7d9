package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// DetectionExecutor checks a sampled value against limits and/or a boolean
// condition. With a timeout it keeps sampling until the criteria are met.
type DetectionExecutor struct {
	deps Deps
}

// NewDetectionExecutor creates a DetectionExecutor.
func NewDetectionExecutor(deps Deps) *DetectionExecutor {
	return &DetectionExecutor{deps: deps}
}

func (e *DetectionExecutor) StepType() schema.StepType { return schema.StepTypeDetection }

func (e *DetectionExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.DetectionParams](p, schema.StepTypeDetection)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	hasLimits := params.Lower != nil || params.Upper != nil
	if !hasLimits && params.Condition == "" {
		vr.AddError("condition", schema.ErrCodeValidation, "lower/upper limits or a condition are required")
	}
	if hasLimits && params.Expression == "" {
		vr.AddError("expression", schema.ErrCodeValidation, "expression is required with limits")
	}
	if params.Lower != nil && params.Upper != nil && *params.Lower > *params.Upper {
		vr.AddError("lower", schema.ErrCodeValidation, "lower limit exceeds upper limit")
	}
	if params.TimeoutMs < 0 {
		vr.AddError("timeout_ms", schema.ErrCodeValidation, "timeout_ms must not be negative")
	}
	return vr.ToError()
}

func (e *DetectionExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.DetectionParams)

	var (
		value   any
		reasons []string
		samples int
	)
	err := poll(ctx, e.deps.interval(params.IntervalMs), time.Duration(params.TimeoutMs)*time.Millisecond,
		func(ctx context.Context, _ time.Duration) (bool, error) {
			samples++
			reasons = reasons[:0]
			if params.Expression != "" && (params.Lower != nil || params.Upper != nil) {
				v, err := e.deps.Eval.EvaluateNumber(ctx, params.Expression)
				if err != nil {
					return false, err
				}
				value = v
				if params.Lower != nil && v < *params.Lower {
					reasons = append(reasons, fmt.Sprintf("%v below lower limit %v", v, *params.Lower))
				}
				if params.Upper != nil && v > *params.Upper {
					reasons = append(reasons, fmt.Sprintf("%v above upper limit %v", v, *params.Upper))
				}
			}
			if params.Condition != "" && !e.deps.Eval.EvaluateBoolean(ctx, params.Condition) {
				reasons = append(reasons, fmt.Sprintf("condition %q not met", params.Condition))
			}
			return len(reasons) == 0, nil
		})
	if err != nil && !isTimeout(err) {
		return cancelledOr(ctx, schema.ErrCodeExpression, err)
	}

	passed := err == nil
	if params.ResultVariable != "" {
		if err := e.deps.Vars.Upsert(params.ResultVariable, passed, schema.VariableTypeBoolean, provenance(schema.StepTypeDetection, ec)); err != nil {
			return schema.FailFromError(schema.ErrCodeExecution, err)
		}
	}

	output := map[string]any{"passed": passed, "value": value, "samples": samples}
	if !passed {
		res := schema.Fail(schema.NewErrorf(schema.ErrCodeExecution,
			"detection failed: %s", strings.Join(reasons, "; ")).
			WithDetails(map[string]any{"reasons": append([]string(nil), reasons...)}))
		res.Output = output
		return res
	}
	return schema.OKWithOutput(fmt.Sprintf("detection passed after %d samples", samples), output)
}
