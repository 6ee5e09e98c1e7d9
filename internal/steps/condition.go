package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/rigflow/internal/expressions"
	"github.com/rendis/rigflow/pkg/schema"
)

var conditionOperators = map[string]bool{
	"==": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true,
}

// ConditionExecutor evaluates a boolean and runs the matching branch through
// the runner. Branch failures and loop signals are returned unchanged.
type ConditionExecutor struct {
	deps   Deps
	runner *Runner
}

// NewConditionExecutor creates a ConditionExecutor running branches with runner.
func NewConditionExecutor(deps Deps, runner *Runner) *ConditionExecutor {
	return &ConditionExecutor{deps: deps, runner: runner}
}

func (e *ConditionExecutor) StepType() schema.StepType { return schema.StepTypeCondition }

func (e *ConditionExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.ConditionParams](p, schema.StepTypeCondition)
	if err != nil {
		return err
	}

	vr := &schema.ValidationResult{}
	switch {
	case params.Expression != "":
	case params.Left != "" || params.Operator != "" || params.Right != "":
		if !conditionOperators[strings.TrimSpace(params.Operator)] {
			vr.AddError("operator", schema.ErrCodeValidation,
				fmt.Sprintf("unsupported operator %q", params.Operator))
		}
		if strings.TrimSpace(params.Left) == "" {
			vr.AddError("left", schema.ErrCodeValidation, "left operand is required")
		}
	default:
		vr.AddError("expression", schema.ErrCodeValidation, "expression or left/operator/right is required")
	}
	if params.TrueGoto != nil && *params.TrueGoto < 1 {
		vr.AddError("true_goto", schema.ErrCodeValidation, "goto targets are 1-based step numbers")
	}
	if params.FalseGoto != nil && *params.FalseGoto < 1 {
		vr.AddError("false_goto", schema.ErrCodeValidation, "goto targets are 1-based step numbers")
	}
	return vr.ToError()
}

func (e *ConditionExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.ConditionParams)

	expression := params.Expression
	if expression == "" {
		expression = fmt.Sprintf("%s %s %s", params.Left, strings.TrimSpace(params.Operator), params.Right)
	}

	v, err := e.deps.Eval.Evaluate(ctx, expression)
	if err != nil {
		return schema.FailFromError(schema.ErrCodeExpression, err)
	}
	result := expressions.ToBool(v)

	branch, target, label := params.FalseSteps, params.FalseGoto, "false"
	if result {
		branch, target, label = params.TrueSteps, params.TrueGoto, "true"
	}

	res := e.runner.RunSteps(ctx, branch, ec)
	if res.Outcome != schema.OutcomeOK {
		return res
	}

	output := map[string]any{"result": result, "branch": label}
	if target != nil {
		jump := schema.JumpTo(*target-1, fmt.Sprintf("condition %s: jump to step %d", label, *target))
		jump.Output = output
		return jump
	}
	return schema.OKWithOutput(fmt.Sprintf("condition %s: %s", label, res.Message), output)
}
