package steps

import (
	"context"
	"fmt"

	"github.com/rendis/rigflow/pkg/schema"
)

// AssignExecutor writes a value into a variable, creating it when missing.
type AssignExecutor struct {
	deps Deps
}

// NewAssignExecutor creates an AssignExecutor.
func NewAssignExecutor(deps Deps) *AssignExecutor {
	return &AssignExecutor{deps: deps}
}

func (e *AssignExecutor) StepType() schema.StepType { return schema.StepTypeVariableAssign }

func (e *AssignExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.VariableAssignParams](p, schema.StepTypeVariableAssign)
	if err != nil {
		return err
	}

	vr := &schema.ValidationResult{}
	if params.Target == "" {
		vr.AddError("target", schema.ErrCodeValidation, "target variable is required")
	}
	require := func(field, value string) {
		if value == "" {
			vr.AddError(field, schema.ErrCodeValidation,
				fmt.Sprintf("%s is required for source %q", field, assignSource(params)))
		}
	}
	switch assignSource(params) {
	case schema.AssignSourceLiteral:
	case schema.AssignSourceExpression:
		require("expression", params.Expression)
	case schema.AssignSourceVariable:
		require("source_variable", params.SourceVariable)
	case schema.AssignSourcePLC:
		require("module", params.Module)
		require("tag", params.Tag)
	case schema.AssignSourceCell:
		require("sheet", params.Sheet)
		require("address", params.Address)
		if params.Address != "" && !validA1(params.Address) {
			vr.AddError("address", schema.ErrCodeValidation, fmt.Sprintf("%q is not an A1 cell address", params.Address))
		}
	case schema.AssignSourceQuery:
		require("query", params.Query)
	default:
		vr.AddError("source", schema.ErrCodeValidation, fmt.Sprintf("unknown source %q", params.Source))
	}
	return vr.ToError()
}

func (e *AssignExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.VariableAssignParams)

	value, res := e.resolve(ctx, params)
	if res != nil {
		return res
	}

	if err := e.deps.Vars.Upsert(params.Target, value, params.VariableType, provenance(schema.StepTypeVariableAssign, ec)); err != nil {
		return schema.FailFromError(schema.ErrCodeExecution, err)
	}
	return schema.OKWithOutput(fmt.Sprintf("%s = %v", params.Target, value), map[string]any{
		"target": params.Target,
		"value":  value,
	})
}

func (e *AssignExecutor) resolve(ctx context.Context, params *schema.VariableAssignParams) (any, *schema.StepResult) {
	switch assignSource(params) {
	case schema.AssignSourceExpression:
		v, err := e.deps.Eval.Evaluate(ctx, params.Expression)
		if err != nil {
			return nil, schema.FailFromError(schema.ErrCodeExpression, err)
		}
		return v, nil

	case schema.AssignSourceVariable:
		v, ok := e.deps.Vars.Value(params.SourceVariable)
		if !ok {
			return nil, schema.Failf(schema.ErrCodeNotFound, "source variable %q is not defined", params.SourceVariable)
		}
		return v, nil

	case schema.AssignSourcePLC:
		if e.deps.PLC == nil {
			return nil, schema.Failf(schema.ErrCodeAdapter, "no PLC adapter configured")
		}
		v, err := e.deps.PLC.Read(ctx, params.Module, params.Tag)
		if err != nil {
			return nil, cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("read PLC %s.%s", err, params.Module, params.Tag))
		}
		return v, nil

	case schema.AssignSourceCell:
		if e.deps.Cells == nil {
			return nil, schema.Failf(schema.ErrCodeAdapter, "no cell adapter configured")
		}
		v, err := e.deps.Cells.ReadCell(ctx, params.Sheet, params.Address)
		if err != nil {
			return nil, cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("read cell %s!%s", err, params.Sheet, params.Address))
		}
		return v, nil

	case schema.AssignSourceQuery:
		if e.deps.Query == nil {
			return nil, schema.Failf(schema.ErrCodeExpression, "no query engine configured")
		}
		v, err := e.deps.Query.Evaluate(ctx, params.Query, e.deps.Vars.Snapshot())
		if err != nil {
			return nil, schema.FailFromError(schema.ErrCodeExpression, err)
		}
		if v == nil {
			return nil, schema.Failf(schema.ErrCodeExpression, "query %q produced no value", params.Query)
		}
		return v, nil

	default:
		return params.Value, nil
	}
}

// assignSource defaults an empty source to expression when one is given.
func assignSource(params *schema.VariableAssignParams) schema.AssignSource {
	if params.Source != "" {
		return params.Source
	}
	if params.Expression != "" {
		return schema.AssignSourceExpression
	}
	return schema.AssignSourceLiteral
}

// adapterError wraps an adapter failure as ADAPTER_ERROR.
func adapterError(format string, err error, args ...any) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeAdapter, format+": %s", append(args, err.Error())...).WithCause(err)
}
