package steps

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rendis/rigflow/pkg/schema"
)

var a1Pattern = regexp.MustCompile(`^\$?[A-Za-z]{1,3}\$?[1-9][0-9]{0,6}$`)

func validA1(address string) bool {
	return a1Pattern.MatchString(address)
}

// PLCReadExecutor reads a controller tag into a variable.
type PLCReadExecutor struct {
	deps Deps
}

// NewPLCReadExecutor creates a PLCReadExecutor.
func NewPLCReadExecutor(deps Deps) *PLCReadExecutor {
	return &PLCReadExecutor{deps: deps}
}

func (e *PLCReadExecutor) StepType() schema.StepType { return schema.StepTypePLCRead }

func (e *PLCReadExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.PLCReadParams](p, schema.StepTypePLCRead)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "module", params.Module)
	requireField(vr, "tag", params.Tag)
	requireField(vr, "target_variable", params.TargetVariable)
	return vr.ToError()
}

func (e *PLCReadExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.PLCReadParams)
	if e.deps.PLC == nil {
		return schema.Failf(schema.ErrCodeAdapter, "no PLC adapter configured")
	}

	v, err := e.deps.PLC.Read(ctx, params.Module, params.Tag)
	if err != nil {
		return cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("read PLC %s.%s", err, params.Module, params.Tag))
	}
	if err := e.deps.Vars.Upsert(params.TargetVariable, v, "", provenance(schema.StepTypePLCRead, ec)); err != nil {
		return schema.FailFromError(schema.ErrCodeExecution, err)
	}
	return schema.OKWithOutput(fmt.Sprintf("%s.%s = %v", params.Module, params.Tag, v), map[string]any{"value": v})
}

// PLCWriteExecutor writes an evaluated value to a controller tag.
type PLCWriteExecutor struct {
	deps Deps
}

// NewPLCWriteExecutor creates a PLCWriteExecutor.
func NewPLCWriteExecutor(deps Deps) *PLCWriteExecutor {
	return &PLCWriteExecutor{deps: deps}
}

func (e *PLCWriteExecutor) StepType() schema.StepType { return schema.StepTypePLCWrite }

func (e *PLCWriteExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.PLCWriteParams](p, schema.StepTypePLCWrite)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "module", params.Module)
	requireField(vr, "tag", params.Tag)
	requireField(vr, "value", params.Value)
	return vr.ToError()
}

func (e *PLCWriteExecutor) Execute(ctx context.Context, p schema.Parameter, _ *ExecutionContext) *schema.StepResult {
	params := p.(*schema.PLCWriteParams)
	if e.deps.PLC == nil {
		return schema.Failf(schema.ErrCodeAdapter, "no PLC adapter configured")
	}

	v, err := e.deps.Eval.Evaluate(ctx, params.Value)
	if err != nil {
		return schema.FailFromError(schema.ErrCodeExpression, err)
	}
	if err := e.deps.PLC.Write(ctx, params.Module, params.Tag, v); err != nil {
		return cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("write PLC %s.%s", err, params.Module, params.Tag))
	}
	return schema.OKWithOutput(fmt.Sprintf("wrote %v to %s.%s", v, params.Module, params.Tag), map[string]any{"value": v})
}

// ReadCellExecutor reads a workbook cell into a variable.
type ReadCellExecutor struct {
	deps Deps
}

// NewReadCellExecutor creates a ReadCellExecutor.
func NewReadCellExecutor(deps Deps) *ReadCellExecutor {
	return &ReadCellExecutor{deps: deps}
}

func (e *ReadCellExecutor) StepType() schema.StepType { return schema.StepTypeReadCell }

func (e *ReadCellExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.ReadCellParams](p, schema.StepTypeReadCell)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "sheet", params.Sheet)
	requireAddress(vr, params.Address)
	requireField(vr, "target_variable", params.TargetVariable)
	return vr.ToError()
}

func (e *ReadCellExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.ReadCellParams)
	if e.deps.Cells == nil {
		return schema.Failf(schema.ErrCodeAdapter, "no cell adapter configured")
	}

	v, err := e.deps.Cells.ReadCell(ctx, params.Sheet, params.Address)
	if err != nil {
		return cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("read cell %s!%s", err, params.Sheet, params.Address))
	}
	if err := e.deps.Vars.Upsert(params.TargetVariable, v, "", provenance(schema.StepTypeReadCell, ec)); err != nil {
		return schema.FailFromError(schema.ErrCodeExecution, err)
	}
	return schema.OKWithOutput(fmt.Sprintf("%s!%s = %v", params.Sheet, params.Address, v), map[string]any{"value": v})
}

// WriteCellExecutor writes an evaluated value to a workbook cell.
type WriteCellExecutor struct {
	deps Deps
}

// NewWriteCellExecutor creates a WriteCellExecutor.
func NewWriteCellExecutor(deps Deps) *WriteCellExecutor {
	return &WriteCellExecutor{deps: deps}
}

func (e *WriteCellExecutor) StepType() schema.StepType { return schema.StepTypeWriteCell }

func (e *WriteCellExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.WriteCellParams](p, schema.StepTypeWriteCell)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "sheet", params.Sheet)
	requireAddress(vr, params.Address)
	requireField(vr, "value", params.Value)
	return vr.ToError()
}

func (e *WriteCellExecutor) Execute(ctx context.Context, p schema.Parameter, _ *ExecutionContext) *schema.StepResult {
	params := p.(*schema.WriteCellParams)
	if e.deps.Cells == nil {
		return schema.Failf(schema.ErrCodeAdapter, "no cell adapter configured")
	}

	v, err := e.deps.Eval.Evaluate(ctx, params.Value)
	if err != nil {
		return schema.FailFromError(schema.ErrCodeExpression, err)
	}
	if err := e.deps.Cells.WriteCell(ctx, params.Sheet, params.Address, v); err != nil {
		return cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("write cell %s!%s", err, params.Sheet, params.Address))
	}
	return schema.OKWithOutput(fmt.Sprintf("wrote %v to %s!%s", v, params.Sheet, params.Address), map[string]any{"value": v})
}

func requireField(vr *schema.ValidationResult, field, value string) {
	if value == "" {
		vr.AddError(field, schema.ErrCodeValidation, field+" is required")
	}
}

func requireAddress(vr *schema.ValidationResult, address string) {
	if address == "" {
		vr.AddError("address", schema.ErrCodeValidation, "address is required")
		return
	}
	if !validA1(address) {
		vr.AddError("address", schema.ErrCodeValidation, fmt.Sprintf("%q is not an A1 cell address", address))
	}
}
