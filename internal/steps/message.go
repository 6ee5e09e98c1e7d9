package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/rigflow/pkg/schema"
)

// MessageExecutor shows a message to the operator and optionally asks for
// confirmation.
type MessageExecutor struct {
	deps Deps
}

// NewMessageExecutor creates a MessageExecutor.
func NewMessageExecutor(deps Deps) *MessageExecutor {
	return &MessageExecutor{deps: deps}
}

func (e *MessageExecutor) StepType() schema.StepType { return schema.StepTypeMessage }

func (e *MessageExecutor) Validate(p schema.Parameter) error {
	params, err := paramsAs[*schema.MessageParams](p, schema.StepTypeMessage)
	if err != nil {
		return err
	}
	vr := &schema.ValidationResult{}
	requireField(vr, "text", params.Text)
	switch params.Level {
	case "", schema.MessageLevelInfo, schema.MessageLevelWarning, schema.MessageLevelError:
	default:
		vr.AddError("level", schema.ErrCodeValidation, fmt.Sprintf("unknown level %q", params.Level))
	}
	return vr.ToError()
}

// Execute fails on a declined confirmation unless ResultVariable is set, in
// which case the answer is stored and the step succeeds.
func (e *MessageExecutor) Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult {
	params := p.(*schema.MessageParams)
	level := params.Level
	if level == "" {
		level = schema.MessageLevelInfo
	}
	text := e.deps.Eval.ResolveVariables(ctx, params.Text)

	if !params.Confirm {
		if e.deps.Messenger == nil {
			e.deps.logger().InfoContext(ctx, "operator message", slog.String("level", string(level)), slog.String("text", text))
			return schema.OKWithOutput("message shown", map[string]any{"text": text})
		}
		if err := e.deps.Messenger.Show(ctx, text, level); err != nil {
			return cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("show message", err))
		}
		return schema.OKWithOutput("message shown", map[string]any{"text": text})
	}

	if e.deps.Messenger == nil {
		return schema.Failf(schema.ErrCodeAdapter, "no messenger configured for confirmation")
	}
	confirmed, err := e.deps.Messenger.Confirm(ctx, text, level)
	if err != nil {
		return cancelledOr(ctx, schema.ErrCodeAdapter, adapterError("confirm message", err))
	}

	output := map[string]any{"text": text, "confirmed": confirmed}
	if params.ResultVariable != "" {
		err := e.deps.Vars.Upsert(params.ResultVariable, confirmed, schema.VariableTypeBoolean, provenance(schema.StepTypeMessage, ec))
		if err != nil {
			return schema.FailFromError(schema.ErrCodeExecution, err)
		}
		return schema.OKWithOutput(fmt.Sprintf("operator answered %t", confirmed), output)
	}
	if !confirmed {
		res := schema.Failf(schema.ErrCodeExecution, "operator declined: %s", text)
		res.Output = output
		return res
	}
	return schema.OKWithOutput("operator confirmed", output)
}
