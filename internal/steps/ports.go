package steps

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/rigflow/internal/expressions"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// PLC reads and writes controller tags.
type PLC interface {
	Read(ctx context.Context, module, tag string) (any, error)
	Write(ctx context.Context, module, tag string, value any) error
}

// Cells reads and writes report workbook cells addressed in A1 notation.
type Cells interface {
	ReadCell(ctx context.Context, sheet, address string) (any, error)
	WriteCell(ctx context.Context, sheet, address string, value any) error
}

// Messenger shows messages to the operator.
type Messenger interface {
	Show(ctx context.Context, message string, level schema.MessageLevel) error
	Confirm(ctx context.Context, message string, level schema.MessageLevel) (bool, error)
}

// VariableStore is the part of *variables.Store executors write through.
type VariableStore interface {
	Value(name string) (any, bool)
	Upsert(name string, value any, typ schema.VariableType, prov variables.Provenance) error
	Snapshot() map[string]any
}

// Evaluator is the part of *expressions.Evaluator executors use.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (any, error)
	EvaluateBoolean(ctx context.Context, expression string) bool
	EvaluateNumber(ctx context.Context, expression string) (float64, error)
	ResolveVariables(ctx context.Context, expression string) string
}

// DefaultPollInterval is the sampling period of polling executors when the
// step does not set one.
const DefaultPollInterval = 100 * time.Millisecond

// Deps are the collaborators injected into executors. Vars and Eval are
// required; a nil adapter makes the steps that need it fail at run time.
type Deps struct {
	Vars      VariableStore
	Eval      Evaluator
	Query     expressions.Engine
	PLC       PLC
	Cells     Cells
	Messenger Messenger
	Logger    *slog.Logger

	PollInterval time.Duration
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) interval(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return DefaultPollInterval
}

// provenance records a step write.
func provenance(t schema.StepType, ec *ExecutionContext) variables.Provenance {
	return variables.Provenance{Source: string(t), StepIndex: ec.StepIndex}
}
