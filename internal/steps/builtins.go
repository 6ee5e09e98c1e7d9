package steps

import (
	"fmt"

	"github.com/rendis/rigflow/pkg/schema"
)

// RegisterBuiltins registers the executor of every built-in step type.
// Condition and Loop run their children with runner, which should resolve
// from reg.
func RegisterBuiltins(reg *Registry, runner *Runner, deps Deps) error {
	if deps.Vars == nil || deps.Eval == nil {
		return schema.NewError(schema.ErrCodeValidation, "executors need a variable store and an evaluator")
	}

	builtins := []Executor{
		NewDelayExecutor(deps),
		NewAssignExecutor(deps),
		NewConditionExecutor(deps, runner),
		NewLoopExecutor(deps, runner),
		NewBreakExecutor(deps),
		NewContinueExecutor(deps),
		NewPLCReadExecutor(deps),
		NewPLCWriteExecutor(deps),
		NewReadCellExecutor(deps),
		NewWriteCellExecutor(deps),
		NewMessageExecutor(deps),
		NewWaitStableExecutor(deps),
		NewDetectionExecutor(deps),
		NewMonitorExecutor(deps),
	}

	for _, exec := range builtins {
		if err := reg.Register(exec); err != nil {
			return fmt.Errorf("register %s: %w", exec.StepType(), err)
		}
	}
	return nil
}

// NewBuiltinRunner wires a registry holding every built-in executor and
// returns the runner over it.
func NewBuiltinRunner(deps Deps) (*Runner, error) {
	reg := NewRegistry()
	runner := NewRunner(reg, deps.logger())
	if err := RegisterBuiltins(reg, runner, deps); err != nil {
		return nil, err
	}
	return runner, nil
}
