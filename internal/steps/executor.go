// Package steps holds the step executors, their registry and the runner that
// executes nested step lists for Condition and Loop.
package steps

import (
	"context"

	"github.com/rendis/rigflow/pkg/schema"
)

// Executor runs one step type. Validate checks parameters without side
// effects; Execute never panics on purpose and reports every outcome,
// including cancellation, through the returned result.
type Executor interface {
	StepType() schema.StepType
	Validate(p schema.Parameter) error
	Execute(ctx context.Context, p schema.Parameter, ec *ExecutionContext) *schema.StepResult
}

// paramsAs asserts p to the concrete parameter type an executor expects.
func paramsAs[T schema.Parameter](p schema.Parameter, want schema.StepType) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, schema.NewErrorf(schema.ErrCodeValidation,
			"%s step received %T parameters", want, p)
	}
	return v, nil
}
