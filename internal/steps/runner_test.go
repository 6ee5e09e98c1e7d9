package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/pkg/schema"
)

func TestRunner_RunsInOrder(t *testing.T) {
	f := newFixture(t)
	res := f.run(t,
		assign("a", "1"),
		assign("b", "{a} + 1"),
		assign("c", "{b} * 10"),
	)
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, "executed 3 steps", res.Message)
	assert.Equal(t, int64(20), f.value(t, "c"))
}

func TestRunner_HaltsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.plc.err = errors.New("link down")

	res := f.run(t,
		assign("a", "1"),
		schema.NewStep(&schema.PLCReadParams{Module: "M1", Tag: "T1", TargetVariable: "t"}),
		assign("b", "2"),
	)
	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Err)
	assert.Equal(t, schema.ErrCodeAdapter, res.Err.Code)
	assert.Contains(t, res.Message, "link down")
	assert.True(t, f.vars.Exists("a"))
	assert.False(t, f.vars.Exists("b"))
}

func TestRunner_EmptyList(t *testing.T) {
	f := newFixture(t)
	res := f.run(t)
	assert.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, "executed 0 steps", res.Message)
}

func TestRunner_SkipsDisabled(t *testing.T) {
	f := newFixture(t)
	skipped := assign("skipped", "1")
	skipped.Enabled = false

	res := f.run(t, skipped, assign("ran", "1"))
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, "executed 1 steps", res.Message)
	assert.False(t, f.vars.Exists("skipped"))
}

func TestRunner_UnknownType(t *testing.T) {
	runner := NewRunner(NewRegistry(), nil)
	res := runner.RunSteps(context.Background(),
		[]*schema.Step{schema.NewStep(&schema.DelayParams{DurationMs: 1})}, nil)

	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Equal(t, schema.ErrCodeNotFound, res.Err.Code)
}

func TestRunner_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.runner.RunSteps(ctx, []*schema.Step{assign("a", "1")}, nil)
	assert.Equal(t, schema.OutcomeCancelled, res.Outcome)
	assert.False(t, f.vars.Exists("a"))
}

type panicParams struct{}

func (panicParams) StepType() schema.StepType { return "Panic" }

type panicExecutor struct{}

func (panicExecutor) StepType() schema.StepType       { return "Panic" }
func (panicExecutor) Validate(schema.Parameter) error { return nil }
func (panicExecutor) Execute(context.Context, schema.Parameter, *ExecutionContext) *schema.StepResult {
	panic("boom")
}

func TestRunner_RecoversPanics(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(panicExecutor{}))
	runner := NewRunner(reg, nil)

	step := &schema.Step{Type: "Panic", Params: panicParams{}, Enabled: true}
	res := runner.RunSteps(context.Background(), []*schema.Step{step}, nil)

	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Equal(t, schema.ErrCodeInternal, res.Err.Code)
	assert.Contains(t, res.Message, "boom")
	assert.Positive(t, res.Duration)
}

func TestRunner_ValidateTree(t *testing.T) {
	f := newFixture(t)
	steps := []*schema.Step{
		loop(2, "i",
			assign("a", "1"),
			schema.NewStep(&schema.DelayParams{DurationMs: -5}),
		),
		schema.NewStep(&schema.ReadCellParams{Sheet: "S", Address: "not-a-cell", TargetVariable: "x"}),
	}

	vr := f.runner.Validate("steps", steps)
	require.False(t, vr.Valid())
	paths := make([]string, 0, len(vr.Errors))
	for _, issue := range vr.Errors {
		paths = append(paths, issue.Path)
	}
	assert.ElementsMatch(t, []string{
		"steps[0].params.body[1].params.duration_ms",
		"steps[1].params.address",
	}, paths)
}

func TestRunner_ValidateSkipsDisabled(t *testing.T) {
	f := newFixture(t)
	bad := schema.NewStep(&schema.DelayParams{DurationMs: -1})
	bad.Enabled = false

	assert.True(t, f.runner.Validate("steps", []*schema.Step{bad}).Valid())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewDelayExecutor(Deps{})))
	assert.True(t, reg.Has(schema.StepTypeDelay))
	assert.Equal(t, 1, reg.Count())

	err := reg.Register(NewDelayExecutor(Deps{}))
	var flowErr *schema.Error
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeConflict, flowErr.Code)

	_, err = reg.Get(schema.StepTypeLoop)
	require.Error(t, err)
	require.Error(t, reg.Register(nil))
}

func TestRegisterBuiltins(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, len(schema.KnownStepTypes()), f.runner.Registry().Count())
	assert.Equal(t, schema.KnownStepTypes(), f.runner.Registry().Types())

	err := RegisterBuiltins(NewRegistry(), nil, Deps{})
	require.Error(t, err)
}

func TestInvoke_ValidationFailure(t *testing.T) {
	f := newFixture(t)
	res := Invoke(context.Background(), NewDelayExecutor(f.deps),
		&schema.DelayParams{DurationMs: -1}, TopLevel(0, 1, "", "", ""), f.deps.logger())
	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Equal(t, schema.ErrCodeValidation, res.Err.Code)
}

func TestInvoke_WrongParameterType(t *testing.T) {
	f := newFixture(t)
	res := Invoke(context.Background(), NewDelayExecutor(f.deps),
		&schema.LoopParams{}, TopLevel(0, 1, "", "", ""), f.deps.logger())
	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Equal(t, schema.ErrCodeValidation, res.Err.Code)
}

func TestExecutionContext_Derive(t *testing.T) {
	top := TopLevel(2, 5, "wf", "name", "run")
	looped := top.WithLoop(3, 4)
	child := looped.Derive(1, 2)

	assert.Equal(t, "3", top.Path)
	assert.Equal(t, "3/2", child.Path)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 2, child.StepIndex)
	assert.True(t, child.InLoop)
	assert.Equal(t, 3, child.LoopCounter)
	assert.False(t, top.InLoop)
}
