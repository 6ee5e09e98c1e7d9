package steps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/pkg/schema"
)

func loopOutput(t *testing.T, res *schema.StepResult) map[string]any {
	t.Helper()
	out, ok := res.Output.(map[string]any)
	require.True(t, ok, "loop output is %T", res.Output)
	return out
}

func TestLoop_RunsCount(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, loop(5, "i", assign("sum", "{sum} + {i}")))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, int64(5), f.value(t, "i"))
	assert.Equal(t, int64(15), f.value(t, "sum"))
}

func TestLoop_Output(t *testing.T) {
	f := newFixture(t)
	step := loop(5, "i")
	res := NewLoopExecutor(f.deps, f.runner).Execute(context.Background(), step.Params, TopLevel(0, 1, "", "", ""))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	out := loopOutput(t, res)
	assert.Equal(t, 5, out["completedCount"])
	assert.Equal(t, 5, out["iterations"])
	assert.Equal(t, false, out["exitedEarly"])
}

func TestLoop_BreakAtThird(t *testing.T) {
	f := newFixture(t)
	step := loop(5, "i",
		when("{i} == 3", breakStep()),
		assign("last", "{i}"),
	)
	res := NewLoopExecutor(f.deps, f.runner).Execute(context.Background(), step.Params, TopLevel(0, 1, "", "", ""))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	out := loopOutput(t, res)
	assert.Equal(t, 2, out["completedCount"])
	assert.Equal(t, 3, out["iterations"])
	assert.Equal(t, true, out["exitedEarly"])
	assert.Equal(t, int64(2), f.value(t, "last"))
	assert.Equal(t, int64(3), f.value(t, "i"))
}

func TestLoop_Continue(t *testing.T) {
	f := newFixture(t)
	step := loop(5, "i",
		when("{i} % 2 == 0", continueStep()),
		assign("odd", "{odd} + 1"),
	)
	res := NewLoopExecutor(f.deps, f.runner).Execute(context.Background(), step.Params, TopLevel(0, 1, "", "", ""))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	out := loopOutput(t, res)
	assert.Equal(t, 5, out["completedCount"])
	assert.Equal(t, false, out["exitedEarly"])
	assert.Equal(t, int64(3), f.value(t, "odd"))
}

func TestLoop_ExitCondition(t *testing.T) {
	f := newFixture(t)
	step := schema.NewStep(&schema.LoopParams{
		Count:           10,
		CounterVariable: "i",
		ExitCondition:   "{i} >= 3",
	})
	res := NewLoopExecutor(f.deps, f.runner).Execute(context.Background(), step.Params, TopLevel(0, 1, "", "", ""))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	out := loopOutput(t, res)
	assert.Equal(t, 3, out["completedCount"])
	assert.Equal(t, true, out["exitedEarly"])
}

func TestLoop_CountExpressionEvaluatedOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vars.Add(schema.Variable{Name: "limit", Value: 3}))

	step := schema.NewStep(&schema.LoopParams{
		CountExpression: "{limit}",
		CounterVariable: "i",
		Body:            []*schema.Step{assign("limit", "10")},
	})
	res := f.run(t, step)

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, int64(3), f.value(t, "i"))
	assert.Equal(t, int64(10), f.value(t, "limit"))
}

func TestLoop_ZeroCount(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, loop(0, "i", assign("x", "1")))
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.False(t, f.vars.Exists("x"))
	assert.False(t, f.vars.Exists("i"))
}

func TestLoop_IterationFailure(t *testing.T) {
	f := newFixture(t)
	f.plc.err = errors.New("timeout on bus")

	res := f.run(t, loop(3, "i",
		schema.NewStep(&schema.PLCReadParams{Module: "M", Tag: "T", TargetVariable: "v"}),
	))
	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "loop iteration 1 failed: ")
	assert.Contains(t, res.Message, "timeout on bus")
	assert.Equal(t, schema.ErrCodeAdapter, res.Err.Code)
}

func TestLoop_NestedBreakOnlyStopsInner(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, loop(3, "outer",
		loop(5, "inner",
			when("{inner} == 2", breakStep()),
			assign("hits", "{hits} + 1"),
		),
	))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, int64(3), f.value(t, "outer"))
	assert.Equal(t, int64(3), f.value(t, "hits"))
}

func TestLoop_ParentContextUntouched(t *testing.T) {
	f := newFixture(t)
	top := TopLevel(0, 1, "", "", "")
	step := loop(2, "", breakStep())

	res := f.runner.RunStep(context.Background(), step, top)
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.False(t, top.InLoop)
	assert.Zero(t, top.LoopCounter)
}

func TestLoop_CancellationStopsMutations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	step := loop(1000, "i",
		assign("n", "{n} + 1"),
		schema.NewStep(&schema.DelayParams{DurationMs: 10}),
	)
	res := f.runner.RunStep(ctx, step, TopLevel(0, 1, "", "", ""))

	require.Equal(t, schema.OutcomeCancelled, res.Outcome)
	out := loopOutput(t, res)
	iterations := int64(out["iterations"].(int))
	n := f.value(t, "n").(int64)
	assert.Positive(t, iterations)
	assert.LessOrEqual(t, n, iterations)
	assert.GreaterOrEqual(t, n, iterations-1)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, f.value(t, "n"))
}

func TestBreakContinue_OutsideLoop(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, breakStep(), continueStep(), assign("after", "1"))

	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.True(t, f.vars.Exists("after"))
}

func TestBreak_InsideConditionOutsideLoop(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, when("1", breakStep()), assign("after", "1"))
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.True(t, f.vars.Exists("after"))
}

func TestCondition_Branches(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vars.Add(schema.Variable{Name: "x", Value: 10}))

	step := schema.NewStep(&schema.ConditionParams{
		Expression: "{x} > 5",
		TrueSteps:  []*schema.Step{assign("branch", `"high"`)},
		FalseSteps: []*schema.Step{assign("branch", `"low"`)},
	})
	res := f.run(t, step)
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, "high", f.value(t, "branch"))

	_, err := f.vars.Set("x", 3, variablesProvenance())
	require.NoError(t, err)
	res = f.run(t, step)
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, "low", f.value(t, "branch"))
}

func TestCondition_LeftOperatorRight(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vars.Add(schema.Variable{Name: "mode", Value: "auto"}))

	res := f.run(t, schema.NewStep(&schema.ConditionParams{
		Left:      "{mode}",
		Operator:  "==",
		Right:     `"auto"`,
		TrueSteps: []*schema.Step{assign("hit", "true")},
	}))
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.Equal(t, true, f.value(t, "hit"))
}

func TestCondition_EmptyBranch(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, when("0", assign("x", "1")))
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	assert.False(t, f.vars.Exists("x"))
}

func TestCondition_FailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.plc.err = errors.New("offline")
	res := f.run(t, when("1", schema.NewStep(&schema.PLCReadParams{Module: "M", Tag: "T", TargetVariable: "v"})))
	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Equal(t, schema.ErrCodeAdapter, res.Err.Code)
}

func TestCondition_ExpressionError(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, when("1 AND 0 OR 1"))
	require.Equal(t, schema.OutcomeFailed, res.Outcome)
	assert.Equal(t, schema.ErrCodeExpression, res.Err.Code)
}

func TestCondition_Goto(t *testing.T) {
	f := newFixture(t)
	step := schema.NewStep(&schema.ConditionParams{
		Expression: "1 == 1",
		TrueGoto:   ptr(4),
		FalseGoto:  ptr(2),
	})
	res := f.runner.RunStep(context.Background(), step, TopLevel(0, 5, "", "", ""))
	require.Equal(t, schema.OutcomeOK, res.Outcome)
	require.NotNil(t, res.NextStepIndex)
	assert.Equal(t, 3, *res.NextStepIndex)
}

func TestCondition_Validate(t *testing.T) {
	exec := NewConditionExecutor(Deps{}, nil)
	require.Error(t, exec.Validate(&schema.ConditionParams{}))
	require.Error(t, exec.Validate(&schema.ConditionParams{Left: "1", Operator: "=~", Right: "2"}))
	require.Error(t, exec.Validate(&schema.ConditionParams{Expression: "1", TrueGoto: ptr(0)}))
	require.NoError(t, exec.Validate(&schema.ConditionParams{Left: "1", Operator: ">=", Right: "2"}))
}
