package steps

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/internal/expressions"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

type fakePLC struct {
	mu     sync.Mutex
	tags   map[string]any
	err    error
	writes map[string]any
}

func newFakePLC() *fakePLC {
	return &fakePLC{tags: map[string]any{}, writes: map[string]any{}}
}

func (f *fakePLC) Read(_ context.Context, module, tag string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.tags[module+"."+tag]
	if !ok {
		return nil, errors.New("unknown tag")
	}
	return v, nil
}

func (f *fakePLC) Write(_ context.Context, module, tag string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes[module+"."+tag] = value
	return nil
}

type fakeCells struct {
	mu    sync.Mutex
	cells map[string]any
}

func (f *fakeCells) ReadCell(_ context.Context, sheet, address string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.cells[sheet+"!"+address]
	if !ok {
		return nil, errors.New("empty cell")
	}
	return v, nil
}

func (f *fakeCells) WriteCell(_ context.Context, sheet, address string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cells[sheet+"!"+address] = value
	return nil
}

type fakeMessenger struct {
	mu      sync.Mutex
	answer  bool
	shown   []string
	confirm []string
}

func (f *fakeMessenger) Show(_ context.Context, message string, _ schema.MessageLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, message)
	return nil
}

func (f *fakeMessenger) Confirm(_ context.Context, message string, _ schema.MessageLevel) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirm = append(f.confirm, message)
	return f.answer, nil
}

type fixture struct {
	vars   *variables.Store
	plc    *fakePLC
	cells  *fakeCells
	msg    *fakeMessenger
	deps   Deps
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	vars := variables.NewStore(nil)
	f := &fixture{
		vars:  vars,
		plc:   newFakePLC(),
		cells: &fakeCells{cells: map[string]any{}},
		msg:   &fakeMessenger{answer: true},
	}
	f.deps = Deps{
		Vars:         vars,
		Eval:         expressions.NewEvaluator(vars),
		Query:        expressions.NewGoJQEngine(),
		PLC:          f.plc,
		Cells:        f.cells,
		Messenger:    f.msg,
		PollInterval: 2 * time.Millisecond,
	}
	runner, err := NewBuiltinRunner(f.deps)
	require.NoError(t, err)
	f.runner = runner
	return f
}

func (f *fixture) run(t *testing.T, steps ...*schema.Step) *schema.StepResult {
	t.Helper()
	return f.runner.RunSteps(context.Background(), steps, TopLevel(0, 1, "wf", "test", "run"))
}

func (f *fixture) value(t *testing.T, name string) any {
	t.Helper()
	v, ok := f.vars.Value(name)
	require.True(t, ok, "variable %s not defined", name)
	return v
}

func assign(target, expression string) *schema.Step {
	return schema.NewStep(&schema.VariableAssignParams{
		Target:     target,
		Source:     schema.AssignSourceExpression,
		Expression: expression,
	})
}

func when(expression string, thenSteps ...*schema.Step) *schema.Step {
	return schema.NewStep(&schema.ConditionParams{Expression: expression, TrueSteps: thenSteps})
}

func loop(count int, counter string, body ...*schema.Step) *schema.Step {
	return schema.NewStep(&schema.LoopParams{Count: count, CounterVariable: counter, Body: body})
}

func breakStep() *schema.Step    { return schema.NewStep(&schema.BreakParams{}) }
func continueStep() *schema.Step { return schema.NewStep(&schema.ContinueParams{}) }

func ptr[T any](v T) *T { return &v }

func variablesProvenance() variables.Provenance {
	return variables.Provenance{Source: "test"}
}
