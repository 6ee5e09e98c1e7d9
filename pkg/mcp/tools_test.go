package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/internal/adapters"
	"github.com/rendis/rigflow/internal/engine"
	"github.com/rendis/rigflow/internal/expressions"
	"github.com/rendis/rigflow/internal/steps"
	"github.com/rendis/rigflow/internal/store"
	"github.com/rendis/rigflow/internal/validation"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// --- Fake store ---

type fakeStore struct {
	mu        sync.Mutex
	workflows []*schema.Workflow
	runs      []*schema.RunResult
	lastRuns  store.RunFilter
}

func (f *fakeStore) SaveWorkflow(_ context.Context, wf *schema.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows = append(f.workflows, wf)
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wf := range f.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
}

func (f *fakeStore) FindWorkflowByName(_ context.Context, name string) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wf := range f.workflows {
		if wf.Name == name {
			return wf, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", name)
}

func (f *fakeStore) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.WorkflowSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.WorkflowSummary, 0)
	for _, wf := range f.workflows {
		if filter.NameLike != "" && !strings.Contains(strings.ToLower(wf.Name), strings.ToLower(filter.NameLike)) {
			continue
		}
		out = append(out, &store.WorkflowSummary{ID: wf.ID, Name: wf.Name, StepCount: len(wf.Steps), UpdatedAt: wf.UpdatedAt})
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) RecordRun(_ context.Context, r *schema.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*schema.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.RunID == id {
			return r, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*schema.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRuns = filter
	out := make([]*schema.RunResult, 0)
	for _, r := range f.runs {
		if filter.WorkflowID != "" && r.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// --- Recording notifier ---

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (n *recordingNotifier) Notify(_ context.Context, operator string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	payload["operator"] = operator
	n.payloads = append(n.payloads, payload)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, p := range n.payloads {
		out = append(out, p["type"].(string))
	}
	return out
}

// --- Fixture ---

type fixture struct {
	server *Server
	engine *engine.Engine
	vars   *variables.Store
	store  *fakeStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	vars := variables.NewStore(nil)
	runner, err := steps.NewBuiltinRunner(steps.Deps{
		Vars:         vars,
		Eval:         expressions.NewEvaluator(vars),
		Query:        expressions.NewGoJQEngine(),
		PLC:          adapters.NewSimulatedPLC(map[string]any{"Bench.Pressure": 4.2}),
		Cells:        adapters.NewWorkbook("Report"),
		Messenger:    adapters.NewLogMessenger(nil, true),
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)

	fs := &fakeStore{}
	eng, err := engine.New(engine.Deps{Runner: runner, Vars: vars, Recorder: fs})
	require.NoError(t, err)

	v, err := validation.New()
	require.NoError(t, err)

	s := NewServer(ServerDeps{Engine: eng, Vars: vars, Store: fs, Validator: v})
	return &fixture{server: s, engine: eng, vars: vars, store: fs}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func inlineDefinition() map[string]any {
	return map[string]any{
		"name": "inline check",
		"steps": []any{
			map[string]any{"type": "PLCRead", "params": map[string]any{
				"module": "Bench", "tag": "Pressure", "target_variable": "P",
			}},
			map[string]any{"type": "VariableAssign", "params": map[string]any{
				"target": "High", "source": "expression", "expression": "{P} > 4",
			}},
		},
	}
}

func storedWorkflow(name string) *schema.Workflow {
	wf := schema.NewWorkflow(name)
	wf.AddStep(schema.NewStep(&schema.VariableAssignParams{Target: "Count", Source: schema.AssignSourceLiteral, Value: 3}))
	return wf
}

// --- Tests ---

func TestRunTool_InlineDefinition(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleRun(context.Background(), buildRequest("rigflow.run", map[string]any{
		"definition": inlineDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run schema.RunResult
	unmarshalResult(t, result, &run)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, "inline check", run.WorkflowName)
	assert.Len(t, run.Steps, 2)

	high, ok := f.vars.Value("High")
	require.True(t, ok)
	assert.Equal(t, true, high)
	require.Len(t, f.store.runs, 1, "run recorded")
}

func TestRunTool_StoredWorkflow(t *testing.T) {
	f := newFixture(t)
	wf := storedWorkflow("counter")
	f.store.workflows = append(f.store.workflows, wf)

	for _, args := range []map[string]any{
		{"workflow_id": wf.ID},
		{"workflow_name": "counter"},
	} {
		result, err := f.server.handleRun(context.Background(), buildRequest("rigflow.run", args))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))

		var run schema.RunResult
		unmarshalResult(t, result, &run)
		assert.Equal(t, wf.ID, run.WorkflowID)
		assert.Equal(t, schema.RunStatusCompleted, run.Status)
	}
}

func TestRunTool_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"nothing", map[string]any{}, "exactly one"},
		{"two sources", map[string]any{"workflow_id": "a", "workflow_name": "b"}, "exactly one"},
		{"unknown id", map[string]any{"workflow_id": "missing"}, "NOT_FOUND"},
		{"invalid definition", map[string]any{"definition": map[string]any{"steps": []any{
			map[string]any{"type": "Teleport", "params": map[string]any{}},
		}}}, "invalid definition"},
	}

	f := newFixture(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.server.handleRun(context.Background(), buildRequest("rigflow.run", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tc.want)
		})
	}
}

func TestRunTool_FailedRunIsNotToolError(t *testing.T) {
	f := newFixture(t)
	def := map[string]any{"steps": []any{
		map[string]any{"type": "PLCRead", "params": map[string]any{
			"module": "Bench", "tag": "Missing", "target_variable": "x",
		}},
	}}

	result, err := f.server.handleRun(context.Background(), buildRequest("rigflow.run", map[string]any{"definition": def}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var run schema.RunResult
	unmarshalResult(t, result, &run)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Equal(t, 0, run.FailedStepIndex)
}

func TestRunTool_ForwardsEventsToOperator(t *testing.T) {
	f := newFixture(t)
	rec := &recordingNotifier{}
	f.server.notifier = rec

	result, err := f.server.handleRun(context.Background(), buildRequest("rigflow.run", map[string]any{
		"definition": inlineDefinition(),
		"operator":   "op-7",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, schema.EventRunStarted, types[0])
	assert.Equal(t, schema.EventRunCompleted, types[len(types)-1])
	assert.Contains(t, types, schema.EventStepStatusChanged)
	assert.Equal(t, "op-7", rec.payloads[0]["operator"])
}

func TestStopTool_Idle(t *testing.T) {
	f := newFixture(t)
	result, err := f.server.handleStop(context.Background(), buildRequest("rigflow.stop", nil))
	require.NoError(t, err)

	var body map[string]any
	unmarshalResult(t, result, &body)
	assert.Equal(t, false, body["stopped"])
}

func TestStopTool_CancelsRun(t *testing.T) {
	f := newFixture(t)
	def := map[string]any{"steps": []any{
		map[string]any{"type": "Delay", "params": map[string]any{"duration_ms": 5000}},
	}}

	done := make(chan *mcp.CallToolResult, 1)
	go func() {
		result, _ := f.server.handleRun(context.Background(), buildRequest("rigflow.run", map[string]any{"definition": def}))
		done <- result
	}()
	require.Eventually(t, f.engine.IsRunning, time.Second, time.Millisecond)

	result, err := f.server.handleStatus(context.Background(), buildRequest("rigflow.status", nil))
	require.NoError(t, err)
	var status map[string]any
	unmarshalResult(t, result, &status)
	assert.Equal(t, true, status["running"])

	result, err = f.server.handleStop(context.Background(), buildRequest("rigflow.stop", nil))
	require.NoError(t, err)
	var body map[string]any
	unmarshalResult(t, result, &body)
	assert.Equal(t, true, body["stopped"])

	select {
	case res := <-done:
		var run schema.RunResult
		unmarshalResult(t, res, &run)
		assert.Equal(t, schema.RunStatusCancelled, run.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestStatusTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleStatus(context.Background(), buildRequest("rigflow.status", nil))
	require.NoError(t, err)
	var idle map[string]any
	unmarshalResult(t, result, &idle)
	assert.Equal(t, false, idle["running"])

	f.store.runs = append(f.store.runs, &schema.RunResult{RunID: "run-1", Status: schema.RunStatusFailed})
	result, err = f.server.handleStatus(context.Background(), buildRequest("rigflow.status", map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	var body struct {
		Running bool             `json:"running"`
		Run     schema.RunResult `json:"run"`
	}
	unmarshalResult(t, result, &body)
	assert.False(t, body.Running)
	assert.Equal(t, schema.RunStatusFailed, body.Run.Status)

	result, err = f.server.handleStatus(context.Background(), buildRequest("rigflow.status", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestVariablesTool(t *testing.T) {
	f := newFixture(t)
	f.vars.SeedSystem("bench", time.Now())
	require.NoError(t, f.vars.Add(schema.Variable{Name: "Limit", Type: schema.VariableTypeDouble, Value: 2.5}))

	result, err := f.server.handleVariables(context.Background(), buildRequest("rigflow.variables", nil))
	require.NoError(t, err)
	var all struct {
		Variables []schema.Variable `json:"variables"`
	}
	unmarshalResult(t, result, &all)
	assert.Greater(t, len(all.Variables), 1)

	result, err = f.server.handleVariables(context.Background(), buildRequest("rigflow.variables", map[string]any{"user_only": true}))
	require.NoError(t, err)
	var user struct {
		Variables []schema.Variable `json:"variables"`
	}
	unmarshalResult(t, result, &user)
	require.Len(t, user.Variables, 1)
	assert.Equal(t, "Limit", user.Variables[0].Name)

	result, err = f.server.handleVariables(context.Background(), buildRequest("rigflow.variables", map[string]any{"name": "Limit"}))
	require.NoError(t, err)
	var one schema.Variable
	unmarshalResult(t, result, &one)
	assert.Equal(t, 2.5, one.Value)

	result, err = f.server.handleVariables(context.Background(), buildRequest("rigflow.variables", map[string]any{"name": "Nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSetVariableTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleSetVariable(context.Background(), buildRequest("rigflow.set_variable", map[string]any{
		"name": "Target", "value": "12", "type": "Integer",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	v, ok := f.vars.Get("Target")
	require.True(t, ok)
	assert.Equal(t, schema.VariableTypeInteger, v.Type)
	assert.Equal(t, int64(12), v.Value)

	result, err = f.server.handleSetVariable(context.Background(), buildRequest("rigflow.set_variable", map[string]any{
		"name": "Target", "value": 20.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	v, _ = f.vars.Get("Target")
	assert.Equal(t, int64(20), v.Value)
	assert.Equal(t, "mcp", v.Source)

	result, err = f.server.handleSetVariable(context.Background(), buildRequest("rigflow.set_variable", map[string]any{"name": "Target"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSetVariableTool_ReadOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vars.Add(schema.Variable{Name: "Serial", Type: schema.VariableTypeString, Value: "A1", IsReadOnly: true}))

	result, err := f.server.handleSetVariable(context.Background(), buildRequest("rigflow.set_variable", map[string]any{
		"name": "Serial", "value": "B2",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "READ_ONLY")
}

func TestDefineAndWorkflowsTools(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleDefine(context.Background(), buildRequest("rigflow.define", map[string]any{
		"definition": inlineDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var defined map[string]any
	unmarshalResult(t, result, &defined)
	assert.Equal(t, "inline check", defined["name"])
	assert.Equal(t, float64(2), defined["step_count"])
	require.Len(t, f.store.workflows, 1)
	assert.NotEmpty(t, f.store.workflows[0].ID)

	f.store.workflows = append(f.store.workflows, storedWorkflow("leak test"))

	result, err = f.server.handleWorkflows(context.Background(), buildRequest("rigflow.workflows", map[string]any{"name_like": "LEAK"}))
	require.NoError(t, err)
	var list struct {
		Workflows []store.WorkflowSummary `json:"workflows"`
	}
	unmarshalResult(t, result, &list)
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, "leak test", list.Workflows[0].Name)

	result, err = f.server.handleDefine(context.Background(), buildRequest("rigflow.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunsTool(t *testing.T) {
	f := newFixture(t)
	f.store.runs = []*schema.RunResult{
		{RunID: "r1", WorkflowID: "wf-a", Status: schema.RunStatusCompleted},
		{RunID: "r2", WorkflowID: "wf-b", Status: schema.RunStatusFailed},
	}

	result, err := f.server.handleRuns(context.Background(), buildRequest("rigflow.runs", map[string]any{
		"workflow_id": "wf-b",
		"since":       "2026-01-01T00:00:00Z",
		"limit":       float64(5),
	}))
	require.NoError(t, err)
	var body struct {
		Runs []schema.RunResult `json:"runs"`
	}
	unmarshalResult(t, result, &body)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "r2", body.Runs[0].RunID)
	assert.Equal(t, 5, f.store.lastRuns.Limit)
	require.NotNil(t, f.store.lastRuns.Since)

	result, err = f.server.handleRuns(context.Background(), buildRequest("rigflow.runs", map[string]any{"since": "yesterday"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSchemaTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleSchema(context.Background(), buildRequest("rigflow.schema", map[string]any{"step_type": "PLCWrite"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), &doc))
	assert.Equal(t, "PLCWrite", doc["title"])

	result, err = f.server.handleSchema(context.Background(), buildRequest("rigflow.schema", map[string]any{"step_type": "Teleport"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStorelessServer(t *testing.T) {
	s := NewServer(ServerDeps{Vars: variables.NewStore(nil)})

	for _, call := range []func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		s.handleWorkflows, s.handleRuns,
	} {
		result, err := call(context.Background(), buildRequest("", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	}

	wf, err := s.decodeDefinition(map[string]any{"name": "plain", "steps": []any{
		map[string]any{"type": "Delay", "params": map[string]any{"duration_ms": 1}},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, 1, wf.Steps[0].Number)
}

func TestArgInt(t *testing.T) {
	args := map[string]any{"f": float64(7), "i": 3, "s": "12", "bad": "x"}
	assert.Equal(t, 7, argInt(args, "f", 0))
	assert.Equal(t, 3, argInt(args, "i", 0))
	assert.Equal(t, 12, argInt(args, "s", 0))
	assert.Equal(t, 9, argInt(args, "bad", 9))
	assert.Equal(t, 9, argInt(args, "missing", 9))
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
