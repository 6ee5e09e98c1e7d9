package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rigflow/internal/engine"
	"github.com/rendis/rigflow/pkg/schema"
)

var (
	_ Store              = (*LibSQLStore)(nil)
	_ engine.RunRecorder = (*LibSQLStore)(nil)
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var flowErr *schema.Error
	require.True(t, errors.As(err, &flowErr), "expected *schema.Error, got %v", err)
	assert.Equal(t, code, flowErr.Code)
}

func sampleWorkflow(name string) *schema.Workflow {
	wf := schema.NewWorkflow(name)
	wf.Description = "leak test"
	wf.AddStep(schema.NewStep(&schema.PLCReadParams{Module: "Bench", Tag: "Pressure", TargetVariable: "P"}))
	wf.AddStep(schema.NewStep(&schema.LoopParams{
		Count: 3,
		Body: []*schema.Step{
			schema.NewStep(&schema.DelayParams{DurationMs: 100}),
		},
	}))
	wf.Renumber()
	return wf
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestDSN(t *testing.T) {
	tests := map[string]string{
		"/var/lib/rigflow/rigflow.db":     "file:/var/lib/rigflow/rigflow.db",
		"rigflow.db":                      "file:rigflow.db",
		"file:/tmp/x.db":                  "file:/tmp/x.db",
		"libsql://bench.example.turso.io": "libsql://bench.example.turso.io",
		"https://bench.example.turso.io":  "https://bench.example.turso.io",
	}
	for in, want := range tests {
		assert.Equal(t, want, DSN(in), in)
	}
}

func TestNewLibSQLStore_PlainPath(t *testing.T) {
	s, err := NewLibSQLStore(filepath.Join(t.TempDir(), "plain.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.SaveWorkflow(context.Background(), sampleWorkflow("plain")))
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "initial_schema", ms[0].name)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header only;\nCREATE TABLE a (x INT);\n\n-- note\nCREATE TABLE b (y INT);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := sampleWorkflow("leak check")

	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "leak check", got.Name)
	assert.Equal(t, "leak test", got.Description)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, schema.StepTypePLCRead, got.Steps[0].Type)

	loop, ok := got.Steps[1].Params.(*schema.LoopParams)
	require.True(t, ok)
	assert.Equal(t, 3, loop.Count)
	require.Len(t, loop.Body, 1)
	assert.Equal(t, schema.StepTypeDelay, loop.Body[0].Type)
}

func TestSaveWorkflow_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := sampleWorkflow("first")
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	wf.Name = "renamed"
	wf.AddStep(schema.NewStep(&schema.BreakParams{}))
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	list, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)
	assert.Equal(t, 3, list[0].StepCount)
}

func TestSaveWorkflow_RequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveWorkflow(context.Background(), &schema.Workflow{Name: "x"})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestFindWorkflowByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := sampleWorkflow("pressure decay")
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.FindWorkflowByName(ctx, "pressure decay")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)

	_, err = s.FindWorkflowByName(ctx, "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListWorkflows_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Leak A", "leak B", "Flow C"} {
		require.NoError(t, s.SaveWorkflow(ctx, sampleWorkflow(name)))
	}

	got, err := s.ListWorkflows(ctx, WorkflowFilter{NameLike: "LEAK"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListWorkflows(ctx, WorkflowFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Flow C", got[0].Name)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := sampleWorkflow("doomed")
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))
	_, err := s.GetWorkflow(ctx, wf.ID)
	requireCode(t, err, schema.ErrCodeNotFound)

	requireCode(t, s.DeleteWorkflow(ctx, wf.ID), schema.ErrCodeNotFound)
}

func TestSaveAndLoadVariables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stamp := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	vars := []schema.Variable{
		{Name: "Count", Type: schema.VariableTypeInteger, Value: int64(7), Scope: schema.ScopeGlobal},
		{Name: "Limit", Type: schema.VariableTypeDouble, Value: 2.5, Scope: schema.ScopeGlobal, IsReadOnly: true},
		{Name: "Operator", Type: schema.VariableTypeString, Value: "ana", Scope: schema.ScopeWorkflow},
		{Name: "Passed", Type: schema.VariableTypeBoolean, Value: true, Scope: schema.ScopeGlobal},
		{Name: "Started", Type: schema.VariableTypeDateTime, Value: stamp, Scope: schema.ScopeGlobal},
		{Name: "Sys_WorkflowName", Type: schema.VariableTypeString, Value: "x", IsSystem: true},
	}
	require.NoError(t, s.SaveVariables(ctx, vars))

	got, err := s.LoadVariables(ctx)
	require.NoError(t, err)
	require.Len(t, got, 5)

	byName := map[string]schema.Variable{}
	for _, v := range got {
		byName[v.Name] = v
	}
	assert.Equal(t, int64(7), byName["Count"].Value)
	assert.Equal(t, 2.5, byName["Limit"].Value)
	assert.True(t, byName["Limit"].IsReadOnly)
	assert.Equal(t, "ana", byName["Operator"].Value)
	assert.Equal(t, schema.ScopeWorkflow, byName["Operator"].Scope)
	assert.Equal(t, true, byName["Passed"].Value)
	started, ok := byName["Started"].Value.(time.Time)
	require.True(t, ok)
	assert.True(t, stamp.Equal(started))
	assert.NotContains(t, byName, "Sys_WorkflowName")
}

func TestSaveVariables_Replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveVariables(ctx, []schema.Variable{
		{Name: "A", Type: schema.VariableTypeInteger, Value: int64(1), Scope: schema.ScopeGlobal},
	}))
	require.NoError(t, s.SaveVariables(ctx, []schema.Variable{
		{Name: "B", Type: schema.VariableTypeInteger, Value: int64(2), Scope: schema.ScopeGlobal},
	}))

	got, err := s.LoadVariables(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Name)
}

func sampleRun(workflowID string, status schema.RunStatus, started time.Time) *schema.RunResult {
	r := &schema.RunResult{
		RunID:           uuid.New().String(),
		WorkflowID:      workflowID,
		WorkflowName:    "leak check",
		Status:          status,
		FailedStepIndex: -1,
		Message:         "done",
		StartedAt:       started,
		CompletedAt:     started.Add(2 * time.Second),
		Steps: []schema.StepSummary{
			{Index: 0, Number: 1, Type: schema.StepTypeDelay, Status: schema.StepStatusSucceeded, DurationMs: 100},
		},
	}
	if status == schema.RunStatusFailed {
		r.FailedStepIndex = 0
		r.Error = schema.NewError(schema.ErrCodeAdapter, "bus timeout").WithStep(0)
	}
	return r
}

func TestRecordAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := sampleRun("wf-1", schema.RunStatusFailed, time.Now().UTC().Truncate(time.Second))

	require.NoError(t, s.RecordRun(ctx, run))

	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, 0, got.FailedStepIndex)
	require.NotNil(t, got.Error)
	assert.Equal(t, schema.ErrCodeAdapter, got.Error.Code)
	require.NotNil(t, got.Error.StepIndex)
	assert.Equal(t, 0, *got.Error.StepIndex)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, schema.StepStatusSucceeded, got.Steps[0].Status)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(ctx, sampleRun("wf-1", schema.RunStatusCompleted, base)))
	require.NoError(t, s.RecordRun(ctx, sampleRun("wf-1", schema.RunStatusFailed, base.Add(time.Hour))))
	require.NoError(t, s.RecordRun(ctx, sampleRun("wf-2", schema.RunStatusCompleted, base.Add(2*time.Hour))))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wf-2", all[0].WorkflowID)

	byWf, err := s.ListRuns(ctx, RunFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Len(t, byWf, 2)

	failed, err := s.ListRuns(ctx, RunFilter{Status: schema.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, schema.RunStatusFailed, failed[0].Status)

	since := base.Add(30 * time.Minute)
	recent, err := s.ListRuns(ctx, RunFilter{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "wf-2", recent[0].WorkflowID)
}

func TestRecordRun_RequiresID(t *testing.T) {
	s := newTestStore(t)
	requireCode(t, s.RecordRun(context.Background(), &schema.RunResult{}), schema.ErrCodeValidation)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}
