// Package engine drives top-level workflow execution: it walks the step
// list, tracks step status through a state machine, follows jumps, and
// publishes run events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/rigflow/internal/logging"
	"github.com/rendis/rigflow/internal/steps"
	"github.com/rendis/rigflow/internal/streaming"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// SystemVars is the part of the variable store the engine refreshes while
// a run progresses.
type SystemVars interface {
	SeedSystem(workflowName string, startedAt time.Time)
	SetSystem(name string, value any) (bool, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *schema.RunResult) error
}

// EventSink receives every run event synchronously, before subscribers do.
// It is the lossless path; subscribers may miss events when slow.
type EventSink interface {
	AppendEvent(ctx context.Context, ev schema.RunEvent)
}

// Deps holds the engine's collaborators. Runner is required.
type Deps struct {
	Runner   *steps.Runner
	Vars     SystemVars
	Recorder RunRecorder
	Events   EventSink
	Logger   *slog.Logger
}

// RunStatusInfo is a point-in-time view of the active run.
type RunStatusInfo struct {
	RunID        string              `json:"run_id"`
	WorkflowID   string              `json:"workflow_id"`
	WorkflowName string              `json:"workflow_name"`
	StartedAt    time.Time           `json:"started_at"`
	CurrentStep  int                 `json:"current_step"`
	Steps        []schema.StepStatus `json:"steps"`
}

// activeRun is the bookkeeping of the run in flight.
type activeRun struct {
	ctx       context.Context
	id        string
	wf        *schema.Workflow
	startedAt time.Time
	cancel    context.CancelFunc
	fsm       *StepFSM
	current   int
}

// Engine runs one workflow at a time.
type Engine struct {
	runner   *steps.Runner
	vars     SystemVars
	recorder RunRecorder
	events   EventSink
	hub      *streaming.Hub[schema.RunEvent]
	logger   *slog.Logger

	mu     sync.Mutex
	active *activeRun
}

// New creates an Engine.
func New(deps Deps) (*Engine, error) {
	if deps.Runner == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine needs a step runner")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:   deps.Runner,
		vars:     deps.Vars,
		recorder: deps.Recorder,
		events:   deps.Events,
		hub:      streaming.NewHub[schema.RunEvent](0),
		logger:   logger,
	}, nil
}

// Run executes wf to completion, failure or cancellation. The returned error
// is non-nil only when the run could not start; execution problems are
// reported in the RunResult.
func (e *Engine) Run(ctx context.Context, wf *schema.Workflow) (*schema.RunResult, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &activeRun{
		id:        uuid.New().String(),
		wf:        wf,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		fsm:       NewStepFSM(len(wf.Steps)),
		current:   -1,
	}

	e.mu.Lock()
	if e.active != nil {
		busy := e.active.wf.Name
		e.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is already running", busy)
	}
	e.active = run
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
	}()

	runCtx = logging.WithIDs(runCtx, wf.ID, run.id)
	run.ctx = runCtx

	run.fsm.OnAfter(func(index int, from, to schema.StepStatus) {
		if s := wf.Steps[index]; s != nil {
			s.Status = to
		}
		e.publish(run, schema.RunEvent{
			Type:      schema.EventStepStatusChanged,
			StepIndex: index,
			From:      from,
			To:        to,
		})
	})

	result := &schema.RunResult{
		RunID:           run.id,
		WorkflowID:      wf.ID,
		WorkflowName:    wf.Name,
		Status:          schema.RunStatusRunning,
		FailedStepIndex: -1,
		StartedAt:       run.startedAt,
		Steps:           make([]schema.StepSummary, len(wf.Steps)),
	}

	if vr := e.runner.Validate("steps", wf.Steps); !vr.Valid() {
		e.logger.WarnContext(runCtx, "workflow rejected before execution", slog.Any("errors", vr.Messages()))
		e.finish(runCtx, run, result, schema.RunStatusFailed, "workflow validation failed", asError(vr.ToError()))
		return result, nil
	}

	wf.Renumber()
	wf.ResetStatus()
	if e.vars != nil {
		e.vars.SeedSystem(wf.Name, run.startedAt)
	}

	e.logger.InfoContext(runCtx, "run started",
		slog.String("workflow", wf.Name),
		slog.Int("steps", len(wf.Steps)),
	)
	e.publish(run, schema.RunEvent{Type: schema.EventRunStarted, StepIndex: -1, Total: len(wf.Steps)})

	status, message, runErr := e.execute(runCtx, run, result)
	e.finish(runCtx, run, result, status, message, runErr)
	return result, nil
}

// execute walks the top-level cursor and returns the terminal status.
func (e *Engine) execute(ctx context.Context, run *activeRun, result *schema.RunResult) (schema.RunStatus, string, *schema.Error) {
	wf := run.wf
	total := len(wf.Steps)
	completed := 0

	for i := 0; i < total; {
		step := wf.Steps[i]
		e.setCurrent(run, i)

		if err := ctx.Err(); err != nil {
			return schema.RunStatusCancelled, "run cancelled", schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
		}

		if !step.Enabled {
			if err := run.fsm.Transition(i, schema.StepStatusSkipped); err != nil {
				return schema.RunStatusFailed, err.Error(), atStep(asError(err), i)
			}
			i++
			continue
		}

		if e.vars != nil {
			if _, err := e.vars.SetSystem(variables.SysStepIndex, int64(i)); err != nil {
				e.logger.WarnContext(ctx, "refresh step index variable", slog.String("error", err.Error()))
			}
		}

		if err := run.fsm.Transition(i, schema.StepStatusRunning); err != nil {
			return schema.RunStatusFailed, err.Error(), atStep(asError(err), i)
		}

		res := e.runner.RunStep(ctx, step, steps.TopLevel(i, total, wf.ID, wf.Name, run.id))
		summary := &result.Steps[i]
		summary.Message = res.Message
		summary.DurationMs = res.Duration.Milliseconds()

		switch {
		case res.Failed():
			step.Error = res.Message
			_ = run.fsm.Transition(i, schema.StepStatusFailed)
			result.FailedStepIndex = i
			err := res.Err
			if err == nil {
				err = schema.NewError(schema.ErrCodeExecution, res.Message)
			}
			return schema.RunStatusFailed, fmt.Sprintf("step %d failed: %s", step.Number, res.Message), atStep(err, i)

		case res.IsCancelled():
			step.Error = res.Message
			_ = run.fsm.Transition(i, schema.StepStatusSkipped)
			return schema.RunStatusCancelled, "run cancelled", schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithStep(i)
		}

		next := i + 1
		if res.NextStepIndex != nil {
			next = *res.NextStepIndex
			if next < 0 || next >= total {
				step.Error = fmt.Sprintf("jump target %d outside 1..%d", next+1, total)
				_ = run.fsm.Transition(i, schema.StepStatusFailed)
				result.FailedStepIndex = i
				err := schema.NewErrorf(schema.ErrCodeExecution,
					"step %d jumps to step %d, outside 1..%d", step.Number, next+1, total).WithStep(i)
				return schema.RunStatusFailed, err.Message, err
			}
		}

		if err := run.fsm.Transition(i, schema.StepStatusSucceeded); err != nil {
			return schema.RunStatusFailed, err.Error(), atStep(asError(err), i)
		}
		completed++
		e.publish(run, schema.RunEvent{
			Type:      schema.EventProgress,
			StepIndex: i,
			Completed: completed,
			Total:     total,
			Message:   res.Message,
		})

		if res.NextStepIndex != nil {
			e.logger.DebugContext(ctx, "jump", slog.Int("from", i), slog.Int("to", next))
		}
		i = next
	}

	return schema.RunStatusCompleted, fmt.Sprintf("workflow completed: %d steps executed", completed), nil
}

// finish seals result, publishes the terminal event and records the run.
func (e *Engine) finish(ctx context.Context, run *activeRun, result *schema.RunResult, status schema.RunStatus, message string, runErr *schema.Error) {
	run.fsm.SkipPending()

	if !isValidRunTransition(result.Status, status) {
		e.logger.ErrorContext(ctx, "invalid run transition",
			slog.String("from", string(result.Status)),
			slog.String("to", string(status)),
		)
	}
	result.Status = status
	result.Message = message
	result.Error = runErr
	result.CompletedAt = time.Now().UTC()
	e.summarize(run, result)

	attrs := []any{
		slog.String("status", string(status)),
		slog.Duration("elapsed", result.CompletedAt.Sub(result.StartedAt)),
	}
	switch status {
	case schema.RunStatusCompleted:
		e.logger.InfoContext(ctx, "run completed", attrs...)
	case schema.RunStatusCancelled:
		e.logger.WarnContext(ctx, "run cancelled", attrs...)
	default:
		attrs = append(attrs, slog.Int("failed_step", result.FailedStepIndex), slog.String("message", message))
		e.logger.ErrorContext(ctx, "run failed", attrs...)
	}

	e.publish(run, schema.RunEvent{
		Type:      runEventType(status),
		StepIndex: result.FailedStepIndex,
		Message:   message,
		Result:    result,
	})

	if e.recorder != nil {
		// The run context may already be cancelled; recording must still happen.
		if err := e.recorder.RecordRun(context.WithoutCancel(ctx), result); err != nil {
			e.logger.ErrorContext(ctx, "record run", slog.String("error", err.Error()))
		}
	}
}

// summarize fills the per-step summaries from the state machine.
func (e *Engine) summarize(run *activeRun, result *schema.RunResult) {
	statuses := run.fsm.Snapshot()
	for i, s := range run.wf.Steps {
		sum := &result.Steps[i]
		sum.Index = i
		sum.Number = i + 1
		sum.Status = statuses[i]
		if s != nil {
			sum.Type = s.Type
		}
		if sum.Message == "" && statuses[i] == schema.StepStatusSkipped {
			sum.Message = "skipped"
		}
	}
}

// Stop cancels the active run. It reports whether a run was active.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return false
	}
	e.logger.Info("stop requested", slog.String("run_id", e.active.id))
	e.active.cancel()
	return true
}

// IsRunning reports whether a run is in flight.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// Status returns the active run's progress, or false when idle.
func (e *Engine) Status() (RunStatusInfo, bool) {
	e.mu.Lock()
	run := e.active
	var current int
	if run != nil {
		current = run.current
	}
	e.mu.Unlock()
	if run == nil {
		return RunStatusInfo{}, false
	}
	return RunStatusInfo{
		RunID:        run.id,
		WorkflowID:   run.wf.ID,
		WorkflowName: run.wf.Name,
		StartedAt:    run.startedAt,
		CurrentStep:  current,
		Steps:        run.fsm.Snapshot(),
	}, true
}

// Subscribe streams run events matching filter until ctx ends or the
// returned cancel func is called.
func (e *Engine) Subscribe(ctx context.Context, filter streaming.Filter[schema.RunEvent]) (<-chan schema.RunEvent, func(), error) {
	return e.hub.Subscribe(ctx, filter)
}

func (e *Engine) setCurrent(run *activeRun, index int) {
	e.mu.Lock()
	run.current = index
	e.mu.Unlock()
}

func (e *Engine) publish(run *activeRun, ev schema.RunEvent) {
	ev.RunID = run.id
	ev.WorkflowID = run.wf.ID
	ev.Timestamp = time.Now().UTC()
	if e.events != nil {
		ctx := run.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		e.events.AppendEvent(context.WithoutCancel(ctx), ev)
	}
	e.hub.Publish(ev)
}

// atStep returns a copy of err stamped with the step index. The original
// may be held by the step that produced it.
func atStep(err *schema.Error, index int) *schema.Error {
	stamped := *err
	return stamped.WithStep(index)
}

func asError(err error) *schema.Error {
	var fe *schema.Error
	if errors.As(err, &fe) {
		return fe
	}
	return schema.NewError(schema.ErrCodeInternal, err.Error()).WithCause(err)
}
