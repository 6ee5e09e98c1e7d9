// Package scheduler runs stored workflows on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/rigflow/pkg/schema"
)

// WorkflowSource loads the workflow a schedule refers to.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// WorkflowRunner runs a workflow. Satisfied by *engine.Engine.
type WorkflowRunner interface {
	Run(ctx context.Context, wf *schema.Workflow) (*schema.RunResult, error)
}

// Schedule binds a cron expression to a stored workflow.
type Schedule struct {
	WorkflowID string `json:"workflow_id"`
	Cron       string `json:"cron"`
}

// EntryInfo describes one registered schedule.
type EntryInfo struct {
	ID         int              `json:"id"`
	Schedule   Schedule         `json:"schedule"`
	Next       time.Time        `json:"next"`
	Prev       time.Time        `json:"prev"`
	LastStatus schema.RunStatus `json:"last_status,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
}

// Parser accepts five-field expressions and descriptors such as @hourly
// or @every 30m.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler triggers workflow runs from cron schedules. A schedule whose
// previous run is still going is skipped, and a run refused because another
// workflow is active is logged and dropped.
type Scheduler struct {
	source WorkflowSource
	runner WorkflowRunner
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[cron.EntryID]*entryState
}

type entryState struct {
	id         cron.EntryID
	schedule   Schedule
	lastStatus schema.RunStatus
	lastError  string
}

// New creates a Scheduler. A nil logger uses slog.Default().
func New(source WorkflowSource, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		source: source,
		runner: runner,
		logger: logger,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     context.Background(),
		entries: make(map[cron.EntryID]*entryState),
	}
}

// Add registers a schedule and returns its entry ID.
func (s *Scheduler) Add(sch Schedule) (int, error) {
	if sch.WorkflowID == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "schedule has no workflow id")
	}
	if _, err := Parser.Parse(sch.Cron); err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", sch.Cron, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state := &entryState{schedule: sch}
	id, err := s.cron.AddFunc(sch.Cron, func() { s.fire(state) })
	if err != nil {
		return 0, fmt.Errorf("add schedule: %w", err)
	}
	state.id = id
	s.entries[id] = state
	s.logger.Info("schedule added",
		slog.Int("entry", int(id)),
		slog.String("workflow_id", sch.WorkflowID),
		slog.String("cron", sch.Cron),
	)
	return int(id), nil
}

// Remove unregisters an entry. It reports whether the entry existed.
func (s *Scheduler) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[cron.EntryID(id)]; !ok {
		return false
	}
	s.cron.Remove(cron.EntryID(id))
	delete(s.entries, cron.EntryID(id))
	return true
}

// Entries lists the registered schedules ordered by ID.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EntryInfo
	for _, e := range s.cron.Entries() {
		state, ok := s.entries[e.ID]
		if !ok {
			continue
		}
		out = append(out, EntryInfo{
			ID:         int(e.ID),
			Schedule:   state.schedule,
			Next:       e.Next,
			Prev:       e.Prev,
			LastStatus: state.lastStatus,
			LastError:  state.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start begins firing schedules. Runs use ctx; cancelling it cancels
// in-flight runs but does not stop the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("schedules", len(s.entries)))
	return nil
}

// Stop stops firing schedules, cancels in-flight runs and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow loads and runs a workflow immediately, outside any schedule.
func (s *Scheduler) RunNow(ctx context.Context, workflowID string) (*schema.RunResult, error) {
	wf, err := s.source.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	return s.runner.Run(ctx, wf)
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := Parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

func (s *Scheduler) fire(state *entryState) {
	s.mu.Lock()
	ctx := s.ctx
	id := state.id
	sch := state.schedule
	s.mu.Unlock()

	logger := s.logger.With(slog.Int("entry", int(id)), slog.String("workflow_id", sch.WorkflowID))
	logger.Info("scheduled run triggered")

	res, err := s.RunNow(ctx, sch.WorkflowID)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		state.lastStatus = ""
		state.lastError = err.Error()
		var flowErr *schema.Error
		if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeConflict {
			logger.Warn("scheduled run skipped, engine busy")
			return
		}
		logger.Error("scheduled run failed to start", slog.String("error", err.Error()))
	default:
		state.lastStatus = res.Status
		state.lastError = ""
		if res.Error != nil {
			state.lastError = res.Error.Error()
		}
		logger.Info("scheduled run finished", slog.String("status", string(res.Status)))
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
