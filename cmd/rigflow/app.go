package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/rendis/rigflow/internal/adapters"
	"github.com/rendis/rigflow/internal/engine"
	"github.com/rendis/rigflow/internal/expressions"
	"github.com/rendis/rigflow/internal/logging"
	"github.com/rendis/rigflow/internal/steps"
	"github.com/rendis/rigflow/internal/store"
	"github.com/rendis/rigflow/internal/validation"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// bench is everything needed to validate and execute steps. It has no
// persistence so validate can use it without a database.
type bench struct {
	vars      *variables.Store
	plc       *adapters.SimulatedPLC
	guarded   *adapters.GuardedPLC
	workbook  *adapters.Workbook
	runner    *steps.Runner
	validator *validation.Validator
}

func newBench(cfg Config, logger *slog.Logger) (*bench, error) {
	vars := variables.NewStore(logger)

	formula, err := expressions.NewFormulaEngine(cfg.FormulaEngine)
	if err != nil {
		return nil, err
	}
	eval := expressions.NewEvaluator(vars,
		expressions.WithFormulaEngine(formula),
		expressions.WithLogger(logger),
	)

	var plcOpts []adapters.PLCOption
	if cfg.PLCJitter > 0 {
		amp := cfg.PLCJitter
		plcOpts = append(plcOpts, adapters.WithJitter(func(_, _ string) float64 {
			return (rand.Float64()*2 - 1) * amp
		}))
	}
	plc := adapters.NewSimulatedPLC(cfg.PLCTags, plcOpts...)
	guarded := adapters.NewGuardedPLC(plc, cfg.Breaker.config())
	workbook := adapters.NewWorkbook(cfg.Sheets...)

	runner, err := steps.NewBuiltinRunner(steps.Deps{
		Vars:         vars,
		Eval:         eval,
		Query:        expressions.NewGoJQEngine(),
		PLC:          guarded,
		Cells:        workbook,
		Messenger:    adapters.NewLogMessenger(logger, cfg.AutoConfirm),
		Logger:       logger,
		PollInterval: cfg.pollInterval(),
	})
	if err != nil {
		return nil, fmt.Errorf("build step runner: %w", err)
	}

	validator, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	return &bench{
		vars:      vars,
		plc:       plc,
		guarded:   guarded,
		workbook:  workbook,
		runner:    runner,
		validator: validator,
	}, nil
}

// check runs document and step validation over wf.
func (b *bench) check(wf *schema.Workflow) *schema.ValidationResult {
	return b.runner.Validate("steps", wf.Steps)
}

// decodeFile reads and validates a YAML or JSON workflow file.
func (b *bench) decodeFile(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	wf, err := b.validator.DecodeWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// app is a bench bound to the store and an engine.
type app struct {
	*bench
	cfg    Config
	level  *slog.LevelVar
	logger *slog.Logger
	store  *store.LibSQLStore
	engine *engine.Engine
	events *store.EventLog
}

func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveled(level, cfg.LogFormat, logOut)

	b, err := newBench(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	saved, err := st.LoadVariables(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := b.vars.Restore(saved); err != nil {
		st.Close()
		return nil, fmt.Errorf("restore variables: %w", err)
	}

	events := store.NewEventLog(st, logger)
	eng, err := engine.New(engine.Deps{
		Runner:   b.runner,
		Vars:     b.vars,
		Recorder: st,
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	logger.Debug("app ready",
		slog.String("db_path", cfg.DBPath),
		slog.Int("variables", len(saved)),
		slog.String("formula_engine", cfg.FormulaEngine),
	)
	return &app{
		bench:  b,
		cfg:    cfg,
		level:  level,
		logger: logger,
		store:  st,
		engine: eng,
		events: events,
	}, nil
}

// loadWorkflow resolves ref as a file path, a stored workflow ID, or a
// stored workflow name, in that order.
func (a *app) loadWorkflow(ctx context.Context, ref string) (*schema.Workflow, error) {
	if _, err := os.Stat(ref); err == nil {
		return a.decodeFile(ref)
	}
	wf, err := a.store.GetWorkflow(ctx, ref)
	var flowErr *schema.Error
	if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeNotFound {
		wf, err = a.store.FindWorkflowByName(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", ref, err)
	}
	return wf, nil
}

// close saves user variables and closes the store.
func (a *app) close(ctx context.Context) error {
	saveErr := a.store.SaveVariables(ctx, a.vars.GetUser())
	closeErr := a.store.Close()
	return errors.Join(saveErr, closeErr)
}
