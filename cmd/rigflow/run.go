package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/internal/engine"
	"github.com/rendis/rigflow/pkg/schema"
)

func newRunCmd() *cobra.Command {
	var (
		save  bool
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "run <file|id|name>",
		Short: "Run a workflow file or a stored workflow",
		Long: `Run a workflow to completion. The argument is a YAML or JSON file,
or the ID or name of a stored workflow. Ctrl-C cancels the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(context.WithoutCancel(ctx)); err != nil {
					a.logger.Error("close app", "error", err)
				}
			}()

			wf, err := a.loadWorkflow(ctx, args[0])
			if err != nil {
				return err
			}
			if save {
				if err := a.store.SaveWorkflow(ctx, wf); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved workflow %s\n", wf.ID)
			}

			res, err := runWorkflow(ctx, a, wf, cmd.OutOrStdout(), quiet)
			if err != nil {
				return err
			}
			renderRun(cmd.OutOrStdout(), res)
			if res.Status != schema.RunStatusCompleted {
				return &runFailedError{result: res}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the workflow before running it")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print step transitions")
	return cmd
}

// runWorkflow runs wf on the app's engine, printing step transitions to out
// unless quiet. The engine persists the run's events itself.
func runWorkflow(ctx context.Context, a *app, wf *schema.Workflow, out io.Writer, quiet bool) (*schema.RunResult, error) {
	if !quiet {
		stopWatching, err := watchSteps(context.WithoutCancel(ctx), a.engine, wf, out)
		if err != nil {
			return nil, err
		}
		defer stopWatching()
	}
	return a.engine.Run(ctx, wf)
}

// watchSteps prints one line per step status change of wf's runs.
func watchSteps(ctx context.Context, eng *engine.Engine, wf *schema.Workflow, out io.Writer) (func(), error) {
	events, cancel, err := eng.Subscribe(ctx, func(ev schema.RunEvent) bool {
		return ev.WorkflowID == wf.ID && ev.Type == schema.EventStepStatusChanged
	})
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			stepType := schema.StepType("?")
			if ev.StepIndex >= 0 && ev.StepIndex < len(wf.Steps) && wf.Steps[ev.StepIndex] != nil {
				stepType = wf.Steps[ev.StepIndex].Type
			}
			fmt.Fprintf(out, "[%d] %-14s %s\n", ev.StepIndex+1, stepType, colorStatus(string(ev.To)))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}, nil
}
