package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/internal/logging"
	"github.com/rendis/rigflow/internal/scheduler"
	rigmcp "github.com/rendis/rigflow/pkg/mcp"
)

func newServeCmd() *cobra.Command {
	var noMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools on stdio and run scheduled workflows",
		Long: `Serve the rigflow MCP tools over stdio and fire the cron schedules
from settings.json. SIGHUP reloads the configuration: log level and
schedules apply immediately, other changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			sched := scheduler.New(a.store, a.engine, a.logger)
			entries := applySchedules(sched, nil, cfg.Schedules, a.logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			go reloadOnHangup(ctx, a, sched, entries)

			a.logger.Info("rigflow serving", "schedules", len(cfg.Schedules), "mcp", !noMCP)
			if noMCP {
				<-ctx.Done()
				return nil
			}

			srv := rigmcp.NewServer(rigmcp.ServerDeps{
				Engine:    a.engine,
				Vars:      a.vars,
				Store:     a.store,
				Validator: a.validator,
				Logger:    a.logger,
			})
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "only run schedules, do not serve MCP on stdio")
	return cmd
}

// applySchedules replaces the scheduler entries in old with schedules and
// returns the new entry IDs. Invalid schedules are logged and skipped.
func applySchedules(sched *scheduler.Scheduler, old []int, schedules []scheduler.Schedule, logger *slog.Logger) []int {
	for _, id := range old {
		sched.Remove(id)
	}
	ids := make([]int, 0, len(schedules))
	for _, s := range schedules {
		id, err := sched.Add(s)
		if err != nil {
			logger.Error("skip schedule", "workflow_id", s.WorkflowID, "cron", s.Cron, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// reloadOnHangup re-reads the configuration on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, a *app, sched *scheduler.Scheduler, entries []int) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	current := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := loadConfig()
		if err != nil {
			a.logger.Error("reload config", "error", err)
			continue
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			a.level.Set(logging.ParseLevel(next.LogLevel))
			a.logger.Info("log level changed", "level", next.LogLevel)
		}
		if d.SchedulesChanged {
			entries = applySchedules(sched, entries, next.Schedules, a.logger)
			a.logger.Info("schedules reloaded", "count", len(entries))
		}
		if len(d.RestartNeeded) > 0 {
			a.logger.Warn("config changes need a restart", "fields", d.RestartNeeded)
		}
		current = next
	}
}
