package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/internal/store"
	"github.com/rendis/rigflow/pkg/schema"
)

func newWorkflowsCmd() *cobra.Command {
	var (
		filter store.WorkflowFilter
		remove string
	)
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "List or delete stored workflows",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				if remove != "" {
					if err := a.store.DeleteWorkflow(ctx, remove); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", remove)
					return nil
				}

				list, err := a.store.ListWorkflows(ctx, filter)
				if err != nil {
					return err
				}
				renderWorkflows(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.NameLike, "name", "", "case-insensitive name substring")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	cmd.Flags().StringVar(&remove, "delete", "", "delete the workflow with this ID")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var (
		workflowID string
		status     string
		since      time.Duration
		limit      int
		events     bool
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				if len(args) == 1 {
					run, err := a.store.GetRun(ctx, args[0])
					if err != nil {
						return err
					}
					renderRun(cmd.OutOrStdout(), run)
					if !events {
						return nil
					}
					// Replay fails on a gap in the log before anything is printed.
					if _, err := a.events.Replay(ctx, run.RunID); err != nil {
						return err
					}
					log, err := a.store.GetRunEvents(ctx, run.RunID, 0)
					if err != nil {
						return err
					}
					renderEvents(cmd.OutOrStdout(), log)
					return nil
				}

				filter := store.RunFilter{
					WorkflowID: workflowID,
					Status:     schema.RunStatus(status),
					Limit:      limit,
				}
				if since > 0 {
					t := time.Now().Add(-since)
					filter.Since = &t
				}
				runs, err := a.store.ListRuns(ctx, filter)
				if err != nil {
					return err
				}
				renderRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "only runs of this workflow ID")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (completed, failed, cancelled)")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs started within this duration")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().BoolVar(&events, "events", false, "with a run ID, also print its event log")
	return cmd
}
