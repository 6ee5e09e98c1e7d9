package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

func newVarsCmd() *cobra.Command {
	var userOnly bool
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "List and edit stored variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				list := a.vars.GetAll()
				if userOnly {
					list = a.vars.GetUser()
				}
				renderVariables(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&userOnly, "user", false, "hide system variables")

	var typ string
	set := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Set a variable, creating it when missing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				prov := variables.Provenance{Source: "cli", StepIndex: -1}
				if err := a.vars.Upsert(args[0], args[1], schema.VariableType(typ), prov); err != nil {
					return err
				}
				v, _ := a.vars.Get(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", v.Name, v.DisplayText, v.Type)
				return nil
			})
		},
	}
	set.Flags().StringVar(&typ, "type", "", "type when creating: String, Integer, Double, Boolean, DateTime, Object")

	rm := &cobra.Command{
		Use:   "rm <name>...",
		Short: "Remove variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				for _, name := range args {
					if !a.vars.Remove(name) {
						return schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
					}
				}
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every user variable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d variables\n", a.vars.ClearUser())
				return nil
			})
		},
	}

	cmd.AddCommand(set, rm, clearCmd)
	return cmd
}

// withApp opens the app, runs fn and saves variables on the way out.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.close(ctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
