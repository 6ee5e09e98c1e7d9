package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Validate workflow files and store them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				for _, path := range args {
					wf, err := a.decodeFile(path)
					if err != nil {
						return err
					}
					vr := a.check(wf)
					renderValidation(cmd.ErrOrStderr(), vr)
					if err := vr.ToError(); err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					if err := a.store.SaveWorkflow(ctx, wf); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d steps)\n", wf.ID, wf.Name, len(wf.Steps))
				}
				return nil
			})
		},
	}
}
