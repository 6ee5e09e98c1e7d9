package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/internal/logging"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check workflow files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := newBench(cfg, logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var firstErr error
			for _, path := range args {
				wf, err := b.decodeFile(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					firstErr = keepFirst(firstErr, err)
					continue
				}
				vr := b.check(wf)
				renderValidation(out, vr)
				if err := vr.ToError(); err != nil {
					fmt.Fprintf(out, "%s: invalid\n", path)
					firstErr = keepFirst(firstErr, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok (%d steps)\n", path, len(wf.Steps))
			}
			return firstErr
		},
	}
}

func keepFirst(first, err error) error {
	if first != nil {
		return first
	}
	return err
}
