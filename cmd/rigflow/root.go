package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/pkg/schema"
)

// Exit codes for CLI commands.
const (
	exitOK = 0
	// exitError is a command error: bad arguments, I/O or store failures.
	exitError = 1
	// exitRunFailed means the workflow ran but did not complete.
	exitRunFailed = 2
	// exitInvalid means the workflow document did not validate.
	exitInvalid = 3
)

// runFailedError reports a run that finished failed or cancelled.
type runFailedError struct {
	result *schema.RunResult
}

func (e *runFailedError) Error() string {
	return "run " + string(e.result.Status) + ": " + e.result.Message
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rigflow",
		Short: "Run equipment test procedures",
		Long: `rigflow runs test procedures made of ordered, nestable steps
(delays, assignments, conditions, loops, PLC and cell I/O, messages,
stability waits, detections and monitors) against a shared variable
environment.

Configuration is read from ~/.rigflow/settings.json (or $RIGFLOW_HOME)
and RIGFLOW_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}
	root.SetVersionTemplate(`{{printf "rigflow version %s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newImportCmd(),
		newWorkflowsCmd(),
		newRunsCmd(),
		newDiagramCmd(),
		newVarsCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	err := newRootCmd().ExecuteContext(context.Background())
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var runErr *runFailedError
	if errors.As(err, &runErr) {
		return exitRunFailed
	}
	var flowErr *schema.Error
	if errors.As(err, &flowErr) && flowErr.Code == schema.ErrCodeValidation {
		return exitInvalid
	}
	return exitError
}
