package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/rigflow/internal/diagram"
	"github.com/rendis/rigflow/pkg/schema"
)

func newDiagramCmd() *cobra.Command {
	var (
		format string
		runID  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "diagram <file|id|name>",
		Short: "Draw a workflow as ASCII, Mermaid, PNG or SVG",
		Long: "Draw a workflow. With --run the step outcomes of a recorded run are\n" +
			"overlaid; the workflow argument may then be omitted.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && runID == "" {
				return fmt.Errorf("a workflow or --run is required")
			}
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()

				var result *schema.RunResult
				if runID != "" {
					run, err := a.store.GetRun(ctx, runID)
					if err != nil {
						return err
					}
					result = run
				}

				var (
					wf  *schema.Workflow
					err error
				)
				if len(args) == 1 {
					wf, err = a.loadWorkflow(ctx, args[0])
				} else {
					wf, err = a.store.GetWorkflow(ctx, result.WorkflowID)
				}
				if err != nil {
					return err
				}

				model, err := diagram.Build(wf, result)
				if err != nil {
					return err
				}

				var out []byte
				switch format {
				case "ascii":
					out = []byte(diagram.RenderASCII(model))
				case "mermaid":
					out = []byte(diagram.RenderMermaid(model))
				case "png", "svg":
					out, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(format))
					if err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown format %q (want ascii, mermaid, png or svg)", format)
				}

				if output == "" {
					_, err = cmd.OutOrStdout().Write(out)
					return err
				}
				if err := os.WriteFile(output, out, 0o644); err != nil {
					return fmt.Errorf("write diagram: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "ascii", "ascii, mermaid, png or svg")
	cmd.Flags().StringVar(&runID, "run", "", "overlay the outcome of this recorded run")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
