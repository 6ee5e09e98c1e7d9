package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rendis/rigflow/internal/store"
	"github.com/rendis/rigflow/pkg/schema"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}

func colorStatus(status string) string {
	switch status {
	case string(schema.StepStatusSucceeded), string(schema.RunStatusCompleted):
		return text.FgGreen.Sprint(status)
	case string(schema.StepStatusFailed):
		return text.FgRed.Sprint(status)
	case string(schema.RunStatusCancelled), string(schema.StepStatusRunning):
		return text.FgYellow.Sprint(status)
	case string(schema.StepStatusSkipped), string(schema.StepStatusPending):
		return text.FgHiBlack.Sprint(status)
	default:
		return status
	}
}

func renderRun(w io.Writer, r *schema.RunResult) {
	fmt.Fprintf(w, "Run %s  %s  %s\n", r.RunID, colorStatus(string(r.Status)), r.Message)
	t := newTable(w, table.Row{"#", "Type", "Status", "Duration", "Message"})
	for _, s := range r.Steps {
		t.AppendRow(table.Row{
			s.Number,
			s.Type,
			colorStatus(string(s.Status)),
			(time.Duration(s.DurationMs) * time.Millisecond).String(),
			s.Message,
		})
	}
	t.Render()
}

func renderEvents(w io.Writer, events []*store.RunEventRecord) {
	t := newTable(w, table.Row{"Seq", "Time", "Event", "Step", "Payload"})
	for _, e := range events {
		step := ""
		if e.StepIndex >= 0 {
			step = fmt.Sprint(e.StepIndex + 1)
		}
		t.AppendRow(table.Row{e.Sequence, e.Timestamp.Format("15:04:05.000"), e.Type, step, string(e.Payload)})
	}
	t.Render()
}

func renderVariables(w io.Writer, vars []schema.Variable) {
	t := newTable(w, table.Row{"Name", "Type", "Value", "Scope", "Flags", "Updated"})
	for _, v := range vars {
		flags := ""
		if v.IsSystem {
			flags += "system "
		}
		if v.IsReadOnly {
			flags += "read-only"
		}
		t.AppendRow(table.Row{v.Name, v.Type, v.DisplayText, v.Scope, flags, v.UpdatedAt.Format(time.RFC3339)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "total", len(vars)})
	t.Render()
}

func renderWorkflows(w io.Writer, list []*store.WorkflowSummary) {
	t := newTable(w, table.Row{"ID", "Name", "Steps", "Updated"})
	for _, wf := range list {
		t.AppendRow(table.Row{wf.ID, wf.Name, wf.StepCount, wf.UpdatedAt.Format(time.RFC3339)})
	}
	t.Render()
}

func renderRuns(w io.Writer, runs []*schema.RunResult) {
	t := newTable(w, table.Row{"Run", "Workflow", "Status", "Started", "Took", "Message"})
	for _, r := range runs {
		took := ""
		if !r.CompletedAt.IsZero() {
			took = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			r.RunID, r.WorkflowName, colorStatus(string(r.Status)),
			r.StartedAt.Format(time.RFC3339), took, r.Message,
		})
	}
	t.Render()
}

func renderValidation(w io.Writer, vr *schema.ValidationResult) {
	for _, m := range vr.Messages() {
		fmt.Fprintf(w, "%s %s\n", text.FgRed.Sprint("error:"), m)
	}
	for _, issue := range vr.Warnings {
		fmt.Fprintf(w, "%s %s: %s\n", text.FgYellow.Sprint("warning:"), issue.Path, issue.Message)
	}
}
