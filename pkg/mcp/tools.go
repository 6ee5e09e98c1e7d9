package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/rigflow/internal/diagram"
	"github.com/rendis/rigflow/internal/store"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// handleRun resolves a workflow and runs it to completion.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wf, errResult := s.resolveWorkflow(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	operator := req.GetString("operator", "")
	if operator != "" {
		s.captureSession(ctx, operator)
		stop := s.forwardEvents(ctx, operator, wf.ID)
		defer stop()
	}

	result, err := s.engine.Run(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", err)), nil
	}
	return marshalResult(result)
}

// handleStop cancels the active run.
func (s *Server) handleStop(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"stopped": s.engine.Stop()})
}

// handleStatus reports the active run or a recorded one.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if runID := req.GetString("run_id", ""); runID != "" {
		if info, ok := s.engine.Status(); ok && info.RunID == runID {
			return marshalResult(map[string]any{"running": true, "run": info})
		}
		if s.store == nil {
			return mcp.NewToolResultError("run history is not available"), nil
		}
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"running": false, "run": run})
	}

	info, ok := s.engine.Status()
	if !ok {
		return marshalResult(map[string]any{"running": false})
	}
	return marshalResult(map[string]any{"running": true, "run": info})
}

// handleVariables lists variables or returns one by name.
func (s *Server) handleVariables(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if name := req.GetString("name", ""); name != "" {
		v, ok := s.vars.Get(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("variable %q not found", name)), nil
		}
		return marshalResult(v)
	}

	var vars []schema.Variable
	if req.GetBool("user_only", false) {
		vars = s.vars.GetUser()
	} else {
		vars = s.vars.GetAll()
	}
	for i := range vars {
		vars[i].History = nil
	}
	return marshalResult(map[string]any{"variables": vars})
}

// handleSetVariable writes a variable, creating it when missing.
func (s *Server) handleSetVariable(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	value, ok := req.GetArguments()["value"]
	if !ok {
		return mcp.NewToolResultError("value is required"), nil
	}
	typ := schema.VariableType(req.GetString("type", ""))
	prov := variables.Provenance{Source: "mcp", StepIndex: -1}

	if _, exists := s.vars.Get(name); exists {
		if _, err := s.vars.Set(name, value, prov); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("set variable failed: %v", err)), nil
		}
	} else if err := s.vars.Upsert(name, value, typ, prov); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create variable failed: %v", err)), nil
	}

	v, _ := s.vars.Get(name)
	v.History = nil
	return marshalResult(v)
}

// handleWorkflows lists stored workflows.
func (s *Server) handleWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("workflow storage is not available"), nil
	}
	list, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		NameLike: req.GetString("name_like", ""),
		Limit:    argInt(req.GetArguments(), "limit", 50),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": list})
}

// handleDefine validates and stores a workflow document.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("workflow storage is not available"), nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	wf, err := s.decodeDefinition(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store workflow: %v", err)), nil
	}
	s.logger.Info("workflow defined", "workflow_id", wf.ID, "name", wf.Name, "steps", len(wf.Steps))

	return marshalResult(map[string]any{
		"id":         wf.ID,
		"name":       wf.Name,
		"step_count": len(wf.Steps),
	})
}

// handleRuns lists recorded runs.
func (s *Server) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is not available"), nil
	}
	filter := store.RunFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		Status:     schema.RunStatus(req.GetString("status", "")),
		Limit:      argInt(req.GetArguments(), "limit", 20),
	}
	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since: %v", err)), nil
		}
		filter.Since = &t
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// handleSchema returns a step type's parameter schema.
func (s *Server) handleSchema(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stepType, err := req.RequireString("step_type")
	if err != nil {
		return mcp.NewToolResultError("step_type is required"), nil
	}
	if s.validator == nil {
		return mcp.NewToolResultError("parameter schemas are not available"), nil
	}
	raw, err := s.validator.ParameterSchema(schema.StepType(stepType))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// handleDiagram draws a workflow, optionally overlaid with a recorded run.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	var result *schema.RunResult
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("run history is not available"), nil
		}
		if result, err = s.store.GetRun(ctx, runID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
	}

	var wf *schema.Workflow
	args := req.GetArguments()
	_, hasDef := args["definition"]
	if result != nil && !hasDef && req.GetString("workflow_id", "") == "" && req.GetString("workflow_name", "") == "" {
		if wf, err = s.store.GetWorkflow(ctx, result.WorkflowID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
		}
	} else {
		var errResult *mcp.CallToolResult
		if wf, errResult = s.resolveWorkflow(ctx, req); errResult != nil {
			return errResult, nil
		}
	}

	model, err := diagram.Build(wf, result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "png", "svg":
		imgFormat := diagram.ImageFormat(format)
		img, err := diagram.RenderImage(ctx, model, imgFormat)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(img), imgFormat.MIMEType()), nil
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, png or svg"), nil
	}
}

// --- Internal helpers ---

// resolveWorkflow picks the workflow a run request refers to. Exactly one
// of definition, workflow_id or workflow_name must be given.
func (s *Server) resolveWorkflow(ctx context.Context, req mcp.CallToolRequest) (*schema.Workflow, *mcp.CallToolResult) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	id := req.GetString("workflow_id", "")
	name := req.GetString("workflow_name", "")

	given := 0
	for _, set := range []bool{defRaw != nil, id != "", name != ""} {
		if set {
			given++
		}
	}
	if given != 1 {
		return nil, mcp.NewToolResultError("exactly one of definition, workflow_id or workflow_name is required")
	}

	if defRaw != nil {
		wf, err := s.decodeDefinition(defRaw)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err))
		}
		return wf, nil
	}

	if s.store == nil {
		return nil, mcp.NewToolResultError("workflow storage is not available")
	}
	var (
		wf  *schema.Workflow
		err error
	)
	if id != "" {
		wf, err = s.store.GetWorkflow(ctx, id)
	} else {
		wf, err = s.store.FindWorkflowByName(ctx, name)
	}
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err))
	}
	return wf, nil
}

// decodeDefinition turns a tool argument into a workflow, validating it
// against the document schema when a validator is configured.
func (s *Server) decodeDefinition(def map[string]any) (*schema.Workflow, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	if s.validator != nil {
		return s.validator.DecodeWorkflow(data)
	}

	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	if wf.ID == "" {
		fresh := schema.NewWorkflow(wf.Name)
		wf.ID, wf.CreatedAt, wf.UpdatedAt = fresh.ID, fresh.CreatedAt, fresh.UpdatedAt
	}
	wf.Renumber()
	if err := wf.Validate().ToError(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// forwardEvents pushes the events of workflowID's run to operator until the
// returned stop func is called.
func (s *Server) forwardEvents(ctx context.Context, operator, workflowID string) func() {
	events, cancel, err := s.engine.Subscribe(ctx, func(ev schema.RunEvent) bool {
		return ev.WorkflowID == workflowID
	})
	if err != nil {
		s.logger.Warn("subscribe to run events", "error", err)
		return func() {}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			if err := s.notifier.Notify(ctx, operator, eventPayload(ev)); err != nil {
				s.logger.Warn("notify operator", "operator", operator, "error", err)
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// captureSession maps the operator to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, operator string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(operator, session.SessionID())
	}
}

// argInt reads an integer argument that may arrive as a JSON number or string.
func argInt(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
