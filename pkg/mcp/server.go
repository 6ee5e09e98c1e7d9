package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/rigflow/internal/engine"
	"github.com/rendis/rigflow/internal/store"
	"github.com/rendis/rigflow/internal/streaming"
	"github.com/rendis/rigflow/internal/validation"
	"github.com/rendis/rigflow/internal/variables"
	"github.com/rendis/rigflow/pkg/schema"
)

// RunController is the engine surface the tools drive.
type RunController interface {
	Run(ctx context.Context, wf *schema.Workflow) (*schema.RunResult, error)
	Stop() bool
	Status() (engine.RunStatusInfo, bool)
	Subscribe(ctx context.Context, filter streaming.Filter[schema.RunEvent]) (<-chan schema.RunEvent, func(), error)
}

// VariableStore is the variable environment the tools read and write.
type VariableStore interface {
	Get(name string) (schema.Variable, bool)
	GetAll() []schema.Variable
	GetUser() []schema.Variable
	Set(name string, value any, prov variables.Provenance) (bool, error)
	Upsert(name string, value any, typ schema.VariableType, prov variables.Provenance) error
}

// WorkflowStore persists workflows and run history.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	FindWorkflowByName(ctx context.Context, name string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.WorkflowSummary, error)
	GetRun(ctx context.Context, id string) (*schema.RunResult, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.RunResult, error)
}

// ServerDeps holds the dependencies for creating a Server. Engine and Vars
// are required; without Store the workflow tools report an error.
type ServerDeps struct {
	Engine    RunController
	Vars      VariableStore
	Store     WorkflowStore
	Validator *validation.Validator
	Logger    *slog.Logger
}

// Server wraps an MCP server with rigflow tool handlers.
type Server struct {
	engine    RunController
	vars      VariableStore
	store     WorkflowStore
	validator *validation.Validator
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:    deps.Engine,
		vars:      deps.Vars,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"rigflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("rigflow runs equipment test procedures. Use rigflow.run to execute a stored or inline workflow, "+
			"rigflow.status and rigflow.stop to follow or cancel it, rigflow.variables and rigflow.set_variable to inspect and "+
			"change the variable environment, rigflow.workflows, rigflow.define and rigflow.runs to manage stored workflows and "+
			"run history, and rigflow.schema to get the parameter schema of a step type."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: variablesTool(), Handler: s.handleVariables},
		{Tool: setVariableTool(), Handler: s.handleSetVariable},
		{Tool: workflowsTool(), Handler: s.handleWorkflows},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: schemaTool(), Handler: s.handleSchema},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("rigflow.run",
		mcp.WithDescription("Run a workflow and wait for it to finish"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithString("workflow_name", mcp.Description("Name of a stored workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow document, used instead of a stored workflow")),
		mcp.WithString("operator", mcp.Description("Operator ID; run events are pushed to this operator's session")),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("rigflow.stop",
		mcp.WithDescription("Cancel the active run"),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("rigflow.status",
		mcp.WithDescription("Get the active run's progress, or a recorded run by ID"),
		mcp.WithString("run_id", mcp.Description("ID of a recorded run (default: the active run)")),
	)
}

func variablesTool() mcp.Tool {
	return mcp.NewTool("rigflow.variables",
		mcp.WithDescription("List variables or get one by name"),
		mcp.WithString("name", mcp.Description("Variable name")),
		mcp.WithBoolean("user_only", mcp.Description("Exclude system variables")),
	)
}

func setVariableTool() mcp.Tool {
	return mcp.NewTool("rigflow.set_variable",
		mcp.WithDescription("Set a variable, creating it when missing"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New value; coerced to the variable's type")),
		mcp.WithString("type",
			mcp.Enum(
				string(schema.VariableTypeString), string(schema.VariableTypeInteger), string(schema.VariableTypeDouble),
				string(schema.VariableTypeBoolean), string(schema.VariableTypeDateTime), string(schema.VariableTypeObject),
			),
			mcp.Description("Type used when the variable is created (default: inferred)"),
		),
	)
}

func workflowsTool() mcp.Tool {
	return mcp.NewTool("rigflow.workflows",
		mcp.WithDescription("List stored workflows"),
		mcp.WithString("name_like", mcp.Description("Case-insensitive name substring")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows (default: 50)")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("rigflow.define",
		mcp.WithDescription("Validate and store a workflow"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow document")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("rigflow.runs",
		mcp.WithDescription("List recorded runs, newest first"),
		mcp.WithString("workflow_id", mcp.Description("Only runs of this workflow")),
		mcp.WithString("status",
			mcp.Enum(string(schema.RunStatusCompleted), string(schema.RunStatusFailed), string(schema.RunStatusCancelled)),
			mcp.Description("Only runs with this status"),
		),
		mcp.WithString("since", mcp.Description("RFC 3339 lower bound on start time")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows (default: 20)")),
	)
}

func schemaTool() mcp.Tool {
	return mcp.NewTool("rigflow.schema",
		mcp.WithDescription("Get the JSON Schema of a step type's parameters"),
		mcp.WithString("step_type", mcp.Required(), mcp.Description("Step type, e.g. PLCRead")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("rigflow.diagram",
		mcp.WithDescription("Draw a workflow as ASCII art, a Mermaid flowchart, or an image"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithString("workflow_name", mcp.Description("Name of a stored workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow document")),
		mcp.WithString("run_id", mcp.Description("Recorded run whose step outcomes are overlaid; selects its workflow when none is given")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "png", "svg"),
			mcp.Description("ascii or mermaid return text; png and svg return an image"),
		),
	)
}
