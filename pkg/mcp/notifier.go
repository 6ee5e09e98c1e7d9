package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/rigflow/pkg/schema"
)

// Notifier pushes notifications to connected operators.
type Notifier interface {
	Notify(ctx context.Context, operator string, payload map[string]any) error
}

// MCPNotifier implements Notifier using MCP session push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the operator's session.
// Best-effort: returns nil if the operator is not connected.
func (n *MCPNotifier) Notify(_ context.Context, operator string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(operator)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// eventPayload flattens a run event into a notification body.
func eventPayload(ev schema.RunEvent) map[string]any {
	p := map[string]any{
		"type":        ev.Type,
		"run_id":      ev.RunID,
		"workflow_id": ev.WorkflowID,
		"step_index":  ev.StepIndex,
		"timestamp":   ev.Timestamp,
	}
	switch ev.Type {
	case schema.EventStepStatusChanged:
		p["from"] = ev.From
		p["to"] = ev.To
	case schema.EventProgress:
		p["completed"] = ev.Completed
		p["total"] = ev.Total
	}
	if ev.Message != "" {
		p["message"] = ev.Message
	}
	if ev.Result != nil {
		p["status"] = ev.Result.Status
	}
	return p
}
