package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all CareHub ops tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("carehub-ops", "1.0.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetPlatformMRR, h.HandleGetPlatformMRR)
	s.AddTool(ToolGetBillingReport, h.HandleGetBillingReport)
	s.AddTool(ToolListOrganizations, h.HandleListOrganizations)
	s.AddTool(ToolGetOrganizationSubscription, h.HandleGetOrganizationSubscription)
	s.AddTool(ToolListAuditLogs, h.HandleListAuditLogs)

	return s
}
