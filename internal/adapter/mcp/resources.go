package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"foreman://workflows",
			"Workflow List",
			mcplib.WithResourceDescription("List of all Foreman change workflows"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWorkflowsResource,
	)
}

func (s *Server) handleWorkflowsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.WorkflowReader == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"workflow reader not configured"}`,
			},
		}, nil
	}
	workflows, err := s.deps.WorkflowReader.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(workflows)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
