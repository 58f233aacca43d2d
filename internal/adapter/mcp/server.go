// Package mcp exposes read-only orchestration state over the Model Context
// Protocol so coding agents can inspect workflows, plans and review reports.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/domain/workflow"
)

// WorkflowReader provides read access to workflows.
type WorkflowReader interface {
	ListWorkflows(ctx context.Context) ([]workflow.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
}

// PlanReader provides read access to plans.
type PlanReader interface {
	GetPlanByWorkflow(ctx context.Context, workflowID string) (*plan.Plan, error)
}

// ReportReader provides read access to review reports.
type ReportReader interface {
	GetReportByWorkflow(ctx context.Context, workflowID string) (*review.Report, error)
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// ServerDeps holds the dependencies the MCP tools read from. Any of them
// may be nil; the corresponding tools then return an error result.
type ServerDeps struct {
	WorkflowReader WorkflowReader
	PlanReader     PlanReader
	ReportReader   ReportReader
}

// Server hosts the MCP endpoint over streamable HTTP.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start begins serving the MCP endpoint. It does not block.
func (s *Server) Start() error {
	s.httpServer = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the MCP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
