package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listWorkflowsTool(),
		s.getWorkflowTool(),
		s.getWorkflowPlanTool(),
		s.getReviewReportTool(),
	)
}

func (s *Server) listWorkflowsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_workflows",
		mcplib.WithDescription("List all change workflows managed by Foreman"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListWorkflows,
	}
}

func (s *Server) getWorkflowTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_workflow",
		mcplib.WithDescription("Get a workflow by ID, including its active role and phase"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The workflow ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetWorkflow,
	}
}

func (s *Server) getWorkflowPlanTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_workflow_plan",
		mcplib.WithDescription("Get the current plan for a workflow, with steps and markers"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The workflow whose plan to fetch"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetWorkflowPlan,
	}
}

func (s *Server) getReviewReportTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_review_report",
		mcplib.WithDescription("Get the synthesized review report for a workflow"),
		mcplib.WithString("workflow_id",
			mcplib.Required(),
			mcplib.Description("The workflow whose report to fetch"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetReviewReport,
	}
}

func (s *Server) handleListWorkflows(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.WorkflowReader == nil {
		return mcplib.NewToolResultError("workflow reader not configured"), nil
	}
	workflows, err := s.deps.WorkflowReader.ListWorkflows(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list workflows", err), nil
	}
	data, err := json.Marshal(workflows)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal workflows", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetWorkflow(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.WorkflowReader == nil {
		return mcplib.NewToolResultError("workflow reader not configured"), nil
	}
	args := req.GetArguments()
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	w, err := s.deps.WorkflowReader.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get workflow %s", workflowID), err,
		), nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal workflow", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetWorkflowPlan(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.PlanReader == nil {
		return mcplib.NewToolResultError("plan reader not configured"), nil
	}
	args := req.GetArguments()
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	p, err := s.deps.PlanReader.GetPlanByWorkflow(ctx, workflowID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get plan for workflow %s", workflowID), err,
		), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plan", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetReviewReport(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.ReportReader == nil {
		return mcplib.NewToolResultError("report reader not configured"), nil
	}
	args := req.GetArguments()
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcplib.NewToolResultError("workflow_id is required"), nil
	}
	r, err := s.deps.ReportReader.GetReportByWorkflow(ctx, workflowID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get report for workflow %s", workflowID), err,
		), nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal report", err), nil
	}
	return toolResultJSON(string(data)), nil
}
