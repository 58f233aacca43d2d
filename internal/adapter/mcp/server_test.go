package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	fmcp "github.com/mwaldron/foreman/internal/adapter/mcp"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/domain/workflow"
)

// --- Mocks ---

type mockWorkflowReader struct {
	workflows []workflow.Workflow
	err       error
}

func (m *mockWorkflowReader) ListWorkflows(_ context.Context) ([]workflow.Workflow, error) {
	return m.workflows, m.err
}

func (m *mockWorkflowReader) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	for i := range m.workflows {
		if m.workflows[i].ID == id {
			return &m.workflows[i], nil
		}
	}
	return nil, m.err
}

type mockPlanReader struct {
	plans map[string]*plan.Plan
	err   error
}

func (m *mockPlanReader) GetPlanByWorkflow(_ context.Context, workflowID string) (*plan.Plan, error) {
	if p, ok := m.plans[workflowID]; ok {
		return p, nil
	}
	return nil, m.err
}

type mockReportReader struct {
	reports map[string]*review.Report
	err     error
}

func (m *mockReportReader) GetReportByWorkflow(_ context.Context, workflowID string) (*review.Report, error) {
	if r, ok := m.reports[workflowID]; ok {
		return r, nil
	}
	return nil, m.err
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	cfg := fmcp.ServerConfig{
		Addr:    ":3001",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := fmcp.NewServer(cfg, fmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := fmcp.ServerConfig{
		Addr:    ":0",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := fmcp.NewServer(cfg, fmcp.ServerDeps{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, fmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	if len(tools) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(tools))
	}

	expectedTools := map[string]bool{
		"list_workflows":    false,
		"get_workflow":      false,
		"get_workflow_plan": false,
		"get_review_report": false,
	}
	for name := range tools {
		if _, ok := expectedTools[name]; ok {
			expectedTools[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleListWorkflows(t *testing.T) {
	deps := fmcp.ServerDeps{
		WorkflowReader: &mockWorkflowReader{
			workflows: []workflow.Workflow{
				{ID: "wf1", Status: workflow.StatusPlanning},
				{ID: "wf2", Status: workflow.StatusReviewing},
			},
		},
	}
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_workflows"]
	if !ok {
		t.Fatal("list_workflows tool not found")
	}

	ctx := context.Background()
	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_workflows"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var workflows []workflow.Workflow
	if err := json.Unmarshal([]byte(text.Text), &workflows); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(workflows) != 2 {
		t.Fatalf("expected 2 workflows, got %d", len(workflows))
	}
}

func TestHandleGetWorkflow(t *testing.T) {
	deps := fmcp.ServerDeps{
		WorkflowReader: &mockWorkflowReader{
			workflows: []workflow.Workflow{
				{ID: "wf-abc", Status: workflow.StatusImplementing},
			},
		},
	}
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	wfTool, ok := tools["get_workflow"]
	if !ok {
		t.Fatal("get_workflow tool not found")
	}

	ctx := context.Background()
	result, err := wfTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "get_workflow",
			Arguments: map[string]any{"workflow_id": "wf-abc"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var w workflow.Workflow
	if err := json.Unmarshal([]byte(text.Text), &w); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if w.Status != workflow.StatusImplementing {
		t.Fatalf("expected status %q, got %q", workflow.StatusImplementing, w.Status)
	}
}

func TestHandleGetWorkflowMissingArg(t *testing.T) {
	deps := fmcp.ServerDeps{
		WorkflowReader: &mockWorkflowReader{},
	}
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	wfTool, ok := tools["get_workflow"]
	if !ok {
		t.Fatal("get_workflow tool not found")
	}

	ctx := context.Background()
	result, err := wfTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "get_workflow"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing workflow_id")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, fmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["list_workflows"]
	if !ok {
		t.Fatal("list_workflows tool not found")
	}

	ctx := context.Background()
	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "list_workflows"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestHandleGetReviewReport(t *testing.T) {
	deps := fmcp.ServerDeps{
		ReportReader: &mockReportReader{
			reports: map[string]*review.Report{
				"wf1": {ID: "rep1", WorkflowID: "wf1"},
			},
		},
	}
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	repTool, ok := tools["get_review_report"]
	if !ok {
		t.Fatal("get_review_report tool not found")
	}

	ctx := context.Background()
	result, err := repTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "get_review_report",
			Arguments: map[string]any{"workflow_id": "wf1"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var r review.Report
	if err := json.Unmarshal([]byte(text.Text), &r); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if r.ID != "rep1" {
		t.Fatalf("expected report rep1, got %q", r.ID)
	}
}

func TestHandleGetWorkflowPlan(t *testing.T) {
	deps := fmcp.ServerDeps{
		PlanReader: &mockPlanReader{
			plans: map[string]*plan.Plan{
				"wf1": {ID: "p1", WorkflowID: "wf1", Version: 2},
			},
		},
	}
	s := fmcp.NewServer(fmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	planTool, ok := tools["get_workflow_plan"]
	if !ok {
		t.Fatal("get_workflow_plan tool not found")
	}

	ctx := context.Background()
	result, err := planTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "get_workflow_plan",
			Arguments: map[string]any{"workflow_id": "wf1"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var p plan.Plan
	if err := json.Unmarshal([]byte(text.Text), &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if p.Version != 2 {
		t.Fatalf("expected plan version 2, got %d", p.Version)
	}
}
