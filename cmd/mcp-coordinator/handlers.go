package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/coordinator"
	"github.com/stellarlink/agentfleet/internal/state"
	"github.com/stellarlink/agentfleet/internal/worktree"
)

// server holds the shared dependencies behind the MCP tool handlers.
type server struct {
	coord   *coordinator.Coordinator
	trees   *worktree.Manager
	baseDir string
	log     *zap.Logger
}

func (s *server) registerTools(m *mcp.Server) {
	mcp.AddTool(m, &mcp.Tool{
		Name:        "register_agent",
		Description: "Register an agent with the coordinator so it can receive tasks",
	}, s.handleRegisterAgent)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_next_task",
		Description: "Get the highest-priority task suited to the calling agent's role and capabilities",
	}, s.handleGetNextTask)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "update_task",
		Description: "Update a task's status; failed tasks are retried automatically until the retry budget runs out",
	}, s.handleUpdateTask)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "create_task",
		Description: "Create a new task in the priority queue",
	}, s.handleCreateTask)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "submit_audit_finding",
		Description: "Submit an audit finding; non-duplicate findings spawn a planning task automatically",
	}, s.handleSubmitFinding)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "create_worktree",
		Description: "Create an isolated git worktree on a new branch for conflict-free parallel work",
	}, s.handleCreateWorktree)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_project_context",
		Description: "Get aggregated project state: agents, tasks, findings, health and insights",
	}, s.handleProjectContext)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_agent_health",
		Description: "Get the health report for a single agent",
	}, s.handleAgentHealth)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_system_health",
		Description: "Get the overall system health verdict",
	}, s.handleSystemHealth)

	mcp.AddTool(m, &mcp.Tool{
		Name:        "recover_agent",
		Description: "Reset a failed agent and return its in-progress tasks to the queue",
	}, s.handleRecoverAgent)

	s.log.Info("tools registered", zap.Int("count", 10))
}

// jsonResult marshals v into a single text content block.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
		IsError: true,
	}
}

// RegisterAgentParams defines the input for register_agent.
type RegisterAgentParams struct {
	AgentID      string   `json:"agent_id" jsonschema:"Unique agent identifier"`
	Role         string   `json:"role" jsonschema:"Agent role: auditor, planner, coder, tester or reviewer"`
	Capabilities []string `json:"capabilities,omitempty" jsonschema:"Capability tags used for task matching"`
}

func (s *server) handleRegisterAgent(ctx context.Context, req *mcp.CallToolRequest, params RegisterAgentParams) (*mcp.CallToolResult, any, error) {
	agent, err := s.coord.RegisterAgent(params.AgentID, params.Role, params.Capabilities)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(agent)
	return res, nil, err
}

// GetNextTaskParams defines the input for get_next_task.
type GetNextTaskParams struct {
	AgentID   string `json:"agent_id" jsonschema:"Agent requesting work"`
	AgentRole string `json:"agent_role" jsonschema:"Role of the requesting agent"`
}

func (s *server) handleGetNextTask(ctx context.Context, req *mcp.CallToolRequest, params GetNextTaskParams) (*mcp.CallToolResult, any, error) {
	if params.AgentID == "" || params.AgentRole == "" {
		return errorResult(fmt.Errorf("agent_id and agent_role are required")), nil, nil
	}
	task := s.coord.GetNextTask(params.AgentID, params.AgentRole)
	if task == nil {
		res, err := jsonResult(map[string]any{"task": nil, "message": "no suitable tasks available"})
		return res, nil, err
	}
	res, err := jsonResult(task)
	return res, nil, err
}

// UpdateTaskParams defines the input for update_task.
type UpdateTaskParams struct {
	TaskID string `json:"task_id" jsonschema:"Task to update"`
	Status string `json:"status" jsonschema:"New status: pending, in_progress, completed or failed"`
	Result string `json:"result,omitempty" jsonschema:"Optional result summary"`
}

func (s *server) handleUpdateTask(ctx context.Context, req *mcp.CallToolRequest, params UpdateTaskParams) (*mcp.CallToolResult, any, error) {
	status := state.TaskStatus(params.Status)
	switch status {
	case state.TaskPending, state.TaskInProgress, state.TaskCompleted, state.TaskFailed:
	default:
		return errorResult(fmt.Errorf("invalid status: %s", params.Status)), nil, nil
	}

	task, err := s.coord.UpdateTask(params.TaskID, status, params.Result)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(task)
	return res, nil, err
}

// CreateTaskParams defines the input for create_task.
type CreateTaskParams struct {
	Type                 string   `json:"type" jsonschema:"Task type, e.g. implement, test, audit"`
	Description          string   `json:"description" jsonschema:"What the task should accomplish"`
	Priority             string   `json:"priority,omitempty" jsonschema:"low, medium, high or critical; defaults to medium"`
	Dependencies         []string `json:"dependencies,omitempty" jsonschema:"Task IDs that must complete first"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty" jsonschema:"Capabilities the assignee must have"`
}

func (s *server) handleCreateTask(ctx context.Context, req *mcp.CallToolRequest, params CreateTaskParams) (*mcp.CallToolResult, any, error) {
	task, err := s.coord.CreateTask(coordinator.CreateTaskRequest{
		Type:         params.Type,
		Description:  params.Description,
		Priority:     state.Priority(params.Priority),
		Dependencies: params.Dependencies,
		Context:      state.TaskContext{RequiredCapabilities: params.RequiredCapabilities},
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(task)
	return res, nil, err
}

// SubmitFindingParams defines the input for submit_audit_finding.
type SubmitFindingParams struct {
	Title       string `json:"title" jsonschema:"Short finding title"`
	Description string `json:"description,omitempty" jsonschema:"Detailed description"`
	Severity    string `json:"severity,omitempty" jsonschema:"low, medium, high or critical; defaults to medium"`
	Category    string `json:"category" jsonschema:"Finding category, e.g. security, performance, quality"`
	FilePath    string `json:"file_path,omitempty" jsonschema:"File the finding refers to"`
	LineNumber  int    `json:"line_number,omitempty" jsonschema:"Line the finding refers to"`
}

func (s *server) handleSubmitFinding(ctx context.Context, req *mcp.CallToolRequest, params SubmitFindingParams) (*mcp.CallToolResult, any, error) {
	finding, err := s.coord.SubmitFinding(coordinator.FindingInput{
		Title:       params.Title,
		Description: params.Description,
		Severity:    state.Priority(params.Severity),
		Category:    params.Category,
		FilePath:    params.FilePath,
		LineNumber:  params.LineNumber,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(finding)
	return res, nil, err
}

// CreateWorktreeParams defines the input for create_worktree.
type CreateWorktreeParams struct {
	Branch string `json:"branch" jsonschema:"Branch name for the new worktree"`
}

func (s *server) handleCreateWorktree(ctx context.Context, req *mcp.CallToolRequest, params CreateWorktreeParams) (*mcp.CallToolResult, any, error) {
	if s.trees == nil {
		return errorResult(fmt.Errorf("worktree support unavailable: base directory is not a git repository")), nil, nil
	}
	path, err := s.trees.Create(ctx, params.Branch)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(map[string]string{"branch": params.Branch, "path": path})
	return res, nil, err
}

// ProjectContextParams defines the (empty) input for get_project_context.
type ProjectContextParams struct{}

func (s *server) handleProjectContext(ctx context.Context, req *mcp.CallToolRequest, params ProjectContextParams) (*mcp.CallToolResult, any, error) {
	res, err := jsonResult(s.coord.ProjectContextReport(s.baseDir))
	return res, nil, err
}

// AgentHealthParams defines the input for get_agent_health.
type AgentHealthParams struct {
	AgentID string `json:"agent_id" jsonschema:"Agent to report on"`
}

func (s *server) handleAgentHealth(ctx context.Context, req *mcp.CallToolRequest, params AgentHealthParams) (*mcp.CallToolResult, any, error) {
	report, err := s.coord.AgentHealthReport(params.AgentID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := jsonResult(report)
	return res, nil, err
}

// SystemHealthParams defines the (empty) input for get_system_health.
type SystemHealthParams struct{}

func (s *server) handleSystemHealth(ctx context.Context, req *mcp.CallToolRequest, params SystemHealthParams) (*mcp.CallToolResult, any, error) {
	res, err := jsonResult(s.coord.SystemHealthReport())
	return res, nil, err
}

// RecoverAgentParams defines the input for recover_agent.
type RecoverAgentParams struct {
	AgentID string `json:"agent_id" jsonschema:"Agent to recover"`
}

func (s *server) handleRecoverAgent(ctx context.Context, req *mcp.CallToolRequest, params RecoverAgentParams) (*mcp.CallToolResult, any, error) {
	if !s.coord.RecoverAgent(params.AgentID) {
		return errorResult(fmt.Errorf("agent not found: %s", params.AgentID)), nil, nil
	}
	res, err := jsonResult(map[string]string{"agent_id": params.AgentID, "status": "recovering"})
	return res, nil, err
}
