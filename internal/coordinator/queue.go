package coordinator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

// roleKeywords maps agent roles to the task type/description keywords they
// are suited for.
var roleKeywords = map[string][]string{
	"auditor":  {"audit", "scan", "check", "review", "analyze", "inspect", "security"},
	"planner":  {"plan", "design", "architect", "breakdown", "strategy", "organize"},
	"coder":    {"implement", "code", "fix", "refactor", "develop", "build", "create"},
	"tester":   {"test", "verify", "validate", "qa", "check", "assert"},
	"reviewer": {"review", "approve", "check_pr", "merge", "feedback", "comment"},
}

// Default per-task-type duration estimates in seconds, used until the
// knowledge base has learned better ones.
var defaultEstimates = map[string]float64{
	"audit":     300,
	"plan":      600,
	"implement": 1800,
	"test":      900,
	"review":    600,
}

const (
	defaultAgentLoadLimit  = 3
	degradedAgentLoadLimit = 1
	slowAgentLoadLimit     = 2
	slowTaskSeconds        = 3600
)

// CreateTaskRequest describes a new task.
type CreateTaskRequest struct {
	Type         string
	Description  string
	Priority     state.Priority
	AssignedTo   string
	Context      state.TaskContext
	Dependencies []string
}

// CreateTask creates a task, enriches its context with related findings and
// similar past tasks, and inserts it into the queue by priority.
func (c *Coordinator) CreateTask(req CreateTaskRequest) (*state.Task, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("task type must not be empty")
	}
	if req.Description == "" {
		return nil, fmt.Errorf("task description must not be empty")
	}
	if req.Priority == "" {
		req.Priority = state.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority: %s", req.Priority)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ctx := req.Context
	ctx.RelatedFindings = c.relatedFindingsLocked(req.Description)
	ctx.SimilarTasks = c.similarTasksLocked(req.Description)

	task := &state.Task{
		ID:                uuid.NewString(),
		Type:              req.Type,
		Description:       req.Description,
		Priority:          req.Priority,
		PriorityScore:     req.Priority.Score(),
		Status:            state.TaskPending,
		AssignedTo:        req.AssignedTo,
		Context:           ctx,
		Dependencies:      req.Dependencies,
		CreatedAt:         now,
		UpdatedAt:         now,
		EstimatedDuration: c.estimateDurationLocked(req.Type, req.Description),
	}

	c.insertByPriorityLocked(task)
	c.recordTaskPatternLocked(req.Type)
	c.saveLocked()

	c.log.Info("task created",
		zap.String("task", task.ID),
		zap.String("type", task.Type),
		zap.String("priority", string(task.Priority)))

	return task.Clone(), nil
}

// insertByPriorityLocked places the task ahead of the first pending task
// with a lower priority score.
func (c *Coordinator) insertByPriorityLocked(task *state.Task) {
	index := len(c.queue)
	for i, existing := range c.queue {
		if existing.Status == state.TaskPending && task.PriorityScore > existing.PriorityScore {
			index = i
			break
		}
	}
	c.queue = append(c.queue, nil)
	copy(c.queue[index+1:], c.queue[index:])
	c.queue[index] = task
}

// GetNextTask assigns the highest-priority suitable pending task to the
// agent. It returns nil when no suitable task exists, marking the agent idle.
func (c *Coordinator) GetNextTask(agentID, agentRole string) *state.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if agent, ok := c.agents[agentID]; ok {
		agent.LastSeen = now
		agent.Status = state.AgentBusy
		if h, ok := c.health[agentID]; ok {
			h.LastHeartbeat = now
		}
	}

	var capabilities []string
	if agent, ok := c.agents[agentID]; ok {
		capabilities = agent.Capabilities
	}

	sorted := make([]*state.Task, len(c.queue))
	copy(sorted, c.queue)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PriorityScore > sorted[j].PriorityScore
	})

	for _, task := range sorted {
		if task.Status != state.TaskPending {
			continue
		}
		if !taskSuitsRole(task, agentRole) {
			continue
		}
		if !c.dependenciesMetLocked(task) {
			continue
		}
		if !hasRequiredCapabilities(task, capabilities) {
			continue
		}
		if c.agentOverloadedLocked(agentID) {
			c.log.Info("agent overloaded, deferring assignment", zap.String("agent", agentID))
			continue
		}

		task.Status = state.TaskInProgress
		task.AssignedTo = agentID
		task.StartedAt = now
		task.UpdatedAt = now
		c.load[agentID]++

		c.saveLocked()
		c.log.Info("task assigned",
			zap.String("task", task.ID),
			zap.String("agent", agentID))
		return task.Clone()
	}

	if agent, ok := c.agents[agentID]; ok {
		agent.Status = state.AgentIdle
	}
	return nil
}

func taskSuitsRole(task *state.Task, role string) bool {
	keywords := roleKeywords[role]
	if len(keywords) == 0 {
		return false
	}

	taskType := strings.ToLower(task.Type)
	desc := strings.ToLower(task.Description)
	for _, kw := range keywords {
		if strings.Contains(taskType, kw) || strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

func (c *Coordinator) dependenciesMetLocked(task *state.Task) bool {
	for _, depID := range task.Dependencies {
		dep := c.findTaskLocked(depID)
		if dep == nil || dep.Status != state.TaskCompleted {
			return false
		}
	}
	return true
}

func hasRequiredCapabilities(task *state.Task, capabilities []string) bool {
	required := task.Context.RequiredCapabilities
	if len(required) == 0 {
		return true
	}

	have := make(map[string]bool, len(capabilities))
	for _, name := range capabilities {
		have[name] = true
	}
	for _, req := range required {
		if !have[req] {
			return false
		}
	}
	return true
}

// agentOverloadedLocked applies a dynamic concurrency cap: struggling agents
// get a single slot, slow agents two, everyone else three.
func (c *Coordinator) agentOverloadedLocked(agentID string) bool {
	current := c.load[agentID]

	if h, ok := c.health[agentID]; ok {
		if h.ErrorCount > 5 {
			return current >= degradedAgentLoadLimit
		}
		if h.AverageTaskTime > slowTaskSeconds {
			return current >= slowAgentLoadLimit
		}
	}
	return current >= defaultAgentLoadLimit
}

func (c *Coordinator) findTaskLocked(id string) *state.Task {
	for _, t := range c.queue {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// UpdateTask transitions a task to the given status. Completed tasks feed
// duration learning; failed tasks are re-queued as pending until the retry
// budget is exhausted.
func (c *Coordinator) UpdateTask(taskID string, status state.TaskStatus, result string) (*state.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.findTaskLocked(taskID)
	if task == nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	now := c.now()
	previous := task.Status
	task.Status = status
	task.UpdatedAt = now
	if result != "" {
		task.Result = result
	}

	switch status {
	case state.TaskCompleted:
		task.CompletedAt = now
		if !task.StartedAt.IsZero() {
			task.ActualDuration = now.Sub(task.StartedAt).Seconds()
			if h, ok := c.health[task.AssignedTo]; ok {
				h.TasksCompleted++
				total := h.AverageTaskTime*float64(h.TasksCompleted-1) + task.ActualDuration
				h.AverageTaskTime = total / float64(h.TasksCompleted)
			}
		}
		if task.AssignedTo != "" && c.load[task.AssignedTo] > 0 {
			c.load[task.AssignedTo]--
		}
		c.learnDurationLocked(task)

	case state.TaskFailed:
		task.FailedAt = now
		if h, ok := c.health[task.AssignedTo]; ok {
			h.TasksFailed++
			h.ErrorCount++
		}
		if task.AssignedTo != "" && c.load[task.AssignedTo] > 0 {
			c.load[task.AssignedTo]--
		}

		if task.RetryCount < c.maxRetries {
			task.RetryCount++
			task.Status = state.TaskPending
			task.AssignedTo = ""
			c.log.Info("task re-queued for retry",
				zap.String("task", taskID),
				zap.Int("attempt", task.RetryCount),
				zap.Int("max", c.maxRetries))
		} else {
			c.log.Error("task failed permanently",
				zap.String("task", taskID),
				zap.Int("retries", c.maxRetries))
		}
	}

	c.recordHistoryLocked(taskID, string(previous), string(status))
	c.saveLocked()
	c.log.Info("task updated", zap.String("task", taskID), zap.String("status", string(status)))

	return task.Clone(), nil
}

// Tasks returns a copy of the task queue.
func (c *Coordinator) Tasks() []*state.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*state.Task, len(c.queue))
	for i, t := range c.queue {
		out[i] = t.Clone()
	}
	return out
}
