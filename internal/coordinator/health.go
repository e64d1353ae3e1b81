package coordinator

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

const heartbeatTimeout = 5 * time.Minute

// HealthGrade classifies agent health.
type HealthGrade string

const (
	HealthGood     HealthGrade = "good"
	HealthFair     HealthGrade = "fair"
	HealthPoor     HealthGrade = "poor"
	HealthCritical HealthGrade = "critical"
	HealthUnknown  HealthGrade = "unknown"
)

// HealthMetrics are the per-agent counters included in a health report.
type HealthMetrics struct {
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	SecondsSinceBeat float64   `json:"time_since_heartbeat"`
	TasksCompleted   int       `json:"tasks_completed"`
	TasksFailed      int       `json:"tasks_failed"`
	SuccessRate      float64   `json:"success_rate"`
	AverageTaskTime  float64   `json:"average_task_time"`
	ErrorCount       int       `json:"error_count"`
	RecoveryCount    int       `json:"recovery_count"`
	CurrentLoad      int       `json:"current_load"`
}

// HealthReport summarizes one agent's condition.
type HealthReport struct {
	AgentID string            `json:"agent_id"`
	Role    string            `json:"role"`
	Status  state.AgentStatus `json:"status"`
	Health  HealthGrade       `json:"health"`
	Metrics *HealthMetrics    `json:"metrics,omitempty"`
}

// AgentHealthReport builds the health report for a single agent.
func (c *Coordinator) AgentHealthReport(agentID string) (*HealthReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentHealthReportLocked(agentID)
}

func (c *Coordinator) agentHealthReportLocked(agentID string) (*HealthReport, error) {
	agent, ok := c.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", agentID)
	}

	report := &HealthReport{
		AgentID: agentID,
		Role:    agent.Role,
		Status:  agent.Status,
		Health:  HealthUnknown,
	}

	h, ok := c.health[agentID]
	if !ok {
		return report, nil
	}

	sinceBeat := c.now().Sub(h.LastHeartbeat)
	completed := h.TasksCompleted
	failed := h.TasksFailed

	switch {
	case sinceBeat > heartbeatTimeout:
		report.Health = HealthCritical
	case h.ErrorCount > 10 || float64(failed) > float64(completed)*0.3:
		report.Health = HealthPoor
	case h.ErrorCount > 5 || float64(failed) > float64(completed)*0.1:
		report.Health = HealthFair
	default:
		report.Health = HealthGood
	}

	attempts := completed + failed
	if attempts == 0 {
		attempts = 1
	}
	report.Metrics = &HealthMetrics{
		LastHeartbeat:    h.LastHeartbeat,
		SecondsSinceBeat: sinceBeat.Seconds(),
		TasksCompleted:   completed,
		TasksFailed:      failed,
		SuccessRate:      float64(completed) / float64(attempts),
		AverageTaskTime:  h.AverageTaskTime,
		ErrorCount:       h.ErrorCount,
		RecoveryCount:    h.RecoveryCount,
		CurrentLoad:      c.load[agentID],
	}

	return report, nil
}

// AgentCounts summarizes the agent registry for system health.
type AgentCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Unhealthy int `json:"unhealthy"`
}

// TaskCounts summarizes the queue for system health.
type TaskCounts struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	InProgress     int     `json:"in_progress"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	CompletionRate float64 `json:"completion_rate"`
}

// FindingCounts summarizes findings for system health.
type FindingCounts struct {
	Total    int            `json:"total"`
	Patterns map[string]int `json:"patterns"`
}

// SystemHealth is the overall coordinator health report.
type SystemHealth struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Agents    AgentCounts   `json:"agents"`
	Tasks     TaskCounts    `json:"tasks"`
	Findings  FindingCounts `json:"findings"`
}

// SystemHealthReport aggregates the registry, queue and findings into a
// healthy/degraded verdict.
func (c *Coordinator) SystemHealthReport() *SystemHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemHealthLocked()
}

func (c *Coordinator) systemHealthLocked() *SystemHealth {
	report := &SystemHealth{
		Timestamp: c.now(),
		Findings: FindingCounts{
			Total:    len(c.findings),
			Patterns: make(map[string]int, len(c.patterns)),
		},
	}
	for p, n := range c.patterns {
		report.Findings.Patterns[p] = n
	}

	report.Agents.Total = len(c.agents)
	for id, agent := range c.agents {
		if agent.Status == state.AgentActive {
			report.Agents.Active++
		}
		if hr, err := c.agentHealthReportLocked(id); err == nil {
			if hr.Health == HealthPoor || hr.Health == HealthCritical {
				report.Agents.Unhealthy++
			}
		}
	}

	report.Tasks.Total = len(c.queue)
	for _, t := range c.queue {
		switch t.Status {
		case state.TaskPending:
			report.Tasks.Pending++
		case state.TaskInProgress:
			report.Tasks.InProgress++
		case state.TaskCompleted:
			report.Tasks.Completed++
		case state.TaskFailed:
			report.Tasks.Failed++
		}
	}
	finished := report.Tasks.Completed + report.Tasks.Failed
	if finished == 0 {
		finished = 1
	}
	report.Tasks.CompletionRate = float64(report.Tasks.Completed) / float64(finished)

	if report.Agents.Unhealthy == 0 && report.Tasks.CompletionRate > 0.8 {
		report.Status = "healthy"
	} else {
		report.Status = "degraded"
	}
	return report
}

// RecoverAgent resets a failed agent: its in-progress tasks return to the
// queue, its load and error counters are cleared, and after the recovery
// delay it becomes active again. Returns false for unknown agents.
func (c *Coordinator) RecoverAgent(agentID string) bool {
	c.mu.Lock()

	agent, ok := c.agents[agentID]
	if !ok {
		c.mu.Unlock()
		return false
	}

	agent.Status = state.AgentRecovering
	for _, task := range c.queue {
		if task.AssignedTo == agentID && task.Status == state.TaskInProgress {
			task.Status = state.TaskPending
			task.AssignedTo = ""
			c.log.Info("task unassigned from recovering agent",
				zap.String("task", task.ID),
				zap.String("agent", agentID))
		}
	}
	c.load[agentID] = 0

	if h, ok := c.health[agentID]; ok {
		h.RecoveryCount++
		h.ErrorCount = 0
		h.LastHeartbeat = c.now()
	}

	c.saveLocked()
	c.mu.Unlock()

	c.log.Info("agent recovery initiated", zap.String("agent", agentID))

	go func() {
		time.Sleep(c.recoverDelay)
		c.mu.Lock()
		defer c.mu.Unlock()
		if agent, ok := c.agents[agentID]; ok && agent.Status == state.AgentRecovering {
			agent.Status = state.AgentActive
			c.log.Info("agent recovery completed", zap.String("agent", agentID))
		}
	}()

	return true
}

// PatternCount pairs a finding pattern with its occurrence count.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// topPatternsLocked returns the most frequent finding patterns, best first.
func (c *Coordinator) topPatternsLocked(limit int) []PatternCount {
	out := make([]PatternCount, 0, len(c.patterns))
	for p, n := range c.patterns {
		out = append(out, PatternCount{Pattern: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
