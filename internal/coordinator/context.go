package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stellarlink/agentfleet/internal/state"
)

// AgentAggregates breaks the registry down by role and status.
type AgentAggregates struct {
	Total    int            `json:"total"`
	ByRole   map[string]int `json:"by_role"`
	ByStatus map[string]int `json:"by_status"`
}

// TaskAggregates breaks the queue down by status, type and priority.
type TaskAggregates struct {
	Total                 int            `json:"total"`
	ByStatus              map[string]int `json:"by_status"`
	ByType                map[string]int `json:"by_type"`
	ByPriority            map[string]int `json:"by_priority"`
	AverageCompletionTime float64        `json:"average_completion_time"`
}

// FindingAggregates breaks findings down by severity and category.
type FindingAggregates struct {
	Total       int            `json:"total"`
	BySeverity  map[string]int `json:"by_severity"`
	ByCategory  map[string]int `json:"by_category"`
	TopPatterns []PatternCount `json:"top_patterns"`
}

// ProjectContext is the full situational report handed to agents.
type ProjectContext struct {
	BaseDir        string            `json:"base_dir"`
	Timestamp      time.Time         `json:"timestamp"`
	Agents         AgentAggregates   `json:"agents"`
	Tasks          TaskAggregates    `json:"tasks"`
	Findings       FindingAggregates `json:"findings"`
	SystemHealth   *SystemHealth     `json:"system_health"`
	RecentActivity []HistoryEntry    `json:"recent_activity"`
	ProjectGoals   string            `json:"project_goals,omitempty"`
	Insights       []string          `json:"insights"`
}

// ProjectContextReport aggregates everything the coordinator knows into one
// report, including actionable insights. baseDir is scanned for a
// PROJECT_GOALS.md file.
func (c *Coordinator) ProjectContextReport(baseDir string) *ProjectContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := &ProjectContext{
		BaseDir:   baseDir,
		Timestamp: c.now(),
		Agents: AgentAggregates{
			Total:    len(c.agents),
			ByRole:   make(map[string]int),
			ByStatus: make(map[string]int),
		},
		Tasks: TaskAggregates{
			Total:      len(c.queue),
			ByStatus:   make(map[string]int),
			ByType:     make(map[string]int),
			ByPriority: make(map[string]int),
		},
		Findings: FindingAggregates{
			Total:       len(c.findings),
			BySeverity:  make(map[string]int),
			ByCategory:  make(map[string]int),
			TopPatterns: c.topPatternsLocked(5),
		},
		SystemHealth: c.systemHealthLocked(),
	}

	for _, agent := range c.agents {
		ctx.Agents.ByRole[agent.Role]++
		ctx.Agents.ByStatus[string(agent.Status)]++
	}

	var completedTotal float64
	var completedCount int
	for _, task := range c.queue {
		ctx.Tasks.ByStatus[string(task.Status)]++
		ctx.Tasks.ByType[task.Type]++
		ctx.Tasks.ByPriority[string(task.Priority)]++
		if task.Status == state.TaskCompleted && task.ActualDuration > 0 {
			completedTotal += task.ActualDuration
			completedCount++
		}
	}
	if completedCount > 0 {
		ctx.Tasks.AverageCompletionTime = completedTotal / float64(completedCount)
	}

	for _, f := range c.findings {
		ctx.Findings.BySeverity[string(f.Severity)]++
		ctx.Findings.ByCategory[f.Category]++
	}

	if len(c.history) > 0 {
		start := 0
		if len(c.history) > 10 {
			start = len(c.history) - 10
		}
		ctx.RecentActivity = append(ctx.RecentActivity, c.history[start:]...)
	}

	if goals, err := os.ReadFile(filepath.Join(baseDir, "PROJECT_GOALS.md")); err == nil {
		ctx.ProjectGoals = string(goals)
	}

	ctx.Insights = buildInsights(ctx)
	return ctx
}

// buildInsights derives actionable observations from the aggregates.
func buildInsights(ctx *ProjectContext) []string {
	var insights []string

	if ctx.Tasks.Total > 0 && ctx.Tasks.ByStatus["failed"] > ctx.Tasks.Total/5 {
		insights = append(insights, "High task failure rate detected. Consider reviewing task complexity or agent capabilities.")
	}
	if ctx.Tasks.ByStatus["pending"] > 50 {
		insights = append(insights, "Large task backlog. Consider scaling up agents or optimizing task processing.")
	}
	if failed := ctx.Agents.ByStatus["failed"]; failed > 0 {
		insights = append(insights, fmt.Sprintf("%d agents in failed state. Recovery initiated.", failed))
	}
	if critical := ctx.Findings.BySeverity["critical"]; critical > 0 {
		insights = append(insights, fmt.Sprintf("%d critical findings require immediate attention.", critical))
	}
	if len(ctx.Findings.TopPatterns) > 0 {
		top := ctx.Findings.TopPatterns[0]
		insights = append(insights, fmt.Sprintf("Most common issue pattern: %s (%d occurrences)", top.Pattern, top.Count))
	}

	return insights
}
