package state

import "time"

// AgentStatus represents the lifecycle state of a registered agent
type AgentStatus string

const (
	AgentActive     AgentStatus = "active"
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentFailed     AgentStatus = "failed"
	AgentRecovering AgentStatus = "recovering"
)

// TaskStatus represents the execution status of a coordinated task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Priority is a named task priority level
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Score maps a priority level to its numeric weight. Unknown levels
// score as medium.
func (p Priority) Score() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Valid reports whether the priority is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Agent is a registered fleet agent record
type Agent struct {
	ID           string      `json:"id"`
	Role         string      `json:"role"`
	Capabilities []string    `json:"capabilities"`
	Status       AgentStatus `json:"status"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastSeen     time.Time   `json:"last_seen"`
}

// Clone returns a deep copy detached from the coordinator's internal state.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	copied := *a
	copied.Capabilities = append([]string(nil), a.Capabilities...)
	return &copied
}

// AgentHealth tracks per-agent health counters
type AgentHealth struct {
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	TasksCompleted  int       `json:"tasks_completed"`
	TasksFailed     int       `json:"tasks_failed"`
	AverageTaskTime float64   `json:"average_task_time"` // seconds
	ErrorCount      int       `json:"error_count"`
	RecoveryCount   int       `json:"recovery_count"`
}

// TaskRef is a compact reference to a past task used in enriched context
type TaskRef struct {
	TaskID      string  `json:"task_id"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// TaskContext carries optional scheduling and provenance data for a task
type TaskContext struct {
	FindingID            string    `json:"finding_id,omitempty"`
	RequiredCapabilities []string  `json:"required_capabilities,omitempty"`
	RelatedFindings      []string  `json:"related_findings,omitempty"`
	SimilarTasks         []TaskRef `json:"similar_tasks,omitempty"`
	Pattern              string    `json:"pattern,omitempty"`
}

// Clone returns a deep copy of the context.
func (tc TaskContext) Clone() TaskContext {
	copied := tc
	copied.RequiredCapabilities = append([]string(nil), tc.RequiredCapabilities...)
	copied.RelatedFindings = append([]string(nil), tc.RelatedFindings...)
	copied.SimilarTasks = append([]TaskRef(nil), tc.SimilarTasks...)
	return copied
}

// Task is a unit of work in the coordinator queue
type Task struct {
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	Description       string      `json:"description"`
	Priority          Priority    `json:"priority"`
	PriorityScore     int         `json:"priority_score"`
	Status            TaskStatus  `json:"status"`
	AssignedTo        string      `json:"assigned_to,omitempty"`
	Context           TaskContext `json:"context"`
	Dependencies      []string    `json:"dependencies,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	StartedAt         time.Time   `json:"started_at,omitempty"`
	CompletedAt       time.Time   `json:"completed_at,omitempty"`
	FailedAt          time.Time   `json:"failed_at,omitempty"`
	RetryCount        int         `json:"retry_count"`
	EstimatedDuration float64     `json:"estimated_duration,omitempty"` // seconds
	ActualDuration    float64     `json:"actual_duration,omitempty"`    // seconds
	Result            string      `json:"result,omitempty"`
}

// Clone returns a deep copy detached from the coordinator's internal queue.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	copied := *t
	copied.Context = t.Context.Clone()
	copied.Dependencies = append([]string(nil), t.Dependencies...)
	return &copied
}

// FindingStatus tracks the review state of an audit finding
type FindingStatus string

const (
	FindingNew       FindingStatus = "new"
	FindingDuplicate FindingStatus = "duplicate"
	FindingResolved  FindingStatus = "resolved"
)

// Finding is a submitted audit finding
type Finding struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Severity     Priority      `json:"severity"`
	Category     string        `json:"category"`
	FilePath     string        `json:"file_path,omitempty"`
	LineNumber   int           `json:"line_number,omitempty"`
	Status       FindingStatus `json:"status"`
	Hash         string        `json:"hash"`
	Pattern      string        `json:"pattern,omitempty"`
	PatternCount int           `json:"pattern_count,omitempty"`
	TaskID       string        `json:"task_id,omitempty"`
	SubmittedAt  time.Time     `json:"submitted_at"`
}

// Clone returns a copy detached from the coordinator's internal state.
func (f *Finding) Clone() *Finding {
	if f == nil {
		return nil
	}
	copied := *f
	return &copied
}

// PatternStat counts occurrences of a task type pattern
type PatternStat struct {
	Count       int       `json:"count"`
	LastCreated time.Time `json:"last_created"`
}

// DurationStat aggregates observed durations for a task type
type DurationStat struct {
	Count          int     `json:"count"`
	TotalSeconds   float64 `json:"total_duration"`
	AverageSeconds float64 `json:"average_duration"`
}

// KnowledgeBase holds statistics learned from completed work
type KnowledgeBase struct {
	TaskPatterns  map[string]PatternStat  `json:"task_patterns,omitempty"`
	TaskDurations map[string]DurationStat `json:"task_durations,omitempty"`
}

// Snapshot is the full persisted coordinator state (state.json)
type Snapshot struct {
	Agents        map[string]*Agent      `json:"agents"`
	AgentHealth   map[string]AgentHealth `json:"agent_health"`
	TaskQueue     []*Task                `json:"task_queue"`
	AuditFindings []*Finding             `json:"audit_findings"`
	KnowledgeBase KnowledgeBase          `json:"knowledge_base"`
	SavedAt       time.Time              `json:"saved_at"`
}

// NewSnapshot returns an empty snapshot with allocated maps
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Agents:      make(map[string]*Agent),
		AgentHealth: make(map[string]AgentHealth),
	}
}

// LauncherAgent is the launcher-side view of a spawned agent process
type LauncherAgent struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Window       string    `json:"window"`
	PID          int       `json:"pid,omitempty"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	ErrorCount   int       `json:"error_count"`
	RestartCount int       `json:"restart_count"`
}

// LauncherSnapshot is the persisted launcher state written on shutdown and
// on periodic checkpoints
type LauncherSnapshot struct {
	SavedAt       time.Time                 `json:"saved_at"`
	Uptime        string                    `json:"uptime"`
	TotalAgents   int                       `json:"total_agents"`
	TotalRestarts int                       `json:"total_restarts"`
	Agents        map[string]*LauncherAgent `json:"agents"`
}
