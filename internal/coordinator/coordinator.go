package coordinator

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

const (
	defaultMaxRetries   = 3
	defaultRecoverDelay = 30 * time.Second
	historyLimit        = 1000
)

// HistoryEntry records a task status transition
type HistoryEntry struct {
	TaskID       string    `json:"task_id"`
	StatusChange string    `json:"status_change"`
	Timestamp    time.Time `json:"timestamp"`
}

// Coordinator owns the agent registry, task queue, audit findings and the
// knowledge base. All public methods are safe for concurrent use: records
// returned to callers are deep copies, detached from the structs the
// background loops keep mutating. State is persisted through the store after
// every mutation; persistence failures are logged and do not fail the
// operation.
type Coordinator struct {
	mu    sync.Mutex
	store *state.Store
	log   *zap.Logger
	now   func() time.Time

	agents   map[string]*state.Agent
	health   map[string]*state.AgentHealth
	queue    []*state.Task
	findings []*state.Finding
	kb       state.KnowledgeBase

	history  []HistoryEntry
	load     map[string]int // current in-progress task count per agent
	patterns map[string]int // finding pattern occurrence counts

	maxRetries   int
	recoverDelay time.Duration
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRecoverDelay overrides the agent recovery settle time.
func WithRecoverDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.recoverDelay = d }
}

// New creates a coordinator and restores any persisted state.
func New(store *state.Store, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		store:        store,
		log:          logger,
		now:          time.Now,
		agents:       make(map[string]*state.Agent),
		health:       make(map[string]*state.AgentHealth),
		load:         make(map[string]int),
		patterns:     make(map[string]int),
		maxRetries:   defaultMaxRetries,
		recoverDelay: defaultRecoverDelay,
	}
	for _, opt := range opts {
		opt(c)
	}

	snap, err := store.Load()
	if err != nil {
		// Corrupt state falls back to fresh; keep going but record it.
		c.log.Warn("state restore degraded", zap.Error(err))
	}
	c.restore(snap)

	return c, nil
}

func (c *Coordinator) restore(snap *state.Snapshot) {
	c.agents = snap.Agents
	c.queue = snap.TaskQueue
	c.findings = snap.AuditFindings
	c.kb = snap.KnowledgeBase

	for id, h := range snap.AgentHealth {
		health := h
		c.health[id] = &health
	}

	// Rebuild derived counters from the restored findings and queue.
	for _, f := range c.findings {
		if f.Pattern != "" && f.Status != state.FindingDuplicate {
			c.patterns[f.Pattern]++
		}
	}
	for _, t := range c.queue {
		if t.Status == state.TaskInProgress && t.AssignedTo != "" {
			c.load[t.AssignedTo]++
		}
	}
}

// snapshotLocked builds a persistable snapshot. Caller must hold mu.
func (c *Coordinator) snapshotLocked() *state.Snapshot {
	snap := &state.Snapshot{
		Agents:        c.agents,
		AgentHealth:   make(map[string]state.AgentHealth, len(c.health)),
		TaskQueue:     c.queue,
		AuditFindings: c.findings,
		KnowledgeBase: c.kb,
	}
	for id, h := range c.health {
		snap.AgentHealth[id] = *h
	}
	return snap
}

// saveLocked persists current state. Caller must hold mu.
func (c *Coordinator) saveLocked() {
	if err := c.store.Save(c.snapshotLocked()); err != nil {
		c.log.Error("state save failed", zap.Error(err))
	}
}

// RegisterAgent adds or replaces an agent record and initializes its health
// tracking.
func (c *Coordinator) RegisterAgent(agentID, role string, capabilities []string) (*state.Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id must not be empty")
	}
	if role == "" {
		return nil, fmt.Errorf("agent role must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	agent := &state.Agent{
		ID:           agentID,
		Role:         role,
		Capabilities: capabilities,
		Status:       state.AgentActive,
		RegisteredAt: now,
		LastSeen:     now,
	}
	c.agents[agentID] = agent
	c.health[agentID] = &state.AgentHealth{LastHeartbeat: now}
	c.load[agentID] = 0

	c.saveLocked()
	c.log.Info("agent registered",
		zap.String("agent", agentID),
		zap.String("role", role),
		zap.Strings("capabilities", capabilities))

	return agent.Clone(), nil
}

// Agents returns a copy of the agent registry.
func (c *Coordinator) Agents() []*state.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*state.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a.Clone())
	}
	return out
}

func (c *Coordinator) recordHistoryLocked(taskID, from, to string) {
	c.history = append(c.history, HistoryEntry{
		TaskID:       taskID,
		StatusChange: fmt.Sprintf("%s -> %s", from, to),
		Timestamp:    c.now(),
	})
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}
