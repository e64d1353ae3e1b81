package coordinator

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlink/agentfleet/internal/state"
)

const (
	healthMonitorInterval = 60 * time.Second
	queueOptimizeInterval = 120 * time.Second
	knowledgeSyncInterval = 300 * time.Second

	staleTaskAge = 30 * time.Minute
)

// Run drives the coordinator's background maintenance until ctx is
// cancelled: the health monitor marks and recovers silent agents, the
// queue optimizer boosts tasks that sat pending too long, and the
// knowledge sync flushes learned patterns to disk.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.loop(ctx, healthMonitorInterval, c.monitorAgentHealth) })
	g.Go(func() error { return c.loop(ctx, queueOptimizeInterval, c.optimizeQueue) })
	g.Go(func() error { return c.loop(ctx, knowledgeSyncInterval, c.syncKnowledge) })

	return g.Wait()
}

func (c *Coordinator) loop(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// monitorAgentHealth fails agents whose heartbeat went silent and kicks off
// their recovery.
func (c *Coordinator) monitorAgentHealth() {
	c.mu.Lock()
	now := c.now()
	var silent []string
	for id, agent := range c.agents {
		h, ok := c.health[id]
		if !ok {
			continue
		}
		if now.Sub(h.LastHeartbeat) > heartbeatTimeout && agent.Status != state.AgentRecovering {
			agent.Status = state.AgentFailed
			silent = append(silent, id)
		}
	}
	if len(silent) > 0 {
		c.saveLocked()
	}
	c.mu.Unlock()

	for _, id := range silent {
		c.log.Warn("agent heartbeat timeout", zap.String("agent", id))
		c.RecoverAgent(id)
	}
}

// optimizeQueue bumps the priority score of pending tasks older than
// staleTaskAge and re-sorts the queue so they are picked up sooner.
func (c *Coordinator) optimizeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	boosted := 0
	for _, task := range c.queue {
		if task.Status != state.TaskPending {
			continue
		}
		if now.Sub(task.CreatedAt) > staleTaskAge {
			task.PriorityScore++
			boosted++
		}
	}
	if boosted == 0 {
		return
	}

	sort.SliceStable(c.queue, func(i, j int) bool {
		a, b := c.queue[i], c.queue[j]
		aPending := a.Status == state.TaskPending
		bPending := b.Status == state.TaskPending
		if aPending != bPending {
			return aPending
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	c.saveLocked()
	c.log.Info("queue optimized", zap.Int("boosted", boosted))
}

// syncKnowledge flushes the knowledge base to its own file so restarted
// coordinators keep their learned estimates.
func (c *Coordinator) syncKnowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.SaveKnowledgeBase(c.kb); err != nil {
		c.log.Error("knowledge sync failed", zap.Error(err))
	}
}
