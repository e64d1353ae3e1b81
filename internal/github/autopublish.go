package github

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

const defaultPublishInterval = 30 * time.Second

// AutoPublisher watches coordinator state for completed implementation tasks
// and opens a pull request for each one. Tasks are matched to branches by the
// configured branch prefix plus the task ID, the naming agents use for their
// worktrees.
type AutoPublisher struct {
	statePath    string
	branchPrefix string
	base         string
	interval     time.Duration
	log          *zap.Logger

	// publish opens the PR. Tests substitute a fake.
	publish func(ctx context.Context, task *state.Task, branch, base string) (string, error)

	published map[string]bool
}

// NewAutoPublisher creates a publisher sweep over the state file at statePath.
func NewAutoPublisher(pub *Publisher, statePath, branchPrefix string, logger *zap.Logger) *AutoPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoPublisher{
		statePath:    statePath,
		branchPrefix: branchPrefix,
		base:         "main",
		interval:     defaultPublishInterval,
		log:          logger,
		publish:      pub.PublishTask,
		published:    make(map[string]bool),
	}
}

// Run sweeps the state file on the publish interval until ctx is cancelled.
func (a *AutoPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single sweep: every newly completed implementation task
// gets a pull request. Failures are retried on the next sweep.
func (a *AutoPublisher) CheckOnce(ctx context.Context) {
	snap, err := state.ReadSnapshot(a.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			a.log.Warn("state read failed", zap.Error(err))
		}
		return
	}

	for _, task := range snap.TaskQueue {
		if !a.publishable(task) {
			continue
		}

		branch := a.branchPrefix + task.ID
		url, err := a.publish(ctx, task, branch, a.base)
		if err != nil {
			a.log.Warn("pull request creation failed",
				zap.String("task", task.ID),
				zap.String("branch", branch),
				zap.Error(err))
			continue
		}

		a.published[task.ID] = true
		a.log.Info("pull request opened",
			zap.String("task", task.ID),
			zap.String("url", url))
	}
}

func (a *AutoPublisher) publishable(task *state.Task) bool {
	if task.Status != state.TaskCompleted || a.published[task.ID] {
		return false
	}
	return strings.Contains(strings.ToLower(task.Type), "implement")
}
