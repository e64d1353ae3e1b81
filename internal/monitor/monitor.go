package monitor

import (
	"context"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/config"
	"github.com/stellarlink/agentfleet/internal/launcher"
	"github.com/stellarlink/agentfleet/internal/terminal"
)

const (
	captureLines      = 50
	inactivityTimeout = 10 * time.Minute
)

// Output lines that count as agent errors.
var errorPatterns = []string{"Error:", "Exception:", "Failed:", "Traceback"}

// Monitor watches running agents: process liveness, error output and
// inactivity. Agents that accumulate too many errors are restarted until the
// restart budget runs out.
type Monitor struct {
	cfg      *config.Config
	backend  terminal.Backend
	launcher *launcher.Launcher
	log      *zap.Logger

	// lastCapture holds each agent's pane output from the previous sweep;
	// only a change counts as activity.
	lastCapture map[string]string

	// signalAlive reports whether a PID is alive. Tests substitute a fake.
	signalAlive func(pid int) bool
}

// New creates a monitor.
func New(cfg *config.Config, backend terminal.Backend, l *launcher.Launcher, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:         cfg,
		backend:     backend,
		launcher:    l,
		log:         logger,
		lastCapture: make(map[string]string),
		signalAlive: pidAlive,
	}
}

// pidAlive probes a process with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Run checks agent health on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single health sweep over all tracked agents.
func (m *Monitor) CheckOnce(ctx context.Context) {
	for id, a := range m.launcher.Agents() {
		if a.State != launcher.StateRunning {
			continue
		}

		if a.PID > 0 && !m.signalAlive(a.PID) {
			m.log.Warn("agent process gone", zap.String("agent", id), zap.Int("pid", a.PID))
			m.handleUnhealthy(ctx, id, a.RestartCount)
			continue
		}

		output, err := m.backend.Capture(m.cfg.SessionName, a.Window, captureLines)
		if err != nil {
			m.log.Debug("capture failed", zap.String("agent", id), zap.Error(err))
			continue
		}

		if countErrors(output) > 0 {
			errs := m.launcher.RecordError(id)
			m.log.Warn("agent output contains errors",
				zap.String("agent", id),
				zap.Int("error_count", errs))
			if errs > m.cfg.MaxAgentErrors {
				m.handleUnhealthy(ctx, id, a.RestartCount)
			}
			continue
		}

		// Output that changed since the last sweep is the activity signal.
		// An unchanged pane leaves LastActivity aging toward the timeout.
		prev, seen := m.lastCapture[id]
		if seen && output != prev {
			m.lastCapture[id] = output
			m.launcher.RecordActivity(id)
			continue
		}
		if !seen {
			m.lastCapture[id] = output
		}

		if !a.LastActivity.IsZero() && time.Since(a.LastActivity) > inactivityTimeout {
			m.log.Warn("agent inactive",
				zap.String("agent", id),
				zap.Duration("idle", time.Since(a.LastActivity)))
			m.handleUnhealthy(ctx, id, a.RestartCount)
		}
	}
}

func (m *Monitor) handleUnhealthy(ctx context.Context, agentID string, restarts int) {
	if restarts >= m.cfg.MaxAgentRestarts {
		m.log.Error("agent exhausted restart budget",
			zap.String("agent", agentID),
			zap.Int("restarts", restarts))
		return
	}
	if err := m.launcher.Restart(ctx, agentID); err != nil {
		m.log.Error("agent restart failed", zap.String("agent", agentID), zap.Error(err))
		return
	}
	delete(m.lastCapture, agentID)
}

// countErrors counts output lines matching a known error pattern.
func countErrors(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		for _, pattern := range errorPatterns {
			if strings.Contains(line, pattern) {
				count++
				break
			}
		}
	}
	return count
}
