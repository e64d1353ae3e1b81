package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/agent"
	"github.com/stellarlink/agentfleet/internal/config"
	"github.com/stellarlink/agentfleet/internal/state"
	"github.com/stellarlink/agentfleet/internal/terminal"
)

// Agent lifecycle states tracked by the launcher.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateError    = "error"
	StateStopped  = "stopped"
)

// dependency describes one external binary the fleet needs.
type dependency struct {
	name    string
	args    []string
	install string
}

var requiredDeps = []dependency{
	{"tmux", []string{"-V"}, "sudo apt-get install tmux"},
	{"claude", []string{"--version"}, "npm install -g @anthropic-ai/claude-code"},
	{"git", []string{"--version"}, "sudo apt-get install git"},
}

// Launcher brings the agent fleet up and down inside a terminal backend and
// tracks each agent's process.
type Launcher struct {
	cfg     *config.Config
	backend terminal.Backend
	store   *state.LauncherStore
	log     *zap.Logger

	cliBin      string
	coordBin    string
	startupWait time.Duration

	mu        sync.Mutex
	agents    map[string]*state.LauncherAgent
	startedAt time.Time
	restarts  int
}

// New creates a launcher.
func New(cfg *config.Config, backend terminal.Backend, store *state.LauncherStore, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:         cfg,
		backend:     backend,
		store:       store,
		log:         logger,
		cliBin:      "claude",
		coordBin:    "mcp-coordinator",
		startupWait: 3 * time.Second,
		agents:      make(map[string]*state.LauncherAgent),
	}
}

// CheckDependencies verifies required binaries exist, returning an error
// naming each missing one with its install hint. The tmux check is skipped
// for non-tmux backends.
func (l *Launcher) CheckDependencies() error {
	var missing []string
	for _, dep := range requiredDeps {
		if dep.name == "tmux" && l.backend.Name() != "tmux" {
			continue
		}
		if err := exec.Command(dep.name, dep.args...).Run(); err != nil {
			missing = append(missing, fmt.Sprintf("%s (install with: %s)", dep.name, dep.install))
			continue
		}
		l.log.Info("dependency present", zap.String("name", dep.name))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %v", missing)
	}
	return nil
}

// Up starts the session and launches the whole fleet, staggering launches by
// the configured startup delay.
func (l *Launcher) Up(ctx context.Context) error {
	if err := l.CheckDependencies(); err != nil {
		return err
	}

	l.log.Info("starting fleet session",
		zap.String("session", l.cfg.SessionName),
		zap.String("backend", l.backend.Name()))
	if err := l.backend.StartSession(l.cfg.SessionName); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	l.mu.Lock()
	l.startedAt = time.Now()
	l.mu.Unlock()

	specs := agent.BuildSpecs(l.cfg.Fleet, time.Now())
	// Queue the whole fleet up front so a zero startup delay cannot
	// overflow the launch queue.
	d := NewDispatcher(l.launchAgent, DispatcherConfig{Workers: 1, QueueSize: len(specs)}, l.log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		d.Shutdown(shutdownCtx)
	}()

	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Enqueue(spec); err != nil {
			return fmt.Errorf("enqueue %s: %w", spec.ID, err)
		}
		if i < len(specs)-1 {
			select {
			case <-time.After(l.cfg.StartupDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// launchAgent starts one agent in the backend and records it.
func (l *Launcher) launchAgent(ctx context.Context, spec agent.Spec) error {
	settingsPath := filepath.Join(l.cfg.BaseDir, fmt.Sprintf("mcp_settings_%s.json", spec.Window))
	if _, err := agent.WriteMCPSettings(settingsPath, l.coordBin, l.cfg.BaseDir, spec); err != nil {
		return err
	}

	command := agent.LaunchCommand(l.cliBin, spec)
	env := agent.Env(settingsPath, l.cfg.SessionName, spec)

	l.mu.Lock()
	l.agents[spec.ID] = &state.LauncherAgent{
		ID:        spec.ID,
		Role:      spec.Role,
		Window:    spec.Window,
		State:     StateStarting,
		StartedAt: time.Now(),
	}
	l.mu.Unlock()

	if err := l.backend.Launch(l.cfg.SessionName, spec.Window, l.cfg.BaseDir, command, env); err != nil {
		l.setState(spec.ID, StateError)
		return fmt.Errorf("launch %s: %w", spec.ID, err)
	}

	// Give the CLI a moment to come up before the startup instructions.
	select {
	case <-time.After(l.startupWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.backend.SendText(l.cfg.SessionName, spec.Window, agent.StartupSequence(l.cfg.BaseDir, spec)); err != nil {
		l.log.Warn("startup sequence delivery failed",
			zap.String("agent", spec.ID),
			zap.Error(err))
	}

	l.mu.Lock()
	if a, ok := l.agents[spec.ID]; ok {
		a.State = StateRunning
		a.LastActivity = time.Now()
		if pid, err := l.backend.PID(l.cfg.SessionName, spec.Window); err == nil {
			a.PID = pid
		}
	}
	l.mu.Unlock()

	l.saveSnapshot()
	return nil
}

// Down shuts the fleet down: each agent gets a polite exit, then the session
// is killed and a final snapshot written.
func (l *Launcher) Down(ctx context.Context) error {
	l.mu.Lock()
	agents := make([]*state.LauncherAgent, 0, len(l.agents))
	for _, a := range l.agents {
		agents = append(agents, a)
	}
	l.mu.Unlock()

	for _, a := range agents {
		l.log.Info("stopping agent", zap.String("agent", a.ID))
		if err := l.backend.SendText(l.cfg.SessionName, a.Window, "/exit"); err != nil {
			l.log.Debug("exit command failed", zap.String("agent", a.ID), zap.Error(err))
		}
		time.Sleep(500 * time.Millisecond)
		if err := l.backend.Interrupt(l.cfg.SessionName, a.Window); err != nil {
			l.log.Debug("interrupt failed", zap.String("agent", a.ID), zap.Error(err))
		}
		l.setState(a.ID, StateStopped)
	}

	if err := l.backend.StopSession(l.cfg.SessionName); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	l.saveSnapshot()
	l.log.Info("fleet stopped", zap.Int("agents", len(agents)))
	return nil
}

// Restart relaunches a failed agent in its existing window slot.
func (l *Launcher) Restart(ctx context.Context, agentID string) error {
	l.mu.Lock()
	a, ok := l.agents[agentID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("unknown agent: %s", agentID)
	}
	a.RestartCount++
	a.LastActivity = time.Now()
	l.restarts++
	spec := agent.Spec{
		ID:           a.ID,
		Role:         a.Role,
		Window:       a.Window,
		Capabilities: l.roleCapabilities(a.Role),
	}
	l.mu.Unlock()

	if err := l.backend.Interrupt(l.cfg.SessionName, spec.Window); err != nil {
		l.log.Debug("pre-restart interrupt failed", zap.String("agent", agentID), zap.Error(err))
	}
	if err := l.backend.SendText(l.cfg.SessionName, spec.Window, agent.LaunchCommand(l.cliBin, spec)); err != nil {
		l.setState(agentID, StateError)
		return fmt.Errorf("restart %s: %w", agentID, err)
	}

	l.setState(agentID, StateRunning)
	l.log.Info("agent restarted", zap.String("agent", agentID))
	l.saveSnapshot()
	return nil
}

func (l *Launcher) roleCapabilities(role string) []string {
	if l.cfg.Fleet == nil {
		return nil
	}
	return l.cfg.Fleet.Agents.Roles[role].Capabilities
}

// Adopt registers already-running agents, typically restored from a
// snapshot, so monitoring can resume after the launcher process restarts.
func (l *Launcher) Adopt(agents map[string]*state.LauncherAgent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, a := range agents {
		copied := *a
		l.agents[id] = &copied
	}
}

// Agents returns a copy of the tracked agents.
func (l *Launcher) Agents() map[string]*state.LauncherAgent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]*state.LauncherAgent, len(l.agents))
	for id, a := range l.agents {
		copied := *a
		out[id] = &copied
	}
	return out
}

// RecordActivity updates an agent's last activity timestamp.
func (l *Launcher) RecordActivity(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.agents[agentID]; ok {
		a.LastActivity = time.Now()
	}
}

// RecordError bumps an agent's error counter and returns the new value.
func (l *Launcher) RecordError(agentID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.agents[agentID]; ok {
		a.ErrorCount++
		return a.ErrorCount
	}
	return 0
}

func (l *Launcher) setState(agentID, s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.agents[agentID]; ok {
		a.State = s
	}
}

// saveSnapshot writes the current launcher view to disk. Failures are logged
// only; snapshots are advisory.
func (l *Launcher) saveSnapshot() {
	l.mu.Lock()
	snap := &state.LauncherSnapshot{
		TotalAgents:   len(l.agents),
		TotalRestarts: l.restarts,
		Agents:        make(map[string]*state.LauncherAgent, len(l.agents)),
	}
	if !l.startedAt.IsZero() {
		snap.Uptime = time.Since(l.startedAt).Round(time.Second).String()
	}
	for id, a := range l.agents {
		copied := *a
		snap.Agents[id] = &copied
	}
	l.mu.Unlock()

	if err := l.store.Save(snap); err != nil {
		l.log.Warn("launcher snapshot save failed", zap.Error(err))
	}
}
