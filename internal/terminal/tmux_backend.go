package terminal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/tmux"
)

// TmuxBackend runs agents in tmux windows, one window per agent.
type TmuxBackend struct {
	client *tmux.Client
}

// NewTmuxBackend wraps a tmux client as a Backend.
func NewTmuxBackend(client *tmux.Client) *TmuxBackend {
	return &TmuxBackend{client: client}
}

func (b *TmuxBackend) Name() string { return "tmux" }

func (b *TmuxBackend) Available() bool { return tmux.Available() }

func (b *TmuxBackend) StartSession(session string) error {
	if b.client.HasSession(session) {
		if err := b.client.KillSession(session); err != nil {
			return fmt.Errorf("replace stale session: %w", err)
		}
	}
	return b.client.NewSession(session, "dashboard")
}

func (b *TmuxBackend) StopSession(session string) error {
	return b.client.KillSession(session)
}

func (b *TmuxBackend) Launch(session, name, dir, command string, env []string) error {
	full := command
	for _, kv := range env {
		full = kv + " " + full
	}
	return b.client.NewWindow(session, name, dir, full)
}

func (b *TmuxBackend) SendText(session, name, text string) error {
	return b.client.SendText(session, name, text)
}

func (b *TmuxBackend) Interrupt(session, name string) error {
	return b.client.SendKeys(session, name, "C-c")
}

func (b *TmuxBackend) Capture(session, name string, lines int) (string, error) {
	return b.client.CapturePane(session, name, lines)
}

func (b *TmuxBackend) PID(session, name string) (int, error) {
	return b.client.PanePID(session, name)
}

// RegisterTmux builds and registers the tmux backend.
func RegisterTmux(logger *zap.Logger) {
	Register(NewTmuxBackend(tmux.NewClient(logger)))
}
