package tmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner executes a tmux command and returns its stdout. Tests substitute a
// fake.
type Runner func(args ...string) ([]byte, error)

func defaultRunner(args ...string) ([]byte, error) {
	return exec.Command("tmux", args...).Output()
}

// Client wraps the tmux CLI for the launcher.
type Client struct {
	run Runner
	log *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRunner substitutes the tmux runner, for tests.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.run = r }
}

// NewClient creates a tmux client.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{run: defaultRunner, log: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether tmux is on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(session string) bool {
	_, err := c.run("has-session", "-t", session)
	return err == nil
}

// NewSession creates a detached session with an initial named window.
func (c *Client) NewSession(session, window string) error {
	if _, err := c.run("new-session", "-d", "-s", session, "-n", window, "-x", "220", "-y", "50"); err != nil {
		return fmt.Errorf("tmux new-session failed: %w", err)
	}
	// Keep dead panes around so crash output stays readable.
	if _, err := c.run("set-option", "-t", session, "remain-on-exit", "on"); err != nil {
		c.log.Warn("set remain-on-exit failed", zap.Error(err))
	}
	return nil
}

// KillSession tears the session down. Missing sessions are not an error.
func (c *Client) KillSession(session string) error {
	if !c.HasSession(session) {
		return nil
	}
	if _, err := c.run("kill-session", "-t", session); err != nil {
		return fmt.Errorf("tmux kill-session failed: %w", err)
	}
	return nil
}

// NewWindow adds a named window to the session, running the given shell
// command with dir as its start directory.
func (c *Client) NewWindow(session, window, dir, command string) error {
	args := []string{"new-window", "-t", session, "-n", window}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	if _, err := c.run(args...); err != nil {
		return fmt.Errorf("tmux new-window failed: %w", err)
	}
	return nil
}

// target addresses a window's active pane.
func target(session, window string) string {
	return session + ":" + window
}

// SendText types text into a window and presses Enter. The input line is
// cleared first so partial input cannot corrupt the command, and the send is
// retried because tmux occasionally drops keys into a busy pane.
func (c *Client) SendText(session, window, text string) error {
	tgt := target(session, window)

	if _, err := c.run("send-keys", "-t", tgt, "C-c", ""); err != nil {
		c.log.Debug("input clear failed", zap.String("target", tgt), zap.Error(err))
	}
	time.Sleep(100 * time.Millisecond)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := c.run("send-keys", "-t", tgt, "-l", text); err != nil {
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if _, err := c.run("send-keys", "-t", tgt, "Enter"); err != nil {
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		return nil
	}
	return fmt.Errorf("tmux send-keys failed after retries: %w", lastErr)
}

// SendKeys sends raw key names (e.g. "C-c", "C-d") to a window.
func (c *Client) SendKeys(session, window string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target(session, window)}, keys...)
	if _, err := c.run(args...); err != nil {
		return fmt.Errorf("tmux send-keys failed: %w", err)
	}
	return nil
}

// CapturePane returns the last lines of a window's visible pane content.
func (c *Client) CapturePane(session, window string, lines int) (string, error) {
	out, err := c.run("capture-pane", "-p", "-t", target(session, window), "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane failed: %w", err)
	}
	return string(out), nil
}

// PanePID returns the PID of the process running in a window's pane.
func (c *Client) PanePID(session, window string) (int, error) {
	out, err := c.run("list-panes", "-t", target(session, window), "-F", "#{pane_pid}")
	if err != nil {
		return 0, fmt.Errorf("tmux list-panes failed: %w", err)
	}
	first := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	pid, err := strconv.Atoi(first)
	if err != nil {
		return 0, fmt.Errorf("unexpected pane pid %q: %w", first, err)
	}
	return pid, nil
}

// ListWindows returns the window names of a session.
func (c *Client) ListWindows(session string) ([]string, error) {
	out, err := c.run("list-windows", "-t", session, "-F", "#{window_name}")
	if err != nil {
		return nil, fmt.Errorf("tmux list-windows failed: %w", err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
