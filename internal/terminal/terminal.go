package terminal

import (
	"fmt"
	"sort"
)

// Backend abstracts the terminal environment agents run in. The tmux backend
// is the default; the headless backend covers CI and machines without tmux.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// Available reports whether the backend can run on this machine.
	Available() bool

	// StartSession prepares a named session.
	StartSession(session string) error

	// StopSession tears a session down. Missing sessions are not an error.
	StopSession(session string) error

	// Launch starts an agent terminal named name inside the session,
	// running command from dir with the given extra environment.
	Launch(session, name, dir, command string, env []string) error

	// SendText types a line of text into an agent terminal.
	SendText(session, name, text string) error

	// Interrupt sends an interrupt (Ctrl-C) to an agent terminal.
	Interrupt(session, name string) error

	// Capture returns the last lines of an agent terminal's output.
	Capture(session, name string, lines int) (string, error)

	// PID returns the process ID behind an agent terminal.
	PID(session, name string) (int, error)
}

var registeredBackends = make(map[string]Backend)

// Register adds a backend to the registry. Later registrations with the same
// name replace earlier ones.
func Register(b Backend) {
	registeredBackends[b.Name()] = b
}

// Get returns the named backend.
func Get(name string) (Backend, error) {
	b, ok := registeredBackends[name]
	if !ok {
		return nil, fmt.Errorf("terminal backend not found: %s", name)
	}
	return b, nil
}

// Detect returns the first available backend, preferring tmux.
func Detect() (Backend, error) {
	names := make([]string, 0, len(registeredBackends))
	for name := range registeredBackends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "tmux" {
			return true
		}
		if names[j] == "tmux" {
			return false
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		if b := registeredBackends[name]; b.Available() {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no terminal backend available")
}
