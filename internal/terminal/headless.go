package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// HeadlessBackend runs agents as plain child processes with their output
// redirected to log files. It stands in for tmux where no terminal
// multiplexer exists.
type HeadlessBackend struct {
	logDir string
	log    *zap.Logger

	mu    sync.Mutex
	procs map[string]*headlessProc // key: session/name
}

type headlessProc struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	logPath string
}

// NewHeadlessBackend creates a headless backend writing agent output under
// logDir.
func NewHeadlessBackend(logDir string, logger *zap.Logger) *HeadlessBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeadlessBackend{
		logDir: logDir,
		log:    logger,
		procs:  make(map[string]*headlessProc),
	}
}

func (b *HeadlessBackend) Name() string { return "headless" }

func (b *HeadlessBackend) Available() bool { return true }

func (b *HeadlessBackend) StartSession(session string) error {
	return os.MkdirAll(filepath.Join(b.logDir, session), 0o755)
}

func (b *HeadlessBackend) StopSession(session string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := session + "/"
	for key, proc := range b.procs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if proc.cmd.Process != nil {
			if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				b.log.Warn("terminate agent process", zap.String("agent", key), zap.Error(err))
			}
		}
		delete(b.procs, key)
	}
	return nil
}

func (b *HeadlessBackend) Launch(session, name, dir, command string, env []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := session + "/" + name
	if _, exists := b.procs[key]; exists {
		return fmt.Errorf("agent terminal already running: %s", key)
	}

	logPath := filepath.Join(b.logDir, session, name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open agent log: %w", err)
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logFile.Close()
		return fmt.Errorf("open agent stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start agent process: %w", err)
	}

	b.procs[key] = &headlessProc{cmd: cmd, stdin: stdin, logPath: logPath}

	// Reap on exit so the process table stays clean.
	go func() {
		err := cmd.Wait()
		logFile.Close()
		b.mu.Lock()
		delete(b.procs, key)
		b.mu.Unlock()
		b.log.Info("agent process exited", zap.String("agent", key), zap.Error(err))
	}()

	return nil
}

func (b *HeadlessBackend) SendText(session, name, text string) error {
	b.mu.Lock()
	proc, ok := b.procs[session+"/"+name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent terminal not running: %s/%s", session, name)
	}
	_, err := io.WriteString(proc.stdin, text+"\n")
	return err
}

func (b *HeadlessBackend) Interrupt(session, name string) error {
	b.mu.Lock()
	proc, ok := b.procs[session+"/"+name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent terminal not running: %s/%s", session, name)
	}
	return proc.cmd.Process.Signal(syscall.SIGINT)
}

func (b *HeadlessBackend) Capture(session, name string, lines int) (string, error) {
	logPath := filepath.Join(b.logDir, session, name+".log")
	data, err := os.ReadFile(logPath)
	if err != nil {
		return "", fmt.Errorf("read agent log: %w", err)
	}

	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

func (b *HeadlessBackend) PID(session, name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	proc, ok := b.procs[session+"/"+name]
	if !ok || proc.cmd.Process == nil {
		return 0, fmt.Errorf("agent terminal not running: %s/%s", session, name)
	}
	return proc.cmd.Process.Pid, nil
}
