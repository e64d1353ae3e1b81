package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	gitTimeout     = 30 * time.Second
	maxBranchLen   = 100
	createAttempts = 2
)

// Allowed git subcommands. The coordinator only ever needs these; anything
// else is a bug or an injection attempt.
var allowedGitCommands = map[string]bool{
	"worktree":  true,
	"rev-parse": true,
	"branch":    true,
	"status":    true,
}

var branchPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// Runner executes a git subcommand in a directory and returns combined
// output. Tests substitute a fake.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Manager creates isolated git worktrees for agent tasks.
type Manager struct {
	repoDir  string
	treesDir string
	log      *zap.Logger
	run      Runner
	locks    branchLocks
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRunner substitutes the git runner, for tests.
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.run = r }
}

// NewManager creates a worktree manager rooted at repoDir. Worktrees are
// placed under treesDir.
func NewManager(repoDir, treesDir string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		repoDir:  repoDir,
		treesDir: treesDir,
		log:      logger,
		run:      defaultRunner,
	}
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	if _, err := m.git(ctx, repoDir, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}
	return m, nil
}

// ValidateBranch rejects branch names git would choke on or that could
// escape the worktree directory.
func ValidateBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name must not be empty")
	}
	if len(branch) > maxBranchLen {
		return fmt.Errorf("branch name exceeds %d characters", maxBranchLen)
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters: %s", branch)
	}
	for _, bad := range []string{"..", "//", "@{", "\\"} {
		if strings.Contains(branch, bad) {
			return fmt.Errorf("branch name contains forbidden sequence %q", bad)
		}
	}
	if strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") {
		return fmt.Errorf("branch name has invalid suffix: %s", branch)
	}
	return nil
}

// Create adds a worktree for a new branch and returns its path. Creation is
// serialized per branch; a concurrent request for the same branch fails
// immediately rather than waiting.
func (m *Manager) Create(ctx context.Context, branch string) (string, error) {
	if err := ValidateBranch(branch); err != nil {
		return "", err
	}

	if !m.locks.TryAcquire(branch) {
		return "", fmt.Errorf("worktree creation already in progress for branch %s", branch)
	}
	defer m.locks.Release(branch)

	path := filepath.Join(m.treesDir, strings.ReplaceAll(branch, "/", "-"))
	if _, err := os.Stat(path); err == nil {
		m.log.Info("worktree already exists", zap.String("branch", branch), zap.String("path", path))
		return path, nil
	}
	if err := os.MkdirAll(m.treesDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		out, err := m.git(ctx, m.repoDir, "worktree", "add", "-b", branch, path)
		if err == nil {
			m.log.Info("worktree created",
				zap.String("branch", branch),
				zap.String("path", path))
			return path, nil
		}
		lastErr = fmt.Errorf("git worktree add failed: %s", sanitizeGitError(out, err))

		// Stale administrative files are the usual cause; prune and retry.
		if attempt < createAttempts {
			if _, pruneErr := m.git(ctx, m.repoDir, "worktree", "prune"); pruneErr != nil {
				m.log.Warn("worktree prune failed", zap.Error(pruneErr))
			}
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return "", lastErr
}

// Remove deletes a worktree and prunes git's records of it.
func (m *Manager) Remove(ctx context.Context, branch string) error {
	if err := ValidateBranch(branch); err != nil {
		return err
	}
	path := filepath.Join(m.treesDir, strings.ReplaceAll(branch, "/", "-"))

	if out, err := m.git(ctx, m.repoDir, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("git worktree remove failed: %s", sanitizeGitError(out, err))
	}
	if _, err := m.git(ctx, m.repoDir, "worktree", "prune"); err != nil {
		m.log.Warn("worktree prune failed", zap.Error(err))
	}
	return nil
}

// List returns the worktree paths git knows about.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git worktree list failed: %s", sanitizeGitError(out, err))
	}

	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

// git runs an allowlisted git subcommand with a bounded timeout.
func (m *Manager) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if len(args) == 0 || !allowedGitCommands[args[0]] {
		return nil, fmt.Errorf("git subcommand not permitted: %v", args)
	}
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	return m.run(ctx, dir, args...)
}

// sanitizeGitError trims git output to its first line so callers do not leak
// full filesystem paths and multi-page hints into tool responses.
func sanitizeGitError(out []byte, err error) string {
	msg := strings.TrimSpace(string(out))
	if msg == "" {
		return err.Error()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
