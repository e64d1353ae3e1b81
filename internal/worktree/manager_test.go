package worktree

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeGit records invocations and replies per subcommand.
type fakeGit struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]int // subcommand -> remaining failures
}

func (f *fakeGit) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if f.fail != nil && f.fail[args[0]] > 0 {
		f.fail[args[0]]--
		return []byte("fatal: something broke\nhint: more detail"), fmt.Errorf("exit status 128")
	}
	return nil, nil
}

func newTestManager(t *testing.T, fake *fakeGit) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), filepath.Join(t.TempDir(), "trees"), zap.NewNop(), WithRunner(fake.run))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestValidateBranch(t *testing.T) {
	tests := []struct {
		branch  string
		wantErr bool
	}{
		{"feature/login", false},
		{"fix-123", false},
		{"agent/coder-1_task", false},
		{"", true},
		{"-leading-dash", true},
		{"has space", true},
		{"dots..traversal", true},
		{"double//slash", true},
		{"trailing/", true},
		{"name.lock", true},
		{"ref@{0}", true},
		{"back\\slash", true},
		{strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			err := ValidateBranch(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranch(%q) error = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	fake := &fakeGit{}
	m := newTestManager(t, fake)

	path, err := m.Create(context.Background(), "feature/login")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if filepath.Base(path) != "feature-login" {
		t.Errorf("path = %s, want slash flattened", path)
	}

	var sawAdd bool
	for _, call := range fake.calls {
		if call[0] == "worktree" && len(call) > 1 && call[1] == "add" {
			sawAdd = true
		}
	}
	if !sawAdd {
		t.Error("git worktree add was never invoked")
	}
}

func TestCreate_RejectsBadBranch(t *testing.T) {
	fake := &fakeGit{}
	m := newTestManager(t, fake)

	if _, err := m.Create(context.Background(), "../escape"); err == nil {
		t.Error("expected validation error")
	}
}

func TestCreate_RetriesAfterPrune(t *testing.T) {
	fake := &fakeGit{fail: map[string]int{"worktree": 1}}
	m := newTestManager(t, fake)

	// First add fails, prune runs, second add succeeds.
	if _, err := m.Create(context.Background(), "feature/retry"); err != nil {
		t.Fatalf("Create after retry: %v", err)
	}

	var prunes int
	for _, call := range fake.calls {
		if call[0] == "worktree" && len(call) > 1 && call[1] == "prune" {
			prunes++
		}
	}
	if prunes != 1 {
		t.Errorf("prune invocations = %d, want 1", prunes)
	}
}

func TestGit_RejectsUnlistedSubcommand(t *testing.T) {
	fake := &fakeGit{}
	m := newTestManager(t, fake)

	if _, err := m.git(context.Background(), m.repoDir, "push", "origin"); err == nil {
		t.Error("expected rejection of unlisted subcommand")
	}
}

func TestSanitizeGitError(t *testing.T) {
	out := []byte("fatal: '/home/user/secret/path' already exists\nhint: try again\nhint: or not")
	got := sanitizeGitError(out, fmt.Errorf("exit status 128"))
	if strings.Contains(got, "hint") {
		t.Errorf("sanitized error still has hints: %s", got)
	}
	if got != "fatal: '/home/user/secret/path' already exists" {
		t.Errorf("sanitized = %q", got)
	}

	if got := sanitizeGitError(nil, fmt.Errorf("exit status 1")); got != "exit status 1" {
		t.Errorf("empty output should fall back to err, got %q", got)
	}
}

func TestBranchLocks(t *testing.T) {
	var locks branchLocks

	if !locks.TryAcquire("feature/x") {
		t.Fatal("first acquire should succeed")
	}
	if locks.TryAcquire("feature/x") {
		t.Error("second acquire should fail while held")
	}
	if !locks.TryAcquire("feature/y") {
		t.Error("different branch should be independent")
	}

	locks.Release("feature/x")
	locks.Release("feature/x") // idempotent
	if !locks.TryAcquire("feature/x") {
		t.Error("acquire should succeed after release")
	}
}
