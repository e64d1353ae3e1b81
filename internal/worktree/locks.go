package worktree

import "sync"

// branchLocks serializes worktree creation per branch. Two agents asking for
// the same branch at once must not race git.
type branchLocks struct {
	locks sync.Map // map[string]chan struct{}
}

// TryAcquire attempts to take the lock for a branch. Returns false if another
// creation for the same branch is in flight.
func (l *branchLocks) TryAcquire(branch string) bool {
	actual, _ := l.locks.LoadOrStore(branch, make(chan struct{}, 1))
	ch := actual.(chan struct{})

	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the branch lock. Safe to call when not held.
func (l *branchLocks) Release(branch string) {
	if actual, ok := l.locks.Load(branch); ok {
		ch := actual.(chan struct{})
		select {
		case <-ch:
		default:
		}
	}
}
