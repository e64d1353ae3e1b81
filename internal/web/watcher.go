package web

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

// StateWatcher keeps an in-memory copy of the coordinator snapshot, reloading
// it whenever state.json changes on disk.
type StateWatcher struct {
	path string
	log  *zap.Logger

	mu   sync.RWMutex
	snap *state.Snapshot
}

// NewStateWatcher loads the snapshot at path and returns a watcher for it. A
// missing or corrupt file yields an empty snapshot.
func NewStateWatcher(path string, logger *zap.Logger) *StateWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &StateWatcher{path: path, log: logger}
	w.reload()
	return w
}

// Snapshot returns the current in-memory snapshot.
func (w *StateWatcher) Snapshot() *state.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snap
}

func (w *StateWatcher) reload() {
	snap, err := state.ReadSnapshot(w.path)
	if err != nil {
		w.log.Debug("state reload failed", zap.Error(err))
		snap = state.NewSnapshot()
	}
	w.mu.Lock()
	w.snap = snap
	w.mu.Unlock()
}

// Watch reloads the snapshot on file changes until ctx is cancelled. The
// parent directory is watched because atomic saves replace the file.
func (w *StateWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	// Debounce bursts: atomic rename fires several events per save.
	var timer *time.Timer
	reloads := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})
		case <-reloads:
			w.reload()
			w.log.Debug("state reloaded", zap.String("path", w.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("state watcher error", zap.Error(err))
		}
	}
}
