package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LauncherStore persists launcher snapshots under <dataDir>/launcher. Each
// checkpoint is written to a timestamped file and mirrored to
// latest_state.json.
type LauncherStore struct {
	dir string
}

// NewLauncherStore creates a launcher store under the coordinator data dir.
func NewLauncherStore(dataDir string) (*LauncherStore, error) {
	dir := filepath.Join(dataDir, "launcher")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create launcher state dir: %w", err)
	}
	return &LauncherStore{dir: dir}, nil
}

// LatestPath returns the path of the latest launcher snapshot.
func (s *LauncherStore) LatestPath() string {
	return filepath.Join(s.dir, "latest_state.json")
}

// Save writes a timestamped snapshot and updates latest_state.json.
func (s *LauncherStore) Save(snap *LauncherSnapshot) error {
	snap.SavedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal launcher state: %w", err)
	}

	stamped := filepath.Join(s.dir, fmt.Sprintf("state_%s.json", snap.SavedAt.Format("20060102_150405")))
	if err := os.WriteFile(stamped, data, 0o644); err != nil {
		return fmt.Errorf("write launcher state: %w", err)
	}
	if err := os.WriteFile(s.LatestPath(), data, 0o644); err != nil {
		return fmt.Errorf("write latest launcher state: %w", err)
	}
	return nil
}

// LoadLatest reads the most recent launcher snapshot, if any.
func (s *LauncherStore) LoadLatest() (*LauncherSnapshot, error) {
	data, err := os.ReadFile(s.LatestPath())
	if err != nil {
		return nil, err
	}
	var snap LauncherSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse launcher state: %w", err)
	}
	return &snap, nil
}
