package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	stateFileName  = "state.json"
	backupFileName = "state.backup.json"
	tempFileName   = "state.tmp.json"
)

// Store persists coordinator snapshots to a data directory. Writes are
// atomic: the snapshot goes to a temp file first, the previous state.json
// becomes state.backup.json, then the temp file is renamed into place.
type Store struct {
	dataDir string
}

// NewStore creates a store rooted at dataDir, creating the directory if
// needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Dir returns the data directory the store writes into.
func (s *Store) Dir() string {
	return s.dataDir
}

// StatePath returns the path of the primary state file.
func (s *Store) StatePath() string {
	return filepath.Join(s.dataDir, stateFileName)
}

// Load reads the persisted snapshot. If state.json is missing or corrupt it
// falls back to state.backup.json; if both are unusable it returns a fresh
// snapshot and a nil error so the caller can start clean.
func (s *Store) Load() (*Snapshot, error) {
	snap, err := s.loadFile(s.StatePath())
	if err == nil {
		return snap, nil
	}

	snap, backupErr := s.loadFile(filepath.Join(s.dataDir, backupFileName))
	if backupErr == nil {
		return snap, nil
	}

	if errors.Is(err, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
		return NewSnapshot(), nil
	}
	// Corrupt state is not fatal: start fresh, report what happened.
	return NewSnapshot(), fmt.Errorf("state unreadable (primary: %v, backup: %v)", err, backupErr)
}

func (s *Store) loadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	snap := NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if snap.Agents == nil {
		snap.Agents = make(map[string]*Agent)
	}
	if snap.AgentHealth == nil {
		snap.AgentHealth = make(map[string]AgentHealth)
	}
	return snap, nil
}

// Save writes the snapshot atomically and rotates the previous state to the
// backup file.
func (s *Store) Save(snap *Snapshot) error {
	snap.SavedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tempPath := filepath.Join(s.dataDir, tempFileName)
	statePath := s.StatePath()
	backupPath := filepath.Join(s.dataDir, backupFileName)

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}

	if _, err := os.Stat(statePath); err == nil {
		if err := os.Rename(statePath, backupPath); err != nil {
			_ = os.Remove(tempPath)
			return fmt.Errorf("rotate backup: %w", err)
		}
	}

	if err := os.Rename(tempPath, statePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("install state: %w", err)
	}

	return nil
}

// SaveKnowledgeBase writes the knowledge base to its own file for backup.
func (s *Store) SaveKnowledgeBase(kb KnowledgeBase) error {
	data, err := json.MarshalIndent(kb, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal knowledge base: %w", err)
	}
	path := filepath.Join(s.dataDir, "knowledge_base.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write knowledge base: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot from an explicit state.json path without a
// Store. Used by read-only consumers (status command, dashboard).
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}
