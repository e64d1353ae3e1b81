package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	snap := NewSnapshot()
	snap.Agents["coder-1"] = &Agent{
		ID:           "coder-1",
		Role:         "coder",
		Capabilities: []string{"code_implementation"},
		Status:       AgentActive,
		RegisteredAt: time.Now(),
	}
	snap.TaskQueue = append(snap.TaskQueue, &Task{
		ID:            "t1",
		Type:          "implement",
		Description:   "fix the launcher",
		Priority:      PriorityHigh,
		PriorityScore: PriorityHigh.Score(),
		Status:        TaskPending,
	})

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(loaded.Agents) != 1 {
		t.Fatalf("Agents length = %d, want 1", len(loaded.Agents))
	}
	if loaded.Agents["coder-1"].Role != "coder" {
		t.Fatalf("Agent role = %q, want coder", loaded.Agents["coder-1"].Role)
	}
	if len(loaded.TaskQueue) != 1 || loaded.TaskQueue[0].Priority != PriorityHigh {
		t.Fatalf("TaskQueue = %+v, want one high priority task", loaded.TaskQueue)
	}
	if loaded.SavedAt.IsZero() {
		t.Fatal("SavedAt should be set by Save")
	}
}

func TestStore_LoadMissingReturnsFresh(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load of missing state should not error, got: %v", err)
	}
	if snap == nil || snap.Agents == nil || snap.AgentHealth == nil {
		t.Fatal("Load should return an initialized snapshot")
	}
	if len(snap.TaskQueue) != 0 {
		t.Fatalf("fresh snapshot has %d tasks, want 0", len(snap.TaskQueue))
	}
}

func TestStore_SaveRotatesBackup(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	first := NewSnapshot()
	first.TaskQueue = append(first.TaskQueue, &Task{ID: "first", Status: TaskPending})
	if err := store.Save(first); err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}

	second := NewSnapshot()
	second.TaskQueue = append(second.TaskQueue, &Task{ID: "second", Status: TaskPending})
	if err := store.Save(second); err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	backup, err := os.ReadFile(filepath.Join(dir, "state.backup.json"))
	if err != nil {
		t.Fatalf("backup file should exist after second save: %v", err)
	}
	if !strings.Contains(string(backup), `"first"`) {
		t.Fatal("backup should hold the previous snapshot")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.TaskQueue[0].ID != "second" {
		t.Fatalf("primary state task = %q, want second", loaded.TaskQueue[0].ID)
	}
}

func TestStore_LoadFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	snap := NewSnapshot()
	snap.TaskQueue = append(snap.TaskQueue, &Task{ID: "keep", Status: TaskPending})
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	// Corrupt the primary state file
	if err := os.WriteFile(store.StatePath(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupting state file: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load should succeed via backup, got: %v", err)
	}
	if len(loaded.TaskQueue) != 1 || loaded.TaskQueue[0].ID != "keep" {
		t.Fatalf("backup load returned %+v, want task keep", loaded.TaskQueue)
	}
}

func TestPriority_Score(t *testing.T) {
	tests := []struct {
		priority Priority
		want     int
	}{
		{PriorityCritical, 4},
		{PriorityHigh, 3},
		{PriorityMedium, 2},
		{PriorityLow, 1},
		{Priority("bogus"), 2},
	}

	for _, tt := range tests {
		if got := tt.priority.Score(); got != tt.want {
			t.Errorf("Score(%s) = %d, want %d", tt.priority, got, tt.want)
		}
	}
}

func TestLauncherStore_SaveWritesLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLauncherStore(dir)
	if err != nil {
		t.Fatalf("NewLauncherStore returned error: %v", err)
	}

	snap := &LauncherSnapshot{
		Uptime:      "0:01:00",
		TotalAgents: 2,
		Agents: map[string]*LauncherAgent{
			"auditor-1": {ID: "auditor-1", Role: "auditor", Window: "auditor", State: "running"},
		},
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest returned error: %v", err)
	}
	if loaded.TotalAgents != 2 {
		t.Fatalf("TotalAgents = %d, want 2", loaded.TotalAgents)
	}
	if loaded.Agents["auditor-1"].Window != "auditor" {
		t.Fatalf("agent window = %q, want auditor", loaded.Agents["auditor-1"].Window)
	}
}
