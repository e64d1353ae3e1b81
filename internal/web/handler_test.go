package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

func writeTestState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	snap := state.NewSnapshot()
	snap.Agents["coder-1"] = &state.Agent{
		ID:       "coder-1",
		Role:     "coder",
		Status:   state.AgentActive,
		LastSeen: time.Now(),
	}
	snap.TaskQueue = []*state.Task{
		{ID: "t1", Type: "implement", Description: "build widget", Priority: state.PriorityHigh, Status: state.TaskPending},
		{ID: "t2", Type: "test", Description: "verify widget", Priority: state.PriorityMedium, Status: state.TaskCompleted},
	}
	snap.AuditFindings = []*state.Finding{
		{ID: "f1", Title: "weak hash", Severity: state.PriorityHigh, Category: "security", FilePath: "auth.go", LineNumber: 10},
	}
	if err := store.Save(snap); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "state.json")
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	watcher := NewStateWatcher(writeTestState(t), zap.NewNop())
	h, err := NewHandler(watcher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func doRequest(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDashboard(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"coder-1", "build widget", "weak hash", "auth.go:10"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestAPIStatus(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/api/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload struct {
		Agents   int            `json:"agents"`
		Tasks    map[string]int `json:"tasks"`
		Findings int            `json:"findings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Agents != 1 {
		t.Errorf("agents = %d", payload.Agents)
	}
	if payload.Tasks["pending"] != 1 || payload.Tasks["completed"] != 1 {
		t.Errorf("tasks = %v", payload.Tasks)
	}
	if payload.Findings != 1 {
		t.Errorf("findings = %d", payload.Findings)
	}
}

func TestAPITasks(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/api/tasks")

	var tasks []*state.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("tasks = %d", len(tasks))
	}
}

func TestAPIFindings(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/api/findings")

	var findings []*state.Finding
	if err := json.Unmarshal(rec.Body.Bytes(), &findings); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(findings) != 1 || findings[0].Title != "weak hash" {
		t.Errorf("findings = %+v", findings)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWatcher_MissingFileYieldsEmptySnapshot(t *testing.T) {
	watcher := NewStateWatcher(filepath.Join(t.TempDir(), "state.json"), zap.NewNop())

	snap := watcher.Snapshot()
	if snap == nil {
		t.Fatal("snapshot is nil")
	}
	if len(snap.Agents) != 0 || len(snap.TaskQueue) != 0 {
		t.Errorf("snapshot not empty: %+v", snap)
	}
}
