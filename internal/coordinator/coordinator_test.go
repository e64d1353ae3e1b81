package coordinator

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c, err := New(store, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRegisterAgent(t *testing.T) {
	c := newTestCoordinator(t)

	agent, err := c.RegisterAgent("coder-1", "coder", []string{"golang"})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if agent.Status != state.AgentActive {
		t.Errorf("status = %s, want active", agent.Status)
	}
	if len(c.Agents()) != 1 {
		t.Errorf("agent count = %d, want 1", len(c.Agents()))
	}

	if _, err := c.RegisterAgent("", "coder", nil); err == nil {
		t.Error("expected error for empty agent id")
	}
	if _, err := c.RegisterAgent("x", "", nil); err == nil {
		t.Error("expected error for empty role")
	}
}

func TestCreateTask_Validation(t *testing.T) {
	c := newTestCoordinator(t)

	tests := []struct {
		name    string
		req     CreateTaskRequest
		wantErr bool
	}{
		{"valid", CreateTaskRequest{Type: "implement", Description: "build parser", Priority: state.PriorityHigh}, false},
		{"default priority", CreateTaskRequest{Type: "audit", Description: "scan config"}, false},
		{"missing type", CreateTaskRequest{Description: "orphan"}, true},
		{"missing description", CreateTaskRequest{Type: "test"}, true},
		{"bad priority", CreateTaskRequest{Type: "test", Description: "x", Priority: "urgent"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := c.CreateTask(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			if task.Status != state.TaskPending {
				t.Errorf("status = %s, want pending", task.Status)
			}
			if task.PriorityScore == 0 {
				t.Error("priority score not set")
			}
		})
	}
}

func TestCreateTask_PriorityOrdering(t *testing.T) {
	c := newTestCoordinator(t)

	if _, err := c.CreateTask(CreateTaskRequest{Type: "audit", Description: "low one", Priority: state.PriorityLow}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTask(CreateTaskRequest{Type: "audit", Description: "critical one", Priority: state.PriorityCritical}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTask(CreateTaskRequest{Type: "audit", Description: "medium one", Priority: state.PriorityMedium}); err != nil {
		t.Fatal(err)
	}

	tasks := c.Tasks()
	got := []state.Priority{tasks[0].Priority, tasks[1].Priority, tasks[2].Priority}
	want := []state.Priority{state.PriorityCritical, state.PriorityMedium, state.PriorityLow}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue[%d] priority = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestGetNextTask_RoleMatching(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("tester-1", "tester", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build the widget"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTask(CreateTaskRequest{Type: "test", Description: "verify the widget"}); err != nil {
		t.Fatal(err)
	}

	task := c.GetNextTask("tester-1", "tester")
	if task == nil {
		t.Fatal("expected a task")
	}
	if task.Type != "test" {
		t.Errorf("task type = %s, want test", task.Type)
	}
	if task.Status != state.TaskInProgress {
		t.Errorf("status = %s, want in_progress", task.Status)
	}
	if task.AssignedTo != "tester-1" {
		t.Errorf("assigned to %s, want tester-1", task.AssignedTo)
	}
}

func TestGetNextTask_NoSuitableTaskMarksIdle(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("planner-1", "planner", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTask(CreateTaskRequest{Type: "test", Description: "verify widget"}); err != nil {
		t.Fatal(err)
	}

	if task := c.GetNextTask("planner-1", "planner"); task != nil {
		t.Fatalf("expected no task, got %s", task.Type)
	}
	for _, a := range c.Agents() {
		if a.ID == "planner-1" && a.Status != state.AgentIdle {
			t.Errorf("agent status = %s, want idle", a.Status)
		}
	}
}

func TestGetNextTask_DependencyGating(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}

	dep, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build base layer"})
	if err != nil {
		t.Fatal(err)
	}
	blocked, err := c.CreateTask(CreateTaskRequest{
		Type:         "implement",
		Description:  "build feature on base",
		Priority:     state.PriorityCritical,
		Dependencies: []string{dep.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The blocked task outranks the dependency but must be skipped.
	first := c.GetNextTask("coder-1", "coder")
	if first == nil || first.ID != dep.ID {
		t.Fatalf("expected dependency task first, got %+v", first)
	}

	if _, err := c.UpdateTask(dep.ID, state.TaskCompleted, "done"); err != nil {
		t.Fatal(err)
	}

	second := c.GetNextTask("coder-1", "coder")
	if second == nil || second.ID != blocked.ID {
		t.Fatalf("expected blocked task after dependency completed, got %+v", second)
	}
}

func TestGetNextTask_CapabilityMatching(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", []string{"golang"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTask(CreateTaskRequest{
		Type:        "implement",
		Description: "build rust bindings",
		Context:     state.TaskContext{RequiredCapabilities: []string{"rust"}},
	}); err != nil {
		t.Fatal(err)
	}

	if task := c.GetNextTask("coder-1", "coder"); task != nil {
		t.Fatalf("expected capability mismatch to skip task, got %s", task.ID)
	}
}

func TestGetNextTask_LoadLimit(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"}); err != nil {
			t.Fatal(err)
		}
	}

	var assigned int
	for i := 0; i < 4; i++ {
		if c.GetNextTask("coder-1", "coder") != nil {
			assigned++
		}
	}
	if assigned != defaultAgentLoadLimit {
		t.Errorf("assigned = %d, want %d", assigned, defaultAgentLoadLimit)
	}
}

func TestUpdateTask_RetryThenPermanentFailure(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}
	task, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"})
	if err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= defaultMaxRetries; attempt++ {
		got := c.GetNextTask("coder-1", "coder")
		if got == nil {
			t.Fatalf("attempt %d: no task assigned", attempt)
		}
		updated, err := c.UpdateTask(task.ID, state.TaskFailed, "boom")
		if err != nil {
			t.Fatal(err)
		}
		if updated.Status != state.TaskPending {
			t.Fatalf("attempt %d: status = %s, want pending", attempt, updated.Status)
		}
		if updated.RetryCount != attempt {
			t.Fatalf("attempt %d: retry count = %d", attempt, updated.RetryCount)
		}
		if updated.AssignedTo != "" {
			t.Fatalf("attempt %d: still assigned to %s", attempt, updated.AssignedTo)
		}
	}

	if got := c.GetNextTask("coder-1", "coder"); got == nil {
		t.Fatal("final attempt: no task assigned")
	}
	final, err := c.UpdateTask(task.ID, state.TaskFailed, "boom")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != state.TaskFailed {
		t.Errorf("final status = %s, want failed", final.Status)
	}
}

func TestUpdateTask_CompletedRecordsDuration(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	clock := start
	c := newTestCoordinator(t, WithClock(func() time.Time { return clock }))

	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}
	task, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"})
	if err != nil {
		t.Fatal(err)
	}
	if c.GetNextTask("coder-1", "coder") == nil {
		t.Fatal("no task assigned")
	}

	clock = start.Add(10 * time.Minute)
	updated, err := c.UpdateTask(task.ID, state.TaskCompleted, "done")
	if err != nil {
		t.Fatal(err)
	}
	if updated.ActualDuration != 600 {
		t.Errorf("actual duration = %v, want 600", updated.ActualDuration)
	}

	report, err := c.AgentHealthReport("coder-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Metrics.TasksCompleted != 1 {
		t.Errorf("tasks completed = %d, want 1", report.Metrics.TasksCompleted)
	}
	if report.Metrics.AverageTaskTime != 600 {
		t.Errorf("average task time = %v, want 600", report.Metrics.AverageTaskTime)
	}
}

func TestUpdateTask_UnknownTask(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.UpdateTask("nope", state.TaskCompleted, ""); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestSubmitFinding_DeduplicatesAndCreatesPlanTask(t *testing.T) {
	c := newTestCoordinator(t)

	input := FindingInput{
		Title:      "SQL injection in login handler",
		Severity:   state.PriorityCritical,
		Category:   "security",
		FilePath:   "internal/auth/login.go",
		LineNumber: 42,
	}

	first, err := c.SubmitFinding(input)
	if err != nil {
		t.Fatalf("SubmitFinding: %v", err)
	}
	if first.Status != state.FindingNew {
		t.Errorf("status = %s, want new", first.Status)
	}
	if first.Pattern != "security:critical" {
		t.Errorf("pattern = %s", first.Pattern)
	}
	if first.TaskID == "" {
		t.Error("expected auto-created plan task")
	}

	tasks := c.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("task count = %d, want 1", len(tasks))
	}
	if tasks[0].Type != "plan" {
		t.Errorf("task type = %s, want plan", tasks[0].Type)
	}
	if tasks[0].Priority != state.PriorityCritical {
		t.Errorf("task priority = %s, want critical", tasks[0].Priority)
	}
	if tasks[0].Context.FindingID != first.ID {
		t.Errorf("task finding id = %s, want %s", tasks[0].Context.FindingID, first.ID)
	}

	dup, err := c.SubmitFinding(input)
	if err != nil {
		t.Fatalf("SubmitFinding duplicate: %v", err)
	}
	if dup.Status != state.FindingDuplicate {
		t.Errorf("duplicate status = %s", dup.Status)
	}
	if len(c.Tasks()) != 1 {
		t.Error("duplicate finding must not create another task")
	}
	if len(c.Findings()) != 1 {
		t.Errorf("findings = %d, want 1", len(c.Findings()))
	}
}

func TestSubmitFinding_Validation(t *testing.T) {
	c := newTestCoordinator(t)

	if _, err := c.SubmitFinding(FindingInput{Category: "security"}); err == nil {
		t.Error("expected error for missing title")
	}
	if _, err := c.SubmitFinding(FindingInput{Title: "x"}); err == nil {
		t.Error("expected error for missing category")
	}
	if _, err := c.SubmitFinding(FindingInput{Title: "x", Category: "y", Severity: "urgent"}); err == nil {
		t.Error("expected error for bad severity")
	}
}

func TestAgentHealthReport_Grades(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		health state.AgentHealth
		want   HealthGrade
	}{
		{
			"good",
			state.AgentHealth{LastHeartbeat: base, TasksCompleted: 10},
			HealthGood,
		},
		{
			"fair on error count",
			state.AgentHealth{LastHeartbeat: base, TasksCompleted: 10, ErrorCount: 6},
			HealthFair,
		},
		{
			"fair on failure rate",
			state.AgentHealth{LastHeartbeat: base, TasksCompleted: 10, TasksFailed: 2},
			HealthFair,
		},
		{
			"poor on error count",
			state.AgentHealth{LastHeartbeat: base, TasksCompleted: 10, ErrorCount: 11},
			HealthPoor,
		},
		{
			"poor on failure rate",
			state.AgentHealth{LastHeartbeat: base, TasksCompleted: 10, TasksFailed: 4},
			HealthPoor,
		},
		{
			"critical on silent heartbeat",
			state.AgentHealth{LastHeartbeat: base.Add(-6 * time.Minute), TasksCompleted: 10},
			HealthCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, WithClock(func() time.Time { return base }))
			if _, err := c.RegisterAgent("a1", "coder", nil); err != nil {
				t.Fatal(err)
			}
			c.mu.Lock()
			h := tt.health
			c.health["a1"] = &h
			c.mu.Unlock()

			report, err := c.AgentHealthReport("a1")
			if err != nil {
				t.Fatal(err)
			}
			if report.Health != tt.want {
				t.Errorf("health = %s, want %s", report.Health, tt.want)
			}
		})
	}
}

func TestAgentHealthReport_UnknownAgent(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.AgentHealthReport("ghost"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestSystemHealthReport(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}

	report := c.SystemHealthReport()
	if report.Status != "healthy" {
		t.Errorf("status = %s, want healthy with no finished tasks", report.Status)
	}
	if report.Agents.Total != 1 || report.Agents.Active != 1 {
		t.Errorf("agent counts = %+v", report.Agents)
	}

	// Drive the completion rate below the threshold.
	task, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"})
	if err != nil {
		t.Fatal(err)
	}
	if c.GetNextTask("coder-1", "coder") == nil {
		t.Fatal("no task assigned")
	}
	c.mu.Lock()
	c.findTaskLocked(task.ID).RetryCount = defaultMaxRetries
	c.mu.Unlock()
	if _, err := c.UpdateTask(task.ID, state.TaskFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	report = c.SystemHealthReport()
	if report.Status != "degraded" {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if report.Tasks.Failed != 1 {
		t.Errorf("failed count = %d, want 1", report.Tasks.Failed)
	}
}

func TestRecoverAgent(t *testing.T) {
	c := newTestCoordinator(t, WithRecoverDelay(10*time.Millisecond))
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}
	task, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"})
	if err != nil {
		t.Fatal(err)
	}
	if c.GetNextTask("coder-1", "coder") == nil {
		t.Fatal("no task assigned")
	}

	if !c.RecoverAgent("coder-1") {
		t.Fatal("RecoverAgent returned false")
	}
	if c.RecoverAgent("ghost") {
		t.Error("RecoverAgent should reject unknown agents")
	}

	for _, got := range c.Tasks() {
		if got.ID == task.ID {
			if got.Status != state.TaskPending {
				t.Errorf("task status = %s, want pending", got.Status)
			}
			if got.AssignedTo != "" {
				t.Errorf("task still assigned to %s", got.AssignedTo)
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var status state.AgentStatus
		for _, a := range c.Agents() {
			if a.ID == "coder-1" {
				status = a.Status
			}
		}
		if status == state.AgentActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("agent never became active, status = %s", status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	c1, err := New(store, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c1.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c1.SubmitFinding(FindingInput{Title: "leak", Category: "performance"}); err != nil {
		t.Fatal(err)
	}

	store2, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New(store2, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if len(c2.Agents()) != 1 {
		t.Errorf("restored agents = %d, want 1", len(c2.Agents()))
	}
	if len(c2.Tasks()) != 2 {
		t.Errorf("restored tasks = %d, want 2 (created + plan)", len(c2.Tasks()))
	}
	if len(c2.Findings()) != 1 {
		t.Errorf("restored findings = %d, want 1", len(c2.Findings()))
	}
}

func TestOptimizeQueueBoostsStaleTasks(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	c := newTestCoordinator(t, WithClock(func() time.Time { return clock }))

	stale, err := c.CreateTask(CreateTaskRequest{Type: "audit", Description: "old scan", Priority: state.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}

	clock = base.Add(31 * time.Minute)
	fresh, err := c.CreateTask(CreateTaskRequest{Type: "audit", Description: "new scan", Priority: state.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}

	c.optimizeQueue()

	var staleScore, freshScore int
	for _, task := range c.Tasks() {
		switch task.ID {
		case stale.ID:
			staleScore = task.PriorityScore
		case fresh.ID:
			freshScore = task.PriorityScore
		}
	}
	if staleScore != state.PriorityLow.Score()+1 {
		t.Errorf("stale score = %d, want boosted", staleScore)
	}
	if freshScore != state.PriorityLow.Score() {
		t.Errorf("fresh score = %d, want unchanged", freshScore)
	}

	tasks := c.Tasks()
	if tasks[0].ID != stale.ID {
		t.Errorf("queue head = %s, want boosted stale task", tasks[0].ID)
	}
}

func TestProjectContextReport(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("auditor-1", "auditor", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SubmitFinding(FindingInput{
		Title:    "hardcoded credentials",
		Severity: state.PriorityCritical,
		Category: "security",
	}); err != nil {
		t.Fatal(err)
	}

	report := c.ProjectContextReport(t.TempDir())
	if report.Agents.ByRole["auditor"] != 1 {
		t.Errorf("auditor count = %d", report.Agents.ByRole["auditor"])
	}
	if report.Findings.BySeverity["critical"] != 1 {
		t.Errorf("critical findings = %d", report.Findings.BySeverity["critical"])
	}
	if report.Tasks.ByType["plan"] != 1 {
		t.Errorf("plan tasks = %d", report.Tasks.ByType["plan"])
	}

	var sawCritical bool
	for _, insight := range report.Insights {
		if insight == "1 critical findings require immediate attention." {
			sawCritical = true
		}
	}
	if !sawCritical {
		t.Errorf("missing critical insight, got %v", report.Insights)
	}
}

func TestCreateTask_ReturnsDetachedCopy(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}

	created, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"})
	if err != nil {
		t.Fatal(err)
	}

	// Internal transitions must not show through the caller's copy.
	if c.GetNextTask("coder-1", "coder") == nil {
		t.Fatal("no task assigned")
	}
	if created.Status != state.TaskPending {
		t.Errorf("caller copy mutated to %s", created.Status)
	}

	// Nor may scribbling on a returned record reach the queue.
	created.Description = "scribbled"
	for _, got := range c.Tasks() {
		if got.ID == created.ID && got.Description != "build module" {
			t.Errorf("queue description = %q", got.Description)
		}
	}
}

func TestRegisterAgent_ReturnsDetachedCopy(t *testing.T) {
	c := newTestCoordinator(t)

	agent, err := c.RegisterAgent("coder-1", "coder", []string{"golang"})
	if err != nil {
		t.Fatal(err)
	}

	// GetNextTask flips the registry entry to busy/idle; the caller's copy
	// stays as registered.
	c.GetNextTask("coder-1", "coder")
	if agent.Status != state.AgentActive {
		t.Errorf("caller copy mutated to %s", agent.Status)
	}

	agent.Capabilities[0] = "scribbled"
	for _, got := range c.Agents() {
		if got.ID == "coder-1" && got.Capabilities[0] != "golang" {
			t.Errorf("registry capabilities = %v", got.Capabilities)
		}
	}
}

func TestCreateTask_SafeToMarshalConcurrently(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.RegisterAgent("coder-1", "coder", nil); err != nil {
		t.Fatal(err)
	}

	created, err := c.CreateTask(CreateTaskRequest{Type: "implement", Description: "build module"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if _, err := json.Marshal(created); err != nil {
				t.Errorf("marshal: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		c.GetNextTask("coder-1", "coder")
		for i := 0; i < 50; i++ {
			c.UpdateTask(created.ID, state.TaskInProgress, "")
		}
	}()
	wg.Wait()
}
