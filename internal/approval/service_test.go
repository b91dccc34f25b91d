package approval

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

type testEnv struct {
	store *store.SQLiteStore
	ctx   context.Context
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, ctx: context.Background(), now: time.Now().UTC()}
	conv := &models.Conversation{
		ID:        "conv-1",
		OrgID:     "org-1",
		UserID:    "user-1",
		CreatedAt: env.now,
		UpdatedAt: env.now,
	}
	if err := st.CreateConversation(env.ctx, conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return env
}

func (e *testEnv) seedProject(t *testing.T, id string) {
	t.Helper()
	err := e.store.CreateProject(e.ctx, &models.Project{
		ID: id, OrgID: "org-1", Name: "Platform", Status: models.ProjectActive,
		CreatedAt: e.now, UpdatedAt: e.now,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func (e *testEnv) seedTask(t *testing.T, id string) {
	t.Helper()
	err := e.store.CreateTask(e.ctx, &models.Task{
		ID: id, OrgID: "org-1", ProjectID: "p-1", Title: "Fix login",
		Status: models.TaskTodo, Priority: "low",
		CreatedAt: e.now, UpdatedAt: e.now,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func (e *testEnv) stageAction(t *testing.T, toolName string, input string) *models.PendingAction {
	t.Helper()
	action := &models.PendingAction{
		ID:             "act-" + toolName,
		ConversationID: "conv-1",
		ToolName:       toolName,
		ToolInput:      json.RawMessage(input),
		EntityType:     "task",
		Description:    toolName + " proposal",
		Status:         models.ActionPending,
		CreatedAt:      e.now,
		ExpiresAt:      e.now.Add(models.PendingActionTTL),
	}
	if err := e.store.CreatePendingAction(e.ctx, action); err != nil {
		t.Fatalf("stage action: %v", err)
	}
	return action
}

func TestApproveExecutesCreateTask(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "p-1")
	env.stageAction(t, "create_task", `{"project_id":"p-1","title":"Ship it","priority":"high","due_date":"2026-09-01T00:00:00Z"}`)

	var hookConv, hookDesc string
	svc := NewService(env.store, WithExecutedHook(func(conversationID, description string) {
		hookConv, hookDesc = conversationID, description
	}))

	action, err := svc.Approve(env.ctx, "act-create_task", "alice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if action.Status != models.ActionExecuted {
		t.Errorf("status = %s, want executed", action.Status)
	}
	if !strings.HasPrefix(action.Result, "created task ") {
		t.Errorf("result = %q", action.Result)
	}
	if action.DecidedBy != "alice" || action.ExecutedAt == nil {
		t.Errorf("decision fields = %+v", action)
	}
	if hookConv != "conv-1" || hookDesc != "create_task proposal" {
		t.Errorf("hook got (%q, %q)", hookConv, hookDesc)
	}

	tasks, err := env.store.ListTasks(env.ctx, "org-1", store.TaskFilter{ProjectID: "p-1"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].Title != "Ship it" || tasks[0].Priority != "high" {
		t.Errorf("task = %+v", tasks[0])
	}
	if tasks[0].DueDate == nil || !tasks[0].DueDate.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("due date = %v", tasks[0].DueDate)
	}
}

func TestApproveTwiceReturnsAlreadyDecided(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "p-1")
	env.stageAction(t, "create_task", `{"project_id":"p-1","title":"once"}`)
	svc := NewService(env.store)

	if _, err := svc.Approve(env.ctx, "act-create_task", "alice"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := svc.Approve(env.ctx, "act-create_task", "bob"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("second approve err = %v, want ErrAlreadyDecided", err)
	}

	// Only one task was created.
	tasks, _ := env.store.ListTasks(env.ctx, "org-1", store.TaskFilter{})
	if len(tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(tasks))
	}
}

func TestRejectLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.stageAction(t, "create_task", `{"project_id":"p-1","title":"never"}`)
	svc := NewService(env.store)

	action, err := svc.Reject(env.ctx, "act-create_task", "alice")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if action.Status != models.ActionRejected || action.DecidedBy != "alice" {
		t.Errorf("action = %+v", action)
	}

	tasks, _ := env.store.ListTasks(env.ctx, "org-1", store.TaskFilter{})
	if len(tasks) != 0 {
		t.Errorf("tasks = %d, want 0", len(tasks))
	}

	if _, err := svc.Approve(env.ctx, "act-create_task", "bob"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("approve after reject err = %v, want ErrAlreadyDecided", err)
	}
}

func TestApproveExpiredAction(t *testing.T) {
	env := newTestEnv(t)
	env.stageAction(t, "create_task", `{"project_id":"p-1","title":"late"}`)

	late := env.now.Add(models.PendingActionTTL + time.Minute)
	svc := NewService(env.store, WithClock(func() time.Time { return late }))

	if _, err := svc.Approve(env.ctx, "act-create_task", "alice"); !errors.Is(err, ErrActionExpired) {
		t.Fatalf("err = %v, want ErrActionExpired", err)
	}

	// Expiry is recorded on first touch.
	got, err := env.store.GetPendingAction(env.ctx, "act-create_task")
	if err != nil {
		t.Fatalf("GetPendingAction: %v", err)
	}
	if got.Status != models.ActionExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	if _, err := svc.Reject(env.ctx, "act-create_task", "alice"); !errors.Is(err, ErrActionExpired) {
		t.Errorf("reject after expiry err = %v, want ErrActionExpired", err)
	}
}

func TestApproveUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.store)
	if _, err := svc.Approve(env.ctx, "ghost", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApproveExecutionFailureKeepsDecision(t *testing.T) {
	env := newTestEnv(t)
	// No project seeded, so the referenced task lookup inside execution fails.
	env.stageAction(t, "transition_task", `{"task_id":"t-missing","status":"done"}`)
	svc := NewService(env.store)

	_, err := svc.Approve(env.ctx, "act-transition_task", "alice")
	if err == nil {
		t.Fatal("expected execution error")
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want wrapped ErrNotFound", err)
	}

	got, _ := env.store.GetPendingAction(env.ctx, "act-transition_task")
	if got.Status != models.ActionApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.Error == "" {
		t.Error("execution error not recorded on the action")
	}
}

func TestApproveTransitionTask(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "p-1")
	env.seedTask(t, "t-1")
	env.stageAction(t, "transition_task", `{"task_id":"t-1","status":"in_progress"}`)
	svc := NewService(env.store)

	action, err := svc.Approve(env.ctx, "act-transition_task", "alice")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !strings.Contains(action.Result, "in_progress") {
		t.Errorf("result = %q", action.Result)
	}

	task, _ := env.store.GetTask(env.ctx, "org-1", "t-1")
	if task.Status != models.TaskInProgress {
		t.Errorf("task status = %s", task.Status)
	}
}

func TestApproveReportBlockerMarksTaskBlocked(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "p-1")
	env.seedTask(t, "t-1")
	env.stageAction(t, "report_blocker", `{"task_id":"t-1","description":"waiting on credentials"}`)
	svc := NewService(env.store)

	if _, err := svc.Approve(env.ctx, "act-report_blocker", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	task, _ := env.store.GetTask(env.ctx, "org-1", "t-1")
	if task.Status != models.TaskBlocked {
		t.Errorf("task status = %s, want blocked", task.Status)
	}

	blockers, err := env.store.ListBlockers(env.ctx, "org-1", models.BlockerOpen)
	if err != nil {
		t.Fatalf("ListBlockers: %v", err)
	}
	if len(blockers) != 1 || blockers[0].TaskID != "t-1" || blockers[0].ReportedBy != "alice" {
		t.Errorf("blockers = %+v", blockers)
	}
}

func TestApproveResolveBlocker(t *testing.T) {
	env := newTestEnv(t)
	err := env.store.CreateBlocker(env.ctx, &models.Blocker{
		ID: "b-1", OrgID: "org-1", TaskID: "t-1",
		Description: "flaky CI", Status: models.BlockerOpen,
		ReportedBy: "user-1", CreatedAt: env.now,
	})
	if err != nil {
		t.Fatalf("seed blocker: %v", err)
	}
	env.stageAction(t, "resolve_blocker", `{"blocker_id":"b-1","resolution":"runner replaced"}`)
	svc := NewService(env.store)

	if _, err := svc.Approve(env.ctx, "act-resolve_blocker", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	blocker, _ := env.store.GetBlocker(env.ctx, "org-1", "b-1")
	if blocker.Status != models.BlockerResolved || blocker.Resolution != "runner replaced" {
		t.Errorf("blocker = %+v", blocker)
	}
	if blocker.ResolvedAt == nil {
		t.Error("resolved_at not set")
	}
}

func TestApproveAddJournalEntryUsesConversationAuthor(t *testing.T) {
	env := newTestEnv(t)
	env.stageAction(t, "add_journal_entry", `{"content":"kickoff notes","tags":["standup","q3"]}`)
	svc := NewService(env.store)

	if _, err := svc.Approve(env.ctx, "act-add_journal_entry", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	entries, err := env.store.ListJournalEntries(env.ctx, "org-1", store.JournalFilter{})
	if err != nil {
		t.Fatalf("ListJournalEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].AuthorID != "user-1" {
		t.Errorf("author = %s, want the conversation owner", entries[0].AuthorID)
	}
	if len(entries[0].Tags) != 2 {
		t.Errorf("tags = %v", entries[0].Tags)
	}
}

func TestApproveUnknownExecutor(t *testing.T) {
	env := newTestEnv(t)
	env.stageAction(t, "launch_rocket", `{}`)
	svc := NewService(env.store)

	_, err := svc.Approve(env.ctx, "act-launch_rocket", "alice")
	if err == nil || !strings.Contains(err.Error(), "no executor") {
		t.Errorf("err = %v, want no-executor error", err)
	}
}

func TestListPendingExcludesDecided(t *testing.T) {
	env := newTestEnv(t)
	env.stageAction(t, "create_task", `{"title":"a"}`)
	env.stageAction(t, "update_task", `{"task_id":"t-1"}`)
	svc := NewService(env.store)

	if _, err := svc.Reject(env.ctx, "act-create_task", "alice"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	pending, err := svc.ListPending(env.ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "act-update_task" {
		t.Errorf("pending = %+v", pending)
	}
}
