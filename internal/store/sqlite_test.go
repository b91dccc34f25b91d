package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/arbor-hq/arbor/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestProjectCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{
		ID:        "p-1",
		OrgID:     "org-1",
		Name:      "Platform",
		Status:    models.ProjectActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := st.CreateProject(ctx, p); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}

	got, err := st.GetProject(ctx, "org-1", "p-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "Platform" || got.Status != models.ProjectActive {
		t.Errorf("project = %+v", got)
	}

	// Lookups are org-scoped.
	if _, err := st.GetProject(ctx, "other-org", "p-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-org get err = %v, want ErrNotFound", err)
	}

	got.Status = models.ProjectArchived
	if err := st.UpdateProject(ctx, got); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	got, _ = st.GetProject(ctx, "org-1", "p-1")
	if got.Status != models.ProjectArchived {
		t.Errorf("status after update = %s", got.Status)
	}

	missing := &models.Project{ID: "nope", OrgID: "org-1", Name: "x", Status: models.ProjectActive}
	if err := st.UpdateProject(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
}

func TestTaskFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tasks := []*models.Task{
		{ID: "t-1", OrgID: "org-1", ProjectID: "p-1", Title: "a", Status: models.TaskTodo, AssigneeID: "u-1", CreatedAt: now, UpdatedAt: now},
		{ID: "t-2", OrgID: "org-1", ProjectID: "p-1", Title: "b", Status: models.TaskDone, AssigneeID: "u-2", CreatedAt: now, UpdatedAt: now},
		{ID: "t-3", OrgID: "org-1", ProjectID: "p-2", Title: "c", Status: models.TaskTodo, AssigneeID: "u-1", CreatedAt: now, UpdatedAt: now},
	}
	for _, task := range tasks {
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	got, err := st.ListTasks(ctx, "org-1", TaskFilter{ProjectID: "p-1"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("project filter: %d tasks, want 2", len(got))
	}

	got, _ = st.ListTasks(ctx, "org-1", TaskFilter{Status: models.TaskTodo})
	if len(got) != 2 {
		t.Errorf("status filter: %d tasks, want 2", len(got))
	}

	got, _ = st.ListTasks(ctx, "org-1", TaskFilter{AssigneeID: "u-1", Status: models.TaskTodo})
	if len(got) != 2 {
		t.Errorf("combined filter: %d tasks, want 2", len(got))
	}

	got, _ = st.ListTasks(ctx, "org-1", TaskFilter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit: %d tasks, want 1", len(got))
	}
}

func TestSearchDocuments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	docs := []*models.Document{
		{ID: "d-1", OrgID: "org-1", Title: "Deployment runbook", Body: "steps", CreatedAt: now, UpdatedAt: now},
		{ID: "d-2", OrgID: "org-1", Title: "Roadmap", Body: "we deploy quarterly", CreatedAt: now, UpdatedAt: now},
		{ID: "d-3", OrgID: "org-2", Title: "Deployment notes", Body: "other org", CreatedAt: now, UpdatedAt: now},
	}
	for _, d := range docs {
		if err := st.CreateDocument(ctx, d); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
	}

	got, err := st.SearchDocuments(ctx, "org-1", "deploy", 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("matches = %d, want 2 (title and body, org-scoped)", len(got))
	}

	got, _ = st.SearchDocuments(ctx, "org-1", "nonexistent", 10)
	if len(got) != 0 {
		t.Errorf("matches = %d, want 0", len(got))
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv := &models.Conversation{ID: "c-1", OrgID: "org-1", UserID: "u-1", CreatedAt: now, UpdatedAt: now}
	if err := st.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msgs := []*models.Message{
		{ID: "m-1", ConversationID: "c-1", Role: models.RoleUser, Content: "hi", CreatedAt: now},
		{
			ID: "m-2", ConversationID: "c-1", Role: models.RoleAssistant, Content: "checking",
			ToolCalls: []models.ToolCall{{ID: "call-1", Name: "get_task", Input: json.RawMessage(`{"task_id":"t-1"}`)}},
			CreatedAt: now.Add(time.Second),
		},
		{
			ID: "m-3", ConversationID: "c-1", Role: models.RoleTool,
			ToolResults: []models.ToolResult{{ToolCallID: "call-1", Content: "found it"}},
			CreatedAt:   now.Add(2 * time.Second),
		},
	}
	for _, m := range msgs {
		if err := st.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	got, err := st.ListMessages(ctx, "c-1", 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3", len(got))
	}
	if got[1].ToolCalls[0].Name != "get_task" {
		t.Errorf("tool call = %+v", got[1].ToolCalls)
	}
	if got[2].ToolResults[0].ToolCallID != "call-1" {
		t.Errorf("tool result = %+v", got[2].ToolResults)
	}

	// Limit keeps the most recent messages in chronological order.
	got, _ = st.ListMessages(ctx, "c-1", 2)
	if len(got) != 2 || got[0].ID != "m-2" || got[1].ID != "m-3" {
		t.Errorf("limited messages = %+v", got)
	}
}

func pendingFixture(now time.Time) *models.PendingAction {
	return &models.PendingAction{
		ID:             "a-1",
		ConversationID: "c-1",
		ToolName:       "create_task",
		ToolInput:      json.RawMessage(`{"title":"x"}`),
		EntityType:     "task",
		NewState:       map[string]any{"title": "x"},
		Diff:           []models.DiffEntry{{Field: "title", NewValue: "x", ChangeType: models.ChangeAdded}},
		Description:    `Create task "x"`,
		Status:         models.ActionPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.PendingActionTTL),
	}
}

func TestPendingActionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	action := pendingFixture(now)
	if err := st.CreatePendingAction(ctx, action); err != nil {
		t.Fatalf("CreatePendingAction: %v", err)
	}

	got, err := st.GetPendingAction(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetPendingAction: %v", err)
	}
	if got.Status != models.ActionPending || len(got.Diff) != 1 {
		t.Errorf("action = %+v", got)
	}

	list, err := st.ListPendingActions(ctx, "c-1", now)
	if err != nil {
		t.Fatalf("ListPendingActions: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("pending = %d, want 1", len(list))
	}

	// Past the deadline the action no longer lists as pending.
	list, _ = st.ListPendingActions(ctx, "c-1", now.Add(models.PendingActionTTL+time.Minute))
	if len(list) != 0 {
		t.Errorf("pending after expiry = %d, want 0", len(list))
	}

	decidedAt := now.Add(time.Minute)
	if err := st.TransitionPendingAction(ctx, "a-1", models.ActionPending, models.ActionApproved, "alice", decidedAt); err != nil {
		t.Fatalf("TransitionPendingAction: %v", err)
	}

	got, _ = st.GetPendingAction(ctx, "a-1")
	if got.Status != models.ActionApproved || got.DecidedBy != "alice" {
		t.Errorf("after transition = %+v", got)
	}
	if got.DecidedAt == nil {
		t.Error("decided_at not recorded")
	}

	// Conditional transition: the action is no longer pending.
	err = st.TransitionPendingAction(ctx, "a-1", models.ActionPending, models.ActionRejected, "bob", decidedAt)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("double transition err = %v, want ErrConflict", err)
	}

	executedAt := now.Add(2 * time.Minute)
	if err := st.FinishPendingAction(ctx, "a-1", models.ActionExecuted, "created task t-9", "", executedAt); err != nil {
		t.Fatalf("FinishPendingAction: %v", err)
	}
	got, _ = st.GetPendingAction(ctx, "a-1")
	if got.Status != models.ActionExecuted || got.Result != "created task t-9" {
		t.Errorf("after finish = %+v", got)
	}
	if got.ExecutedAt == nil {
		t.Error("executed_at not recorded")
	}
}

func TestTransitionPendingActionNotFound(t *testing.T) {
	st := newTestStore(t)
	err := st.TransitionPendingAction(context.Background(), "ghost", models.ActionPending, models.ActionApproved, "alice", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestJournalEntriesFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []*models.JournalEntry{
		{ID: "j-1", OrgID: "org-1", ProjectID: "p-1", AuthorID: "u-1", Content: "old note", Tags: []string{"standup"}, CreatedAt: now.AddDate(0, 0, -30)},
		{ID: "j-2", OrgID: "org-1", ProjectID: "p-1", AuthorID: "u-2", Content: "new note", CreatedAt: now},
	}
	for _, e := range entries {
		if err := st.CreateJournalEntry(ctx, e); err != nil {
			t.Fatalf("CreateJournalEntry: %v", err)
		}
	}

	got, err := st.ListJournalEntries(ctx, "org-1", JournalFilter{Since: now.AddDate(0, 0, -7)})
	if err != nil {
		t.Fatalf("ListJournalEntries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "j-2" {
		t.Errorf("since filter = %+v", got)
	}

	got, _ = st.ListJournalEntries(ctx, "org-1", JournalFilter{AuthorID: "u-1"})
	if len(got) != 1 || got[0].ID != "j-1" {
		t.Errorf("author filter = %+v", got)
	}
	if len(got) == 1 && len(got[0].Tags) != 1 {
		t.Errorf("tags = %v", got[0].Tags)
	}
}
