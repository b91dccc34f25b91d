package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

func newTestEnv(t *testing.T) (assistant.ToolEnv, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := assistant.ToolEnv{
		Store:          st,
		OrgID:          "org-1",
		UserID:         "user-1",
		ConversationID: "conv-1",
		Exec:           assistant.NewExecutionContext(),
	}
	return env, st
}

func seedProject(t *testing.T, st store.Store) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:        "p-1",
		OrgID:     "org-1",
		Name:      "Platform",
		Status:    models.ProjectActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func seedTask(t *testing.T, st store.Store) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        "t-1",
		OrgID:     "org-1",
		ProjectID: "p-1",
		Title:     "Fix login",
		Status:    models.TaskTodo,
		Priority:  "low",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestCreateTaskPreview(t *testing.T) {
	env, st := newTestEnv(t)
	seedProject(t, st)

	tool := &CreateTaskTool{}
	preview, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"project_id":"p-1","title":"Ship v2","priority":"high"}`,
	))
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	if preview.EntityType != EntityTask {
		t.Errorf("entity type = %q", preview.EntityType)
	}
	if preview.OldState != nil {
		t.Errorf("old state = %v, want nil for create", preview.OldState)
	}

	byField := map[string]models.DiffEntry{}
	for _, e := range preview.Diff {
		byField[e.Field] = e
	}
	if _, ok := byField["project_id"]; ok {
		t.Error("identifier project_id must not appear in the diff")
	}
	if entry, ok := byField["title"]; !ok || entry.NewValue != "Ship v2" || entry.ChangeType != models.ChangeAdded {
		t.Errorf("title entry = %+v", entry)
	}
	if entry, ok := byField["status"]; !ok || entry.NewValue != "todo" {
		t.Errorf("status entry = %+v", entry)
	}
	if _, ok := byField["assignee_id"]; ok {
		t.Error("unset assignee_id must not appear in the diff")
	}

	// Nothing was written: the preview is a proposal only.
	tasks, err := st.ListTasks(context.Background(), "org-1", store.TaskFilter{ProjectID: "p-1"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("tasks created during preview = %d, want 0", len(tasks))
	}
}

func TestCreateTaskPreviewUnknownProject(t *testing.T) {
	env, _ := newTestEnv(t)

	tool := &CreateTaskTool{}
	_, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"project_id":"missing","title":"Ship v2"}`,
	))
	if err == nil {
		t.Fatal("expected error for unknown project")
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound in chain", err)
	}
}

func TestUpdateTaskPreviewDiffsOnlySuppliedFields(t *testing.T) {
	env, st := newTestEnv(t)
	seedProject(t, st)
	seedTask(t, st)

	tool := &UpdateTaskTool{}
	preview, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"task_id":"t-1","priority":"high"}`,
	))
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	if len(preview.Diff) != 1 {
		t.Fatalf("diff = %+v, want one entry", preview.Diff)
	}
	entry := preview.Diff[0]
	if entry.Field != "priority" || entry.OldValue != "low" || entry.NewValue != "high" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ChangeType != models.ChangeModified {
		t.Errorf("change type = %s", entry.ChangeType)
	}
	if preview.EntityID != "t-1" {
		t.Errorf("entity id = %q", preview.EntityID)
	}
}

func TestUpdateTaskPreviewNoOpChange(t *testing.T) {
	env, st := newTestEnv(t)
	seedProject(t, st)
	seedTask(t, st)

	tool := &UpdateTaskTool{}
	preview, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"task_id":"t-1","title":"Fix login"}`,
	))
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	if len(preview.Diff) != 0 {
		t.Errorf("diff = %+v, want empty for unchanged value", preview.Diff)
	}
}

func TestTransitionTaskPreview(t *testing.T) {
	env, st := newTestEnv(t)
	seedProject(t, st)
	seedTask(t, st)

	tool := &TransitionTaskTool{}
	preview, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"task_id":"t-1","status":"in_progress"}`,
	))
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	if len(preview.Diff) != 1 {
		t.Fatalf("diff = %+v", preview.Diff)
	}
	if preview.Diff[0].Field != "status" || preview.Diff[0].OldValue != "todo" || preview.Diff[0].NewValue != "in_progress" {
		t.Errorf("diff entry = %+v", preview.Diff[0])
	}
	if !strings.Contains(preview.Description, "todo") || !strings.Contains(preview.Description, "in_progress") {
		t.Errorf("description = %q", preview.Description)
	}
}

func TestTransitionTaskPreviewInvalidStatus(t *testing.T) {
	env, st := newTestEnv(t)
	seedProject(t, st)
	seedTask(t, st)

	tool := &TransitionTaskTool{}
	if _, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"task_id":"t-1","status":"finished"}`,
	)); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestResolveBlockerPreviewUnknownBlocker(t *testing.T) {
	env, _ := newTestEnv(t)

	tool := &ResolveBlockerTool{}
	_, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"blocker_id":"missing","resolution":"restarted the worker"}`,
	))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound in chain", err)
	}
}

func TestResolveBlockerPreview(t *testing.T) {
	env, st := newTestEnv(t)
	seedProject(t, st)
	seedTask(t, st)
	blocker := &models.Blocker{
		ID:          "b-1",
		OrgID:       "org-1",
		TaskID:      "t-1",
		Description: "waiting on credentials",
		Status:      models.BlockerOpen,
		CreatedAt:   time.Now(),
	}
	if err := st.CreateBlocker(context.Background(), blocker); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}

	tool := &ResolveBlockerTool{}
	preview, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"blocker_id":"b-1","resolution":"credentials granted"}`,
	))
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	byField := map[string]models.DiffEntry{}
	for _, e := range preview.Diff {
		byField[e.Field] = e
	}
	if entry := byField["status"]; entry.OldValue != "open" || entry.NewValue != "resolved" {
		t.Errorf("status entry = %+v", entry)
	}
	if entry := byField["resolution"]; entry.NewValue != "credentials granted" {
		t.Errorf("resolution entry = %+v", entry)
	}
}

func TestUpdateDocumentPreviewIncludesBodyPatch(t *testing.T) {
	env, st := newTestEnv(t)
	doc := &models.Document{
		ID:        "d-1",
		OrgID:     "org-1",
		Title:     "Runbook",
		Body:      "Step one: restart the service.",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}

	tool := &UpdateDocumentTool{}
	preview, err := tool.CreatePreview(context.Background(), env, json.RawMessage(
		`{"document_id":"d-1","body":"Step one: drain traffic, then restart the service."}`,
	))
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	if len(preview.Diff) != 1 || preview.Diff[0].Field != "body" {
		t.Fatalf("diff = %+v", preview.Diff)
	}
	// The description carries a textual patch of the body change.
	if !strings.Contains(preview.Description, "@@") {
		t.Errorf("description lacks patch hunk: %q", preview.Description)
	}
}
