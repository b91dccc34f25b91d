package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/pkg/models"
)

// Entity type names used by action previews.
const (
	EntityProject      = "project"
	EntityTask         = "task"
	EntityDocument     = "document"
	EntityBlocker      = "blocker"
	EntityJournalEntry = "journal_entry"
)

// CreateTaskTool proposes creating a task.
type CreateTaskTool struct{}

func (t *CreateTaskTool) Name() string { return "create_task" }
func (t *CreateTaskTool) Description() string {
	return "Propose creating a new task in a project. The task is not created until a human approves the preview."
}
func (t *CreateTaskTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *CreateTaskTool) EntityType() string       { return EntityTask }
func (t *CreateTaskTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "description": "Project the task belongs to"},
			"title": {"type": "string"},
			"description": {"type": "string"},
			"priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
			"assignee_id": {"type": "string"},
			"due_date": {"type": "string", "format": "date-time"}
		},
		"required": ["project_id", "title"]
	}`)
}

func (t *CreateTaskTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		ProjectID   string `json:"project_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
		AssigneeID  string `json:"assignee_id"`
		DueDate     string `json:"due_date"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	// The referenced project must exist for the preview to be meaningful.
	if _, err := env.Store.GetProject(ctx, env.OrgID, in.ProjectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", in.ProjectID, err)
	}

	newState := map[string]any{
		"project_id":  in.ProjectID,
		"title":       in.Title,
		"status":      string(models.TaskTodo),
		"description": nilIfEmpty(in.Description),
		"priority":    nilIfEmpty(in.Priority),
		"assignee_id": nilIfEmpty(in.AssigneeID),
		"due_date":    nilIfEmpty(in.DueDate),
	}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		NewState:    newState,
		Diff:        createDiff(newState),
		Description: fmt.Sprintf("Create task %q in project %s", in.Title, in.ProjectID),
	}, nil
}

// UpdateTaskTool proposes editing a task's fields.
type UpdateTaskTool struct{}

func (t *UpdateTaskTool) Name() string { return "update_task" }
func (t *UpdateTaskTool) Description() string {
	return "Propose updating a task's title, description, priority, assignee, or due date. Only supplied fields change."
}
func (t *UpdateTaskTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *UpdateTaskTool) EntityType() string       { return EntityTask }
func (t *UpdateTaskTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},
			"title": {"type": "string"},
			"description": {"type": "string"},
			"priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
			"assignee_id": {"type": "string"},
			"due_date": {"type": "string", "format": "date-time"}
		},
		"required": ["task_id"]
	}`)
}

func (t *UpdateTaskTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		TaskID      string  `json:"task_id"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Priority    *string `json:"priority"`
		AssigneeID  *string `json:"assignee_id"`
		DueDate     *string `json:"due_date"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	task, err := env.Store.GetTask(ctx, env.OrgID, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", in.TaskID, err)
	}

	oldState := taskState(task)
	newState := map[string]any{}
	applyField(newState, "title", in.Title)
	applyField(newState, "description", in.Description)
	applyField(newState, "priority", in.Priority)
	applyField(newState, "assignee_id", in.AssigneeID)
	applyField(newState, "due_date", in.DueDate)

	diff := updateDiff(oldState, newState)
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		EntityID:    task.ID,
		OldState:    oldState,
		NewState:    newState,
		Diff:        diff,
		Description: fmt.Sprintf("Update task %q (%s)", task.Title, fieldList(diff)),
	}, nil
}

// TransitionTaskTool proposes moving a task to a new workflow status.
type TransitionTaskTool struct{}

func (t *TransitionTaskTool) Name() string { return "transition_task" }
func (t *TransitionTaskTool) Description() string {
	return "Propose moving a task to a new status (todo, in_progress, blocked, in_review, done, cancelled)."
}
func (t *TransitionTaskTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *TransitionTaskTool) EntityType() string       { return EntityTask }
func (t *TransitionTaskTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},
			"status": {"type": "string", "enum": ["todo", "in_progress", "blocked", "in_review", "done", "cancelled"]}
		},
		"required": ["task_id", "status"]
	}`)
}

func (t *TransitionTaskTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !models.ValidTaskStatus(models.TaskStatus(in.Status)) {
		return nil, fmt.Errorf("invalid status: %s", in.Status)
	}
	task, err := env.Store.GetTask(ctx, env.OrgID, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", in.TaskID, err)
	}

	oldState := taskState(task)
	newState := map[string]any{"status": in.Status}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		EntityID:    task.ID,
		OldState:    oldState,
		NewState:    newState,
		Diff:        updateDiff(oldState, newState),
		Description: fmt.Sprintf("Move task %q from %s to %s", task.Title, task.Status, in.Status),
	}, nil
}

// CreateProjectTool proposes creating a project.
type CreateProjectTool struct{}

func (t *CreateProjectTool) Name() string { return "create_project" }
func (t *CreateProjectTool) Description() string {
	return "Propose creating a new project in the workspace."
}
func (t *CreateProjectTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *CreateProjectTool) EntityType() string       { return EntityProject }
func (t *CreateProjectTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"lead_id": {"type": "string"}
		},
		"required": ["name"]
	}`)
}

func (t *CreateProjectTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		LeadID      string `json:"lead_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	newState := map[string]any{
		"name":        in.Name,
		"status":      string(models.ProjectActive),
		"description": nilIfEmpty(in.Description),
		"lead_id":     nilIfEmpty(in.LeadID),
	}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		NewState:    newState,
		Diff:        createDiff(newState),
		Description: fmt.Sprintf("Create project %q", in.Name),
	}, nil
}

// UpdateProjectTool proposes editing a project's fields.
type UpdateProjectTool struct{}

func (t *UpdateProjectTool) Name() string { return "update_project" }
func (t *UpdateProjectTool) Description() string {
	return "Propose updating a project's name, description, status, or lead. Only supplied fields change."
}
func (t *UpdateProjectTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *UpdateProjectTool) EntityType() string       { return EntityProject }
func (t *UpdateProjectTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"},
			"name": {"type": "string"},
			"description": {"type": "string"},
			"status": {"type": "string", "enum": ["active", "on_hold", "completed", "archived"]},
			"lead_id": {"type": "string"}
		},
		"required": ["project_id"]
	}`)
}

func (t *UpdateProjectTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		ProjectID   string  `json:"project_id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
		LeadID      *string `json:"lead_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	project, err := env.Store.GetProject(ctx, env.OrgID, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", in.ProjectID, err)
	}

	oldState := projectState(project)
	newState := map[string]any{}
	applyField(newState, "name", in.Name)
	applyField(newState, "description", in.Description)
	applyField(newState, "status", in.Status)
	applyField(newState, "lead_id", in.LeadID)

	diff := updateDiff(oldState, newState)
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		EntityID:    project.ID,
		OldState:    oldState,
		NewState:    newState,
		Diff:        diff,
		Description: fmt.Sprintf("Update project %q (%s)", project.Name, fieldList(diff)),
	}, nil
}

// CreateDocumentTool proposes creating a document.
type CreateDocumentTool struct{}

func (t *CreateDocumentTool) Name() string { return "create_document" }
func (t *CreateDocumentTool) Description() string {
	return "Propose creating a new document, optionally scoped to a project."
}
func (t *CreateDocumentTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *CreateDocumentTool) EntityType() string       { return EntityDocument }
func (t *CreateDocumentTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"body": {"type": "string"},
			"category": {"type": "string"},
			"project_id": {"type": "string"}
		},
		"required": ["title", "body"]
	}`)
}

func (t *CreateDocumentTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		Title     string `json:"title"`
		Body      string `json:"body"`
		Category  string `json:"category"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if in.ProjectID != "" {
		if _, err := env.Store.GetProject(ctx, env.OrgID, in.ProjectID); err != nil {
			return nil, fmt.Errorf("project %s: %w", in.ProjectID, err)
		}
	}

	newState := map[string]any{
		"project_id": nilIfEmpty(in.ProjectID),
		"title":      in.Title,
		"body":       in.Body,
		"category":   nilIfEmpty(in.Category),
	}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		NewState:    newState,
		Diff:        createDiff(newState),
		Description: fmt.Sprintf("Create document %q", in.Title),
	}, nil
}

// UpdateDocumentTool proposes editing a document. Body changes are
// summarized as a line-level patch in the preview description.
type UpdateDocumentTool struct{}

func (t *UpdateDocumentTool) Name() string { return "update_document" }
func (t *UpdateDocumentTool) Description() string {
	return "Propose updating a document's title, body, or category. Only supplied fields change."
}
func (t *UpdateDocumentTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *UpdateDocumentTool) EntityType() string       { return EntityDocument }
func (t *UpdateDocumentTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"document_id": {"type": "string"},
			"title": {"type": "string"},
			"body": {"type": "string"},
			"category": {"type": "string"}
		},
		"required": ["document_id"]
	}`)
}

func (t *UpdateDocumentTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		DocumentID string  `json:"document_id"`
		Title      *string `json:"title"`
		Body       *string `json:"body"`
		Category   *string `json:"category"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	doc, err := env.Store.GetDocument(ctx, env.OrgID, in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", in.DocumentID, err)
	}

	oldState := map[string]any{
		"title":    doc.Title,
		"body":     doc.Body,
		"category": doc.Category,
	}
	newState := map[string]any{}
	applyField(newState, "title", in.Title)
	applyField(newState, "body", in.Body)
	applyField(newState, "category", in.Category)

	diff := updateDiff(oldState, newState)
	description := fmt.Sprintf("Update document %q (%s)", doc.Title, fieldList(diff))
	if in.Body != nil && *in.Body != doc.Body {
		description += "\n" + bodyPatch(doc.Body, *in.Body)
	}

	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		EntityID:    doc.ID,
		OldState:    oldState,
		NewState:    newState,
		Diff:        diff,
		Description: description,
	}, nil
}

// bodyPatch renders a compact textual patch of a body edit for the approval
// UI.
func bodyPatch(oldBody, newBody string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(oldBody, newBody)
	text := dmp.PatchToText(patches)
	const max = 2000
	if len(text) > max {
		text = text[:max] + "\n(truncated)"
	}
	return text
}

// ReportBlockerTool proposes recording a blocker against a task.
type ReportBlockerTool struct{}

func (t *ReportBlockerTool) Name() string { return "report_blocker" }
func (t *ReportBlockerTool) Description() string {
	return "Propose reporting a new blocker on a task. The task is also proposed to move to blocked status."
}
func (t *ReportBlockerTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *ReportBlockerTool) EntityType() string       { return EntityBlocker }
func (t *ReportBlockerTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},
			"description": {"type": "string", "description": "What is blocking progress"}
		},
		"required": ["task_id", "description"]
	}`)
}

func (t *ReportBlockerTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		TaskID      string `json:"task_id"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Description == "" {
		return nil, fmt.Errorf("description is required")
	}
	task, err := env.Store.GetTask(ctx, env.OrgID, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", in.TaskID, err)
	}

	newState := map[string]any{
		"task_id":     in.TaskID,
		"description": in.Description,
		"status":      string(models.BlockerOpen),
	}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		NewState:    newState,
		Diff:        createDiff(newState),
		Description: fmt.Sprintf("Report blocker on task %q: %s", task.Title, in.Description),
	}, nil
}

// ResolveBlockerTool proposes resolving an open blocker.
type ResolveBlockerTool struct{}

func (t *ResolveBlockerTool) Name() string { return "resolve_blocker" }
func (t *ResolveBlockerTool) Description() string {
	return "Propose resolving an open blocker with a resolution note."
}
func (t *ResolveBlockerTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *ResolveBlockerTool) EntityType() string       { return EntityBlocker }
func (t *ResolveBlockerTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"blocker_id": {"type": "string"},
			"resolution": {"type": "string", "description": "How the blocker was resolved"}
		},
		"required": ["blocker_id", "resolution"]
	}`)
}

func (t *ResolveBlockerTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		BlockerID  string `json:"blocker_id"`
		Resolution string `json:"resolution"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	blocker, err := env.Store.GetBlocker(ctx, env.OrgID, in.BlockerID)
	if err != nil {
		return nil, fmt.Errorf("blocker %s: %w", in.BlockerID, err)
	}

	oldState := map[string]any{
		"description": blocker.Description,
		"status":      string(blocker.Status),
		"resolution":  blocker.Resolution,
	}
	newState := map[string]any{
		"status":     string(models.BlockerResolved),
		"resolution": in.Resolution,
	}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		EntityID:    blocker.ID,
		OldState:    oldState,
		NewState:    newState,
		Diff:        updateDiff(oldState, newState),
		Description: fmt.Sprintf("Resolve blocker %s: %s", blocker.ID, in.Resolution),
	}, nil
}

// ---- shared helpers ----

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// applyField records a requested change only when the field was supplied.
func applyField(state map[string]any, key string, value *string) {
	if value != nil {
		state[key] = *value
	}
}

func fieldList(diff []models.DiffEntry) string {
	if len(diff) == 0 {
		return "no changes"
	}
	fields := make([]string, len(diff))
	for i, d := range diff {
		fields[i] = d.Field
	}
	return strings.Join(fields, ", ")
}

func taskState(task *models.Task) map[string]any {
	state := map[string]any{
		"project_id":  task.ProjectID,
		"title":       task.Title,
		"status":      string(task.Status),
		"description": nilIfEmpty(task.Description),
		"priority":    nilIfEmpty(task.Priority),
		"assignee_id": nilIfEmpty(task.AssigneeID),
	}
	if task.DueDate != nil {
		state["due_date"] = task.DueDate.Format(time.RFC3339)
	} else {
		state["due_date"] = nil
	}
	return state
}

func projectState(p *models.Project) map[string]any {
	return map[string]any{
		"name":        p.Name,
		"status":      string(p.Status),
		"description": nilIfEmpty(p.Description),
		"lead_id":     nilIfEmpty(p.LeadID),
	}
}
