package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

func jsonResult(v any) (*assistant.ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &assistant.ToolResult{Content: string(data)}, nil
}

func errResult(format string, args ...any) (*assistant.ToolResult, error) {
	return &assistant.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}

func emptyResult(message string) (*assistant.ToolResult, error) {
	return &assistant.ToolResult{Content: message, Empty: true}, nil
}

// GetProjectTool looks up one project by id.
type GetProjectTool struct{}

func (t *GetProjectTool) Name() string { return "get_project" }
func (t *GetProjectTool) Description() string {
	return "Get a single project by its id, including status, lead, and description."
}
func (t *GetProjectTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *GetProjectTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "description": "Project id to fetch"}
		},
		"required": ["project_id"]
	}`)
}

func (t *GetProjectTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	p, err := env.Store.GetProject(ctx, env.OrgID, in.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return errResult("project not found: %s", in.ProjectID)
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(p)
}

// ListProjectsTool lists the organization's projects.
type ListProjectsTool struct{}

func (t *ListProjectsTool) Name() string { return "list_projects" }
func (t *ListProjectsTool) Description() string {
	return "List all projects in the workspace, optionally filtered by status (active, on_hold, completed, archived)."
}
func (t *ListProjectsTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *ListProjectsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["active", "on_hold", "completed", "archived"]}
		}
	}`)
}

func (t *ListProjectsTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Status string `json:"status"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid input: %v", err)
		}
	}
	projects, err := env.Store.ListProjects(ctx, env.OrgID)
	if err != nil {
		return nil, err
	}
	if in.Status != "" {
		filtered := projects[:0]
		for _, p := range projects {
			if string(p.Status) == in.Status {
				filtered = append(filtered, p)
			}
		}
		projects = filtered
	}
	if len(projects) == 0 {
		return emptyResult("No projects found.")
	}
	return jsonResult(projects)
}

// GetTaskTool looks up one task by id.
type GetTaskTool struct{}

func (t *GetTaskTool) Name() string { return "get_task" }
func (t *GetTaskTool) Description() string {
	return "Get a single task by its id, including status, assignee, priority, and due date."
}
func (t *GetTaskTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *GetTaskTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string", "description": "Task id to fetch"}
		},
		"required": ["task_id"]
	}`)
}

func (t *GetTaskTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	task, err := env.Store.GetTask(ctx, env.OrgID, in.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		return errResult("task not found: %s", in.TaskID)
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(task)
}

// ListTasksTool lists tasks with optional filters.
type ListTasksTool struct{}

func (t *ListTasksTool) Name() string { return "list_tasks" }
func (t *ListTasksTool) Description() string {
	return "List tasks, optionally filtered by project, status, or assignee. Use this to find a task id before updating it."
}
func (t *ListTasksTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *ListTasksTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"},
			"status": {"type": "string", "enum": ["todo", "in_progress", "blocked", "in_review", "done", "cancelled"]},
			"assignee_id": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		}
	}`)
}

func (t *ListTasksTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		ProjectID  string `json:"project_id"`
		Status     string `json:"status"`
		AssigneeID string `json:"assignee_id"`
		Limit      int    `json:"limit"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid input: %v", err)
		}
	}
	if in.Status != "" && !models.ValidTaskStatus(models.TaskStatus(in.Status)) {
		return errResult("invalid status: %s", in.Status)
	}
	tasks, err := env.Store.ListTasks(ctx, env.OrgID, store.TaskFilter{
		ProjectID:  in.ProjectID,
		Status:     models.TaskStatus(in.Status),
		AssigneeID: in.AssigneeID,
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return emptyResult("No tasks matched the filter.")
	}
	return jsonResult(tasks)
}

// GetDocumentTool looks up one document by id.
type GetDocumentTool struct{}

func (t *GetDocumentTool) Name() string { return "get_document" }
func (t *GetDocumentTool) Description() string {
	return "Get a single document by its id, including its full body."
}
func (t *GetDocumentTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *GetDocumentTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"document_id": {"type": "string", "description": "Document id to fetch"}
		},
		"required": ["document_id"]
	}`)
}

func (t *GetDocumentTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	doc, err := env.Store.GetDocument(ctx, env.OrgID, in.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return errResult("document not found: %s", in.DocumentID)
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(doc)
}

// SearchDocumentsTool searches document titles and bodies.
type SearchDocumentsTool struct{}

func (t *SearchDocumentsTool) Name() string { return "search_documents" }
func (t *SearchDocumentsTool) Description() string {
	return "Search documents by a text query against titles and bodies. Returns matching documents with their ids."
}
func (t *SearchDocumentsTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *SearchDocumentsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Text to search for"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		},
		"required": ["query"]
	}`)
}

func (t *SearchDocumentsTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return errResult("query is required")
	}
	docs, err := env.Store.SearchDocuments(ctx, env.OrgID, in.Query, in.Limit)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		if env.Exec != nil {
			env.Exec.RecordDeadEnd(t.Name(), in.Query, titleHints(ctx, env, in.Query))
		}
		return emptyResult(fmt.Sprintf("No documents matched %q.", in.Query))
	}
	return jsonResult(docs)
}

// titleHints suggests near-miss document titles for a failed search: any
// title sharing a word with the query, capped at three.
func titleHints(ctx context.Context, env assistant.ToolEnv, query string) []string {
	docs, err := env.Store.ListDocuments(ctx, env.OrgID, "")
	if err != nil {
		return nil
	}
	words := strings.Fields(strings.ToLower(query))
	var hints []string
	for _, d := range docs {
		title := strings.ToLower(d.Title)
		for _, w := range words {
			if len(w) >= 3 && strings.Contains(title, w) {
				hints = append(hints, d.Title)
				break
			}
		}
		if len(hints) == 3 {
			break
		}
	}
	return hints
}

// ListBlockersTool lists blockers, optionally by status.
type ListBlockersTool struct{}

func (t *ListBlockersTool) Name() string { return "list_blockers" }
func (t *ListBlockersTool) Description() string {
	return "List blockers across the workspace, optionally filtered by status (open, resolved)."
}
func (t *ListBlockersTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *ListBlockersTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["open", "resolved"]}
		}
	}`)
}

func (t *ListBlockersTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Status string `json:"status"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid input: %v", err)
		}
	}
	blockers, err := env.Store.ListBlockers(ctx, env.OrgID, models.BlockerStatus(in.Status))
	if err != nil {
		return nil, err
	}
	if len(blockers) == 0 {
		return emptyResult("No blockers found.")
	}
	return jsonResult(blockers)
}
