package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

// ListJournalTool lists recent journal entries.
type ListJournalTool struct{}

func (t *ListJournalTool) Name() string { return "list_journal_entries" }
func (t *ListJournalTool) Description() string {
	return "List recent journal entries (daily logs, standup notes), optionally filtered by project, author, or lookback window in days."
}
func (t *ListJournalTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *ListJournalTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"},
			"author_id": {"type": "string"},
			"days": {"type": "integer", "minimum": 1, "maximum": 90},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		}
	}`)
}

func (t *ListJournalTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		AuthorID  string `json:"author_id"`
		Days      int    `json:"days"`
		Limit     int    `json:"limit"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid input: %v", err)
		}
	}
	filter := store.JournalFilter{
		ProjectID: in.ProjectID,
		AuthorID:  in.AuthorID,
		Limit:     in.Limit,
	}
	if in.Days > 0 {
		filter.Since = env.Clock().AddDate(0, 0, -in.Days)
	}
	entries, err := env.Store.ListJournalEntries(ctx, env.OrgID, filter)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return emptyResult("No journal entries found.")
	}
	return jsonResult(entries)
}

// AddJournalEntryTool proposes appending a journal entry.
type AddJournalEntryTool struct{}

func (t *AddJournalEntryTool) Name() string { return "add_journal_entry" }
func (t *AddJournalEntryTool) Description() string {
	return "Propose adding a journal entry (daily log or standup note), optionally scoped to a project and tagged."
}
func (t *AddJournalEntryTool) Kind() assistant.ToolKind { return assistant.KindAction }
func (t *AddJournalEntryTool) EntityType() string       { return EntityJournalEntry }
func (t *AddJournalEntryTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string"},
			"project_id": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["content"]
	}`)
}

func (t *AddJournalEntryTool) CreatePreview(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*models.ActionPreview, error) {
	var in struct {
		Content   string   `json:"content"`
		ProjectID string   `json:"project_id"`
		Tags      []string `json:"tags"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	if in.ProjectID != "" {
		if _, err := env.Store.GetProject(ctx, env.OrgID, in.ProjectID); err != nil {
			return nil, fmt.Errorf("project %s: %w", in.ProjectID, err)
		}
	}

	newState := map[string]any{
		"project_id": nilIfEmpty(in.ProjectID),
		"author_id":  env.UserID,
		"content":    in.Content,
	}
	if len(in.Tags) > 0 {
		newState["tags"] = in.Tags
	}
	return &models.ActionPreview{
		ToolName:    t.Name(),
		ToolInput:   input,
		EntityType:  t.EntityType(),
		NewState:    newState,
		Diff:        createDiff(newState),
		Description: fmt.Sprintf("Add journal entry (%d chars) on %s", len(in.Content), env.Clock().Format(time.DateOnly)),
	}, nil
}
