package tools

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

// dynamicQuerySchema is both the model-facing input schema and the
// server-side validation contract for the dynamic query tool.
const dynamicQuerySchema = `{
	"type": "object",
	"properties": {
		"entity": {
			"type": "string",
			"enum": ["project", "task", "document", "blocker", "journal_entry"]
		},
		"filters": {
			"type": "object",
			"properties": {
				"project_id": {"type": "string"},
				"status": {"type": "string"},
				"assignee_id": {"type": "string"},
				"author_id": {"type": "string"},
				"text": {"type": "string"}
			},
			"additionalProperties": false
		},
		"limit": {"type": "integer", "minimum": 1, "maximum": 100}
	},
	"required": ["entity"],
	"additionalProperties": false
}`

// DynamicQueryTool is a single schema-driven query covering every entity
// type. Arguments are validated against the schema before dispatch, so a
// malformed filter is rejected as a tool-local error rather than reaching
// the store.
type DynamicQueryTool struct {
	schema *jsonschema.Schema
}

// NewDynamicQueryTool compiles the query schema. Compilation of the static
// schema cannot fail.
func NewDynamicQueryTool() *DynamicQueryTool {
	return &DynamicQueryTool{
		schema: jsonschema.MustCompileString("dynamic_query.json", dynamicQuerySchema),
	}
}

func (t *DynamicQueryTool) Name() string { return "dynamic_query" }
func (t *DynamicQueryTool) Description() string {
	return "Run a structured query against any entity type (project, task, document, blocker, journal_entry) with field filters. Use for advanced or custom queries the specific tools cannot express."
}
func (t *DynamicQueryTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *DynamicQueryTool) InputSchema() json.RawMessage {
	return json.RawMessage(dynamicQuerySchema)
}

func (t *DynamicQueryTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var raw any
	if err := json.Unmarshal(input, &raw); err != nil {
		return errResult("invalid input: %v", err)
	}
	if err := t.schema.Validate(raw); err != nil {
		return errResult("query does not match schema: %v", err)
	}

	var in struct {
		Entity  string `json:"entity"`
		Filters struct {
			ProjectID  string `json:"project_id"`
			Status     string `json:"status"`
			AssigneeID string `json:"assignee_id"`
			AuthorID   string `json:"author_id"`
			Text       string `json:"text"`
		} `json:"filters"`
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}

	switch in.Entity {
	case EntityProject:
		projects, err := env.Store.ListProjects(ctx, env.OrgID)
		if err != nil {
			return nil, err
		}
		if in.Filters.Status != "" {
			filtered := projects[:0]
			for _, p := range projects {
				if string(p.Status) == in.Filters.Status {
					filtered = append(filtered, p)
				}
			}
			projects = filtered
		}
		if len(projects) == 0 {
			return emptyResult("No projects matched.")
		}
		return jsonResult(projects)

	case EntityTask:
		tasks, err := env.Store.ListTasks(ctx, env.OrgID, store.TaskFilter{
			ProjectID:  in.Filters.ProjectID,
			Status:     models.TaskStatus(in.Filters.Status),
			AssigneeID: in.Filters.AssigneeID,
			Limit:      in.Limit,
		})
		if err != nil {
			return nil, err
		}
		if len(tasks) == 0 {
			return emptyResult("No tasks matched.")
		}
		return jsonResult(tasks)

	case EntityDocument:
		if in.Filters.Text != "" {
			docs, err := env.Store.SearchDocuments(ctx, env.OrgID, in.Filters.Text, in.Limit)
			if err != nil {
				return nil, err
			}
			if len(docs) == 0 {
				return emptyResult("No documents matched.")
			}
			return jsonResult(docs)
		}
		docs, err := env.Store.ListDocuments(ctx, env.OrgID, in.Filters.ProjectID)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return emptyResult("No documents matched.")
		}
		return jsonResult(docs)

	case EntityBlocker:
		blockers, err := env.Store.ListBlockers(ctx, env.OrgID, models.BlockerStatus(in.Filters.Status))
		if err != nil {
			return nil, err
		}
		if len(blockers) == 0 {
			return emptyResult("No blockers matched.")
		}
		return jsonResult(blockers)

	case EntityJournalEntry:
		entries, err := env.Store.ListJournalEntries(ctx, env.OrgID, store.JournalFilter{
			ProjectID: in.Filters.ProjectID,
			AuthorID:  in.Filters.AuthorID,
			Limit:     in.Limit,
		})
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return emptyResult("No journal entries matched.")
		}
		return jsonResult(entries)
	}

	return errResult("unsupported entity: %s", in.Entity)
}
