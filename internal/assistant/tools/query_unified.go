package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

// UnifiedQueryTool is the consolidated lookup used by the unified assembly
// strategy: one tool, an entity discriminator, and a free-form filter
// string instead of per-operation tools.
type UnifiedQueryTool struct{}

func (t *UnifiedQueryTool) Name() string { return "query_workspace" }
func (t *UnifiedQueryTool) Description() string {
	return "Look up projects, tasks, or blockers. Pass the entity type and an optional free-form filter such as a status, an assignee id, or a name fragment."
}
func (t *UnifiedQueryTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *UnifiedQueryTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"entity": {"type": "string", "enum": ["project", "task", "blocker"]},
			"filter": {"type": "string", "description": "Free-form filter: a status value, an id, or a name fragment"}
		},
		"required": ["entity"]
	}`)
}

func (t *UnifiedQueryTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Entity string `json:"entity"`
		Filter string `json:"filter"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	filter := strings.ToLower(strings.TrimSpace(in.Filter))

	switch in.Entity {
	case EntityProject:
		projects, err := env.Store.ListProjects(ctx, env.OrgID)
		if err != nil {
			return nil, err
		}
		var out []*models.Project
		for _, p := range projects {
			if filter == "" || string(p.Status) == filter ||
				strings.Contains(strings.ToLower(p.Name), filter) || p.ID == in.Filter {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return emptyResult("No projects matched.")
		}
		return jsonResult(out)

	case EntityTask:
		taskFilter := store.TaskFilter{}
		if models.ValidTaskStatus(models.TaskStatus(filter)) {
			taskFilter.Status = models.TaskStatus(filter)
		}
		tasks, err := env.Store.ListTasks(ctx, env.OrgID, taskFilter)
		if err != nil {
			return nil, err
		}
		if filter != "" && taskFilter.Status == "" {
			var out []*models.Task
			for _, task := range tasks {
				if strings.Contains(strings.ToLower(task.Title), filter) ||
					task.ID == in.Filter || task.AssigneeID == in.Filter || task.ProjectID == in.Filter {
					out = append(out, task)
				}
			}
			tasks = out
		}
		if len(tasks) == 0 {
			return emptyResult("No tasks matched.")
		}
		return jsonResult(tasks)

	case EntityBlocker:
		status := models.BlockerStatus("")
		if filter == string(models.BlockerOpen) || filter == string(models.BlockerResolved) {
			status = models.BlockerStatus(filter)
		}
		blockers, err := env.Store.ListBlockers(ctx, env.OrgID, status)
		if err != nil {
			return nil, err
		}
		if len(blockers) == 0 {
			return emptyResult("No blockers matched.")
		}
		return jsonResult(blockers)
	}

	return errResult("unsupported entity: %s", in.Entity)
}
