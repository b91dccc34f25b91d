package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/arbor-hq/arbor/internal/assistant"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

// TeamWorkloadTool summarizes open work per assignee.
type TeamWorkloadTool struct{}

func (t *TeamWorkloadTool) Name() string { return "team_workload" }
func (t *TeamWorkloadTool) Description() string {
	return "Summarize team workload: open task counts per assignee, broken down by status. Optionally scoped to one project."
}
func (t *TeamWorkloadTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *TeamWorkloadTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"}
		}
	}`)
}

func (t *TeamWorkloadTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid input: %v", err)
		}
	}
	tasks, err := env.Store.ListTasks(ctx, env.OrgID, store.TaskFilter{ProjectID: in.ProjectID})
	if err != nil {
		return nil, err
	}

	type load struct {
		AssigneeID string         `json:"assignee_id"`
		Open       int            `json:"open"`
		ByStatus   map[string]int `json:"by_status"`
	}
	byAssignee := make(map[string]*load)
	for _, task := range tasks {
		if task.Status == models.TaskDone || task.Status == models.TaskCancelled {
			continue
		}
		key := task.AssigneeID
		if key == "" {
			key = "unassigned"
		}
		l, ok := byAssignee[key]
		if !ok {
			l = &load{AssigneeID: key, ByStatus: make(map[string]int)}
			byAssignee[key] = l
		}
		l.Open++
		l.ByStatus[string(task.Status)]++
	}

	if len(byAssignee) == 0 {
		return emptyResult("No open tasks to summarize.")
	}
	loads := make([]*load, 0, len(byAssignee))
	for _, l := range byAssignee {
		loads = append(loads, l)
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].Open > loads[j].Open })
	return jsonResult(loads)
}

// MemberActivityTool lists one member's recent assigned tasks and journal
// entries.
type MemberActivityTool struct{}

func (t *MemberActivityTool) Name() string { return "member_activity" }
func (t *MemberActivityTool) Description() string {
	return "Show what a specific team member is working on: their assigned tasks and recent journal entries."
}
func (t *MemberActivityTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *MemberActivityTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"member_id": {"type": "string", "description": "The team member's user id"}
		},
		"required": ["member_id"]
	}`)
}

func (t *MemberActivityTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		MemberID string `json:"member_id"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	if in.MemberID == "" {
		return errResult("member_id is required")
	}

	tasks, err := env.Store.ListTasks(ctx, env.OrgID, store.TaskFilter{AssigneeID: in.MemberID})
	if err != nil {
		return nil, err
	}
	entries, err := env.Store.ListJournalEntries(ctx, env.OrgID, store.JournalFilter{AuthorID: in.MemberID, Limit: 10})
	if err != nil {
		return nil, err
	}

	if len(tasks) == 0 && len(entries) == 0 {
		return emptyResult("No activity found for member " + in.MemberID + ".")
	}
	return jsonResult(map[string]any{
		"assigned_tasks":  tasks,
		"journal_entries": entries,
	})
}
