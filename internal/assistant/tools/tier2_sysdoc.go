package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arbor-hq/arbor/internal/assistant"
)

// systemDocCategory tags documents that describe how the workspace itself
// works.
const systemDocCategory = "system"

// SystemDocsTool answers "how do I" questions from the workspace's own
// documentation.
type SystemDocsTool struct{}

func (t *SystemDocsTool) Name() string { return "get_system_docs" }
func (t *SystemDocsTool) Description() string {
	return "Look up workspace documentation about how features work. Use for questions about the system itself rather than project content."
}
func (t *SystemDocsTool) Kind() assistant.ToolKind { return assistant.KindQuery }
func (t *SystemDocsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"topic": {"type": "string", "description": "The feature or topic to look up"}
		},
		"required": ["topic"]
	}`)
}

func (t *SystemDocsTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	if strings.TrimSpace(in.Topic) == "" {
		return errResult("topic is required")
	}

	docs, err := env.Store.SearchDocuments(ctx, env.OrgID, in.Topic, 10)
	if err != nil {
		return nil, err
	}
	// Prefer system docs; fall back to anything that matched.
	var system, other []any
	for _, d := range docs {
		if d.Category == systemDocCategory {
			system = append(system, d)
		} else {
			other = append(other, d)
		}
	}
	if len(system) > 0 {
		return jsonResult(system)
	}
	if len(other) > 0 {
		return jsonResult(other)
	}

	if env.Exec != nil {
		env.Exec.RecordDeadEnd(t.Name(), in.Topic, nil)
	}
	return emptyResult(fmt.Sprintf("No documentation found for %q.", in.Topic))
}
