package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arbor-hq/arbor/internal/assistant"
)

// ThinkTool gives the model a scratchpad. It charges no budget pool and is
// enriched with the session's call history and detected dead ends.
type ThinkTool struct{}

func (t *ThinkTool) Name() string { return "think" }
func (t *ThinkTool) Description() string {
	return "Think through a problem step by step before acting. Use when a request is ambiguous or lookups came back empty. Does not consume any budget."
}
func (t *ThinkTool) Kind() assistant.ToolKind { return assistant.KindExempt }
func (t *ThinkTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "Your reasoning so far"}
		},
		"required": ["thought"]
	}`)
}

func (t *ThinkTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}

	content := "Thought recorded."
	if env.Exec != nil {
		content += "\n\nSession context:\n" + env.Exec.Summary()
	}
	return &assistant.ToolResult{Content: content}, nil
}

// AskUserTool pauses the turn on a clarifying question. Recording the call
// sets the session's awaiting flag; tool calls later in the same batch are
// not executed.
type AskUserTool struct{}

func (t *AskUserTool) Name() string { return "ask_user" }
func (t *AskUserTool) Description() string {
	return "Ask the user a clarifying question when the request is ambiguous. The turn pauses until they reply."
}
func (t *AskUserTool) Kind() assistant.ToolKind { return assistant.KindMeta }
func (t *AskUserTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to put to the user"}
		},
		"required": ["question"]
	}`)
}

func (t *AskUserTool) Execute(ctx context.Context, env assistant.ToolEnv, input json.RawMessage) (*assistant.ToolResult, error) {
	var in struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return errResult("invalid input: %v", err)
	}
	if in.Question == "" {
		return errResult("question is required")
	}
	return &assistant.ToolResult{
		Content: fmt.Sprintf("Question posed to user: %q. Waiting for their reply before continuing.", in.Question),
	}, nil
}
