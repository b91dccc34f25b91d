package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of assistant event.
type EventType string

const (
	EventThinking      EventType = "thinking"
	EventTextDelta     EventType = "text_delta"
	EventText          EventType = "text"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventActionPreview EventType = "action_preview"
	EventError         EventType = "error"
	EventDone          EventType = "done"
)

// AssistantEvent is the unified streaming event model consumed by clients.
// Exactly one payload field is non-empty for a given Type; events are
// framed one per line when serialized.
type AssistantEvent struct {
	Type EventType `json:"type"`

	// Content carries the payload for thinking, text_delta, and text events.
	Content string `json:"content,omitempty"`

	ToolCall      *ToolCallPayload      `json:"tool_call,omitempty"`
	ToolResult    *ToolResult           `json:"tool_result,omitempty"`
	ActionPreview *ActionPreviewPayload `json:"action_preview,omitempty"`
	Error         *ErrorPayload         `json:"error,omitempty"`
	Done          *DonePayload          `json:"done,omitempty"`
}

// ToolCallPayload announces that the model requested a tool.
type ToolCallPayload struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// ActionPreviewPayload carries the full proposed-mutation preview,
// including the persisted action id and its approval deadline.
type ActionPreviewPayload struct {
	ActionID    string         `json:"action_id"`
	ToolName    string         `json:"tool_name"`
	Description string         `json:"description"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id,omitempty"`
	OldState    map[string]any `json:"old_state,omitempty"`
	NewState    map[string]any `json:"new_state"`
	Diff        []DiffEntry    `json:"diff"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ErrorPayload standardizes error events for clients.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DonePayload terminates every turn's event stream.
type DonePayload struct {
	ConversationID string `json:"conversation_id"`
}

// NewThinkingEvent returns a thinking event.
func NewThinkingEvent(content string) AssistantEvent {
	return AssistantEvent{Type: EventThinking, Content: content}
}

// NewTextDeltaEvent returns an incremental text event.
func NewTextDeltaEvent(content string) AssistantEvent {
	return AssistantEvent{Type: EventTextDelta, Content: content}
}

// NewTextEvent returns a complete-text fallback event.
func NewTextEvent(content string) AssistantEvent {
	return AssistantEvent{Type: EventText, Content: content}
}

// NewToolCallEvent announces a collected tool call.
func NewToolCallEvent(tool string, input json.RawMessage) AssistantEvent {
	return AssistantEvent{Type: EventToolCall, ToolCall: &ToolCallPayload{Tool: tool, Input: input}}
}

// NewToolResultEvent forwards a raw tool result.
func NewToolResultEvent(result ToolResult) AssistantEvent {
	return AssistantEvent{Type: EventToolResult, ToolResult: &result}
}

// NewActionPreviewEvent forwards a persisted pending action to the client.
func NewActionPreviewEvent(action *PendingAction) AssistantEvent {
	return AssistantEvent{
		Type: EventActionPreview,
		ActionPreview: &ActionPreviewPayload{
			ActionID:    action.ID,
			ToolName:    action.ToolName,
			Description: action.Description,
			EntityType:  action.EntityType,
			EntityID:    action.EntityID,
			OldState:    action.OldState,
			NewState:    action.NewState,
			Diff:        action.Diff,
			ExpiresAt:   action.ExpiresAt,
		},
	}
}

// NewErrorEvent returns an error event.
func NewErrorEvent(message string) AssistantEvent {
	return AssistantEvent{Type: EventError, Error: &ErrorPayload{Message: message}}
}

// NewDoneEvent returns the terminal event for a turn.
func NewDoneEvent(conversationID string) AssistantEvent {
	return AssistantEvent{Type: EventDone, Done: &DonePayload{ConversationID: conversationID}}
}
