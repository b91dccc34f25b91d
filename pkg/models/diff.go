package models

import "encoding/json"

// ChangeType classifies a single field-level change within a diff.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// DiffEntry describes one field-level change in a proposed mutation.
// It is purely descriptive and never mutates state itself.
type DiffEntry struct {
	Field      string     `json:"field"`
	OldValue   any        `json:"old_value"`
	NewValue   any        `json:"new_value"`
	ChangeType ChangeType `json:"change_type"`
}

// ActionPreview describes a mutation an action tool proposes but does
// not perform. It is created fresh per tool invocation and must be
// treated as immutable once returned.
type ActionPreview struct {
	// ToolName is the action tool that produced this preview.
	ToolName string `json:"tool_name"`

	// ToolInput is the exact argument payload the model supplied.
	ToolInput json.RawMessage `json:"tool_input"`

	// EntityType names the domain entity the mutation targets
	// (project, task, document, blocker, journal_entry).
	EntityType string `json:"entity_type"`

	// EntityID is set for mutations of an existing entity; empty for creates.
	EntityID string `json:"entity_id,omitempty"`

	// OldState holds the resolved current field values for updates.
	OldState map[string]any `json:"old_state,omitempty"`

	// NewState holds the field values the mutation would write.
	NewState map[string]any `json:"new_state"`

	// Diff is the ordered field-level change list.
	Diff []DiffEntry `json:"diff"`

	// Description is a human-readable summary shown in approval UIs.
	Description string `json:"description"`
}
