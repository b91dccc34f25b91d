package models

import (
	"encoding/json"
	"time"
)

// PendingActionStatus represents the lifecycle state of a persisted action.
type PendingActionStatus string

const (
	ActionPending  PendingActionStatus = "pending"
	ActionApproved PendingActionStatus = "approved"
	ActionRejected PendingActionStatus = "rejected"
	ActionExecuted PendingActionStatus = "executed"
	ActionExpired  PendingActionStatus = "expired"
)

// PendingActionTTL is how long a pending action stays approvable.
const PendingActionTTL = time.Hour

// PendingAction is the durable form of an ActionPreview, awaiting an
// out-of-band approval decision. The Status field is the sole
// concurrency gate: a record transitions pending -> {approved, rejected}
// exactly once, enforced by a conditional update in the store.
type PendingAction struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	ToolName       string              `json:"tool_name"`
	ToolInput      json.RawMessage     `json:"tool_input"`
	EntityType     string              `json:"entity_type"`
	EntityID       string              `json:"entity_id,omitempty"`
	OldState       map[string]any      `json:"old_state,omitempty"`
	NewState       map[string]any      `json:"new_state"`
	Diff           []DiffEntry         `json:"diff"`
	Description    string              `json:"description"`
	Status         PendingActionStatus `json:"status"`
	Result         string              `json:"result,omitempty"`
	Error          string              `json:"error,omitempty"`
	DecidedBy      string              `json:"decided_by,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
	DecidedAt      *time.Time          `json:"decided_at,omitempty"`
	ExecutedAt     *time.Time          `json:"executed_at,omitempty"`
}

// Expired reports whether the action's approval window has passed.
// A record can be expired while its stored status is still "pending";
// listings must treat such records as not pending.
func (a *PendingAction) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && a.ExpiresAt.Before(now)
}
