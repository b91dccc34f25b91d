package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

// ToolKind classifies a tool into its budget pool.
type ToolKind string

const (
	// KindQuery marks read-only tools executed inline.
	KindQuery ToolKind = "query"

	// KindAction marks mutating tools gated behind preview and approval.
	KindAction ToolKind = "action"

	// KindMeta marks conversation-control tools (think, ask_user).
	KindMeta ToolKind = "meta"

	// KindExempt marks tools that charge no pool at all.
	KindExempt ToolKind = "exempt"
)

// Tool is the common contract every registered tool satisfies. The kind is
// declared by the tool itself, so budget classification can never drift from
// the tool's real behavior.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of the tool.
	Description() string

	// InputSchema returns the JSON Schema for the tool's parameters.
	InputSchema() json.RawMessage

	// Kind returns the budget pool this tool charges.
	Kind() ToolKind
}

// QueryTool is a read-only tool executed inline during the turn.
type QueryTool interface {
	Tool

	// Execute runs the lookup and returns its result. Failures that the
	// model should see are returned as a result with IsError set.
	Execute(ctx context.Context, env ToolEnv, input json.RawMessage) (*ToolResult, error)
}

// ActionTool is a mutating tool. It never mutates during the turn; instead
// it produces a preview describing the proposed change, which is persisted
// as a pending action awaiting approval.
type ActionTool interface {
	Tool

	// EntityType names the entity class this action mutates.
	EntityType() string

	// CreatePreview computes the proposed mutation without applying it.
	// An entity lookup failure propagates as an error.
	CreatePreview(ctx context.Context, env ToolEnv, input json.RawMessage) (*models.ActionPreview, error)
}

// ToolEnv carries per-call dependencies into tool implementations.
type ToolEnv struct {
	Store          store.Store
	OrgID          string
	UserID         string
	ConversationID string
	Exec           *ExecutionContext
	Now            func() time.Time
}

// Clock returns the env's time source, defaulting to time.Now.
func (e ToolEnv) Clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ToolResult contains the output from a tool execution. Errors the model
// should handle gracefully are communicated via IsError rather than a Go
// error.
type ToolResult struct {
	// Content is the tool's output (text or JSON).
	Content string `json:"content"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`

	// Empty marks a lookup that completed but found nothing, feeding
	// dead-end detection in the execution context.
	Empty bool `json:"-"`
}

// Tier2Group bundles an on-demand set of tools behind keyword triggers.
// Groups are built lazily: their tools join the registry only once a user
// message matches one of the triggers, keeping the always-on tool surface
// small enough for reliable tool selection.
type Tier2Group struct {
	// Category is the group's stable identifier.
	Category string

	// Triggers are lowercase substrings matched against user messages.
	Triggers []string

	// Build constructs the group's tools. Called at most once per session.
	Build func() []Tool
}

// Registry holds the tools available to one conversation session: the tier-1
// set registered up front plus any tier-2 groups loaded on demand.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	groups []Tier2Group
	loaded map[string]bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		loaded: make(map[string]bool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// KindOf returns the budget pool for a tool name. Unknown names classify as
// query, the more restrictive pool.
func (r *Registry) KindOf(name string) ToolKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t.Kind()
	}
	return KindQuery
}

// Definitions returns provider-facing schemas for all registered tools,
// sorted by name for a stable prompt layout.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTier2 declares an on-demand tool group.
func (r *Registry) RegisterTier2(group Tier2Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, group)
}

// DetectTier2 returns the categories of unloaded tier-2 groups whose
// triggers match the message.
func (r *Registry) DetectTier2(message string) []string {
	lower := strings.ToLower(message)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []string
	for _, g := range r.groups {
		if r.loaded[g.Category] {
			continue
		}
		for _, trigger := range g.Triggers {
			if strings.Contains(lower, trigger) {
				matched = append(matched, g.Category)
				break
			}
		}
	}
	return matched
}

// LoadTier2 builds and registers the named groups' tools. Loading is
// idempotent per category; it returns the names of tools newly added. A
// tool name already present in the registry is skipped rather than
// overwritten.
func (r *Registry) LoadTier2(categories ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var added []string
	for _, category := range categories {
		if r.loaded[category] {
			continue
		}
		for _, g := range r.groups {
			if g.Category != category {
				continue
			}
			r.loaded[category] = true
			for _, t := range g.Build() {
				name := t.Name()
				if _, exists := r.tools[name]; exists {
					continue
				}
				r.tools[name] = t
				added = append(added, name)
			}
		}
	}
	sort.Strings(added)
	return added
}

// LoadedCategories returns the tier-2 categories loaded so far, sorted.
func (r *Registry) LoadedCategories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cats := make([]string, 0, len(r.loaded))
	for c := range r.loaded {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
