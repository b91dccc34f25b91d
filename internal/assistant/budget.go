package assistant

import "fmt"

// Default pool limits for a single conversation session.
const (
	DefaultQueryLimit  = 6
	DefaultActionLimit = 15
	DefaultMetaLimit   = 3
)

// maxClarificationRefund bounds how much query budget a single clarifying
// answer can restore.
const maxClarificationRefund = 3

// clarificationEchoLimit caps the echoed reply length in status messages.
const clarificationEchoLimit = 80

// BudgetStatus reports one pool's usage. Remaining is clamped at zero even
// when the used counter has run past the limit.
type BudgetStatus struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// ToolBudget tracks tool usage across three independent pools for one
// conversation session. It is owned by a single session and is not safe for
// concurrent use.
type ToolBudget struct {
	queryCalls  int
	actionCalls int
	metaCalls   int

	queryLimit  int
	actionLimit int
	metaLimit   int

	awaitingUserResponse bool

	// classify maps a tool name to its pool. Unknown names fall back to
	// the query pool inside the classifier.
	classify func(name string) ToolKind
}

// NewToolBudget returns a budget with default limits. The classifier decides
// which pool a tool name charges; pass Registry.KindOf.
func NewToolBudget(classify func(name string) ToolKind) *ToolBudget {
	return &ToolBudget{
		queryLimit:  DefaultQueryLimit,
		actionLimit: DefaultActionLimit,
		metaLimit:   DefaultMetaLimit,
		classify:    classify,
	}
}

// ToolType returns the pool a tool name charges against. The think tool is
// informational only and charges no pool.
func (b *ToolBudget) ToolType(name string) ToolKind {
	if name == "think" {
		return KindExempt
	}
	if b.classify == nil {
		return KindQuery
	}
	return b.classify(name)
}

// RecordCall charges one unit against the pool for the named tool. Calling
// it with ask_user additionally marks the session as waiting on the user.
func (b *ToolBudget) RecordCall(name string) {
	switch b.ToolType(name) {
	case KindQuery:
		b.queryCalls++
	case KindAction:
		b.actionCalls++
	case KindMeta:
		b.metaCalls++
	case KindExempt:
		// think: no pool charged
	}
	if name == "ask_user" {
		b.awaitingUserResponse = true
	}
}

// Status reports usage for all three pools.
func (b *ToolBudget) Status() map[string]BudgetStatus {
	return map[string]BudgetStatus{
		"query":  poolStatus(b.queryCalls, b.queryLimit),
		"action": poolStatus(b.actionCalls, b.actionLimit),
		"meta":   poolStatus(b.metaCalls, b.metaLimit),
	}
}

func poolStatus(used, limit int) BudgetStatus {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return BudgetStatus{Used: used, Limit: limit, Remaining: remaining}
}

// AwaitingUserResponse reports whether the session is paused on a clarifying
// question from ask_user.
func (b *ToolBudget) AwaitingUserResponse() bool {
	return b.awaitingUserResponse
}

// InjectionMessage returns advisory steering text when the query pool is
// nearly or fully exhausted, or when the meta pool is exhausted. It returns
// "" when no advisory is warranted. Exhaustion is a steering signal, never
// an error.
func (b *ToolBudget) InjectionMessage() string {
	queryRemaining := poolStatus(b.queryCalls, b.queryLimit).Remaining
	metaRemaining := poolStatus(b.metaCalls, b.metaLimit).Remaining

	switch {
	case queryRemaining == 0:
		return "Query budget exhausted. Do not make further lookups; answer from what you have already gathered, or use ask_user if you are missing something essential."
	case queryRemaining <= 2:
		return fmt.Sprintf("Query budget low: %d lookup(s) remaining. Prioritize the most important lookup or answer from what you already have.", queryRemaining)
	case metaRemaining == 0:
		return "Meta budget exhausted. Do not call ask_user again this turn; proceed with your best interpretation."
	}
	return ""
}

// OnNewUserMessage resets per-message pools for a fresh user message. The
// action pool is cumulative for the whole session: a new chat turn never
// refreshes mutation capacity.
func (b *ToolBudget) OnNewUserMessage() {
	b.queryCalls = 0
	b.metaCalls = 0
	b.awaitingUserResponse = false
}

// OnUserClarification restores up to 3 units of query budget after the user
// answers a clarifying question, clears the awaiting flag, and returns a
// status line quoting a truncated echo of the reply.
func (b *ToolBudget) OnUserClarification(response string) string {
	b.queryCalls -= maxClarificationRefund
	if b.queryCalls < 0 {
		b.queryCalls = 0
	}
	b.awaitingUserResponse = false

	echo := truncate(response, clarificationEchoLimit)
	remaining := poolStatus(b.queryCalls, b.queryLimit).Remaining
	return fmt.Sprintf("User clarified: %q. Query budget restored; %d lookup(s) remaining.", echo, remaining)
}

// OnActionExecuted restores one unit of query budget after an approved
// action executes, when any query budget is in use, and reports remaining
// action budget.
func (b *ToolBudget) OnActionExecuted(description string) string {
	if b.queryCalls > 0 {
		b.queryCalls--
	}
	remaining := poolStatus(b.actionCalls, b.actionLimit).Remaining
	return fmt.Sprintf("Action executed: %s. %d action(s) remaining this session.", description, remaining)
}
