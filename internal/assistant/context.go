package assistant

import (
	"fmt"
	"strings"
	"time"
)

// Situational patterns detected from recent call history.
const (
	PatternEmptyResult     = "empty_result"
	PatternRepeatedSearch  = "repeated_search"
	PatternAmbiguousResult = "ambiguous_result"
)

// CallRecord captures one tool invocation for session enrichment.
type CallRecord struct {
	Tool    string
	Input   string
	Summary string
	Empty   bool
	At      time.Time
}

// DeadEnd records a lookup that found nothing, with optional near-miss
// suggestions for the model to consider.
type DeadEnd struct {
	Tool  string
	Query string
	Hints []string
}

// ExecutionContext accumulates session-scoped enrichment for the reasoning
// tool: what was called, what came back empty, and which situational
// patterns emerged. Owned by a single session; not safe for concurrent use.
type ExecutionContext struct {
	calls    []CallRecord
	deadEnds []DeadEnd
}

// NewExecutionContext creates an empty execution context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{}
}

// RecordCall appends a tool invocation to the session history.
func (c *ExecutionContext) RecordCall(rec CallRecord) {
	c.calls = append(c.calls, rec)
}

// RecordDeadEnd notes a lookup that found nothing.
func (c *ExecutionContext) RecordDeadEnd(tool, query string, hints []string) {
	c.deadEnds = append(c.deadEnds, DeadEnd{Tool: tool, Query: query, Hints: hints})
}

// Reset clears accumulated history for a fresh session segment.
func (c *ExecutionContext) Reset() {
	c.calls = nil
	c.deadEnds = nil
}

// Calls returns the recorded call history.
func (c *ExecutionContext) Calls() []CallRecord {
	return c.calls
}

// Patterns detects situational patterns from recent call history.
func (c *ExecutionContext) Patterns() []string {
	var patterns []string

	emptyStreak := 0
	for i := len(c.calls) - 1; i >= 0 && i >= len(c.calls)-3; i-- {
		if c.calls[i].Empty {
			emptyStreak++
		}
	}
	if emptyStreak >= 2 {
		patterns = append(patterns, PatternEmptyResult)
	}

	// Same tool with the same input more than once signals the model is
	// looping instead of changing its approach.
	seen := make(map[string]int)
	for _, rec := range c.calls {
		seen[rec.Tool+"\x00"+rec.Input]++
	}
	for _, n := range seen {
		if n > 1 {
			patterns = append(patterns, PatternRepeatedSearch)
			break
		}
	}

	if len(c.calls) > 0 {
		last := c.calls[len(c.calls)-1]
		if strings.Contains(last.Summary, "multiple matches") {
			patterns = append(patterns, PatternAmbiguousResult)
		}
	}

	return patterns
}

// Summary renders the enrichment block consumed by the reasoning tool.
func (c *ExecutionContext) Summary() string {
	var sb strings.Builder

	if len(c.calls) == 0 {
		sb.WriteString("No tool calls recorded yet this session.\n")
	} else {
		sb.WriteString(fmt.Sprintf("Tool calls this session (%d):\n", len(c.calls)))
		for _, rec := range c.calls {
			line := fmt.Sprintf("- %s", rec.Tool)
			if rec.Summary != "" {
				line += ": " + rec.Summary
			}
			if rec.Empty {
				line += " (no results)"
			}
			sb.WriteString(line + "\n")
		}
	}

	if patterns := c.Patterns(); len(patterns) > 0 {
		sb.WriteString("Patterns: " + strings.Join(patterns, ", ") + "\n")
	}

	for _, de := range c.deadEnds {
		sb.WriteString(fmt.Sprintf("Dead end: %s found nothing for %q", de.Tool, de.Query))
		if len(de.Hints) > 0 {
			sb.WriteString("; close matches: " + strings.Join(de.Hints, ", "))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
