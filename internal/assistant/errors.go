package assistant

import (
	"errors"
	"fmt"
)

// Common sentinel errors for orchestration operations
var (
	// ErrMaxIterations indicates the turn loop exceeded its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrAwaitingUser indicates the turn is paused on a clarifying question
	ErrAwaitingUser = errors.New("awaiting user response")
)

// TurnPhase represents a distinct phase in the turn lifecycle.
type TurnPhase string

const (
	// PhaseInit is the initialization phase
	PhaseInit TurnPhase = "init"

	// PhaseStream is the LLM streaming phase
	PhaseStream TurnPhase = "stream"

	// PhaseExecuteTools is the tool execution phase
	PhaseExecuteTools TurnPhase = "execute_tools"

	// PhaseComplete is the completion phase
	PhaseComplete TurnPhase = "complete"
)

// TurnError wraps an error that occurred during a turn with context about
// which phase and iteration it occurred in.
type TurnError struct {
	// Phase is the turn phase where the error occurred
	Phase TurnPhase

	// Iteration is the loop iteration where the error occurred
	Iteration int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("turn error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("turn error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Cause
}
