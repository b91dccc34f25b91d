package assistant

import (
	"context"
	"encoding/json"

	"github.com/arbor-hq/arbor/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (Anthropic, OpenAI) while presenting a unified streaming interface to
// the orchestration service.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The returned
	// channel is closed by the provider when the stream ends.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request:
// the conversation history, system prompt, available tools, and generation
// parameters.
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	// Handled separately from messages in most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tool schemas the model may request. If empty, no
	// tool calling is available.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking enables extended thinking mode for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking.
	// Only used when EnableThinking is true.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	// Role indicates who sent the message.
	Role string `json:"role"`

	// Content is the text content (may be empty for tool-only messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ToolDefinition is the provider-facing schema for a registered tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Chunks are delivered through channels as the LLM generates its response.
// A chunk carries at most one of: a text delta, a complete-text fallback, a
// thinking fragment, a finalized tool call, a done signal, or an error.
type CompletionChunk struct {
	// TextDelta contains partial response text, streamed incrementally.
	TextDelta string `json:"text_delta,omitempty"`

	// Text contains a complete response text. Only populated by providers
	// that cannot stream deltas; never mixed with TextDelta in one stream.
	Text string `json:"text,omitempty"`

	// Thinking contains reasoning text when extended thinking is enabled.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall contains a complete tool execution request. Emitted only
	// once the call's input JSON has been fully accumulated.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred; streaming is terminated.
	Error error `json:"-"`

	// InputTokens is the number of input tokens consumed by this request.
	// Only populated in the final chunk.
	InputTokens int `json:"input_tokens,omitempty"`

	// OutputTokens is the number of output tokens generated.
	// Only populated in the final chunk.
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model.
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision"`
}
