package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/arbor-hq/arbor/internal/metrics"
	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

const (
	// eventBufferSize sizes the per-turn event channel.
	eventBufferSize = 64

	// historyLimit bounds how many prior messages are replayed to the model.
	historyLimit = 50
)

// TurnState is the explicit lifecycle of one conversation session.
type TurnState string

const (
	TurnRunning               TurnState = "running"
	TurnAwaitingApproval      TurnState = "awaiting_approval"
	TurnAwaitingClarification TurnState = "awaiting_clarification"
	TurnDone                  TurnState = "done"
	TurnErrored               TurnState = "errored"
)

// ServiceConfig configures the orchestration loop.
type ServiceConfig struct {
	// MaxIterations limits tool-use iterations per turn.
	// Default: 10
	MaxIterations int

	// MaxTokens is the default max tokens for model responses.
	// Default: 4096
	MaxTokens int

	// Model overrides the provider's default model when set.
	Model string

	// SystemPrompt sets the assistant's behavior.
	SystemPrompt string
}

// DefaultServiceConfig returns the default loop configuration.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
	}
}

func sanitizeServiceConfig(config *ServiceConfig) *ServiceConfig {
	if config == nil {
		return DefaultServiceConfig()
	}
	cfg := *config
	defaults := DefaultServiceConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return &cfg
}

// session holds the cross-turn state owned by one conversation: its tool
// registry (tier-2 loads are sticky), budget, enrichment context, and an
// advisory lock serializing concurrent chat requests.
type session struct {
	mu       sync.Mutex
	registry *Registry
	budget   *ToolBudget
	exec     *ExecutionContext

	// state has its own lock so callers can observe a running turn
	// without waiting on the advisory lock.
	stateMu sync.Mutex
	state   TurnState
}

func (sess *session) setState(st TurnState) {
	sess.stateMu.Lock()
	sess.state = st
	sess.stateMu.Unlock()
}

func (sess *session) currentState() TurnState {
	sess.stateMu.Lock()
	defer sess.stateMu.Unlock()
	return sess.state
}

// Service is the orchestration loop: it streams model output, collects tool
// calls, executes query tools inline, and routes action tools through the
// preview/approval handshake. One Service serves many conversations; each
// conversation's session state is isolated.
type Service struct {
	provider LLMProvider
	store    store.Store
	config   *ServiceConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// newRegistry assembles a fresh per-session registry (tier-1 tools
	// plus tier-2 group declarations).
	newRegistry func() *Registry

	mu       sync.Mutex
	sessions map[string]*session
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the orchestration service. newRegistry is invoked once
// per conversation to assemble its tool registry.
func NewService(provider LLMProvider, st store.Store, newRegistry func() *Registry, config *ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		provider:    provider,
		store:       st,
		config:      sanitizeServiceConfig(config),
		logger:      slog.Default(),
		newRegistry: newRegistry,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) session(conversationID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		registry := s.newRegistry()
		sess = &session{
			registry: registry,
			budget:   NewToolBudget(registry.KindOf),
			exec:     NewExecutionContext(),
			state:    TurnDone,
		}
		s.sessions[conversationID] = sess
	}
	return sess
}

// turnState tracks one turn's progress through the loop.
type turnState struct {
	phase     TurnPhase
	iteration int
	messages  []CompletionMessage
	text      strings.Builder
	sawDelta  bool
	toolCalls []models.ToolCall
	staged    int
	failed    bool
}

// Chat runs one conversation turn and streams typed events. The returned
// channel is closed after a terminal done event, which is emitted on every
// exit path. Cancelling ctx propagates into the provider stream.
func (s *Service) Chat(ctx context.Context, conv *models.Conversation, userMessage string) (<-chan models.AssistantEvent, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}

	sess := s.session(conv.ID)
	events := make(chan models.AssistantEvent, eventBufferSize)

	go func() {
		defer close(events)
		// The done event is the stream's terminal frame on every path.
		defer func() {
			events <- models.NewDoneEvent(conv.ID)
		}()

		// Advisory lock: two chat requests for the same conversation are
		// serialized, not deduplicated.
		sess.mu.Lock()
		defer sess.mu.Unlock()

		s.runTurn(ctx, conv, sess, userMessage, events)
	}()

	return events, nil
}

func (s *Service) runTurn(ctx context.Context, conv *models.Conversation, sess *session, userMessage string, events chan<- models.AssistantEvent) {
	log := s.logger.With("conversation_id", conv.ID)
	state := &turnState{phase: PhaseInit}

	// Budget prologue: a reply to a clarifying question restores query
	// budget; any other fresh message resets the per-message pools and the
	// enrichment context so prior dead ends don't leak into this turn.
	var budgetNote string
	if sess.budget.AwaitingUserResponse() {
		budgetNote = sess.budget.OnUserClarification(userMessage)
	} else {
		sess.budget.OnNewUserMessage()
		sess.exec.Reset()
	}
	sess.setState(TurnRunning)

	// Topic-triggered capability growth.
	if cats := sess.registry.DetectTier2(userMessage); len(cats) > 0 {
		added := sess.registry.LoadTier2(cats...)
		if len(added) > 0 {
			log.Info("loaded tier-2 tools", "categories", cats, "tools", added)
		}
	}

	if err := s.initMessages(ctx, conv, state, userMessage); err != nil {
		s.failTurn(sess, events, state, err)
		return
	}
	if budgetNote != "" {
		state.messages = append(state.messages, CompletionMessage{Role: "user", Content: budgetNote})
	}

	for state.iteration < s.config.MaxIterations {
		select {
		case <-ctx.Done():
			s.failTurn(sess, events, state, ctx.Err())
			return
		default:
		}

		// Budget advisories ride in as synthetic user-role steering
		// messages ahead of the provider call.
		if advisory := sess.budget.InjectionMessage(); advisory != "" {
			state.messages = append(state.messages, CompletionMessage{Role: "user", Content: advisory})
		}

		state.phase = PhaseStream
		if err := s.streamPhase(ctx, sess, state, events); err != nil {
			s.failTurn(sess, events, state, err)
			return
		}

		if err := s.persistAssistantMessage(ctx, conv, state); err != nil {
			s.failTurn(sess, events, state, err)
			return
		}

		text := state.text.String()
		state.messages = append(state.messages, CompletionMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: state.toolCalls,
		})

		if len(state.toolCalls) == 0 {
			// Final answer.
			break
		}

		state.phase = PhaseExecuteTools
		results := s.dispatchTools(ctx, conv, sess, state, events)

		state.messages = append(state.messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
		if err := s.persistToolMessage(ctx, conv, state.toolCalls, results); err != nil {
			s.failTurn(sess, events, state, err)
			return
		}

		if sess.budget.AwaitingUserResponse() {
			// ask_user suspends the whole turn, not just its batch; the
			// loop resumes on the user's next message.
			break
		}

		state.text.Reset()
		state.sawDelta = false
		state.toolCalls = nil
		state.iteration++
	}

	if state.iteration >= s.config.MaxIterations {
		s.failTurn(sess, events, state, &TurnError{
			Phase:     state.phase,
			Iteration: state.iteration,
			Cause:     ErrMaxIterations,
		})
		return
	}

	state.phase = PhaseComplete
	next := TurnDone
	switch {
	case sess.budget.AwaitingUserResponse():
		next = TurnAwaitingClarification
	case state.staged > 0:
		next = TurnAwaitingApproval
	}
	sess.setState(next)
	if s.metrics != nil {
		s.metrics.Turns.WithLabelValues("completed").Inc()
		s.metrics.TurnIterations.Observe(float64(state.iteration + 1))
	}
	log.Debug("turn complete", "iterations", state.iteration+1, "state", next)
}

func (s *Service) failTurn(sess *session, events chan<- models.AssistantEvent, state *turnState, err error) {
	sess.setState(TurnErrored)
	if s.metrics != nil {
		s.metrics.Turns.WithLabelValues("errored").Inc()
	}
	s.logger.Error("turn failed", "phase", state.phase, "iteration", state.iteration, "error", err)
	events <- models.NewErrorEvent(err.Error())
}

// initMessages replays prior turns, appends and persists the new user
// message.
func (s *Service) initMessages(ctx context.Context, conv *models.Conversation, state *turnState, userMessage string) error {
	history, err := s.store.ListMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	state.messages = make([]CompletionMessage, 0, len(history)+1)
	for _, m := range history {
		state.messages = append(state.messages, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	state.messages = append(state.messages, CompletionMessage{Role: "user", Content: userMessage})

	return s.store.AppendMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        userMessage,
		CreatedAt:      time.Now(),
	})
}

// streamPhase consumes one provider stream, forwarding thinking and text
// events and collecting tool calls without executing them.
func (s *Service) streamPhase(ctx context.Context, sess *session, state *turnState, events chan<- models.AssistantEvent) error {
	req := &CompletionRequest{
		Model:     s.config.Model,
		System:    s.config.SystemPrompt,
		Messages:  state.messages,
		Tools:     sess.registry.Definitions(),
		MaxTokens: s.config.MaxTokens,
	}

	started := time.Now()
	stream, err := s.provider.Complete(ctx, req)
	if err != nil {
		return err
	}

	for chunk := range stream {
		if chunk.Error != nil {
			return chunk.Error
		}
		if chunk.Thinking != "" {
			events <- models.NewThinkingEvent(chunk.Thinking)
		}
		if chunk.TextDelta != "" {
			state.sawDelta = true
			state.text.WriteString(chunk.TextDelta)
			events <- models.NewTextDeltaEvent(chunk.TextDelta)
		}
		if chunk.Text != "" && !state.sawDelta {
			// Complete-text fallback for providers that cannot stream.
			state.text.WriteString(chunk.Text)
			events <- models.NewTextEvent(chunk.Text)
		}
		if chunk.ToolCall != nil {
			state.toolCalls = append(state.toolCalls, *chunk.ToolCall)
			events <- models.NewToolCallEvent(chunk.ToolCall.Name, chunk.ToolCall.Input)
		}
	}

	if s.metrics != nil {
		s.metrics.ProviderLatency.WithLabelValues(s.provider.Name()).Observe(time.Since(started).Seconds())
	}
	return nil
}

// dispatchTools processes collected tool calls strictly in the order the
// model emitted them. Tool-local failures become error results and error
// events; they never abort the rest of the batch. The returned results are
// index-aligned with state.toolCalls and carry their call ids.
func (s *Service) dispatchTools(ctx context.Context, conv *models.Conversation, sess *session, state *turnState, events chan<- models.AssistantEvent) []models.ToolResult {
	env := ToolEnv{
		Store:          s.store,
		OrgID:          conv.OrgID,
		UserID:         conv.UserID,
		ConversationID: conv.ID,
		Exec:           sess.exec,
	}

	results := make([]models.ToolResult, 0, len(state.toolCalls))
	// A suspension carried over from an earlier batch keeps holding.
	paused := sess.budget.AwaitingUserResponse()

	for _, tc := range state.toolCalls {
		if paused {
			// ask_user suspended the turn; later calls in the same batch
			// are not executed.
			results = append(results, s.toolError(events, tc, ErrAwaitingUser.Error()))
			continue
		}

		sess.budget.RecordCall(tc.Name)
		if s.metrics != nil {
			s.metrics.ToolCalls.WithLabelValues(tc.Name, string(sess.budget.ToolType(tc.Name))).Inc()
		}

		tool, ok := sess.registry.Get(tc.Name)
		if !ok {
			results = append(results, s.toolError(events, tc, "unknown tool: "+tc.Name))
			continue
		}

		switch t := tool.(type) {
		case ActionTool:
			res := s.dispatchAction(ctx, conv, env, events, tc, t)
			if !res.IsError {
				state.staged++
			}
			results = append(results, res)
		case QueryTool:
			results = append(results, s.dispatchQuery(ctx, sess, env, events, tc, t))
		default:
			results = append(results, s.toolError(events, tc, "tool has no executable contract: "+tc.Name))
		}

		if sess.budget.AwaitingUserResponse() {
			paused = true
		}
	}

	return results
}

func (s *Service) dispatchQuery(ctx context.Context, sess *session, env ToolEnv, events chan<- models.AssistantEvent, tc models.ToolCall, tool QueryTool) models.ToolResult {
	res, err := tool.Execute(ctx, env, tc.Input)
	if err != nil {
		return s.toolError(events, tc, err.Error())
	}

	sess.exec.RecordCall(CallRecord{
		Tool:    tc.Name,
		Input:   string(tc.Input),
		Summary: summarize(res.Content),
		Empty:   res.Empty,
		At:      time.Now(),
	})

	out := models.ToolResult{ToolCallID: tc.ID, Content: res.Content, IsError: res.IsError}
	events <- models.NewToolResultEvent(out)
	return out
}

// dispatchAction runs the preview half of the mutation handshake: persist a
// pending action and tell the model only that approval is outstanding. The
// model is never told the mutation happened.
func (s *Service) dispatchAction(ctx context.Context, conv *models.Conversation, env ToolEnv, events chan<- models.AssistantEvent, tc models.ToolCall, tool ActionTool) models.ToolResult {
	preview, err := tool.CreatePreview(ctx, env, tc.Input)
	if err != nil {
		return s.toolError(events, tc, err.Error())
	}

	now := time.Now()
	action := &models.PendingAction{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ToolName:       preview.ToolName,
		ToolInput:      preview.ToolInput,
		EntityType:     preview.EntityType,
		EntityID:       preview.EntityID,
		OldState:       preview.OldState,
		NewState:       preview.NewState,
		Diff:           preview.Diff,
		Description:    preview.Description,
		Status:         models.ActionPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.PendingActionTTL),
	}
	if err := s.store.CreatePendingAction(ctx, action); err != nil {
		return s.toolError(events, tc, fmt.Sprintf("persist pending action: %v", err))
	}
	if s.metrics != nil {
		s.metrics.PendingActions.WithLabelValues(string(models.ActionPending)).Inc()
	}

	events <- models.NewActionPreviewEvent(action)

	payload, _ := json.Marshal(map[string]any{
		"status":      "pending_approval",
		"action_id":   action.ID,
		"description": action.Description,
		"expires_at":  action.ExpiresAt,
	})
	out := models.ToolResult{ToolCallID: tc.ID, Content: string(payload)}
	events <- models.NewToolResultEvent(out)
	return out
}

func (s *Service) toolError(events chan<- models.AssistantEvent, tc models.ToolCall, msg string) models.ToolResult {
	if s.metrics != nil {
		s.metrics.ToolErrors.WithLabelValues(tc.Name).Inc()
	}
	events <- models.NewErrorEvent(msg)
	return models.ToolResult{ToolCallID: tc.ID, Content: msg, IsError: true}
}

func (s *Service) persistAssistantMessage(ctx context.Context, conv *models.Conversation, state *turnState) error {
	text := state.text.String()
	if text == "" && len(state.toolCalls) == 0 {
		return nil
	}
	return s.store.AppendMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        text,
		ToolCalls:      state.toolCalls,
		CreatedAt:      time.Now(),
	})
}

func (s *Service) persistToolMessage(ctx context.Context, conv *models.Conversation, calls []models.ToolCall, results []models.ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.store.AppendMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleTool,
		ToolResults:    results,
		CreatedAt:      time.Now(),
	})
}

// SessionState reports the turn FSM state for a conversation, for callers
// that need to know whether the assistant is waiting on the user.
func (s *Service) SessionState(conversationID string) TurnState {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	s.mu.Unlock()
	if !ok {
		return TurnDone
	}
	return sess.currentState()
}

// OnActionExecuted feeds the approval executor's outcome back into the
// session budget so the next turn sees restored query capacity.
func (s *Service) OnActionExecuted(conversationID, description string) {
	sess := s.session(conversationID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	note := sess.budget.OnActionExecuted(description)

	if sess.currentState() == TurnAwaitingApproval {
		remaining, err := s.store.ListPendingActions(context.Background(), conversationID, time.Now())
		if err == nil && len(remaining) == 0 {
			sess.setState(TurnDone)
		}
	}
	s.logger.Debug("action executed", "conversation_id", conversationID, "note", note)
}

func summarize(content string) string {
	return truncate(strings.TrimSpace(content), 120)
}

// truncate caps s at max bytes without splitting a multi-byte rune,
// appending an ellipsis when anything was cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
