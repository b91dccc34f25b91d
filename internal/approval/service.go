// Package approval decides and executes pending actions produced by the
// assistant's preview handshake. It is the only code path that turns a
// proposed mutation into a real write.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-hq/arbor/internal/store"
	"github.com/arbor-hq/arbor/pkg/models"
)

var (
	// ErrActionExpired indicates the approval window has passed. Terminal
	// for that action id.
	ErrActionExpired = errors.New("action expired")

	// ErrAlreadyDecided indicates the action was already approved or
	// rejected. Terminal for that action id.
	ErrAlreadyDecided = errors.New("action already decided")
)

// ExecutedFunc is notified after an approved action has been applied, so
// the chat session can restore query budget.
type ExecutedFunc func(conversationID, description string)

// Service approves, rejects, and executes pending actions. The stored
// status field is the sole concurrency gate: decisions go through a
// conditional pending -> {approved, rejected} update, so concurrent
// decisions on one action cannot both win.
type Service struct {
	store      store.Store
	logger     *slog.Logger
	onExecuted ExecutedFunc
	now        func() time.Time
}

// Option configures the approval service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithExecutedHook registers a callback invoked after successful execution.
func WithExecutedHook(fn ExecutedFunc) Option {
	return func(s *Service) { s.onExecuted = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an approval service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPending returns a conversation's approvable actions, excluding
// anything expired or already decided.
func (s *Service) ListPending(ctx context.Context, conversationID string) ([]*models.PendingAction, error) {
	return s.store.ListPendingActions(ctx, conversationID, s.now())
}

// Approve decides an action and executes it. Re-invoking on an already
// executed or expired record returns a terminal error without side effects.
func (s *Service) Approve(ctx context.Context, actionID, decidedBy string) (*models.PendingAction, error) {
	action, err := s.store.GetPendingAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if action.Expired(now) && action.Status == models.ActionPending {
		// Record expiry lazily; listings already exclude it.
		_ = s.store.TransitionPendingAction(ctx, actionID, models.ActionPending, models.ActionExpired, "", now)
		return nil, ErrActionExpired
	}

	err = s.store.TransitionPendingAction(ctx, actionID, models.ActionPending, models.ActionApproved, decidedBy, now)
	if errors.Is(err, store.ErrConflict) {
		return nil, s.decidedError(action)
	}
	if err != nil {
		return nil, err
	}

	result, execErr := s.execute(ctx, action)
	if execErr != nil {
		// The decision stands; the failure is recorded on the action.
		if err := s.store.FinishPendingAction(ctx, actionID, models.ActionApproved, "", execErr.Error(), s.now()); err != nil {
			s.logger.Error("record execution failure", "action_id", actionID, "error", err)
		}
		return nil, fmt.Errorf("execute action: %w", execErr)
	}

	if err := s.store.FinishPendingAction(ctx, actionID, models.ActionExecuted, result, "", s.now()); err != nil {
		return nil, err
	}
	if s.onExecuted != nil {
		s.onExecuted(action.ConversationID, action.Description)
	}
	s.logger.Info("action executed", "action_id", actionID, "tool", action.ToolName, "decided_by", decidedBy)

	return s.store.GetPendingAction(ctx, actionID)
}

// Reject declines an action. Terminal and idempotent-safe like Approve.
func (s *Service) Reject(ctx context.Context, actionID, decidedBy string) (*models.PendingAction, error) {
	action, err := s.store.GetPendingAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if action.Expired(now) && action.Status == models.ActionPending {
		_ = s.store.TransitionPendingAction(ctx, actionID, models.ActionPending, models.ActionExpired, "", now)
		return nil, ErrActionExpired
	}

	err = s.store.TransitionPendingAction(ctx, actionID, models.ActionPending, models.ActionRejected, decidedBy, now)
	if errors.Is(err, store.ErrConflict) {
		return nil, s.decidedError(action)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("action rejected", "action_id", actionID, "decided_by", decidedBy)
	return s.store.GetPendingAction(ctx, actionID)
}

func (s *Service) decidedError(action *models.PendingAction) error {
	if action.Status == models.ActionExpired {
		return ErrActionExpired
	}
	return ErrAlreadyDecided
}

// execute applies the mutation an approved action describes and returns a
// short result summary. The tool input is re-parsed here; previews never
// carry applied state.
func (s *Service) execute(ctx context.Context, action *models.PendingAction) (string, error) {
	conv, err := s.store.GetConversation(ctx, action.ConversationID)
	if err != nil {
		return "", fmt.Errorf("conversation %s: %w", action.ConversationID, err)
	}
	orgID := conv.OrgID
	now := s.now()

	switch action.ToolName {
	case "create_task":
		var in struct {
			ProjectID   string `json:"project_id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Priority    string `json:"priority"`
			AssigneeID  string `json:"assignee_id"`
			DueDate     string `json:"due_date"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		task := &models.Task{
			ID:          uuid.NewString(),
			OrgID:       orgID,
			ProjectID:   in.ProjectID,
			Title:       in.Title,
			Description: in.Description,
			Status:      models.TaskTodo,
			Priority:    in.Priority,
			AssigneeID:  in.AssigneeID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if in.DueDate != "" {
			due, err := time.Parse(time.RFC3339, in.DueDate)
			if err != nil {
				return "", fmt.Errorf("parse due_date: %w", err)
			}
			task.DueDate = &due
		}
		if err := s.store.CreateTask(ctx, task); err != nil {
			return "", err
		}
		return "created task " + task.ID, nil

	case "update_task":
		var in struct {
			TaskID      string  `json:"task_id"`
			Title       *string `json:"title"`
			Description *string `json:"description"`
			Priority    *string `json:"priority"`
			AssigneeID  *string `json:"assignee_id"`
			DueDate     *string `json:"due_date"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		task, err := s.store.GetTask(ctx, orgID, in.TaskID)
		if err != nil {
			return "", err
		}
		if in.Title != nil {
			task.Title = *in.Title
		}
		if in.Description != nil {
			task.Description = *in.Description
		}
		if in.Priority != nil {
			task.Priority = *in.Priority
		}
		if in.AssigneeID != nil {
			task.AssigneeID = *in.AssigneeID
		}
		if in.DueDate != nil {
			due, err := time.Parse(time.RFC3339, *in.DueDate)
			if err != nil {
				return "", fmt.Errorf("parse due_date: %w", err)
			}
			task.DueDate = &due
		}
		task.UpdatedAt = now
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return "", err
		}
		return "updated task " + task.ID, nil

	case "transition_task":
		var in struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		task, err := s.store.GetTask(ctx, orgID, in.TaskID)
		if err != nil {
			return "", err
		}
		task.Status = models.TaskStatus(in.Status)
		task.UpdatedAt = now
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return "", err
		}
		return fmt.Sprintf("moved task %s to %s", task.ID, task.Status), nil

	case "create_project":
		var in struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			LeadID      string `json:"lead_id"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		project := &models.Project{
			ID:          uuid.NewString(),
			OrgID:       orgID,
			Name:        in.Name,
			Description: in.Description,
			Status:      models.ProjectActive,
			LeadID:      in.LeadID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.CreateProject(ctx, project); err != nil {
			return "", err
		}
		return "created project " + project.ID, nil

	case "update_project":
		var in struct {
			ProjectID   string  `json:"project_id"`
			Name        *string `json:"name"`
			Description *string `json:"description"`
			Status      *string `json:"status"`
			LeadID      *string `json:"lead_id"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		project, err := s.store.GetProject(ctx, orgID, in.ProjectID)
		if err != nil {
			return "", err
		}
		if in.Name != nil {
			project.Name = *in.Name
		}
		if in.Description != nil {
			project.Description = *in.Description
		}
		if in.Status != nil {
			project.Status = models.ProjectStatus(*in.Status)
		}
		if in.LeadID != nil {
			project.LeadID = *in.LeadID
		}
		project.UpdatedAt = now
		if err := s.store.UpdateProject(ctx, project); err != nil {
			return "", err
		}
		return "updated project " + project.ID, nil

	case "create_document":
		var in struct {
			Title     string `json:"title"`
			Body      string `json:"body"`
			Category  string `json:"category"`
			ProjectID string `json:"project_id"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		doc := &models.Document{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			ProjectID: in.ProjectID,
			Title:     in.Title,
			Body:      in.Body,
			Category:  in.Category,
			UpdatedBy: action.DecidedBy,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			return "", err
		}
		return "created document " + doc.ID, nil

	case "update_document":
		var in struct {
			DocumentID string  `json:"document_id"`
			Title      *string `json:"title"`
			Body       *string `json:"body"`
			Category   *string `json:"category"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		doc, err := s.store.GetDocument(ctx, orgID, in.DocumentID)
		if err != nil {
			return "", err
		}
		if in.Title != nil {
			doc.Title = *in.Title
		}
		if in.Body != nil {
			doc.Body = *in.Body
		}
		if in.Category != nil {
			doc.Category = *in.Category
		}
		doc.UpdatedBy = action.DecidedBy
		doc.UpdatedAt = now
		if err := s.store.UpdateDocument(ctx, doc); err != nil {
			return "", err
		}
		return "updated document " + doc.ID, nil

	case "report_blocker":
		var in struct {
			TaskID      string `json:"task_id"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		task, err := s.store.GetTask(ctx, orgID, in.TaskID)
		if err != nil {
			return "", err
		}
		blocker := &models.Blocker{
			ID:          uuid.NewString(),
			OrgID:       orgID,
			TaskID:      task.ID,
			Description: in.Description,
			Status:      models.BlockerOpen,
			ReportedBy:  action.DecidedBy,
			CreatedAt:   now,
		}
		if err := s.store.CreateBlocker(ctx, blocker); err != nil {
			return "", err
		}
		task.Status = models.TaskBlocked
		task.UpdatedAt = now
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return "", err
		}
		return "reported blocker " + blocker.ID, nil

	case "resolve_blocker":
		var in struct {
			BlockerID  string `json:"blocker_id"`
			Resolution string `json:"resolution"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		blocker, err := s.store.GetBlocker(ctx, orgID, in.BlockerID)
		if err != nil {
			return "", err
		}
		blocker.Status = models.BlockerResolved
		blocker.Resolution = in.Resolution
		blocker.ResolvedAt = &now
		if err := s.store.UpdateBlocker(ctx, blocker); err != nil {
			return "", err
		}
		return "resolved blocker " + blocker.ID, nil

	case "add_journal_entry":
		var in struct {
			Content   string   `json:"content"`
			ProjectID string   `json:"project_id"`
			Tags      []string `json:"tags"`
		}
		if err := json.Unmarshal(action.ToolInput, &in); err != nil {
			return "", err
		}
		entry := &models.JournalEntry{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			ProjectID: in.ProjectID,
			AuthorID:  conv.UserID,
			Content:   in.Content,
			Tags:      in.Tags,
			CreatedAt: now,
		}
		if err := s.store.CreateJournalEntry(ctx, entry); err != nil {
			return "", err
		}
		return "added journal entry " + entry.ID, nil
	}

	return "", fmt.Errorf("no executor for tool %s", action.ToolName)
}
