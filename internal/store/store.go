package store

import (
	"context"
	"errors"
	"time"

	"github.com/arbor-hq/arbor/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a conditional state transition lost: the record
	// was not in the expected prior status.
	ErrConflict = errors.New("status conflict")
)

// TaskFilter narrows task listings. Zero-valued fields are ignored.
type TaskFilter struct {
	ProjectID  string
	Status     models.TaskStatus
	AssigneeID string
	Limit      int
}

// JournalFilter narrows journal listings. Zero-valued fields are ignored.
type JournalFilter struct {
	ProjectID string
	AuthorID  string
	Since     time.Time
	Limit     int
}

// Store persists all domain and conversation state. Implementations must be
// safe for concurrent use.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, orgID, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	ListProjects(ctx context.Context, orgID string) ([]*models.Project, error)

	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, orgID, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	ListTasks(ctx context.Context, orgID string, filter TaskFilter) ([]*models.Task, error)

	// Documents
	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, orgID, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, d *models.Document) error
	ListDocuments(ctx context.Context, orgID, projectID string) ([]*models.Document, error)
	SearchDocuments(ctx context.Context, orgID, query string, limit int) ([]*models.Document, error)

	// Blockers
	CreateBlocker(ctx context.Context, b *models.Blocker) error
	GetBlocker(ctx context.Context, orgID, id string) (*models.Blocker, error)
	UpdateBlocker(ctx context.Context, b *models.Blocker) error
	ListBlockers(ctx context.Context, orgID string, status models.BlockerStatus) ([]*models.Blocker, error)

	// Journal
	CreateJournalEntry(ctx context.Context, e *models.JournalEntry) error
	ListJournalEntries(ctx context.Context, orgID string, filter JournalFilter) ([]*models.JournalEntry, error)

	// Conversations
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)

	// Pending actions
	CreatePendingAction(ctx context.Context, a *models.PendingAction) error
	GetPendingAction(ctx context.Context, id string) (*models.PendingAction, error)
	// ListPendingActions returns actions still pending and not yet expired
	// as of now, oldest first.
	ListPendingActions(ctx context.Context, conversationID string, now time.Time) ([]*models.PendingAction, error)
	// TransitionPendingAction conditionally moves an action from one status
	// to another. The stored status is the sole concurrency gate: if the
	// record is not in the expected prior status, ErrConflict is returned.
	TransitionPendingAction(ctx context.Context, id string, from, to models.PendingActionStatus, decidedBy string, at time.Time) error
	// FinishPendingAction records the execution outcome of an approved
	// action.
	FinishPendingAction(ctx context.Context, id string, status models.PendingActionStatus, result, errMsg string, at time.Time) error

	Close() error
}
