package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/arbor-hq/arbor/pkg/models"
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite database at path. Use
// ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver serializes per connection; a single connection
	// avoids table-lock errors from concurrent writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			lead_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			priority TEXT,
			assignee_id TEXT,
			due_date DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT,
			title TEXT NOT NULL,
			body TEXT,
			category TEXT,
			updated_by TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blockers (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			resolution TEXT,
			reported_by TEXT,
			created_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS journal_entries (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			tool_calls TEXT,
			tool_results TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_actions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_input TEXT,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			old_state TEXT,
			new_state TEXT,
			diff TEXT,
			description TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			decided_by TEXT,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			decided_at DATETIME,
			executed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_org_project ON tasks(org_id, project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_blockers_org_status ON blockers(org_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_org_created ON journal_entries(org_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_conversation ON pending_actions(conversation_id, status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

// ---- projects ----

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, org_id, name, description, status, lead_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, p.Description, p.Status, p.LeadID, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, orgID, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, description, status, lead_id, created_at, updated_at
		 FROM projects WHERE id = ? AND org_id = ?`, id, orgID).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.Status, &p.LeadID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, status = ?, lead_id = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		p.Name, p.Description, p.Status, p.LeadID, p.UpdatedAt, p.ID, p.OrgID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, orgID string) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name, description, status, lead_id, created_at, updated_at
		 FROM projects WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.Status, &p.LeadID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ---- tasks ----

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, org_id, project_id, title, description, status, priority, assignee_id, due_date, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.AssigneeID, t.DueDate, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, orgID, id string) (*models.Task, error) {
	var t models.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, project_id, title, description, status, priority, assignee_id, due_date, created_at, updated_at
		 FROM tasks WHERE id = ? AND org_id = ?`, id, orgID).
		Scan(&t.ID, &t.OrgID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssigneeID, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, t *models.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, assignee_id = ?, due_date = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		t.Title, t.Description, t.Status, t.Priority, t.AssigneeID, t.DueDate, t.UpdatedAt, t.ID, t.OrgID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, orgID string, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT id, org_id, project_id, title, description, status, priority, assignee_id, due_date, created_at, updated_at
		 FROM tasks WHERE org_id = ?`
	args := []any{orgID}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.AssigneeID != "" {
		query += ` AND assignee_id = ?`
		args = append(args, filter.AssigneeID)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.OrgID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssigneeID, &t.DueDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ---- documents ----

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *models.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, org_id, project_id, title, body, category, updated_by, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.OrgID, d.ProjectID, d.Title, d.Body, d.Category, d.UpdatedBy, d.CreatedAt, d.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, orgID, id string) (*models.Document, error) {
	var d models.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, project_id, title, body, category, updated_by, created_at, updated_at
		 FROM documents WHERE id = ? AND org_id = ?`, id, orgID).
		Scan(&d.ID, &d.OrgID, &d.ProjectID, &d.Title, &d.Body, &d.Category, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, body = ?, category = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		d.Title, d.Body, d.Category, d.UpdatedBy, d.UpdatedAt, d.ID, d.OrgID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, orgID, projectID string) ([]*models.Document, error) {
	query := `SELECT id, org_id, project_id, title, body, category, updated_by, created_at, updated_at
		 FROM documents WHERE org_id = ?`
	args := []any{orgID}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *SQLiteStore) SearchDocuments(ctx context.Context, orgID, query string, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, project_id, title, body, category, updated_by, created_at, updated_at
		 FROM documents WHERE org_id = ? AND (title LIKE ? OR body LIKE ?)
		 ORDER BY updated_at DESC LIMIT ?`,
		orgID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]*models.Document, error) {
	var out []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.OrgID, &d.ProjectID, &d.Title, &d.Body, &d.Category, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ---- blockers ----

func (s *SQLiteStore) CreateBlocker(ctx context.Context, b *models.Blocker) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blockers (id, org_id, task_id, description, status, resolution, reported_by, created_at, resolved_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		b.ID, b.OrgID, b.TaskID, b.Description, b.Status, b.Resolution, b.ReportedBy, b.CreatedAt, b.ResolvedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create blocker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBlocker(ctx context.Context, orgID, id string) (*models.Blocker, error) {
	var b models.Blocker
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, task_id, description, status, resolution, reported_by, created_at, resolved_at
		 FROM blockers WHERE id = ? AND org_id = ?`, id, orgID).
		Scan(&b.ID, &b.OrgID, &b.TaskID, &b.Description, &b.Status, &b.Resolution, &b.ReportedBy, &b.CreatedAt, &b.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blocker: %w", err)
	}
	return &b, nil
}

func (s *SQLiteStore) UpdateBlocker(ctx context.Context, b *models.Blocker) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blockers SET description = ?, status = ?, resolution = ?, resolved_at = ?
		 WHERE id = ? AND org_id = ?`,
		b.Description, b.Status, b.Resolution, b.ResolvedAt, b.ID, b.OrgID)
	if err != nil {
		return fmt.Errorf("update blocker: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ListBlockers(ctx context.Context, orgID string, status models.BlockerStatus) ([]*models.Blocker, error) {
	query := `SELECT id, org_id, task_id, description, status, resolution, reported_by, created_at, resolved_at
		 FROM blockers WHERE org_id = ?`
	args := []any{orgID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blockers: %w", err)
	}
	defer rows.Close()

	var out []*models.Blocker
	for rows.Next() {
		var b models.Blocker
		if err := rows.Scan(&b.ID, &b.OrgID, &b.TaskID, &b.Description, &b.Status, &b.Resolution, &b.ReportedBy, &b.CreatedAt, &b.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan blocker: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ---- journal ----

func (s *SQLiteStore) CreateJournalEntry(ctx context.Context, e *models.JournalEntry) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, org_id, project_id, author_id, content, tags, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.OrgID, e.ProjectID, e.AuthorID, e.Content, string(tags), e.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create journal entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListJournalEntries(ctx context.Context, orgID string, filter JournalFilter) ([]*models.JournalEntry, error) {
	query := `SELECT id, org_id, project_id, author_id, content, tags, created_at
		 FROM journal_entries WHERE org_id = ?`
	args := []any{orgID}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.AuthorID != "" {
		query += ` AND author_id = ?`
		args = append(args, filter.AuthorID)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []*models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var tags sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ProjectID, &e.AuthorID, &e.Content, &tags, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ---- conversations ----

func (s *SQLiteStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, org_id, user_id, title, created_at, updated_at)
		 VALUES (?,?,?,?,?,?)`,
		c.ID, c.OrgID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.OrgID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *models.Message) error {
	calls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	results, err := json.Marshal(m.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.Role, m.Content, string(calls), string(results), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `SELECT id, conversation_id, role, content, tool_calls, tool_results, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at`
	args := []any{conversationID}
	if limit > 0 {
		// Keep the most recent messages while preserving chronological order.
		query = `SELECT * FROM (` + strings.Replace(query, "ORDER BY created_at", "ORDER BY created_at DESC LIMIT ?", 1) + `) ORDER BY created_at`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var calls, results sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &calls, &results, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if calls.Valid && calls.String != "" && calls.String != "null" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if results.Valid && results.String != "" && results.String != "null" {
			if err := json.Unmarshal([]byte(results.String), &m.ToolResults); err != nil {
				return nil, fmt.Errorf("unmarshal tool results: %w", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ---- pending actions ----

func (s *SQLiteStore) CreatePendingAction(ctx context.Context, a *models.PendingAction) error {
	oldState, err := json.Marshal(a.OldState)
	if err != nil {
		return fmt.Errorf("marshal old state: %w", err)
	}
	newState, err := json.Marshal(a.NewState)
	if err != nil {
		return fmt.Errorf("marshal new state: %w", err)
	}
	diff, err := json.Marshal(a.Diff)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_actions
		 (id, conversation_id, tool_name, tool_input, entity_type, entity_id, old_state, new_state, diff,
		  description, status, result, error, decided_by, created_at, expires_at, decided_at, executed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ConversationID, a.ToolName, string(a.ToolInput), a.EntityType, a.EntityID,
		string(oldState), string(newState), string(diff),
		a.Description, a.Status, a.Result, a.Error, a.DecidedBy,
		a.CreatedAt, a.ExpiresAt, a.DecidedAt, a.ExecutedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create pending action: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPendingAction(ctx context.Context, id string) (*models.PendingAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, tool_name, tool_input, entity_type, entity_id, old_state, new_state, diff,
		        description, status, result, error, decided_by, created_at, expires_at, decided_at, executed_at
		 FROM pending_actions WHERE id = ?`, id)
	a, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) ListPendingActions(ctx context.Context, conversationID string, now time.Time) ([]*models.PendingAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, tool_name, tool_input, entity_type, entity_id, old_state, new_state, diff,
		        description, status, result, error, decided_by, created_at, expires_at, decided_at, executed_at
		 FROM pending_actions
		 WHERE conversation_id = ? AND status = ? AND expires_at > ?
		 ORDER BY created_at`,
		conversationID, models.ActionPending, now)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TransitionPendingAction(ctx context.Context, id string, from, to models.PendingActionStatus, decidedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET status = ?, decided_by = ?, decided_at = ?
		 WHERE id = ? AND status = ?`,
		to, decidedBy, at, id, from)
	if err != nil {
		return fmt.Errorf("transition pending action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition pending action: %w", err)
	}
	if n == 0 {
		// Either the row doesn't exist or it was not in the expected status.
		if _, err := s.GetPendingAction(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) FinishPendingAction(ctx context.Context, id string, status models.PendingActionStatus, result, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET status = ?, result = ?, error = ?, executed_at = ?
		 WHERE id = ?`,
		status, result, errMsg, at, id)
	if err != nil {
		return fmt.Errorf("finish pending action: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(row rowScanner) (*models.PendingAction, error) {
	var a models.PendingAction
	var toolInput, oldState, newState, diff sql.NullString
	err := row.Scan(&a.ID, &a.ConversationID, &a.ToolName, &toolInput, &a.EntityType, &a.EntityID,
		&oldState, &newState, &diff,
		&a.Description, &a.Status, &a.Result, &a.Error, &a.DecidedBy,
		&a.CreatedAt, &a.ExpiresAt, &a.DecidedAt, &a.ExecutedAt)
	if err != nil {
		return nil, err
	}
	if toolInput.Valid && toolInput.String != "" {
		a.ToolInput = json.RawMessage(toolInput.String)
	}
	if err := unmarshalJSONColumn(oldState, &a.OldState); err != nil {
		return nil, fmt.Errorf("unmarshal old state: %w", err)
	}
	if err := unmarshalJSONColumn(newState, &a.NewState); err != nil {
		return nil, fmt.Errorf("unmarshal new state: %w", err)
	}
	if err := unmarshalJSONColumn(diff, &a.Diff); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return &a, nil
}

func unmarshalJSONColumn(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
