package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasklane/api/internal/position"
)

// ErrNotFound covers any lookup scoped to an organization that matches no
// row. Cross-tenant ids surface exactly like missing ones.
var ErrNotFound = errors.New("not found")

// Store is the relational backend. The same implementation serves postgres
// (production) and the embedded sqlite backend (local mode and tests); the
// dialect handles placeholder and error-code differences.
type Store struct {
	db *sql.DB
	d  dialect
}

func NewPostgres(db *sql.DB) *Store {
	return &Store{db: db, d: dialectPostgres}
}

func NewSQLite(db *sql.DB) *Store {
	return &Store{db: db, d: dialectSQLite}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// dbtx is satisfied by *sql.DB and *sql.Tx so query helpers run in or out
// of transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ---------------------------------------------------------------------------
// Organizations and users

func (s *Store) CreateOrganization(ctx context.Context, org Organization) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO organizations (id, name, created_at)
		VALUES (?, ?, ?)
	`), org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO users (id, organization_id, email, display_name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), user.ID, user.OrgID, user.Email, user.DisplayName, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, organization_id, email, display_name, password_hash, role, created_at
		FROM users WHERE email = ?
	`), email).Scan(&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	return getUser(ctx, s.db, s.d, id, "")
}

func getUser(ctx context.Context, q dbtx, d dialect, id, orgID string) (User, error) {
	query := `
		SELECT id, organization_id, email, display_name, password_hash, role, created_at
		FROM users WHERE id = ?`
	args := []any{id}
	if orgID != "" {
		query += ` AND organization_id = ?`
		args = append(args, orgID)
	}
	var u User
	err := q.QueryRowContext(ctx, d.rebind(query), args...).Scan(
		&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Projects, statuses, categories

func (s *Store) CreateProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO projects (id, organization_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), p.ID, p.OrgID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, organization_id, name, description, created_at, updated_at
		FROM projects WHERE organization_id = ?
		ORDER BY created_at
	`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *Store) GetProject(ctx context.Context, id, orgID string) (Project, error) {
	return getProject(ctx, s.db, s.d, id, orgID)
}

func getProject(ctx context.Context, q dbtx, d dialect, id, orgID string) (Project, error) {
	var p Project
	err := q.QueryRowContext(ctx, d.rebind(`
		SELECT id, organization_id, name, description, created_at, updated_at
		FROM projects WHERE id = ? AND organization_id = ?
	`), id, orgID).Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *Store) CreateStatus(ctx context.Context, st TaskStatus) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO task_statuses (id, organization_id, project_id, name, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), st.ID, st.OrgID, st.ProjectID, st.Name, st.SortOrder, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("create status: %w", err)
	}
	return nil
}

func (s *Store) ListStatuses(ctx context.Context, projectID, orgID string) ([]TaskStatus, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, organization_id, project_id, name, sort_order, created_at
		FROM task_statuses WHERE project_id = ? AND organization_id = ?
		ORDER BY sort_order, created_at
	`), projectID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	items := make([]TaskStatus, 0)
	for rows.Next() {
		var st TaskStatus
		if err := rows.Scan(&st.ID, &st.OrgID, &st.ProjectID, &st.Name, &st.SortOrder, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		items = append(items, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return items, nil
}

func (s *Store) GetStatus(ctx context.Context, id, orgID string) (TaskStatus, error) {
	return getStatus(ctx, s.db, s.d, id, orgID)
}

func getStatus(ctx context.Context, q dbtx, d dialect, id, orgID string) (TaskStatus, error) {
	var st TaskStatus
	err := q.QueryRowContext(ctx, d.rebind(`
		SELECT id, organization_id, project_id, name, sort_order, created_at
		FROM task_statuses WHERE id = ? AND organization_id = ?
	`), id, orgID).Scan(&st.ID, &st.OrgID, &st.ProjectID, &st.Name, &st.SortOrder, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskStatus{}, ErrNotFound
	}
	if err != nil {
		return TaskStatus{}, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

func firstStatus(ctx context.Context, q dbtx, d dialect, projectID, orgID string) (TaskStatus, error) {
	var st TaskStatus
	err := q.QueryRowContext(ctx, d.rebind(`
		SELECT id, organization_id, project_id, name, sort_order, created_at
		FROM task_statuses WHERE project_id = ? AND organization_id = ?
		ORDER BY sort_order, created_at
		LIMIT 1
	`), projectID, orgID).Scan(&st.ID, &st.OrgID, &st.ProjectID, &st.Name, &st.SortOrder, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskStatus{}, ErrNotFound
	}
	if err != nil {
		return TaskStatus{}, fmt.Errorf("first status: %w", err)
	}
	return st, nil
}

func (s *Store) CreateCategory(ctx context.Context, c Category) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO categories (id, organization_id, name) VALUES (?, ?, ?)
	`), c.ID, c.OrgID, c.Name)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func getCategory(ctx context.Context, q dbtx, d dialect, id, orgID string) (Category, error) {
	var c Category
	err := q.QueryRowContext(ctx, d.rebind(`
		SELECT id, organization_id, name FROM categories WHERE id = ? AND organization_id = ?
	`), id, orgID).Scan(&c.ID, &c.OrgID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	if err != nil {
		return Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Tasks

const taskColumns = `
	id, organization_id, project_id, status_id, position, title, description,
	assignee_id, category_id, priority, start_date, due_date, created_by,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.OrgID, &t.ProjectID, &t.StatusID, &t.Position, &t.Title,
		&t.Description, &t.AssigneeID, &t.CategoryID, &t.Priority,
		&t.StartDate, &t.DueDate, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, id, orgID string) (Task, error) {
	return getTask(ctx, s.db, s.d, id, orgID)
}

func getTask(ctx context.Context, q dbtx, d dialect, id, orgID string) (Task, error) {
	row := q.QueryRowContext(ctx, d.rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ? AND organization_id = ?
	`), id, orgID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasksByStatus returns one column of the board, ordered by position.
func (s *Store) ListTasksByStatus(ctx context.Context, projectID, statusID, orgID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND status_id = ? AND organization_id = ? AND position >= 1
		ORDER BY position
	`), projectID, statusID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	return collectTasks(rows)
}

func (s *Store) ListTasksByIDs(ctx context.Context, ids []string, orgID string) ([]Task, error) {
	return listTasksByIDs(ctx, s.db, s.d, ids, orgID)
}

func listTasksByIDs(ctx context.Context, q dbtx, d dialect, ids []string, orgID string) ([]Task, error) {
	if len(ids) == 0 {
		return []Task{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, orgID)
	rows, err := q.QueryContext(ctx, d.rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (`+placeholders(len(ids))+`) AND organization_id = ?
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks by ids: %w", err)
	}
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()
	items := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Change records

func insertChangeRecord(ctx context.Context, q dbtx, d dialect, rec ChangeRecord) error {
	payload, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal change set: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = q.ExecContext(ctx, d.rebind(`
		INSERT INTO change_records (task_id, organization_id, actor_id, change_set, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), rec.TaskID, rec.OrgID, rec.ActorID, string(payload), created)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

func (s *Store) ListChangeRecords(ctx context.Context, taskID, orgID string) ([]ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, task_id, organization_id, actor_id, change_set, created_at
		FROM change_records
		WHERE task_id = ? AND organization_id = ?
		ORDER BY id
	`), taskID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list change records: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeRecord, 0)
	for rows.Next() {
		var rec ChangeRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.OrgID, &rec.ActorID, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Changes); err != nil {
			return nil, fmt.Errorf("decode change set: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change records: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Position store adapters

// BoardPositions exposes the tasks table as a placement store keyed by
// (project, status).
func (s *Store) BoardPositions() position.Store {
	return &boardStore{db: s.db, d: s.d}
}

// ContextPositions exposes the task_positions table as a placement store
// keyed by (context, context id).
func (s *Store) ContextPositions() position.Store {
	return &contextStore{db: s.db, d: s.d}
}
