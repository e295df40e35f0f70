package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tasklane/api/internal/position"
)

// TaskTx is the transaction surface for operations that touch task rows,
// history, and placements together: creation, deletion, and bulk edits.
// Board() and Context() expose the same underlying transaction as placement
// stores, so position shifts commit or roll back with the rest.
type TaskTx interface {
	InsertTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id, orgID string) (Task, error)
	ListTasksByIDs(ctx context.Context, ids []string, orgID string) ([]Task, error)
	UpdateTaskMeta(ctx context.Context, t Task) error
	InsertChangeRecord(ctx context.Context, rec ChangeRecord) error
	GetStatus(ctx context.Context, id, orgID string) (TaskStatus, error)
	FirstStatus(ctx context.Context, projectID, orgID string) (TaskStatus, error)
	GetProject(ctx context.Context, id, orgID string) (Project, error)
	GetUser(ctx context.Context, id, orgID string) (User, error)
	GetCategory(ctx context.Context, id, orgID string) (Category, error)
	Board() position.Tx
	Context() position.Tx
}

// InTaskTx runs fn inside one transaction; any error rolls everything back.
func (s *Store) InTaskTx(ctx context.Context, fn func(tx TaskTx) error) error {
	return runTx(ctx, s.db, s.d, func(tx *sql.Tx) error {
		return fn(&taskTx{tx: tx, d: s.d})
	})
}

type taskTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *taskTx) InsertTask(ctx context.Context, task Task) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.OrgID, task.ProjectID, task.StatusID, task.Position,
		task.Title, task.Description, task.AssigneeID, task.CategoryID,
		task.Priority, task.StartDate, task.DueDate, task.CreatedBy,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", t.d.translate(err))
	}
	return nil
}

func (t *taskTx) GetTask(ctx context.Context, id, orgID string) (Task, error) {
	return getTask(ctx, t.tx, t.d, id, orgID)
}

func (t *taskTx) ListTasksByIDs(ctx context.Context, ids []string, orgID string) ([]Task, error) {
	return listTasksByIDs(ctx, t.tx, t.d, ids, orgID)
}

// UpdateTaskMeta writes the task's non-positional fields. Partition columns
// and position belong to the board placement store.
func (t *taskTx) UpdateTaskMeta(ctx context.Context, task Task) error {
	res, err := t.tx.ExecContext(ctx, t.d.rebind(`
		UPDATE tasks SET
			title = ?, description = ?, assignee_id = ?, category_id = ?,
			priority = ?, start_date = ?, due_date = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`), task.Title, task.Description, task.AssigneeID, task.CategoryID,
		task.Priority, task.StartDate, task.DueDate, time.Now().UTC(),
		task.ID, task.OrgID)
	if err != nil {
		return fmt.Errorf("update task: %w", t.d.translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *taskTx) InsertChangeRecord(ctx context.Context, rec ChangeRecord) error {
	return insertChangeRecord(ctx, t.tx, t.d, rec)
}

func (t *taskTx) GetStatus(ctx context.Context, id, orgID string) (TaskStatus, error) {
	return getStatus(ctx, t.tx, t.d, id, orgID)
}

func (t *taskTx) FirstStatus(ctx context.Context, projectID, orgID string) (TaskStatus, error) {
	return firstStatus(ctx, t.tx, t.d, projectID, orgID)
}

func (t *taskTx) GetProject(ctx context.Context, id, orgID string) (Project, error) {
	return getProject(ctx, t.tx, t.d, id, orgID)
}

func (t *taskTx) GetUser(ctx context.Context, id, orgID string) (User, error) {
	return getUser(ctx, t.tx, t.d, id, orgID)
}

func (t *taskTx) GetCategory(ctx context.Context, id, orgID string) (Category, error) {
	return getCategory(ctx, t.tx, t.d, id, orgID)
}

func (t *taskTx) Board() position.Tx {
	return &boardTx{tx: t.tx, d: t.d}
}

func (t *taskTx) Context() position.Tx {
	return &contextTx{tx: t.tx, d: t.d}
}
