package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasklane/api/internal/position"
)

// boardStore drives placements on the tasks table itself: a task's board
// slot is its (project_id, status_id, position) columns.
type boardStore struct {
	db *sql.DB
	d  dialect
}

func (s *boardStore) InTx(ctx context.Context, fn func(tx position.Tx) error) error {
	return runTx(ctx, s.db, s.d, func(tx *sql.Tx) error {
		return fn(&boardTx{tx: tx, d: s.d})
	})
}

// contextStore drives the standalone task_positions table, which lets a
// task hold independent slots in named-context orderings without touching
// its board position.
type contextStore struct {
	db *sql.DB
	d  dialect
}

func (s *contextStore) InTx(ctx context.Context, fn func(tx position.Tx) error) error {
	return runTx(ctx, s.db, s.d, func(tx *sql.Tx) error {
		return fn(&contextTx{tx: tx, d: s.d})
	})
}

func runTx(ctx context.Context, db *sql.DB, d dialect, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", d.translate(err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", d.translate(err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Board placements

type boardTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *boardTx) Placement(ctx context.Context, itemID string, p position.Partition) (position.Placement, error) {
	return boardPlacement(ctx, t.tx, t.d, itemID, p.OrgID)
}

func (t *boardTx) PlacementsOf(ctx context.Context, itemID, orgID string) ([]position.Placement, error) {
	pl, err := boardPlacement(ctx, t.tx, t.d, itemID, orgID)
	if errors.Is(err, position.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []position.Placement{pl}, nil
}

func boardPlacement(ctx context.Context, q dbtx, d dialect, itemID, orgID string) (position.Placement, error) {
	var pl position.Placement
	var projectID, statusID string
	err := q.QueryRowContext(ctx, d.rebind(`
		SELECT project_id, status_id, position FROM tasks
		WHERE id = ? AND organization_id = ?
	`), itemID, orgID).Scan(&projectID, &statusID, &pl.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return position.Placement{}, position.ErrNotFound
	}
	if err != nil {
		return position.Placement{}, fmt.Errorf("board placement: %w", d.translate(err))
	}
	pl.ItemID = itemID
	pl.Partition = position.Partition{OrgID: orgID, ProjectID: projectID, StatusID: statusID}
	return pl, nil
}

func (t *boardTx) ListPartition(ctx context.Context, p position.Partition) ([]position.Placement, error) {
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(`
		SELECT id, position FROM tasks
		WHERE organization_id = ? AND project_id = ? AND status_id = ? AND position >= 1
		ORDER BY position
	`), p.OrgID, p.ProjectID, p.StatusID)
	if err != nil {
		return nil, fmt.Errorf("list board partition: %w", t.d.translate(err))
	}
	return collectPlacements(rows, p)
}

func (t *boardTx) CountPartition(ctx context.Context, p position.Partition) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, t.d.rebind(`
		SELECT COUNT(*) FROM tasks
		WHERE organization_id = ? AND project_id = ? AND status_id = ? AND position >= 1
	`), p.OrgID, p.ProjectID, p.StatusID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count board partition: %w", t.d.translate(err))
	}
	return n, nil
}

func (t *boardTx) Assign(ctx context.Context, itemID string, p position.Partition, pos int) error {
	res, err := t.tx.ExecContext(ctx, t.d.rebind(`
		UPDATE tasks SET project_id = ?, status_id = ?, position = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`), p.ProjectID, p.StatusID, pos, time.Now().UTC(), itemID, p.OrgID)
	if err != nil {
		return fmt.Errorf("assign board position: %w", t.d.translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign board position: %w", err)
	}
	if n == 0 {
		return position.ErrNotFound
	}
	return nil
}

func (t *boardTx) OffsetRange(ctx context.Context, p position.Partition, lo, hi int) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		UPDATE tasks SET position = position + ?
		WHERE organization_id = ? AND project_id = ? AND status_id = ?
			AND position BETWEEN ? AND ?
	`), position.ShiftOffset, p.OrgID, p.ProjectID, p.StatusID, lo, hi)
	if err != nil {
		return fmt.Errorf("offset board range: %w", t.d.translate(err))
	}
	return nil
}

func (t *boardTx) SettleRange(ctx context.Context, p position.Partition, lo, hi, delta int) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		UPDATE tasks SET position = position - ? + ?
		WHERE organization_id = ? AND project_id = ? AND status_id = ?
			AND position BETWEEN ? AND ?
	`), position.ShiftOffset, delta, p.OrgID, p.ProjectID, p.StatusID,
		lo+position.ShiftOffset, hi+position.ShiftOffset)
	if err != nil {
		return fmt.Errorf("settle board range: %w", t.d.translate(err))
	}
	return nil
}

func (t *boardTx) DeleteItems(ctx context.Context, itemIDs []string, orgID string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(itemIDs)+1)
	for _, id := range itemIDs {
		args = append(args, id)
	}
	args = append(args, orgID)
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		DELETE FROM tasks WHERE id IN (`+placeholders(len(itemIDs))+`) AND organization_id = ?
	`), args...)
	if err != nil {
		return fmt.Errorf("delete tasks: %w", t.d.translate(err))
	}
	return nil
}

func (t *boardTx) InsertChange(ctx context.Context, change position.Change) error {
	return insertChangeRecord(ctx, t.tx, t.d, ChangeRecord{
		TaskID:  change.ItemID,
		OrgID:   change.OrgID,
		ActorID: change.ActorID,
		Changes: ChangeSet{change.Field: {From: change.From, To: change.To}},
	})
}

// ---------------------------------------------------------------------------
// Context placements

type contextTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *contextTx) Placement(ctx context.Context, itemID string, p position.Partition) (position.Placement, error) {
	var pl position.Placement
	var contextID string
	err := t.tx.QueryRowContext(ctx, t.d.rebind(`
		SELECT context_id, position FROM task_positions
		WHERE task_id = ? AND organization_id = ? AND context = ?
	`), itemID, p.OrgID, p.Context).Scan(&contextID, &pl.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return position.Placement{}, position.ErrNotFound
	}
	if err != nil {
		return position.Placement{}, fmt.Errorf("context placement: %w", t.d.translate(err))
	}
	pl.ItemID = itemID
	pl.Partition = position.Partition{OrgID: p.OrgID, Context: p.Context, ContextID: contextID}
	return pl, nil
}

func (t *contextTx) PlacementsOf(ctx context.Context, itemID, orgID string) ([]position.Placement, error) {
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(`
		SELECT context, context_id, position FROM task_positions
		WHERE task_id = ? AND organization_id = ?
	`), itemID, orgID)
	if err != nil {
		return nil, fmt.Errorf("context placements: %w", t.d.translate(err))
	}
	defer rows.Close()

	var items []position.Placement
	for rows.Next() {
		pl := position.Placement{ItemID: itemID}
		var name, contextID string
		if err := rows.Scan(&name, &contextID, &pl.Position); err != nil {
			return nil, fmt.Errorf("scan context placement: %w", err)
		}
		pl.Partition = position.Partition{OrgID: orgID, Context: name, ContextID: contextID}
		items = append(items, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context placements: %w", err)
	}
	return items, nil
}

func (t *contextTx) ListPartition(ctx context.Context, p position.Partition) ([]position.Placement, error) {
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(`
		SELECT task_id, position FROM task_positions
		WHERE organization_id = ? AND context = ? AND context_id = ? AND position >= 1
		ORDER BY position
	`), p.OrgID, p.Context, p.ContextID)
	if err != nil {
		return nil, fmt.Errorf("list context partition: %w", t.d.translate(err))
	}
	return collectPlacements(rows, p)
}

func (t *contextTx) CountPartition(ctx context.Context, p position.Partition) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, t.d.rebind(`
		SELECT COUNT(*) FROM task_positions
		WHERE organization_id = ? AND context = ? AND context_id = ? AND position >= 1
	`), p.OrgID, p.Context, p.ContextID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count context partition: %w", t.d.translate(err))
	}
	return n, nil
}

func (t *contextTx) Assign(ctx context.Context, itemID string, p position.Partition, pos int) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		INSERT INTO task_positions (task_id, organization_id, context, context_id, position)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task_id, context) DO UPDATE SET
			context_id = excluded.context_id,
			position = excluded.position
	`), itemID, p.OrgID, p.Context, p.ContextID, pos)
	if err != nil {
		return fmt.Errorf("assign context position: %w", t.d.translate(err))
	}
	return nil
}

func (t *contextTx) OffsetRange(ctx context.Context, p position.Partition, lo, hi int) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		UPDATE task_positions SET position = position + ?
		WHERE organization_id = ? AND context = ? AND context_id = ?
			AND position BETWEEN ? AND ?
	`), position.ShiftOffset, p.OrgID, p.Context, p.ContextID, lo, hi)
	if err != nil {
		return fmt.Errorf("offset context range: %w", t.d.translate(err))
	}
	return nil
}

func (t *contextTx) SettleRange(ctx context.Context, p position.Partition, lo, hi, delta int) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		UPDATE task_positions SET position = position - ? + ?
		WHERE organization_id = ? AND context = ? AND context_id = ?
			AND position BETWEEN ? AND ?
	`), position.ShiftOffset, delta, p.OrgID, p.Context, p.ContextID,
		lo+position.ShiftOffset, hi+position.ShiftOffset)
	if err != nil {
		return fmt.Errorf("settle context range: %w", t.d.translate(err))
	}
	return nil
}

func (t *contextTx) DeleteItems(ctx context.Context, itemIDs []string, orgID string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(itemIDs)+1)
	for _, id := range itemIDs {
		args = append(args, id)
	}
	args = append(args, orgID)
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		DELETE FROM task_positions
		WHERE task_id IN (`+placeholders(len(itemIDs))+`) AND organization_id = ?
	`), args...)
	if err != nil {
		return fmt.Errorf("delete context positions: %w", t.d.translate(err))
	}
	return nil
}

func (t *contextTx) InsertChange(ctx context.Context, change position.Change) error {
	return insertChangeRecord(ctx, t.tx, t.d, ChangeRecord{
		TaskID:  change.ItemID,
		OrgID:   change.OrgID,
		ActorID: change.ActorID,
		Changes: ChangeSet{change.Field: {From: change.From, To: change.To}},
	})
}

func collectPlacements(rows *sql.Rows, p position.Partition) ([]position.Placement, error) {
	defer rows.Close()
	items := make([]position.Placement, 0)
	for rows.Next() {
		pl := position.Placement{Partition: p}
		if err := rows.Scan(&pl.ItemID, &pl.Position); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		items = append(items, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placements: %w", err)
	}
	return items, nil
}
