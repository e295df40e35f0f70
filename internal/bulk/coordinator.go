// Package bulk applies one field change to many tasks in a single
// transaction, writing exactly one history record per task that actually
// changed. Status and project changes route through the position engine's
// append policy; every other field is a snapshot-apply-diff.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tasklane/api/internal/position"
	"tasklane/api/internal/store"
)

// Field is the closed set of bulk-editable task fields.
type Field string

const (
	FieldStatus    Field = "status"
	FieldProject   Field = "project"
	FieldAssignee  Field = "assignee"
	FieldCategory  Field = "category"
	FieldPriority  Field = "priority"
	FieldStartDate Field = "start_date"
	FieldDueDate   Field = "due_date"
)

var (
	ErrUnknownField = errors.New("unknown bulk field")
	ErrInvalidValue = errors.New("invalid bulk value")
)

// ParseField validates a wire-level field name against the closed set.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if _, ok := appliers[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// Store is the transactional backend the coordinator runs against.
type Store interface {
	InTaskTx(ctx context.Context, fn func(tx store.TaskTx) error) error
}

type Coordinator struct {
	store Store
}

func New(s Store) *Coordinator {
	return &Coordinator{store: s}
}

// Request is one bulk edit: set Field to Value on every task in ItemIDs.
// An empty Value clears nullable fields (assignee, category, dates).
type Request struct {
	ItemIDs []string
	Field   Field
	Value   string
	ActorID string
	OrgID   string
}

// outcome reports what an applier did to one task.
type outcome struct {
	// diff is set when the field changed in place; the coordinator persists
	// the row and the history record.
	diff *store.FieldDiff
	// moved is set when the applier relocated the task through the position
	// engine, which already wrote the row and its history record.
	moved bool
}

type applier func(ctx context.Context, tx store.TaskTx, task *store.Task, value, actorID string) (outcome, error)

// appliers is the dispatch table over the closed field set. Adding a field
// means adding exactly one entry here.
var appliers map[Field]applier

func init() {
	appliers = map[Field]applier{
		FieldStatus:    applyStatus,
		FieldProject:   applyProject,
		FieldAssignee:  applyAssignee,
		FieldCategory:  applyCategory,
		FieldPriority:  applyPriority,
		FieldStartDate: applyDate("start_date", func(t *store.Task) **string { return &t.StartDate }),
		FieldDueDate:   applyDate("due_date", func(t *store.Task) **string { return &t.DueDate }),
	}
}

// ApplyBulk mutates every task in one transaction; a failure on any task
// aborts the whole batch. The returned tasks follow the input id order.
func (c *Coordinator) ApplyBulk(ctx context.Context, req Request) ([]store.Task, error) {
	if len(req.ItemIDs) == 0 {
		return []store.Task{}, nil
	}
	apply, ok := appliers[req.Field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, req.Field)
	}

	var updated []store.Task
	err := c.store.InTaskTx(ctx, func(tx store.TaskTx) error {
		for _, id := range req.ItemIDs {
			task, err := tx.GetTask(ctx, id, req.OrgID)
			if err != nil {
				return err
			}
			out, err := apply(ctx, tx, &task, req.Value, req.ActorID)
			if err != nil {
				return err
			}
			if out.diff != nil {
				if err := tx.UpdateTaskMeta(ctx, task); err != nil {
					return err
				}
				rec := store.ChangeRecord{
					TaskID:  task.ID,
					OrgID:   req.OrgID,
					ActorID: req.ActorID,
					Changes: store.ChangeSet{string(req.Field): *out.diff},
				}
				if err := tx.InsertChangeRecord(ctx, rec); err != nil {
					return err
				}
			}
		}

		tasks, err := tx.ListTasksByIDs(ctx, req.ItemIDs, req.OrgID)
		if err != nil {
			return err
		}
		byID := make(map[string]store.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		updated = updated[:0]
		for _, id := range req.ItemIDs {
			updated = append(updated, byID[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyStatus moves the task to the back of the destination column. The
// engine records the status change with resolved names in the same
// transaction.
func applyStatus(ctx context.Context, tx store.TaskTx, task *store.Task, value, actorID string) (outcome, error) {
	dest, err := tx.GetStatus(ctx, value, task.OrgID)
	if err != nil {
		return outcome{}, err
	}
	if dest.ProjectID != task.ProjectID {
		return outcome{}, fmt.Errorf("%w: status %s belongs to another project", ErrInvalidValue, value)
	}
	if task.StatusID == value {
		return outcome{}, nil
	}
	from, err := tx.GetStatus(ctx, task.StatusID, task.OrgID)
	if err != nil {
		return outcome{}, err
	}
	to, err := position.BoardPartition(task.OrgID, task.ProjectID, dest.ID)
	if err != nil {
		return outcome{}, err
	}
	_, err = position.MoveTx(ctx, tx.Board(), position.MoveRequest{
		ItemID:    task.ID,
		OrgID:     task.OrgID,
		To:        to,
		Position:  position.End,
		ActorID:   actorID,
		Field:     string(FieldStatus),
		FromLabel: from.Name,
		ToLabel:   dest.Name,
	})
	if err != nil {
		return outcome{}, err
	}
	task.StatusID = dest.ID
	return outcome{moved: true}, nil
}

// applyProject relocates the task onto the destination project's first
// column, appended at the back.
func applyProject(ctx context.Context, tx store.TaskTx, task *store.Task, value, actorID string) (outcome, error) {
	if task.ProjectID == value {
		return outcome{}, nil
	}
	dest, err := tx.GetProject(ctx, value, task.OrgID)
	if err != nil {
		return outcome{}, err
	}
	from, err := tx.GetProject(ctx, task.ProjectID, task.OrgID)
	if err != nil {
		return outcome{}, err
	}
	firstStatus, err := tx.FirstStatus(ctx, dest.ID, task.OrgID)
	if err != nil {
		return outcome{}, fmt.Errorf("destination project has no statuses: %w", err)
	}
	to, err := position.BoardPartition(task.OrgID, dest.ID, firstStatus.ID)
	if err != nil {
		return outcome{}, err
	}
	_, err = position.MoveTx(ctx, tx.Board(), position.MoveRequest{
		ItemID:    task.ID,
		OrgID:     task.OrgID,
		To:        to,
		Position:  position.End,
		ActorID:   actorID,
		Field:     string(FieldProject),
		FromLabel: from.Name,
		ToLabel:   dest.Name,
	})
	if err != nil {
		return outcome{}, err
	}
	task.ProjectID = dest.ID
	task.StatusID = firstStatus.ID
	return outcome{moved: true}, nil
}

func applyAssignee(ctx context.Context, tx store.TaskTx, task *store.Task, value, _ string) (outcome, error) {
	current := ""
	if task.AssigneeID != nil {
		current = *task.AssigneeID
	}
	if current == value {
		return outcome{}, nil
	}

	fromName := ""
	if current != "" {
		u, err := tx.GetUser(ctx, current, task.OrgID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return outcome{}, err
		}
		fromName = u.DisplayName
	}
	toName := ""
	if value != "" {
		u, err := tx.GetUser(ctx, value, task.OrgID)
		if err != nil {
			return outcome{}, err
		}
		toName = u.DisplayName
		task.AssigneeID = &u.ID
	} else {
		task.AssigneeID = nil
	}
	return outcome{diff: &store.FieldDiff{From: fromName, To: toName}}, nil
}

func applyCategory(ctx context.Context, tx store.TaskTx, task *store.Task, value, _ string) (outcome, error) {
	current := ""
	if task.CategoryID != nil {
		current = *task.CategoryID
	}
	if current == value {
		return outcome{}, nil
	}

	fromName := ""
	if current != "" {
		c, err := tx.GetCategory(ctx, current, task.OrgID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return outcome{}, err
		}
		fromName = c.Name
	}
	toName := ""
	if value != "" {
		c, err := tx.GetCategory(ctx, value, task.OrgID)
		if err != nil {
			return outcome{}, err
		}
		toName = c.Name
		task.CategoryID = &c.ID
	} else {
		task.CategoryID = nil
	}
	return outcome{diff: &store.FieldDiff{From: fromName, To: toName}}, nil
}

func applyPriority(_ context.Context, _ store.TaskTx, task *store.Task, value, _ string) (outcome, error) {
	if !store.ValidPriority(value) {
		return outcome{}, fmt.Errorf("%w: priority %q", ErrInvalidValue, value)
	}
	if task.Priority == value {
		return outcome{}, nil
	}
	diff := &store.FieldDiff{From: task.Priority, To: value}
	task.Priority = value
	return outcome{diff: diff}, nil
}

func applyDate(name string, field func(*store.Task) **string) applier {
	return func(_ context.Context, _ store.TaskTx, task *store.Task, value, _ string) (outcome, error) {
		if value != "" {
			if _, err := time.Parse("2006-01-02", value); err != nil {
				return outcome{}, fmt.Errorf("%w: %s %q is not YYYY-MM-DD", ErrInvalidValue, name, value)
			}
		}
		slot := field(task)
		current := ""
		if *slot != nil {
			current = **slot
		}
		if current == value {
			return outcome{}, nil
		}
		diff := &store.FieldDiff{From: current, To: value}
		if value == "" {
			*slot = nil
		} else {
			v := value
			*slot = &v
		}
		return outcome{diff: diff}, nil
	}
}
