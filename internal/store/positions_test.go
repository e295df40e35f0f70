package store

import (
	"context"
	"errors"
	"testing"

	"tasklane/api/internal/position"
)

func TestBoardEngineReorderWithinColumn(t *testing.T) {
	f := newBoardFixture(t, "To Do")
	col := f.statuses[0].ID
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		f.addTask(t, id, id, col)
	}
	engine := position.NewEngine(f.store.BoardPositions())

	part, err := position.BoardPartition(f.orgID, f.project.ID, col)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	res, err := engine.Move(context.Background(), position.MoveRequest{
		ItemID: "t1", OrgID: f.orgID, To: part, Position: 3,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Moved {
		t.Fatal("expected Moved")
	}
	assertColumn(t, f.column(t, col), "t2", "t3", "t1", "t4")

	// Reordering inside a column never writes history.
	records, err := f.store.ListChangeRecords(context.Background(), "t1", f.orgID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("same-column move wrote %d records", len(records))
	}
}

func TestBoardEngineCrossColumnMove(t *testing.T) {
	f := newBoardFixture(t, "To Do", "Doing")
	todo, doing := f.statuses[0].ID, f.statuses[1].ID
	for _, id := range []string{"t1", "t2", "t3"} {
		f.addTask(t, id, id, todo)
	}
	f.addTask(t, "d1", "d1", doing)
	engine := position.NewEngine(f.store.BoardPositions())

	part, _ := position.BoardPartition(f.orgID, f.project.ID, doing)
	res, err := engine.Move(context.Background(), position.MoveRequest{
		ItemID: "t2", OrgID: f.orgID, To: part, Position: 1,
		ActorID: f.userID, Field: "status",
		FromLabel: "To Do", ToLabel: "Doing",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	assertColumn(t, f.column(t, todo), "t1", "t3")
	assertColumn(t, f.column(t, doing), "t2", "d1")
	if res.Source == nil || len(res.Source) != 2 {
		t.Fatalf("source ordering: %+v", res.Source)
	}

	task, err := f.store.GetTask(context.Background(), "t2", f.orgID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.StatusID != doing || task.Position != 1 {
		t.Fatalf("row not updated: %+v", task)
	}

	records, err := f.store.ListChangeRecords(context.Background(), "t2", f.orgID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	diff := records[0].Changes["status"]
	if diff.From != "To Do" || diff.To != "Doing" {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if records[0].ActorID != f.userID {
		t.Fatalf("actor: %s", records[0].ActorID)
	}
}

func TestBoardEngineRemoveBatch(t *testing.T) {
	f := newBoardFixture(t, "To Do")
	col := f.statuses[0].ID
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		f.addTask(t, id, id, col)
	}
	engine := position.NewEngine(f.store.BoardPositions())

	if err := engine.RemoveBatch(context.Background(), []string{"t1", "t3"}, f.orgID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertColumn(t, f.column(t, col), "t2", "t4", "t5")

	if _, err := f.store.GetTask(context.Background(), "t1", f.orgID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("t1 survived: %v", err)
	}
}

func TestContextEngineIndependentOfBoard(t *testing.T) {
	f := newBoardFixture(t, "To Do")
	col := f.statuses[0].ID
	for _, id := range []string{"t1", "t2", "t3"} {
		f.addTask(t, id, id, col)
	}
	contexts := position.NewEngine(f.store.ContextPositions())
	ctx := context.Background()

	part, err := position.ContextPartition(f.orgID, position.ContextProject, f.project.ID)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}

	// Enter the ordering in reverse of board order.
	for i, id := range []string{"t3", "t2", "t1"} {
		if _, err := contexts.Place(ctx, position.MoveRequest{
			ItemID: id, OrgID: f.orgID, To: part, Position: i + 1,
		}); err != nil {
			t.Fatalf("place %s: %v", id, err)
		}
	}

	placements, err := contexts.List(ctx, part)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(placements) != 3 {
		t.Fatalf("ordering size %d", len(placements))
	}
	for i, want := range []string{"t3", "t2", "t1"} {
		if placements[i].ItemID != want || placements[i].Position != i+1 {
			t.Fatalf("slot %d: %+v", i+1, placements[i])
		}
	}

	// The board ordering is untouched.
	assertColumn(t, f.column(t, col), "t1", "t2", "t3")

	// Deleting the tasks clears both orderings in one transaction.
	err = f.store.InTaskTx(ctx, func(tx TaskTx) error {
		if err := position.RemoveBatchTx(ctx, tx.Context(), []string{"t2"}, f.orgID); err != nil {
			return err
		}
		return position.RemoveBatchTx(ctx, tx.Board(), []string{"t2"}, f.orgID)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertColumn(t, f.column(t, col), "t1", "t3")
	placements, err = contexts.List(ctx, part)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	for i, want := range []string{"t3", "t1"} {
		if placements[i].ItemID != want || placements[i].Position != i+1 {
			t.Fatalf("slot %d after delete: %+v", i+1, placements[i])
		}
	}
}

func TestContextAssignMovesBetweenContextIDs(t *testing.T) {
	f := newBoardFixture(t, "To Do")
	col := f.statuses[0].ID
	f.addTask(t, "t1", "t1", col)
	f.addTask(t, "t2", "t2", col)
	contexts := position.NewEngine(f.store.ContextPositions())
	ctx := context.Background()

	global, _ := position.ContextPartition(f.orgID, position.ContextGlobal, "")
	for i, id := range []string{"t1", "t2"} {
		if _, err := contexts.Place(ctx, position.MoveRequest{
			ItemID: id, OrgID: f.orgID, To: global, Position: i + 1,
		}); err != nil {
			t.Fatalf("place %s: %v", id, err)
		}
	}

	// A task holds at most one slot per context name; placing t1 in the
	// project ordering keeps its global slot because those are different
	// contexts.
	project, _ := position.ContextPartition(f.orgID, position.ContextProject, f.project.ID)
	if _, err := contexts.Place(ctx, position.MoveRequest{
		ItemID: "t1", OrgID: f.orgID, To: project, Position: 1,
	}); err != nil {
		t.Fatalf("place in project: %v", err)
	}

	globals, err := contexts.List(ctx, global)
	if err != nil {
		t.Fatalf("list global: %v", err)
	}
	if len(globals) != 2 {
		t.Fatalf("global ordering lost a member: %+v", globals)
	}
	projects, err := contexts.List(ctx, project)
	if err != nil {
		t.Fatalf("list project: %v", err)
	}
	if len(projects) != 1 || projects[0].ItemID != "t1" {
		t.Fatalf("project ordering: %+v", projects)
	}
}

func TestDialectRebind(t *testing.T) {
	query := "SELECT * FROM tasks WHERE id = ? AND organization_id = ?"
	if got := dialectSQLite.rebind(query); got != query {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := "SELECT * FROM tasks WHERE id = $1 AND organization_id = $2"
	if got := dialectPostgres.rebind(query); got != want {
		t.Fatalf("postgres rebind: %s", got)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(1); got != "?" {
		t.Fatalf("placeholders(1) = %q", got)
	}
	if got := placeholders(3); got != "?, ?, ?" {
		t.Fatalf("placeholders(3) = %q", got)
	}
}
