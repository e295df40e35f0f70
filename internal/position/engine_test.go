package position

import (
	"context"
	"errors"
	"sort"
	"testing"
)

// memStore is an in-memory placement table holding one slot per item, the
// way the board table does.
type memStore struct {
	rows     map[string]*memRow
	changes  []Change
	failures int
}

type memRow struct {
	part Partition
	pos  int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*memRow)}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if m.failures > 0 {
		m.failures--
		return ErrConcurrent
	}
	return fn(m)
}

func (m *memStore) Placement(_ context.Context, itemID string, _ Partition) (Placement, error) {
	row, ok := m.rows[itemID]
	if !ok {
		return Placement{}, ErrNotFound
	}
	return Placement{ItemID: itemID, Partition: row.part, Position: row.pos}, nil
}

func (m *memStore) PlacementsOf(_ context.Context, itemID, _ string) ([]Placement, error) {
	row, ok := m.rows[itemID]
	if !ok {
		return nil, nil
	}
	return []Placement{{ItemID: itemID, Partition: row.part, Position: row.pos}}, nil
}

func (m *memStore) ListPartition(_ context.Context, p Partition) ([]Placement, error) {
	var items []Placement
	for id, row := range m.rows {
		if row.part == p && row.pos >= 1 {
			items = append(items, Placement{ItemID: id, Partition: p, Position: row.pos})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (m *memStore) CountPartition(_ context.Context, p Partition) (int, error) {
	n := 0
	for _, row := range m.rows {
		if row.part == p && row.pos >= 1 {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Assign(_ context.Context, itemID string, p Partition, pos int) error {
	row, ok := m.rows[itemID]
	if !ok {
		row = &memRow{}
		m.rows[itemID] = row
	}
	row.part = p
	row.pos = pos
	return nil
}

func (m *memStore) OffsetRange(_ context.Context, p Partition, lo, hi int) error {
	for _, row := range m.rows {
		if row.part == p && row.pos >= lo && row.pos <= hi {
			row.pos += ShiftOffset
		}
	}
	return nil
}

func (m *memStore) SettleRange(_ context.Context, p Partition, lo, hi, delta int) error {
	for _, row := range m.rows {
		if row.part == p && row.pos >= lo+ShiftOffset && row.pos <= hi+ShiftOffset {
			row.pos = row.pos - ShiftOffset + delta
		}
	}
	return nil
}

func (m *memStore) DeleteItems(_ context.Context, itemIDs []string, _ string) error {
	for _, id := range itemIDs {
		delete(m.rows, id)
	}
	return nil
}

func (m *memStore) InsertChange(_ context.Context, change Change) error {
	m.changes = append(m.changes, change)
	return nil
}

func testPartition(t *testing.T, status string) Partition {
	t.Helper()
	p, err := BoardPartition("org1", "prj1", status)
	if err != nil {
		t.Fatalf("BoardPartition: %v", err)
	}
	return p
}

// seed fills a partition with items item1..itemN at positions 1..N.
func seed(t *testing.T, m *memStore, p Partition, ids ...string) {
	t.Helper()
	for i, id := range ids {
		m.rows[id] = &memRow{part: p, pos: i + 1}
	}
}

func assertOrder(t *testing.T, m *memStore, p Partition, want ...string) {
	t.Helper()
	items, err := m.ListPartition(context.Background(), p)
	if err != nil {
		t.Fatalf("ListPartition: %v", err)
	}
	if len(items) != len(want) {
		t.Fatalf("partition %s has %d items, want %d (%v)", p, len(items), len(want), items)
	}
	for i, id := range want {
		if items[i].ItemID != id {
			t.Errorf("position %d: got %s, want %s", i+1, items[i].ItemID, id)
		}
		if items[i].Position != i+1 {
			t.Errorf("item %s: position %d, want %d (ordering must stay dense)", id, items[i].Position, i+1)
		}
	}
}

func TestAppendAssignsNextPosition(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		pos, err := e.Append(ctx, id, p)
		if err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
		if pos != i+1 {
			t.Fatalf("Append %s: got position %d, want %d", id, pos, i+1)
		}
	}
	assertOrder(t, m, p, "a", "b", "c")
}

func TestMoveForwardWithinPartition(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c", "d", "e")

	res, err := e.Move(context.Background(), MoveRequest{ItemID: "b", OrgID: "org1", To: p, Position: 4})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if !res.Moved {
		t.Fatal("expected Moved")
	}
	if res.Source != nil {
		t.Fatal("same-partition move must not report a source")
	}
	assertOrder(t, m, p, "a", "c", "d", "b", "e")
}

func TestMoveBackwardWithinPartition(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c", "d", "e")

	if _, err := e.Move(context.Background(), MoveRequest{ItemID: "d", OrgID: "org1", To: p, Position: 2}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	assertOrder(t, m, p, "a", "d", "b", "c", "e")
}

func TestMoveClampsBeyondEnd(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c")

	if _, err := e.Move(context.Background(), MoveRequest{ItemID: "a", OrgID: "org1", To: p, Position: 99}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	assertOrder(t, m, p, "b", "c", "a")

	// End is just a very large position.
	if _, err := e.Move(context.Background(), MoveRequest{ItemID: "b", OrgID: "org1", To: p, Position: End}); err != nil {
		t.Fatalf("Move to End: %v", err)
	}
	assertOrder(t, m, p, "c", "a", "b")
}

func TestMoveRejectsNonPositivePosition(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b")

	for _, pos := range []int{0, -1, -99} {
		_, err := e.Move(context.Background(), MoveRequest{ItemID: "a", OrgID: "org1", To: p, Position: pos})
		if !errors.Is(err, ErrInvalidPosition) {
			t.Errorf("position %d: got %v, want ErrInvalidPosition", pos, err)
		}
	}
	assertOrder(t, m, p, "a", "b")
}

func TestMoveToCurrentSlotIsNoOp(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c")

	res, err := e.Move(context.Background(), MoveRequest{
		ItemID: "b", OrgID: "org1", To: p, Position: 2,
		Field: "status", FromLabel: "To Do", ToLabel: "To Do",
	})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.Moved {
		t.Fatal("no-op move must report Moved=false")
	}
	if len(m.changes) != 0 {
		t.Fatalf("no-op move wrote %d change records", len(m.changes))
	}
	assertOrder(t, m, p, "a", "b", "c")
}

func TestMoveUnknownItem(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")

	_, err := e.Move(context.Background(), MoveRequest{ItemID: "ghost", OrgID: "org1", To: p, Position: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCrossPartitionMove(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	src := testPartition(t, "todo")
	dst := testPartition(t, "doing")
	seed(t, m, src, "a", "b", "c", "d")
	seed(t, m, dst, "x", "y")

	res, err := e.Move(context.Background(), MoveRequest{
		ItemID: "b", OrgID: "org1", To: dst, Position: 2,
		ActorID: "usr1", Field: "status", FromLabel: "To Do", ToLabel: "Doing",
	})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if !res.Moved {
		t.Fatal("expected Moved")
	}
	assertOrder(t, m, src, "a", "c", "d")
	assertOrder(t, m, dst, "x", "b", "y")

	if len(m.changes) != 1 {
		t.Fatalf("got %d change records, want 1", len(m.changes))
	}
	change := m.changes[0]
	if change.Field != "status" || change.From != "To Do" || change.To != "Doing" || change.ActorID != "usr1" {
		t.Fatalf("unexpected change record: %+v", change)
	}
	if res.Change == nil || res.Change.ItemID != "b" {
		t.Fatalf("result change missing: %+v", res.Change)
	}
}

func TestCrossPartitionMoveClamps(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	src := testPartition(t, "todo")
	dst := testPartition(t, "doing")
	seed(t, m, src, "a", "b")
	seed(t, m, dst, "x", "y")

	// Destination holds 2; the entering item may take slot 3 at most.
	if _, err := e.Move(context.Background(), MoveRequest{ItemID: "a", OrgID: "org1", To: dst, Position: 50}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	assertOrder(t, m, src, "b")
	assertOrder(t, m, dst, "x", "y", "a")
}

func TestRemoveCompactsPartition(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c", "d")

	if err := e.Remove(context.Background(), "b", "org1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	assertOrder(t, m, p, "a", "c", "d")
}

func TestRemoveBatchNonContiguous(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c", "d")

	// Vacating positions 1 and 3 leaves b and d, which must close up to 1, 2.
	if err := e.RemoveBatch(context.Background(), []string{"a", "c"}, "org1"); err != nil {
		t.Fatalf("RemoveBatch: %v", err)
	}
	assertOrder(t, m, p, "b", "d")
}

func TestRemoveBatchAcrossPartitions(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	todo := testPartition(t, "todo")
	doing := testPartition(t, "doing")
	seed(t, m, todo, "a", "b", "c")
	seed(t, m, doing, "x", "y", "z")

	if err := e.RemoveBatch(context.Background(), []string{"b", "x", "z"}, "org1"); err != nil {
		t.Fatalf("RemoveBatch: %v", err)
	}
	assertOrder(t, m, todo, "a", "c")
	assertOrder(t, m, doing, "y")
}

func TestRemoveBatchEmpty(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	if err := e.RemoveBatch(context.Background(), nil, "org1"); err != nil {
		t.Fatalf("RemoveBatch: %v", err)
	}
}

func TestMoveRetriesOnConcurrent(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p := testPartition(t, "todo")
	seed(t, m, p, "a", "b", "c")

	m.failures = 2
	if _, err := e.Move(context.Background(), MoveRequest{ItemID: "c", OrgID: "org1", To: p, Position: 1}); err != nil {
		t.Fatalf("Move after retries: %v", err)
	}
	assertOrder(t, m, p, "c", "a", "b")

	m.failures = moveAttempts
	_, err := e.Move(context.Background(), MoveRequest{ItemID: "c", OrgID: "org1", To: p, Position: 2})
	if !errors.Is(err, ErrConcurrent) {
		t.Fatalf("got %v, want ErrConcurrent after exhausting retries", err)
	}
}

func TestPlaceEntersOrderingLazily(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p, err := ContextPartition("org1", ContextProject, "prj1")
	if err != nil {
		t.Fatalf("ContextPartition: %v", err)
	}
	seed(t, m, p, "a", "b")

	// New entrant lands at the back when the target is at or past the end.
	res, err := e.Place(context.Background(), MoveRequest{ItemID: "c", OrgID: "org1", To: p, Position: 3})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if !res.Moved {
		t.Fatal("expected Moved")
	}
	assertOrder(t, m, p, "a", "b", "c")

	// New entrant aimed mid-list is appended, then shifted into place.
	if _, err := e.Place(context.Background(), MoveRequest{ItemID: "d", OrgID: "org1", To: p, Position: 2}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	assertOrder(t, m, p, "a", "d", "b", "c")

	// Placing an existing member is a plain move.
	if _, err := e.Place(context.Background(), MoveRequest{ItemID: "c", OrgID: "org1", To: p, Position: 1}); err != nil {
		t.Fatalf("Place existing: %v", err)
	}
	assertOrder(t, m, p, "c", "a", "d", "b")
}

func TestPlaceRejectsNonPositive(t *testing.T) {
	m := newMemStore()
	e := NewEngine(m)
	p, _ := ContextPartition("org1", ContextGlobal, "")

	_, err := e.Place(context.Background(), MoveRequest{ItemID: "a", OrgID: "org1", To: p, Position: 0})
	if !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("got %v, want ErrInvalidPosition", err)
	}
}

func TestPartitionValidation(t *testing.T) {
	if _, err := BoardPartition("", "prj", "sts"); !errors.Is(err, ErrInvalidPartition) {
		t.Errorf("missing org: got %v", err)
	}
	if _, err := ContextPartition("org", "sprint", "s1"); !errors.Is(err, ErrInvalidPartition) {
		t.Errorf("unknown context: got %v", err)
	}
	if _, err := ContextPartition("org", ContextProject, ""); !errors.Is(err, ErrInvalidPartition) {
		t.Errorf("project context without id: got %v", err)
	}
	p, err := ContextPartition("org", ContextGlobal, "ignored")
	if err != nil {
		t.Fatalf("global context: %v", err)
	}
	if p.ContextID != "" {
		t.Errorf("global context id must be blank, got %q", p.ContextID)
	}
}

func TestParkSentinelIsOutOfRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		if s := ParkSentinel(); s >= 1 || s > parkedBase {
			t.Fatalf("sentinel %d overlaps legal or offset positions", s)
		}
	}
}
