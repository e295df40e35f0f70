// Package position maintains dense, gap-free, 1-based orderings of items
// inside exclusive partitions (a Kanban column, or a named-context group).
//
// Every reordering follows the same two-phase technique: the moving item is
// first parked at a sentinel far outside the legal range, the affected
// sibling range is shifted into a high offset band in one statement, and a
// second statement settles the band onto its final values. Because the
// sentinel and the offset band are disjoint from legal positions, no
// per-row update order can produce a transient duplicate under the unique
// (org, partition, position) constraint.
package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	// ShiftOffset is the band added to an affected range before settling it.
	// It sits far above any realistic partition size.
	ShiftOffset = 1 << 20

	// parkedBase anchors the sentinel range used to park a moving item.
	// Positions at or below it are never legal and never listed.
	parkedBase = -(1 << 40)

	// End requests an append when used as a target position. Any position
	// beyond the partition size clamps to size+1, so End always lands at
	// the back.
	End = 1<<31 - 1
)

// ParkSentinel returns an out-of-range position for staging a single item.
// The time-derived component keeps two concurrent transactions from parking
// at the same value in the same partition, which would deadlock on the
// uniqueness constraint.
func ParkSentinel() int {
	return parkedBase - int(time.Now().UnixNano()&(1<<30-1))
}

// Placement is one item's slot within a partition.
type Placement struct {
	ItemID    string
	Partition Partition
	Position  int
}

// Change is the history payload recorded when a move changes the grouping
// field, carrying resolved labels rather than raw ids.
type Change struct {
	ItemID  string
	OrgID   string
	ActorID string
	Field   string
	From    string
	To      string
}

// Tx is the transactional store surface the reassignment algorithm drives.
// Implementations scope every statement to the partition's organization and
// treat positions below 1 as invisible (parked).
type Tx interface {
	// Placement returns the item's current slot within the partition family
	// of p (the board, or rows sharing p's named context). ErrNotFound when
	// the item has no slot there.
	Placement(ctx context.Context, itemID string, p Partition) (Placement, error)

	// PlacementsOf returns every slot the item holds in this store,
	// regardless of partition. Empty when the item holds none.
	PlacementsOf(ctx context.Context, itemID, orgID string) ([]Placement, error)

	// ListPartition returns the partition's placements ordered by position.
	ListPartition(ctx context.Context, p Partition) ([]Placement, error)

	// CountPartition counts the partition's visible (position >= 1) items.
	CountPartition(ctx context.Context, p Partition) (int, error)

	// Assign upserts the item's partition columns and position in one row
	// write. Used both for parking (sentinel) and for final placement.
	Assign(ctx context.Context, itemID string, p Partition, pos int) error

	// OffsetRange adds ShiftOffset to every position in [lo, hi].
	OffsetRange(ctx context.Context, p Partition, lo, hi int) error

	// SettleRange rewrites rows previously offset from [lo, hi] to their
	// final positions lo+delta..hi+delta.
	SettleRange(ctx context.Context, p Partition, lo, hi, delta int) error

	// DeleteItems removes the items' placements (for board stores, the item
	// rows themselves).
	DeleteItems(ctx context.Context, itemIDs []string, orgID string) error

	// InsertChange appends one history record.
	InsertChange(ctx context.Context, change Change) error
}

// Store opens transactions over one placement table.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// MoveRequest asks for an item to occupy Position within To. Field, when
// set, names the grouping field for the history record written on a
// cross-partition move; FromLabel/ToLabel carry its resolved display values.
type MoveRequest struct {
	ItemID    string
	OrgID     string
	To        Partition
	Position  int
	ActorID   string
	Field     string
	FromLabel string
	ToLabel   string
}

// MoveResult carries the reloaded orderings of every partition the move
// touched, so callers can reconcile client state without a second query.
type MoveResult struct {
	// Moved is false when the request was a no-op (zero writes).
	Moved bool
	// Source is the compacted origin partition. Nil for same-partition moves.
	Source []Placement
	// Destination is the partition the item now occupies, in order.
	Destination []Placement
	// Change is the history record written, if the grouping field changed.
	Change *Change
}

const moveAttempts = 3

// Engine applies reorderings atomically over a Store. It holds no state of
// its own; two independent engines over the board and context stores give
// two independent orderings of the same items.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Move relocates an item within or across partitions and compacts every
// ordering it leaves behind. Transaction conflicts are retried a bounded
// number of times before surfacing ErrConcurrent.
func (e *Engine) Move(ctx context.Context, req MoveRequest) (MoveResult, error) {
	var res MoveResult
	err := e.inTx(ctx, func(tx Tx) error {
		var err error
		res, err = MoveTx(ctx, tx, req)
		return err
	})
	return res, err
}

// Place is Move for orderings an item may not have entered yet: when the
// item has no slot in the partition family it is appended first, then moved
// to the requested position. Used by the named-context orderings, where
// tasks enter lazily.
func (e *Engine) Place(ctx context.Context, req MoveRequest) (MoveResult, error) {
	var res MoveResult
	err := e.inTx(ctx, func(tx Tx) error {
		var err error
		res, err = MoveTx(ctx, tx, req)
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if req.Position <= 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidPosition, req.Position)
		}
		pos, err := AppendTx(ctx, tx, req.ItemID, req.To)
		if err != nil {
			return err
		}
		if req.Position >= pos {
			dest, err := tx.ListPartition(ctx, req.To)
			if err != nil {
				return err
			}
			res = MoveResult{Moved: true, Destination: dest}
			return nil
		}
		res, err = MoveTx(ctx, tx, req)
		return err
	})
	return res, err
}

// Append places an item at the back of a partition.
func (e *Engine) Append(ctx context.Context, itemID string, p Partition) (int, error) {
	var pos int
	err := e.inTx(ctx, func(tx Tx) error {
		var err error
		pos, err = AppendTx(ctx, tx, itemID, p)
		return err
	})
	return pos, err
}

// Remove deletes an item's placements and closes the gaps left behind.
func (e *Engine) Remove(ctx context.Context, itemID, orgID string) error {
	return e.RemoveBatch(ctx, []string{itemID}, orgID)
}

// RemoveBatch deletes many items in one transaction, compacting each
// affected partition with one settle per contiguous band of vacated
// positions rather than one decrement per item.
func (e *Engine) RemoveBatch(ctx context.Context, itemIDs []string, orgID string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return e.inTx(ctx, func(tx Tx) error {
		return RemoveBatchTx(ctx, tx, itemIDs, orgID)
	})
}

// List returns a partition's current ordering.
func (e *Engine) List(ctx context.Context, p Partition) ([]Placement, error) {
	var items []Placement
	err := e.store.InTx(ctx, func(tx Tx) error {
		var err error
		items, err = tx.ListPartition(ctx, p)
		return err
	})
	return items, err
}

func (e *Engine) inTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < moveAttempts; attempt++ {
		err = e.store.InTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConcurrent) {
			return err
		}
	}
	return err
}

// NextTx returns the append slot for a partition: its visible count plus
// one. Dense orderings make the count and the max position interchangeable.
func NextTx(ctx context.Context, tx Tx, p Partition) (int, error) {
	n, err := tx.CountPartition(ctx, p)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// AppendTx assigns the item the partition's append slot. New items always
// enter at the back; they are never created mid-list.
func AppendTx(ctx context.Context, tx Tx, itemID string, p Partition) (int, error) {
	pos, err := NextTx(ctx, tx, p)
	if err != nil {
		return 0, err
	}
	if err := tx.Assign(ctx, itemID, p, pos); err != nil {
		return 0, err
	}
	return pos, nil
}

// MoveTx runs the reassignment inside an existing transaction.
//
// Stages: park the moving item at the sentinel, shift the affected sibling
// range through the offset band, then write the item's final slot. A
// request that targets the item's current slot returns with zero writes.
func MoveTx(ctx context.Context, tx Tx, req MoveRequest) (MoveResult, error) {
	var res MoveResult
	if req.Position <= 0 {
		return res, fmt.Errorf("%w: got %d", ErrInvalidPosition, req.Position)
	}

	cur, err := tx.Placement(ctx, req.ItemID, req.To)
	if err != nil {
		return res, err
	}
	from := cur.Partition
	same := from == req.To

	destCount, err := tx.CountPartition(ctx, req.To)
	if err != nil {
		return res, err
	}
	size := destCount
	if !same {
		size = destCount + 1
	}
	toPos := req.Position
	if toPos > size {
		toPos = size
	}

	if same && toPos == cur.Position {
		dest, err := tx.ListPartition(ctx, req.To)
		if err != nil {
			return res, err
		}
		return MoveResult{Destination: dest}, nil
	}

	// Stage: the item vacates its slot so every later shift is
	// collision-free.
	if err := tx.Assign(ctx, req.ItemID, from, ParkSentinel()); err != nil {
		return res, err
	}

	if same {
		if toPos < cur.Position {
			// Toward the front: [toPos, cur-1] steps back by one.
			if err := shiftRange(ctx, tx, from, toPos, cur.Position-1, 1); err != nil {
				return res, err
			}
		} else {
			// Toward the back: [cur+1, toPos] steps forward by one.
			if err := shiftRange(ctx, tx, from, cur.Position+1, toPos, -1); err != nil {
				return res, err
			}
		}
	} else {
		// Open the gap at the destination.
		if err := shiftRange(ctx, tx, req.To, toPos, destCount, 1); err != nil {
			return res, err
		}
		// Close the gap left at the source; the parked item no longer
		// counts, so its old siblings sit at cur+1 through srcAfter+1.
		srcAfter, err := tx.CountPartition(ctx, from)
		if err != nil {
			return res, err
		}
		if err := shiftRange(ctx, tx, from, cur.Position+1, srcAfter+1, -1); err != nil {
			return res, err
		}
	}

	if err := tx.Assign(ctx, req.ItemID, req.To, toPos); err != nil {
		return res, err
	}

	res.Moved = true
	if !same && req.Field != "" {
		change := Change{
			ItemID:  req.ItemID,
			OrgID:   req.OrgID,
			ActorID: req.ActorID,
			Field:   req.Field,
			From:    req.FromLabel,
			To:      req.ToLabel,
		}
		if err := tx.InsertChange(ctx, change); err != nil {
			return res, err
		}
		res.Change = &change
	}

	if res.Destination, err = tx.ListPartition(ctx, req.To); err != nil {
		return res, err
	}
	if !same {
		if res.Source, err = tx.ListPartition(ctx, from); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RemoveBatchTx deletes the items and compacts every partition they
// occupied. Vacated positions are grouped per partition and the surviving
// rows between consecutive vacancies settle down by the cumulative vacancy
// count, one range statement per band.
func RemoveBatchTx(ctx context.Context, tx Tx, itemIDs []string, orgID string) error {
	vacated := make(map[Partition][]int)
	for _, id := range itemIDs {
		placements, err := tx.PlacementsOf(ctx, id, orgID)
		if err != nil {
			return err
		}
		for _, pl := range placements {
			if pl.Position >= 1 {
				vacated[pl.Partition] = append(vacated[pl.Partition], pl.Position)
			}
		}
	}

	if err := tx.DeleteItems(ctx, itemIDs, orgID); err != nil {
		return err
	}

	for part, holes := range vacated {
		sort.Ints(holes)
		k := len(holes)
		survivors, err := tx.CountPartition(ctx, part)
		if err != nil {
			return err
		}
		max := survivors + k

		// One offset statement parks every survivor past the first hole.
		if err := tx.OffsetRange(ctx, part, holes[0]+1, max); err != nil {
			return err
		}
		// Then one settle per band between consecutive holes.
		for i := 0; i < k; i++ {
			lo := holes[i] + 1
			hi := max
			if i+1 < k {
				hi = holes[i+1] - 1
			}
			if lo > hi {
				continue
			}
			if err := tx.SettleRange(ctx, part, lo, hi, -(i + 1)); err != nil {
				return err
			}
		}
	}
	return nil
}

func shiftRange(ctx context.Context, tx Tx, p Partition, lo, hi, delta int) error {
	if lo > hi {
		return nil
	}
	if err := tx.OffsetRange(ctx, p, lo, hi); err != nil {
		return err
	}
	return tx.SettleRange(ctx, p, lo, hi, delta)
}
