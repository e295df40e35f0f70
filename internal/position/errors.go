package position

import "errors"

var (
	// ErrInvalidPosition rejects requested positions of zero or less before
	// any write happens.
	ErrInvalidPosition = errors.New("position must be a positive integer")

	// ErrNotFound means the item has no placement visible to the requesting
	// organization.
	ErrNotFound = errors.New("item not placed in this scope")

	// ErrInvalidPartition means the partition descriptor itself is malformed.
	ErrInvalidPartition = errors.New("invalid partition")

	// ErrConstraint is a uniqueness violation that the staged shifts should
	// have made impossible. Stores translate their driver's unique-violation
	// codes into it; reaching it indicates an engine bug.
	ErrConstraint = errors.New("position uniqueness violated")

	// ErrConcurrent is a transaction conflict (serialization failure,
	// deadlock, locked database). Stores translate their driver's codes into
	// it and the engine retries a bounded number of times.
	ErrConcurrent = errors.New("concurrent position update")
)
