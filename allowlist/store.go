package allowlist

import (
	"context"
	"errors"
)

var (
	// ErrInvalidAddress marks input that is not a valid 20-byte hex address.
	ErrInvalidAddress = errors.New("allowlist: invalid address")
	// ErrNotAMember is returned when a proof is requested for an address that
	// has not been added to the set.
	ErrNotAMember = errors.New("allowlist: address is not a member")
	// ErrAlreadyMember is returned by Add when the set already contained the
	// address. Callers treating joins as idempotent can map it to success.
	ErrAlreadyMember = errors.New("allowlist: address already a member")
	// ErrStorageUnavailable wraps failures reaching the durable set store.
	// Membership is never silently reported as false on storage failure.
	ErrStorageUnavailable = errors.New("allowlist: storage unavailable")
)

// SetStore is the durable, authoritative member set backing the allowlist. The
// in-process Merkle tree is only a rebuildable cache of this set. Add must be
// atomic add-if-absent so concurrent adds for the same member cannot both
// observe a genuine insert.
type SetStore interface {
	// Contains reports whether member is in the set.
	Contains(ctx context.Context, member string) (bool, error)
	// Add inserts member if absent. The boolean reports whether the set
	// actually grew (false when the member was already present).
	Add(ctx context.Context, member string) (bool, error)
	// Members returns every member of the set, in no particular order.
	Members(ctx context.Context) ([]string, error)
}
