package allowlist

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"mintgate/observability"
)

// NormalizeAddress validates raw and returns the canonical lower-hex form used
// for storage, hashing, and comparison.
func NormalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

// Service owns the canonical member set and issues Merkle proofs against it.
// The tree is a derived cache keyed to a version counter that every successful
// Add bumps; a read observing a stale version rebuilds from the full set. A
// rebuild holds the service mutex, so concurrent proof readers block briefly
// rather than ever being served a tree older than the last committed add.
type Service struct {
	store SetStore

	mu          sync.Mutex
	version     uint64
	tree        *merkleTree
	treeVersion uint64
	treeBuilt   bool
}

// NewService constructs an allowlist service over the given durable set.
func NewService(store SetStore) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("allowlist: set store required")
	}
	return &Service{store: store}, nil
}

// IsMember reports whether address (in any case) has been added. Storage
// failures propagate; they are never collapsed into a false membership answer.
func (s *Service) IsMember(ctx context.Context, address string) (bool, error) {
	member, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	ok, err := s.store.Contains(ctx, member)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return ok, nil
}

// Add inserts address into the set. Returns ErrAlreadyMember when the set
// already contained it; only a genuine insert invalidates the cached tree.
func (s *Service) Add(ctx context.Context, address string) error {
	member, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	added, err := s.store.Add(ctx, member)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !added {
		return ErrAlreadyMember
	}
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
	observability.Gateway().RecordAllowlistAdd()
	return nil
}

// Proof returns the sibling path proving address under the current root.
// Non-members receive ErrNotAMember, never an empty proof.
func (s *Service) Proof(ctx context.Context, address string) ([]common.Hash, error) {
	member, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Contains(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return nil, ErrNotAMember
	}
	tree, err := s.currentTree(ctx)
	if err != nil {
		return nil, err
	}
	siblings, ok := tree.proof(common.HexToAddress(member))
	if !ok {
		// Membership was confirmed above, so the only way the leaf is absent
		// is an add committed between the check and the rebuild. Rebuilding
		// again will pick it up.
		return nil, ErrNotAMember
	}
	return siblings, nil
}

// Root returns the 32-byte root external verifiers must hold. An empty member
// set yields the zero hash.
func (s *Service) Root(ctx context.Context) (common.Hash, error) {
	tree, err := s.currentTree(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return tree.root(), nil
}

// currentTree returns the cached tree, rebuilding it from the full set when
// the cached version is stale. The version is snapshotted before the set is
// read: an add racing the rebuild bumps the counter afterwards and forces the
// next reader to rebuild, so the cache can lag behind reality for at most one
// read but can never be served ahead of an invalidation.
func (s *Service) currentTree(ctx context.Context) (*merkleTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.version
	if s.treeBuilt && s.treeVersion == version {
		return s.tree, nil
	}

	members, err := s.store.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	addrs := make([]common.Address, 0, len(members))
	for _, member := range members {
		if !common.IsHexAddress(member) {
			return nil, fmt.Errorf("allowlist: corrupt member %q in set", member)
		}
		addrs = append(addrs, common.HexToAddress(member))
	}
	s.tree = newMerkleTree(addrs)
	s.treeVersion = version
	s.treeBuilt = true
	observability.Gateway().RecordTreeRebuild()
	return s.tree, nil
}
