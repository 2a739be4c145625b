package allowlist

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// merkleTree is a binary keccak256 tree over address leaf hashes. Pairs are
// sorted before hashing so verification does not depend on sibling order,
// matching the convention the mint contract checks proofs against. Leaves are
// sorted bytewise before construction so the root is deterministic regardless
// of the order the backing store enumerates members in.
type merkleTree struct {
	// levels[0] holds the sorted leaves, the last level holds the root.
	levels [][]common.Hash
	index  map[common.Hash]int
}

// LeafHash returns the tree leaf for an address: keccak256 over the 20 raw
// address bytes, the same value the on-chain verifier derives from msg.sender.
func LeafHash(addr common.Address) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(addr.Bytes()))
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return common.BytesToHash(ethcrypto.Keccak256(a[:], b[:]))
}

func newMerkleTree(addrs []common.Address) *merkleTree {
	leaves := make([]common.Hash, 0, len(addrs))
	for _, addr := range addrs {
		leaves = append(leaves, LeafHash(addr))
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})

	tree := &merkleTree{index: make(map[common.Hash]int, len(leaves))}
	for i, leaf := range leaves {
		tree.index[leaf] = i
	}
	tree.levels = append(tree.levels, leaves)

	current := leaves
	for len(current) > 1 {
		next := make([]common.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				// Odd node is promoted to the next level unhashed.
				next = append(next, current[i])
				continue
			}
			next = append(next, hashPair(current[i], current[i+1]))
		}
		tree.levels = append(tree.levels, next)
		current = next
	}
	return tree
}

// root returns the tree root, or the zero hash for an empty member set.
func (t *merkleTree) root() common.Hash {
	if t == nil || len(t.levels) == 0 || len(t.levels[0]) == 0 {
		return common.Hash{}
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// proof returns the sibling path for an address, bottom up. The second return
// reports whether the address is a leaf of this tree.
func (t *merkleTree) proof(addr common.Address) ([]common.Hash, bool) {
	if t == nil || len(t.levels) == 0 {
		return nil, false
	}
	idx, ok := t.index[LeafHash(addr)]
	if !ok {
		return nil, false
	}
	siblings := make([]common.Hash, 0, len(t.levels)-1)
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		sibling := idx ^ 1
		if sibling < len(nodes) {
			siblings = append(siblings, nodes[sibling])
		}
		idx /= 2
	}
	return siblings, true
}

// VerifyProof folds a sibling path into the leaf using the sorted-pair
// convention and compares the result against root. It mirrors what the
// external on-chain verifier computes and exists so operators and tests can
// validate issued proofs without the contract.
func VerifyProof(leaf common.Hash, siblings []common.Hash, root common.Hash) bool {
	computed := leaf
	for _, sibling := range siblings {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}
