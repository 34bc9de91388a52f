// Package tree implements the anonymity-set accumulator: a fixed-height
// incremental Merkle tree with a per-level filled-subtree cache and a bounded
// FIFO history of recent roots.
//
// Insertion cost is proportional to the height, not the capacity: the path
// from the new leaf to the root is recomputed by combining, at every level,
// either the cached hash of the last completed left subtree or the
// precomputed hash of an all-empty subtree. Every level composes its
// children as (left, right); this order is normative and roots must be
// bit-identical across implementations.
package tree

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/veilpool/veilpool-node/crypto/hash/poseidon"
	"github.com/veilpool/veilpool-node/types"
)

var (
	// ErrTreeFull signals that the anonymity set reached its capacity of
	// 2^height leaves. The condition is not recoverable for the pool
	// instance: no further deposits are possible.
	ErrTreeFull = errors.New("anonymity set tree is full")

	// ErrInvalidSnapshot is returned when restoring from a malformed or
	// incompatible snapshot.
	ErrInvalidSnapshot = errors.New("invalid tree snapshot")
)

// MaxHeight bounds the tree height so that leaf indices fit comfortably in
// a uint64 and zero-hash precomputation stays trivial.
const MaxHeight = 32

// HashFunc combines two child digests into their parent digest.
type HashFunc func(left, right *big.Int) (*big.Int, error)

// Tree is an append-only incremental Merkle accumulator. It is not safe for
// concurrent use; the owning ledger serializes access.
type Tree struct {
	height   int
	capacity uint64
	hash     HashFunc

	// zeros[i] is the digest of an all-empty subtree of height i;
	// zeros[0] is the empty leaf.
	zeros []*big.Int
	// filled[i] is the digest of the most recently completed left subtree
	// at level i, combined with zeros[i] while its right sibling is empty.
	filled []*big.Int

	nextIndex uint64
	// roots is a fixed-capacity ring of the most recent roots; rootIndex
	// points at the current root. Slots not yet produced are nil.
	roots     []*big.Int
	rootIndex int
}

// New creates an empty tree of the given height (capacity 2^height) keeping
// the rootHistory most recent roots as known. A nil hash selects Poseidon.
func New(height, rootHistory int, hash HashFunc) (*Tree, error) {
	if height <= 0 || height > MaxHeight {
		return nil, fmt.Errorf("tree height must be in [1, %d], got %d", MaxHeight, height)
	}
	if rootHistory <= 0 {
		return nil, fmt.Errorf("root history must be positive, got %d", rootHistory)
	}
	if hash == nil {
		hash = poseidon.HashPair
	}
	t := &Tree{
		height:   height,
		capacity: uint64(1) << uint(height),
		hash:     hash,
		zeros:    make([]*big.Int, height+1),
		filled:   make([]*big.Int, height),
		roots:    make([]*big.Int, rootHistory),
	}
	t.zeros[0] = big.NewInt(0)
	for i := 1; i <= height; i++ {
		h, err := hash(t.zeros[i-1], t.zeros[i-1])
		if err != nil {
			return nil, fmt.Errorf("precompute zero hashes: %w", err)
		}
		t.zeros[i] = h
	}
	copy(t.filled, t.zeros[:height])
	// The empty root occupies the first ring slot so that proofs built
	// against a pristine tree remain valid within the history window.
	t.roots[0] = t.zeros[height]
	return t, nil
}

// Height returns the tree height.
func (t *Tree) Height() int { return t.height }

// Capacity returns the maximum number of leaves.
func (t *Tree) Capacity() uint64 { return t.capacity }

// NextIndex returns the index that the next inserted leaf will get, which
// equals the number of leaves inserted so far.
func (t *Tree) NextIndex() uint64 { return t.nextIndex }

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.roots[t.rootIndex])
}

// Insert appends a leaf and returns its assigned index. It fails with
// ErrTreeFull once 2^height leaves have been inserted.
func (t *Tree) Insert(leaf *big.Int) (uint64, error) {
	if t.nextIndex >= t.capacity {
		return 0, ErrTreeFull
	}
	index := t.nextIndex

	current := new(big.Int).Set(leaf)
	pos := index
	for level := 0; level < t.height; level++ {
		var left, right *big.Int
		if pos%2 == 0 {
			// Leftmost of its pair: cache it for the future right
			// sibling and pad with the empty subtree for now.
			t.filled[level] = current
			left, right = current, t.zeros[level]
		} else {
			left, right = t.filled[level], current
		}
		parent, err := t.hash(left, right)
		if err != nil {
			return 0, fmt.Errorf("hash level %d: %w", level, err)
		}
		current = parent
		pos /= 2
	}

	t.nextIndex = index + 1
	t.rootIndex = (t.rootIndex + 1) % len(t.roots)
	t.roots[t.rootIndex] = current
	return index, nil
}

// IsKnownRoot reports whether root is among the retained recent roots,
// current root included. The zero (uninitialized) sentinel is never known.
func (t *Tree) IsKnownRoot(root *big.Int) bool {
	if root == nil || root.Sign() == 0 {
		return false
	}
	// Scan backwards from the current root so the common case (a fresh
	// proof) exits early.
	n := len(t.roots)
	for i := 0; i < n; i++ {
		r := t.roots[(t.rootIndex-i+n)%n]
		if r != nil && r.Cmp(root) == 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the tree. The ledger inserts into a clone and
// swaps it in only after the enclosing transaction commits, so a failed
// commit leaves no accumulator residue.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		height:    t.height,
		capacity:  t.capacity,
		hash:      t.hash,
		zeros:     t.zeros, // immutable once computed
		filled:    make([]*big.Int, len(t.filled)),
		nextIndex: t.nextIndex,
		roots:     make([]*big.Int, len(t.roots)),
		rootIndex: t.rootIndex,
	}
	copy(c.filled, t.filled)
	copy(c.roots, t.roots)
	return c
}

// Snapshot is the serializable state of a tree, persisted by the ledger
// after every insertion so a restart resumes with identical roots.
type Snapshot struct {
	Height    int             `cbor:"1,keyasint"`
	NextIndex uint64          `cbor:"2,keyasint"`
	Filled    []*types.BigInt `cbor:"3,keyasint"`
	Roots     []*types.BigInt `cbor:"4,keyasint"`
	RootIndex int             `cbor:"5,keyasint"`
}

// Snapshot captures the current state.
func (t *Tree) Snapshot() *Snapshot {
	s := &Snapshot{
		Height:    t.height,
		NextIndex: t.nextIndex,
		Filled:    make([]*types.BigInt, len(t.filled)),
		Roots:     make([]*types.BigInt, len(t.roots)),
		RootIndex: t.rootIndex,
	}
	for i, f := range t.filled {
		s.Filled[i] = new(types.BigInt).SetBigInt(f)
	}
	for i, r := range t.roots {
		if r != nil {
			s.Roots[i] = new(types.BigInt).SetBigInt(r)
		}
	}
	return s
}

// FromSnapshot rebuilds a tree from a snapshot taken with the same height
// and root-history capacity.
func FromSnapshot(s *Snapshot, rootHistory int, hash HashFunc) (*Tree, error) {
	t, err := New(s.Height, rootHistory, hash)
	if err != nil {
		return nil, err
	}
	if len(s.Filled) != t.height || len(s.Roots) != rootHistory {
		return nil, fmt.Errorf("%w: got %d filled levels and %d roots, want %d and %d",
			ErrInvalidSnapshot, len(s.Filled), len(s.Roots), t.height, rootHistory)
	}
	if s.NextIndex > t.capacity {
		return nil, fmt.Errorf("%w: next index %d exceeds capacity %d",
			ErrInvalidSnapshot, s.NextIndex, t.capacity)
	}
	if s.RootIndex < 0 || s.RootIndex >= rootHistory {
		return nil, fmt.Errorf("%w: root index %d out of range", ErrInvalidSnapshot, s.RootIndex)
	}
	t.nextIndex = s.NextIndex
	t.rootIndex = s.RootIndex
	for i, f := range s.Filled {
		if f == nil {
			return nil, fmt.Errorf("%w: nil filled subtree at level %d", ErrInvalidSnapshot, i)
		}
		t.filled[i] = f.MathBigInt()
	}
	for i, r := range s.Roots {
		if r != nil {
			t.roots[i] = r.MathBigInt()
		} else {
			t.roots[i] = nil
		}
	}
	if t.roots[t.rootIndex] == nil {
		return nil, fmt.Errorf("%w: missing current root", ErrInvalidSnapshot)
	}
	return t, nil
}
