// Package merkletree implements Railgun's fixed-depth, dirty-parent-batched
// Poseidon Merkle tree, grounded on
// internal/zkp/merkle.go (InMemoryTreeStore / MerklePath shape) from the
// teacher and on the exact rebuild algorithm in
// original_source/railgun-rs/src/railgun/merkle_tree/merkle_tree.rs.
package merkletree

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/railwayguild/railgun-go/internal/field"
)

// Depth is the fixed depth of every UTXO and TXID tree.
const Depth = 16

// TotalLeaves is the number of leaves a single tree holds (2^Depth).
const TotalLeaves = 1 << Depth

// ErrTreeDirty is returned when Root is called while a batched insert has
// not yet been rebuilt.
var ErrTreeDirty = errors.New("merkletree: root requested with pending dirty parents")

// ErrLeafNotFound is returned when a Merkle proof is requested for a value
// not present in the tree.
var ErrLeafNotFound = errors.New("merkletree: leaf not found")

// ErrTreeFull is returned when an insert would exceed TotalLeaves.
var ErrTreeFull = errors.New("merkletree: tree is full")

// zeroLevels[i] is the Poseidon-hashed value of an entirely-empty subtree
// of height i; zeroLevels[0] is field.ZeroLeaf.
var zeroLevels = computeZeroLevels(Depth)

func computeZeroLevels(depth int) []field.Element {
	levels := make([]field.Element, depth+1)
	levels[0] = field.ZeroLeaf
	for i := 1; i <= depth; i++ {
		levels[i] = field.PoseidonHash(levels[i-1], levels[i-1])
	}
	return levels
}

// Proof is a Merkle inclusion proof: the sibling at each level from leaf to
// root, and the leaf's position (whose bits select left/right at each
// level).
type Proof struct {
	Siblings []field.Element
	Position uint32
}

// Tree is a single fixed-depth-16 sparse Merkle tree that batches leaf
// insertions and defers parent recomputation ("dirty parents") until
// Rebuild is called, matching the original's insert_leaves_raw/rebuild
// split so that a long run of shield/transact events touches each
// ancestor node once instead of once per leaf.
type Tree struct {
	mu sync.RWMutex

	// levels[0] holds leaves; levels[i] holds the i-th ancestor level.
	// Only positions actually written are populated; reads past the end
	// fall back to zeroLevels.
	levels [][]field.Element

	// dirtyParents holds, per level above the leaves, the set of node
	// indices whose children changed since the last Rebuild.
	dirtyParents []map[uint64]struct{}
}

// New creates an empty tree.
func New() *Tree {
	t := &Tree{
		levels:       make([][]field.Element, Depth+1),
		dirtyParents: make([]map[uint64]struct{}, Depth),
	}
	for i := range t.dirtyParents {
		t.dirtyParents[i] = make(map[uint64]struct{})
	}
	return t
}

// LeavesLen returns the number of leaves written so far (including any not
// yet folded into the root by Rebuild).
func (t *Tree) LeavesLen() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint32(len(t.levels[0]))
}

func (t *Tree) nodeAt(level int, index uint64) field.Element {
	row := t.levels[level]
	if index < uint64(len(row)) {
		return row[index]
	}
	return zeroLevels[level]
}

// InsertLeavesRaw writes leaves starting at startPosition and marks their
// parents dirty, without recomputing the root. Leaves already present at
// those positions are overwritten, and a startPosition past the current
// leaf count fills the gap with field.ZeroLeaf, so re-inserting the same
// leaves at the same position leaves the tree unchanged. It fails only
// when the batch would extend past TotalLeaves.
func (t *Tree) InsertLeavesRaw(startPosition uint32, leaves []field.Element) error {
	if len(leaves) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if uint64(startPosition)+uint64(len(leaves)) > TotalLeaves {
		return ErrTreeFull
	}
	if end := int(startPosition) + len(leaves); end > len(t.levels[0]) {
		grown := make([]field.Element, end)
		n := copy(grown, t.levels[0])
		for i := n; i < end; i++ {
			grown[i] = field.ZeroLeaf
		}
		t.levels[0] = grown
	}

	for i, leaf := range leaves {
		idx := uint64(startPosition) + uint64(i)
		t.levels[0][idx] = leaf
		parentIdx := idx / 2
		t.dirtyParents[0][parentIdx] = struct{}{}
	}

	return nil
}

// InsertLeaves inserts leaves and immediately rebuilds affected ancestors,
// convenience wrapper over InsertLeavesRaw+Rebuild for callers that insert
// one small batch at a time and need an up-to-date root right away.
func (t *Tree) InsertLeaves(startPosition uint32, leaves []field.Element) error {
	if err := t.InsertLeavesRaw(startPosition, leaves); err != nil {
		return err
	}
	return t.Rebuild()
}

// Rebuild folds every dirty parent up to the root, level by level. At each
// level, each dirty parent's children are read (falling back to the
// precomputed zero subtree hash when a child was never written), hashed,
// and the set of next-level dirty parents is accumulated — exactly the
// algorithm in merkle_tree.rs's rebuild().
func (t *Tree) Rebuild() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rebuildLocked()
}

func (t *Tree) rebuildLocked() error {
	for level := 0; level < Depth; level++ {
		dirty := t.dirtyParents[level]
		if len(dirty) == 0 {
			continue
		}

		parentWidth := (uint64(len(t.levels[level])) + 1) / 2
		if row := t.levels[level+1]; uint64(len(row)) < parentWidth {
			grown := make([]field.Element, parentWidth)
			copy(grown, row)
			for i := len(row); i < len(grown); i++ {
				grown[i] = zeroLevels[level+1]
			}
			t.levels[level+1] = grown
		}

		indices := make([]uint64, 0, len(dirty))
		for idx := range dirty {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

		nextDirty := make(map[uint64]struct{}, len(indices))
		for _, parentIdx := range indices {
			leftIdx := parentIdx * 2
			rightIdx := leftIdx + 1
			left := t.nodeAt(level, leftIdx)
			right := t.nodeAt(level, rightIdx)

			hashed := field.PoseidonHash(left, right)
			if parentIdx < uint64(len(t.levels[level+1])) {
				t.levels[level+1][parentIdx] = hashed
			}
			nextDirty[parentIdx/2] = struct{}{}
		}

		t.dirtyParents[level] = make(map[uint64]struct{})
		if level+1 < Depth {
			for idx := range nextDirty {
				t.dirtyParents[level+1][idx] = struct{}{}
			}
		}
	}
	return nil
}

// isDirty reports whether any level still has unfolded parents.
func (t *Tree) isDirty() bool {
	for _, d := range t.dirtyParents {
		if len(d) > 0 {
			return true
		}
	}
	return false
}

// Root returns the current tree root. It is an error to call Root while a
// batched insert hasn't been folded by Rebuild, matching the original's
// assertion that dirty_parents is empty before reading root().
func (t *Tree) Root() (field.Element, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.isDirty() {
		return field.Element{}, ErrTreeDirty
	}
	if len(t.levels[0]) == 0 {
		return zeroLevels[Depth], nil
	}
	return t.nodeAt(Depth, 0), nil
}

// ErrProofVerificationFailed is returned when a freshly generated proof
// fails to recompute the tree's own root, which would indicate corrupted
// tree state rather than caller error.
var ErrProofVerificationFailed = errors.New("merkletree: generated proof failed self-verification")

// GenerateProof returns a Merkle proof for the first occurrence of leaf in
// the tree, drawing each sibling from the current (rebuilt) tree state and
// verifying the result against the tree's own root before returning it,
// matching the original's generate_proof(leaf).
func (t *Tree) GenerateProof(leaf field.Element) (Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.isDirty() {
		return Proof{}, ErrTreeDirty
	}

	position, ok := t.findLeafLocked(leaf)
	if !ok {
		return Proof{}, ErrLeafNotFound
	}

	siblings := make([]field.Element, Depth)
	idx := uint64(position)
	for level := 0; level < Depth; level++ {
		siblingIdx := idx ^ 1
		siblings[level] = t.nodeAt(level, siblingIdx)
		idx /= 2
	}

	proof := Proof{Siblings: siblings, Position: position}

	root := zeroLevels[Depth]
	if len(t.levels[0]) > 0 {
		root = t.nodeAt(Depth, 0)
	}
	if !VerifyProof(leaf, proof, root) {
		return Proof{}, ErrProofVerificationFailed
	}

	return proof, nil
}

// findLeafLocked returns the position of the first leaf equal to value, or
// false if none match. Callers must hold t.mu.
func (t *Tree) findLeafLocked(value field.Element) (uint32, bool) {
	for i, leaf := range t.levels[0] {
		if field.Equal(leaf, value) {
			return uint32(i), true
		}
	}
	return 0, false
}

// VerifyProof recomputes the root implied by a leaf and its proof and
// compares it to root.
func VerifyProof(leaf field.Element, proof Proof, root field.Element) bool {
	current := leaf
	idx := proof.Position
	for level := 0; level < len(proof.Siblings); level++ {
		sibling := proof.Siblings[level]
		if idx&1 == 0 {
			current = field.PoseidonHash(current, sibling)
		} else {
			current = field.PoseidonHash(sibling, current)
		}
		idx >>= 1
	}
	return field.Equal(current, root)
}

// Verifier confirms the tree's current root is consistent with an external
// source of truth (e.g. the on-chain contract's reported root), matching
// the original's MerkleTreeVerifier hook used after every sync.
type Verifier interface {
	VerifyRoot(ctx context.Context, treeNumber uint32, root field.Element) (bool, error)
}
