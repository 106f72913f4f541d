package indexer

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/merkletree"
	"github.com/railwayguild/railgun-go/internal/note"
)

// PendingOperation is the subset of a built transaction's public inputs
// needed to compute its Txid and TxidLeaf once the POI aggregator has
// validated it; the indexer only needs these, not the full proof.
type PendingOperation struct {
	Nullifiers       []field.Element
	CommitmentHashes []field.Element
	BoundParamsHash  field.Element
	UtxoTreeIn       uint32
	UtxoTreeOut      note.UtxoTreeOut
	BlockNumber      uint64
}

// PoiValidator is the POI aggregator surface TxidTreeSet needs: the
// highest (tree, leaf index) pair it has validated, and a way to confirm
// a locally computed TXID tree root against the aggregator's own view.
type PoiValidator interface {
	ValidatedTxid(ctx context.Context) (treeNumber uint32, leafIndex uint32, err error)
	ValidateTxidMerkleroot(ctx context.Context, treeNumber uint32, leafIndex uint64, root field.Element) (bool, error)
}

// ErrTxidRootMismatch is returned when a locally rebuilt TXID tree root
// disagrees with the POI aggregator's view after a validate pass.
type ErrTxidRootMismatch struct{ TreeNumber uint32 }

func (e *ErrTxidRootMismatch) Error() string {
	return fmt.Sprintf("indexer: txid tree %d root mismatch against poi aggregator", e.TreeNumber)
}

// TxidTreeSet manages the numbered sequence of TXID Merkle trees, draining
// a FIFO queue of PendingOperations into validated leaves only as fast as
// the POI aggregator confirms them — a built transaction is usable
// locally the moment it's signed, but its TxidLeaf isn't trustworthy to
// third parties until the aggregator has seen and cleared it.
type TxidTreeSet struct {
	mu sync.Mutex

	validator PoiValidator

	trees          map[uint32]*merkletree.Tree
	pending        *list.List // of *PendingOperation
	txidToPosition map[field.Element][2]uint32
	validatedIndex uint64
}

// NewTxidTreeSet builds an empty TxidTreeSet backed by the given POI
// validator.
func NewTxidTreeSet(validator PoiValidator) *TxidTreeSet {
	return &TxidTreeSet{
		validator:      validator,
		trees:          make(map[uint32]*merkletree.Tree),
		pending:        list.New(),
		txidToPosition: make(map[field.Element][2]uint32),
	}
}

// Enqueue adds a built operation to the pending queue; it will only be
// folded into a validated tree once the POI aggregator's validated index
// reaches or passes it.
func (s *TxidTreeSet) Enqueue(op PendingOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.PushBack(&op)
}

// PositionOf returns the (treeNumber, leafIndex) of a validated Txid, and
// false if it hasn't been validated (or doesn't exist) yet.
func (s *TxidTreeSet) PositionOf(txid note.Txid) (treeNumber, leafIndex uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, found := s.txidToPosition[txid.Element()]
	return pos[0], pos[1], found
}

// Tree returns the validated txid tree for a tree number, if any leaves
// have been drained into it yet.
func (s *TxidTreeSet) Tree(treeNumber uint32) (*merkletree.Tree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trees[treeNumber]
	return t, ok
}

// ValidatedIndex returns the number of leaves folded into validated trees
// so far: treeNumber*TotalLeaves + leafIndex + 1 for the highest such leaf,
// or 0 before the first successful Validate.
func (s *TxidTreeSet) ValidatedIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validatedIndex
}

// Validate asks the POI aggregator how far validation has progressed,
// drains that many pending operations (oldest first) into the tree set,
// rebuilds every touched tree, and confirms the newest tree's root
// against the aggregator before considering the drain successful.
func (s *TxidTreeSet) Validate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	validatedTree, validatedLeaf, err := s.validator.ValidatedTxid(ctx)
	if err != nil {
		return fmt.Errorf("indexer: validated txid: %w", err)
	}

	currentTotal := 0
	for _, t := range s.trees {
		currentTotal += int(t.LeavesLen())
	}

	targetTotal := int(validatedTree)*TotalLeaves + int(validatedLeaf) + 1
	toDrain := targetTotal - currentTotal
	if toDrain <= 0 {
		return nil
	}
	if toDrain > s.pending.Len() {
		toDrain = s.pending.Len()
	}
	if toDrain == 0 {
		return nil
	}

	total := currentTotal
	touched := make(map[uint32]struct{})
	var lastTreeNumber uint32

	for i := 0; i < toDrain; i++ {
		front := s.pending.Front()
		s.pending.Remove(front)
		op := front.Value.(*PendingOperation)

		txid := note.NewTxid(op.Nullifiers, op.CommitmentHashes, op.BoundParamsHash)
		leaf := note.NewTxidLeaf(txid, op.UtxoTreeIn, op.UtxoTreeOut)

		treeNumber := uint32(total / TotalLeaves)
		position := uint32(total % TotalLeaves)

		tree, ok := s.trees[treeNumber]
		if !ok {
			tree = merkletree.New()
			s.trees[treeNumber] = tree
		}
		if err := tree.InsertLeavesRaw(position, []field.Element{leaf.Element()}); err != nil {
			return fmt.Errorf("indexer: insert txid leaf: %w", err)
		}

		s.txidToPosition[txid.Element()] = [2]uint32{treeNumber, position}
		touched[treeNumber] = struct{}{}
		lastTreeNumber = treeNumber
		total++
	}

	for tn := range touched {
		if err := s.trees[tn].Rebuild(); err != nil {
			return fmt.Errorf("indexer: rebuild txid tree %d: %w", tn, err)
		}
	}

	lastTree := s.trees[lastTreeNumber]
	root, err := lastTree.Root()
	if err != nil {
		return fmt.Errorf("indexer: txid root: %w", err)
	}
	leafIndex := uint64(lastTree.LeavesLen()) - 1

	ok, err := s.validator.ValidateTxidMerkleroot(ctx, lastTreeNumber, leafIndex, root)
	if err != nil {
		return fmt.Errorf("indexer: validate txid merkleroot: %w", err)
	}
	if !ok {
		return &ErrTxidRootMismatch{TreeNumber: lastTreeNumber}
	}

	s.validatedIndex = uint64(total)
	return nil
}
