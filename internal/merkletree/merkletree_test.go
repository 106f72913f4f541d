package merkletree

import (
	"testing"

	"github.com/railwayguild/railgun-go/internal/field"
)

func TestEmptyTreeRootIsZeroSubtree(t *testing.T) {
	tree := New()
	root, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if !field.Equal(root, zeroLevels[Depth]) {
		t.Fatal("empty tree root should equal the precomputed all-zero-leaves root")
	}
}

func TestRootRequiresRebuildAfterRawInsert(t *testing.T) {
	tree := New()
	if err := tree.InsertLeavesRaw(0, []field.Element{field.FromUint64(1)}); err != nil {
		t.Fatalf("InsertLeavesRaw: %v", err)
	}
	if _, err := tree.Root(); err != ErrTreeDirty {
		t.Fatalf("Root should fail with ErrTreeDirty before Rebuild, got %v", err)
	}
	if err := tree.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if _, err := tree.Root(); err != nil {
		t.Fatalf("Root after Rebuild: %v", err)
	}
}

func TestInsertChangesRoot(t *testing.T) {
	tree := New()
	before, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	if err := tree.InsertLeaves(0, []field.Element{field.FromUint64(42)}); err != nil {
		t.Fatalf("InsertLeaves: %v", err)
	}
	after, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	if field.Equal(before, after) {
		t.Fatal("root should change after inserting a non-zero leaf")
	}
}

func TestGenerateProofVerifies(t *testing.T) {
	tree := New()
	leaves := []field.Element{
		field.FromUint64(1),
		field.FromUint64(2),
		field.FromUint64(3),
		field.FromUint64(4),
		field.FromUint64(5),
	}
	if err := tree.InsertLeaves(0, leaves); err != nil {
		t.Fatalf("InsertLeaves: %v", err)
	}

	root, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	for i, leaf := range leaves {
		proof, err := tree.GenerateProof(leaf)
		if err != nil {
			t.Fatalf("GenerateProof(%d): %v", i, err)
		}
		if proof.Position != uint32(i) {
			t.Fatalf("proof for leaf %d resolved to position %d", i, proof.Position)
		}
		if !VerifyProof(leaf, proof, root) {
			t.Fatalf("proof for leaf %d did not verify", i)
		}
	}
}

func TestProofFailsForWrongLeaf(t *testing.T) {
	tree := New()
	leaves := []field.Element{field.FromUint64(10), field.FromUint64(20)}
	if err := tree.InsertLeaves(0, leaves); err != nil {
		t.Fatalf("InsertLeaves: %v", err)
	}
	root, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	proof, err := tree.GenerateProof(field.FromUint64(10))
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	if VerifyProof(field.FromUint64(999), proof, root) {
		t.Fatal("proof should not verify against the wrong leaf value")
	}
}

func TestBatchedInsertMatchesSequentialInsert(t *testing.T) {
	leaves := []field.Element{
		field.FromUint64(1),
		field.FromUint64(2),
		field.FromUint64(3),
		field.FromUint64(4),
	}

	batched := New()
	if err := insertRawThenRebuild(batched, leaves); err != nil {
		t.Fatalf("batched insert: %v", err)
	}
	batchedRoot, err := batched.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	sequential := New()
	for i, leaf := range leaves {
		if err := sequential.InsertLeaves(uint32(i), []field.Element{leaf}); err != nil {
			t.Fatalf("sequential insert %d: %v", i, err)
		}
	}
	sequentialRoot, err := sequential.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	if !field.Equal(batchedRoot, sequentialRoot) {
		t.Fatal("batched and sequential insertion of the same leaves should converge to the same root")
	}
}

func insertRawThenRebuild(tree *Tree, leaves []field.Element) error {
	if err := tree.InsertLeavesRaw(0, leaves); err != nil {
		return err
	}
	return tree.Rebuild()
}

func TestInsertPastEndZeroPadsAndOverflowRejected(t *testing.T) {
	tree := New()
	if err := tree.InsertLeaves(5, []field.Element{field.FromUint64(1)}); err != nil {
		t.Fatalf("InsertLeaves at 5: %v", err)
	}
	if tree.LeavesLen() != 6 {
		t.Fatalf("expected 6 leaves after inserting at position 5, got %d", tree.LeavesLen())
	}

	explicit := New()
	z := field.ZeroLeaf
	if err := explicit.InsertLeaves(0, []field.Element{z, z, z, z, z, field.FromUint64(1)}); err != nil {
		t.Fatalf("InsertLeaves: %v", err)
	}
	gotRoot, err := tree.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	wantRoot, err := explicit.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if !field.Equal(gotRoot, wantRoot) {
		t.Fatal("a gap left by a non-sequential insert should hash as zero leaves")
	}

	if err := tree.InsertLeavesRaw(TotalLeaves, []field.Element{field.FromUint64(2)}); err != ErrTreeFull {
		t.Fatalf("expected ErrTreeFull for an insert past TotalLeaves, got %v", err)
	}
}

func TestMissingLeafProofFails(t *testing.T) {
	tree := New()
	if err := tree.InsertLeaves(0, []field.Element{field.FromUint64(1)}); err != nil {
		t.Fatalf("InsertLeaves: %v", err)
	}
	if _, err := tree.GenerateProof(field.FromUint64(999)); err != ErrLeafNotFound {
		t.Fatalf("expected ErrLeafNotFound, got %v", err)
	}
}
