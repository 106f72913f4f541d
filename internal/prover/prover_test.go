package prover

import (
	"context"
	"testing"

	"github.com/railwayguild/railgun-go/internal/field"
)

func TestGroth16ManagerProveTransactRoundTrip(t *testing.T) {
	m := NewGroth16Manager()

	inputs := TransactCircuitInputs{
		MerkleRoot:      field.FromUint64(1),
		BoundParamsHash: field.FromUint64(2),
		Nullifiers:      []field.Element{field.FromUint64(10)},
		Commitments:     []field.Element{field.FromUint64(11)},
		Values:          []field.Element{field.FromUint64(100), field.FromUint64(100)},
		Randomizers:     []field.Element{field.FromUint64(0), field.FromUint64(0)},
	}

	proof, err := m.ProveTransact(context.Background(), inputs)
	if err != nil {
		t.Fatalf("ProveTransact: %v", err)
	}
	if len(proof) == 0 {
		t.Fatal("expected non-empty proof bytes")
	}

	if _, ok := m.transactCS[circuitKey{1, 1}]; !ok {
		t.Fatal("expected transact circuit to be compiled for (1,1)")
	}
}

func TestGroth16ManagerProveTransactUnbalancedValuesFails(t *testing.T) {
	m := NewGroth16Manager()

	inputs := TransactCircuitInputs{
		MerkleRoot:      field.FromUint64(1),
		BoundParamsHash: field.FromUint64(2),
		Nullifiers:      []field.Element{field.FromUint64(10)},
		Commitments:     []field.Element{field.FromUint64(11)},
		Values:          []field.Element{field.FromUint64(100), field.FromUint64(50)},
		Randomizers:     []field.Element{field.FromUint64(0), field.FromUint64(0)},
	}

	if _, err := m.ProveTransact(context.Background(), inputs); err == nil {
		t.Fatal("expected proving to fail for an unbalanced value assignment")
	}
}

func TestGroth16ManagerProvePoiRoundTrip(t *testing.T) {
	m := NewGroth16Manager()

	inputs := PoiCircuitInputs{
		PoiMerkleRoots:         []field.Element{field.FromUint64(5)},
		BlindedCommitmentsOut: []field.Element{field.FromUint64(7)},
	}

	proof, err := m.ProvePoi(context.Background(), inputs)
	if err != nil {
		t.Fatalf("ProvePoi: %v", err)
	}
	if len(proof) == 0 {
		t.Fatal("expected non-empty proof bytes")
	}
}
