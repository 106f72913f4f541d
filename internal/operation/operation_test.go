package operation

import (
	"context"
	"math/big"
	"testing"

	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
	"github.com/railwayguild/railgun-go/internal/note"
	"github.com/railwayguild/railgun-go/internal/prover"
)

func testAccount(t *testing.T, seed byte) Account {
	t.Helper()
	var spendSeed, viewSeed [32]byte
	spendSeed[0], viewSeed[0] = seed, seed+1

	spendKey, err := keys.NewSpendingKey(spendSeed)
	if err != nil {
		t.Fatalf("NewSpendingKey: %v", err)
	}
	viewKey := keys.NewViewingKey(viewSeed)

	return Account{SpendKey: spendKey, ViewKey: viewKey, Chain: address.EVMChain(1)}
}

func testAsset() caip.AssetId {
	var addr caip.Address
	addr[19] = 1
	return caip.NewERC20(addr)
}

func TestBuilderTransferProducesChangeNote(t *testing.T) {
	alice := testAccount(t, 1)
	bob := testAccount(t, 10)
	asset := testAsset()

	random, _ := field.RandomBytes16()
	inNote := note.NewUtxoNote(alice.SpendKey, alice.ViewKey, 0, 0, asset, big.NewInt(1000), random, "", note.UtxoTypeShield)

	b := NewBuilder()
	b.Transfer(alice, bob.Address(), asset, big.NewInt(400), "hi")

	ops, err := b.Build([]note.IncludedNote{inNote})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}

	op := ops[0]
	if len(op.OutNotes) != 2 {
		t.Fatalf("expected transfer + change note, got %d out notes", len(op.OutNotes))
	}
	if op.OutValue().Cmp(op.InValue()) != 0 {
		t.Fatalf("in/out value mismatch: in=%s out=%s", op.InValue(), op.OutValue())
	}
}

func TestBuilderInsufficientFunds(t *testing.T) {
	alice := testAccount(t, 1)
	bob := testAccount(t, 10)
	asset := testAsset()

	random, _ := field.RandomBytes16()
	inNote := note.NewUtxoNote(alice.SpendKey, alice.ViewKey, 0, 0, asset, big.NewInt(100), random, "", note.UtxoTypeShield)

	b := NewBuilder()
	b.Transfer(alice, bob.Address(), asset, big.NewInt(400), "")

	if _, err := b.Build([]note.IncludedNote{inNote}); err != ErrNoInputNotes {
		t.Fatalf("expected ErrNoInputNotes, got %v", err)
	}
}

func TestBuilderSetUnshieldReplacesPriorValue(t *testing.T) {
	alice := testAccount(t, 1)
	asset := testAsset()

	var to caip.Address
	to[19] = 9

	b := NewBuilder()
	b.SetUnshield(alice, to, asset, big.NewInt(1))
	b.SetUnshield(alice, to, asset, big.NewInt(2))

	random, _ := field.RandomBytes16()
	inNote := note.NewUtxoNote(alice.SpendKey, alice.ViewKey, 0, 0, asset, big.NewInt(10), random, "", note.UtxoTypeShield)

	ops, err := b.Build([]note.IncludedNote{inNote})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ops[0].UnshieldNote.Value().Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected the later SetUnshield call to win, got value %s", ops[0].UnshieldNote.Value())
	}
}

func TestBuilderCrossTreeSplitUnsupported(t *testing.T) {
	alice := testAccount(t, 1)
	bob := testAccount(t, 10)
	asset := testAsset()

	r1, _ := field.RandomBytes16()
	r2, _ := field.RandomBytes16()
	noteA := note.NewUtxoNote(alice.SpendKey, alice.ViewKey, 0, 0, asset, big.NewInt(100), r1, "", note.UtxoTypeShield)
	noteB := note.NewUtxoNote(alice.SpendKey, alice.ViewKey, 1, 0, asset, big.NewInt(100), r2, "", note.UtxoTypeShield)

	b := NewBuilder()
	b.Transfer(alice, bob.Address(), asset, big.NewInt(150), "")

	if _, err := b.Build([]note.IncludedNote{noteA, noteB}); err != ErrCrossTreeSplitUnsupported {
		t.Fatalf("expected ErrCrossTreeSplitUnsupported, got %v", err)
	}
}

type fakeEstimator struct {
	gasPrice *big.Int
	gas      *big.Int
}

func (e *fakeEstimator) GasPriceWei(ctx context.Context) (*big.Int, error) { return e.gasPrice, nil }

func (e *fakeEstimator) EstimateGas(ctx context.Context, operations []Operation) (*big.Int, error) {
	return e.gas, nil
}

type fakeProver struct{ calls int }

func (p *fakeProver) ProveTransact(ctx context.Context, inputs prover.TransactCircuitInputs) (prover.TransactProof, error) {
	p.calls++
	var proof groth16bn254.Proof
	raw, err := proof.MarshalBinary()
	return prover.TransactProof(raw), err
}

func TestPrepareBroadcastConvergesAndProves(t *testing.T) {
	alice := testAccount(t, 1)
	bob := testAccount(t, 10)
	asset := testAsset()

	random, _ := field.RandomBytes16()
	inNote := note.NewUtxoNote(alice.SpendKey, alice.ViewKey, 0, 0, asset, big.NewInt(1_000_000_000_000_000), random, "", note.UtxoTypeShield)

	b := NewBuilder()
	b.Transfer(alice, bob.Address(), asset, big.NewInt(1000), "")

	estimator := &fakeEstimator{gasPrice: big.NewInt(1), gas: big.NewInt(100_000)}
	txProver := &fakeProver{}

	prepared, err := b.PrepareBroadcast(
		context.Background(),
		[]note.IncludedNote{inNote},
		txProver,
		estimator,
		func(uint32) field.Element { return field.FromUint64(0) },
		alice,
		bob.Address(),
		asset,
		100,
	)
	if err != nil {
		t.Fatalf("PrepareBroadcast: %v", err)
	}
	if len(prepared.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(prepared.Operations))
	}
	if len(prepared.Proofs) != 1 {
		t.Fatalf("expected 1 proof, got %d", len(prepared.Proofs))
	}
	if txProver.calls != 1 {
		t.Fatalf("expected prover called once, got %d", txProver.calls)
	}
	if prepared.Operations[0].FeeNote == nil {
		t.Fatal("expected a broadcaster fee note on the converged operation")
	}
}
