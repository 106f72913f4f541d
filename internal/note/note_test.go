package note

import (
	"math/big"
	"testing"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
)

func testKeys(t *testing.T, spendSeed, viewSeed byte) (keys.SpendingKey, keys.ViewingKey) {
	t.Helper()
	sk, err := keys.NewSpendingKey([32]byte{spendSeed})
	if err != nil {
		t.Fatalf("NewSpendingKey: %v", err)
	}
	vk := keys.NewViewingKey([32]byte{viewSeed})
	return sk, vk
}

func testAsset() caip.AssetId {
	addr, _ := caip.AddressFromHex("0x1234567890123456789012345678901234567890")
	return caip.NewERC20(addr)
}

func TestUtxoNoteHashAndNullifierDeterministic(t *testing.T) {
	sk, vk := testKeys(t, 1, 2)
	n := NewUtxoNote(sk, vk, 1, 0, testAsset(), big.NewInt(100), [16]byte{3}, "test memo", UtxoTypeTransact)

	h1 := n.Hash()
	h2 := n.Hash()
	if !field.Equal(h1, h2) {
		t.Fatal("note hash must be deterministic")
	}

	leafIndex := field.FromUint64(5)
	nf1 := n.Nullifier(leafIndex)
	nf2 := n.Nullifier(leafIndex)
	if !field.Equal(nf1, nf2) {
		t.Fatal("nullifier must be deterministic for a fixed leaf index")
	}

	otherLeaf := field.FromUint64(6)
	if field.Equal(nf1, n.Nullifier(otherLeaf)) {
		t.Fatal("nullifier must differ across leaf indices")
	}
}

func TestUtxoNoteSignVerifies(t *testing.T) {
	sk, vk := testKeys(t, 1, 2)
	n := NewUtxoNote(sk, vk, 1, 0, testAsset(), big.NewInt(100), [16]byte{3}, "", UtxoTypeTransact)

	inputs := []field.Element{field.FromUint64(4)}
	r8x, r8y, s, err := n.Sign(inputs)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sigHash := field.PoseidonHash(inputs...)
	ok, err := keys.Verify(sk.PublicKey(), sigHash, r8x, r8y, s)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("note signature should verify")
	}
}

func TestBlindedCommitmentDiffersFromHash(t *testing.T) {
	sk, vk := testKeys(t, 1, 2)
	n := NewUtxoNote(sk, vk, 1, 0, testAsset(), big.NewInt(100), [16]byte{3}, "", UtxoTypeTransact)

	if field.Equal(n.Hash(), n.BlindedCommitment()) {
		t.Fatal("blinded commitment should not equal the raw commitment hash")
	}
}

func TestUnshieldNoteHashDependsOnReceiver(t *testing.T) {
	asset := testAsset()
	receiverA, _ := caip.AddressFromHex("0x1234567890123456789012345678901234567890")
	receiverB, _ := caip.AddressFromHex("0x0987654321098765432109876543210987654321")

	a := NewUnshieldNote(receiverA, asset, big.NewInt(10))
	b := NewUnshieldNote(receiverB, asset, big.NewInt(10))

	if field.Equal(a.Hash(), b.Hash()) {
		t.Fatal("unshield notes to different receivers must hash differently")
	}
}

func TestTransferNoteEncryptDecryptRoundTrip(t *testing.T) {
	senderSpend, senderView := testKeys(t, 10, 11)
	_ = senderSpend
	recipientSpend, recipientView := testKeys(t, 20, 21)

	recipientViewPub, err := recipientView.PublicKey()
	if err != nil {
		t.Fatalf("recipient viewing pub: %v", err)
	}
	master := keys.NewMasterPublicKey(recipientSpend.PublicKey(), recipientView.NullifyingKey())
	to := address.New(master, recipientViewPub, address.EVMChain(1))

	transfer := NewTransferNote(senderView, to, testAsset(), big.NewInt(42), [16]byte{7}, "hello")

	ct, err := EncryptTransferNote(transfer)
	if err != nil {
		t.Fatalf("EncryptTransferNote: %v", err)
	}

	decoded, err := DecryptTransferNote(recipientSpend, recipientView, 1, 0, ct)
	if err != nil {
		t.Fatalf("DecryptTransferNote: %v", err)
	}

	if decoded.Value().Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("value mismatch: got %s want 42", decoded.Value())
	}
	if decoded.Memo() != "hello" {
		t.Fatalf("memo mismatch: got %q want %q", decoded.Memo(), "hello")
	}
	if decoded.Random() != [16]byte{7} {
		t.Fatal("random mismatch after round trip")
	}
	if !decoded.Asset().Equal(testAsset()) {
		t.Fatal("asset mismatch after round trip")
	}
}

func TestTxidDeterministic(t *testing.T) {
	nullifiers := []field.Element{field.FromUint64(1), field.FromUint64(2)}
	commitments := []field.Element{field.FromUint64(3)}
	bound := field.FromUint64(4)

	t1 := NewTxid(nullifiers, commitments, bound)
	t2 := NewTxid(nullifiers, commitments, bound)
	if !field.Equal(t1.Element(), t2.Element()) {
		t.Fatal("txid must be deterministic")
	}
}

func TestTxidLeafVariesByTreeOutKind(t *testing.T) {
	txid := NewTxid(nil, nil, field.FromUint64(1))

	included := NewTxidLeaf(txid, 1, IncludedUtxoTreeOut(2, 3))
	preInclusion := NewTxidLeaf(txid, 1, PreInclusionUtxoTreeOut())
	unshieldOnly := NewTxidLeaf(txid, 1, UnshieldOnlyUtxoTreeOut())

	if field.Equal(included.Element(), preInclusion.Element()) {
		t.Fatal("included and pre-inclusion txid leaves should differ")
	}
	if field.Equal(included.Element(), unshieldOnly.Element()) {
		t.Fatal("included and unshield-only txid leaves should differ")
	}
}
