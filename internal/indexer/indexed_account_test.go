package indexer

import (
	"context"
	"math/big"
	"testing"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
	"github.com/railwayguild/railgun-go/internal/note"
)

func testAccountKeys(t *testing.T, spendSeed, viewSeed byte) (keys.SpendingKey, keys.ViewingKey) {
	t.Helper()
	sk, err := keys.NewSpendingKey([32]byte{spendSeed})
	if err != nil {
		t.Fatalf("NewSpendingKey: %v", err)
	}
	vk := keys.NewViewingKey([32]byte{viewSeed})
	return sk, vk
}

func testAccountAsset() caip.AssetId {
	addr, _ := caip.AddressFromHex("0x1234567890123456789012345678901234567890")
	return caip.NewERC20(addr)
}

func TestUtxoIndexerSyncDecryptsShieldEventForAccount(t *testing.T) {
	sk, vk := testAccountKeys(t, 1, 2)
	idx := NewUtxoIndexer(&fakeSyncer{}, &fakeVerifier{ok: true})
	acct := idx.AddAccount(sk, vk, address.EVMChain(1))

	ct, err := note.EncryptShieldNote(acct.Address(), testAccountAsset(), big.NewInt(100), [16]byte{9}, "deposit")
	if err != nil {
		t.Fatalf("EncryptShieldNote: %v", err)
	}

	expected, err := note.DecryptShield(sk, vk, 0, 0, ct)
	if err != nil {
		t.Fatalf("DecryptShield: %v", err)
	}

	syncer := &fakeSyncer{
		latest: 1,
		events: []SyncEvent{
			{
				Kind:          SyncEventShield,
				BlockNumber:   1,
				TreeNumber:    0,
				StartPosition: 0,
				Leaves:        []field.Element{expected.Hash()},
				Ciphertexts:   []note.CommitmentCiphertext{ct},
			},
		},
	}
	idx.syncer = syncer

	if err := idx.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	unspent := idx.Unspent(acct.Address())
	if len(unspent) != 1 {
		t.Fatalf("expected 1 unspent note, got %d", len(unspent))
	}
	if unspent[0].Value().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("value mismatch: got %s want 100", unspent[0].Value())
	}

	balance := idx.Balance(acct.Address())
	if got := balance[testAccountAsset().String()]; got == nil || got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance mismatch: got %v", got)
	}
}

func TestUtxoIndexerNullifyMovesNoteOutOfUnspent(t *testing.T) {
	sk, vk := testAccountKeys(t, 1, 2)
	idx := NewUtxoIndexer(&fakeSyncer{}, &fakeVerifier{ok: true})
	acct := idx.AddAccount(sk, vk, address.EVMChain(1))

	ct, err := note.EncryptShieldNote(acct.Address(), testAccountAsset(), big.NewInt(50), [16]byte{4}, "")
	if err != nil {
		t.Fatalf("EncryptShieldNote: %v", err)
	}
	decrypted, err := note.DecryptShield(sk, vk, 0, 0, ct)
	if err != nil {
		t.Fatalf("DecryptShield: %v", err)
	}
	nullifier := decrypted.Nullifier(field.FromUint64(0))

	idx.syncer = &fakeSyncer{
		latest: 2,
		events: []SyncEvent{
			{
				Kind:          SyncEventShield,
				BlockNumber:   1,
				TreeNumber:    0,
				StartPosition: 0,
				Leaves:        []field.Element{decrypted.Hash()},
				Ciphertexts:   []note.CommitmentCiphertext{ct},
			},
			{
				Kind:        SyncEventNullified,
				BlockNumber: 2,
				TreeNumber:  0,
				Nullifiers:  []field.Element{nullifier},
			},
		},
	}

	if err := idx.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if unspent := idx.Unspent(acct.Address()); len(unspent) != 0 {
		t.Fatalf("expected note to be nullified out of unspent, got %d", len(unspent))
	}
	if !idx.IsNullified(nullifier) {
		t.Fatal("expected nullifier to be recorded")
	}
}

func TestUtxoIndexerSyncFailsWhenVerifierDisagrees(t *testing.T) {
	idx := NewUtxoIndexer(&fakeSyncer{
		latest: 1,
		events: []SyncEvent{
			{
				Kind:          SyncEventShield,
				BlockNumber:   1,
				TreeNumber:    0,
				StartPosition: 0,
				Leaves:        []field.Element{field.FromUint64(1)},
			},
		},
	}, &fakeVerifier{ok: false})

	if err := idx.Sync(context.Background()); err == nil {
		t.Fatal("expected sync to fail when the verifier rejects the rebuilt root")
	}
}
