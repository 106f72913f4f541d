package indexer

import (
	"math/big"
	"sort"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
	"github.com/railwayguild/railgun-go/internal/note"
)

// IndexedAccount tracks one wallet's decrypted notes across every UTXO
// tree an indexer has synced, one Notebook per tree number, grounded on
// original_source/railgun-rs/src/railgun/indexer/indexed_account.rs.
type IndexedAccount struct {
	spendKey keys.SpendingKey
	viewKey  keys.ViewingKey
	addr     address.RailgunAddress

	notebooks map[uint32]*Notebook
}

func newIndexedAccount(spendKey keys.SpendingKey, viewKey keys.ViewingKey, chain address.ChainID) *IndexedAccount {
	master := keys.NewMasterPublicKey(spendKey.PublicKey(), viewKey.NullifyingKey())
	viewPub, err := viewKey.PublicKey()
	if err != nil {
		// X25519 basepoint scalar multiplication over already-validated key
		// material cannot fail.
		panic("indexer: unreachable viewing public key derivation failure: " + err.Error())
	}
	return &IndexedAccount{
		spendKey:  spendKey,
		viewKey:   viewKey,
		addr:      address.New(master, viewPub, chain),
		notebooks: make(map[uint32]*Notebook),
	}
}

// Address returns this account's public Railgun address.
func (a *IndexedAccount) Address() address.RailgunAddress { return a.addr }

func (a *IndexedAccount) notebook(treeNumber uint32) *Notebook {
	nb, ok := a.notebooks[treeNumber]
	if !ok {
		nb = newNotebook()
		a.notebooks[treeNumber] = nb
	}
	return nb
}

// Unspent returns every unspent note this account holds, across every
// tree, ordered by tree number then leaf index.
func (a *IndexedAccount) Unspent() []note.IncludedNote {
	treeNumbers := make([]uint32, 0, len(a.notebooks))
	for tn := range a.notebooks {
		treeNumbers = append(treeNumbers, tn)
	}
	sort.Slice(treeNumbers, func(i, j int) bool { return treeNumbers[i] < treeNumbers[j] })

	out := make([]note.IncludedNote, 0)
	for _, tn := range treeNumbers {
		for _, n := range a.notebooks[tn].Unspent() {
			out = append(out, n)
		}
	}
	return out
}

// Balance sums unspent value per asset, keyed by the asset's CAIP string.
func (a *IndexedAccount) Balance() map[string]*big.Int {
	totals := make(map[string]*big.Int)
	for _, n := range a.Unspent() {
		key := n.Asset().String()
		if totals[key] == nil {
			totals[key] = big.NewInt(0)
		}
		totals[key].Add(totals[key], n.Value())
	}
	return totals
}

// globalLeafPosition resolves the (tree number, leaf index) an event
// payload's i-th entry lands at, crossing into the next tree number once
// startPosition+i overflows a tree's capacity, matching insertUtxoLeaves's
// boundary-crossing arithmetic.
func globalLeafPosition(treeNumber, startPosition uint32, offset int) (uint32, uint32) {
	globalPos := uint64(startPosition) + uint64(offset)
	treeNum := treeNumber + uint32(globalPos/TotalLeaves)
	leafIdx := uint32(globalPos % TotalLeaves)
	return treeNum, leafIdx
}

// handleShield decrypts every shield-event ciphertext addressed to this
// account and records the successes as unspent notes, matching
// IndexedAccount::handle_shield_event. Ciphertexts addressed to another
// recipient fail decryption and are silently skipped.
func (a *IndexedAccount) handleShield(treeNumber, startPosition uint32, ciphertexts []note.CommitmentCiphertext) {
	for i, ct := range ciphertexts {
		tn, leafIndex := globalLeafPosition(treeNumber, startPosition, i)
		utxo, err := note.DecryptShield(a.spendKey, a.viewKey, tn, leafIndex, ct)
		if err != nil {
			continue
		}
		a.notebook(tn).Add(leafIndex, utxo)
	}
}

// handleTransact mirrors handleShield for transact-event ciphertexts.
func (a *IndexedAccount) handleTransact(treeNumber, startPosition uint32, ciphertexts []note.CommitmentCiphertext) {
	for i, ct := range ciphertexts {
		tn, leafIndex := globalLeafPosition(treeNumber, startPosition, i)
		utxo, err := note.DecryptTransferNote(a.spendKey, a.viewKey, tn, leafIndex, ct)
		if err != nil {
			continue
		}
		a.notebook(tn).Add(leafIndex, utxo)
	}
}

// handleNullified moves any of this account's unspent notes matching one
// of the given nullifiers into its notebook's spent set.
func (a *IndexedAccount) handleNullified(treeNumber uint32, nullifiers []field.Element, blockNumber uint64) {
	nb := a.notebook(treeNumber)
	for _, n := range nullifiers {
		nb.Nullify(n, blockNumber)
	}
}
