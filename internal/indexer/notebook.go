package indexer

import (
	"sort"

	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/note"
)

// SpentNote is a note a Notebook tracked as unspent until its nullifier was
// observed on-chain.
type SpentNote struct {
	Note       note.UtxoNote
	SpentBlock uint64
}

// Notebook tracks one account's decrypted notes within a single UTXO tree,
// split into unspent and spent by leaf index, grounded on
// original_source/railgun-rs/src/railgun/indexer/notebook.rs.
type Notebook struct {
	unspent map[uint32]note.UtxoNote
	spent   map[uint32]SpentNote
}

func newNotebook() *Notebook {
	return &Notebook{
		unspent: make(map[uint32]note.UtxoNote),
		spent:   make(map[uint32]SpentNote),
	}
}

// Add records a newly decrypted note as unspent at leafIndex.
func (n *Notebook) Add(leafIndex uint32, utxo note.UtxoNote) {
	n.unspent[leafIndex] = utxo
}

// Nullify scans unspent notes for the one whose nullifier matches, moving
// it to spent and returning it, matching notebook.rs's linear-scan nullify.
func (n *Notebook) Nullify(nullifier field.Element, spentBlock uint64) (SpentNote, bool) {
	for leafIndex, utxo := range n.unspent {
		if field.Equal(utxo.Nullifier(field.FromUint64(uint64(leafIndex))), nullifier) {
			spent := SpentNote{Note: utxo, SpentBlock: spentBlock}
			delete(n.unspent, leafIndex)
			n.spent[leafIndex] = spent
			return spent, true
		}
	}
	return SpentNote{}, false
}

// Unspent returns every currently unspent note, ordered by leaf index.
func (n *Notebook) Unspent() []note.UtxoNote {
	indices := make([]uint32, 0, len(n.unspent))
	for idx := range n.unspent {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]note.UtxoNote, len(indices))
	for i, idx := range indices {
		out[i] = n.unspent[idx]
	}
	return out
}
