package note

import "github.com/railwayguild/railgun-go/internal/field"

// maxCircuitNullifiers and maxCircuitCommitments are the fixed-size input
// and output arrays the transact circuit is parameterized for; shorter
// operations are padded with the tree's zero-leaf value.
const (
	maxCircuitNullifiers  = 13
	maxCircuitCommitments = 13
)

// Txid identifies a Railgun transaction by hashing its nullifiers,
// commitments and bound parameters, independent of where (or whether) the
// transaction has landed in the UTXO tree.
type Txid field.Element

// NewTxid computes a transaction's Txid from its nullifiers, output
// commitments and bound-parameters hash, padding both input arrays out to
// the circuit's fixed width with the tree's zero-leaf value.
func NewTxid(nullifiers, commitments []field.Element, boundParamsHash field.Element) Txid {
	paddedNullifiers := make([]field.Element, maxCircuitNullifiers)
	paddedCommitments := make([]field.Element, maxCircuitCommitments)
	for i := range paddedNullifiers {
		paddedNullifiers[i] = field.ZeroLeaf
	}
	for i := range paddedCommitments {
		paddedCommitments[i] = field.ZeroLeaf
	}
	copy(paddedNullifiers, nullifiers)
	copy(paddedCommitments, commitments)

	nullifiersHash := field.PoseidonHash(paddedNullifiers...)
	commitmentsHash := field.PoseidonHash(paddedCommitments...)

	return Txid(field.PoseidonHash(nullifiersHash, commitmentsHash, boundParamsHash))
}

func (t Txid) Element() field.Element { return field.Element(t) }

// UtxoTreeOut describes where (if anywhere) a transaction's output
// commitments land in the global UTXO tree numbering, for the purpose of
// computing a TxidLeaf's global position input.
type UtxoTreeOut struct {
	kind       utxoTreeOutKind
	treeNumber uint32
	startIndex uint32
}

type utxoTreeOutKind int

const (
	utxoTreeOutIncluded utxoTreeOutKind = iota
	utxoTreeOutPreInclusion
	utxoTreeOutUnshieldOnly
)

// Hardcoded sentinel tree/position pairs the original protocol reserves for
// transactions that either haven't landed on-chain yet (pre-inclusion POI
// proof generation) or that never add UTXO leaves at all (unshield-only
// operations).
const (
	globalUnshieldEventTree      = 99999
	globalUnshieldEventPosition  = 99999
	globalPreInclusionProofTree  = 199999
	globalPreInclusionProofIndex = 199999
)

// IncludedUtxoTreeOut marks an operation whose output commitments have a
// concrete, on-chain tree position.
func IncludedUtxoTreeOut(treeNumber, startIndex uint32) UtxoTreeOut {
	return UtxoTreeOut{kind: utxoTreeOutIncluded, treeNumber: treeNumber, startIndex: startIndex}
}

// PreInclusionUtxoTreeOut marks an operation being proven for POI purposes
// before its commitments have landed on-chain.
func PreInclusionUtxoTreeOut() UtxoTreeOut {
	return UtxoTreeOut{kind: utxoTreeOutPreInclusion}
}

// UnshieldOnlyUtxoTreeOut marks an operation that spends only to an
// unshield and therefore adds no leaves to the UTXO tree.
func UnshieldOnlyUtxoTreeOut() UtxoTreeOut {
	return UtxoTreeOut{kind: utxoTreeOutUnshieldOnly}
}

// globalIndex packs the tree number and leaf index into Railgun's global
// UTXO position encoding, matching TOTAL_LEAVES-scaled indexing so two
// different trees' positions never collide.
func (o UtxoTreeOut) globalIndex(totalLeaves uint64) uint64 {
	var treeNumber, startIndex uint64
	switch o.kind {
	case utxoTreeOutIncluded:
		treeNumber, startIndex = uint64(o.treeNumber), uint64(o.startIndex)
	case utxoTreeOutPreInclusion:
		treeNumber, startIndex = globalPreInclusionProofTree, globalPreInclusionProofIndex
	case utxoTreeOutUnshieldOnly:
		treeNumber, startIndex = globalUnshieldEventTree, globalUnshieldEventPosition
	}
	return treeNumber*totalLeaves + startIndex
}

// TxidLeaf is the value inserted into the TXID tree for a given
// transaction: Poseidon(txid, utxoTreeIn, globalPosition).
type TxidLeaf field.Element

// totalUtxoTreeLeaves mirrors merkletree.TotalLeaves; kept as a local
// constant to avoid an import cycle (merkletree never needs to know about
// notes or txids).
const totalUtxoTreeLeaves = 1 << 16

// NewTxidLeaf builds a TxidLeaf for a transaction given the UTXO tree its
// inputs were spent from and where its outputs landed (or will land).
func NewTxidLeaf(txid Txid, utxoTreeIn uint32, utxoTreeOut UtxoTreeOut) TxidLeaf {
	globalPosition := utxoTreeOut.globalIndex(totalUtxoTreeLeaves)
	return TxidLeaf(field.PoseidonHash(
		txid.Element(),
		field.FromUint64(uint64(utxoTreeIn)),
		field.FromUint64(globalPosition),
	))
}

func (l TxidLeaf) Element() field.Element { return field.Element(l) }
