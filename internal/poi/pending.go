package poi

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/indexer"
	"github.com/railwayguild/railgun-go/internal/note"
	"github.com/railwayguild/railgun-go/internal/prover"
)

// PendingEntry is the minimal snapshot needed to re-prove and submit a
// post-transaction POI proof once a broadcast operation's TXID has been
// validated, grounded on
// original_source/railgun-rs/src/railgun/poi/pending_poi_submitter.rs's
// PendingPoiEntry.
type PendingEntry struct {
	Txid            note.Txid
	UtxoTreeIn      uint32
	BoundParamsHash field.Element
	InNotes         []note.UtxoNote
	OutCommitments  []field.Element
	HasUnshield     bool
	ListKeys        []ListKey
}

// Submitter tracks broadcast operations waiting for their TXID to clear
// POI aggregator validation, then proves and submits post-transaction POI
// proofs for each of the operation's required list keys.
type Submitter struct {
	pending []PendingEntry
}

// NewSubmitter returns an empty Submitter.
func NewSubmitter() *Submitter {
	return &Submitter{}
}

// Register records a broadcast operation for later POI submission.
func (s *Submitter) Register(entry PendingEntry) {
	s.pending = append(s.pending, entry)
}

// Pending returns the still-unsubmitted entries, for persistence.
func (s *Submitter) Pending() []PendingEntry {
	return s.pending
}

// Restore replaces the submitter's queue with previously persisted
// entries.
func (s *Submitter) Restore(pending []PendingEntry) {
	s.pending = pending
}

// Process walks the pending queue, proving and submitting a POI proof for
// every entry whose txid has reached a validated position in the txid
// tree set, and returns the txids that were successfully submitted.
func (s *Submitter) Process(ctx context.Context, txidSet *indexer.TxidTreeSet, client *Client, prv prover.PoiProver) ([]note.Txid, error) {
	var submitted []note.Txid
	remaining := s.pending[:0]

	for _, entry := range s.pending {
		treeNumber, leafIndex, ok := txidSet.PositionOf(entry.Txid)
		if !ok {
			remaining = append(remaining, entry)
			continue
		}

		tree, ok := txidSet.Tree(treeNumber)
		if !ok {
			return nil, fmt.Errorf("poi: missing txid tree %d for validated txid", treeNumber)
		}
		txidRoot, err := tree.Root()
		if err != nil {
			return nil, fmt.Errorf("poi: txid tree %d root: %w", treeNumber, err)
		}

		blindedCommitments := make([]field.Element, len(entry.InNotes))
		for i, n := range entry.InNotes {
			blindedCommitments[i] = n.BlindedCommitment()
		}

		for _, listKey := range entry.ListKeys {
			proofs, err := client.MerkleProofs(ctx, listKey, blindedCommitments)
			if err != nil {
				return nil, fmt.Errorf("poi: fetch merkle proofs for list %q: %w", listKey, err)
			}
			if len(proofs) != len(blindedCommitments) {
				return nil, fmt.Errorf("poi: list %q returned %d proofs for %d commitments", listKey, len(proofs), len(blindedCommitments))
			}

			paths := make([][]field.Element, len(proofs))
			leafIndices := make([]uint32, len(proofs))
			var poiRoot field.Element
			for i, p := range proofs {
				elements := make([]field.Element, len(p.Elements))
				for j, hexElem := range p.Elements {
					b, err := decodeHexField(hexElem)
					if err != nil {
						return nil, fmt.Errorf("poi: decode merkle proof element: %w", err)
					}
					elements[j] = b
				}
				paths[i] = elements
				position, err := strconv.ParseUint(p.Indices, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("poi: decode merkle proof indices: %w", err)
				}
				leafIndices[i] = uint32(position)
				root, err := decodeHexField(p.Root)
				if err != nil {
					return nil, fmt.Errorf("poi: decode merkle proof root: %w", err)
				}
				poiRoot = root
			}

			railgunTxidIfHasUnshield := field.Element{}
			if entry.HasUnshield {
				railgunTxidIfHasUnshield = entry.Txid.Element()
			}

			inputs := prover.PoiCircuitInputs{
				TxidMerkleRootAfterTransaction: txidRoot,
				PoiMerkleRoots:                 []field.Element{poiRoot},
				BlindedCommitmentsOut:          blindedCommitments,
				RailgunTxidIfHasUnshield:       railgunTxidIfHasUnshield,
				PoiMerklePaths:                 paths,
				PoiLeafIndices:                 leafIndices,
			}

			proof, err := prv.ProvePoi(ctx, inputs)
			if err != nil {
				return nil, fmt.Errorf("poi: prove for list %q: %w", listKey, err)
			}

			blindedHex := make([]string, len(blindedCommitments))
			for i, bc := range blindedCommitments {
				blindedHex[i] = hexElement(bc)
			}

			data := TransactProofData{
				Proof:                    proof,
				PoiMerkleroots:           []string{hexElement(poiRoot)},
				TxidMerkleroot:           hexElement(txidRoot),
				TxidMerklerootIndex:      uint64(leafIndex),
				BlindedCommitmentsOut:    blindedHex,
				RailgunTxidIfHasUnshield: hexElement(railgunTxidIfHasUnshield),
			}

			if err := client.SubmitTransactProof(ctx, listKey, data); err != nil {
				return nil, fmt.Errorf("poi: submit proof for list %q: %w", listKey, err)
			}
		}

		submitted = append(submitted, entry.Txid)
	}

	s.pending = remaining
	return submitted, nil
}

func decodeHexField(s string) (field.Element, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return field.Element{}, err
	}
	return field.FromBytesBE(b), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
