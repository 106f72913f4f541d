package operation

import (
	"fmt"
	"math/big"

	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"

	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/prover"
)

// G1Point is a BN254 G1 affine point in the on-chain uint256 pair encoding.
type G1Point struct {
	X, Y *big.Int
}

// G2Point is a BN254 G2 affine point in the on-chain encoding: each
// coordinate is a degree-1 extension field element packed as
// [c1, c0] (the "X[0] * z + X[1]" layout abis/railgun.rs documents on its
// Solidity G2Point), the reverse of gnark-crypto's own c0-then-c1 storage
// order.
type G2Point struct {
	X, Y [2]*big.Int
}

// SnarkProof is the on-chain Groth16 proof encoding the RailgunSmartWallet
// verifier expects.
type SnarkProof struct {
	A G1Point
	B G2Point
	C G1Point
}

// decodeSnarkProof recovers the structured G1/G2 points gnark's Groth16
// prover produced, by round-tripping TransactProof through the same
// concrete bn254 proof type that serialized it rather than re-deriving its
// wire layout by hand.
func decodeSnarkProof(raw prover.TransactProof) (SnarkProof, error) {
	var proof groth16bn254.Proof
	if err := proof.UnmarshalBinary(raw); err != nil {
		return SnarkProof{}, fmt.Errorf("operation: decode groth16 proof: %w", err)
	}

	return SnarkProof{
		A: G1Point{
			X: proof.Ar.X.BigInt(new(big.Int)),
			Y: proof.Ar.Y.BigInt(new(big.Int)),
		},
		B: G2Point{
			X: [2]*big.Int{proof.Bs.X.A1.BigInt(new(big.Int)), proof.Bs.X.A0.BigInt(new(big.Int))},
			Y: [2]*big.Int{proof.Bs.Y.A1.BigInt(new(big.Int)), proof.Bs.Y.A0.BigInt(new(big.Int))},
		},
		C: G1Point{
			X: proof.Krs.X.BigInt(new(big.Int)),
			Y: proof.Krs.Y.BigInt(new(big.Int)),
		},
	}, nil
}

// UnshieldPreimage is the plaintext commitment preimage revealed when an
// operation unshields value, matching abis/railgun.rs's
// CommitmentPreimage.
type UnshieldPreimage struct {
	Npk   field.Element
	Token caip.AssetId
	Value *big.Int
}

// Transaction is the calldata-ready shape of one proved operation, mirroring
// abis/railgun.rs's Transaction struct: the proof, the Merkle root it was
// proven against, the spent nullifiers, the new commitments in on-chain
// order (fee first, then transfers, then change, then the unshield
// preimage's own commitment last), the bound params the proof commits to,
// and the unshield preimage itself when present.
type Transaction struct {
	Proof            SnarkProof
	MerkleRoot       field.Element
	Nullifiers       []field.Element
	Commitments      []field.Element
	BoundParams      BoundParams
	UnshieldPreimage *UnshieldPreimage
}

// BuildTransaction assembles the on-chain Transaction for a proved
// operation, decoding proof into its structured G1/G2 points and reusing
// boundParams (the same value whose Hash fed the circuit) verbatim so the
// calldata matches what was proven.
func BuildTransaction(op Operation, proof prover.TransactProof, merkleRoot field.Element, boundParams BoundParams) (Transaction, error) {
	snark, err := decodeSnarkProof(proof)
	if err != nil {
		return Transaction{}, err
	}

	nullifiers := make([]field.Element, len(op.InNotes))
	for i, n := range op.InNotes {
		nullifiers[i] = n.Nullifier(field.FromUint64(uint64(n.LeafIndex())))
	}

	commitments := orderedCommitments(op)

	tx := Transaction{
		Proof:       snark,
		MerkleRoot:  merkleRoot,
		Nullifiers:  nullifiers,
		Commitments: commitments,
		BoundParams: boundParams,
	}

	if op.UnshieldNote != nil {
		tx.UnshieldPreimage = &UnshieldPreimage{
			Npk:   op.UnshieldNote.NotePublicKey(),
			Token: op.UnshieldNote.AssetID,
			Value: op.UnshieldNote.Value(),
		}
	}

	return tx, nil
}

// orderedCommitments lays out an operation's output commitments in on-chain
// order: the broadcaster fee first, then transfers and change in the order
// they were added to the operation, then the unshield's commitment last.
func orderedCommitments(op Operation) []field.Element {
	commitments := make([]field.Element, 0, len(op.OutNotes)+2)
	if op.FeeNote != nil {
		commitments = append(commitments, op.FeeNote.Hash())
	}
	for _, n := range op.OutNotes {
		commitments = append(commitments, n.Hash())
	}
	if op.UnshieldNote != nil {
		commitments = append(commitments, op.UnshieldNote.Hash())
	}
	return commitments
}
