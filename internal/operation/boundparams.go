package operation

import (
	"math/big"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/note"
)

// UnshieldType mirrors the on-chain enum controlling how an operation's
// unshield preimage pays out, matching abis/railgun.rs's UnshieldType.
type UnshieldType uint8

const (
	UnshieldTypeNone UnshieldType = iota
	UnshieldTypeNormal
	UnshieldTypeRedirect
)

// BoundParams is the non-circuit half of a Railgun transaction: the fields
// that aren't constrained inside the transact circuit itself but still
// have to be bound into the proof via BoundParamsHash, so a proof can't be
// replayed against different calldata. Matches abis/railgun.rs's
// BoundParams struct.
type BoundParams struct {
	TreeNumber    uint16
	MinGasPrice   *big.Int
	Unshield      UnshieldType
	ChainID       uint64
	AdaptContract caip.Address
	AdaptParams   [32]byte
	Ciphertexts   []note.CommitmentCiphertext
}

// onChainCiphertext mirrors the Solidity CommitmentCiphertext struct that
// BoundParams.Hash's ABI encoding commits to.
type onChainCiphertext struct {
	Ciphertext                [4][32]byte
	BlindedSenderViewingKey   [32]byte
	BlindedReceiverViewingKey [32]byte
	AnnotationData            []byte
	Memo                      []byte
}

var boundParamsArguments = mustBoundParamsArguments()

func mustBoundParamsArguments() gethabi.Arguments {
	ciphertextComponents := []gethabi.ArgumentMarshaling{
		{Name: "ciphertext", Type: "bytes32[4]"},
		{Name: "blindedSenderViewingKey", Type: "bytes32"},
		{Name: "blindedReceiverViewingKey", Type: "bytes32"},
		{Name: "annotationData", Type: "bytes"},
		{Name: "memo", Type: "bytes"},
	}

	boundParamsComponents := []gethabi.ArgumentMarshaling{
		{Name: "treeNumber", Type: "uint16"},
		{Name: "minGasPrice", Type: "uint72"},
		{Name: "unshield", Type: "uint8"},
		{Name: "chainID", Type: "uint64"},
		{Name: "adaptContract", Type: "address"},
		{Name: "adaptParams", Type: "bytes32"},
		{Name: "commitmentCiphertext", Type: "tuple[]", Components: ciphertextComponents},
	}

	tupleType, err := gethabi.NewType("tuple", "", boundParamsComponents)
	if err != nil {
		panic("operation: build bound params abi type: " + err.Error())
	}
	return gethabi.Arguments{{Type: tupleType}}
}

// toOnChainCiphertext packs this codebase's ECIES bundle (an ephemeral
// Curve25519 key plus an AES-GCM sealed chunk list) into the fixed
// bytes32[4]-plus-bytes layout the on-chain struct expects: word 0 is
// IV||tag, word 1 the ephemeral sender key, words 2-3 the first two sealed
// chunks (the recipient's master public key and the asset chunk), and
// every remaining chunk
// concatenated into memo so nothing is dropped from the hash input.
func toOnChainCiphertext(ct note.CommitmentCiphertext) onChainCiphertext {
	var out onChainCiphertext

	copy(out.Ciphertext[0][:16], ct.Sealed.IV[:])
	copy(out.Ciphertext[0][16:], ct.Sealed.Tag[:])

	senderKey := ct.EphemeralSenderKey.Bytes()
	copy(out.Ciphertext[1][:], senderKey[:])

	for i, chunk := range ct.Sealed.Data {
		switch i {
		case 0, 1:
			copy(out.Ciphertext[2+i][:], chunk)
		default:
			out.Memo = append(out.Memo, chunk...)
		}
	}

	return out
}

// abiEncode renders BoundParams the same way alloy's SolValue::abi_encode
// renders the Rust BoundParams struct: a single ABI tuple argument.
func (b BoundParams) abiEncode() []byte {
	cts := make([]struct {
		Ciphertext                [4][32]byte
		BlindedSenderViewingKey   [32]byte
		BlindedReceiverViewingKey [32]byte
		AnnotationData            []byte
		Memo                      []byte
	}, len(b.Ciphertexts))
	for i, ct := range b.Ciphertexts {
		onChain := toOnChainCiphertext(ct)
		cts[i].Ciphertext = onChain.Ciphertext
		cts[i].BlindedSenderViewingKey = onChain.BlindedSenderViewingKey
		cts[i].BlindedReceiverViewingKey = onChain.BlindedReceiverViewingKey
		cts[i].AnnotationData = onChain.AnnotationData
		cts[i].Memo = onChain.Memo
	}

	minGasPrice := b.MinGasPrice
	if minGasPrice == nil {
		minGasPrice = big.NewInt(0)
	}

	packed, err := boundParamsArguments.Pack(struct {
		TreeNumber           uint16
		MinGasPrice          *big.Int
		Unshield             uint8
		ChainID              uint64
		AdaptContract        common.Address
		AdaptParams          [32]byte
		CommitmentCiphertext []struct {
			Ciphertext                [4][32]byte
			BlindedSenderViewingKey   [32]byte
			BlindedReceiverViewingKey [32]byte
			AnnotationData            []byte
			Memo                      []byte
		}
	}{
		TreeNumber:           b.TreeNumber,
		MinGasPrice:          minGasPrice,
		Unshield:             uint8(b.Unshield),
		ChainID:              b.ChainID,
		AdaptContract:        common.Address(b.AdaptContract),
		AdaptParams:          b.AdaptParams,
		CommitmentCiphertext: cts,
	})
	if err != nil {
		panic("operation: abi encode bound params: " + err.Error())
	}
	return packed
}

// Hash computes Keccak(abi_encode(boundParams)) mod p, the BoundParamsHash
// bound into every transact-circuit proof and txid, matching
// abis/railgun.rs's BoundParams::hash.
func (b BoundParams) Hash() field.Element {
	digest := field.Keccak256(b.abiEncode())
	return field.FromBytesBE(digest[:])
}
