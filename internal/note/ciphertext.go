package note

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
)

// ErrShortBundle is returned when a decrypted bundle doesn't carry enough
// chunks to reconstruct a note.
var ErrShortBundle = errors.New("note: decrypted bundle too short")

// CommitmentCiphertext is the on-chain encrypted payload for a note: an
// ephemeral sender key the recipient's viewing key can perform ECDH
// against, and a single AES-GCM-sealed bundle of (masterPublicKey,
// asset chunk, random|value, memo); the asset chunk packs the token type,
// address and token ID (see encodeAssetChunk).
type CommitmentCiphertext struct {
	EphemeralSenderKey keys.ViewingPublicKey
	Sealed             keys.Ciphertext
}

// EncryptTransferNote seals a TransferNote for its recipient. The sender
// generates a fresh ephemeral Curve25519 keypair per note (an ECIES-style
// scheme) so the recipient can recover the shared AES key without the
// sender ever transmitting its own long-lived viewing key.
func EncryptTransferNote(note TransferNote) (CommitmentCiphertext, error) {
	var ephemeralSeed [32]byte
	if _, err := rand.Read(ephemeralSeed[:]); err != nil {
		return CommitmentCiphertext{}, fmt.Errorf("note: generate ephemeral key: %w", err)
	}
	ephemeral := keys.NewViewingKey(ephemeralSeed)
	ephemeralPub, err := ephemeral.PublicKey()
	if err != nil {
		return CommitmentCiphertext{}, fmt.Errorf("note: derive ephemeral public key: %w", err)
	}

	recipientViewingPub := note.To.ViewingPublicKey
	shared, err := ephemeral.DeriveSharedKey(recipientViewingPub)
	if err != nil {
		return CommitmentCiphertext{}, fmt.Errorf("note: derive shared key: %w", err)
	}

	chunks, err := bundleChunks(note.To.MasterPublicKey, note.AssetID, note.Random, note.Amount, note.MemoStr)
	if err != nil {
		return CommitmentCiphertext{}, err
	}

	sealed, err := shared.EncryptGCM(chunks)
	if err != nil {
		return CommitmentCiphertext{}, fmt.Errorf("note: seal bundle: %w", err)
	}

	return CommitmentCiphertext{EphemeralSenderKey: ephemeralPub, Sealed: sealed}, nil
}

// DecryptTransferNote reverses EncryptTransferNote from the recipient's
// side: it derives the same shared AES key via ECDH between its viewing
// key and the sender's published ephemeral public key, then unpacks the
// bundle into a spendable UtxoNote positioned at (treeNumber, leafIndex).
func DecryptTransferNote(
	spendingKey keys.SpendingKey,
	viewingKey keys.ViewingKey,
	treeNumber, leafIndex uint32,
	ct CommitmentCiphertext,
) (UtxoNote, error) {
	shared, err := viewingKey.DeriveSharedKey(ct.EphemeralSenderKey)
	if err != nil {
		return UtxoNote{}, fmt.Errorf("note: derive shared key: %w", err)
	}

	chunks, err := shared.DecryptGCM(ct.Sealed)
	if err != nil {
		return UtxoNote{}, fmt.Errorf("note: decrypt bundle: %w", err)
	}

	asset, random, value, memo, err := unbundleChunks(chunks)
	if err != nil {
		return UtxoNote{}, err
	}

	return NewUtxoNote(spendingKey, viewingKey, treeNumber, leafIndex, asset, value, random, memo, UtxoTypeTransact), nil
}

// EncryptShieldNote seals a note being deposited into the shielded pool,
// addressed to recipient (typically the depositor's own address). It is
// the shield-event counterpart of EncryptTransferNote: the wire bundle is
// identical, only the resulting UtxoNote's UtxoType differs.
func EncryptShieldNote(recipient address.RailgunAddress, asset caip.AssetId, value *big.Int, random [16]byte, memo string) (CommitmentCiphertext, error) {
	return EncryptTransferNote(NewTransferNote(keys.ViewingKey{}, recipient, asset, value, random, memo))
}

// DecryptShield reverses EncryptShieldNote from the recipient's side. It
// shares EncryptTransferNote's ECIES bundle layout and differs only in the
// UtxoType stamped onto the recovered note, matching the original's
// separate UtxoNote::decrypt_shield_request entry point over the same
// chunk decoding as a transact-event decrypt.
func DecryptShield(
	spendingKey keys.SpendingKey,
	viewingKey keys.ViewingKey,
	treeNumber, leafIndex uint32,
	ct CommitmentCiphertext,
) (UtxoNote, error) {
	n, err := DecryptTransferNote(spendingKey, viewingKey, treeNumber, leafIndex, ct)
	if err != nil {
		return UtxoNote{}, err
	}
	n.utxoType = UtxoTypeShield
	return n, nil
}

// bundleChunks lays out the four encrypted chunks a commitment ciphertext
// carries: the recipient's collapsed master public key (unused by the
// recipient on decrypt, but present so a third party auditing with a
// viewing key alone can confirm who a note was sent to), the asset's type
// tag and address packed into 32 bytes, random concatenated with the
// big-endian value, and finally the memo.
func bundleChunks(masterPublicKey field.Element, asset caip.AssetId, random [16]byte, value *big.Int, memo string) ([][]byte, error) {
	mpkBytes := masterPublicKey.Bytes()

	assetChunk, err := encodeAssetChunk(asset)
	if err != nil {
		return nil, err
	}

	valueBytes := value.Bytes()
	if len(valueBytes) > 16 {
		return nil, fmt.Errorf("note: value exceeds 128 bits")
	}
	var randomAndValue [32]byte
	copy(randomAndValue[0:16], random[:])
	copy(randomAndValue[32-len(valueBytes):], valueBytes)

	return [][]byte{mpkBytes[:], assetChunk, randomAndValue[:], []byte(memo)}, nil
}

func unbundleChunks(chunks [][]byte) (caip.AssetId, [16]byte, *big.Int, string, error) {
	if len(chunks) < 3 {
		return caip.AssetId{}, [16]byte{}, nil, "", ErrShortBundle
	}

	asset, err := decodeAssetChunk(chunks[1])
	if err != nil {
		return caip.AssetId{}, [16]byte{}, nil, "", err
	}

	if len(chunks[2]) != 32 {
		return caip.AssetId{}, [16]byte{}, nil, "", ErrShortBundle
	}
	var random [16]byte
	copy(random[:], chunks[2][:16])
	value := new(big.Int).SetBytes(chunks[2][16:])

	memo := ""
	if len(chunks) > 3 {
		memo = string(chunks[3])
	}

	return asset, random, value, memo, nil
}

// encodeAssetChunk packs an AssetId into 32 bytes: 1 byte type tag, 20
// bytes contract address, 11 bytes holding the big-endian token ID
// right-aligned (zero for ERC20). A token ID wider than 88 bits does not
// fit and is rejected with an error.
func encodeAssetChunk(asset caip.AssetId) ([]byte, error) {
	var out [32]byte
	out[0] = byte(asset.Type)
	copy(out[1:21], asset.Address[:])
	if asset.TokenID != nil {
		tokenBytes := asset.TokenID.Bytes()
		if len(tokenBytes) > 11 {
			return nil, fmt.Errorf("note: token id exceeds wire format width")
		}
		copy(out[32-len(tokenBytes):], tokenBytes)
	}
	return out[:], nil
}

func decodeAssetChunk(chunk []byte) (caip.AssetId, error) {
	if len(chunk) != 32 {
		return caip.AssetId{}, ErrShortBundle
	}
	var addr caip.Address
	copy(addr[:], chunk[1:21])

	tokenType := caip.TokenType(chunk[0])
	switch tokenType {
	case caip.TokenTypeERC20:
		return caip.NewERC20(addr), nil
	case caip.TokenTypeERC721:
		return caip.NewERC721(addr, new(big.Int).SetBytes(chunk[21:])), nil
	case caip.TokenTypeERC1155:
		return caip.NewERC1155(addr, new(big.Int).SetBytes(chunk[21:])), nil
	default:
		return caip.AssetId{}, fmt.Errorf("note: unknown token type tag %d", chunk[0])
	}
}
