// Package note implements Railgun's shielded note types: the on-chain UTXO
// commitment a wallet controls, and the two note shapes an operation can
// spend into (a private transfer to another Railgun address, and an
// unshield paying out to a public address), grounded on
// original_source/railgun-rs/src/railgun/note/{utxo,mod}.rs,
// original_source/railgun-rs/src/note/unshield.rs and
// original_source/src/note/transfer.rs.
package note

import (
	"math/big"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
)

// Note is the minimal shape every spendable or payable value carries:
// the asset and amount it represents, an optional human-readable memo, and
// the commitment hash + note public key used inside the shield/transact
// circuits.
type Note interface {
	Asset() caip.AssetId
	Value() *big.Int
	Memo() string
	Hash() field.Element
	NotePublicKey() field.Element
}

// IncludedNote is a Note that has already landed in the UTXO tree and can
// therefore be spent: it knows its tree position, can derive its nullifier,
// and can sign circuit inputs with its owning spending key.
type IncludedNote interface {
	Note
	TreeNumber() uint32
	LeafIndex() uint32
	ViewingPublicKey() keys.ViewingPublicKey
	Nullifier(leafIndex field.Element) field.Element
	SpendingPublicKey() (x, y field.Element)
	Sign(inputs []field.Element) (r8x, r8y, s field.Element, err error)
	NullifyingKey() field.Element
	Random() [16]byte
}

// UtxoType distinguishes a note created by a shield deposit from one
// created as the output of a prior private transaction.
type UtxoType int

const (
	UtxoTypeShield UtxoType = iota
	UtxoTypeTransact
)

// UtxoNote is a note a wallet holds: the private spending and viewing keys
// that own it, its position in the UTXO tree, and its value.
type UtxoNote struct {
	spendingKey keys.SpendingKey
	viewingKey  keys.ViewingKey
	treeNumber  uint32
	leafIndex   uint32
	random      [16]byte
	value       *big.Int
	asset       caip.AssetId
	memo        string
	utxoType    UtxoType
}

// NewUtxoNote builds a UtxoNote from its components.
func NewUtxoNote(
	spendingKey keys.SpendingKey,
	viewingKey keys.ViewingKey,
	treeNumber, leafIndex uint32,
	asset caip.AssetId,
	value *big.Int,
	random [16]byte,
	memo string,
	utxoType UtxoType,
) UtxoNote {
	return UtxoNote{
		spendingKey: spendingKey,
		viewingKey:  viewingKey,
		treeNumber:  treeNumber,
		leafIndex:   leafIndex,
		random:      random,
		value:       new(big.Int).Set(value),
		asset:       asset,
		memo:        memo,
		utxoType:    utxoType,
	}
}

func (n UtxoNote) Asset() caip.AssetId { return n.asset }
func (n UtxoNote) Value() *big.Int     { return new(big.Int).Set(n.value) }
func (n UtxoNote) Memo() string        { return n.memo }
func (n UtxoNote) UtxoType() UtxoType  { return n.utxoType }
func (n UtxoNote) TreeNumber() uint32  { return n.treeNumber }
func (n UtxoNote) LeafIndex() uint32   { return n.leafIndex }

func (n UtxoNote) ViewingPublicKey() keys.ViewingPublicKey {
	pub, err := n.viewingKey.PublicKey()
	if err != nil {
		// The viewing key was already validated at construction time
		// (NewViewingKey never rejects input); X25519 scalar
		// multiplication by the basepoint cannot fail.
		panic("note: unreachable viewing public key derivation failure: " + err.Error())
	}
	return pub
}

// NotePublicKey is Poseidon(masterPublicKey, random): the note's owner
// commitment, blinded per-note by the random nonce so that two notes owned
// by the same wallet don't share a public key.
func (n UtxoNote) NotePublicKey() field.Element {
	master := keys.NewMasterPublicKey(n.spendingKey.PublicKey(), n.viewingKey.NullifyingKey())
	return field.PoseidonHash(master.ToElement(), field.FromBytesBE(n.random[:]))
}

// Hash is the note's commitment: Poseidon(notePublicKey, assetHash, value).
func (n UtxoNote) Hash() field.Element {
	return field.PoseidonHash(n.NotePublicKey(), n.asset.Hash(), field.FromBigInt(n.value))
}

// NullifyingKey is the spending wallet's nullifying key, shared by every
// note it owns.
func (n UtxoNote) NullifyingKey() field.Element {
	return n.viewingKey.NullifyingKey()
}

// Nullifier is Poseidon(nullifyingKey, leafIndex): the value revealed on
// spend that prevents double-spending this note without linking it back to
// the commitment hash.
func (n UtxoNote) Nullifier(leafIndex field.Element) field.Element {
	return field.PoseidonHash(n.NullifyingKey(), leafIndex)
}

// SpendingPublicKey returns the Baby-Jubjub coordinates of the owning
// spending key, a circuit input proving the spender knows the private key
// behind the note's master public key.
func (n UtxoNote) SpendingPublicKey() (x, y field.Element) {
	return n.spendingKey.PublicKey().XY()
}

// Sign hashes the given circuit inputs with Poseidon and signs the result
// with the note's spending key.
func (n UtxoNote) Sign(inputs []field.Element) (r8x, r8y, s field.Element, err error) {
	sigHash := field.PoseidonHash(inputs...)
	return n.spendingKey.Sign(sigHash)
}

func (n UtxoNote) Random() [16]byte { return n.random }

// BlindedCommitment is the value published to the POI system in place of
// the raw commitment hash: Poseidon(hash, notePublicKey, globalPosition)
// where globalPosition packs the tree number and leaf index into a single
// scalar, keeping the POI list from leaking which specific commitment a
// wallet is proving innocence for beyond its approximate tree position.
func (n UtxoNote) BlindedCommitment() field.Element {
	globalPosition := uint64(n.treeNumber)*65536 + uint64(n.leafIndex)
	return field.PoseidonHash(n.Hash(), n.NotePublicKey(), field.FromUint64(globalPosition))
}

// TransferNote is an unspent output addressed to another wallet's Railgun
// address; it carries no private keys, only what's needed to compute the
// commitment the recipient will later be able to spend.
type TransferNote struct {
	FromKey keys.ViewingKey
	To      address.RailgunAddress
	AssetID caip.AssetId
	Amount  *big.Int
	Random  [16]byte
	MemoStr string
}

// NewTransferNote builds a TransferNote from its components.
func NewTransferNote(from keys.ViewingKey, to address.RailgunAddress, asset caip.AssetId, value *big.Int, random [16]byte, memo string) TransferNote {
	return TransferNote{FromKey: from, To: to, AssetID: asset, Amount: new(big.Int).Set(value), Random: random, MemoStr: memo}
}

func (t TransferNote) Asset() caip.AssetId { return t.AssetID }
func (t TransferNote) Value() *big.Int     { return new(big.Int).Set(t.Amount) }
func (t TransferNote) Memo() string        { return t.MemoStr }

// NotePublicKey is Poseidon(recipientMasterPublicKey, random).
func (t TransferNote) NotePublicKey() field.Element {
	return field.PoseidonHash(t.To.MasterPublicKey, field.FromBytesBE(t.Random[:]))
}

func (t TransferNote) Hash() field.Element {
	return field.PoseidonHash(t.NotePublicKey(), t.AssetID.Hash(), field.FromBigInt(t.Amount))
}

// UnshieldNote represents value exiting Railgun to a plain public address;
// unlike TransferNote and UtxoNote it carries no randomizer, since an
// unshield's on-chain recipient is itself public and unique per operation.
type UnshieldNote struct {
	Receiver caip.Address
	AssetID  caip.AssetId
	Amount   *big.Int
}

// NewUnshieldNote builds an UnshieldNote from its components.
func NewUnshieldNote(receiver caip.Address, asset caip.AssetId, value *big.Int) UnshieldNote {
	return UnshieldNote{Receiver: receiver, AssetID: asset, Amount: new(big.Int).Set(value)}
}

func (u UnshieldNote) Asset() caip.AssetId { return u.AssetID }
func (u UnshieldNote) Value() *big.Int     { return new(big.Int).Set(u.Amount) }
func (u UnshieldNote) Memo() string        { return "" }

// NotePublicKey embeds the receiver's plain address directly, left-padded
// into the field, rather than deriving it from a master public key: an
// unshield has no shielded owner to blind.
func (u UnshieldNote) NotePublicKey() field.Element {
	var buf [32]byte
	copy(buf[12:], u.Receiver[:])
	return field.FromBytesBE(buf[:])
}

func (u UnshieldNote) Hash() field.Element {
	return field.PoseidonHash(u.NotePublicKey(), u.AssetID.Hash(), field.FromBigInt(u.Amount))
}
