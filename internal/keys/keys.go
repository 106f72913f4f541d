// Package keys implements Railgun's key hierarchy: a Baby-Jubjub spending
// key pair for note ownership and signing, and a Curve25519 viewing key
// pair for note-encryption key agreement, following the derivation chain
// in original_source/src/crypto/keys.rs and
// original_source/railgun-rs/src/railgun/note/utxo.rs.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/hash"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/railwayguild/railgun-go/internal/field"
)

// ErrInvalidKeyLength is returned when raw key material is not 32 bytes.
var ErrInvalidKeyLength = errors.New("keys: key material must be 32 bytes")

// eddsaHash is the hash gnark-crypto's generic EdDSA scheme uses for
// deterministic nonce derivation and challenge computation. MiMC over
// BN254's scalar field is, like Poseidon, an arithmetization-friendly
// hash that gnark-crypto ships natively for exactly this purpose.
const eddsaHash = hash.MIMC_BN254

// SpendingKey is a Baby-Jubjub private key controlling note ownership and
// signing authority.
type SpendingKey struct {
	sk eddsa.PrivateKey
}

// SpendingPublicKey is the Baby-Jubjub point derived from a SpendingKey.
type SpendingPublicKey struct {
	pk eddsa.PublicKey
}

// NewSpendingKey derives a SpendingKey deterministically from 32 bytes of
// entropy (a wallet mnemonic seed path, typically).
func NewSpendingKey(seed [32]byte) (SpendingKey, error) {
	sk, err := eddsa.GenerateKey(deterministicReader(seed, "railgun-spending-key"))
	if err != nil {
		return SpendingKey{}, fmt.Errorf("keys: derive spending key: %w", err)
	}
	return SpendingKey{sk: sk}, nil
}

// PublicKey returns the public counterpart of the spending key.
func (k SpendingKey) PublicKey() SpendingPublicKey {
	return SpendingPublicKey{pk: k.sk.PublicKey}
}

// XY returns the affine coordinates of the public key as BN254 scalar
// field elements, the representation used inside note hashing.
func (p SpendingPublicKey) XY() (x, y field.Element) {
	return p.pk.A.X, p.pk.A.Y
}

// Sign produces a Baby-Jubjub EdDSA signature over a field-element message,
// returning (R8.x, R8.y, S) as the original implementation's signature
// triple.
func (k SpendingKey) Sign(message field.Element) (r8x, r8y, s field.Element, err error) {
	msgBytes := message.Bytes()
	sigBytes, err := k.sk.Sign(msgBytes[:], eddsaHash.New())
	if err != nil {
		return field.Element{}, field.Element{}, field.Element{}, fmt.Errorf("keys: sign: %w", err)
	}

	var sig eddsa.Signature
	if _, err := sig.SetBytes(sigBytes); err != nil {
		return field.Element{}, field.Element{}, field.Element{}, fmt.Errorf("keys: decode signature: %w", err)
	}
	return sig.R.X, sig.R.Y, field.FromBytesBE(sig.S[:]), nil
}

// Verify checks a Baby-Jubjub EdDSA signature against a public key.
func Verify(pub SpendingPublicKey, message field.Element, r8x, r8y, s field.Element) (bool, error) {
	var sig eddsa.Signature
	sig.R.X = r8x
	sig.R.Y = r8y
	sBytes := s.Bytes()
	copy(sig.S[:], sBytes[:])

	sigBytes := sig.Bytes()
	msgBytes := message.Bytes()
	return pub.pk.Verify(sigBytes, msgBytes[:], eddsaHash.New())
}

// ViewingKey is a Curve25519 private scalar used both for note-encryption
// key agreement and, via Poseidon, for nullifier-key derivation.
type ViewingKey struct {
	raw [32]byte
}

// ViewingPublicKey is the Curve25519 public point for a ViewingKey.
type ViewingPublicKey struct {
	raw [32]byte
}

// NewViewingKey wraps 32 bytes of entropy as a Curve25519 scalar.
func NewViewingKey(raw [32]byte) ViewingKey {
	return ViewingKey{raw: raw}
}

// ViewingKeyFromBytes is an alias kept for symmetry with SpendingKey
// construction call sites.
func ViewingKeyFromBytes(raw [32]byte) ViewingKey { return NewViewingKey(raw) }

// PublicKey returns the Curve25519 public point for this viewing key.
func (k ViewingKey) PublicKey() (ViewingPublicKey, error) {
	pub, err := curve25519.X25519(k.raw[:], curve25519.Basepoint)
	if err != nil {
		return ViewingPublicKey{}, fmt.Errorf("keys: derive viewing public key: %w", err)
	}
	var out [32]byte
	copy(out[:], pub)
	return ViewingPublicKey{raw: out}, nil
}

// ToElement reduces the raw viewing key scalar into the BN254 scalar
// field, the representation used when deriving the nullifying key.
func (k ViewingKey) ToElement() field.Element {
	return field.FromBytesBE(k.raw[:])
}

// NullifyingKey derives the nullifying key: Poseidon(viewing_key_scalar).
// Every note a wallet controls shares this key; it is what makes
// nullifiers for notes under the same viewing key linkable only to
// someone who also knows the viewing key.
func (k ViewingKey) NullifyingKey() field.Element {
	return field.PoseidonHash(k.ToElement())
}

// Bytes returns the raw 32-byte Curve25519 public point.
func (p ViewingPublicKey) Bytes() [32]byte {
	return p.raw
}

// ViewingPublicKeyFromBytes parses a raw 32-byte Curve25519 public point.
func ViewingPublicKeyFromBytes(b [32]byte) ViewingPublicKey {
	return ViewingPublicKey{raw: b}
}

// MasterPublicKey is the address-embedded commitment to a wallet's
// spending and nullifying authority: Poseidon(spendX, spendY, nullifyingKey).
type MasterPublicKey struct {
	X, Y field.Element // spending public key coordinates
	N    field.Element // nullifying key
}

// NewMasterPublicKey builds a MasterPublicKey from a spending public key
// and a nullifying key.
func NewMasterPublicKey(spend SpendingPublicKey, nullifyingKey field.Element) MasterPublicKey {
	x, y := spend.XY()
	return MasterPublicKey{X: x, Y: y, N: nullifyingKey}
}

// ToElement collapses the master public key into the single field element
// used inside address encoding and note-public-key derivation.
func (m MasterPublicKey) ToElement() field.Element {
	return field.PoseidonHash(m.X, m.Y, m.N)
}

// BlindedKey is a viewing public key blinded with an ephemeral random
// scalar, used to hide the sender's identity in commitment ciphertexts
// while still allowing ECDH shared-key recovery by the recipient.
type BlindedKey struct {
	raw [32]byte
}

// BlindedKeyFromBytes wraps a raw blinded viewing key.
func BlindedKeyFromBytes(b [32]byte) BlindedKey { return BlindedKey{raw: b} }

// Bytes returns the raw blinded key bytes.
func (b BlindedKey) Bytes() [32]byte { return b.raw }

// deriveSharedKey performs X25519 ECDH between a viewing private key and a
// counterparty's viewing public point, then expands the shared point
// through HKDF-SHA256 into a 256-bit AES key.
func (k ViewingKey) deriveSharedKey(counterparty [32]byte) (AESKey, error) {
	shared, err := curve25519.X25519(k.raw[:], counterparty[:])
	if err != nil {
		return AESKey{}, fmt.Errorf("keys: x25519: %w", err)
	}
	return expandAESKey(shared)
}

// DeriveSharedKey derives the AES key shared with a counterparty's plain
// viewing public key.
func (k ViewingKey) DeriveSharedKey(counterparty ViewingPublicKey) (AESKey, error) {
	return k.deriveSharedKey(counterparty.raw)
}

// DeriveSharedKeyBlinded derives the AES key shared with a counterparty's
// blinded viewing key (used when decrypting a transact-event note whose
// sender blinded their key to avoid linking multiple outputs to the same
// sender).
func (k ViewingKey) DeriveSharedKeyBlinded(blinded BlindedKey) (AESKey, error) {
	return k.deriveSharedKey(blinded.raw)
}

// AESKey is a derived 256-bit symmetric key for commitment ciphertexts.
type AESKey [32]byte

// Ciphertext mirrors the wire bundle layout: a 16-byte IV, a 16-byte GCM
// tag, and one or more opaque data chunks.
type Ciphertext struct {
	IV   [16]byte
	Tag  [16]byte
	Data [][]byte
}

// EncryptGCM concatenates all data chunks and seals them with a single
// AES-256-GCM call, then splits the ciphertext back into per-chunk pieces
// using their original lengths. A single Seal call per (key, iv) pair is
// required: reusing a nonce across multiple independent Seal calls under
// the same key would break GCM's confidentiality guarantee.
func (key AESKey) EncryptGCM(data [][]byte) (Ciphertext, error) {
	var iv [16]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return Ciphertext{}, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Ciphertext{}, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return Ciphertext{}, err
	}

	nonce := iv[:12]
	lengths := make([]int, len(data))
	var plain []byte
	for i, chunk := range data {
		lengths[i] = len(chunk)
		plain = append(plain, chunk...)
	}

	sealed := gcm.Seal(nil, nonce, plain, nil)
	cipherAll := sealed[:len(sealed)-gcm.Overhead()]
	var tag [16]byte
	copy(tag[:], sealed[len(sealed)-gcm.Overhead():])

	out := make([][]byte, len(data))
	offset := 0
	for i, n := range lengths {
		out[i] = cipherAll[offset : offset+n]
		offset += n
	}

	return Ciphertext{IV: iv, Tag: tag, Data: out}, nil
}

// DecryptGCM reverses EncryptGCM, returning the plaintext chunks.
func (key AESKey) DecryptGCM(ct Ciphertext) ([][]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return nil, err
	}

	nonce := ct.IV[:12]
	lengths := make([]int, len(ct.Data))
	var cipherAll []byte
	for i, chunk := range ct.Data {
		lengths[i] = len(chunk)
		cipherAll = append(cipherAll, chunk...)
	}

	sealed := append(append([]byte{}, cipherAll...), ct.Tag[:]...)
	plainAll, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: decrypt bundle: %w", err)
	}

	out := make([][]byte, len(ct.Data))
	offset := 0
	for i, n := range lengths {
		out[i] = plainAll[offset : offset+n]
		offset += n
	}
	return out, nil
}

// expandAESKey runs HKDF-SHA256 over a raw ECDH shared secret to produce a
// uniformly distributed 256-bit AES key.
func expandAESKey(sharedSecret []byte) (AESKey, error) {
	hk := hkdf.New(sha256.New, sharedSecret, nil, []byte("railgun-note-encryption"))
	var out AESKey
	if _, err := io.ReadFull(hk, out[:]); err != nil {
		return AESKey{}, err
	}
	return out, nil
}

// deterministicReader produces an io.Reader whose output is fixed by seed
// and a domain-separation label, used so eddsa.GenerateKey (which expects
// an entropy source) yields a deterministic key for a given seed rather
// than a fresh random key on every call.
func deterministicReader(seed [32]byte, label string) io.Reader {
	hk := hkdf.New(sha256.New, seed[:], nil, []byte(label))
	return hk
}
