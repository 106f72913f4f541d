package field

import (
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes the legacy (pre-NIST-padding) Keccak-256 digest used
// by the EVM and by Railgun's zero-leaf derivation.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ZeroLeaf is the canonical empty-leaf value for Railgun's Merkle trees:
// keccak256("Railgun") reduced into the BN254 scalar field.
var ZeroLeaf = func() Element {
	digest := Keccak256([]byte("Railgun"))
	return FromBytesBE(digest[:])
}()
