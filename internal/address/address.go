// Package address implements Railgun's "0zk" bech32m address format,
// grounded on original_source/railgun-rs/src/railgun/address.rs.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
)

const (
	// HRP is the bech32m human-readable prefix for all Railgun addresses.
	HRP = "0zk"

	// AddressVersion is the only currently defined address version.
	AddressVersion = 1

	// AddressLengthLimit bounds the bech32m-encoded address string length.
	AddressLengthLimit = 127

	// AllChainsNetworkID marks an address valid on every chain rather than
	// one specific EVM chain ID.
	AllChainsNetworkID = 255
)

var xorMask = []byte("railgun")

// ErrAddressTooLong is returned when encoding produces a string longer
// than AddressLengthLimit.
var ErrAddressTooLong = errors.New("address: encoded address exceeds length limit")

// ErrMalformedAddress is returned when decoding fails structural checks.
var ErrMalformedAddress = errors.New("address: malformed railgun address")

// ChainID identifies the network an address targets: a specific EVM chain,
// or every chain.
type ChainID struct {
	All   bool
	EVMID uint64
}

// AllChains is the wildcard ChainID matching every network.
func AllChains() ChainID { return ChainID{All: true} }

// EVMChain builds a ChainID for a specific EVM chain.
func EVMChain(id uint64) ChainID { return ChainID{EVMID: id} }

// RailgunAddress is a wallet's public shielded address: the collapsed
// master public key element, a viewing public key, and the chain it
// targets.
type RailgunAddress struct {
	MasterPublicKey  field.Element
	ViewingPublicKey keys.ViewingPublicKey
	Chain            ChainID
}

// New builds a RailgunAddress from its components.
func New(master keys.MasterPublicKey, viewing keys.ViewingPublicKey, chain ChainID) RailgunAddress {
	return RailgunAddress{MasterPublicKey: master.ToElement(), ViewingPublicKey: viewing, Chain: chain}
}

// NewFromElement builds a RailgunAddress directly from a collapsed master
// public key element, for callers that already have it in that form.
func NewFromElement(master field.Element, viewing keys.ViewingPublicKey, chain ChainID) RailgunAddress {
	return RailgunAddress{MasterPublicKey: master, ViewingPublicKey: viewing, Chain: chain}
}

// String bech32m-encodes the address: version(1B) | masterPublicKey(32B) |
// xor(encodedChainID)(8B) | viewingPublicKey(32B), hex-decoded into raw
// bytes before bech32m conversion, matching the original's hex-intermediate
// encoding step.
func (a RailgunAddress) String() string {
	mpk := a.MasterPublicKey.Bytes()
	vpk := a.ViewingPublicKey.Bytes()

	encodedChain := encodeChainID(a.Chain)
	xored := xorNetworkID(encodedChain)

	hexStr := fmt.Sprintf("%02x%s%s%s", AddressVersion, hex.EncodeToString(mpk[:]), hex.EncodeToString(xored[:]), hex.EncodeToString(vpk[:]))

	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		// hexStr is built entirely from hex.EncodeToString output and a
		// fixed-width decimal version byte; it is always valid hex.
		panic(fmt.Sprintf("address: unreachable hex decode failure: %v", err))
	}

	words, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		panic(fmt.Sprintf("address: unreachable bit conversion failure: %v", err))
	}

	encoded, err := bech32.EncodeM(HRP, words)
	if err != nil {
		panic(fmt.Sprintf("address: unreachable bech32m encode failure: %v", err))
	}
	return encoded
}

// Parse decodes a "0zk..." address string.
func Parse(s string) (RailgunAddress, error) {
	if len(s) > AddressLengthLimit {
		return RailgunAddress{}, ErrAddressTooLong
	}

	hrp, words, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return RailgunAddress{}, fmt.Errorf("address: %w", err)
	}
	if hrp != HRP {
		return RailgunAddress{}, fmt.Errorf("%w: unexpected hrp %q", ErrMalformedAddress, hrp)
	}

	raw, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return RailgunAddress{}, fmt.Errorf("address: %w", err)
	}

	hexStr := hex.EncodeToString(raw)
	if len(hexStr) < 146 {
		return RailgunAddress{}, ErrMalformedAddress
	}

	versionHex := hexStr[0:2]
	masterHex := hexStr[2:66]
	chainHex := hexStr[66:82]
	viewingHex := hexStr[82:146]

	if versionHex != fmt.Sprintf("%02x", AddressVersion) {
		return RailgunAddress{}, fmt.Errorf("%w: unsupported version %s", ErrMalformedAddress, versionHex)
	}

	masterBytes, err := hex.DecodeString(masterHex)
	if err != nil || len(masterBytes) != 32 {
		return RailgunAddress{}, ErrMalformedAddress
	}
	chainBytes, err := hex.DecodeString(chainHex)
	if err != nil || len(chainBytes) != 8 {
		return RailgunAddress{}, ErrMalformedAddress
	}
	viewingBytes, err := hex.DecodeString(viewingHex)
	if err != nil || len(viewingBytes) != 32 {
		return RailgunAddress{}, ErrMalformedAddress
	}

	var unXored [8]byte
	copy(unXored[:], chainBytes)
	chain, err := decodeNetworkID(xorNetworkID(unXored))
	if err != nil {
		return RailgunAddress{}, err
	}

	var viewing [32]byte
	copy(viewing[:], viewingBytes)

	// The master public key field stored in the address is the collapsed
	// Poseidon element, not the raw (x, y, nullifyingKey) triple; a wallet
	// matches an incoming note against a decoded address by recomputing
	// its own MasterPublicKey.ToElement() and comparing it to this value.
	return RailgunAddress{
		MasterPublicKey:  field.FromBytesBE(masterBytes),
		ViewingPublicKey: keys.ViewingPublicKeyFromBytes(viewing),
		Chain:            chain,
	}, nil
}

// encodeChainID packs a ChainID into the 8-byte on-wire layout: for an EVM
// chain, byte 0 is zero and the remaining 7 bytes hold the big-endian tail
// of the chain ID (chain IDs above 2^56 are not representable, matching
// the original implementation's limit); for the wildcard chain, byte 0 is
// 255 and the rest are zero.
func encodeChainID(c ChainID) [8]byte {
	var out [8]byte
	if c.All {
		out[0] = AllChainsNetworkID
		return out
	}

	full := new(big.Int).SetUint64(c.EVMID).Bytes()
	// left-pad into a 7-byte tail
	var tail [7]byte
	if len(full) > 7 {
		full = full[len(full)-7:]
	}
	copy(tail[7-len(full):], full)
	copy(out[1:], tail[:])
	return out
}

func decodeNetworkID(b [8]byte) (ChainID, error) {
	switch b[0] {
	case 0:
		id := new(big.Int).SetBytes(b[1:])
		return ChainID{EVMID: id.Uint64()}, nil
	case AllChainsNetworkID:
		return ChainID{All: true}, nil
	default:
		return ChainID{}, fmt.Errorf("%w: unknown network id tag %d", ErrMalformedAddress, b[0])
	}
}

// xorNetworkID XORs an 8-byte encoded network id against the ASCII bytes
// of "railgun" (padding with zero past byte 7), obfuscating the chain ID
// in the address string without adding real secrecy.
func xorNetworkID(b [8]byte) [8]byte {
	var out [8]byte
	for i := range b {
		var m byte
		if i < len(xorMask) {
			m = xorMask[i]
		}
		out[i] = b[i] ^ m
	}
	return out
}
