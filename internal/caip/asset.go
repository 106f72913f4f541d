// Package caip defines Railgun's CAIP-19-flavored asset identifier, the
// discriminator used for UTXO asset types across notes, the operation
// builder, and the indexer.
package caip

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/railwayguild/railgun-go/internal/field"
)

// TokenType distinguishes the supported EVM token standards.
type TokenType uint8

const (
	TokenTypeERC20 TokenType = iota
	TokenTypeERC721
	TokenTypeERC1155
)

// ErrInvalidAddress is returned when a token address is not 20 bytes.
var ErrInvalidAddress = errors.New("caip: token address must be 20 bytes")

// Address is a 20-byte EVM address.
type Address [20]byte

// AssetId identifies a shielded asset: an ERC20 contract, or an ERC721 /
// ERC1155 contract plus its token ID.
type AssetId struct {
	Type    TokenType
	Address Address
	TokenID *big.Int // nil for ERC20
}

// NewERC20 builds an ERC20 AssetId.
func NewERC20(addr Address) AssetId {
	return AssetId{Type: TokenTypeERC20, Address: addr}
}

// NewERC721 builds an ERC721 AssetId.
func NewERC721(addr Address, tokenID *big.Int) AssetId {
	return AssetId{Type: TokenTypeERC721, Address: addr, TokenID: tokenID}
}

// NewERC1155 builds an ERC1155 AssetId.
func NewERC1155(addr Address, tokenID *big.Int) AssetId {
	return AssetId{Type: TokenTypeERC1155, Address: addr, TokenID: tokenID}
}

// AddressFromHex parses a "0x..." or bare hex EVM address.
func AddressFromHex(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("caip: %w", err)
	}
	if len(raw) != 20 {
		return Address{}, ErrInvalidAddress
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// Hash returns the field element used as the asset's discriminator in note
// commitments, matching TokenData::hash in the original contract ABI
// bindings: for an ERC20, the 20-byte contract address zero-padded into 32
// bytes with no hashing at all (so wallets can recover the address directly
// from a commitment's asset field); for an ERC721/ERC1155, the modular
// reduction of Keccak(tokenType(32B) | address(32B) | subID(32B)), since
// NFTs carry a third field that won't fit unhashed alongside the other two.
func (a AssetId) Hash() field.Element {
	if a.Type == TokenTypeERC20 {
		var padded [32]byte
		copy(padded[12:], a.Address[:])
		return field.FromBytesBE(padded[:])
	}

	tokenID := a.TokenID
	if tokenID == nil {
		tokenID = big.NewInt(0)
	}

	var data [96]byte
	data[31] = byte(a.Type)
	copy(data[44:64], a.Address[:])
	tokenIDBytes := tokenID.Bytes()
	copy(data[96-len(tokenIDBytes):], tokenIDBytes)

	digest := field.Keccak256(data[:])
	return field.FromBytesBE(digest[:])
}

// String renders a CAIP-19-like identifier for logs and debugging.
func (a AssetId) String() string {
	switch a.Type {
	case TokenTypeERC721:
		return fmt.Sprintf("erc721:0x%x/%s", a.Address, a.tokenIDString())
	case TokenTypeERC1155:
		return fmt.Sprintf("erc1155:0x%x/%s", a.Address, a.tokenIDString())
	default:
		return fmt.Sprintf("erc20:0x%x", a.Address)
	}
}

func (a AssetId) tokenIDString() string {
	if a.TokenID == nil {
		return "0"
	}
	return a.TokenID.String()
}

// Equal reports whether two asset identifiers refer to the same asset.
func (a AssetId) Equal(other AssetId) bool {
	if a.Type != other.Type || a.Address != other.Address {
		return false
	}
	if a.Type == TokenTypeERC20 {
		return true
	}
	at, ot := a.TokenID, other.TokenID
	if at == nil {
		at = big.NewInt(0)
	}
	if ot == nil {
		ot = big.NewInt(0)
	}
	return at.Cmp(ot) == 0
}
