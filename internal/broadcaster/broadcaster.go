// Package broadcaster tracks the set of Railgun broadcasters advertising
// fees on a chain's gossip topic and selects the cheapest available one
// for a given fee token, grounded on
// original_source/railgun-rs/src/railgun/broadcaster/{broadcaster_manager,types}.rs.
package broadcaster

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/transport"
)

// BroadcasterVersion is the major version this client expects from fee
// messages; messages advertising an incompatible major version are
// dropped rather than cached.
const BroadcasterVersion = "8"

// FeeContentTopic returns the gossip content topic broadcasters publish
// fee updates to for a given EVM chain.
func FeeContentTopic(chainID uint64) string {
	return fmt.Sprintf("/railgun/v2/0-%d-fees/json", chainID)
}

// ErrIncompatibleVersion is returned when a fee message advertises a major
// version other than BroadcasterVersion.
type ErrIncompatibleVersion struct{ Got, Expected string }

func (e *ErrIncompatibleVersion) Error() string {
	return fmt.Sprintf("broadcaster: incompatible version: got %s, expected %s", e.Got, e.Expected)
}

// feeMessageEnvelope is the outer gossip payload: hex-encoded JSON data
// plus a signature the caller may verify out of band.
type feeMessageEnvelope struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// feeMessageData is the decoded content of a fee message.
type feeMessageData struct {
	Fees                map[string]string `json:"fees"`
	FeeExpiration       uint64            `json:"feeExpiration"`
	FeesID              string            `json:"feesID"`
	RailgunAddress      string            `json:"railgunAddress"`
	Identifier          *string           `json:"identifier"`
	AvailableWallets    uint32            `json:"availableWallets"`
	Version             string            `json:"version"`
	RelayAdapt          string            `json:"relayAdapt"`
	RequiredPoiListKeys []string          `json:"requiredPOIListKeys"`
	Reliability         float64           `json:"reliability"`
}

// TokenFeeData is one broadcaster's cached fee quote for a single token.
type TokenFeeData struct {
	FeePerUnitGas    uint64
	Expiration       uint64
	FeesID           string
	AvailableWallets uint32
	RelayAdapt       caip.Address
	// Reliability is stored ×100 as an integer, matching the original's
	// fixed-point cache of the wire format's 0.0-1.0 float.
	Reliability uint32
}

// broadcasterData is the full cached state for one advertising broadcaster.
type broadcasterData struct {
	railgunAddress      address.RailgunAddress
	identifier          *string
	requiredPoiListKeys []string
	tokenFees           map[caip.Address]TokenFeeData
}

// Fee is a selected broadcaster's quote for paying a specific token,
// returned by BestBroadcasterForToken.
type Fee struct {
	Token            caip.Address
	PerUnitGas       uint64
	Recipient        address.RailgunAddress
	Expiration       uint64
	FeesID           string
	AvailableWallets uint32
	RelayAdapt       caip.Address
	Reliability      uint32
	ListKeys         []string
}

// Manager subscribes to a chain's fee gossip topic and maintains a cache
// of broadcaster fee quotes, keyed by the broadcaster's Railgun address.
type Manager struct {
	chainID   uint64
	transport *transport.GossipSubNode

	mu           sync.Mutex
	broadcasters map[string]*broadcasterData
}

// NewManager builds a Manager for a chain, backed by an already-running
// gossip transport.
func NewManager(chainID uint64, t *transport.GossipSubNode) *Manager {
	return &Manager{
		chainID:      chainID,
		transport:    t,
		broadcasters: make(map[string]*broadcasterData),
	}
}

// Start joins the chain's fee content topic and begins caching fee
// messages as they arrive. It returns once the subscription is
// established; message handling continues on a background goroutine
// until ctx is cancelled or the underlying transport is closed.
func (m *Manager) Start(ctx context.Context) error {
	topic := FeeContentTopic(m.chainID)
	return m.transport.Join(ctx, topic, func(ctx context.Context, from peer.ID, data []byte) error {
		return m.handleFeeMessage(data)
	})
}

func (m *Manager) handleFeeMessage(payload []byte) error {
	var envelope feeMessageEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("broadcaster: decode envelope: %w", err)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(envelope.Data, "0x"))
	if err != nil {
		return fmt.Errorf("broadcaster: decode hex data: %w", err)
	}

	var feeData feeMessageData
	if err := json.Unmarshal(raw, &feeData); err != nil {
		return fmt.Errorf("broadcaster: decode fee data: %w", err)
	}

	majorVersion, _, _ := strings.Cut(feeData.Version, ".")
	if majorVersion != BroadcasterVersion {
		return &ErrIncompatibleVersion{Got: feeData.Version, Expected: BroadcasterVersion}
	}

	railgunAddress, err := address.Parse(feeData.RailgunAddress)
	if err != nil {
		return fmt.Errorf("broadcaster: invalid railgun address %q: %w", feeData.RailgunAddress, err)
	}

	relayAdapt, err := caip.AddressFromHex(feeData.RelayAdapt)
	if err != nil {
		return fmt.Errorf("broadcaster: invalid relay adapt address %q: %w", feeData.RelayAdapt, err)
	}

	tokenFees := make(map[caip.Address]TokenFeeData, len(feeData.Fees))
	for tokenAddrStr, feeHex := range feeData.Fees {
		tokenAddr, err := caip.AddressFromHex(tokenAddrStr)
		if err != nil {
			return fmt.Errorf("broadcaster: invalid token address %q: %w", tokenAddrStr, err)
		}
		feePerUnitGas, err := strconv.ParseUint(strings.TrimPrefix(feeHex, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("broadcaster: invalid fee hex %q: %w", feeHex, err)
		}
		tokenFees[tokenAddr] = TokenFeeData{
			FeePerUnitGas:    feePerUnitGas,
			Expiration:       feeData.FeeExpiration,
			FeesID:           feeData.FeesID,
			AvailableWallets: feeData.AvailableWallets,
			RelayAdapt:       relayAdapt,
			Reliability:      uint32(feeData.Reliability * 100),
		}
	}

	data := &broadcasterData{
		railgunAddress:      railgunAddress,
		identifier:          feeData.Identifier,
		requiredPoiListKeys: feeData.RequiredPoiListKeys,
		tokenFees:           tokenFees,
	}

	m.mu.Lock()
	m.broadcasters[railgunAddress.String()] = data
	m.mu.Unlock()
	return nil
}

// BestBroadcasterForToken returns the cheapest non-expired broadcaster
// quote for a token with at least one available wallet, breaking ties by
// highest reliability, or ok=false if none qualify.
func (m *Manager) BestBroadcasterForToken(token caip.Address, currentTimeUnix uint64) (Fee, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Fee
	for _, data := range m.broadcasters {
		tf, ok := data.tokenFees[token]
		if !ok || tf.Expiration <= currentTimeUnix || tf.AvailableWallets == 0 {
			continue
		}

		candidate := Fee{
			Token:            token,
			PerUnitGas:       tf.FeePerUnitGas,
			Recipient:        data.railgunAddress,
			Expiration:       tf.Expiration,
			FeesID:           tf.FeesID,
			AvailableWallets: tf.AvailableWallets,
			RelayAdapt:       tf.RelayAdapt,
			Reliability:      tf.Reliability,
			ListKeys:         data.requiredPoiListKeys,
		}

		if best == nil || candidate.PerUnitGas < best.PerUnitGas ||
			(candidate.PerUnitGas == best.PerUnitGas && candidate.Reliability > best.Reliability) {
			best = &candidate
		}
	}

	if best == nil {
		return Fee{}, false
	}
	return *best, true
}

// ChainID returns the chain this manager tracks broadcasters for.
func (m *Manager) ChainID() uint64 { return m.chainID }
