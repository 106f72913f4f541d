package broadcaster

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/keys"
)

func testRailgunAddressString(t *testing.T) string {
	t.Helper()
	var spendSeed, viewSeed [32]byte
	spendSeed[0], viewSeed[0] = 1, 2

	spendKey, err := keys.NewSpendingKey(spendSeed)
	if err != nil {
		t.Fatalf("NewSpendingKey: %v", err)
	}
	viewKey := keys.NewViewingKey(viewSeed)
	viewPub, err := viewKey.PublicKey()
	if err != nil {
		t.Fatalf("viewing PublicKey: %v", err)
	}
	master := keys.NewMasterPublicKey(spendKey.PublicKey(), viewKey.NullifyingKey())
	return address.New(master, viewPub, address.EVMChain(1)).String()
}

func buildFeeEnvelope(t *testing.T, railgunAddr string, token caip.Address, feePerUnitGas uint64, expiration uint64, availableWallets uint32) []byte {
	t.Helper()

	data := feeMessageData{
		Fees:                map[string]string{hex.EncodeToString(token[:]): fmt.Sprintf("0x%x", feePerUnitGas)},
		FeeExpiration:       expiration,
		FeesID:              "fee-1",
		RailgunAddress:      railgunAddr,
		AvailableWallets:    availableWallets,
		Version:             "8.0.0",
		RelayAdapt:          "0x0000000000000000000000000000000000000001",
		RequiredPoiListKeys: []string{"default"},
		Reliability:         0.99,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal fee data: %v", err)
	}

	envelope := feeMessageEnvelope{Data: hex.EncodeToString(raw), Signature: "deadbeef"}
	out, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func TestHandleFeeMessageCachesBroadcaster(t *testing.T) {
	addrStr := testRailgunAddressString(t)
	var token caip.Address
	token[19] = 5

	m := NewManager(1, nil)
	payload := buildFeeEnvelope(t, addrStr, token, 0xff, 9999999999, 3)

	if err := m.handleFeeMessage(payload); err != nil {
		t.Fatalf("handleFeeMessage: %v", err)
	}

	fee, ok := m.BestBroadcasterForToken(token, 0)
	if !ok {
		t.Fatal("expected a broadcaster quote to be cached")
	}
	if fee.PerUnitGas != 0xff {
		t.Fatalf("expected fee 0xff, got %x", fee.PerUnitGas)
	}
	if fee.AvailableWallets != 3 {
		t.Fatalf("expected 3 available wallets, got %d", fee.AvailableWallets)
	}
}

func TestHandleFeeMessageRejectsIncompatibleVersion(t *testing.T) {
	addrStr := testRailgunAddressString(t)
	var token caip.Address
	token[19] = 5

	data := feeMessageData{
		Fees:             map[string]string{hex.EncodeToString(token[:]): "0xff"},
		FeeExpiration:    9999999999,
		RailgunAddress:   addrStr,
		AvailableWallets: 1,
		Version:          "7.2.0",
		RelayAdapt:       "0x0000000000000000000000000000000000000001",
	}
	raw, _ := json.Marshal(data)
	envelope := feeMessageEnvelope{Data: hex.EncodeToString(raw)}
	payload, _ := json.Marshal(envelope)

	m := NewManager(1, nil)
	err := m.handleFeeMessage(payload)
	if err == nil {
		t.Fatal("expected an incompatible version error")
	}
	if _, ok := err.(*ErrIncompatibleVersion); !ok {
		t.Fatalf("expected *ErrIncompatibleVersion, got %T: %v", err, err)
	}
}

func TestBestBroadcasterForTokenSkipsExpiredAndFull(t *testing.T) {
	addrStr := testRailgunAddressString(t)
	var token caip.Address
	token[19] = 5

	m := NewManager(1, nil)
	expired := buildFeeEnvelope(t, addrStr, token, 10, 100, 5)
	if err := m.handleFeeMessage(expired); err != nil {
		t.Fatalf("handleFeeMessage: %v", err)
	}

	if _, ok := m.BestBroadcasterForToken(token, 200); ok {
		t.Fatal("expected no broadcaster to qualify once its fee quote has expired")
	}

	full := buildFeeEnvelope(t, addrStr, token, 10, 9999999999, 0)
	if err := m.handleFeeMessage(full); err != nil {
		t.Fatalf("handleFeeMessage: %v", err)
	}

	if _, ok := m.BestBroadcasterForToken(token, 200); ok {
		t.Fatal("expected no broadcaster to qualify with no available wallets")
	}
}
