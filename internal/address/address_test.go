package address

import (
	"testing"

	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
)

func TestAddressRoundTrip(t *testing.T) {
	var masterBytes, viewingBytes [32]byte
	for i := range masterBytes {
		masterBytes[i] = 1
	}
	for i := range viewingBytes {
		viewingBytes[i] = 2
	}

	addr := NewFromElement(field.FromBytesBE(masterBytes[:]), keys.ViewingPublicKeyFromBytes(viewingBytes), EVMChain(1))

	encoded := addr.String()

	decoded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !decoded.MasterPublicKey.Equal(&addr.MasterPublicKey) {
		t.Fatal("master public key mismatch after round trip")
	}
	if decoded.ViewingPublicKey.Bytes() != addr.ViewingPublicKey.Bytes() {
		t.Fatal("viewing public key mismatch after round trip")
	}
	if decoded.Chain != addr.Chain {
		t.Fatalf("chain mismatch: got %+v want %+v", decoded.Chain, addr.Chain)
	}
}

func TestAddressLiteralVector(t *testing.T) {
	var masterBytes, viewingBytes [32]byte
	for i := range masterBytes {
		masterBytes[i] = 1
	}
	for i := range viewingBytes {
		viewingBytes[i] = 2
	}

	addr := NewFromElement(field.FromBytesBE(masterBytes[:]), keys.ViewingPublicKeyFromBytes(viewingBytes), EVMChain(1))

	want := "0zk1qyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszunpd9kxwatwqypqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqy3t4umn"
	got := addr.String()
	if got != want {
		t.Fatalf("address = %s, want %s", got, want)
	}
}

func TestAllChainsAddress(t *testing.T) {
	var masterBytes, viewingBytes [32]byte
	addr := NewFromElement(field.FromBytesBE(masterBytes[:]), keys.ViewingPublicKeyFromBytes(viewingBytes), AllChains())

	decoded, err := Parse(addr.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !decoded.Chain.All {
		t.Fatal("expected decoded chain to be the wildcard chain")
	}
}
