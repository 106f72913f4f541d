package keys

import "testing"

func TestSpendingKeySignVerifyRoundTrip(t *testing.T) {
	sk, err := NewSpendingKey([32]byte{1})
	if err != nil {
		t.Fatalf("NewSpendingKey: %v", err)
	}

	msg := sk.PublicKey()
	x, _ := msg.XY()

	r8x, r8y, s, err := sk.Sign(x)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := Verify(sk.PublicKey(), x, r8x, r8y, s)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("signature should verify")
	}
}

func TestViewingKeyECDHAgreement(t *testing.T) {
	alice := NewViewingKey([32]byte{2})
	bob := NewViewingKey([32]byte{3})

	alicePub, err := alice.PublicKey()
	if err != nil {
		t.Fatalf("alice pubkey: %v", err)
	}
	bobPub, err := bob.PublicKey()
	if err != nil {
		t.Fatalf("bob pubkey: %v", err)
	}

	k1, err := alice.DeriveSharedKey(bobPub)
	if err != nil {
		t.Fatalf("alice shared key: %v", err)
	}
	k2, err := bob.DeriveSharedKey(alicePub)
	if err != nil {
		t.Fatalf("bob shared key: %v", err)
	}

	if k1 != k2 {
		t.Fatal("ECDH shared keys must agree")
	}
}

func TestAESGCMRoundTrip(t *testing.T) {
	var key AESKey
	for i := range key {
		key[i] = byte(i)
	}

	chunks := [][]byte{[]byte("hello"), []byte("railgun note payload")}
	ct, err := key.EncryptGCM(chunks)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	plain, err := key.DecryptGCM(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	for i, c := range chunks {
		if string(plain[i]) != string(c) {
			t.Fatalf("chunk %d mismatch: got %q want %q", i, plain[i], c)
		}
	}
}

func TestNullifyingKeyDeterministic(t *testing.T) {
	vk := NewViewingKey([32]byte{9})
	n1 := vk.NullifyingKey()
	n2 := vk.NullifyingKey()
	if !n1.Equal(&n2) {
		t.Fatal("nullifying key derivation must be deterministic")
	}
}
