package field

import "testing"

func TestZeroLeafMatchesKeccakVector(t *testing.T) {
	want := "2051258411002736885948763699317990061539314419500486054347250703186609807356"
	got := ZeroLeaf.String()
	if got != want {
		t.Fatalf("zero leaf = %s, want %s", got, want)
	}
}

func TestPoseidonHashDeterministic(t *testing.T) {
	a := FromUint64(1)
	b := FromUint64(2)

	h1 := PoseidonHash(a, b)
	h2 := PoseidonHash(a, b)
	if !Equal(h1, h2) {
		t.Fatal("poseidon hash must be deterministic")
	}

	h3 := PoseidonHash(b, a)
	if Equal(h1, h3) {
		t.Fatal("poseidon hash must not be commutative over argument order")
	}
}

func TestFromBytesBEReducesModPrime(t *testing.T) {
	// 32 bytes of 0xff is far larger than the field modulus; SetBytes must
	// reduce rather than overflow silently.
	big := make([]byte, 32)
	for i := range big {
		big[i] = 0xff
	}
	e := FromBytesBE(big)
	if e.IsZero() {
		t.Fatal("reduced element should not be zero")
	}
}
