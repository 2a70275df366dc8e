package security

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewHasher_CostClamping(t *testing.T) {
	testCases := []struct {
		name string
		cost int
		want int
	}{
		{"zero picks default", 0, bcrypt.DefaultCost},
		{"negative picks default", -1, bcrypt.DefaultCost},
		{"below min clamps", 2, bcrypt.MinCost},
		{"above max clamps", 40, bcrypt.MaxCost},
		{"in range kept", 12, 12},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewHasher(tc.cost).Cost(); got != tc.want {
				t.Errorf("Cost() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" {
		t.Fatal("Hash returned empty string")
	}
	if hash == "correct horse battery staple" {
		t.Fatal("Hash returned the plaintext")
	}

	if err := h.Compare(hash, []byte("correct horse battery staple")); err != nil {
		t.Errorf("Compare with correct password: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong password")); err == nil {
		t.Error("Compare with wrong password should fail")
	}
	if err := h.Compare("not-a-bcrypt-hash", []byte("anything")); err == nil {
		t.Error("Compare with malformed hash should fail")
	}
}

func TestHasher_HashesDiffer(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	h1, err := h.Hash([]byte("same password"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := h.Hash([]byte("same password"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	// bcrypt salts per call.
	if h1 == h2 {
		t.Error("two hashes of the same password should differ")
	}
}
