package threshold

import (
	"math/big"
	"testing"
)

func TestRunDKGSharesSignConsistently(t *testing.T) {
	n, tt := 7, 5
	result, err := RunDKG(n, tt)
	if err != nil {
		t.Fatalf("RunDKG: %v", err)
	}
	if len(result.Shares) != n {
		t.Fatalf("expected %d shares, got %d", n, len(result.Shares))
	}

	message := []byte("epoch-42-qc")
	shares := make([]SignatureShare, 0, n)
	for i := 1; i <= n; i++ {
		s, err := SignShare(i, result.Shares[i], message)
		if err != nil {
			t.Fatalf("sign_share(%d): %v", i, err)
		}
		shares = append(shares, s)
	}

	sig, err := Aggregate(shares[:tt], tt)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !VerifyAggregate(result.GroupPublicKey, message, sig) {
		t.Fatal("verify_aggregate should accept the DKG group signature")
	}

	sig2, err := Aggregate(shares[2:], tt)
	if err != nil {
		t.Fatalf("aggregate second subset: %v", err)
	}
	if string(sig) != string(sig2) {
		t.Fatal("DKG-derived group signature must be subset-independent")
	}
}

func TestVerifyShareRejectsTamperedShare(t *testing.T) {
	n, tt := 5, 3
	result, err := RunDKG(n, tt)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyShare(result.Commitments, 1, result.Shares[1]) {
		t.Fatal("genuine share must verify against the Feldman commitments")
	}
	tampered := new(big.Int).Add(result.Shares[1], big.NewInt(1))
	if VerifyShare(result.Commitments, 1, tampered) {
		t.Fatal("tampered share must fail verification")
	}
}
