package threshold

import "testing"

func TestSignShareAggregateVerifyRoundTrip(t *testing.T) {
	n, tt := 7, 5
	secret := newTestScalar(t, 987654321)
	poly := newRandomPolynomial(secret, tt, testRandFn())

	groupPub, err := groupPublicKeyFromSecret(secret)
	if err != nil {
		t.Fatalf("group public key: %v", err)
	}

	message := []byte("day-proof-digest")
	shares := make([]SignatureShare, 0, n)
	for i := 1; i <= n; i++ {
		s, err := SignShare(i, poly.eval(i), message)
		if err != nil {
			t.Fatalf("sign_share(%d): %v", i, err)
		}
		shares = append(shares, s)
	}

	subsetA := shares[:tt]
	subsetB := append(append([]SignatureShare{}, shares[2:]...))

	sigA, err := Aggregate(subsetA, tt)
	if err != nil {
		t.Fatalf("aggregate subset A: %v", err)
	}
	sigB, err := Aggregate(subsetB, tt)
	if err != nil {
		t.Fatalf("aggregate subset B: %v", err)
	}

	if !VerifyAggregate(groupPub, message, sigA) {
		t.Fatal("verify_aggregate should accept subset A's aggregate")
	}
	if !VerifyAggregate(groupPub, message, sigB) {
		t.Fatal("verify_aggregate should accept subset B's aggregate")
	}
	if string(sigA) != string(sigB) {
		t.Fatal("threshold signature must be identical across qualifying subsets")
	}
}

func TestAggregateInsufficientShares(t *testing.T) {
	n, tt := 7, 5
	secret := newTestScalar(t, 1)
	poly := newRandomPolynomial(secret, tt, testRandFn())
	message := []byte("m")
	shares := make([]SignatureShare, 0, n)
	for i := 1; i <= tt-1; i++ {
		s, err := SignShare(i, poly.eval(i), message)
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, s)
	}
	if _, err := Aggregate(shares, tt); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestVerifyAggregateRejectsWrongMessage(t *testing.T) {
	n, tt := 5, 3
	secret := newTestScalar(t, 55)
	poly := newRandomPolynomial(secret, tt, testRandFn())
	groupPub, err := groupPublicKeyFromSecret(secret)
	if err != nil {
		t.Fatal(err)
	}
	shares := make([]SignatureShare, 0, n)
	for i := 1; i <= tt; i++ {
		s, err := SignShare(i, poly.eval(i), []byte("correct"))
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, s)
	}
	sig, err := Aggregate(shares, tt)
	if err != nil {
		t.Fatal(err)
	}
	if VerifyAggregate(groupPub, []byte("wrong"), sig) {
		t.Fatal("verify_aggregate must reject a signature over a different message")
	}
}
