package threshold

import (
	"crypto/rand"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"
)

// DKGResult is the output of a joint-Feldman distributed key generation run:
// a group public key and, for each participant, its combined signing-key
// share (spec §4.2, "at federation formation a DKG produces a group signing
// key with private-key shares").
//
// RunDKG simulates every dealer in a single process. In deployment each
// validator runs only its own dealer round and exchanges shares/commitments
// over the wire; the combining arithmetic below is identical either way.
type DKGResult struct {
	GroupPublicKey []byte
	Shares         map[int]*big.Int // 1-based validator index -> combined share
	// Commitments[k] is the sum, across all dealers, of each dealer's
	// degree-k Feldman commitment (compressed G1), used by VerifyShare.
	Commitments [][]byte
}

// RunDKG runs an n-party, t-threshold joint-Feldman DKG. Every one of the n
// validators acts as a dealer of a degree-(t-1) polynomial; the group secret
// is the sum of all dealers' constant terms, never reconstructed by anyone.
func RunDKG(n, t int) (*DKGResult, error) {
	randFn := func() *big.Int {
		v, err := rand.Int(rand.Reader, groupOrder)
		if err != nil {
			panic(err)
		}
		return v
	}

	combinedShares := make(map[int]*big.Int, n)
	for i := 1; i <= n; i++ {
		combinedShares[i] = big.NewInt(0)
	}
	combinedCommitments := make([]*blst.P1, t)
	for k := 0; k < t; k++ {
		combinedCommitments[k] = new(blst.P1)
	}

	for dealer := 1; dealer <= n; dealer++ {
		secret := randFn()
		poly := newRandomPolynomial(secret, t, randFn)

		for i := 1; i <= n; i++ {
			combinedShares[i].Add(combinedShares[i], poly.eval(i))
			combinedShares[i].Mod(combinedShares[i], groupOrder)
		}
		for k, c := range poly.coeffs {
			commitK, err := g1MulGenerator(c)
			if err != nil {
				return nil, err
			}
			combinedCommitments[k] = new(blst.P1).Add(combinedCommitments[k], commitK)
		}
	}

	groupPubPoint := combinedCommitments[0]
	groupPubAffine := groupPubPoint.ToAffine()
	if groupPubAffine == nil {
		return nil, ErrInvalidShare
	}

	commitmentsOut := make([][]byte, t)
	for k, c := range combinedCommitments {
		affine := c.ToAffine()
		if affine == nil {
			return nil, ErrInvalidShare
		}
		commitmentsOut[k] = affine.Compress()
	}

	return &DKGResult{
		GroupPublicKey: groupPubAffine.Compress(),
		Shares:         combinedShares,
		Commitments:    commitmentsOut,
	}, nil
}

// g1MulGenerator returns the compressed-then-uncompressed G1 point scalar*G,
// i.e. a Feldman commitment to scalar, as a *blst.P1 (Jacobian, for further
// accumulation).
func g1MulGenerator(scalar *big.Int) (*blst.P1, error) {
	sk, err := secretKeyFromShare(scalar)
	if err != nil {
		return nil, err
	}
	affine := new(blst.P1Affine).From(sk)
	if affine == nil {
		return nil, ErrInvalidShare
	}
	return new(blst.P1).FromAffine(affine), nil
}

// VerifyShare checks that a participant's combined share is consistent with
// the public Feldman commitments: g1^share_i == product_k(commitment_k ^
// i^k). Returns false (not an error) for a structurally invalid share,
// mirroring spec §4.2's INVALID_SHARE outcome.
func VerifyShare(commitments [][]byte, participantIndex int, share *big.Int) bool {
	lhs, err := g1MulGenerator(share)
	if err != nil {
		return false
	}
	rhs := new(blst.P1)
	power := big.NewInt(1)
	xi := big.NewInt(int64(participantIndex))
	for _, compressed := range commitments {
		var affine blst.P1Affine
		if affine.Uncompress(compressed) == nil {
			return false
		}
		jac := new(blst.P1).FromAffine(&affine)
		weighted := jac.Mult(scalarFromBigInt(power))
		rhs = new(blst.P1).Add(rhs, weighted)
		power.Mul(power, xi)
		power.Mod(power, groupOrder)
	}
	lhsAffine := lhs.ToAffine()
	rhsAffine := rhs.ToAffine()
	if lhsAffine == nil || rhsAffine == nil {
		return false
	}
	return string(lhsAffine.Compress()) == string(rhsAffine.Compress())
}
