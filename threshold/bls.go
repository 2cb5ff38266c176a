package threshold

import (
	"errors"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"
)

// blsSignDST is the domain-separation tag for all Conductor BLS signatures,
// following the ancestor's own per-protocol DST convention in
// accountsigner/crypto.go (bls12381SignDst).
var blsSignDST = []byte("CONDUCTOR_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_")

// ErrInsufficientShares is returned by Aggregate when fewer than t distinct
// shares are supplied (spec §4.2).
var ErrInsufficientShares = errors.New("threshold: insufficient shares")

// ErrInvalidShare is returned on malformed share input (spec §4.2).
var ErrInvalidShare = errors.New("threshold: invalid share")

func scalarFromBigInt(x *big.Int) *blst.Scalar {
	b := make([]byte, 32)
	xb := modOrder(x).Bytes()
	copy(b[32-len(xb):], xb)
	s := new(blst.Scalar)
	s.FromBEndian(b)
	return s
}

// secretKeyFromShare converts a Shamir share (a scalar mod r) into a blst
// SecretKey usable with the ancestor's own Sign/From calling convention.
func secretKeyFromShare(share *big.Int) (*blst.SecretKey, error) {
	b := make([]byte, 32)
	xb := modOrder(share).Bytes()
	copy(b[32-len(xb):], xb)
	sk := new(blst.SecretKey)
	sk.Deserialize(b)
	if !sk.Valid() {
		return nil, ErrInvalidShare
	}
	return sk, nil
}

// SignatureShare is one validator's partial signature over a message,
// produced by its Shamir share of the group signing key.
type SignatureShare struct {
	ValidatorIndex int // 1-based index into the active validator set
	Signature      []byte
}

// SignShare signs message with the caller's share of the group secret key,
// following accountsigner/crypto.go's SignBLS12381Hash calling convention
// generalized to shares (spec §4.2 sign_share).
func SignShare(validatorIndex int, share *big.Int, message []byte) (SignatureShare, error) {
	sk, err := secretKeyFromShare(share)
	if err != nil {
		return SignatureShare{}, err
	}
	sig := new(blst.P2Affine).Sign(sk, message, blsSignDST)
	if sig == nil {
		return SignatureShare{}, ErrInvalidShare
	}
	return SignatureShare{ValidatorIndex: validatorIndex, Signature: sig.Compress()}, nil
}

// weightSignature scales a single signature share by its Lagrange
// coefficient, exploiting BLS linearity: coeff*(sk*H(m)) == (coeff*sk)*H(m).
// This lets the combiner operate purely on public signature bytes without
// ever seeing any validator's secret share.
func weightSignature(sigCompressed []byte, coeff *big.Int) ([]byte, error) {
	var affine blst.P2Affine
	if affine.Uncompress(sigCompressed) == nil {
		return nil, ErrInvalidShare
	}
	jac := new(blst.P2).FromAffine(&affine)
	weighted := jac.Mult(scalarFromBigInt(coeff))
	out := weighted.ToAffine()
	if out == nil {
		return nil, ErrInvalidShare
	}
	return out.Compress(), nil
}

// Aggregate combines >= t distinct signature shares into the group
// signature via Lagrange interpolation at x=0, deterministic in the
// multiset of shares regardless of arrival order (spec §4.2, §8 property 5).
func Aggregate(shares []SignatureShare, t int) ([]byte, error) {
	dedup := map[int]SignatureShare{}
	for _, s := range shares {
		dedup[s.ValidatorIndex] = s
	}
	if len(dedup) < t {
		return nil, ErrInsufficientShares
	}
	// Use exactly t shares to form a stable basis; any valid t-subset
	// recovers the same group signature (spec §8 property 5).
	participants := make([]int, 0, len(dedup))
	for idx := range dedup {
		participants = append(participants, idx)
	}
	sortInts(participants)
	participants = participants[:t]

	agg := new(blst.P2Aggregate)
	for _, idx := range participants {
		coeff := lagrangeCoefficientAtZero(idx, participants)
		weighted, err := weightSignature(dedup[idx].Signature, coeff)
		if err != nil {
			return nil, err
		}
		if !agg.AggregateCompressed([][]byte{weighted}, true) {
			return nil, ErrInvalidShare
		}
	}
	out := agg.ToAffine()
	if out == nil {
		return nil, ErrInvalidShare
	}
	return out.Compress(), nil
}

// VerifyAggregate checks signature against the group public key, following
// the ancestor's verifyBLS12381Signature calling convention (spec §4.2
// verify_aggregate). The signer_set is not itself a cryptographic input:
// threshold BLS aggregation over any qualifying t-subset recovers the same
// group signature, so only popcount/threshold structure (checked by the QC
// layer) depends on it.
func VerifyAggregate(groupPublicKey []byte, message, signature []byte) bool {
	if len(groupPublicKey) == 0 || len(signature) == 0 {
		return false
	}
	var sig blst.P2Affine
	return sig.VerifyCompressed(signature, true, groupPublicKey, true, message, blsSignDST)
}

// groupPublicKeyFromSecret returns the compressed G1 public key g1^secret,
// used by DKG to publish Feldman commitments and by tests to derive the
// group public key directly from a known secret.
func groupPublicKeyFromSecret(secret *big.Int) ([]byte, error) {
	sk, err := secretKeyFromShare(secret)
	if err != nil {
		return nil, err
	}
	pub := new(blst.P1Affine).From(sk)
	if pub == nil {
		return nil, ErrInvalidShare
	}
	return pub.Compress(), nil
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
