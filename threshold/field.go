// Package threshold implements spec §4.2: distributed key generation, BLS
// signature shares and threshold aggregation (driving both the common coin
// and quorum certificates), and ristretto255-based threshold group
// encryption/decryption.
//
// Grounded on the ancestor's accountsigner/crypto.go BLS12-381 handling
// (blst KeyGen/Sign/Aggregate/Verify calling convention) and its ristretto255
// ElGamal code in crypto/tosalign/elgamal.go, generalized from single-key
// operations to Shamir t-of-n threshold operations using Lagrange
// interpolation in the BLS12-381 scalar field (via github.com/supranational/blst,
// exploiting BLS signing's own linearity to avoid any new curve-arithmetic
// surface) and in ristretto255's scalar field (via github.com/gtank/ristretto255,
// the upstream origin of the ancestor's vendored package).
package threshold

import "math/big"

// groupOrder is r, the order of the BLS12-381 G1/G2 prime-order subgroup —
// a public protocol constant, not secret material.
var groupOrder, _ = new(big.Int).SetString(
	"52435875175126190479447740508185965837690552500527637822603658699938581184513", 10)

func modOrder(x *big.Int) *big.Int {
	return new(big.Int).Mod(x, groupOrder)
}

// lagrangeCoefficientAtZero computes λ_i(0) for participant index i (1-based
// validator index, never 0) given the full set of participating indices,
// evaluated over Z_r. This is what lets t-of-n shares combine
// deterministically to the same group signature/plaintext regardless of
// which t participated (spec §8 property 5).
func lagrangeCoefficientAtZero(i int, participants []int) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	xi := big.NewInt(int64(i))
	for _, j := range participants {
		if j == i {
			continue
		}
		xj := big.NewInt(int64(j))
		// num *= (0 - xj) = -xj
		num.Mul(num, new(big.Int).Neg(xj))
		num.Mod(num, groupOrder)
		// den *= (xi - xj)
		diff := new(big.Int).Sub(xi, xj)
		den.Mul(den, diff)
		den.Mod(den, groupOrder)
	}
	denInv := new(big.Int).ModInverse(den, groupOrder)
	if denInv == nil {
		// Degenerate only if two participants share an index, which callers
		// must never allow.
		return big.NewInt(0)
	}
	return modOrder(new(big.Int).Mul(num, denInv))
}

// polynomial is a secret-sharing polynomial over Z_r with Coeffs[0] the
// shared secret.
type polynomial struct {
	coeffs []*big.Int
}

// newRandomPolynomial returns a degree-(t-1) polynomial with the given
// constant term (the secret) and random higher-order coefficients drawn
// from randFn (a CSPRNG-backed big.Int generator in [0, r)).
func newRandomPolynomial(secret *big.Int, t int, randFn func() *big.Int) *polynomial {
	coeffs := make([]*big.Int, t)
	coeffs[0] = modOrder(new(big.Int).Set(secret))
	for k := 1; k < t; k++ {
		coeffs[k] = randFn()
	}
	return &polynomial{coeffs: coeffs}
}

// eval evaluates the polynomial at x (a 1-based validator index), mod r.
func (p *polynomial) eval(x int) *big.Int {
	result := big.NewInt(0)
	xb := big.NewInt(int64(x))
	power := big.NewInt(1)
	for _, c := range p.coeffs {
		term := new(big.Int).Mul(c, power)
		result.Add(result, term)
		result.Mod(result, groupOrder)
		power.Mul(power, xb)
		power.Mod(power, groupOrder)
	}
	return result
}
