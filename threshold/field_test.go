package threshold

import (
	"crypto/rand"
	"math/big"
	"testing"
)

func newTestScalar(t *testing.T, v int64) *big.Int {
	t.Helper()
	return big.NewInt(v)
}

func testRandFn() func() *big.Int {
	return func() *big.Int {
		n, err := rand.Int(rand.Reader, groupOrder)
		if err != nil {
			panic(err)
		}
		return n
	}
}

func TestLagrangeRecoversSecret(t *testing.T) {
	secret := big.NewInt(123456789)
	n, tt := 7, 5
	poly := newRandomPolynomial(secret, tt, testRandFn())

	shares := make(map[int]*big.Int, n)
	for i := 1; i <= n; i++ {
		shares[i] = poly.eval(i)
	}

	// Any t-subset should interpolate back to the same secret.
	subsets := [][]int{{1, 2, 3, 4, 5}, {3, 4, 5, 6, 7}, {1, 3, 5, 6, 7}}
	for _, subset := range subsets {
		recovered := big.NewInt(0)
		for _, i := range subset {
			coeff := lagrangeCoefficientAtZero(i, subset)
			term := new(big.Int).Mul(coeff, shares[i])
			recovered.Add(recovered, term)
			recovered.Mod(recovered, groupOrder)
		}
		if recovered.Cmp(modOrder(secret)) != 0 {
			t.Fatalf("subset %v recovered %v, want %v", subset, recovered, secret)
		}
	}
}

func TestLagrangeInsufficientSharesDiverge(t *testing.T) {
	secret := big.NewInt(42)
	poly := newRandomPolynomial(secret, 5, testRandFn())
	shares := map[int]*big.Int{}
	for i := 1; i <= 4; i++ {
		shares[i] = poly.eval(i)
	}
	subset := []int{1, 2, 3, 4} // only t-1
	recovered := big.NewInt(0)
	for _, i := range subset {
		coeff := lagrangeCoefficientAtZero(i, subset)
		term := new(big.Int).Mul(coeff, shares[i])
		recovered.Add(recovered, term)
		recovered.Mod(recovered, groupOrder)
	}
	if recovered.Cmp(modOrder(secret)) == 0 {
		t.Fatal("t-1 shares should not recover the secret")
	}
}
