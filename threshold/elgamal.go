package threshold

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptFailed is returned when a ciphertext fails to combine or
// authenticate, following the ancestor's crypto/tosalign/elgamal.go error
// naming.
var ErrDecryptFailed = errors.New("threshold: decrypt failed")

// GroupCiphertext is a threshold ECIES ciphertext: an ephemeral ristretto255
// DH share wrapping a ChaCha20-Poly1305 sealed message, encrypted to the
// group's decryption public key (spec §4.2 encrypt_to_group). The DH
// exponentiation is what is threshold-shared; the symmetric seal lets the
// scheme encrypt an arbitrary-length message and recover it exactly.
type GroupCiphertext struct {
	Ephemeral []byte // r*G, 32 bytes
	Sealed    []byte // nonce || ChaCha20-Poly1305(key, nonce, message)
}

// DecryptionShare is one validator's partial decryption of a
// GroupCiphertext's ephemeral point, combined via Lagrange interpolation
// (spec §4.2 decrypt_share / combine_decryption).
type DecryptionShare struct {
	ValidatorIndex int
	Share          []byte // share_i * Ephemeral, 32 bytes
}

// ristretto255 scalars are little-endian mod L, the curve's own prime
// order, distinct from the BLS12-381 group order used elsewhere in this
// package, so this file keeps its own reduction.
var ristrettoOrder, _ = new(big.Int).SetString(
	"7237005577332262213973186563042994240857116359379907606001950938285454250989", 10)

func scalarToRistretto(x *big.Int) *ristretto255.Scalar {
	reduced := new(big.Int).Mod(x, ristrettoOrder)
	be := reduced.FillBytes(make([]byte, 32))
	le := make([]byte, 32)
	for i, b := range be {
		le[31-i] = b
	}
	s := ristretto255.NewScalar()
	if err := s.Decode(le); err != nil {
		panic(err)
	}
	return s
}

func randomRistrettoScalar() (*ristretto255.Scalar, error) {
	n, err := rand.Int(rand.Reader, ristrettoOrder)
	if err != nil {
		return nil, err
	}
	return scalarToRistretto(n), nil
}

func deriveSymmetricKey(sharedPoint *ristretto255.Element) [32]byte {
	return sha256.Sum256(sharedPoint.Encode(nil))
}

// EncryptToGroup encrypts message to the group's decryption public key
// (spec §4.2 encrypt_to_group). Any party can encrypt; only t validators
// cooperating via DecryptShare/CombineDecryption can decrypt.
func EncryptToGroup(groupDecryptionPublicKey []byte, message []byte) (GroupCiphertext, error) {
	pub := ristretto255.NewElement()
	if err := pub.Decode(groupDecryptionPublicKey); err != nil {
		return GroupCiphertext{}, ErrInvalidShare
	}
	r, err := randomRistrettoScalar()
	if err != nil {
		return GroupCiphertext{}, err
	}
	ephemeral := ristretto255.NewElement().ScalarBaseMult(r)
	shared := ristretto255.NewElement().ScalarMult(r, pub)
	key := deriveSymmetricKey(shared)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return GroupCiphertext{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return GroupCiphertext{}, err
	}
	sealed := aead.Seal(nonce, nonce, message, nil)

	return GroupCiphertext{Ephemeral: ephemeral.Encode(nil), Sealed: sealed}, nil
}

// DecryptShare produces validator i's partial decryption of ciphertext
// using its share of the group decryption key (spec §4.2 decrypt_share).
func DecryptShare(validatorIndex int, decryptionKeyShare *big.Int, ct GroupCiphertext) (DecryptionShare, error) {
	ephemeral := ristretto255.NewElement()
	if err := ephemeral.Decode(ct.Ephemeral); err != nil {
		return DecryptionShare{}, ErrInvalidShare
	}
	scalar := scalarToRistretto(decryptionKeyShare)
	share := ristretto255.NewElement().ScalarMult(scalar, ephemeral)
	return DecryptionShare{ValidatorIndex: validatorIndex, Share: share.Encode(nil)}, nil
}

// CombineDecryption combines >= t decryption shares to recover the shared
// DH point r*secret*G, derives the same symmetric key Encrypt used, and
// opens the sealed message (spec §4.2 combine_decryption). Returns
// ErrInsufficientShares below threshold and ErrDecryptFailed if the sealed
// message fails to authenticate under the recovered key.
func CombineDecryption(ct GroupCiphertext, shares []DecryptionShare, t int) ([]byte, error) {
	dedup := map[int]DecryptionShare{}
	for _, s := range shares {
		dedup[s.ValidatorIndex] = s
	}
	if len(dedup) < t {
		return nil, ErrInsufficientShares
	}
	participants := make([]int, 0, len(dedup))
	for idx := range dedup {
		participants = append(participants, idx)
	}
	sortInts(participants)
	participants = participants[:t]

	var combined *ristretto255.Element
	for _, idx := range participants {
		p := ristretto255.NewElement()
		if err := p.Decode(dedup[idx].Share); err != nil {
			return nil, ErrInvalidShare
		}
		coeff := lagrangeCoefficientAtZeroRistretto(idx, participants)
		weighted := ristretto255.NewElement().ScalarMult(coeff, p)
		if combined == nil {
			combined = weighted
		} else {
			combined = ristretto255.NewElement().Add(combined, weighted)
		}
	}

	key := deriveSymmetricKey(combined)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	if len(ct.Sealed) < aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, box := ct.Sealed[:aead.NonceSize()], ct.Sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// lagrangeCoefficientAtZeroRistretto mirrors lagrangeCoefficientAtZero but
// reduces mod the ristretto255 scalar field, since the two threshold
// subsystems (BLS signing, ristretto255 encryption) use different prime
// fields.
func lagrangeCoefficientAtZeroRistretto(i int, participants []int) *ristretto255.Scalar {
	num := big.NewInt(1)
	den := big.NewInt(1)
	xi := big.NewInt(int64(i))
	for _, j := range participants {
		if j == i {
			continue
		}
		xj := big.NewInt(int64(j))
		num.Mul(num, new(big.Int).Neg(xj))
		num.Mod(num, ristrettoOrder)
		diff := new(big.Int).Sub(xi, xj)
		den.Mul(den, diff)
		den.Mod(den, ristrettoOrder)
	}
	denInv := new(big.Int).ModInverse(den, ristrettoOrder)
	if denInv == nil {
		return scalarToRistretto(big.NewInt(0))
	}
	coeff := new(big.Int).Mod(new(big.Int).Mul(num, denInv), ristrettoOrder)
	return scalarToRistretto(coeff)
}
