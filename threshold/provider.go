package threshold

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Provider is a single validator's view of the federation's threshold key
// material: its own signing and decryption shares plus the public
// verification data, established once at DKG time (spec §4.2). It exposes
// the abstract sign_share/aggregate/verify_aggregate and
// encrypt_to_group/decrypt_share/combine_decryption operations, plus the
// derived common-coin construction (spec §4.4).
type Provider struct {
	ValidatorIndex int
	Threshold      int

	SigningShare         *big.Int
	GroupSigningKey      []byte // compressed G1
	DecryptionShare      *big.Int
	GroupDecryptionKey   []byte // compressed ristretto255 point
	SigningCommitments   [][]byte
	DecryptionCommitments [][]byte
}

// NewProvider builds a Provider from this validator's slice of two
// independent DKG runs: one for the group signing key (BLS12-381, used by
// QCs and the coin) and one for the group decryption key (ristretto255,
// used for threshold encryption). Federation formation runs both DKGs once
// and distributes the results out of band; NewProvider only assembles the
// local view.
func NewProvider(validatorIndex, threshold int, signing, decryption *DKGResult) (*Provider, error) {
	signingShare, ok := signing.Shares[validatorIndex]
	if !ok {
		return nil, fmt.Errorf("threshold: no signing share for validator %d", validatorIndex)
	}
	decryptionShare, ok := decryption.Shares[validatorIndex]
	if !ok {
		return nil, fmt.Errorf("threshold: no decryption share for validator %d", validatorIndex)
	}
	return &Provider{
		ValidatorIndex:        validatorIndex,
		Threshold:             threshold,
		SigningShare:          signingShare,
		GroupSigningKey:       signing.GroupPublicKey,
		DecryptionShare:       decryptionShare,
		GroupDecryptionKey:    decryption.GroupPublicKey,
		SigningCommitments:    signing.Commitments,
		DecryptionCommitments: decryption.Commitments,
	}, nil
}

// SignShare signs message with this validator's share of the group signing
// key (spec §4.2 sign_share).
func (p *Provider) SignShare(message []byte) (SignatureShare, error) {
	return SignShare(p.ValidatorIndex, p.SigningShare, message)
}

// Aggregate combines signature shares into the group signature (spec §4.2
// aggregate).
func (p *Provider) Aggregate(shares []SignatureShare) ([]byte, error) {
	return Aggregate(shares, p.Threshold)
}

// VerifyAggregate checks an aggregate signature against the group signing
// key (spec §4.2 verify_aggregate).
func (p *Provider) VerifyAggregate(message, signature []byte) bool {
	return VerifyAggregate(p.GroupSigningKey, message, signature)
}

// EncryptToGroup encrypts message to the group's decryption key (spec §4.2
// encrypt_to_group).
func (p *Provider) EncryptToGroup(message []byte) (GroupCiphertext, error) {
	return EncryptToGroup(p.GroupDecryptionKey, message)
}

// DecryptShare produces this validator's partial decryption (spec §4.2
// decrypt_share).
func (p *Provider) DecryptShare(ct GroupCiphertext) (DecryptionShare, error) {
	return DecryptShare(p.ValidatorIndex, p.DecryptionShare, ct)
}

// CombineDecryption recovers the plaintext from t decryption shares (spec
// §4.2 combine_decryption).
func (p *Provider) CombineDecryption(ct GroupCiphertext, shares []DecryptionShare) ([]byte, error) {
	return CombineDecryption(ct, shares, p.Threshold)
}

// CoinTag identifies one common-coin flip within the binary agreement
// protocol (spec §4.4): the coin for a given epoch/proposer/round must be
// unpredictable before t honest validators have contributed their shares,
// and identical regardless of which t contributed.
type CoinTag struct {
	Epoch     uint64
	Proposer  int
	Round     uint32
}

func (c CoinTag) bytes() []byte {
	buf := make([]byte, 8+4+4)
	binary.BigEndian.PutUint64(buf[0:8], c.Epoch)
	binary.BigEndian.PutUint32(buf[8:12], uint32(c.Proposer))
	binary.BigEndian.PutUint32(buf[12:16], c.Round)
	return buf
}

// CoinShare is this validator's contribution to a common-coin flip: simply
// a signature share over the coin tag (spec §4.4).
func (p *Provider) CoinShare(tag CoinTag) (SignatureShare, error) {
	return p.SignShare(tag.bytes())
}

// Coin combines t coin shares into the flip's outcome bit. Because the
// aggregate BLS signature is identical for every qualifying t-subset (spec
// §8 property 5), every honest validator that collects any t shares derives
// the same bit, which is what makes the coin safe to use for binary
// agreement termination (spec §4.4).
func Coin(tag CoinTag, shares []SignatureShare, threshold int) (bool, error) {
	sig, err := Aggregate(shares, threshold)
	if err != nil {
		return false, err
	}
	return sig[len(sig)-1]&1 == 1, nil
}
