// Package wire provides the canonical byte encoding used for every
// cross-node message and persisted record, so that message_digest is
// reproducible across implementations (spec §6 "Wire format discipline").
//
// Encoding follows the ancestor's kvstore/codec.go envelope convention,
// without its payload-kind prefix: a version byte followed by an
// RLP-encoded body.
package wire

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"

	fcommon "github.com/fediconductor/conductor/common"
)

const version = uint8(1)

// Digest returns the canonical Keccak-256 digest of an RLP-canonical
// encoding of v, used everywhere a message_digest or batch_digest is
// required.
func Digest(v interface{}) (fcommon.Hash, error) {
	b, err := Encode(v)
	if err != nil {
		return fcommon.Hash{}, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return fcommon.BytesToHash(h.Sum(nil)), nil
}

// Encode canonically encodes v as version || rlp(v).
func Encode(v interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, version)
	out = append(out, body...)
	return out, nil
}

// Decode parses bytes produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	if len(data) < 1 {
		return fmt.Errorf("wire: payload too short")
	}
	if data[0] != version {
		return fmt.Errorf("wire: unsupported version %d", data[0])
	}
	if err := rlp.NewStream(bytes.NewReader(data[1:]), 0).Decode(v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}

// Keccak256 hashes arbitrary byte strings with the project's configured
// hash function, used outside of the RLP envelope (e.g. Merkle trees and
// evidence digests).
func Keccak256(data ...[]byte) fcommon.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return fcommon.BytesToHash(h.Sum(nil))
}
