// Package common defines the fixed-width identifier types shared by every
// Conductor package: validator identities, event fingerprints, and the
// generic 32-byte hash they are built from.
package common

import (
	"encoding/hex"
	"fmt"
	"sort"
)

// HashLength is the width of every hash-derived identifier in the system.
const HashLength = 32

// Hash is a 256-bit content-addressed identifier.
type Hash [HashLength]byte

// BytesToHash keeps the last HashLength bytes of b (cropping from the left)
// or zero-left-pads b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromHex parses a 0x-prefixed or bare hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("common: invalid hex hash: %w", err)
	}
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("common: hash must be %d bytes, got %d", HashLength, len(b))
	}
	return BytesToHash(b), nil
}

// ValidatorID identifies a validator: the hash of its long-lived public key.
type ValidatorID = Hash

// EventFingerprint identifies an external federation event by the hash of
// its payload. Event payloads themselves never enter the consensus core.
type EventFingerprint = Hash

// Nonce128 is a 128-bit batch nonce.
type Nonce128 [16]byte

func (n Nonce128) Bytes() []byte { return n[:] }

// SortHashes sorts hashes lexicographically, in place, and returns them for
// convenience. This is the canonical ordering used for committed event sets
// (spec §4.6 step 5).
func SortHashes(hs []Hash) []Hash {
	sort.Slice(hs, func(i, j int) bool {
		return lessHash(hs[i], hs[j])
	})
	return hs
}

func lessHash(a, b Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// DedupSortedHashes removes adjacent duplicates from an already-sorted slice.
func DedupSortedHashes(hs []Hash) []Hash {
	if len(hs) == 0 {
		return hs
	}
	out := hs[:1]
	for _, h := range hs[1:] {
		if h != out[len(out)-1] {
			out = append(out, h)
		}
	}
	return out
}

// SortUniqueHashes sorts and deduplicates a slice of hashes — the canonical
// ordering operation used to build a committed event set from the union of
// several proposers' batches (spec §4.6 step 5).
func SortUniqueHashes(hs []Hash) []Hash {
	cp := make([]Hash, len(hs))
	copy(cp, hs)
	SortHashes(cp)
	return DedupSortedHashes(cp)
}

// SortValidatorIDs sorts validator identifiers in ascending byte order, the
// tie-break used for signer-bitmap layout (spec §9 Open Question, resolved
// in DESIGN.md).
func SortValidatorIDs(ids []ValidatorID) []ValidatorID {
	sort.Slice(ids, func(i, j int) bool { return lessHash(ids[i], ids[j]) })
	return ids
}
