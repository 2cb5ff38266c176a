package rbc

import (
	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/wire"
)

// MerkleProof binds one fragment to a merkle_root (spec §4.3 Propose/Echo
// payloads). Siblings are ordered leaf-to-root.
type MerkleProof struct {
	Index    int
	Siblings []fcommon.Hash
}

// wireDigest hashes a fully-reconstructed RBC payload (the proposer's
// wire.Encode'd EventBatch bytes) the same way model.EventBatch.Digest does,
// so a delivered payload can be checked against the batch_digest carried in
// Propose/Echo/Ready (spec §4.3 phase 4).
func wireDigest(payload []byte) (fcommon.Hash, error) {
	return wire.Keccak256(payload), nil
}

func leafHash(fragment []byte) fcommon.Hash {
	return wire.Keccak256([]byte{0x00}, fragment)
}

func nodeHash(left, right fcommon.Hash) fcommon.Hash {
	return wire.Keccak256([]byte{0x01}, left.Bytes(), right.Bytes())
}

// BuildMerkleTree returns the root and per-leaf proofs for a set of
// fragments, used by the proposer to accompany each fragment it sends
// (spec §4.3 Propose).
func BuildMerkleTree(fragments [][]byte) (fcommon.Hash, []MerkleProof) {
	n := len(fragments)
	level := make([]fcommon.Hash, n)
	for i, f := range fragments {
		level[i] = leafHash(f)
	}
	// levels[d][i] holds the hash at depth d (0 = leaves).
	levels := [][]fcommon.Hash{level}
	for len(level) > 1 {
		next := make([]fcommon.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, nodeHash(level[i], level[i+1]))
			} else {
				next = append(next, nodeHash(level[i], level[i]))
			}
		}
		levels = append(levels, next)
		level = next
	}

	proofs := make([]MerkleProof, n)
	for i := 0; i < n; i++ {
		idx := i
		var siblings []fcommon.Hash
		for d := 0; d < len(levels)-1; d++ {
			layer := levels[d]
			var sibIdx int
			if idx%2 == 0 {
				sibIdx = idx + 1
			} else {
				sibIdx = idx - 1
			}
			if sibIdx >= len(layer) {
				sibIdx = idx
			}
			siblings = append(siblings, layer[sibIdx])
			idx /= 2
		}
		proofs[i] = MerkleProof{Index: i, Siblings: siblings}
	}
	root := levels[len(levels)-1][0]
	return root, proofs
}

// VerifyMerkleProof checks that fragment at index proof.Index is bound to
// root, rejecting mismatched fragment/root pairs (spec §4.3 failure mode
// "Mismatched fragment versus Merkle root").
func VerifyMerkleProof(root fcommon.Hash, fragment []byte, proof MerkleProof) bool {
	h := leafHash(fragment)
	idx := proof.Index
	for _, sib := range proof.Siblings {
		if idx%2 == 0 {
			h = nodeHash(h, sib)
		} else {
			h = nodeHash(sib, h)
		}
		idx /= 2
	}
	return h == root
}
