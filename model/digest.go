package model

import (
	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/wire"
)

// Digest returns the canonical batch_digest used throughout RBC (spec §4.3).
func (b EventBatch) Digest() (fcommon.Hash, error) {
	return wire.Digest(b.toRLP())
}

type rlpDayProofBody struct {
	DayNumber  uint64
	Seed       []byte
	Difficulty uint64
	Output     []byte
	Proposer   []byte
}

// SigningDigest returns the message a validator signs when broadcasting a
// DayProof — everything except the signature itself.
func (p DayProof) SigningDigest() (fcommon.Hash, error) {
	return wire.Digest(rlpDayProofBody{
		DayNumber:  p.DayNumber,
		Seed:       p.Seed.Bytes(),
		Difficulty: p.Difficulty,
		Output:     p.Output.Bytes(),
		Proposer:   p.Proposer.Bytes(),
	})
}

type rlpBlockBody struct {
	Epoch       uint64
	Events      [][]byte
	MerkleRoot  []byte
	ProposerSet [][]byte
}

// SigningDigest returns the message threshold-signed to produce the block's
// quorum certificate (spec §4.6 step 6).
func (b Block) SigningDigest() (fcommon.Hash, error) {
	events := make([][]byte, len(b.Events))
	for i, e := range b.Events {
		events[i] = e.Bytes()
	}
	proposers := make([][]byte, len(b.ProposerSet))
	for i, p := range b.ProposerSet {
		proposers[i] = p.Bytes()
	}
	return wire.Digest(rlpBlockBody{
		Epoch:       b.Epoch,
		Events:      events,
		MerkleRoot:  b.MerkleRoot.Bytes(),
		ProposerSet: proposers,
	})
}
