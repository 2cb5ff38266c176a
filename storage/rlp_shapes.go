package storage

import (
	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
)

// These mirror types exist because model's domain types use fixed-width
// byte arrays and typed enums that rlp.Encode handles awkwardly directly;
// the ancestor's kvstore/codec.go takes the same approach of a distinct
// wire-shape struct per persisted record.

type rlpQC struct {
	MessageDigest      []byte
	AggregateSignature []byte
	SignerSet          []byte
}

func qcRLP(qc model.QuorumCertificate) rlpQC {
	return rlpQC{
		MessageDigest:      qc.MessageDigest.Bytes(),
		AggregateSignature: qc.AggregateSignature,
		SignerSet:          qc.SignerSet,
	}
}

func (r rlpQC) toQC() model.QuorumCertificate {
	return model.QuorumCertificate{
		MessageDigest:      fcommon.BytesToHash(r.MessageDigest),
		AggregateSignature: r.AggregateSignature,
		SignerSet:          fcommon.SignerBitmap(r.SignerSet),
	}
}

type rlpBlock struct {
	Epoch             uint64
	Events            [][]byte
	MerkleRoot        []byte
	ProposerSet       [][]byte
	QuorumCertificate rlpQC
}

func blockRLP(b model.Block) rlpBlock {
	events := make([][]byte, len(b.Events))
	for i, e := range b.Events {
		events[i] = e.Bytes()
	}
	proposers := make([][]byte, len(b.ProposerSet))
	for i, p := range b.ProposerSet {
		proposers[i] = p.Bytes()
	}
	return rlpBlock{
		Epoch:             b.Epoch,
		Events:            events,
		MerkleRoot:        b.MerkleRoot.Bytes(),
		ProposerSet:       proposers,
		QuorumCertificate: qcRLP(b.QuorumCertificate),
	}
}

func (r rlpBlock) toBlock() model.Block {
	events := make([]fcommon.EventFingerprint, len(r.Events))
	for i, e := range r.Events {
		events[i] = fcommon.BytesToHash(e)
	}
	proposers := make([]fcommon.ValidatorID, len(r.ProposerSet))
	for i, p := range r.ProposerSet {
		proposers[i] = fcommon.BytesToHash(p)
	}
	return model.Block{
		Epoch:             r.Epoch,
		Events:            events,
		MerkleRoot:        fcommon.BytesToHash(r.MerkleRoot),
		ProposerSet:       proposers,
		QuorumCertificate: r.QuorumCertificate.toQC(),
	}
}

type rlpDayProof struct {
	DayNumber         uint64
	Seed              []byte
	Difficulty        uint64
	Output            []byte
	Proposer          []byte
	ProposerSignature []byte
}

func dayProofRLPBody(p model.DayProof) rlpDayProof {
	return rlpDayProof{
		DayNumber:         p.DayNumber,
		Seed:              p.Seed.Bytes(),
		Difficulty:        p.Difficulty,
		Output:            p.Output.Bytes(),
		Proposer:          p.Proposer.Bytes(),
		ProposerSignature: p.ProposerSignature,
	}
}

func (r rlpDayProof) toDayProof() model.DayProof {
	return model.DayProof{
		DayNumber:         r.DayNumber,
		Seed:              fcommon.BytesToHash(r.Seed),
		Difficulty:        r.Difficulty,
		Output:            fcommon.BytesToHash(r.Output),
		Proposer:          fcommon.BytesToHash(r.Proposer),
		ProposerSignature: r.ProposerSignature,
	}
}

type rlpCanonicalDayProof struct {
	DayProof          rlpDayProof
	QuorumCertificate rlpQC
}

func dayProofRLP(p model.CanonicalDayProof) rlpCanonicalDayProof {
	return rlpCanonicalDayProof{
		DayProof:          dayProofRLPBody(p.DayProof),
		QuorumCertificate: qcRLP(p.QuorumCertificate),
	}
}

func (r rlpCanonicalDayProof) toCanonicalDayProof() model.CanonicalDayProof {
	return model.CanonicalDayProof{
		DayProof:          r.DayProof.toDayProof(),
		QuorumCertificate: r.QuorumCertificate.toQC(),
	}
}

type rlpBlacklistEntry struct {
	ValidatorID       []byte
	ReasonCode        uint8
	EvidenceDigest    []byte
	EffectiveDay      uint64
	QuorumCertificate rlpQC
	Revoked           bool
}

func blacklistRLP(e model.BlacklistEntry) rlpBlacklistEntry {
	return rlpBlacklistEntry{
		ValidatorID:       e.ValidatorID.Bytes(),
		ReasonCode:        uint8(e.ReasonCode),
		EvidenceDigest:    e.EvidenceDigest.Bytes(),
		EffectiveDay:      e.EffectiveDay,
		QuorumCertificate: qcRLP(e.QuorumCertificate),
		Revoked:           e.Revoked,
	}
}

func (r rlpBlacklistEntry) toBlacklistEntry() model.BlacklistEntry {
	return model.BlacklistEntry{
		ValidatorID:       fcommon.BytesToHash(r.ValidatorID),
		ReasonCode:        model.BlacklistReason(r.ReasonCode),
		EvidenceDigest:    fcommon.BytesToHash(r.EvidenceDigest),
		EffectiveDay:      r.EffectiveDay,
		QuorumCertificate: r.QuorumCertificate.toQC(),
		Revoked:           r.Revoked,
	}
}
