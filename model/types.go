// Package model defines the persisted and wire data types of spec §3: event
// batches, day proofs, quorum certificates, blocks, and blacklist entries.
// All temporal ordering is expressed in DayNumber/Epoch; no field here ever
// carries a wall-clock timestamp (spec §1, invariant checked in
// digest_test.go).
package model

import (
	fcommon "github.com/fediconductor/conductor/common"
)

// Epoch is the consensus instance number; equal to the day number the
// events in it were ordered during.
type Epoch = uint64

// DayNumber is the monotonically non-decreasing day counter.
type DayNumber = uint64

// EventBatch is a proposer's disseminated set of event fingerprints for one
// epoch (spec §3).
type EventBatch struct {
	Proposer   fcommon.ValidatorID
	Epoch      Epoch
	Events     []fcommon.EventFingerprint
	BatchNonce fcommon.Nonce128
}

// Digest fields used for RLP encoding need byte slices, not fixed arrays of
// arrays; rlpEventBatch is the wire-shape mirror of EventBatch.
type rlpEventBatch struct {
	Proposer   []byte
	Epoch      uint64
	Events     [][]byte
	BatchNonce []byte
}

func (b EventBatch) toRLP() rlpEventBatch {
	events := make([][]byte, len(b.Events))
	for i, e := range b.Events {
		events[i] = e.Bytes()
	}
	return rlpEventBatch{
		Proposer:   b.Proposer.Bytes(),
		Epoch:      b.Epoch,
		Events:     events,
		BatchNonce: b.BatchNonce.Bytes(),
	}
}

// DayProof is a single validator's claim about day d+1's VDF output
// (spec §3).
type DayProof struct {
	DayNumber          DayNumber
	Seed               fcommon.Hash
	Difficulty         uint64
	Output             fcommon.Hash
	Proposer           fcommon.ValidatorID
	ProposerSignature  []byte
}

// QuorumCertificate is a threshold-aggregated endorsement of a message
// digest by at least 2f+1 validators (spec §3).
type QuorumCertificate struct {
	MessageDigest      fcommon.Hash
	AggregateSignature []byte
	SignerSet          fcommon.SignerBitmap
}

// CanonicalDayProof is a DayProof that has received a QC.
type CanonicalDayProof struct {
	DayProof          DayProof
	QuorumCertificate QuorumCertificate
}

// Block is a finalized, immutable ordering of events for one epoch
// (spec §3).
type Block struct {
	Epoch             Epoch
	Events            []fcommon.EventFingerprint
	MerkleRoot        fcommon.Hash
	ProposerSet       []fcommon.ValidatorID
	QuorumCertificate QuorumCertificate
}

// EvidenceKind enumerates the Byzantine-behavior categories of spec §4.10.
type EvidenceKind uint8

const (
	EvidenceVDFTooFast EvidenceKind = iota + 1
	EvidenceVDFInvalid
	EvidenceSignatureInvalid
	EvidenceEquivocation
	EvidenceReplay
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceVDFTooFast:
		return "VDF_TOO_FAST"
	case EvidenceVDFInvalid:
		return "VDF_INVALID"
	case EvidenceSignatureInvalid:
		return "SIGNATURE_INVALID"
	case EvidenceEquivocation:
		return "EQUIVOCATION"
	case EvidenceReplay:
		return "REPLAY"
	default:
		return "UNKNOWN"
	}
}

// Evidence is a self-contained, cryptographically verifiable record of
// observed misbehavior (spec §4.10).
type Evidence struct {
	Kind      EvidenceKind
	Validator fcommon.ValidatorID
	Digest    fcommon.Hash // hash of the offending signed message(s)
	Detail    []byte       // the offending signed message(s), concatenated
}

// BlacklistReason mirrors EvidenceKind but is recorded against the entry
// that resulted from a ballot, independent of how many evidence records fed
// it.
type BlacklistReason = EvidenceKind

// BlacklistEntry excludes a validator from the active set starting at
// EffectiveDay (spec §3, §4.10).
type BlacklistEntry struct {
	ValidatorID       fcommon.ValidatorID
	ReasonCode        BlacklistReason
	EvidenceDigest    fcommon.Hash
	EffectiveDay      DayNumber
	QuorumCertificate QuorumCertificate
	Revoked           bool // set by a matching unblacklist ballot
}

// MembershipChangeKind distinguishes join/leave ballots (spec §4.8).
type MembershipChangeKind uint8

const (
	MembershipJoin MembershipChangeKind = iota + 1
	MembershipLeave
)

// MembershipChange is a committed special event altering the active
// validator set starting at EffectiveDay.
type MembershipChange struct {
	Kind         MembershipChangeKind
	ValidatorID  fcommon.ValidatorID
	PublicKey    []byte
	EffectiveDay DayNumber
}
