// Package detect builds and validates Byzantine-behavior evidence records
// and the blacklist/unblacklist ballots derived from them (spec §4.10),
// grounded on consensus/bft/vote_pool.go's equivocation check (two votes,
// same instance, different targets) generalized to the spec's five
// evidence kinds, and staking/state.go's read/write-one-thing function
// shape generalized from EVM account slots to the storage/ bbolt
// namespaces.
package detect

import (
	"fmt"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/wire"
)

// NewVDFTooFastEvidence builds an evidence record for a peer's DayProof
// arriving faster than the calibration window allows (spec §4.1, §4.10).
// measuredDelta/windowFloor are both durations in nanoseconds from the
// memory-resident anomaly clock; they are only compared here and are not
// stored in the returned record.
func NewVDFTooFastEvidence(peer fcommon.ValidatorID, proof model.DayProof, measuredDelta, windowFloor uint64) (model.Evidence, error) {
	if measuredDelta >= windowFloor {
		return model.Evidence{}, fmt.Errorf("detect: measured delta %d is not below window floor %d", measuredDelta, windowFloor)
	}
	detail, err := wire.Encode(proof)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("detect: encode day proof: %w", err)
	}
	return model.Evidence{
		Kind:      model.EvidenceVDFTooFast,
		Validator: peer,
		Digest:    wire.Keccak256(detail),
		Detail:    detail,
	}, nil
}

// NewVDFInvalidEvidence builds an evidence record for a DayProof whose
// claimed output does not verify against its seed/difficulty (spec §4.10).
func NewVDFInvalidEvidence(proof model.DayProof) (model.Evidence, error) {
	detail, err := wire.Encode(proof)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("detect: encode day proof: %w", err)
	}
	return model.Evidence{
		Kind:      model.EvidenceVDFInvalid,
		Validator: proof.Proposer,
		Digest:    wire.Keccak256(detail),
		Detail:    detail,
	}, nil
}

// NewSignatureInvalidEvidence builds an evidence record for a message
// carrying a signature that fails verification against the signer's known
// key (spec §4.10).
func NewSignatureInvalidEvidence(signer fcommon.ValidatorID, offendingMessage []byte) model.Evidence {
	return model.Evidence{
		Kind:      model.EvidenceSignatureInvalid,
		Validator: signer,
		Digest:    wire.Keccak256(offendingMessage),
		Detail:    offendingMessage,
	}
}

// NewEquivocationEvidence builds an evidence record from two distinct
// signed messages a validator sent for the same (epoch, proposer, phase)
// (spec §4.10: "two Propose/Ready messages with the same (epoch, proposer,
// phase) carrying distinct digests").
func NewEquivocationEvidence(offender fcommon.ValidatorID, messageA, messageB []byte) (model.Evidence, error) {
	digestA := wire.Keccak256(messageA)
	digestB := wire.Keccak256(messageB)
	if digestA == digestB {
		return model.Evidence{}, fmt.Errorf("detect: messages are identical, not an equivocation")
	}
	detail := append(append([]byte{}, messageA...), messageB...)
	return model.Evidence{
		Kind:      model.EvidenceEquivocation,
		Validator: offender,
		Digest:    wire.Keccak256(detail),
		Detail:    detail,
	}, nil
}

// NewReplayEvidence builds an evidence record for a message whose digest
// hit the seen-message cache (spec §4.10, §4.9).
func NewReplayEvidence(offender fcommon.ValidatorID, replayedMessage []byte) model.Evidence {
	return model.Evidence{
		Kind:      model.EvidenceReplay,
		Validator: offender,
		Digest:    wire.Keccak256(replayedMessage),
		Detail:    replayedMessage,
	}
}

// NewBallot builds a pending blacklist (or, with revoked=true, unblacklist)
// entry for validator, to be carried as an event through the normal
// consensus pipeline and upgraded to canonical once it receives a QC (spec
// §4.10: "a blacklist ballot is itself an event committed through the
// normal consensus pipeline"). The returned entry carries no QC yet; the
// orchestrator attaches one once 2f+1 active-set signers have signed it.
func NewBallot(validator fcommon.ValidatorID, reason model.BlacklistReason, evidenceDigest fcommon.Hash, effectiveDay model.DayNumber, revoked bool) model.BlacklistEntry {
	return model.BlacklistEntry{
		ValidatorID:    validator,
		ReasonCode:     reason,
		EvidenceDigest: evidenceDigest,
		EffectiveDay:   effectiveDay,
		Revoked:        revoked,
	}
}

// ValidateBallotQC checks that a ballot's QC was signed by at least 2f+1 of
// the validators active at the epoch the ballot was proposed in (spec
// §4.10: "both require 2f+1 signers from the active set"). activeN is the
// size of that active set.
func ValidateBallotQC(entry model.BlacklistEntry, activeN int) error {
	threshold := fcommon.QuorumThreshold(activeN)
	if entry.QuorumCertificate.SignerSet.Popcount() < threshold {
		return fmt.Errorf("detect: ballot QC has %d signers, need >= %d of %d active", entry.QuorumCertificate.SignerSet.Popcount(), threshold, activeN)
	}
	return nil
}
