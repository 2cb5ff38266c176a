package detect

import (
	"testing"

	"github.com/stretchr/testify/require"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
)

func TestNewVDFTooFastEvidenceRejectsNonAnomalousDelta(t *testing.T) {
	proof := model.DayProof{DayNumber: 1, Proposer: fcommon.BytesToHash([]byte{1})}
	_, err := NewVDFTooFastEvidence(fcommon.BytesToHash([]byte{1}), proof, 900, 800)
	require.Error(t, err)

	ev, err := NewVDFTooFastEvidence(fcommon.BytesToHash([]byte{1}), proof, 10, 800)
	require.NoError(t, err)
	require.Equal(t, model.EvidenceVDFTooFast, ev.Kind)
}

func TestNewEquivocationEvidenceRejectsIdenticalMessages(t *testing.T) {
	offender := fcommon.BytesToHash([]byte{2})
	_, err := NewEquivocationEvidence(offender, []byte("same"), []byte("same"))
	require.Error(t, err)

	ev, err := NewEquivocationEvidence(offender, []byte("root-a"), []byte("root-b"))
	require.NoError(t, err)
	require.Equal(t, model.EvidenceEquivocation, ev.Kind)
	require.Equal(t, offender, ev.Validator)
}

func TestValidateBallotQCRequiresQuorum(t *testing.T) {
	n := 4
	bitmap := fcommon.NewSignerBitmap(n)
	bitmap.Set(0)
	bitmap.Set(1)
	entry := model.BlacklistEntry{
		QuorumCertificate: model.QuorumCertificate{SignerSet: bitmap},
	}
	require.Error(t, ValidateBallotQC(entry, n)) // 2 signers, need 3

	bitmap.Set(2)
	entry.QuorumCertificate.SignerSet = bitmap
	require.NoError(t, ValidateBallotQC(entry, n))
}

func TestNewBallotBuildsUnblacklistEntry(t *testing.T) {
	v := fcommon.BytesToHash([]byte{3})
	entry := NewBallot(v, model.EvidenceVDFTooFast, fcommon.Hash{}, 10, true)
	require.True(t, entry.Revoked)
	require.Equal(t, model.DayNumber(10), entry.EffectiveDay)
}
