package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/storage"
	"github.com/fediconductor/conductor/threshold"
	"github.com/fediconductor/conductor/wire"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.Open(filepath.Join(dir, "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestProviders(t *testing.T, n, threshold_ int) []*threshold.Provider {
	t.Helper()
	signing, err := threshold.RunDKG(n, threshold_)
	require.NoError(t, err)
	decryption, err := threshold.RunDKG(n, threshold_)
	require.NoError(t, err)
	out := make([]*threshold.Provider, n)
	for i := 1; i <= n; i++ {
		p, err := threshold.NewProvider(i, threshold_, signing, decryption)
		require.NoError(t, err)
		out[i-1] = p
	}
	return out
}

func TestCanonicalOrderDedupsAndSorts(t *testing.T) {
	batchA := model.EventBatch{Proposer: fcommon.BytesToHash([]byte{1}), Epoch: 1, Events: []fcommon.Hash{
		fcommon.BytesToHash([]byte{9}), fcommon.BytesToHash([]byte{3}),
	}}
	batchB := model.EventBatch{Proposer: fcommon.BytesToHash([]byte{2}), Epoch: 1, Events: []fcommon.Hash{
		fcommon.BytesToHash([]byte{3}), fcommon.BytesToHash([]byte{1}),
	}}
	encA, err := wire.Encode(batchA)
	require.NoError(t, err)
	encB, err := wire.Encode(batchB)
	require.NoError(t, err)

	events, err := CanonicalOrder(map[int][]byte{0: encA, 1: encB})
	require.NoError(t, err)
	require.Equal(t, []fcommon.Hash{
		fcommon.BytesToHash([]byte{1}),
		fcommon.BytesToHash([]byte{3}),
		fcommon.BytesToHash([]byte{9}),
	}, events)
}

func TestBuildMerkleRootDeterministic(t *testing.T) {
	events := []fcommon.Hash{fcommon.BytesToHash([]byte{1}), fcommon.BytesToHash([]byte{2})}
	r1 := BuildMerkleRoot(events)
	r2 := BuildMerkleRoot(events)
	require.Equal(t, r1, r2)
	require.NotEqual(t, fcommon.Hash{}, r1)
}

func TestAssembleQCAndCommitBlock(t *testing.T) {
	n := 4
	threshold_ := fcommon.QuorumThreshold(n)
	providers := newTestProviders(t, n, threshold_)
	store := openTestStore(t)

	orch := New(store, providers[0], n)
	require.NoError(t, orch.BeginEpoch(1))

	events := []fcommon.Hash{fcommon.BytesToHash([]byte{1})}
	block := model.Block{
		Epoch:      1,
		Events:     events,
		MerkleRoot: BuildMerkleRoot(events),
	}
	digest, err := block.SigningDigest()
	require.NoError(t, err)

	shares := make([]threshold.SignatureShare, 0, threshold_)
	for i := 0; i < threshold_; i++ {
		s, err := providers[i].SignShare(digest.Bytes())
		require.NoError(t, err)
		shares = append(shares, s)
	}

	result, err := orch.AssembleQC(block, shares)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.QuorumCertificate.SignerSet.Popcount(), threshold_)

	require.NoError(t, orch.CommitBlock(result.Block))
	require.Equal(t, StateDone, orch.State(1))

	got, err := store.GetBlock(1)
	require.NoError(t, err)
	require.Equal(t, result.Block.Epoch, got.Epoch)

	// Second commit for same epoch is idempotent.
	require.NoError(t, orch.CommitBlock(result.Block))
}

func TestCommitBlockRejectsOutOfOrder(t *testing.T) {
	n := 4
	threshold_ := fcommon.QuorumThreshold(n)
	providers := newTestProviders(t, n, threshold_)
	store := openTestStore(t)
	orch := New(store, providers[0], n)

	block := model.Block{Epoch: 2, Events: nil, MerkleRoot: fcommon.Hash{}}
	err := orch.CommitBlock(block)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestBeginEpochRespectsPipelineDepth(t *testing.T) {
	store := openTestStore(t)
	providers := newTestProviders(t, 4, 3)
	orch := New(store, providers[0], 4)

	require.NoError(t, orch.BeginEpoch(1))
	require.NoError(t, orch.BeginEpoch(2))
	require.Error(t, orch.BeginEpoch(3))
}
