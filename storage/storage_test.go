package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBlock(epoch model.Epoch) model.Block {
	return model.Block{
		Epoch:      epoch,
		Events:     []fcommon.EventFingerprint{fcommon.BytesToHash([]byte("a")), fcommon.BytesToHash([]byte("b"))},
		MerkleRoot: fcommon.BytesToHash([]byte("root")),
		ProposerSet: []fcommon.ValidatorID{
			fcommon.BytesToHash([]byte("v1")),
			fcommon.BytesToHash([]byte("v2")),
		},
		QuorumCertificate: model.QuorumCertificate{
			MessageDigest:      fcommon.BytesToHash([]byte("digest")),
			AggregateSignature: []byte("sig"),
			SignerSet:          fcommon.NewSignerBitmap(4),
		},
	}
}

func TestPutGetBlockRoundTrip(t *testing.T) {
	s := openTestStore(t)
	b := sampleBlock(7)
	require.NoError(t, s.PutBlock(b))

	got, err := s.GetBlock(7)
	require.NoError(t, err)
	require.Equal(t, b.Epoch, got.Epoch)
	require.Equal(t, b.Events, got.Events)
	require.Equal(t, b.MerkleRoot, got.MerkleRoot)
}

func TestPutBlockWriteOnce(t *testing.T) {
	s := openTestStore(t)
	b := sampleBlock(7)
	require.NoError(t, s.PutBlock(b))
	require.NoError(t, s.PutBlock(b)) // identical retry is a no-op success

	other := sampleBlock(7)
	other.MerkleRoot = fcommon.BytesToHash([]byte("different"))
	require.ErrorIs(t, s.PutBlock(other), ErrAlreadyCommitted)
}

func TestGetBlockNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetBlock(99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestCommittedEpoch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutBlock(sampleBlock(1)))
	require.NoError(t, s.PutBlock(sampleBlock(5)))
	require.NoError(t, s.PutBlock(sampleBlock(3)))

	latest, found, err := s.LatestCommittedEpoch()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.Epoch(5), latest)
}

func TestGenesisSeedWriteOnce(t *testing.T) {
	s := openTestStore(t)
	seed := fcommon.BytesToHash([]byte("genesis"))
	require.NoError(t, s.PutGenesisSeed(seed))
	require.NoError(t, s.PutGenesisSeed(seed))
	require.ErrorIs(t, s.PutGenesisSeed(fcommon.BytesToHash([]byte("other"))), ErrConflict)

	got, err := s.GenesisSeed()
	require.NoError(t, err)
	require.Equal(t, seed, got)
}

func TestSeenMessageCacheRejectsReplay(t *testing.T) {
	cache := NewSeenMessageCache(time.Hour)
	sender := fcommon.BytesToHash([]byte("sender"))
	digest := fcommon.BytesToHash([]byte("digest"))

	require.False(t, cache.CheckAndMark(sender, digest))
	require.True(t, cache.CheckAndMark(sender, digest))
}

func TestIdempotencyCacheReturnsOriginalBatchID(t *testing.T) {
	cache := NewIdempotencyCache(time.Hour)
	first := cache.GetOrInsert("key-1", fcommon.BytesToHash([]byte("batch-a")))
	second := cache.GetOrInsert("key-1", fcommon.BytesToHash([]byte("batch-b")))
	require.Equal(t, first, second)
}
