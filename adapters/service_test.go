package adapters

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/storage"
)

type fakeSubmitter struct {
	calls int
}

func (f *fakeSubmitter) SubmitBatch(ctx context.Context, events []fcommon.EventFingerprint, nonce fcommon.Nonce128) (fcommon.Hash, error) {
	f.calls++
	return fcommon.BytesToHash([]byte("submitted")), nil
}

type denyAuth struct{}

func (denyAuth) Authenticate(ctx context.Context) (Caller, error) {
	return Caller{}, errors.New("no credential")
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.Open(filepath.Join(dir, "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitEventBatchRejectsEmptyEvents(t *testing.T) {
	store := openTestStore(t)
	svc := New(store, storage.NewIdempotencyCache(time.Hour), nil, &fakeSubmitter{}, nil)
	_, err := svc.SubmitEventBatch(context.Background(), nil, fcommon.Nonce128{}, "key-1")
	require.Error(t, err)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, int(codeValidation), se.ErrorCode())
}

func TestSubmitEventBatchIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	submitter := &fakeSubmitter{}
	svc := New(store, storage.NewIdempotencyCache(time.Hour), nil, submitter, nil)

	events := []fcommon.EventFingerprint{fcommon.BytesToHash([]byte("e1"))}
	id1, err := svc.SubmitEventBatch(context.Background(), events, fcommon.Nonce128{}, "dup-key")
	require.NoError(t, err)
	id2, err := svc.SubmitEventBatch(context.Background(), events, fcommon.Nonce128{}, "dup-key")
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Equal(t, 1, submitter.calls, "second call with the same idempotency_key must not resubmit")
}

func TestAuthenticationFailureIsUnauthenticated(t *testing.T) {
	store := openTestStore(t)
	svc := New(store, storage.NewIdempotencyCache(time.Hour), denyAuth{}, &fakeSubmitter{}, nil)
	_, err := svc.GetBlock(context.Background(), 1)
	require.Error(t, err)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, int(codeUnauthenticated), se.ErrorCode())
}

func TestGetBlockNotFound(t *testing.T) {
	store := openTestStore(t)
	svc := New(store, storage.NewIdempotencyCache(time.Hour), nil, &fakeSubmitter{}, nil)
	_, err := svc.GetBlock(context.Background(), 999)
	require.Error(t, err)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, int(codeNotFound), se.ErrorCode())
}

func TestGetDayProofReturnsStoredProof(t *testing.T) {
	store := openTestStore(t)
	svc := New(store, storage.NewIdempotencyCache(time.Hour), nil, &fakeSubmitter{}, nil)

	proof := model.CanonicalDayProof{DayProof: model.DayProof{DayNumber: 1}}
	require.NoError(t, store.PutCanonicalDayProof(proof))

	got, err := svc.GetDayProof(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, model.DayNumber(1), got.DayProof.DayNumber)
}
