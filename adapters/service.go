// Package adapters implements the transport-agnostic core-side logic
// behind the upward boundary of spec §6 ("submit_event_batch"/"get_block"/
// "get_day_proof"/"get_consensus_status"), grounded on
// internal/tosapi/api_v2.go's typed-error-with-code calling convention and
// tos/api_backend.go's backend-lookup method shape (validate -> look up ->
// return typed result/error). The actual RPC/REST transport is explicitly
// out of scope (spec §1); this package is what such a transport calls into.
package adapters

import (
	"context"
	"crypto/rand"
	"fmt"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/storage"
	"github.com/fediconductor/conductor/wire"
)

// errorCode enumerates spec §7's error kinds as stable application codes,
// the same shape as the ancestor's v2APIError (code + message + data).
type errorCode int

const (
	codeValidation errorCode = iota + 1
	codeUnauthenticated
	codePermissionDenied
	codeNotFound
	codeRejected
)

// ServiceError is the typed error surfaced across the adapter boundary
// (spec §7 "Error kinds (not types)" — these are the stable application
// codes an upward caller switches on).
type ServiceError struct {
	code    errorCode
	message string
	data    interface{}
}

func (e *ServiceError) Error() string          { return e.message }
func (e *ServiceError) ErrorCode() int         { return int(e.code) }
func (e *ServiceError) ErrorData() interface{} { return e.data }

func newValidationError(reason string) error {
	return &ServiceError{code: codeValidation, message: "validation error", data: reason}
}

func newUnauthenticatedError() error {
	return &ServiceError{code: codeUnauthenticated, message: "unauthenticated"}
}

func newPermissionDeniedError() error {
	return &ServiceError{code: codePermissionDenied, message: "permission denied"}
}

func newNotFoundError() error {
	return &ServiceError{code: codeNotFound, message: "not found"}
}

func newRejectedError(reason string) error {
	return &ServiceError{code: codeRejected, message: "rejected", data: reason}
}

// Caller identifies the authenticated principal behind an upward call
// (spec §6: "mutual authentication with a configured trust anchor").
type Caller struct {
	ID          string
	Authorized  bool
}

// Authenticator validates the mutual-authentication credential already
// extracted by the transport layer (out of scope here, per spec §1) into
// a Caller.
type Authenticator interface {
	Authenticate(ctx context.Context) (Caller, error)
}

// ConsensusStatus mirrors spec §6's get_consensus_status response shape.
type ConsensusStatus struct {
	Pending bool
	Committed bool
	Failed    bool
	Epoch       model.Epoch
	BlockDigest fcommon.Hash
	FailReason  string
}

// Submitter hands a validated batch of event fingerprints to the
// consensus core for dissemination; adapters does not itself run RBC.
type Submitter interface {
	SubmitBatch(ctx context.Context, events []fcommon.EventFingerprint, nonce fcommon.Nonce128) (batchID fcommon.Hash, err error)
}

// StatusTracker answers get_consensus_status for a previously-submitted
// batch_id.
type StatusTracker interface {
	Status(batchID fcommon.Hash) (ConsensusStatus, bool)
}

// Service implements the four upward operations of spec §6.
type Service struct {
	store  *storage.Store
	idem   *storage.IdempotencyCache
	auth   Authenticator
	submit Submitter
	status StatusTracker
}

// New constructs a Service. idem is the caller's 24h idempotency-key
// cache (spec §6 "idempotent per idempotency_key within a 24-hour TTL");
// it is volatile and lives outside storage's canonical namespaces (spec
// §4.9, see storage/cache.go).
func New(store *storage.Store, idem *storage.IdempotencyCache, auth Authenticator, submit Submitter, status StatusTracker) *Service {
	return &Service{store: store, idem: idem, auth: auth, submit: submit, status: status}
}

func (s *Service) authenticate(ctx context.Context) (Caller, error) {
	if s.auth == nil {
		return Caller{Authorized: true}, nil
	}
	caller, err := s.auth.Authenticate(ctx)
	if err != nil {
		return Caller{}, newUnauthenticatedError()
	}
	if !caller.Authorized {
		return Caller{}, newPermissionDeniedError()
	}
	return caller, nil
}

// SubmitEventBatch implements spec §6's submit_event_batch, including
// idempotent replay of a repeated idempotency_key (spec test S6: "both
// calls return the same batch_id; exactly one event fingerprint set
// enters consensus").
func (s *Service) SubmitEventBatch(ctx context.Context, events []fcommon.EventFingerprint, nonce fcommon.Nonce128, idempotencyKey string) (fcommon.Hash, error) {
	if _, err := s.authenticate(ctx); err != nil {
		return fcommon.Hash{}, err
	}
	if len(events) == 0 {
		return fcommon.Hash{}, newValidationError("event batch must be non-empty")
	}
	if idempotencyKey == "" {
		return fcommon.Hash{}, newValidationError("idempotency_key is required")
	}

	if s.submit == nil {
		return fcommon.Hash{}, newRejectedError("no submission path configured")
	}

	// Every call proposes its own random candidate batch_id, so
	// GetOrInsert's result tells us, without a second round trip, whether
	// this call is the one that wins the race for a fresh key: only the
	// winner gets its own candidate back (spec §6, §8 property 6: repeated
	// idempotency_key within TTL yields the original batch_id).
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fcommon.Hash{}, newRejectedError(fmt.Sprintf("batch id: %v", err))
	}
	candidate := wire.Keccak256([]byte(idempotencyKey), salt[:])
	batchID := s.idem.GetOrInsert(idempotencyKey, candidate)
	if batchID == candidate {
		if _, err := s.submit.SubmitBatch(ctx, events, nonce); err != nil {
			return fcommon.Hash{}, newRejectedError(fmt.Sprintf("submit: %v", err))
		}
	}
	return batchID, nil
}

// GetBlock implements spec §6's get_block.
func (s *Service) GetBlock(ctx context.Context, epoch model.Epoch) (model.Block, error) {
	if _, err := s.authenticate(ctx); err != nil {
		return model.Block{}, err
	}
	b, err := s.store.GetBlock(epoch)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.Block{}, newNotFoundError()
		}
		return model.Block{}, err
	}
	return b, nil
}

// GetDayProof implements spec §6's get_day_proof.
func (s *Service) GetDayProof(ctx context.Context, day model.DayNumber) (model.CanonicalDayProof, error) {
	if _, err := s.authenticate(ctx); err != nil {
		return model.CanonicalDayProof{}, err
	}
	p, err := s.store.GetCanonicalDayProof(day)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.CanonicalDayProof{}, newNotFoundError()
		}
		return model.CanonicalDayProof{}, err
	}
	return p, nil
}

// GetConsensusStatus implements spec §6's get_consensus_status.
func (s *Service) GetConsensusStatus(ctx context.Context, batchID fcommon.Hash) (ConsensusStatus, error) {
	if _, err := s.authenticate(ctx); err != nil {
		return ConsensusStatus{}, err
	}
	if s.status == nil {
		return ConsensusStatus{}, newNotFoundError()
	}
	status, ok := s.status.Status(batchID)
	if !ok {
		return ConsensusStatus{}, newNotFoundError()
	}
	return status, nil
}
