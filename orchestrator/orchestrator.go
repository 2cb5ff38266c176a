// Package orchestrator drives one epoch's event batches to a committed
// Block (spec §4.6): canonical event ordering, merkle-root computation,
// threshold-signed QC assembly, and idempotent persistence, pipelined at
// most two epochs deep. Grounded on consensus/merger.go's small explicit
// state machine for a one-way protocol transition (PoW->PoS there, epoch
// progression here), re-deriving its current state from storage on
// restart rather than keeping it only in memory.
package orchestrator

import (
	"fmt"
	"sync"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/log"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/storage"
	"github.com/fediconductor/conductor/threshold"
	"github.com/fediconductor/conductor/wire"
)

// State is one step of the per-epoch pipeline (spec §4.6).
type State int

const (
	StateAwaitBatches State = iota
	StateRBCRunning
	StateBBARunning
	StateCommitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitBatches:
		return "AWAIT_BATCHES"
	case StateRBCRunning:
		return "RBC_RUNNING"
	case StateBBARunning:
		return "BBA_RUNNING"
	case StateCommitting:
		return "COMMITTING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ErrOutOfOrder is returned when an epoch's block would commit before its
// predecessor (spec §4.6 "must not commit epoch e+1 before epoch e").
var ErrOutOfOrder = fmt.Errorf("orchestrator: epoch would commit out of order")

// MaxInFlightEpochs bounds pipelining depth (spec §4.6: "at most two
// in-flight epochs").
const MaxInFlightEpochs = 2

// CanonicalOrder implements spec §4.6 step 5: decode each accepted
// proposer's delivered RBC payload back into an EventBatch, union their
// event fingerprints, and sort+dedup lexicographically. Deterministic
// across honest validators because every input payload is bit-identical
// (RBC's Merkle binding guarantees this).
func CanonicalOrder(payloads map[int][]byte) ([]fcommon.EventFingerprint, error) {
	var all []fcommon.Hash
	for i, payload := range payloads {
		var batch model.EventBatch
		if err := wire.Decode(payload, &batch); err != nil {
			return nil, fmt.Errorf("orchestrator: decode batch from proposer %d: %w", i, err)
		}
		all = append(all, batch.Events...)
	}
	return fcommon.SortUniqueHashes(all), nil
}

// merkleRoot folds a sorted hash list into a single root via pairwise
// Keccak-256, the same domain-separated shape as rbc.BuildMerkleTree but
// over event fingerprints rather than erasure-coded fragments.
func merkleRoot(hashes []fcommon.Hash) fcommon.Hash {
	if len(hashes) == 0 {
		return fcommon.Hash{}
	}
	level := append([]fcommon.Hash{}, hashes...)
	for len(level) > 1 {
		next := make([]fcommon.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, wire.Keccak256([]byte{0x01}, level[i].Bytes(), level[i+1].Bytes()))
			} else {
				next = append(next, wire.Keccak256([]byte{0x01}, level[i].Bytes(), level[i].Bytes()))
			}
		}
		level = next
	}
	return level[0]
}

// BuildMerkleRoot computes the committed-event-set merkle root of spec
// §4.6 step 6.
func BuildMerkleRoot(events []fcommon.EventFingerprint) fcommon.Hash {
	return merkleRoot(events)
}

// Orchestrator drives epochs to commit for one local validator (spec §4.6).
// It owns no transport; callers feed it delivered ACS results and collected
// QC shares, and it owns the canonical-ordering, QC-assembly, and
// idempotent-persistence logic.
type Orchestrator struct {
	mu sync.Mutex

	store     *storage.Store
	provider  *threshold.Provider
	threshold int
	n         int

	state        map[model.Epoch]State
	inFlightSet  map[model.Epoch]bool
}

// New constructs an Orchestrator over store, using provider for QC
// threshold-signing and a validator-set size of n (for quorum math).
func New(store *storage.Store, provider *threshold.Provider, n int) *Orchestrator {
	return &Orchestrator{
		store:       store,
		provider:    provider,
		threshold:   fcommon.QuorumThreshold(n),
		n:           n,
		state:       make(map[model.Epoch]State),
		inFlightSet: make(map[model.Epoch]bool),
	}
}

// State returns epoch's current pipeline state (spec §4.6), defaulting to
// AWAIT_BATCHES for an epoch never seen before.
func (o *Orchestrator) State(epoch model.Epoch) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state[epoch]
}

func (o *Orchestrator) setState(epoch model.Epoch, s State) {
	o.mu.Lock()
	o.state[epoch] = s
	o.mu.Unlock()
	log.Info("orchestrator epoch transition", "epoch", epoch, "state", s.String())
}

// BeginEpoch admits epoch into the pipeline if doing so would not exceed
// MaxInFlightEpochs concurrently-running epochs (spec §4.6 "pipeline at
// most two in-flight epochs").
func (o *Orchestrator) BeginEpoch(epoch model.Epoch) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.inFlightSet) >= MaxInFlightEpochs {
		return fmt.Errorf("orchestrator: %d epochs already in flight, refusing to start epoch %d", len(o.inFlightSet), epoch)
	}
	o.inFlightSet[epoch] = true
	o.state[epoch] = StateAwaitBatches
	return nil
}

func (o *Orchestrator) endEpoch(epoch model.Epoch) {
	o.mu.Lock()
	delete(o.inFlightSet, epoch)
	o.mu.Unlock()
}

// AdvanceToRBC transitions epoch from AWAIT_BATCHES to RBC_RUNNING once
// this validator's local EventBatch has been collected (spec §4.6 steps
// 1-3).
func (o *Orchestrator) AdvanceToRBC(epoch model.Epoch) {
	o.setState(epoch, StateRBCRunning)
}

// AdvanceToBBA transitions epoch to BBA_RUNNING once all RBC instances are
// underway (spec §4.6 step 4 start).
func (o *Orchestrator) AdvanceToBBA(epoch model.Epoch) {
	o.setState(epoch, StateBBARunning)
}

// AdvanceToCommitting transitions epoch to COMMITTING once ACS has
// decided its subset S (spec §4.6 steps 4 end -> 5).
func (o *Orchestrator) AdvanceToCommitting(epoch model.Epoch) {
	o.setState(epoch, StateCommitting)
}

// QCResult bundles a ready-to-sign block with the message it must be
// threshold-signed over.
type QCResult struct {
	Block             model.Block
	QuorumCertificate model.QuorumCertificate
}

// AssembleQC implements spec §4.6 step 6: it collects signature shares over
// the block's signing digest and, once at least the quorum threshold of
// distinct validators have signed, aggregates and verifies the QC. It does
// not persist anything; call CommitBlock with the result.
func (o *Orchestrator) AssembleQC(block model.Block, shares []threshold.SignatureShare) (QCResult, error) {
	digest, err := block.SigningDigest()
	if err != nil {
		return QCResult{}, fmt.Errorf("orchestrator: signing digest: %w", err)
	}
	dedup := map[int]threshold.SignatureShare{}
	for _, s := range shares {
		dedup[s.ValidatorIndex] = s
	}
	if len(dedup) < o.threshold {
		return QCResult{}, fmt.Errorf("orchestrator: %d shares, need >= %d", len(dedup), o.threshold)
	}
	agg, err := threshold.Aggregate(shares, o.threshold)
	if err != nil {
		return QCResult{}, fmt.Errorf("orchestrator: aggregate: %w", err)
	}
	if !threshold.VerifyAggregate(o.provider.GroupSigningKey, digest.Bytes(), agg) {
		return QCResult{}, fmt.Errorf("orchestrator: aggregate QC failed verification")
	}
	bitmap := fcommon.NewSignerBitmap(o.n)
	for idx := range dedup {
		bitmap.Set(idx - 1) // ValidatorIndex is 1-based; bitmap is 0-based
	}
	qc := model.QuorumCertificate{MessageDigest: digest, AggregateSignature: agg, SignerSet: bitmap}
	block.QuorumCertificate = qc
	return QCResult{Block: block, QuorumCertificate: qc}, nil
}

// CommitBlock implements spec §4.6 steps 7-8: persist the block write-once,
// keyed by epoch, enforcing that epoch-1 already committed (spec's
// ordering invariant) before this write proceeds. A second identical
// commit for the same epoch is idempotent; a conflicting one surfaces
// storage.ErrAlreadyCommitted unchanged.
func (o *Orchestrator) CommitBlock(block model.Block) error {
	o.setState(block.Epoch, StateCommitting)
	if block.Epoch > 1 {
		if _, err := o.store.GetBlock(block.Epoch - 1); err != nil {
			return fmt.Errorf("%w: epoch %d: predecessor not yet committed: %v", ErrOutOfOrder, block.Epoch, err)
		}
	}
	if err := o.store.PutBlock(block); err != nil {
		return err
	}
	o.setState(block.Epoch, StateDone)
	o.endEpoch(block.Epoch)
	return nil
}

// RecoverLastCommitted re-derives the last committed epoch from storage on
// restart (spec §9 "crash-restart recovery").
func (o *Orchestrator) RecoverLastCommitted() (model.Epoch, bool, error) {
	return o.store.LatestCommittedEpoch()
}
