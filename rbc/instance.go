// Package rbc implements one erasure-coded reliable-broadcast instance per
// (epoch, proposer) (spec §4.3): Propose/Echo/Ready/Deliver, grounded on the
// ancestor's consensus/bft/vote_pool.go map-of-maps tallying pattern
// generalized from single-block votes to per-digest Echo/Ready counts.
package rbc

import (
	"fmt"
	"sync"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
)

// ErrEquivocation is returned when a sender signs two distinct digests for
// the same (epoch, proposer, phase) (spec §4.10 EQUIVOCATION).
var ErrEquivocation = fmt.Errorf("rbc: equivocation detected")

// Propose is the proposer's initial dissemination to one recipient (spec
// §4.3 phase 1): one striped fragment plus its Merkle proof against the
// batch's root.
type Propose struct {
	Epoch        model.Epoch
	Proposer     fcommon.ValidatorID
	BatchDigest  fcommon.Hash
	MerkleRoot   fcommon.Hash
	Fragment     []byte
	FragmentIdx  int
	MerkleProof  MerkleProof
}

// Echo is multicast by a validator on receipt of a valid Propose (spec §4.3
// phase 2).
type Echo struct {
	Epoch       model.Epoch
	Proposer    fcommon.ValidatorID
	Sender      fcommon.ValidatorID
	BatchDigest fcommon.Hash
	Fragment    []byte
	FragmentIdx int
	MerkleProof MerkleProof
}

// Ready is multicast once enough matching Echos or Readys exist (spec §4.3
// phase 3).
type Ready struct {
	Epoch       model.Epoch
	Proposer    fcommon.ValidatorID
	Sender      fcommon.ValidatorID
	BatchDigest fcommon.Hash
}

// Instance runs one (epoch, proposer) RBC to Deliver or never-deliver (spec
// §4.3). N/K are derived from the active validator-set size at epoch start.
type Instance struct {
	mu sync.Mutex

	epoch    model.Epoch
	proposer fcommon.ValidatorID
	n, k, f  int

	merkleRoot  fcommon.Hash
	batchDigest fcommon.Hash
	haveRoot    bool

	fragments map[int][]byte // validated fragments this node holds, by index

	echoSenders  map[fcommon.ValidatorID]fcommon.Hash // sender -> digest echoed
	echoCounts   map[fcommon.Hash]int
	readySenders map[fcommon.ValidatorID]fcommon.Hash
	readyCounts  map[fcommon.Hash]int

	sentReady  bool
	delivered  bool
	deliveredPayload []byte

	onSendReady func(Ready)
	onDeliver   func([]byte)
}

// NewInstance constructs an Instance for (epoch, proposer) over an n-sized
// active validator set. onSendReady/onDeliver are called synchronously,
// after the instance's internal lock has been released, whenever this node
// should multicast a Ready or has delivered.
func NewInstance(epoch model.Epoch, proposer fcommon.ValidatorID, n int, onSendReady func(Ready), onDeliver func([]byte)) *Instance {
	f := fcommon.MaxFaulty(n)
	return &Instance{
		epoch:        epoch,
		proposer:     proposer,
		n:            n,
		k:            n - 2*f,
		f:            f,
		fragments:    make(map[int][]byte),
		echoSenders:  make(map[fcommon.ValidatorID]fcommon.Hash),
		echoCounts:   make(map[fcommon.Hash]int),
		readySenders: make(map[fcommon.ValidatorID]fcommon.Hash),
		readyCounts:  make(map[fcommon.Hash]int),
		onSendReady:  onSendReady,
		onDeliver:    onDeliver,
	}
}

// Delivered reports whether this instance has delivered, and the payload if
// so.
func (inst *Instance) Delivered() ([]byte, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.deliveredPayload, inst.delivered
}

// HandlePropose validates an incoming Propose and, if valid, records the
// fragment and returns the Echo this node should multicast (spec §4.3
// phase 1->2).
func (inst *Instance) HandlePropose(p Propose) (Echo, bool, error) {
	if !VerifyMerkleProof(p.MerkleRoot, p.Fragment, p.MerkleProof) {
		return Echo{}, false, fmt.Errorf("rbc: %w: propose fragment/root mismatch", ErrEquivocation)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.haveRoot && inst.merkleRoot != p.MerkleRoot {
		return Echo{}, false, fmt.Errorf("%w: proposer sent conflicting merkle roots", ErrEquivocation)
	}
	inst.haveRoot = true
	inst.merkleRoot = p.MerkleRoot
	inst.batchDigest = p.BatchDigest
	inst.fragments[p.FragmentIdx] = p.Fragment
	return Echo{
		Epoch:       p.Epoch,
		Proposer:    p.Proposer,
		BatchDigest: p.BatchDigest,
		Fragment:    p.Fragment,
		FragmentIdx: p.FragmentIdx,
		MerkleProof: p.MerkleProof,
	}, true, nil
}

// HandleEcho records an Echo, checking equivocation (duplicate Echo from
// the same sender with the same digest is a no-op; a different digest is
// evidence), and triggers Ready once 2f+1 matching Echos accumulate (spec
// §4.3 phase 2->3).
func (inst *Instance) HandleEcho(sender fcommon.ValidatorID, e Echo) error {
	if !VerifyMerkleProof(inst.merkleRootSnapshot(), e.Fragment, e.MerkleProof) && inst.haveRoot {
		return fmt.Errorf("rbc: %w: echo fragment/root mismatch", ErrEquivocation)
	}

	inst.mu.Lock()
	if prev, ok := inst.echoSenders[sender]; ok {
		inst.mu.Unlock()
		if prev != e.BatchDigest {
			return fmt.Errorf("%w: sender echoed two digests", ErrEquivocation)
		}
		return nil // duplicate, idempotent
	}
	inst.echoSenders[sender] = e.BatchDigest
	inst.echoCounts[e.BatchDigest]++
	inst.fragments[e.FragmentIdx] = e.Fragment
	count := inst.echoCounts[e.BatchDigest]
	threshold := fcommon.QuorumThreshold(inst.n)
	shouldReady := count == threshold && !inst.sentReady
	if shouldReady {
		inst.sentReady = true
	}
	digest := e.BatchDigest
	inst.mu.Unlock()

	if shouldReady && inst.onSendReady != nil {
		inst.onSendReady(Ready{Epoch: inst.epoch, Proposer: inst.proposer, BatchDigest: digest})
	}
	return nil
}

func (inst *Instance) merkleRootSnapshot() fcommon.Hash {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.merkleRoot
}

// HandleReady records a Ready, triggers a Ready rebroadcast once f+1 matching
// Readys accumulate (spec §4.3 phase 3 "or f+1 matching Readys"), and
// triggers Deliver once 2f+1 Readys plus >= k fragments are held (spec §4.3
// phase 4).
func (inst *Instance) HandleReady(sender fcommon.ValidatorID, r Ready) error {
	inst.mu.Lock()
	if prev, ok := inst.readySenders[sender]; ok {
		inst.mu.Unlock()
		if prev != r.BatchDigest {
			return fmt.Errorf("%w: sender sent two Ready digests", ErrEquivocation)
		}
		return nil
	}
	inst.readySenders[sender] = r.BatchDigest
	inst.readyCounts[r.BatchDigest]++
	count := inst.readyCounts[r.BatchDigest]

	weakThreshold := fcommon.WeakThreshold(inst.n)
	quorum := fcommon.QuorumThreshold(inst.n)

	shouldReady := count == weakThreshold && !inst.sentReady
	if shouldReady {
		inst.sentReady = true
	}

	var toDeliver []byte
	canDeliver := count >= quorum && !inst.delivered && len(inst.fragments) >= inst.k
	if canDeliver {
		fragments := make([][]byte, inst.n)
		for idx, f := range inst.fragments {
			fragments[idx] = f
		}
		digest := r.BatchDigest
		inst.mu.Unlock()
		payload, err := Decode(fragments, inst.n, inst.k)
		inst.mu.Lock()
		if err == nil {
			expected, derr := wireDigest(payload)
			if derr == nil && expected == digest {
				inst.delivered = true
				inst.deliveredPayload = payload
				toDeliver = payload
			}
		}
	}
	digest := r.BatchDigest
	inst.mu.Unlock()

	if shouldReady && inst.onSendReady != nil {
		inst.onSendReady(Ready{Epoch: inst.epoch, Proposer: inst.proposer, BatchDigest: digest})
	}
	if toDeliver != nil && inst.onDeliver != nil {
		inst.onDeliver(toDeliver)
	}
	return nil
}
