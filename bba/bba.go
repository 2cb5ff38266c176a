// Package bba implements one binary Byzantine agreement instance per
// (epoch, proposer) (spec §4.4): round-based BVAL/AUX voting with a
// threshold common coin to break symmetry on disagreement, grounded on the
// ancestor's consensus/bft/vote_pool.go map-of-maps tallying pattern
// generalized from single-round block votes to round-keyed binary values.
package bba

import (
	"fmt"
	"sync"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/threshold"
)

// BVal is broadcast once per round for the sender's current estimate (spec
// §4.4 round structure, step 1).
type BVal struct {
	Epoch    model.Epoch
	Proposer fcommon.ValidatorID
	Sender   fcommon.ValidatorID
	Round    uint32
	Value    bool
}

// Aux is broadcast once a value has entered the local bin-values set at
// 2f+1 BVALs (spec §4.4 step 2).
type Aux struct {
	Epoch    model.Epoch
	Proposer fcommon.ValidatorID
	Sender   fcommon.ValidatorID
	Round    uint32
	Value    bool
}

// CoinShareMsg carries one validator's signature share over a round's coin
// tag (spec §4.4 step 3).
type CoinShareMsg struct {
	Epoch    model.Epoch
	Proposer fcommon.ValidatorID
	Round    uint32
	Share    threshold.SignatureShare
}

type roundState struct {
	bvalSenders map[fcommon.ValidatorID]map[bool]bool // sender -> values it BVAL'd this round
	bvalCounts  map[bool]int
	binValues   map[bool]bool
	sentBval    map[bool]bool

	auxSenders map[fcommon.ValidatorID]bool
	auxValues  map[fcommon.ValidatorID]bool
	sentAux    bool

	coinShares     map[int]threshold.SignatureShare
	coinRequested  bool
	coinResolved   bool
}

func newRoundState() *roundState {
	return &roundState{
		bvalSenders: make(map[fcommon.ValidatorID]map[bool]bool),
		bvalCounts:  map[bool]int{false: 0, true: 0},
		binValues:   make(map[bool]bool),
		sentBval:    make(map[bool]bool),
		auxSenders:  make(map[fcommon.ValidatorID]bool),
		auxValues:   make(map[fcommon.ValidatorID]bool),
		coinShares:  make(map[int]threshold.SignatureShare),
	}
}

// Instance runs one (epoch, proposer) binary agreement to decision (spec
// §4.4). n/f are derived from the active validator-set size at epoch start.
type Instance struct {
	mu sync.Mutex

	epoch     model.Epoch
	proposer  fcommon.ValidatorID
	proposerIdx int
	n, f, threshold int

	selfIndex int
	provider  *threshold.Provider

	rounds map[uint32]*roundState
	round  uint32

	decided    bool
	decidedVal bool

	onBroadcastBVal func(BVal)
	onBroadcastAux  func(Aux)
	onBroadcastCoin func(CoinShareMsg)
	onDecide        func(bool)
}

// NewInstance constructs a BBA Instance. proposerIdx is the proposer's
// index in the active validator set (used as the coin tag's proposer
// field, spec §4.4 step 3); selfIndex is this node's own index, used to
// label its coin share. provider supplies CoinShare/Coin so the instance
// never reaches into raw key material.
func NewInstance(
	epoch model.Epoch,
	proposer fcommon.ValidatorID,
	proposerIdx int,
	selfIndex int,
	n int,
	thresholdN int,
	provider *threshold.Provider,
	onBroadcastBVal func(BVal),
	onBroadcastAux func(Aux),
	onBroadcastCoin func(CoinShareMsg),
	onDecide func(bool),
) *Instance {
	return &Instance{
		epoch:           epoch,
		proposer:        proposer,
		proposerIdx:     proposerIdx,
		n:               n,
		f:               fcommon.MaxFaulty(n),
		threshold:       thresholdN,
		selfIndex:       selfIndex,
		provider:        provider,
		rounds:          make(map[uint32]*roundState),
		onBroadcastBVal: onBroadcastBVal,
		onBroadcastAux:  onBroadcastAux,
		onBroadcastCoin: onBroadcastCoin,
		onDecide:        onDecide,
	}
}

func (inst *Instance) roundLocked(r uint32) *roundState {
	rs, ok := inst.rounds[r]
	if !ok {
		rs = newRoundState()
		inst.rounds[r] = rs
	}
	return rs
}

// Decided reports whether this instance has decided, and the decided value
// if so.
func (inst *Instance) Decided() (bool, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.decidedVal, inst.decided
}

// Start broadcasts this validator's initial BVAL for round 0 with the
// given initial estimate (spec §4.4 / §4.5 step 2: input from ACS is 1 on
// RBC delivery, 0 otherwise).
func (inst *Instance) Start(initial bool) error {
	return inst.broadcastBVal(0, initial)
}

func (inst *Instance) broadcastBVal(round uint32, v bool) error {
	inst.mu.Lock()
	rs := inst.roundLocked(round)
	if rs.sentBval[v] {
		inst.mu.Unlock()
		return nil
	}
	rs.sentBval[v] = true
	inst.mu.Unlock()

	if inst.onBroadcastBVal != nil {
		inst.onBroadcastBVal(BVal{Epoch: inst.epoch, Proposer: inst.proposer, Round: round, Value: v})
	}
	return nil
}

// HandleBVal records a BVAL and, per the bin-values rule, broadcasts AUX
// once this value has been seen 2f+1 times this round (spec §4.4 step 2).
func (inst *Instance) HandleBVal(sender fcommon.ValidatorID, m BVal) error {
	inst.mu.Lock()
	rs := inst.roundLocked(m.Round)
	seen, ok := rs.bvalSenders[sender]
	if !ok {
		seen = make(map[bool]bool)
		rs.bvalSenders[sender] = seen
	}
	if seen[m.Value] {
		inst.mu.Unlock()
		return nil // duplicate
	}
	if len(seen) >= 2 {
		inst.mu.Unlock()
		return fmt.Errorf("bba: sender BVAL'd more than two distinct values in round %d", m.Round)
	}
	seen[m.Value] = true
	rs.bvalCounts[m.Value]++
	count := rs.bvalCounts[m.Value]

	shouldEcho := count == inst.f+1 && !rs.sentBval[m.Value]
	shouldEnterBinValues := count == 2*inst.f+1 && !rs.binValues[m.Value]
	var shouldAux bool
	if shouldEnterBinValues {
		rs.binValues[m.Value] = true
	}
	inst.mu.Unlock()

	if shouldEcho {
		if err := inst.broadcastBVal(m.Round, m.Value); err != nil {
			return err
		}
	}
	if shouldEnterBinValues {
		shouldAux = inst.maybeBroadcastAux(m.Round)
		_ = shouldAux
	}
	return nil
}

// maybeBroadcastAux sends this node's AUX for round once any bin-value
// exists and AUX has not yet been sent this round.
func (inst *Instance) maybeBroadcastAux(round uint32) bool {
	inst.mu.Lock()
	rs := inst.roundLocked(round)
	if rs.sentAux || len(rs.binValues) == 0 {
		inst.mu.Unlock()
		return false
	}
	// Prefer true if both values are in bin-values; either is a valid
	// member of bin-values per spec §4.4 step 2.
	v := false
	if rs.binValues[true] {
		v = true
	} else if !rs.binValues[false] {
		inst.mu.Unlock()
		return false
	}
	rs.sentAux = true
	inst.mu.Unlock()

	if inst.onBroadcastAux != nil {
		inst.onBroadcastAux(Aux{Epoch: inst.epoch, Proposer: inst.proposer, Round: round, Value: v})
	}
	return true
}

// HandleAux records an AUX and, once n-f AUXes restricted to bin-values
// have been seen, requests this node's coin share for the round (spec
// §4.4 step 3).
func (inst *Instance) HandleAux(sender fcommon.ValidatorID, m Aux) error {
	inst.mu.Lock()
	rs := inst.roundLocked(m.Round)
	if _, ok := inst.rounds[m.Round]; !ok {
		inst.rounds[m.Round] = rs
	}
	if prev, ok := rs.auxSenders[sender]; ok {
		inst.mu.Unlock()
		if prev != m.Value {
			return fmt.Errorf("bba: sender sent two AUX values in round %d", m.Round)
		}
		return nil
	}
	rs.auxSenders[sender] = true
	rs.auxValues[sender] = m.Value

	restricted := 0
	for s, v := range rs.auxValues {
		if rs.binValues[v] {
			_ = s
			restricted++
		}
	}
	shouldRequestCoin := restricted >= inst.n-inst.f && !rs.coinRequested && len(rs.binValues) > 0
	if shouldRequestCoin {
		rs.coinRequested = true
	}
	inst.mu.Unlock()

	if shouldRequestCoin {
		return inst.requestCoin(m.Round)
	}
	return nil
}

func (inst *Instance) requestCoin(round uint32) error {
	if inst.provider == nil {
		return nil
	}
	tag := threshold.CoinTag{Epoch: inst.epoch, Proposer: inst.proposerIdx, Round: round}
	share, err := inst.provider.CoinShare(tag)
	if err != nil {
		return fmt.Errorf("bba: coin share: %w", err)
	}
	if inst.onBroadcastCoin != nil {
		inst.onBroadcastCoin(CoinShareMsg{Epoch: inst.epoch, Proposer: inst.proposer, Round: round, Share: share})
	}
	return inst.HandleCoinShare(round, share)
}

// HandleCoinShare records a coin share and, once threshold shares have
// accumulated, resolves the coin and advances the round per the decision
// rule (spec §4.4 steps 3-5).
func (inst *Instance) HandleCoinShare(round uint32, share threshold.SignatureShare) error {
	inst.mu.Lock()
	if inst.decided {
		inst.mu.Unlock()
		return nil
	}
	rs := inst.roundLocked(round)
	if rs.coinResolved {
		inst.mu.Unlock()
		return nil
	}
	rs.coinShares[share.ValidatorIndex] = share
	if len(rs.coinShares) < inst.threshold {
		inst.mu.Unlock()
		return nil
	}
	shares := make([]threshold.SignatureShare, 0, len(rs.coinShares))
	for _, s := range rs.coinShares {
		shares = append(shares, s)
	}
	binValues := make(map[bool]bool, len(rs.binValues))
	for k, v := range rs.binValues {
		binValues[k] = v
	}
	rs.coinResolved = true
	inst.mu.Unlock()

	tag := threshold.CoinTag{Epoch: inst.epoch, Proposer: inst.proposerIdx, Round: round}
	coin, err := threshold.Coin(tag, shares, inst.threshold)
	if err != nil {
		return fmt.Errorf("bba: coin resolution: %w", err)
	}
	return inst.advanceRound(round, binValues, coin)
}

// advanceRound applies spec §4.4's decision rule once the coin for round is
// known: decide if bin-values is a singleton matching the coin, and
// continue one more round for safety; otherwise set the next round's
// estimate to the matching value if bin-values is a singleton, or to the
// coin value if bin-values is {0,1}.
func (inst *Instance) advanceRound(round uint32, binValues map[bool]bool, coin bool) error {
	singleton := len(binValues) == 1
	var v bool
	if singleton {
		for k := range binValues {
			v = k
		}
	}

	inst.mu.Lock()
	if inst.decided {
		inst.mu.Unlock()
		return nil
	}
	var decide, decideVal bool
	if singleton && v == coin {
		decide = true
		decideVal = v
		inst.decided = true
		inst.decidedVal = v
	}
	var nextEstimate bool
	if singleton {
		nextEstimate = v
	} else {
		nextEstimate = coin
	}
	if round >= inst.round {
		inst.round = round + 1
	}
	inst.mu.Unlock()

	if decide && inst.onDecide != nil {
		inst.onDecide(decideVal)
	}
	// Safety requires one further round even after deciding, so the next
	// round's BVAL is always sent; HandleBVal/HandleAux remain no-ops for
	// a decided instance's own state beyond recording messages for peers
	// still catching up.
	return inst.broadcastBVal(round+1, nextEstimate)
}
