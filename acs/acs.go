// Package acs composes n reliable-broadcast instances with n binary
// Byzantine agreement instances into one asynchronous common subset
// decision per epoch (spec §4.5): no single ancestor file implements ACS,
// so this package is grounded directly on the spec's five-step algorithm,
// reusing the reactor/pool composition style of consensus/bft for wiring
// RBC/BBA instances to a shared transport callback set.
package acs

import (
	"sync"

	"github.com/fediconductor/conductor/bba"
	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/rbc"
	"github.com/fediconductor/conductor/threshold"
)

// Transport is the outbound side of one validator's ACS run: every
// message an RBC or BBA instance wants to send is routed through it. A
// real node implements this over gossip; tests wire it directly between
// in-process instances.
type Transport interface {
	SendEcho(to int, e rbc.Echo)
	SendReady(to int, r rbc.Ready)
	SendBVal(to int, m bba.BVal)
	SendAux(to int, m bba.Aux)
	SendCoinShare(to int, m bba.CoinShareMsg)
}

// Result is the outcome of one ACS run (spec §4.5 step 4-5): the set of
// accepted proposer indices and, for each, its delivered RBC payload.
type Result struct {
	Accepted []int
	Payloads map[int][]byte
}

// Run composes n RBC + n BBA instances for the given validator set and
// drives them to the ACS decision. selfIndex is this node's index in
// validators; every local BBA instance produces its coin shares with this
// node's own threshold.Provider, passed to NewRun.
//
// Run is transport-agnostic: HandleEcho/HandleReady/HandleBVal/HandleAux/
// HandleCoinShare below feed externally-received messages in, and the
// broadcast callbacks captured at construction time feed outbound messages
// to transport. Wait blocks until the ACS decision (spec §4.5 step 4) and
// all accepted proposers' RBC instances have delivered (step 5).
type Run struct {
	mu sync.Mutex

	validators []fcommon.ValidatorID
	selfIndex  int
	n, f       int

	rbcInstances []*rbc.Instance
	bbaInstances []*bba.Instance

	bbaInput   []bool
	bbaInputSet []bool
	decided    []bool
	decidedVal []bool
	onesCount  int
	fedZero    bool

	delivered []bool
	payloads  [][]byte

	done      chan struct{}
	doneOnce  sync.Once
	transport Transport
}

// NewRun constructs one ACS run for epoch, with one RBC+BBA instance per
// validator index. provider is this node's own threshold.Provider, used
// by every local BBA instance to produce coin shares.
func NewRun(epoch model.Epoch, validators []fcommon.ValidatorID, selfIndex int, provider *threshold.Provider, transport Transport) *Run {
	n := len(validators)
	threshold_ := fcommon.QuorumThreshold(n)
	r := &Run{
		validators:  validators,
		selfIndex:   selfIndex,
		n:           n,
		f:           fcommon.MaxFaulty(n),
		transport:   transport,
		rbcInstances: make([]*rbc.Instance, n),
		bbaInstances: make([]*bba.Instance, n),
		bbaInput:     make([]bool, n),
		bbaInputSet:  make([]bool, n),
		decided:      make([]bool, n),
		decidedVal:   make([]bool, n),
		delivered:    make([]bool, n),
		payloads:     make([][]byte, n),
		done:         make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		i := i
		proposer := validators[i]
		r.rbcInstances[i] = rbc.NewInstance(epoch, proposer, n,
			func(ready rbc.Ready) {
				for j := 0; j < n; j++ {
					if j != selfIndex {
						transport.SendReady(j, ready)
					}
				}
			},
			func(payload []byte) {
				r.onRBCDeliver(i, payload)
			},
		)
		r.bbaInstances[i] = bba.NewInstance(epoch, proposer, i, selfIndex, n, threshold_, provider,
			func(m bba.BVal) {
				for j := 0; j < n; j++ {
					if j != selfIndex {
						transport.SendBVal(j, m)
					}
				}
			},
			func(m bba.Aux) {
				for j := 0; j < n; j++ {
					if j != selfIndex {
						transport.SendAux(j, m)
					}
				}
			},
			func(m bba.CoinShareMsg) {
				for j := 0; j < n; j++ {
					if j != selfIndex {
						transport.SendCoinShare(j, m)
					}
				}
			},
			func(v bool) {
				r.onBBADecide(i, v)
			},
		)
	}
	return r
}

// HandlePropose feeds a received RBC Propose for proposer index i into
// that RBC instance.
func (r *Run) HandlePropose(i int, sender fcommon.ValidatorID, p rbc.Propose) error {
	echo, ok, err := r.rbcInstances[i].HandlePropose(p)
	if err != nil {
		return err
	}
	if ok && r.transport != nil {
		for j := 0; j < r.n; j++ {
			if j != r.selfIndex {
				r.transport.SendEcho(j, echo)
			}
		}
	}
	return nil
}

// HandleEcho feeds a received RBC Echo for proposer index i.
func (r *Run) HandleEcho(i int, sender fcommon.ValidatorID, e rbc.Echo) error {
	return r.rbcInstances[i].HandleEcho(sender, e)
}

// HandleReady feeds a received RBC Ready for proposer index i.
func (r *Run) HandleReady(i int, sender fcommon.ValidatorID, rd rbc.Ready) error {
	return r.rbcInstances[i].HandleReady(sender, rd)
}

// HandleBVal feeds a received BBA BVAL for proposer index i.
func (r *Run) HandleBVal(i int, sender fcommon.ValidatorID, m bba.BVal) error {
	return r.bbaInstances[i].HandleBVal(sender, m)
}

// HandleAux feeds a received BBA AUX for proposer index i.
func (r *Run) HandleAux(i int, sender fcommon.ValidatorID, m bba.Aux) error {
	return r.bbaInstances[i].HandleAux(sender, m)
}

// HandleCoinShare feeds a received coin share for proposer index i.
func (r *Run) HandleCoinShare(i int, round uint32, share threshold.SignatureShare) error {
	return r.bbaInstances[i].HandleCoinShare(round, share)
}

// onRBCDeliver implements spec §4.5 step 2: when RBC_i delivers, input 1 to
// BBA_i (if BBA_i has not already received input, e.g. via the n-f forced
// zero below).
func (r *Run) onRBCDeliver(i int, payload []byte) {
	r.mu.Lock()
	r.delivered[i] = true
	r.payloads[i] = payload
	alreadySet := r.bbaInputSet[i]
	if !alreadySet {
		r.bbaInputSet[i] = true
	}
	r.mu.Unlock()

	if !alreadySet {
		_ = r.bbaInstances[i].Start(true)
	}
	r.checkDone()
}

// onBBADecide implements spec §4.5 steps 3-4: once n-f BBAs have decided 1,
// force input 0 into every BBA that has not yet received input.
func (r *Run) onBBADecide(i int, v bool) {
	r.mu.Lock()
	if r.decided[i] {
		r.mu.Unlock()
		return
	}
	r.decided[i] = true
	r.decidedVal[i] = v
	if v {
		r.onesCount++
	}
	forceZero := r.onesCount >= r.n-r.f && !r.fedZero
	if forceZero {
		r.fedZero = true
	}
	var toStart []int
	if forceZero {
		for j := 0; j < r.n; j++ {
			if !r.bbaInputSet[j] {
				r.bbaInputSet[j] = true
				toStart = append(toStart, j)
			}
		}
	}
	r.mu.Unlock()

	for _, j := range toStart {
		_ = r.bbaInstances[j].Start(false)
	}
	r.checkDone()
}

// checkDone evaluates whether spec §4.5 steps 4-5 have both completed:
// every BBA terminated, and every RBC in the accepted set S has delivered.
func (r *Run) checkDone() {
	r.mu.Lock()
	for i := 0; i < r.n; i++ {
		if !r.decided[i] {
			r.mu.Unlock()
			return
		}
	}
	var accepted []int
	for i := 0; i < r.n; i++ {
		if r.decidedVal[i] {
			accepted = append(accepted, i)
		}
	}
	for _, i := range accepted {
		if !r.delivered[i] {
			r.mu.Unlock()
			return
		}
	}
	r.mu.Unlock()

	r.doneOnce.Do(func() { close(r.done) })
}

// Wait blocks until the ACS decision is final (spec §4.5 step 5) and
// returns the accepted proposer set with their delivered payloads.
func (r *Run) Wait() Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	var accepted []int
	payloads := make(map[int][]byte)
	for i := 0; i < r.n; i++ {
		if r.decidedVal[i] {
			accepted = append(accepted, i)
			payloads[i] = r.payloads[i]
		}
	}
	return Result{Accepted: accepted, Payloads: payloads}
}

// Done returns the channel that closes once the ACS decision is final,
// for callers that want to select on it rather than block in Wait.
func (r *Run) Done() <-chan struct{} {
	return r.done
}
