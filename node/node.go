// Package node is Conductor's composition root: it wires storage,
// membership, threshold signing, the agreement pipeline, day-advancement,
// and the adapter boundary together in dependency order, the same role
// the ancestor's node package plays for its own services. Conductor has
// no analogue of the ancestor's p2p/rpc registration surface (spec §1
// places the peer transport and the RPC/REST surface out of scope), so
// this package only manages Lifecycle start/stop ordering.
package node

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fediconductor/conductor/adapters"
	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/config"
	"github.com/fediconductor/conductor/dayadvance"
	"github.com/fediconductor/conductor/log"
	"github.com/fediconductor/conductor/membership"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/orchestrator"
	"github.com/fediconductor/conductor/retry"
	"github.com/fediconductor/conductor/storage"
	"github.com/fediconductor/conductor/threshold"
)

// Lifecycle is a component the Node starts and stops as a unit.
type Lifecycle interface {
	Start() error
	Stop() error
}

// GenesisBundle carries the key material and initial validator set a
// trusted-dealer DKG ceremony produced out of band. Running that ceremony
// is itself part of the process-level configuration loader spec §1 places
// out of scope; Node only ever consumes its output.
type GenesisBundle struct {
	Seed             fcommon.Hash
	Validators       []fcommon.ValidatorID
	SelfValidator    fcommon.ValidatorID
	SigningShares    *threshold.DKGResult
	DecryptionShares *threshold.DKGResult
	Difficulty       uint64
}

// Node owns storage and the long-lived protocol state, and exposes the
// services an embedding transport/RPC process drives. It does not speak
// to a network itself; callers run an acs.Transport (and whatever RPC
// surface fronts Service) alongside it and register both as Lifecycles.
type Node struct {
	mu sync.Mutex

	cfg      *config.Config
	store    *storage.Store
	snapshot *membership.Snapshot
	provider *threshold.Provider

	SelfIndex  int
	Validators []fcommon.ValidatorID

	Orchestrator *orchestrator.Orchestrator
	Clock        *dayadvance.Clock
	Service      *adapters.Service

	breakers map[fcommon.ValidatorID]*retry.CircuitBreaker

	lifecycles []Lifecycle
	running    bool
}

// New opens storage under cfg.DataDir and wires every service a running
// Conductor node needs, short of the network transport.
func New(cfg *config.Config, genesis GenesisBundle, auth adapters.Authenticator, submit adapters.Submitter, status adapters.StatusTracker) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}
	if len(genesis.Validators) == 0 {
		return nil, fmt.Errorf("node: genesis bundle has no validators")
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "conductor.db"))
	if err != nil {
		return nil, fmt.Errorf("node: open storage: %w", err)
	}

	if err := persistGenesisSeed(store, genesis.Seed); err != nil {
		store.Close()
		return nil, err
	}

	members := make(map[fcommon.ValidatorID]model.DayNumber, len(genesis.Validators))
	for _, v := range genesis.Validators {
		members[v] = 0
	}
	snapshot := membership.NewSnapshot(0, members)

	selfIndex := snapshot.IndexOf(genesis.SelfValidator)
	if selfIndex < 0 {
		store.Close()
		return nil, fmt.Errorf("node: self validator not present in genesis set")
	}

	quorum := fcommon.QuorumThreshold(snapshot.N())
	provider, err := threshold.NewProvider(selfIndex+1, quorum, genesis.SigningShares, genesis.DecryptionShares)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: construct threshold provider: %w", err)
	}

	idem := storage.NewIdempotencyCache(time.Duration(cfg.SeenCacheTTLMS) * time.Millisecond)

	n := &Node{
		cfg:          cfg,
		store:        store,
		snapshot:     snapshot,
		provider:     provider,
		SelfIndex:    selfIndex,
		Validators:   genesis.Validators,
		Orchestrator: orchestrator.New(store, provider, snapshot.N()),
		Clock:        dayadvance.NewClock(256),
		Service:      adapters.New(store, idem, auth, submit, status),
		breakers:     newCircuitBreakers(genesis.Validators, cfg),
	}
	return n, nil
}

func persistGenesisSeed(store *storage.Store, seed fcommon.Hash) error {
	if _, err := store.GenesisSeed(); err == nil {
		return nil
	} else if err != storage.ErrNotFound {
		return fmt.Errorf("node: read genesis seed: %w", err)
	}
	if err := store.PutGenesisSeed(seed); err != nil {
		return fmt.Errorf("node: persist genesis seed: %w", err)
	}
	return nil
}

func newCircuitBreakers(validators []fcommon.ValidatorID, cfg *config.Config) map[fcommon.ValidatorID]*retry.CircuitBreaker {
	breakerCfg := retry.DefaultCircuitBreakerConfig()
	if cfg.PeerCircuitBreakerThreshold > 0 {
		breakerCfg.FailureThreshold = int(cfg.PeerCircuitBreakerThreshold)
	}
	if cfg.PeerCircuitBreakerOpenMS > 0 {
		breakerCfg.OpenDuration = time.Duration(cfg.PeerCircuitBreakerOpenMS) * time.Millisecond
	}
	breakers := make(map[fcommon.ValidatorID]*retry.CircuitBreaker, len(validators))
	for _, v := range validators {
		breakers[v] = retry.NewCircuitBreaker(breakerCfg)
	}
	return breakers
}

// Breaker returns the per-peer circuit breaker for peer, or nil if peer
// is not a known validator.
func (n *Node) Breaker(peer fcommon.ValidatorID) *retry.CircuitBreaker {
	return n.breakers[peer]
}

// Snapshot returns the current membership view.
func (n *Node) Snapshot() *membership.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshot
}

// ApplyMembershipChange advances the node's membership snapshot with a
// join or leave change; other change kinds are rejected.
func (n *Node) ApplyMembershipChange(change model.MembershipChange, atDay model.DayNumber) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	next, err := n.snapshot.ApplyMembershipChange(change, atDay)
	if err != nil {
		return err
	}
	n.snapshot = next
	return nil
}

// RegisterLifecycle adds a component to be started and stopped alongside
// the node's own services, e.g. the caller's acs.Transport or RPC server.
func (n *Node) RegisterLifecycle(l Lifecycle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lifecycles = append(n.lifecycles, l)
}

// Start brings up every registered Lifecycle in registration order. If one
// fails, the ones already started are stopped in reverse order before the
// error is returned.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("node: already running")
	}
	for i, l := range n.lifecycles {
		if err := l.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = n.lifecycles[j].Stop()
			}
			return fmt.Errorf("node: start lifecycle %d: %w", i, err)
		}
	}
	n.running = true
	log.Info("node started", "lifecycles", len(n.lifecycles))
	return nil
}

// Close stops every registered Lifecycle in reverse order and closes
// storage. It is safe to call on a Node that was never started.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var firstErr error
	for i := len(n.lifecycles) - 1; i >= 0; i-- {
		if err := n.lifecycles[i].Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.running = false
	if err := n.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	log.Info("node stopped")
	return firstErr
}
