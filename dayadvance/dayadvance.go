// Package dayadvance drives the VDF day-advancement protocol of spec §4.7:
// compute, sign and broadcast a DayProof, collect 2f+1 identical-output
// signatures into a QC, and advance the local DayNumber, while detecting
// divergent-output conflicts and too-fast peer proofs.
package dayadvance

import (
	"context"
	"fmt"
	"sync"
	"time"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/detect"
	"github.com/fediconductor/conductor/log"
	"github.com/fediconductor/conductor/model"
	"github.com/fediconductor/conductor/threshold"
	"github.com/fediconductor/conductor/vdf"
)

// ErrConflict is returned when more than one distinct output has received
// signatures for the same day (spec §4.7 "Conflict").
var ErrConflict = fmt.Errorf("dayadvance: divergent VDF outputs for the same day")

// Clock is the memory-resident wall-clock reference of spec §4.1: it
// records local computation timings and peer proof inter-arrival times for
// anomaly detection only. It is never persisted and never transmitted, and
// must be zeroized on Close so no wall-clock value outlives the process
// that observed it.
type Clock struct {
	mu      sync.Mutex
	started map[uint64]time.Time
	window  *vdf.CalibrationWindow
	lastArrival time.Time
	closed  bool

	nowFn func() time.Time
}

// NewClock constructs a Clock with a calibration window of the given
// sample capacity (spec §4.1: "5th percentile of the expected window").
func NewClock(capacity int) *Clock {
	return &Clock{
		started: make(map[uint64]time.Time),
		window:  vdf.NewCalibrationWindow(capacity),
		nowFn:   time.Now,
	}
}

// MarkBegan records that this node began computing day d+1's VDF now.
func (c *Clock) MarkBegan(day uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.started[day] = c.nowFn()
}

// ObservePeerArrival records the inter-arrival time of a peer's DayProof
// for day, relative to this node's own began_at for that day, and reports
// whether it is anomalously fast (spec §4.1). The check is made against the
// window as it stood before this arrival; an arrival flagged as too fast is
// not added to the window.
func (c *Clock) ObservePeerArrival(day uint64) (tooFast bool, delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, 0
	}
	began, ok := c.started[day]
	now := c.nowFn()
	if !ok {
		began = c.lastArrival
	}
	if !began.IsZero() {
		delta = now.Sub(began)
		tooFast = c.window.IsTooFast(delta)
		if !tooFast {
			c.window.Record(delta)
		}
	}
	c.lastArrival = now
	return tooFast, delta
}

// Close zeroizes the clock's state. After Close, all Mark/Observe calls are
// no-ops (spec §4.1: "never persisted and never transmitted").
func (c *Clock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = nil
	c.window = nil
	c.lastArrival = time.Time{}
	c.closed = true
}

// Round drives one day's advancement for this node: computing its own
// DayProof and tallying signed proofs from peers until a QC is assembled
// or a conflict is detected (spec §4.7 steps 1-5).
type Round struct {
	mu sync.Mutex

	day          uint64
	genesisSeed  fcommon.Hash
	difficulty   uint64
	selfIndex    int
	validators   []fcommon.ValidatorID
	provider     *threshold.Provider

	byOutput map[fcommon.Hash]map[int]threshold.SignatureShare
	finished bool
}

// NewRound constructs a day-advancement round for day d+1 (day is that
// target day number, not the current finalized one).
func NewRound(day uint64, genesisSeed fcommon.Hash, difficulty uint64, selfIndex int, validators []fcommon.ValidatorID, provider *threshold.Provider) *Round {
	return &Round{
		day:         day,
		genesisSeed: genesisSeed,
		difficulty:  difficulty,
		selfIndex:   selfIndex,
		validators:  validators,
		provider:    provider,
		byOutput:    make(map[fcommon.Hash]map[int]threshold.SignatureShare),
	}
}

// ComputeAndSign runs the VDF for this round's day and returns a signed
// DayProof ready to broadcast (spec §4.7 steps 1-2).
func (r *Round) ComputeAndSign(ctx context.Context, progressInterval uint64) (model.DayProof, error) {
	seed := vdf.DeriveSeed(r.day, r.genesisSeed)
	output, err := vdf.Compute(ctx, seed, r.difficulty, progressInterval, nil)
	if err != nil {
		return model.DayProof{}, fmt.Errorf("dayadvance: compute: %w", err)
	}
	proof := model.DayProof{
		DayNumber:  r.day,
		Seed:       seed,
		Difficulty: r.difficulty,
		Output:     output,
		Proposer:   r.validators[r.selfIndex],
	}
	digest, err := proof.SigningDigest()
	if err != nil {
		return model.DayProof{}, fmt.Errorf("dayadvance: signing digest: %w", err)
	}
	share, err := r.provider.SignShare(digest.Bytes())
	if err != nil {
		return model.DayProof{}, fmt.Errorf("dayadvance: sign share: %w", err)
	}
	// ProposerSignature carries this validator's individual share, not a
	// group aggregate: HandlePeerProof collects 2f+1 such shares per
	// output and aggregates them into the CanonicalDayProof's QC (spec
	// §4.7 step 4).
	proof.ProposerSignature = share.Signature
	return proof, nil
}

// HandlePeerProof verifies and records a peer's DayProof (spec §4.7 step
// 3). It returns the assembled CanonicalDayProof once 2f+1 identical
// outputs have been seen, or ErrConflict once signatures for more than one
// distinct output have been recorded for the day; from then on no QC is
// assembled by this Round.
func (r *Round) HandlePeerProof(senderIndex int, proof model.DayProof, share threshold.SignatureShare) (*model.CanonicalDayProof, error) {
	if proof.DayNumber != r.day {
		return nil, fmt.Errorf("dayadvance: proof for wrong day %d, expected %d", proof.DayNumber, r.day)
	}
	expectedSeed := vdf.DeriveSeed(r.day, r.genesisSeed)
	if proof.Seed != expectedSeed {
		return nil, fmt.Errorf("dayadvance: proof seed mismatch")
	}
	if !vdf.Verify(proof.Seed, proof.Difficulty, proof.Output) {
		return nil, fmt.Errorf("dayadvance: vdf output does not verify")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil, nil
	}

	shares, ok := r.byOutput[proof.Output]
	if !ok {
		shares = make(map[int]threshold.SignatureShare)
		r.byOutput[proof.Output] = shares
	}
	shares[senderIndex] = share

	n := len(r.validators)
	quorum := fcommon.QuorumThreshold(n)
	if len(r.byOutput) > 1 {
		return nil, ErrConflict
	}
	if len(shares) < quorum {
		return nil, nil
	}

	digest, err := proof.SigningDigest()
	if err != nil {
		return nil, fmt.Errorf("dayadvance: signing digest: %w", err)
	}
	shareList := make([]threshold.SignatureShare, 0, len(shares))
	for _, s := range shares {
		shareList = append(shareList, s)
	}
	agg, err := threshold.Aggregate(shareList, quorum)
	if err != nil {
		return nil, fmt.Errorf("dayadvance: aggregate: %w", err)
	}
	if !threshold.VerifyAggregate(r.provider.GroupSigningKey, digest.Bytes(), agg) {
		return nil, fmt.Errorf("dayadvance: aggregate signature failed verification")
	}

	bitmap := fcommon.NewSignerBitmap(n)
	for idx := range shares {
		bitmap.Set(idx)
	}
	r.finished = true
	return &model.CanonicalDayProof{
		DayProof: proof,
		QuorumCertificate: model.QuorumCertificate{
			MessageDigest:      digest,
			AggregateSignature: agg,
			SignerSet:          bitmap,
		},
	}, nil
}

// CheckEvidence emits a VDF_TOO_FAST evidence record from clock if the
// peer's reported proof arrived anomalously fast (spec §4.1, §4.10).
func CheckEvidence(clock *Clock, peer fcommon.ValidatorID, proof model.DayProof) (*model.Evidence, error) {
	tooFast, delta := clock.ObservePeerArrival(proof.DayNumber)
	if !tooFast {
		return nil, nil
	}
	clock.mu.Lock()
	floor := uint64(clock.window.Percentile5().Nanoseconds())
	clock.mu.Unlock()
	ev, err := detect.NewVDFTooFastEvidence(peer, proof, uint64(delta.Nanoseconds()), floor)
	if err != nil {
		return nil, err
	}
	log.Warn("emitting VDF_TOO_FAST evidence", "peer", peer.Hex(), "day", proof.DayNumber, "delta_ns", delta.Nanoseconds())
	return &ev, nil
}
