package acs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fediconductor/conductor/bba"
	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/rbc"
	"github.com/fediconductor/conductor/threshold"
	"github.com/fediconductor/conductor/wire"
)

// queuedTransport buffers outbound messages instead of dispatching them
// synchronously, so the test can drain them breadth-first and avoid deep
// callback recursion across n simultaneous Run instances.
type msg struct {
	kind string
	from int
	to   int
	i    int // proposer index, for rbc/bba messages
	echo rbc.Echo
	ready rbc.Ready
	bval bba.BVal
	aux  bba.Aux
	coin bba.CoinShareMsg
}

type queuedTransport struct {
	from  int
	queue *[]msg
}

func (q *queuedTransport) SendEcho(to int, e rbc.Echo) {
	*q.queue = append(*q.queue, msg{kind: "echo", from: q.from, to: to, echo: e})
}
func (q *queuedTransport) SendReady(to int, r rbc.Ready) {
	*q.queue = append(*q.queue, msg{kind: "ready", from: q.from, to: to, ready: r})
}
func (q *queuedTransport) SendBVal(to int, m bba.BVal) {
	*q.queue = append(*q.queue, msg{kind: "bval", from: q.from, to: to, bval: m})
}
func (q *queuedTransport) SendAux(to int, m bba.Aux) {
	*q.queue = append(*q.queue, msg{kind: "aux", from: q.from, to: to, aux: m})
}
func (q *queuedTransport) SendCoinShare(to int, m bba.CoinShareMsg) {
	*q.queue = append(*q.queue, msg{kind: "coin", from: q.from, to: to, coin: m})
}

func TestACSRunAcceptsQuorumOfProposers(t *testing.T) {
	n, f := 4, 1
	k := n - 2*f
	validators := make([]fcommon.ValidatorID, n)
	for i := range validators {
		validators[i] = fcommon.BytesToHash([]byte{byte(i + 1)})
	}
	epoch := uint64(1)
	threshold_ := fcommon.QuorumThreshold(n)

	signing, err := threshold.RunDKG(n, threshold_)
	require.NoError(t, err)
	decryption, err := threshold.RunDKG(n, threshold_)
	require.NoError(t, err)
	providers := make([]*threshold.Provider, n)
	for i := 1; i <= n; i++ {
		p, err := threshold.NewProvider(i, threshold_, signing, decryption)
		require.NoError(t, err)
		providers[i-1] = p
	}

	var queue []msg
	runs := make([]*Run, n)
	for i := 0; i < n; i++ {
		runs[i] = NewRun(epoch, validators, i, providers[i], &queuedTransport{from: i, queue: &queue})
	}

	// Every proposer disseminates its own payload via RBC.
	payloads := make([][]byte, n)
	shardsByProposer := make([][][]byte, n)
	rootByProposer := make([]fcommon.Hash, n)
	proofsByProposer := make([][]rbc.MerkleProof, n)
	digestByProposer := make([]fcommon.Hash, n)

	for p := 0; p < n; p++ {
		payloads[p] = []byte("payload-from-proposer-" + string(rune('0'+p)))
		shards, err := rbc.Encode(payloads[p], n, k)
		require.NoError(t, err)
		root, proofs := rbc.BuildMerkleTree(shards)
		shardsByProposer[p] = shards
		rootByProposer[p] = root
		proofsByProposer[p] = proofs
		digestByProposer[p] = wire.Keccak256(payloads[p])
	}

	for p := 0; p < n; p++ {
		for recv := 0; recv < n; recv++ {
			err := runs[recv].HandlePropose(p, validators[p], rbc.Propose{
				Epoch:       epoch,
				Proposer:    validators[p],
				BatchDigest: digestByProposer[p],
				MerkleRoot:  rootByProposer[p],
				Fragment:    shardsByProposer[p][recv],
				FragmentIdx: recv,
				MerkleProof: proofsByProposer[p][recv],
			})
			require.NoError(t, err)
		}
	}
	_ = digestByProposer

	// Drain the message queue breadth-first until every run has finished
	// its ACS decision (bounded: BBA converges within a small number of
	// rounds once bin-values collapse onto the coin).
	const maxSteps = 100000
	steps := 0
	for {
		select {
		case <-runs[0].Done():
		default:
		}
		allDone := true
		for _, r := range runs {
			select {
			case <-r.Done():
			default:
				allDone = false
			}
		}
		if allDone {
			break
		}
		if len(queue) == 0 {
			break
		}
		m := queue[0]
		queue = queue[1:]
		steps++
		require.Less(t, steps, maxSteps, "message queue did not converge")

		switch m.kind {
		case "echo":
			require.NoError(t, runs[m.to].HandleEcho(proposerIndexOf(validators, m.echo.Proposer), validators[m.from], m.echo))
		case "ready":
			require.NoError(t, runs[m.to].HandleReady(proposerIndexOf(validators, m.ready.Proposer), validators[m.from], m.ready))
		case "bval":
			require.NoError(t, runs[m.to].HandleBVal(proposerIndexOf(validators, m.bval.Proposer), validators[m.from], m.bval))
		case "aux":
			require.NoError(t, runs[m.to].HandleAux(proposerIndexOf(validators, m.aux.Proposer), validators[m.from], m.aux))
		case "coin":
			require.NoError(t, runs[m.to].HandleCoinShare(proposerIndexOf(validators, m.coin.Proposer), m.coin.Round, m.coin.Share))
		}
	}

	for i, r := range runs {
		select {
		case <-r.Done():
		default:
			t.Fatalf("run %d did not finish", i)
		}
		res := r.Wait()
		require.GreaterOrEqual(t, len(res.Accepted), n-f, "ACS must accept at least n-f proposers")
		for _, p := range res.Accepted {
			require.Equal(t, payloads[p], res.Payloads[p])
		}
	}
}

func proposerIndexOf(validators []fcommon.ValidatorID, proposer fcommon.ValidatorID) int {
	for i, v := range validators {
		if v == proposer {
			return i
		}
	}
	return -1
}
