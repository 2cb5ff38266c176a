package node

import (
	"fmt"
	"testing"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/config"
	"github.com/fediconductor/conductor/threshold"
	"github.com/stretchr/testify/require"
)

func testGenesis(t *testing.T, n int) GenesisBundle {
	t.Helper()
	quorum := fcommon.QuorumThreshold(n)
	signing, err := threshold.RunDKG(n, quorum)
	require.NoError(t, err)
	decryption, err := threshold.RunDKG(n, quorum)
	require.NoError(t, err)

	validators := make([]fcommon.ValidatorID, n)
	for i := range validators {
		validators[i] = fcommon.BytesToHash([]byte(fmt.Sprintf("validator-%d", i)))
	}
	return GenesisBundle{
		Seed:             fcommon.BytesToHash([]byte("genesis")),
		Validators:       validators,
		SelfValidator:    validators[0],
		SigningShares:    signing,
		DecryptionShares: decryption,
		Difficulty:       86_400_000,
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestNewWiresServicesForSelfValidator(t *testing.T) {
	genesis := testGenesis(t, 4)
	cfg := testConfig(t)

	n, err := New(cfg, genesis, nil, nil, nil)
	require.NoError(t, err)
	defer n.Close()

	require.Equal(t, 0, n.SelfIndex)
	require.Equal(t, 4, n.Snapshot().N())
	require.NotNil(t, n.Orchestrator)
	require.NotNil(t, n.Clock)
	require.NotNil(t, n.Service)
	require.NotNil(t, n.Breaker(genesis.Validators[1]))
}

func TestNewRejectsUnknownSelfValidator(t *testing.T) {
	genesis := testGenesis(t, 4)
	genesis.SelfValidator = fcommon.BytesToHash([]byte("not-a-validator"))
	cfg := testConfig(t)

	_, err := New(cfg, genesis, nil, nil, nil)
	require.Error(t, err)
}

func TestGenesisSeedPersistsAcrossRestart(t *testing.T) {
	genesis := testGenesis(t, 4)
	cfg := testConfig(t)

	n1, err := New(cfg, genesis, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, n1.Close())

	n2, err := New(cfg, genesis, nil, nil, nil)
	require.NoError(t, err)
	defer n2.Close()

	seed, err := n2.store.GenesisSeed()
	require.NoError(t, err)
	require.Equal(t, genesis.Seed, seed)
}

type recordingLifecycle struct {
	started, stopped bool
	startErr         error
}

func (r *recordingLifecycle) Start() error {
	r.started = true
	return r.startErr
}

func (r *recordingLifecycle) Stop() error {
	r.stopped = true
	return nil
}

func TestStartStopDrivesRegisteredLifecycles(t *testing.T) {
	genesis := testGenesis(t, 4)
	cfg := testConfig(t)

	n, err := New(cfg, genesis, nil, nil, nil)
	require.NoError(t, err)

	l1 := &recordingLifecycle{}
	l2 := &recordingLifecycle{}
	n.RegisterLifecycle(l1)
	n.RegisterLifecycle(l2)

	require.NoError(t, n.Start())
	require.True(t, l1.started)
	require.True(t, l2.started)

	require.NoError(t, n.Close())
	require.True(t, l1.stopped)
	require.True(t, l2.stopped)
}

func TestStartRollsBackOnFailure(t *testing.T) {
	genesis := testGenesis(t, 4)
	cfg := testConfig(t)

	n, err := New(cfg, genesis, nil, nil, nil)
	require.NoError(t, err)
	defer n.Close()

	l1 := &recordingLifecycle{}
	l2 := &recordingLifecycle{startErr: fmt.Errorf("boom")}
	n.RegisterLifecycle(l1)
	n.RegisterLifecycle(l2)

	err = n.Start()
	require.Error(t, err)
	require.True(t, l1.started)
	require.True(t, l1.stopped, "lifecycles started before the failure must be rolled back")
}

func TestNewRejectsEmptyGenesis(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(cfg, GenesisBundle{}, nil, nil, nil)
	require.Error(t, err)
}
