package main

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/node"
	"github.com/fediconductor/conductor/threshold"
	"github.com/urfave/cli/v2"
)

var (
	genesisOutFlag = &cli.StringFlag{
		Name:     "out",
		Usage:    "path to write the genesis bundle to",
		Value:    "genesis.json",
	}
	genesisValidatorsFlag = &cli.IntFlag{
		Name:  "validators",
		Usage: "number of validators in the federation",
		Value: 4,
	}
)

var commandInitGenesis = &cli.Command{
	Name:  "init-genesis",
	Usage: "run a trusted-dealer DKG ceremony and write a genesis bundle",
	Flags: []cli.Flag{genesisOutFlag, genesisValidatorsFlag},
	Action: func(ctx *cli.Context) error {
		n := ctx.Int(genesisValidatorsFlag.Name)
		if n < 4 {
			return fmt.Errorf("conductor: need at least 4 validators, got %d", n)
		}
		quorum := fcommon.QuorumThreshold(n)

		signing, err := threshold.RunDKG(n, quorum)
		if err != nil {
			return fmt.Errorf("conductor: signing DKG: %w", err)
		}
		decryption, err := threshold.RunDKG(n, quorum)
		if err != nil {
			return fmt.Errorf("conductor: decryption DKG: %w", err)
		}

		validators := make([]fcommon.ValidatorID, n)
		for i := 0; i < n; i++ {
			seed := make([]byte, fcommon.HashLength)
			seed[fcommon.HashLength-1] = byte(i + 1)
			validators[i] = fcommon.BytesToHash(seed)
		}

		var seedBytes [fcommon.HashLength]byte
		if _, err := crand.Read(seedBytes[:]); err != nil {
			return fmt.Errorf("conductor: generate genesis seed: %w", err)
		}

		bundle := genesisFile{
			Seed:       fcommon.BytesToHash(seedBytes[:]).Hex(),
			Difficulty: 86_400_000,
			Validators: make([]string, n),
			Threshold:  quorum,
			Signing:    dkgResultToFile(signing),
			Decryption: dkgResultToFile(decryption),
		}
		for i, v := range validators {
			bundle.Validators[i] = v.Hex()
		}

		out, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return fmt.Errorf("conductor: marshal genesis bundle: %w", err)
		}
		if err := os.WriteFile(ctx.String(genesisOutFlag.Name), out, 0600); err != nil {
			return fmt.Errorf("conductor: write genesis bundle: %w", err)
		}
		fmt.Fprintf(ctx.App.Writer, "wrote genesis bundle for %d validators to %s\n", n, ctx.String(genesisOutFlag.Name))
		return nil
	},
}

// genesisFile is the on-disk shape of a node.GenesisBundle: a trusted-dealer
// DKG ceremony's output, distributed out of band to every validator (spec
// §1 places the process-level configuration loader out of scope).
type genesisFile struct {
	Seed       string        `json:"seed"`
	Difficulty uint64        `json:"difficulty"`
	Validators []string      `json:"validators"`
	Threshold  int           `json:"threshold"`
	Signing    dkgResultFile `json:"signing"`
	Decryption dkgResultFile `json:"decryption"`
}

type dkgResultFile struct {
	GroupPublicKey string            `json:"group_public_key"`
	Shares         map[string]string `json:"shares"`
	Commitments    []string          `json:"commitments"`
}

func dkgResultToFile(r *threshold.DKGResult) dkgResultFile {
	shares := make(map[string]string, len(r.Shares))
	for idx, share := range r.Shares {
		shares[fmt.Sprintf("%d", idx)] = share.Text(16)
	}
	commitments := make([]string, len(r.Commitments))
	for i, c := range r.Commitments {
		commitments[i] = hex.EncodeToString(c)
	}
	return dkgResultFile{
		GroupPublicKey: hex.EncodeToString(r.GroupPublicKey),
		Shares:         shares,
		Commitments:    commitments,
	}
}

func dkgResultFromFile(f dkgResultFile) (*threshold.DKGResult, error) {
	pub, err := hex.DecodeString(f.GroupPublicKey)
	if err != nil {
		return nil, fmt.Errorf("conductor: decode group public key: %w", err)
	}
	shares := make(map[int]*big.Int, len(f.Shares))
	for idxStr, shareHex := range f.Shares {
		var idx int
		if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
			return nil, fmt.Errorf("conductor: decode share index %q: %w", idxStr, err)
		}
		share, ok := new(big.Int).SetString(shareHex, 16)
		if !ok {
			return nil, fmt.Errorf("conductor: decode share for validator %d", idx)
		}
		shares[idx] = share
	}
	commitments := make([][]byte, len(f.Commitments))
	for i, c := range f.Commitments {
		b, err := hex.DecodeString(c)
		if err != nil {
			return nil, fmt.Errorf("conductor: decode commitment %d: %w", i, err)
		}
		commitments[i] = b
	}
	return &threshold.DKGResult{GroupPublicKey: pub, Shares: shares, Commitments: commitments}, nil
}

func loadGenesisBundle(path string, self fcommon.ValidatorID) (node.GenesisBundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return node.GenesisBundle{}, fmt.Errorf("conductor: read genesis bundle: %w", err)
	}
	var f genesisFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return node.GenesisBundle{}, fmt.Errorf("conductor: decode genesis bundle: %w", err)
	}

	seed, err := fcommon.HashFromHex(f.Seed)
	if err != nil {
		return node.GenesisBundle{}, fmt.Errorf("conductor: decode genesis seed: %w", err)
	}
	validators := make([]fcommon.ValidatorID, len(f.Validators))
	for i, v := range f.Validators {
		id, err := fcommon.HashFromHex(v)
		if err != nil {
			return node.GenesisBundle{}, fmt.Errorf("conductor: decode validator %d: %w", i, err)
		}
		validators[i] = id
	}
	signing, err := dkgResultFromFile(f.Signing)
	if err != nil {
		return node.GenesisBundle{}, err
	}
	decryption, err := dkgResultFromFile(f.Decryption)
	if err != nil {
		return node.GenesisBundle{}, err
	}

	return node.GenesisBundle{
		Seed:             seed,
		Validators:       validators,
		SelfValidator:    self,
		SigningShares:    signing,
		DecryptionShares: decryption,
		Difficulty:       f.Difficulty,
	}, nil
}
