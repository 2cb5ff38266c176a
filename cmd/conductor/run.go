package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	fcommon "github.com/fediconductor/conductor/common"
	"github.com/fediconductor/conductor/config"
	"github.com/fediconductor/conductor/log"
	"github.com/fediconductor/conductor/node"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to the conductor TOML configuration file",
		Value: "conductor.toml",
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "path to the genesis bundle produced by init-genesis",
		Value: "genesis.json",
	}
	selfValidatorFlag = &cli.StringFlag{
		Name:     "self",
		Usage:    "this node's validator id, hex-encoded",
		Required: true,
	}
)

var commandRun = &cli.Command{
	Name:  "run",
	Usage: "start a conductor node and block until terminated",
	Flags: []cli.Flag{configFlag, genesisFlag, selfValidatorFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := config.Load(ctx.String(configFlag.Name))
		if err != nil {
			return fmt.Errorf("conductor: load config: %w", err)
		}
		log.SetLevel(cfg.LogLevel)

		self, err := fcommon.HashFromHex(ctx.String(selfValidatorFlag.Name))
		if err != nil {
			return fmt.Errorf("conductor: decode --self: %w", err)
		}
		genesis, err := loadGenesisBundle(ctx.String(genesisFlag.Name), self)
		if err != nil {
			return err
		}

		n, err := node.New(cfg, genesis, nil, nil, nil)
		if err != nil {
			return fmt.Errorf("conductor: build node: %w", err)
		}
		defer n.Close()

		if err := n.Start(); err != nil {
			return fmt.Errorf("conductor: start node: %w", err)
		}
		log.Info("conductor running", "self", self.Hex(), "validators", len(genesis.Validators))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("conductor shutting down")
		return nil
	},
}
