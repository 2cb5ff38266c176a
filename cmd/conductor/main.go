// Command conductor is the CLI entrypoint for a federation consensus
// node: it runs the trusted-dealer genesis ceremony, then starts a node
// wired by the node package and blocks until terminated.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	gitCommit = ""
	gitDate   = ""
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Name = "conductor"
	app.Usage = "a Byzantine fault-tolerant federation consensus node"
	app.Version = fmt.Sprintf("git-%s-%s", gitCommit, gitDate)
	app.Commands = []*cli.Command{
		commandInitGenesis,
		commandRun,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
