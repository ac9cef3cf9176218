package main

import (
	cmd "daomonitor/cmd/commands"
	nm "daomonitor/node"
	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/cli"
	"os"
	"path/filepath"
)

func main() {
	cfg.DefaultTendermintDir = ".daomonitor"
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	// NOTE:
	// Users wishing to plug in a state builder that can rebuild the
	// dao state from genesis can copy this file and pass
	// node.WithStateRebuilder to NewNode instead of DefaultNewNode
	nodeFunc := nm.DefaultNewNode

	// Create & start node
	rootCmd.AddCommand(
		cmd.GenNodeKeyCmd,
		cmd.ShowNodeIDCmd,
		cmd.ShowChainCmd,
		cmd.ResetChainCmd,
		cmd.NewRunNodeCmd(nodeFunc),
	)
	cmd := cli.PrepareBaseCmd(rootCmd, "DM", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultTendermintDir)))

	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}
