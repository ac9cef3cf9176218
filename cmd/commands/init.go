package commands

import (
	cfg "daomonitor/config"
	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/p2p"
)

// InitFilesCmd 初始化节点目录：配置文件、node key、monitor数据目录
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the state hash monitor",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(conf *cfg.Config) error {
	if err := cfg.EnsureRoot(conf.RootDir); err != nil {
		return err
	}

	nodeKeyFile := conf.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	logger.Info("Monitor database", "backend", conf.Monitor.DBBackend, "dir", conf.MonitorDBDir())
	return nil
}
