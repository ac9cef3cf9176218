package commands

import (
	cfg "daomonitor/config"
	"daomonitor/store"
	"daomonitor/types"
	"fmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	stateTypeName      string
	fromHeight         int64
	verifyChain        bool
	resetStateTypeName string
)

func init() {
	ShowChainCmd.Flags().StringVar(&stateTypeName, "state-type", "dao", "状态类型: dao, proposal, blind_vote")
	ShowChainCmd.Flags().Int64Var(&fromHeight, "from", 0, "从该高度开始打印")
	ShowChainCmd.Flags().BoolVar(&verifyChain, "verify", false, "校验chain的连续性")

	ResetChainCmd.Flags().StringVar(&resetStateTypeName, "state-type", "", "状态类型，不指定则删除所有类型")
}

// ShowChainCmd 打印持久化的本地hash chain，节点运行时goleveldb被锁住，需要先停节点
var ShowChainCmd = &cobra.Command{
	Use:     "show-chain",
	Aliases: []string{"show_chain"},
	Short:   "Print the persisted local state hash chain",
	PreRun:  deprecateSnakeCase,
	RunE:    showChain,
}

// ResetChainCmd 删除持久化的本地chain，下次启动时从genesis重建
var ResetChainCmd = &cobra.Command{
	Use:     "reset-chain",
	Aliases: []string{"reset_chain"},
	Short:   "Delete the persisted local state hash chains",
	PreRun:  deprecateSnakeCase,
	RunE:    resetChain,
}

func openStore(conf *cfg.Config) (*store.KVStore, error) {
	return store.NewKVStore(cfg.DefaultDBName, conf.Monitor.DBBackend, conf.MonitorDBDir(), logger)
}

func showChain(cmd *cobra.Command, args []string) error {
	st, err := types.ParseStateType(stateTypeName)
	if err != nil {
		return err
	}

	kv, err := openStore(config)
	if err != nil {
		return err
	}
	defer kv.Close()

	hashes, err := kv.LoadChain(st)
	if err != nil {
		return err
	}

	if verifyChain {
		if err := types.ValidateChain(hashes); err != nil {
			return errors.Wrapf(err, "%v chain is broken", st)
		}
		if len(hashes) > 0 && hashes[0].Height != config.Monitor.GenesisHeight {
			return errors.Errorf("%v chain starts at %d, genesis is %d", st, hashes[0].Height, config.Monitor.GenesisHeight)
		}
	}

	for _, sh := range hashes {
		if sh.Height < fromHeight {
			continue
		}
		fmt.Println(sh.String())
	}
	logger.Info("Loaded chain", "stateType", st, "len", len(hashes))
	return nil
}

func resetChain(cmd *cobra.Command, args []string) error {
	stateTypes := types.AllStateTypes()
	if resetStateTypeName != "" {
		st, err := types.ParseStateType(resetStateTypeName)
		if err != nil {
			return err
		}
		stateTypes = []types.StateType{st}
	}

	kv, err := openStore(config)
	if err != nil {
		return err
	}
	defer kv.Close()

	for _, st := range stateTypes {
		if err := kv.DeleteChain(st); err != nil {
			return err
		}
		logger.Info("Deleted chain", "stateType", st)
	}
	return nil
}
