package monitor

import (
	"daomonitor/types"
	"fmt"
)

// ChainStore 本地chain的持久化
type ChainStore interface {
	SaveStateHash(st types.StateType, sh types.StateHash) error
	LoadChain(st types.StateType) ([]types.StateHash, error)
	DeleteChain(st types.StateType) error
}

// StateRebuilder 外部的状态构建器，resync后从genesis重新计算所有StateHash
// 重新计算的结果通过Monitor.OnNewLocalStateHash/CreateStateHash回到Monitor
type StateRebuilder interface {
	RebuildFromGenesis(st types.StateType) error
}

type nopRebuilder struct{}

func (nopRebuilder) RebuildFromGenesis(st types.StateType) error {
	return fmt.Errorf("%w for %v", ErrNoRebuilder, st)
}

// RebuilderFunc 方便直接使用函数作为StateRebuilder
type RebuilderFunc func(st types.StateType) error

func (f RebuilderFunc) RebuildFromGenesis(st types.StateType) error {
	return f(st)
}
