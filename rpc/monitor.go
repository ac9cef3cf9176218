package rpc

import (
	"daomonitor/monitor"
	"daomonitor/types"
	"github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/p2p"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultStatus struct {
	Peers    []p2p.ID              `json:"peers"`
	Monitors []ResultMonitorStatus `json:"monitors"`
}

// ResultMonitorStatus 某一种StateType的一致性状态
type ResultMonitorStatus struct {
	StateType        string         `json:"state_type"`
	GenesisHeight    int64          `json:"genesis_height"`
	Height           int64          `json:"height"`
	TailHash         bytes.HexBytes `json:"tail_hash"`
	Halted           bool           `json:"halted"`
	CheckpointFailed bool           `json:"checkpoint_failed"`

	InConflict                bool `json:"in_conflict"`
	InConflictWithSeedNode    bool `json:"in_conflict_with_seed_node"`
	InConflictWithNonSeedNode bool `json:"in_conflict_with_non_seed_node"`

	NumPeers     int `json:"num_peers"`
	NumConflicts int `json:"num_conflicts"`
}

type ResultChain struct {
	StateType   string            `json:"state_type"`
	StateHashes []types.StateHash `json:"state_hashes"`
}

type ResultPeerViews struct {
	StateType string                  `json:"state_type"`
	Views     []monitor.PeerStateView `json:"views"`
}

type ResultConflicts struct {
	Conflicts map[string][]monitor.ConflictRecord `json:"conflicts"`
}

type ResultStateBlocks struct {
	StateType string               `json:"state_type"`
	Blocks    []monitor.StateBlock `json:"blocks"`
}

type ResultStateHash struct {
	StateType string          `json:"state_type"`
	StateHash types.StateHash `json:"state_hash"`
}

type ResultPoll struct {
	Peers int `json:"peers"`
}

type ResultResync struct {
	StateType string `json:"state_type"`
	Height    int64  `json:"height"`
}

func monitorStatus(m *monitor.Monitor) ResultMonitorStatus {
	status := ResultMonitorStatus{
		StateType:                 m.StateType().String(),
		GenesisHeight:             m.GenesisHeight(),
		Height:                    m.TailHeight(),
		Halted:                    m.Halted(),
		CheckpointFailed:          m.CheckpointFailed(),
		InConflict:                m.IsInConflict(),
		InConflictWithSeedNode:    m.IsInConflictWithSeedNode(),
		InConflictWithNonSeedNode: m.IsInConflictWithNonSeedNode(),
		NumPeers:                  len(m.GetPeerViews()),
		NumConflicts:              len(m.GetConflicts()),
	}
	if tail := m.GetLocalChain(status.Height); len(tail) > 0 {
		status.TailHash = tail[0].Hash
	}
	return status
}

// ConsensusStatus 所有StateType的一致性概况
func ConsensusStatus(ctx *rpctypes.Context) (*ResultStatus, error) {
	res := &ResultStatus{
		Peers:    env.Reactor.PeerIDs(),
		Monitors: []ResultMonitorStatus{},
	}
	for _, m := range env.Reactor.Monitors() {
		res.Monitors = append(res.Monitors, monitorStatus(m))
	}
	return res, nil
}

func LocalChain(ctx *rpctypes.Context, stateType string, fromHeight int64) (*ResultChain, error) {
	m, err := getMonitor(stateType)
	if err != nil {
		return nil, err
	}
	return &ResultChain{
		StateType:   m.StateType().String(),
		StateHashes: m.GetLocalChain(fromHeight),
	}, nil
}

func PeerViews(ctx *rpctypes.Context, stateType string) (*ResultPeerViews, error) {
	m, err := getMonitor(stateType)
	if err != nil {
		return nil, err
	}
	return &ResultPeerViews{
		StateType: m.StateType().String(),
		Views:     m.GetPeerViews(),
	}, nil
}

// Conflicts state_type为空时返回所有类型
func Conflicts(ctx *rpctypes.Context, stateType string) (*ResultConflicts, error) {
	var monitors []*monitor.Monitor
	if stateType == "" {
		monitors = env.Reactor.Monitors()
	} else {
		m, err := getMonitor(stateType)
		if err != nil {
			return nil, err
		}
		monitors = []*monitor.Monitor{m}
	}

	res := &ResultConflicts{Conflicts: make(map[string][]monitor.ConflictRecord)}
	for _, m := range monitors {
		res.Conflicts[m.StateType().String()] = m.GetConflicts()
	}
	return res, nil
}

func StateBlocks(ctx *rpctypes.Context, stateType string, fromHeight int64) (*ResultStateBlocks, error) {
	m, err := getMonitor(stateType)
	if err != nil {
		return nil, err
	}
	return &ResultStateBlocks{
		StateType: m.StateType().String(),
		Blocks:    m.GetStateBlocks(fromHeight),
	}, nil
}

// NewStateHash 由外部的状态构建器调用，state为该高度的完整状态
func NewStateHash(ctx *rpctypes.Context, stateType string, height int64, state string) (*ResultStateHash, error) {
	m, err := getMonitor(stateType)
	if err != nil {
		return nil, err
	}
	sh, err := m.CreateStateHash(height, []byte(state))
	if err != nil {
		return nil, err
	}
	return &ResultStateHash{
		StateType: m.StateType().String(),
		StateHash: sh,
	}, nil
}

func PollPeers(ctx *rpctypes.Context) (*ResultPoll, error) {
	env.Reactor.PollNow()
	return &ResultPoll{Peers: len(env.Reactor.PeerIDs())}, nil
}

// Resync 清空本地chain，从genesis重新构建
func Resync(ctx *rpctypes.Context, stateType string) (*ResultResync, error) {
	m, err := getMonitor(stateType)
	if err != nil {
		return nil, err
	}
	if err := m.ResyncFromGenesis(); err != nil {
		return nil, err
	}
	return &ResultResync{
		StateType: m.StateType().String(),
		Height:    m.TailHeight(),
	}, nil
}
