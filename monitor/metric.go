package monitor

import (
	"daomonitor/types"
	jsoniter "github.com/json-iterator/go"
	"sync"
)

func newMonitorMetric(st types.StateType) *monitorMetric {
	return &monitorMetric{
		StateType: st.String(),
		Height:    -1,
	}
}

type monitorMetric struct {
	mtx sync.RWMutex

	StateType        string `json:"state_type"`
	Height           int64  `json:"height"`            // 本地chain的tail高度
	Peers            int    `json:"peers"`             // 有记录的peer数
	InSync           int    `json:"in_sync"`           // 与本地一致的peer数
	InConflict       int    `json:"in_conflict"`       // 与本地冲突的peer数
	SeedConflict     bool   `json:"seed_conflict"`     // 是否与种子节点冲突
	Halted           bool   `json:"halted"`            // 本地chain是否出现断裂
	CheckpointFailed bool   `json:"checkpoint_failed"` // 是否与checkpoint不一致
	RequestFailures  int64  `json:"request_failures"`
	PushesIgnored    int64  `json:"pushes_ignored"`
}

func (mm *monitorMetric) JSONString() string {
	mm.mtx.RLock()
	defer mm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(mm)
	return s
}

func (mm *monitorMetric) MarkHeight(height int64) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.Height = height
}

func (mm *monitorMetric) MarkPeers(peers, inSync, inConflict int, seedConflict bool) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.Peers = peers
	mm.InSync = inSync
	mm.InConflict = inConflict
	mm.SeedConflict = seedConflict
}

func (mm *monitorMetric) MarkHalted(v bool) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.Halted = v
}

func (mm *monitorMetric) MarkCheckpointFailed(v bool) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.CheckpointFailed = v
}

func (mm *monitorMetric) MarkRequestFailure() {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.RequestFailures++
}

func (mm *monitorMetric) MarkPushIgnored() {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.PushesIgnored++
}
