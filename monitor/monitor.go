package monitor

import (
	"daomonitor/config"
	"daomonitor/protocol"
	"daomonitor/store"
	"daomonitor/types"
	"errors"
	"fmt"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"sort"
	"sync"
	"time"
)

// ------ Event ------
// monitor对外发布的事件，事件总是在释放锁之后触发
const (
	EventNewLocalStateHash  = "NewLocalStateHash"  // data: types.StateHash
	EventStateHashesChanged = "StateHashesChanged" // data: types.StateType
	EventCheckpointFail     = "CheckpointFail"     // data: types.Checkpoint
	EventChainCorrupted     = "ChainCorrupted"     // data: types.StateHash
)

const seenPushesCacheSize = 1024

// Listener 操作员侧的回调
type Listener interface {
	OnStateHashesChanged(st types.StateType)
	OnCheckpointFail(st types.StateType, cp types.Checkpoint)
}

type firedEvent struct {
	event string
	data  events.EventData
}

// Monitor 某一种StateType的一致性监控
// 持有本地chain、各peer汇报的chain以及比较结果
// 所有修改都在mtx下进行，事件在释放mtx之后触发
type Monitor struct {
	service.BaseService

	mtx sync.RWMutex

	stateType types.StateType
	config    *config.MonitorConfig

	chain     *types.StateHashChain
	store     ChainStore
	requester *protocol.Requester
	rebuilder StateRebuilder

	peerViews   map[p2p.ID]*PeerStateView
	conflicts   map[p2p.ID]*ConflictRecord
	stateBlocks *stateBlocks
	seedNodes   map[p2p.ID]struct{}
	checkpoints []types.Checkpoint

	halted           bool
	checkpointFailed bool

	eventSwitch events.EventSwitch
	seenPushes  *lru.Cache

	metric *monitorMetric

	// 方便测试替换
	now func() time.Time
}

type MonitorOption func(*Monitor)

func WithStore(s ChainStore) MonitorOption {
	return func(m *Monitor) {
		m.store = s
	}
}

func WithRebuilder(r StateRebuilder) MonitorOption {
	return func(m *Monitor) {
		m.rebuilder = r
	}
}

func WithCheckpoints(cps []types.Checkpoint) MonitorOption {
	return func(m *Monitor) {
		m.checkpoints = cps
	}
}

func WithSeedNodes(ids []p2p.ID) MonitorOption {
	return func(m *Monitor) {
		for _, id := range ids {
			m.seedNodes[id] = struct{}{}
		}
	}
}

func NewMonitor(
	st types.StateType,
	conf *config.MonitorConfig,
	requester *protocol.Requester,
	options ...MonitorOption,
) *Monitor {
	seen, err := lru.New(seenPushesCacheSize)
	if err != nil {
		panic(err)
	}

	m := &Monitor{
		stateType:   st,
		config:      conf,
		chain:       types.NewStateHashChain(conf.GenesisHeight),
		store:       store.NewMockStore(),
		requester:   requester,
		rebuilder:   nopRebuilder{},
		peerViews:   make(map[p2p.ID]*PeerStateView),
		conflicts:   make(map[p2p.ID]*ConflictRecord),
		stateBlocks: newStateBlocks(),
		seedNodes:   make(map[p2p.ID]struct{}),
		checkpoints: []types.Checkpoint{},
		eventSwitch: events.NewEventSwitch(),
		seenPushes:  seen,
		metric:      newMonitorMetric(st),
		now:         time.Now,
	}
	m.BaseService = *service.NewBaseService(nil, fmt.Sprintf("Monitor(%v)", st), m)

	for _, option := range options {
		option(m)
	}
	return m
}

func (m *Monitor) SetLogger(l log.Logger) {
	m.Logger = l
	if m.requester != nil {
		m.requester.SetLogger(l)
	}
}

// OnStart 从store恢复本地chain
func (m *Monitor) OnStart() error {
	if err := m.eventSwitch.Start(); err != nil {
		return err
	}
	if err := m.loadChain(); err != nil {
		m.Logger.Error("persisted chain is corrupt, rebuilding from genesis", "err", err)
		if err := m.ResyncFromGenesis(); err != nil {
			m.Logger.Error("rebuild from genesis failed", "err", err)
		}
	}
	m.Logger.Info("state hash monitor started", "stateType", m.stateType, "height", m.TailHeight())
	return nil
}

// OnStop 取消所有未完成的请求，不调用回调
func (m *Monitor) OnStop() {
	if m.requester != nil {
		m.requester.Stop()
	}
	if err := m.eventSwitch.Stop(); err != nil {
		m.Logger.Error("failed trying to stop eventSwitch", "error", err)
	}
}

func (m *Monitor) loadChain() error {
	hashes, err := m.store.LoadChain(m.stateType)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		return nil
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	// 启动前已经有数据时不覆盖
	if !m.chain.IsEmpty() {
		return nil
	}

	chain := types.NewStateHashChain(m.chain.GenesisHeight())
	for _, sh := range hashes {
		if err := chain.Append(sh); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistedChainBad, err)
		}
	}
	m.chain = chain
	for _, sh := range chain.Hashes() {
		m.stateBlocks.getOrCreate(sh)
		m.verifyCheckpointsLocked(sh)
	}
	m.metric.MarkHeight(chain.TailHeight())
	return nil
}

func (m *Monitor) fire(evs []firedEvent) {
	for _, ev := range evs {
		m.eventSwitch.FireEvent(ev.event, ev.data)
	}
}

// ------ local chain ------

// OnNewLocalStateHash 本地状态构建器生成了新的StateHash
// 断裂时monitor停止接受新的StateHash，直到操作员resync
func (m *Monitor) OnNewLocalStateHash(sh types.StateHash) error {
	m.mtx.Lock()
	evs, err := m.onNewLocalStateHashLocked(sh)
	m.mtx.Unlock()

	m.fire(evs)
	return err
}

// CreateStateHash 根据本地tail计算新的StateHash并加入chain
func (m *Monitor) CreateStateHash(height int64, state []byte) (types.StateHash, error) {
	m.mtx.Lock()
	var prevHash []byte
	if tail, ok := m.chain.Tail(); ok {
		prevHash = tail.Hash
	}
	sh := types.ComputeStateHash(height, prevHash, state)
	evs, err := m.onNewLocalStateHashLocked(sh)
	m.mtx.Unlock()

	m.fire(evs)
	return sh, err
}

func (m *Monitor) onNewLocalStateHashLocked(sh types.StateHash) ([]firedEvent, error) {
	if m.halted {
		return nil, ErrMonitorHalted
	}

	if err := m.chain.Append(sh); err != nil {
		if errors.Is(err, types.ErrChainDiscontinuity) {
			m.halted = true
			m.metric.MarkHalted(true)
			m.Logger.Error("local state hash chain broke continuity, monitor halted",
				"stateType", m.stateType, "stateHash", sh, "tailHeight", m.chain.TailHeight(), "err", err)
			return []firedEvent{{EventChainCorrupted, sh}}, err
		}
		return nil, err
	}

	if err := m.store.SaveStateHash(m.stateType, sh); err != nil {
		m.Logger.Error("persist state hash failed", "stateType", m.stateType, "height", sh.Height, "err", err)
	}
	m.metric.MarkHeight(sh.Height)

	evs := make([]firedEvent, 0, 3)
	if cp, failed := m.verifyCheckpointsLocked(sh); failed {
		evs = append(evs, firedEvent{EventCheckpointFail, cp})
	}

	// 已经汇报过该高度的peer需要重新比较
	m.stateBlocks.getOrCreate(sh)
	for _, view := range m.peerViews {
		if peerHash, ok := view.At(sh.Height); ok {
			m.compareLocked(view)
			m.stateBlocks.getOrCreate(sh).putPeerHash(view.Peer, peerHash)
		}
	}
	m.updatePeerMetricLocked()

	m.Logger.Debug("new local state hash", "stateType", m.stateType, "stateHash", sh)
	evs = append(evs,
		firedEvent{EventNewLocalStateHash, sh},
		firedEvent{EventStateHashesChanged, m.stateType},
	)
	return evs, nil
}

// verifyCheckpointsLocked 只在第一次失败时返回true
func (m *Monitor) verifyCheckpointsLocked(sh types.StateHash) (types.Checkpoint, bool) {
	for _, cp := range m.checkpoints {
		if cp.Matches(sh) {
			continue
		}
		if m.checkpointFailed {
			return cp, false
		}
		m.checkpointFailed = true
		m.metric.MarkCheckpointFailed(true)
		m.Logger.Error("local state hash does not match checkpoint",
			"stateType", m.stateType, "checkpoint", cp, "stateHash", sh)
		return cp, true
	}
	return types.Checkpoint{}, false
}

// ------ polling ------

// PollAllPeers 向所有peer请求hash chain，单个peer的错误不影响其他peer
// 返回成功发出的请求数
func (m *Monitor) PollAllPeers(peers []p2p.ID) int {
	sent := 0
	for _, peer := range peers {
		if err := m.PollPeer(peer); err != nil {
			if errors.Is(err, protocol.ErrRequestAlreadyInFlight) {
				m.Logger.Debug("skip poll, request in flight", "peer", peer, "stateType", m.stateType)
				continue
			}
			m.Logger.Info("poll peer failed", "peer", peer, "stateType", m.stateType, "err", err)
			m.metric.MarkRequestFailure()
			continue
		}
		sent++
	}
	return sent
}

func (m *Monitor) PollPeer(peer p2p.ID) error {
	return m.request(peer, m.nextFromHeight(peer))
}

// RequestHashesFromGenesis 请求peer的完整chain
func (m *Monitor) RequestHashesFromGenesis(peer p2p.ID) error {
	return m.request(peer, m.GenesisHeight())
}

// nextFromHeight 上次汇报的高度+1，
// 并向前回退RecheckDepth个高度，使每次请求都覆盖本地最新的几个高度
func (m *Monitor) nextFromHeight(peer p2p.ID) int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	genesis := m.chain.GenesisHeight()
	from := genesis
	if view, ok := m.peerViews[peer]; ok && !view.IsEmpty() {
		from = view.TailHeight() + 1
	}
	if m.config.RecheckDepth > 0 && !m.chain.IsEmpty() {
		recheck := m.chain.TailHeight() - m.config.RecheckDepth + 1
		if recheck < from {
			from = recheck
		}
	}
	if from < genesis {
		from = genesis
	}
	return from
}

func (m *Monitor) request(peer p2p.ID, fromHeight int64) error {
	return m.requester.Request(peer, fromHeight, m.onRequestComplete)
}

// onRequestComplete 失败的请求只记录，peer的状态保持不变
func (m *Monitor) onRequestComplete(res protocol.Result) {
	if res.Err != nil {
		m.metric.MarkRequestFailure()
		m.Logger.Info("state hash request failed", "peer", res.Peer, "stateType", m.stateType,
			"fromHeight", res.FromHeight, "err", res.Err)
		return
	}
	m.OnPeerChainReceived(res.Peer, res.Hashes)
}

// HandleResponse/HandleTimeout 由Reactor的receive routine调用
func (m *Monitor) HandleResponse(peer p2p.ID, resp *protocol.HashesResponse) bool {
	return m.requester.HandleResponse(peer, resp)
}

func (m *Monitor) HandleTimeout(ti protocol.TimeoutInfo) bool {
	return m.requester.HandleTimeout(ti)
}

// ------ comparison ------

// OnPeerChainReceived peer汇报了一段hash chain，替换该peer的记录并与本地比较
// 空的回复只刷新LastUpdate
func (m *Monitor) OnPeerChainReceived(peer p2p.ID, hashes []types.StateHash) {
	m.mtx.Lock()
	evs := m.onPeerChainReceivedLocked(peer, hashes)
	m.mtx.Unlock()

	m.fire(evs)
}

func (m *Monitor) onPeerChainReceivedLocked(peer p2p.ID, hashes []types.StateHash) []firedEvent {
	view, ok := m.peerViews[peer]
	if !ok {
		view = newPeerStateView(peer, m.isSeedNode(peer))
		m.peerViews[peer] = view
	}
	view.LastUpdate = m.now()
	if len(hashes) == 0 {
		return nil
	}

	view.ReportedChain = make([]types.StateHash, 0, len(hashes))
	for _, sh := range hashes {
		view.ReportedChain = append(view.ReportedChain, sh.Copy())
	}

	m.compareLocked(view)
	m.updateStateBlocksLocked(view)
	m.updatePeerMetricLocked()

	return []firedEvent{{EventStateHashesChanged, m.stateType}}
}

// OnPeerStateHashPushed peer广播的最新StateHash
// 高于本地tail的push说明对方领先，忽略；重复的push直接丢弃
// 不高于peer已汇报tail的push可能是乱序到达的旧push，只记录到StateBlock，不改变比较结果
func (m *Monitor) OnPeerStateHashPushed(peer p2p.ID, sh types.StateHash) bool {
	key := fmt.Sprintf("%v/%d/%X", peer, sh.Height, []byte(sh.Hash))
	if m.seenPushes.Contains(key) {
		return false
	}

	m.mtx.Lock()
	if tailHeight := m.chain.TailHeight(); m.chain.IsEmpty() || sh.Height > tailHeight {
		m.mtx.Unlock()
		m.metric.MarkPushIgnored()
		m.Logger.Debug("ignore push above local tail", "peer", peer, "stateHash", sh, "tailHeight", tailHeight)
		return false
	}

	view, ok := m.peerViews[peer]
	if ok && !view.IsEmpty() && sh.Height <= view.TailHeight() {
		accepted := m.onStalePushLocked(view, sh)
		m.mtx.Unlock()
		if !accepted {
			m.metric.MarkPushIgnored()
			return false
		}
		m.seenPushes.Add(key, struct{}{})
		m.fire([]firedEvent{{EventStateHashesChanged, m.stateType}})
		return true
	}

	hashes := []types.StateHash{sh}
	// 能接上之前汇报的chain时追加，否则作为单个元素的chain处理
	if ok && !view.IsEmpty() {
		if tail := view.ReportedChain[len(view.ReportedChain)-1]; tail.Links(sh) {
			hashes = append(append(make([]types.StateHash, 0, len(view.ReportedChain)+1), view.ReportedChain...), sh)
		}
	}
	evs := m.onPeerChainReceivedLocked(peer, hashes)
	m.mtx.Unlock()

	m.seenPushes.Add(key, struct{}{})
	m.fire(evs)
	return true
}

// onStalePushLocked sh.Height <= view.TailHeight()
// 与peer已汇报的hash矛盾时拒绝，等下一次poll刷新
func (m *Monitor) onStalePushLocked(view *PeerStateView, sh types.StateHash) bool {
	if reported, ok := view.At(sh.Height); ok && !reported.Equal(sh) {
		m.Logger.Debug("ignore push contradicting reported chain", "peer", view.Peer,
			"stateHash", sh, "reported", reported)
		return false
	}
	view.LastUpdate = m.now()
	if local, ok := m.chain.At(sh.Height); ok {
		m.stateBlocks.getOrCreate(local).putPeerHash(view.Peer, sh.Copy())
	}
	return true
}

// compareLocked 取本地chain和peer chain共同的最高高度进行比较
// 没有共同高度时状态不变
func (m *Monitor) compareLocked(view *PeerStateView) {
	if view.IsEmpty() || m.chain.IsEmpty() {
		return
	}

	high := m.chain.TailHeight()
	if view.TailHeight() < high {
		high = view.TailHeight()
	}
	low := m.chain.GenesisHeight()
	if view.FirstHeight() > low {
		low = view.FirstHeight()
	}
	if high < low {
		return
	}

	local, _ := m.chain.At(high)
	remote, _ := view.At(high)
	view.ComparedHeight = high

	if local.Equal(remote) {
		if view.Status == PeerStatusInConflict {
			m.Logger.Info("peer back in sync", "peer", view.Peer, "stateType", m.stateType, "height", high)
		}
		view.Status = PeerStatusInSync
		delete(m.conflicts, view.Peer)
		return
	}

	if view.Status != PeerStatusInConflict {
		m.Logger.Error("state hash conflict with peer", "peer", view.Peer, "stateType", m.stateType,
			"height", high, "local", local, "remote", remote, "seedNode", view.IsSeedNode)
	}
	view.Status = PeerStatusInConflict

	detectedAt := m.now()
	if prev, ok := m.conflicts[view.Peer]; ok && prev.Height == high {
		detectedAt = prev.DetectedAt
	}
	m.conflicts[view.Peer] = &ConflictRecord{
		Peer:          view.Peer,
		Height:        high,
		MyStateHash:   local.Copy(),
		PeerStateHash: remote.Copy(),
		IsSeedNode:    view.IsSeedNode,
		DetectedAt:    detectedAt,
	}
}

// updateStateBlocksLocked 所有共同高度都记录peer的hash
func (m *Monitor) updateStateBlocksLocked(view *PeerStateView) {
	for _, sh := range view.ReportedChain {
		local, ok := m.chain.At(sh.Height)
		if !ok {
			continue
		}
		m.stateBlocks.getOrCreate(local).putPeerHash(view.Peer, sh)
	}
}

func (m *Monitor) updatePeerMetricLocked() {
	inSync, inConflict := 0, 0
	for _, view := range m.peerViews {
		switch view.Status {
		case PeerStatusInSync:
			inSync++
		case PeerStatusInConflict:
			inConflict++
		}
	}
	m.metric.MarkPeers(len(m.peerViews), inSync, inConflict, m.inConflictWithLocked(true))
}

func (m *Monitor) isSeedNode(peer p2p.ID) bool {
	_, ok := m.seedNodes[peer]
	return ok
}

// ------ queries ------

func (m *Monitor) IsInConflict() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.conflicts) > 0
}

func (m *Monitor) IsInConflictWithSeedNode() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.inConflictWithLocked(true)
}

func (m *Monitor) IsInConflictWithNonSeedNode() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.inConflictWithLocked(false)
}

func (m *Monitor) inConflictWithLocked(seed bool) bool {
	for _, cr := range m.conflicts {
		if cr.IsSeedNode == seed {
			return true
		}
	}
	return false
}

func (m *Monitor) GetLocalChain(fromHeight int64) []types.StateHash {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.chain.From(fromHeight, 0)
}

// HashesFrom 回复peer的请求，最多MaxHashesPerResponse个
func (m *Monitor) HashesFrom(fromHeight int64) []types.StateHash {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.chain.From(fromHeight, m.config.MaxHashesPerResponse)
}

func (m *Monitor) GetPeerViews() []PeerStateView {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	res := make([]PeerStateView, 0, len(m.peerViews))
	for _, view := range m.peerViews {
		res = append(res, view.Copy())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Peer < res[j].Peer })
	return res
}

func (m *Monitor) GetPeerView(peer p2p.ID) (PeerStateView, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	view, ok := m.peerViews[peer]
	if !ok {
		return PeerStateView{}, false
	}
	return view.Copy(), true
}

func (m *Monitor) GetConflicts() []ConflictRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	res := make([]ConflictRecord, 0, len(m.conflicts))
	for _, cr := range m.conflicts {
		res = append(res, *cr)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Peer < res[j].Peer })
	return res
}

func (m *Monitor) GetStateBlocks(fromHeight int64) []StateBlock {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.stateBlocks.from(fromHeight)
}

func (m *Monitor) TailHeight() int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.chain.TailHeight()
}

func (m *Monitor) GenesisHeight() int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.chain.GenesisHeight()
}

func (m *Monitor) Halted() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.halted
}

func (m *Monitor) CheckpointFailed() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.checkpointFailed
}

func (m *Monitor) StateType() types.StateType {
	return m.stateType
}

func (m *Monitor) Requester() *protocol.Requester {
	return m.requester
}

// JSONString implements metric.MetricItem.
func (m *Monitor) JSONString() string {
	return m.metric.JSONString()
}

// ------ resync ------

// ResyncFromGenesis 只能由操作员触发
// 清空本地chain(内存和store)、peer记录、冲突和StateBlock，然后让状态构建器从genesis重新计算
// 未完成的请求不取消，回来的结果会与新的本地chain比较
func (m *Monitor) ResyncFromGenesis() error {
	m.mtx.Lock()
	if err := m.store.DeleteChain(m.stateType); err != nil {
		m.mtx.Unlock()
		return err
	}
	m.chain.Reset()
	m.peerViews = make(map[p2p.ID]*PeerStateView)
	m.conflicts = make(map[p2p.ID]*ConflictRecord)
	m.stateBlocks.clear()
	m.halted = false
	m.checkpointFailed = false
	m.seenPushes.Purge()
	m.metric.MarkHalted(false)
	m.metric.MarkCheckpointFailed(false)
	m.metric.MarkHeight(m.chain.TailHeight())
	m.updatePeerMetricLocked()
	m.mtx.Unlock()

	m.Logger.Info("resync from genesis", "stateType", m.stateType)
	m.fire([]firedEvent{{EventStateHashesChanged, m.stateType}})

	// rebuilder可能同步调用OnNewLocalStateHash，不能持有锁
	return m.rebuilder.RebuildFromGenesis(m.stateType)
}

// ------ listeners ------

func (m *Monitor) AddListener(id string, l Listener) error {
	if err := m.eventSwitch.AddListenerForEvent(id, EventStateHashesChanged, func(data events.EventData) {
		l.OnStateHashesChanged(m.stateType)
	}); err != nil {
		return err
	}
	return m.eventSwitch.AddListenerForEvent(id, EventCheckpointFail, func(data events.EventData) {
		l.OnCheckpointFail(m.stateType, data.(types.Checkpoint))
	})
}

// Subscribe 订阅单个事件
func (m *Monitor) Subscribe(id, event string, cb events.EventCallback) error {
	return m.eventSwitch.AddListenerForEvent(id, event, cb)
}

func (m *Monitor) RemoveListener(id string) {
	m.eventSwitch.RemoveListener(id)
}
