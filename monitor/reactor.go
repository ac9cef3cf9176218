package monitor

import (
	"daomonitor/config"
	"daomonitor/protocol"
	"daomonitor/types"
	"fmt"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/p2p"
	"sync"
	"time"
)

const (
	StateHashChannel = byte(0x50)

	maxMsgSize = 4 * 1024 * 1024

	msgQueueSize     = 1000
	timeoutQueueSize = 256

	reactorListenerID = "monitor-reactor"
)

// msgInfo 从peer收到的、需要在receive routine里处理的消息
type msgInfo struct {
	Msg    protocol.Message
	PeerID p2p.ID
}

// ------- Reactor ------
// Reactor 把三个Monitor绑定到p2p网络上
// HashesRequest直接在Receive中回复，其余消息以及请求超时、定时poll都交给receiveRoutine串行处理
type Reactor struct {
	p2p.BaseReactor

	mtx sync.RWMutex

	config   *config.MonitorConfig
	monitors map[types.StateType]*Monitor

	peers *cmap.CMap

	msgQueue  chan msgInfo
	timeoutCh chan protocol.TimeoutInfo

	// 方便测试关闭定时poll
	pollEnabled bool
}

type ReactorOption func(*Reactor)

func WithoutPolling() ReactorOption {
	return func(r *Reactor) {
		r.pollEnabled = false
	}
}

func NewReactor(conf *config.MonitorConfig, options ...ReactorOption) *Reactor {
	r := &Reactor{
		config:      conf,
		monitors:    make(map[types.StateType]*Monitor),
		peers:       cmap.NewCMap(),
		msgQueue:    make(chan msgInfo, msgQueueSize),
		timeoutCh:   make(chan protocol.TimeoutInfo, timeoutQueueSize),
		pollEnabled: true,
	}
	r.BaseReactor = *p2p.NewBaseReactor("StateHashMonitor", r)

	for _, option := range options {
		option(r)
	}
	return r
}

// NewRequester 创建以本Reactor为transport的Requester，超时事件交给receiveRoutine
func (r *Reactor) NewRequester(st types.StateType, options ...protocol.RequesterOption) *protocol.Requester {
	opts := append([]protocol.RequesterOption{
		protocol.WithTimeout(r.config.RequestTimeout),
		protocol.WithTimeoutChan(r.timeoutCh),
	}, options...)
	return protocol.NewRequester(st, r, opts...)
}

// AddMonitor 必须在Start之前调用
func (r *Reactor) AddMonitor(m *Monitor) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.monitors[m.StateType()]; ok {
		return fmt.Errorf("%w: %v", ErrMonitorExists, m.StateType())
	}
	r.monitors[m.StateType()] = m
	return nil
}

func (r *Reactor) Monitor(st types.StateType) (*Monitor, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	m, ok := r.monitors[st]
	return m, ok
}

// GetMonitor 没有注册该StateType时返回ErrUnknownStateType
func (r *Reactor) GetMonitor(st types.StateType) (*Monitor, error) {
	m, ok := r.Monitor(st)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownStateType, st)
	}
	return m, nil
}

// Monitors 按StateType排序返回
func (r *Reactor) Monitors() []*Monitor {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	res := make([]*Monitor, 0, len(r.monitors))
	for _, st := range types.AllStateTypes() {
		if m, ok := r.monitors[st]; ok {
			res = append(res, m)
		}
	}
	return res
}

// SetLogger sets the Logger on the reactor and the underlying monitors.
func (r *Reactor) SetLogger(l log.Logger) {
	r.Logger = l
	for _, m := range r.Monitors() {
		m.SetLogger(l.With("stateType", m.StateType()))
	}
}

// OnStart implements p2p.BaseReactor.
func (r *Reactor) OnStart() error {
	for _, m := range r.Monitors() {
		if err := m.Start(); err != nil {
			return err
		}
		r.subscribeToBroadcastEvents(m)
	}
	go r.receiveRoutine()
	r.Logger.Info("State hash monitor reactor started.")
	return nil
}

// OnStop 停止monitor，未完成的请求直接取消
func (r *Reactor) OnStop() {
	for _, m := range r.Monitors() {
		m.RemoveListener(reactorListenerID)
		if err := m.Stop(); err != nil {
			r.Logger.Error("failed trying to stop monitor", "stateType", m.StateType(), "err", err)
		}
	}
}

// GetChannels implements Reactor.
func (r *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  StateHashChannel,
			Priority:            5,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  50 * 4096,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

// AddPeer implements Reactor.
// 新连接的peer立即请求一次
func (r *Reactor) AddPeer(peer p2p.Peer) {
	r.peers.Set(string(peer.ID()), peer)
	for _, m := range r.Monitors() {
		if err := m.PollPeer(peer.ID()); err != nil {
			r.Logger.Info("initial poll failed", "peer", peer.ID(), "stateType", m.StateType(), "err", err)
		}
	}
}

// RemovePeer implements Reactor.
// 未完成的请求等待自己的超时，peer的记录保留
func (r *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	r.peers.Delete(string(peer.ID()))
}

// Receive implements Reactor.
func (r *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	if !r.IsRunning() {
		r.Logger.Debug("Receive", "src", src, "chID", chID, "bytes", msgBytes)
		return
	}
	if chID != StateHashChannel {
		r.Logger.Error(fmt.Sprintf("Unknown chID %X", chID))
		return
	}

	msg, err := protocol.DecodeMsg(msgBytes)
	if err != nil {
		r.Logger.Error("Error decoding message", "src", src, "chId", chID, "err", err)
		return
	}

	m, err := r.GetMonitor(msg.GetStateType())
	if err != nil {
		r.Logger.Error("Error dispatching message", "src", src, "msg", msg, "err", err)
		return
	}

	switch msg := msg.(type) {
	case *protocol.HashesRequest:
		r.respond(src, m, msg)

	case *protocol.HashesResponse, *protocol.NewHashPush:
		select {
		case r.msgQueue <- msgInfo{Msg: msg, PeerID: src.ID()}:
		case <-r.Quit():
		}

	default:
		r.Logger.Error(fmt.Sprintf("Unknown message type %T", msg))
	}
}

// respond 请求直接从本地chain回复，不经过receiveRoutine
func (r *Reactor) respond(src p2p.Peer, m *Monitor, req *protocol.HashesRequest) {
	resp := &protocol.HashesResponse{
		StateType:    req.StateType,
		StateHashes:  m.HashesFrom(req.FromHeight),
		RequestNonce: req.Nonce,
	}
	bz, err := protocol.EncodeMsg(resp)
	if err != nil {
		r.Logger.Error("Marshal HashesResponse failed.", "err", err)
		return
	}
	if !src.Send(StateHashChannel, bz) {
		r.Logger.Info("send response failed", "peer", src.ID(), "msg", resp)
	}
}

// SendTo implements protocol.Transport.
func (r *Reactor) SendTo(peerID p2p.ID, msgBytes []byte) bool {
	v := r.peers.Get(string(peerID))
	if v == nil {
		return false
	}
	return v.(p2p.Peer).Send(StateHashChannel, msgBytes)
}

// PeerIDs 当前连接的所有peer
func (r *Reactor) PeerIDs() []p2p.ID {
	vals := r.peers.Values()
	res := make([]p2p.ID, 0, len(vals))
	for _, v := range vals {
		res = append(res, v.(p2p.Peer).ID())
	}
	return res
}

// PollNow 立即向所有peer请求一次
func (r *Reactor) PollNow() {
	peers := r.PeerIDs()
	for _, m := range r.Monitors() {
		m.PollAllPeers(peers)
	}
}

// receiveRoutine 串行处理回复、push、超时以及定时poll
func (r *Reactor) receiveRoutine() {
	r.Logger.Debug("monitor receive routine starts.")

	var pollCh <-chan time.Time
	if r.pollEnabled {
		ticker := time.NewTicker(r.config.PollInterval)
		defer ticker.Stop()
		pollCh = ticker.C
	}

	for {
		select {
		case <-r.Quit():
			r.Logger.Info("receiveRoutine quit.")
			return

		case mi := <-r.msgQueue:
			r.handleMsg(mi)

		case ti := <-r.timeoutCh:
			if m, ok := r.Monitor(ti.StateType); ok {
				m.HandleTimeout(ti)
			}

		case <-pollCh:
			r.PollNow()
		}
	}
}

func (r *Reactor) handleMsg(mi msgInfo) {
	m, ok := r.Monitor(mi.Msg.GetStateType())
	if !ok {
		return
	}

	switch msg := mi.Msg.(type) {
	case *protocol.HashesResponse:
		if !m.HandleResponse(mi.PeerID, msg) {
			r.Logger.Debug("unmatched response", "peer", mi.PeerID, "msg", msg)
		}
	case *protocol.NewHashPush:
		m.OnPeerStateHashPushed(mi.PeerID, msg.StateHash)
	}
}

// subscribeToBroadcastEvents 本地chain增长后延迟一段随机时间广播
func (r *Reactor) subscribeToBroadcastEvents(m *Monitor) {
	st := m.StateType()
	err := m.Subscribe(reactorListenerID, EventNewLocalStateHash, func(data events.EventData) {
		sh := data.(types.StateHash)
		go r.broadcastPushAfterDelay(&protocol.NewHashPush{StateType: st, StateHash: sh})
	})
	if err != nil {
		r.Logger.Error("subscribe to monitor events failed", "stateType", st, "err", err)
	}
}

func (r *Reactor) broadcastPushAfterDelay(push *protocol.NewHashPush) {
	delay := r.config.BroadcastDelayMin
	if span := r.config.BroadcastDelayMax - r.config.BroadcastDelayMin; span > 0 {
		delay += time.Duration(tmrand.Int63n(int64(span)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.Quit():
		return
	}

	bz, err := protocol.EncodeMsg(push)
	if err != nil {
		r.Logger.Error("Marshal NewHashPush failed.", "err", err)
		return
	}
	if r.Switch == nil {
		return
	}
	r.Logger.Debug("ready to broadcast NewHashPush", "push", push)
	r.Switch.Broadcast(StateHashChannel, bz)
}
