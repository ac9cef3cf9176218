package protocol

import (
	"daomonitor/types"
	"fmt"
	"github.com/tendermint/tendermint/libs/log"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/p2p"
	"math"
	"sync"
	"time"
)

const (
	DefaultRequestTimeout = 120 * time.Second

	defaultTimeoutQueueSize = 64
)

// Transport 发送消息给指定的peer，返回false表示发送失败
type Transport interface {
	SendTo(peer p2p.ID, msgBytes []byte) bool
}

// Result 一次请求的最终结果，Err为nil时Hashes有效
type Result struct {
	Peer       p2p.ID
	FromHeight int64
	Hashes     []types.StateHash
	Err        error
}

type CompletionFunc func(Result)

// TimeoutInfo 请求超时后投递给owner的超时事件
type TimeoutInfo struct {
	StateType types.StateType `json:"state_type"`
	Peer      p2p.ID          `json:"peer"`
	Nonce     int32           `json:"nonce"`
}

func (ti TimeoutInfo) String() string {
	return fmt.Sprintf("[Timeout %v peer:%v nonce:%d]", ti.StateType, ti.Peer, ti.Nonce)
}

type pendingRequest struct {
	nonce      int32
	fromHeight int64
	sentAt     time.Time
	deadline   time.Time
	timer      *time.Timer
	onComplete CompletionFunc
}

// Requester 管理某一种StateType的请求/回复
// 每个peer同时最多一个未完成的请求，每个请求一个timer
// 超时事件通过timeoutCh交给owner，由owner在自己的routine里调用HandleTimeout，
// 这样response和timeout在同一个routine里处理，一个请求只会完成一次
type Requester struct {
	mtx sync.Mutex

	stateType types.StateType
	transport Transport
	timeout   time.Duration
	nonceFunc func() int32

	pending   map[p2p.ID]*pendingRequest
	timeoutCh chan TimeoutInfo

	quit     chan struct{}
	stopOnce sync.Once

	metric *requesterMetric
	Logger log.Logger
}

type RequesterOption func(*Requester)

func WithTimeout(timeout time.Duration) RequesterOption {
	return func(r *Requester) {
		r.timeout = timeout
	}
}

func WithNonceFunc(f func() int32) RequesterOption {
	return func(r *Requester) {
		r.nonceFunc = f
	}
}

// WithTimeoutChan 多个Requester可以共用同一个超时chan
func WithTimeoutChan(ch chan TimeoutInfo) RequesterOption {
	return func(r *Requester) {
		r.timeoutCh = ch
	}
}

func NewRequester(st types.StateType, transport Transport, options ...RequesterOption) *Requester {
	r := &Requester{
		stateType: st,
		transport: transport,
		timeout:   DefaultRequestTimeout,
		nonceFunc: tmrand.Int31,
		pending:   make(map[p2p.ID]*pendingRequest),
		quit:      make(chan struct{}),
		metric:    newRequesterMetric(),
		Logger:    log.NewNopLogger(),
	}

	for _, option := range options {
		option(r)
	}

	if r.timeoutCh == nil {
		r.timeoutCh = make(chan TimeoutInfo, defaultTimeoutQueueSize)
	}
	return r
}

func (r *Requester) SetLogger(l log.Logger) {
	r.Logger = l
}

func (r *Requester) StateType() types.StateType {
	return r.stateType
}

// TimeoutChan 超时事件，owner读取后调用HandleTimeout
func (r *Requester) TimeoutChan() <-chan TimeoutInfo {
	return r.timeoutCh
}

// Request 向peer请求从fromHeight开始的hash chain
// 返回error时onComplete不会被调用
func (r *Requester) Request(peer p2p.ID, fromHeight int64, onComplete CompletionFunc) error {
	if fromHeight < 0 || fromHeight > math.MaxInt32 {
		return ErrInvalidFromHeight
	}

	select {
	case <-r.quit:
		return ErrRequesterStopped
	default:
	}

	r.mtx.Lock()
	if _, ok := r.pending[peer]; ok {
		r.mtx.Unlock()
		return ErrRequestAlreadyInFlight
	}
	req := &pendingRequest{
		nonce:      r.nonceFunc(),
		fromHeight: fromHeight,
		sentAt:     time.Now(),
		onComplete: onComplete,
	}
	// 先登记再发送，回复可能在SendTo返回之前到达
	r.pending[peer] = req
	r.mtx.Unlock()

	msg := &HashesRequest{StateType: r.stateType, FromHeight: fromHeight, Nonce: req.nonce}
	bz, err := EncodeMsg(msg)
	if err != nil {
		r.removeIfCurrent(peer, req)
		return err
	}

	if !r.transport.SendTo(peer, bz) {
		r.removeIfCurrent(peer, req)
		r.metric.MarkSendFailure()
		r.Logger.Debug("send request failed", "peer", peer, "msg", msg)
		return fmt.Errorf("%w: peer %v", ErrSendFailure, peer)
	}
	r.metric.MarkSent()

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if cur, ok := r.pending[peer]; ok && cur == req {
		req.deadline = time.Now().Add(r.timeout)
		ti := TimeoutInfo{StateType: r.stateType, Peer: peer, Nonce: req.nonce}
		req.timer = time.AfterFunc(r.timeout, func() { r.deliverTimeout(ti) })
	}
	r.Logger.Debug("sent request", "peer", peer, "msg", msg)
	return nil
}

func (r *Requester) deliverTimeout(ti TimeoutInfo) {
	select {
	case r.timeoutCh <- ti:
	case <-r.quit:
	}
}

func (r *Requester) removeIfCurrent(peer p2p.ID, req *pendingRequest) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if cur, ok := r.pending[peer]; ok && cur == req {
		delete(r.pending, peer)
	}
}

// HandleTimeout 过期的超时事件(请求已完成或nonce不一致)直接忽略
func (r *Requester) HandleTimeout(ti TimeoutInfo) bool {
	if ti.StateType != r.stateType {
		return false
	}

	r.mtx.Lock()
	req, ok := r.pending[ti.Peer]
	if !ok || req.nonce != ti.Nonce {
		r.mtx.Unlock()
		return false
	}
	delete(r.pending, ti.Peer)
	r.mtx.Unlock()

	r.metric.MarkTimeout()
	r.Logger.Info("request timed out", "peer", ti.Peer, "nonce", ti.Nonce, "fromHeight", req.fromHeight)
	r.complete(req, Result{Peer: ti.Peer, FromHeight: req.fromHeight, Err: ErrTimeout})
	return true
}

// HandleResponse 没有对应请求或nonce不一致的回复被丢弃，请求继续等待自己的超时
func (r *Requester) HandleResponse(peer p2p.ID, resp *HashesResponse) bool {
	if resp.StateType != r.stateType {
		return false
	}

	r.mtx.Lock()
	req, ok := r.pending[peer]
	if !ok || req.nonce != resp.RequestNonce {
		r.mtx.Unlock()
		r.metric.MarkDropped()
		r.Logger.Debug("drop unmatched response", "peer", peer, "nonce", resp.RequestNonce)
		return false
	}
	delete(r.pending, peer)
	if req.timer != nil {
		req.timer.Stop()
	}
	r.mtx.Unlock()

	res := Result{Peer: peer, FromHeight: req.fromHeight}
	if err := validateResponse(req.fromHeight, resp.StateHashes); err != nil {
		r.metric.MarkMalformed()
		r.Logger.Info("malformed response", "peer", peer, "err", err)
		res.Err = fmt.Errorf("%w: %v", ErrMalformedChain, err)
	} else {
		r.metric.MarkCompleted(time.Since(req.sentAt))
		res.Hashes = resp.StateHashes
	}
	r.complete(req, res)
	return true
}

func validateResponse(fromHeight int64, hashes []types.StateHash) error {
	if len(hashes) == 0 {
		return nil
	}
	if err := types.ValidateChain(hashes); err != nil {
		return err
	}
	if hashes[0].Height < fromHeight {
		return fmt.Errorf("first height %d below requested %d", hashes[0].Height, fromHeight)
	}
	return nil
}

func (r *Requester) complete(req *pendingRequest, res Result) {
	if req.onComplete != nil {
		req.onComplete(res)
	}
}

// CancelAll 停止所有timer并丢弃请求，不调用回调
func (r *Requester) CancelAll() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for peer, req := range r.pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		delete(r.pending, peer)
	}
}

// Stop 在CancelAll的基础上释放阻塞在投递超时事件上的goroutine
func (r *Requester) Stop() {
	r.CancelAll()
	r.stopOnce.Do(func() {
		close(r.quit)
	})
}

func (r *Requester) Pending(peer p2p.ID) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.pending[peer]
	return ok
}

func (r *Requester) NumPending() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.pending)
}

// Deadline 返回peer上未完成请求的截止时间
func (r *Requester) Deadline(peer p2p.ID) (time.Time, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	req, ok := r.pending[peer]
	if !ok {
		return time.Time{}, false
	}
	return req.deadline, true
}
