package protocol

import (
	"daomonitor/types"
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
	"sync"
	"testing"
	"time"
)

type mockTransport struct {
	mtx  sync.Mutex
	fail map[p2p.ID]bool
	sent map[p2p.ID][]*HashesRequest
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		fail: make(map[p2p.ID]bool),
		sent: make(map[p2p.ID][]*HashesRequest),
	}
}

func (mt *mockTransport) SendTo(peer p2p.ID, msgBytes []byte) bool {
	mt.mtx.Lock()
	defer mt.mtx.Unlock()
	if mt.fail[peer] {
		return false
	}
	msg, err := DecodeMsg(msgBytes)
	if err != nil {
		return false
	}
	mt.sent[peer] = append(mt.sent[peer], msg.(*HashesRequest))
	return true
}

func (mt *mockTransport) last(peer p2p.ID) *HashesRequest {
	mt.mtx.Lock()
	defer mt.mtx.Unlock()
	reqs := mt.sent[peer]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// resultCollector 记录每个peer的回调次数和结果
type resultCollector struct {
	mtx     sync.Mutex
	results map[p2p.ID][]Result
}

func newResultCollector() *resultCollector {
	return &resultCollector{results: make(map[p2p.ID][]Result)}
}

func (rc *resultCollector) onComplete(res Result) {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	rc.results[res.Peer] = append(rc.results[res.Peer], res)
}

func (rc *resultCollector) get(peer p2p.ID) []Result {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	return append([]Result{}, rc.results[peer]...)
}

func testChain(genesis int64, n int) []types.StateHash {
	res := make([]types.StateHash, 0, n)
	var prev []byte
	for i := 0; i < n; i++ {
		sh := types.ComputeStateHash(genesis+int64(i), prev, []byte(fmt.Sprintf("s%d", i)))
		res = append(res, sh)
		prev = sh.Hash
	}
	return res
}

func newTestRequester(mt *mockTransport, options ...RequesterOption) *Requester {
	r := NewRequester(types.DaoStateType, mt, options...)
	r.SetLogger(log.TestingLogger())
	return r
}

func TestRequester_ResponseMatching(t *testing.T) {
	mt := newMockTransport()
	rc := newResultCollector()
	r := newTestRequester(mt)
	defer r.Stop()

	peer := p2p.ID("peer1")
	require.NoError(t, r.Request(peer, 10, rc.onComplete))
	assert.True(t, r.Pending(peer))

	req := mt.last(peer)
	require.NotNil(t, req)
	assert.EqualValues(t, 10, req.FromHeight)

	// nonce不一致，丢弃
	chain := testChain(10, 3)
	assert.False(t, r.HandleResponse(peer, &HashesResponse{
		StateType: types.DaoStateType, StateHashes: chain, RequestNonce: req.Nonce + 1,
	}))
	assert.True(t, r.Pending(peer), "pending request survives mismatched nonce")
	assert.Len(t, rc.get(peer), 0)

	// 其他peer的回复
	assert.False(t, r.HandleResponse("other", &HashesResponse{
		StateType: types.DaoStateType, StateHashes: chain, RequestNonce: req.Nonce,
	}))

	assert.True(t, r.HandleResponse(peer, &HashesResponse{
		StateType: types.DaoStateType, StateHashes: chain, RequestNonce: req.Nonce,
	}))
	assert.False(t, r.Pending(peer))

	results := rc.get(peer)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Hashes, 3)
	assert.EqualValues(t, 10, results[0].FromHeight)

	// 重复的回复不会再次触发回调
	assert.False(t, r.HandleResponse(peer, &HashesResponse{
		StateType: types.DaoStateType, StateHashes: chain, RequestNonce: req.Nonce,
	}))
	assert.Len(t, rc.get(peer), 1)
}

func TestRequester_AlreadyInFlight(t *testing.T) {
	mt := newMockTransport()
	r := newTestRequester(mt)
	defer r.Stop()

	require.NoError(t, r.Request("p", 0, nil))
	first := mt.last("p")

	err := r.Request("p", 5, nil)
	assert.True(t, errors.Is(err, ErrRequestAlreadyInFlight))
	assert.Equal(t, first, mt.last("p"), "no new message sent")
	assert.Equal(t, 1, r.NumPending())

	assert.True(t, errors.Is(r.Request("q", -1, nil), ErrInvalidFromHeight))
}

func TestRequester_SendFailure(t *testing.T) {
	mt := newMockTransport()
	mt.fail["down"] = true
	rc := newResultCollector()
	r := newTestRequester(mt, WithTimeout(20*time.Millisecond))
	defer r.Stop()

	err := r.Request("down", 0, rc.onComplete)
	assert.True(t, errors.Is(err, ErrSendFailure))
	assert.False(t, r.Pending("down"))

	// 失败后没有timer，不会有超时回调
	select {
	case ti := <-r.TimeoutChan():
		t.Fatalf("unexpected timeout %v", ti)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Len(t, rc.get("down"), 0)

	// 可以再次请求
	mt.mtx.Lock()
	mt.fail["down"] = false
	mt.mtx.Unlock()
	assert.NoError(t, r.Request("down", 0, rc.onComplete))
}

func TestRequester_TimeoutFiresOnce(t *testing.T) {
	mt := newMockTransport()
	rc := newResultCollector()
	r := newTestRequester(mt, WithTimeout(30*time.Millisecond))
	defer r.Stop()

	require.NoError(t, r.Request("slow", 3, rc.onComplete))
	req := mt.last("slow")

	var ti TimeoutInfo
	select {
	case ti = <-r.TimeoutChan():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout was not delivered")
	}
	assert.Equal(t, p2p.ID("slow"), ti.Peer)
	assert.Equal(t, req.Nonce, ti.Nonce)

	assert.True(t, r.HandleTimeout(ti))
	assert.False(t, r.HandleTimeout(ti), "stale timeout is ignored")

	// 超时之后到达的回复被丢弃
	assert.False(t, r.HandleResponse("slow", &HashesResponse{
		StateType: types.DaoStateType, StateHashes: testChain(3, 1), RequestNonce: req.Nonce,
	}))

	results := rc.get("slow")
	require.Len(t, results, 1)
	assert.True(t, errors.Is(results[0].Err, ErrTimeout))
	assert.EqualValues(t, 3, results[0].FromHeight)
}

func TestRequester_StaleTimeoutAfterResponse(t *testing.T) {
	mt := newMockTransport()
	rc := newResultCollector()
	nonce := int32(0)
	r := newTestRequester(mt, WithNonceFunc(func() int32 {
		nonce++
		return nonce
	}))
	defer r.Stop()

	require.NoError(t, r.Request("p", 0, rc.onComplete))
	require.True(t, r.HandleResponse("p", &HashesResponse{StateType: types.DaoStateType, RequestNonce: 1}))

	require.NoError(t, r.Request("p", 0, rc.onComplete))
	// 第一次请求的超时事件不能完成第二次请求
	assert.False(t, r.HandleTimeout(TimeoutInfo{StateType: types.DaoStateType, Peer: "p", Nonce: 1}))
	assert.True(t, r.Pending("p"))
	assert.Len(t, rc.get("p"), 1)
}

func TestRequester_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		from   int64
		hashes func() []types.StateHash
	}{
		{"discontinuous", 0, func() []types.StateHash {
			c := testChain(0, 4)
			return []types.StateHash{c[0], c[1], c[3]}
		}},
		{"below from height", 5, func() []types.StateHash { return testChain(2, 4) }},
		{"empty hash", 0, func() []types.StateHash {
			c := testChain(0, 3)
			c[1] = types.NewStateHash(1, c[0].Hash, nil)
			return c
		}},
		{"negative height", 0, func() []types.StateHash {
			return []types.StateHash{types.NewStateHash(-1, nil, []byte{1})}
		}},
		{"broken link", 0, func() []types.StateHash {
			c := testChain(0, 3)
			c[2] = types.NewStateHash(2, []byte{1}, []byte{2})
			return c
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mt := newMockTransport()
			rc := newResultCollector()
			r := newTestRequester(mt)
			defer r.Stop()

			require.NoError(t, r.Request("p", tc.from, rc.onComplete))
			req := mt.last("p")
			assert.True(t, r.HandleResponse("p", &HashesResponse{
				StateType: types.DaoStateType, StateHashes: tc.hashes(), RequestNonce: req.Nonce,
			}))

			results := rc.get("p")
			require.Len(t, results, 1)
			assert.True(t, errors.Is(results[0].Err, ErrMalformedChain), "err: %v", results[0].Err)
			assert.Nil(t, results[0].Hashes)
		})
	}
}

func TestRequester_ConcurrentPeers(t *testing.T) {
	mt := newMockTransport()
	mt.fail["bad"] = true
	rc := newResultCollector()
	r := newTestRequester(mt)
	defer r.Stop()

	peers := []p2p.ID{"a", "b", "bad", "c"}
	var wg sync.WaitGroup
	errs := make([]error, len(peers))
	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer p2p.ID) {
			defer wg.Done()
			errs[i] = r.Request(peer, 0, rc.onComplete)
		}(i, peer)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.True(t, errors.Is(errs[2], ErrSendFailure))
	assert.NoError(t, errs[3])
	assert.Equal(t, 3, r.NumPending())

	for _, peer := range []p2p.ID{"a", "b", "c"} {
		req := mt.last(peer)
		assert.True(t, r.HandleResponse(peer, &HashesResponse{
			StateType: types.DaoStateType, StateHashes: testChain(0, 2), RequestNonce: req.Nonce,
		}))
		assert.Len(t, rc.get(peer), 1)
	}
	assert.Equal(t, 0, r.NumPending())
}

func TestRequester_CancelAll(t *testing.T) {
	mt := newMockTransport()
	rc := newResultCollector()
	r := newTestRequester(mt, WithTimeout(20*time.Millisecond))

	require.NoError(t, r.Request("a", 0, rc.onComplete))
	require.NoError(t, r.Request("b", 0, rc.onComplete))
	r.Stop()

	assert.Equal(t, 0, r.NumPending())
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rc.get("a"), 0)
	assert.Len(t, rc.get("b"), 0)
	assert.True(t, errors.Is(r.Request("a", 0, nil), ErrRequesterStopped))
}

func TestRequester_JSONString(t *testing.T) {
	mt := newMockTransport()
	r := newTestRequester(mt)
	defer r.Stop()

	require.NoError(t, r.Request("a", 0, nil))
	req := mt.last("a")
	r.HandleResponse("a", &HashesResponse{StateType: types.DaoStateType, RequestNonce: req.Nonce})

	s := r.JSONString()
	assert.Contains(t, s, `"sent":1`)
	assert.Contains(t, s, `"completed":1`)
	assert.Contains(t, s, `"pending":0`)
}
