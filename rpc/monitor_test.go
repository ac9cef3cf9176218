package rpc

import (
	"daomonitor/config"
	"daomonitor/libs/metric"
	"daomonitor/monitor"
	"daomonitor/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
	"testing"
)

func setupTestEnv(t *testing.T) {
	conf := config.TestMonitorConfig()
	reactor := monitor.NewReactor(conf, monitor.WithoutPolling())
	ms := metric.NewMetricSet()
	for _, st := range types.AllStateTypes() {
		st := st
		var m *monitor.Monitor
		m = monitor.NewMonitor(st, conf, reactor.NewRequester(st),
			monitor.WithRebuilder(monitor.RebuilderFunc(func(types.StateType) error {
				_, err := m.CreateStateHash(0, []byte("rebuilt"))
				return err
			})))
		require.NoError(t, reactor.AddMonitor(m))
		require.NoError(t, ms.SetMetrics("monitor/"+st.String(), m))
	}
	reactor.SetLogger(log.TestingLogger())
	SetEnvironment(&Environment{Reactor: reactor, MetricSet: ms})
}

func TestNewStateHashAndLocalChain(t *testing.T) {
	setupTestEnv(t)
	ctx := &rpctypes.Context{}

	for h := int64(0); h < 3; h++ {
		res, err := NewStateHash(ctx, "dao", h, "state")
		require.NoError(t, err)
		assert.Equal(t, h, res.StateHash.Height)
		assert.Equal(t, "DaoState", res.StateType)
	}

	// 高度不连续
	_, err := NewStateHash(ctx, "dao", 5, "state")
	assert.True(t, errors.Is(err, types.ErrChainDiscontinuity))

	chain, err := LocalChain(ctx, "DaoState", 1)
	require.NoError(t, err)
	require.Len(t, chain.StateHashes, 2)
	assert.EqualValues(t, 1, chain.StateHashes[0].Height)

	status, err := ConsensusStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Monitors, 3)
	assert.EqualValues(t, 2, status.Monitors[0].Height)
	assert.Equal(t, chain.StateHashes[1].Hash, status.Monitors[0].TailHash)
	assert.True(t, status.Monitors[0].Halted)
	assert.False(t, status.Monitors[0].InConflict)
	assert.EqualValues(t, -1, status.Monitors[1].Height)
}

func TestUnknownStateType(t *testing.T) {
	setupTestEnv(t)
	ctx := &rpctypes.Context{}

	_, err := LocalChain(ctx, "nope", 0)
	assert.Error(t, err)
	_, err = PeerViews(ctx, "")
	assert.Error(t, err)
	_, err = Resync(ctx, "nope")
	assert.Error(t, err)

	// 解析成功但没有注册monitor
	SetEnvironment(&Environment{Reactor: monitor.NewReactor(config.TestMonitorConfig()), MetricSet: metric.NewMetricSet()})
	_, err = LocalChain(ctx, "dao", 0)
	assert.True(t, errors.Is(err, monitor.ErrUnknownStateType))
}

func TestConflictsAndPeerViews(t *testing.T) {
	setupTestEnv(t)
	ctx := &rpctypes.Context{}

	all, err := Conflicts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all.Conflicts, 3)
	assert.Empty(t, all.Conflicts["Proposal"])

	one, err := Conflicts(ctx, "blind_vote")
	require.NoError(t, err)
	assert.Len(t, one.Conflicts, 1)

	views, err := PeerViews(ctx, "proposal")
	require.NoError(t, err)
	assert.Empty(t, views.Views)

	blocks, err := StateBlocks(ctx, "proposal", 0)
	require.NoError(t, err)
	assert.Empty(t, blocks.Blocks)
}

func TestResync(t *testing.T) {
	setupTestEnv(t)
	ctx := &rpctypes.Context{}

	_, err := NewStateHash(ctx, "proposal", 0, "a")
	require.NoError(t, err)
	_, err = NewStateHash(ctx, "proposal", 1, "b")
	require.NoError(t, err)

	res, err := Resync(ctx, "proposal")
	require.NoError(t, err)
	// rebuilder只重新生成了genesis
	assert.EqualValues(t, 0, res.Height)
}

func TestJSONMetrics(t *testing.T) {
	setupTestEnv(t)
	ctx := &rpctypes.Context{}

	all, err := JSONMetrics(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all.Metrics, 3)

	one, err := JSONMetrics(ctx, "monitor/DaoState")
	require.NoError(t, err)
	assert.Contains(t, one.Metrics["monitor/DaoState"], `"state_type":"DaoState"`)

	_, err = JSONMetrics(ctx, "missing")
	assert.True(t, errors.Is(err, metric.ErrMetricLabelNotFound))

	poll, err := PollPeers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, poll.Peers)
}
