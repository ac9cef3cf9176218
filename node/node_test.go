package node

import (
	"daomonitor/config"
	"daomonitor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
	"testing"
)

func TestNewNode(t *testing.T) {
	conf := config.TestConfig().SetRoot(t.TempDir())
	nodeKey := &p2p.NodeKey{PrivKey: ed25519.GenPrivKey()}

	n, err := NewNode(conf, nodeKey, log.TestingLogger())
	require.NoError(t, err)

	assert.Equal(t, nodeKey.ID(), n.NodeInfo().ID())
	assert.Len(t, n.MonitorReactor().Monitors(), len(types.AllStateTypes()))
	assert.Equal(t, []string{
		"monitor/BlindVote", "monitor/DaoState", "monitor/Proposal",
		"requester/BlindVote", "requester/DaoState", "requester/Proposal",
	}, n.MetricSet().GetAllLabels())

	ni, ok := n.NodeInfo().(p2p.DefaultNodeInfo)
	require.True(t, ok)
	assert.Equal(t, []byte{0x50}, []byte(ni.Channels))
}

func TestNewNode_BadCheckpoint(t *testing.T) {
	conf := config.TestConfig().SetRoot(t.TempDir())
	conf.Monitor.Checkpoints = []string{"not-a-checkpoint"}
	nodeKey := &p2p.NodeKey{PrivKey: ed25519.GenPrivKey()}

	_, err := NewNode(conf, nodeKey, log.TestingLogger())
	assert.Error(t, err)
}

func TestSplitAndTrimEmpty(t *testing.T) {
	assert.Equal(t, []string{}, splitAndTrimEmpty("", ",", " "))
	assert.Equal(t, []string{"a@1.2.3.4:1", "b@5.6.7.8:2"}, splitAndTrimEmpty(" a@1.2.3.4:1, ,b@5.6.7.8:2 ", ",", " "))
}
