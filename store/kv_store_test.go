package store

import (
	"daomonitor/types"
	"fmt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
	"io/ioutil"
	"os"
	"testing"
)

func testHashes(genesis int64, n int) []types.StateHash {
	res := make([]types.StateHash, 0, n)
	var prev []byte
	for i := 0; i < n; i++ {
		sh := types.ComputeStateHash(genesis+int64(i), prev, []byte(fmt.Sprintf("state-%d", i)))
		res = append(res, sh)
		prev = sh.Hash
	}
	return res
}

func TestKVStore_SaveAndLoad(t *testing.T) {
	kv := NewKVStoreWithDB(memdb.NewDB(), log.TestingLogger())

	hashes := testHashes(250, 300)
	for _, sh := range hashes {
		require.NoError(t, kv.SaveStateHash(types.DaoStateType, sh))
	}
	require.NoError(t, kv.SaveStateHash(types.ProposalStateType, hashes[0]))

	loaded, err := kv.LoadChain(types.DaoStateType)
	require.NoError(t, err)
	require.Len(t, loaded, len(hashes))
	for i := range hashes {
		assert.True(t, hashes[i].Equal(loaded[i]), "height %d", hashes[i].Height)
	}
	assert.NoError(t, types.ValidateChain(loaded), "big endian keys keep heights ordered")

	loaded, err = kv.LoadChain(types.ProposalStateType)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	loaded, err = kv.LoadChain(types.BlindVoteStateType)
	require.NoError(t, err)
	assert.Len(t, loaded, 0)
}

func TestKVStore_DeleteChain(t *testing.T) {
	kv := NewKVStoreWithDB(memdb.NewDB(), log.TestingLogger())
	hashes := testHashes(0, 10)
	for _, sh := range hashes {
		require.NoError(t, kv.SaveStateHash(types.DaoStateType, sh))
		require.NoError(t, kv.SaveStateHash(types.BlindVoteStateType, sh))
	}

	require.NoError(t, kv.DeleteChain(types.DaoStateType))

	loaded, err := kv.LoadChain(types.DaoStateType)
	require.NoError(t, err)
	assert.Len(t, loaded, 0)

	loaded, err = kv.LoadChain(types.BlindVoteStateType)
	require.NoError(t, err)
	assert.Len(t, loaded, 10, "other state types are untouched")
}

func TestKVStore_Reopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "daomonitor_store")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	kv, err := NewKVStore("statehash", GoLevelDBBackend, dir, log.TestingLogger())
	require.NoError(t, err)
	hashes := testHashes(1, 5)
	for _, sh := range hashes {
		require.NoError(t, kv.SaveStateHash(types.DaoStateType, sh))
	}
	require.NoError(t, kv.Close())

	kv, err = NewKVStore("statehash", GoLevelDBBackend, dir, log.TestingLogger())
	require.NoError(t, err)
	defer kv.Close()

	loaded, err := kv.LoadChain(types.DaoStateType)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.True(t, hashes[4].Equal(loaded[4]))
}

func TestKVStore_BadBackend(t *testing.T) {
	_, err := NewKVStore("x", "nosuchbackend", os.TempDir(), log.TestingLogger())
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestKVStore_MemBackend(t *testing.T) {
	kv, err := NewKVStore("statehash", MemDBBackend, "", log.TestingLogger())
	require.NoError(t, err)
	defer kv.Close()

	hashes := testHashes(0, 3)
	for _, sh := range hashes {
		require.NoError(t, kv.SaveStateHash(types.ProposalStateType, sh))
	}
	loaded, err := kv.LoadChain(types.ProposalStateType)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestMockStore(t *testing.T) {
	mock := NewMockStore()
	assert.NoError(t, mock.SaveStateHash(types.DaoStateType, testHashes(0, 1)[0]))
	loaded, err := mock.LoadChain(types.DaoStateType)
	assert.NoError(t, err)
	assert.Len(t, loaded, 0)
}
