package store

import (
	"daomonitor/types"
	"encoding/binary"
	"fmt"
	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"
)

const (
	tableStateHash = "statehash/"
)

// 支持的db_backend
const (
	GoLevelDBBackend = "goleveldb"
	MemDBBackend     = "memdb"
)

var ErrUnknownBackend = errors.New("unknown db_backend")

// NewKVStore 打开(或创建)dir下名为name的数据库，memdb忽略dir
func NewKVStore(name, backend, dir string, logger log.Logger) (*KVStore, error) {
	var kvdb tmdb.DB
	switch backend {
	case GoLevelDBBackend:
		levelDB, err := leveldb.NewDB(name, dir)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s db %s in %s", backend, name, dir)
		}
		kvdb = levelDB
	case MemDBBackend:
		kvdb = memdb.NewDB()
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q, expected one of %s,%s", backend, GoLevelDBBackend, MemDBBackend)
	}
	return NewKVStoreWithDB(kvdb, logger), nil
}

func NewKVStoreWithDB(kvdb tmdb.DB, logger log.Logger) *KVStore {
	return &KVStore{kvDB: kvdb, logger: logger}
}

// KVStore 持久化本地的state hash chain
// table definition:
// statehash table: key=statehash/{stateType}/{bigendian height}; value=tmjson(StateHash)
type KVStore struct {
	kvDB tmdb.DB

	logger log.Logger
}

// SaveStateHash 同步写入，保证重启后本地chain不丢失
func (kv *KVStore) SaveStateHash(st types.StateType, sh types.StateHash) error {
	bz, err := tmjson.Marshal(sh)
	if err != nil {
		return errors.Wrap(err, "marshal state hash")
	}
	if err := kv.kvDB.SetSync(genKey(st, sh.Height), bz); err != nil {
		return errors.Wrapf(err, "save %v state hash at height %d", st, sh.Height)
	}
	return nil
}

// LoadChain 按高度顺序读出某种状态的全部StateHash，不做连续性校验
func (kv *KVStore) LoadChain(st types.StateType) ([]types.StateHash, error) {
	ite, err := tmdb.IteratePrefix(kv.kvDB, tablePrefix(st))
	if err != nil {
		return nil, errors.Wrap(err, "iterate state hashes")
	}
	defer ite.Close()

	res := make([]types.StateHash, 0)
	for ; ite.Valid(); ite.Next() {
		var sh types.StateHash
		if err := tmjson.Unmarshal(ite.Value(), &sh); err != nil {
			return nil, errors.Wrapf(err, "unmarshal state hash under key %X", ite.Key())
		}
		res = append(res, sh)
	}
	if err := ite.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate state hashes")
	}
	return res, nil
}

// DeleteChain 删除某种状态的全部StateHash，只在resync时使用
func (kv *KVStore) DeleteChain(st types.StateType) error {
	keys, err := kv.keys(st)
	if err != nil {
		return err
	}

	batch := kv.kvDB.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete(k); err != nil {
			return errors.Wrap(err, "delete state hash")
		}
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrap(err, "write delete batch")
	}
	kv.logger.Info("deleted persisted chain", "stateType", st, "entries", len(keys))
	return nil
}

func (kv *KVStore) keys(st types.StateType) ([][]byte, error) {
	ite, err := tmdb.IteratePrefix(kv.kvDB, tablePrefix(st))
	if err != nil {
		return nil, errors.Wrap(err, "iterate state hashes")
	}
	defer ite.Close()

	keys := make([][]byte, 0)
	for ; ite.Valid(); ite.Next() {
		k := make([]byte, len(ite.Key()))
		copy(k, ite.Key())
		keys = append(keys, k)
	}
	return keys, ite.Error()
}

func (kv *KVStore) GetDB() tmdb.DB {
	return kv.kvDB
}

func (kv *KVStore) Close() error {
	return kv.kvDB.Close()
}

func tablePrefix(st types.StateType) []byte {
	return []byte(fmt.Sprintf("%s%s/", tableStateHash, st))
}

// 高度使用big endian编码，保证iterator按高度升序
func genKey(st types.StateType, height int64) []byte {
	prefix := tablePrefix(st)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(height))
	return key
}
