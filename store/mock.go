package store

import (
	"daomonitor/types"
	tmdb "github.com/tendermint/tm-db"
)

func NewMockStore() *MockStore {
	return &MockStore{}
}

// MockStore 不做任何持久化，用于不需要重启恢复的测试
type MockStore struct {
}

func (mock *MockStore) SaveStateHash(types.StateType, types.StateHash) error {
	return nil
}

func (mock *MockStore) LoadChain(types.StateType) ([]types.StateHash, error) {
	return []types.StateHash{}, nil
}

func (mock *MockStore) DeleteChain(types.StateType) error {
	return nil
}

func (mock *MockStore) GetDB() tmdb.DB {
	panic("implement me")
}

func (mock *MockStore) Close() error {
	return nil
}
