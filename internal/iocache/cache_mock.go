package iocache

import (
	"context"

	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/stretchr/testify/mock"
)

// MockCacheManager is a mock implementation of CacheManager for testing.
type MockCacheManager struct {
	mock.Mock
}

var _ contract.CacheManager = &MockCacheManager{} // Compile-time check

// GetCacheStorage implements the CacheManager interface.
func (m *MockCacheManager) GetCacheStorage() contract.CacheStorage {
	ret := m.Called()
	storage, _ := ret.Get(0).(contract.CacheStorage)
	return storage
}

// MockCacheStorage is a mock implementation of CacheStorage for testing.
type MockCacheStorage struct {
	mock.Mock
}

var _ contract.CacheStorage = &MockCacheStorage{} // Compile-time check

// Open implements the CacheStorage interface.
func (m *MockCacheStorage) Open(ctx context.Context, name string) (contract.Cache, error) {
	args := m.Called(ctx, name)
	cache, _ := args.Get(0).(contract.Cache)
	return cache, args.Error(1)
}

// Has implements the CacheStorage interface.
func (m *MockCacheStorage) Has(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

// Delete implements the CacheStorage interface.
func (m *MockCacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

// Keys implements the CacheStorage interface.
func (m *MockCacheStorage) Keys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

// ListEntries implements the CacheStorage interface.
func (m *MockCacheStorage) ListEntries(ctx context.Context) ([]schema.CacheEntryRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]schema.CacheEntryRecord)
	return records, args.Error(1)
}

// GetStatus implements the CacheStorage interface.
func (m *MockCacheStorage) GetStatus() (schema.CacheStatus, error) {
	args := m.Called()
	return args.Get(0).(schema.CacheStatus), args.Error(1)
}

// Close implements the CacheStorage interface.
func (m *MockCacheStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockCache is a mock implementation of Cache for testing.
type MockCache struct {
	mock.Mock
}

var _ contract.Cache = &MockCache{} // Compile-time check

// Name implements the Cache interface.
func (m *MockCache) Name() string {
	args := m.Called()
	return args.String(0)
}

// AddAll implements the Cache interface.
func (m *MockCache) AddAll(ctx context.Context, fetcher contract.Fetcher, urls []string) error {
	args := m.Called(ctx, fetcher, urls)
	return args.Error(0)
}

// Put implements the Cache interface.
func (m *MockCache) Put(ctx context.Context, entry schema.CachedResponse) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// Match implements the Cache interface.
func (m *MockCache) Match(ctx context.Context, key string) (schema.CachedResponse, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(schema.CachedResponse), args.Error(1)
}

// Keys implements the Cache interface.
func (m *MockCache) Keys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

// Delete implements the Cache interface.
func (m *MockCache) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
