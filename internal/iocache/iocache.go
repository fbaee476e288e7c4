package iocache

import (
	"sync"

	"github.com/nutrifyke/offlinecache/internal/contract"
)

// CacheStoreManager manages the CacheStorage instance.
type CacheStoreManager struct {
	sync.RWMutex // Protects the storage pointer during initialization
	storage      contract.CacheStorage
}

var _ contract.CacheManager = &CacheStoreManager{} // Compile-time check

// GetCacheStorage returns the CacheStorage.
func (mgr *CacheStoreManager) GetCacheStorage() contract.CacheStorage {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.storage
}
