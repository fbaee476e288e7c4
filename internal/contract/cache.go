package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/nutrifyke/offlinecache/schema"
)

// ErrCacheMiss is returned by Cache.Match when no entry exists for the key.
var ErrCacheMiss = errors.New("no cached response for request")

// CacheManager defines the interface for managing cache storage.
// This allows the cache layer to be mocked for testing.
type CacheManager interface {
	GetCacheStorage() CacheStorage
}

// CacheStorage is the set of named caches owned by this process.
type CacheStorage interface {
	// Open returns the cache with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)
	// Has reports whether a cache with the given name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache and all its entries.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists cache names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// ListEntries returns entry metadata across all caches.
	ListEntries(ctx context.Context) ([]schema.CacheEntryRecord, error)
	GetStatus() (schema.CacheStatus, error)
	Close() error
}

// Cache is one named store of request URL to response.
type Cache interface {
	Name() string
	// AddAll fetches every URL and stores all responses, or none of them.
	AddAll(ctx context.Context, fetcher Fetcher, urls []string) error
	// Put stores a single entry, replacing any existing one with the same URL.
	Put(ctx context.Context, entry schema.CachedResponse) error
	// Match returns the entry stored under key, or ErrCacheMiss.
	Match(ctx context.Context, key string) (schema.CachedResponse, error)
	// Keys lists the URLs stored in this cache.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes one entry.
	Delete(ctx context.Context, key string) (bool, error)
}

// AssetError reports the asset a bulk add failed on.
type AssetError struct {
	URL        string
	StatusCode int // Set when the request completed with a non-2xx status
	Err        error
}

func (e *AssetError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }
