package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
)

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	baseCfg *contract.Config
	mgr     contract.CacheManager
}

// assetLookup is the result of lookup_asset.
type assetLookup struct {
	URL         string    `json:"url"`
	CacheName   string    `json:"cache_name"`
	Cached      bool      `json:"cached"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	BodyBytes   int       `json:"body_bytes,omitempty"`
	StoredAt    time.Time `json:"stored_at,omitzero"`
}

// manifestEntry is one row of list_manifest.
type manifestEntry struct {
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

func (h *toolHandler) storage() (contract.CacheStorage, error) {
	if h.mgr == nil {
		return nil, errors.New("cache storage is not initialized")
	}
	storage := h.mgr.GetCacheStorage()
	if storage == nil {
		return nil, errors.New("cache storage is not initialized")
	}
	return storage, nil
}

func (h *toolHandler) handleCacheStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storage, err := h.storage()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := storage.GetStatus()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}

	result := struct {
		CurrentCache string `json:"current_cache"`
		schema.CacheStatus
	}{h.baseCfg.CacheName, status}
	jsonData, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleLookupAsset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := request.GetString("url", "")
	key, err := contract.ResolveAssetURL(h.baseCfg.Origin, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid url: %v", err)), nil
	}
	cacheName := request.GetString("cache_name", h.baseCfg.CacheName)

	storage, err := h.storage()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := assetLookup{URL: key, CacheName: cacheName}
	entry, err := lookup(ctx, storage, cacheName, key)
	switch {
	case errors.Is(err, contract.ErrCacheMiss):
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	default:
		result.Cached = true
		result.Status = entry.Status
		result.ContentType = entry.Header.Get("Content-Type")
		result.BodyBytes = len(entry.Body)
		result.StoredAt = entry.StoredAt
	}

	jsonData, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleListManifest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storage, err := h.storage()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stored := map[string]struct{}{}
	exists, err := storage.Has(ctx, h.baseCfg.CacheName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if exists {
		cache, err := storage.Open(ctx, h.baseCfg.CacheName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		keys, err := cache.Keys(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		for _, k := range keys {
			stored[k] = struct{}{}
		}
	}

	entries := make([]manifestEntry, 0, len(h.baseCfg.Manifest))
	for _, u := range h.baseCfg.Manifest {
		_, ok := stored[u]
		entries = append(entries, manifestEntry{URL: u, Cached: ok})
	}
	jsonData, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

// lookup matches key without creating the cache when it does not exist.
func lookup(ctx context.Context, storage contract.CacheStorage, cacheName, key string) (schema.CachedResponse, error) {
	exists, err := storage.Has(ctx, cacheName)
	if err != nil {
		return schema.CachedResponse{}, err
	}
	if !exists {
		return schema.CachedResponse{}, contract.ErrCacheMiss
	}
	cache, err := storage.Open(ctx, cacheName)
	if err != nil {
		return schema.CachedResponse{}, err
	}
	return cache.Match(ctx, key)
}
