// Package mcp provides the Model Context Protocol (MCP) server implementation.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nutrifyke/offlinecache/internal/contract"
)

// NewMCPServer initializes and configures the offline cache MCP server without starting it.
// This is exposed for unit testing.
func NewMCPServer(baseCfg *contract.Config, mgr contract.CacheManager) *server.MCPServer {
	s := server.NewMCPServer(
		"Offline Cache Server",
		"1.0.0",
		server.WithLogging(),
	)

	h := &toolHandler{
		baseCfg: baseCfg,
		mgr:     mgr,
	}

	// --- 1. Tool: cache_status ---
	s.AddTool(mcp.NewTool("cache_status",
		mcp.WithDescription("Report the cache backend and every stored cache generation with its entry count."),
	), h.handleCacheStatus)

	// --- 2. Tool: lookup_asset ---
	s.AddTool(mcp.NewTool("lookup_asset",
		mcp.WithDescription("Look up the cached response for a URL, as served when the origin is offline."),
		mcp.WithString("url", mcp.Description("Absolute URL or path relative to the origin."), mcp.Required()),
		mcp.WithString("cache_name", mcp.Description("Cache generation to search (defaults to the current one).")),
	), h.handleLookupAsset)

	// --- 3. Tool: list_manifest ---
	s.AddTool(mcp.NewTool("list_manifest",
		mcp.WithDescription("List the precached asset manifest and whether each asset is stored in the current cache."),
	), h.handleListManifest)

	return s
}

// StartMCPServer starts the offline cache MCP server.
func StartMCPServer(_ context.Context, baseCfg *contract.Config, mgr contract.CacheManager) error {
	s := NewMCPServer(baseCfg, mgr)
	return server.ServeStdio(s)
}
