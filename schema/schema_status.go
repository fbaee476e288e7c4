package schema

import "time"

// CacheStatus represents the status of the cache storage.
type CacheStatus struct {
	Backend         string             `json:"backend"`
	Connected       bool               `json:"connected"`
	TotalEntries    int                `json:"total_entries"`
	Caches          []NamedCacheStatus `json:"caches"`
	LastEntryTime   time.Time          `json:"last_entry_time"`
	OldestEntryTime time.Time          `json:"oldest_entry_time"`
	TableSizeBytes  int64              `json:"table_size_bytes"`
}

// NamedCacheStatus summarizes one named cache inside the storage.
type NamedCacheStatus struct {
	Name      string    `json:"name"`
	Entries   int       `json:"entries"`
	BodyBytes int64     `json:"body_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkerStatus is what the health endpoint and MCP tools report.
type WorkerStatus struct {
	State     WorkerState `json:"state"`
	Ready     bool        `json:"ready"`
	CacheName string      `json:"cache_name"`
	Origin    string      `json:"origin"`
	Manifest  []string    `json:"manifest"`
}
