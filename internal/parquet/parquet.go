// Package parquet exports offline cache entry metadata to Parquet files
// using github.com/parquet-go/parquet-go.
package parquet

import (
	"fmt"
	"os"
	"time"

	"github.com/nutrifyke/offlinecache/schema"
	"github.com/parquet-go/parquet-go"
)

// CacheEntry is one stored response in a named cache.
// This struct maps to the offline_cache_entries database table, minus the body.
type CacheEntry struct {
	// CacheName is the cache generation the entry belongs to
	CacheName string `parquet:"cache_name,snappy,dict"`

	// URL is the normalized request URL used as the cache key
	URL string `parquet:"url,snappy"`

	// Status is the HTTP status code of the stored response
	Status int32 `parquet:"status,snappy"`

	// ContentType is the stored Content-Type header (nullable)
	ContentType *string `parquet:"content_type,optional,snappy"`

	// BodyBytes is the size of the stored body
	BodyBytes int64 `parquet:"body_bytes,snappy"`

	// StoredAt is when the entry was written
	StoredAt time.Time `parquet:"stored_at,snappy"`
}

// WriteCacheEntriesParquet writes a slice of CacheEntry structs to a Parquet file.
func WriteCacheEntriesParquet(data []CacheEntry, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// The schema is derived from the CacheEntry struct tags
	writer := parquet.NewGenericWriter[CacheEntry](file)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// ConvertCacheEntryRecords converts storage records to their Parquet form.
func ConvertCacheEntryRecords(records []schema.CacheEntryRecord) []CacheEntry {
	result := make([]CacheEntry, len(records))
	for i, r := range records {
		var contentType *string
		if r.ContentType != "" {
			ct := r.ContentType
			contentType = &ct
		}
		result[i] = CacheEntry{
			CacheName:   r.CacheName,
			URL:         r.URL,
			Status:      int32(r.Status),
			ContentType: contentType,
			BodyBytes:   r.BodyBytes,
			StoredAt:    r.StoredAt,
		}
	}
	return result
}
