// Package schema has the models and constants shared by all parts of offlinecache.
package schema

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// CachedResponse is a response captured from the network and kept in a named cache.
type CachedResponse struct {
	URL      string      // Normalized request URL, used as the cache key
	Status   int         // HTTP status code
	Header   http.Header // Response headers as received
	Body     []byte      // Full response body
	StoredAt time.Time   // When the entry was written
}

// ToHTTPResponse rebuilds an *http.Response that replays the cached entry for req.
func (c CachedResponse) ToHTTPResponse(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        strconv.Itoa(c.Status) + " " + http.StatusText(c.Status),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// CacheEntryRecord is the metadata of a stored entry, used for listing and export.
type CacheEntryRecord struct {
	CacheName   string    `json:"cache_name"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	BodyBytes   int64     `json:"body_bytes"`
	StoredAt    time.Time `json:"stored_at"`
}
