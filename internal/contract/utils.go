package contract

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/nutrifyke/offlinecache/schema"
)

// Color variables for console output.
var (
	ActiveColor  = color.New(color.FgGreen, color.Bold) // ActiveColor marks the current cache generation.
	StaleColor   = color.New(color.FgYellow)            // StaleColor marks generations that activate will remove.
	FailureColor = color.New(color.FgRed, color.Bold)   // FailureColor marks a redundant worker.
)

// GetCacheLabel returns a colored or plain label for a cache name relative to the current one.
func GetCacheLabel(name, current string, useColors bool) string {
	label := "stale"
	c := StaleColor
	if name == current {
		label = "current"
		c = ActiveColor
	}
	if !useColors {
		return label
	}
	return c.Sprint(label)
}

// GetStateLabel returns a colored label for a worker lifecycle state.
func GetStateLabel(state schema.WorkerState, useColors bool) string {
	text := string(state)
	if !useColors {
		return text
	}
	switch state {
	case schema.StateActivated, schema.StateInstalled:
		return ActiveColor.Sprint(text)
	case schema.StateRedundant:
		return FailureColor.Sprint(text)
	default:
		return StaleColor.Sprint(text)
	}
}

// SelectOutputFile returns the appropriate file handle for output.
// It falls back to os.Stdout when no path is given.
func SelectOutputFile(filePath string) (*os.File, error) {
	if filePath == "" {
		return os.Stdout, nil
	}
	return os.Create(filePath)
}

// LogFatal logs an error and exits the program.
func LogFatal(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Fatal %s: %v\n", msg, err)
	os.Exit(1)
}

// LogWarn logs a warning message to stderr.
func LogWarn(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Warn %s: %v\n", msg, err)
}

// GetCacheDBFilePath returns the path to the SQLite DB file for cache storage.
func GetCacheDBFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".offlinecache.db"
	}
	return filepath.Join(homeDir, ".offlinecache.db")
}

// ParseBoolString parses a string value into a boolean.
// Accepts "yes", "no", "true", "false", "1", "0" (case-insensitive).
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean string: %s (expected yes/no/true/false/1/0)", s)
	}
}

// ResolveAssetURL resolves a manifest entry against origin and returns its cache key.
func ResolveAssetURL(origin *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("asset URL cannot be empty")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid asset URL %q: %w", raw, err)
	}
	return NormalizeRequestURL(origin.ResolveReference(ref)), nil
}

// ResolveManifest resolves every entry in order and rejects duplicates,
// since a bulk add cannot store the same request twice.
func ResolveManifest(origin *url.URL, entries []string) ([]string, error) {
	seen := make(map[string]struct{}, len(entries))
	resolved := make([]string, 0, len(entries))
	for _, entry := range entries {
		key, err := ResolveAssetURL(origin, entry)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate manifest entry %s", key)
		}
		seen[key] = struct{}{}
		resolved = append(resolved, key)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("asset manifest cannot be empty")
	}
	return resolved, nil
}

// NormalizeRequestURL returns the cache key for u: the absolute URL without its fragment.
// Scheme and host are lowercased and an empty path becomes "/".
func NormalizeRequestURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String()
}

// RequestKey returns the cache key for an outgoing request.
func RequestKey(req *http.Request) string {
	return NormalizeRequestURL(req.URL)
}

// ResolveRequestURL returns u as an absolute URL. Server-side requests carry
// only a path and query, which are resolved against origin.
func ResolveRequestURL(origin, u *url.URL) *url.URL {
	if u.IsAbs() || origin == nil {
		return u
	}
	return origin.ResolveReference(&url.URL{
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	})
}
