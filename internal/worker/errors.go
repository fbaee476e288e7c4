package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is returned by Fetch when the network failed and the cache
	// holds nothing for the request. The caller decides what to serve instead.
	ErrNoMatch = errors.New("network unavailable and no cached response")

	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("worker is not installed")
)

// InstallError reports a failed install. Nothing was written to the cache.
type InstallError struct {
	CacheName string
	URL       string // Asset that failed, empty when the store itself failed
	Err       error
}

func (e *InstallError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("install %s: %v", e.CacheName, e.Err)
	}
	return fmt.Sprintf("install %s: asset %s: %v", e.CacheName, e.URL, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// NetworkError is a transport failure of a fetch event.
// Once installed, the worker recovers from it by falling back to the cache.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
