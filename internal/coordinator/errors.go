package coordinator

import "errors"

// Errors returned by the coordinator. Use errors.Is to test for them.
var (
	// ErrUnavailable means there is no usable snapshot: nothing has been fetched
	// yet, the failure threshold has tripped, or the snapshot went stale.
	ErrUnavailable = errors.New("coordinator: data unavailable")

	// ErrFetchFailed wraps errors returned by the Fetcher.
	ErrFetchFailed = errors.New("coordinator: fetch failed")

	// ErrNotReady is returned by FirstRefresh when the initial fetch fails.
	ErrNotReady = errors.New("coordinator: first refresh failed")

	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("coordinator: shut down")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("coordinator: invalid config")
)
