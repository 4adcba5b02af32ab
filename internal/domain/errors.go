package domain

import "errors"

// Sentinel errors shared across modules. HTTP handlers map these to status
// codes; services wrap them with context via fmt.Errorf and %w.
var (
	// ErrNotFound - the referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict - a mutation carried a stale version; the caller
	// should refetch and decide whether to retry. Decision-class operations
	// are never retried automatically.
	ErrConcurrencyConflict = errors.New("concurrency conflict: stale version")

	// ErrUpstreamUnavailable - a price, role or persistence call failed;
	// surfaced to the caller instead of retrying silently
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
