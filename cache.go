package tether

import "context"

// Cache provides caching for check results. Entries are strictly a
// performance layer: every mutation invalidates the whole namespace.
type Cache interface {
	// Get returns a cached check outcome, if available.
	Get(ctx context.Context, namespace string, req *CheckRequest) (allowed bool, ok bool)

	// Set stores a check outcome in the cache.
	Set(ctx context.Context, namespace string, req *CheckRequest, allowed bool)

	// InvalidateNamespace removes all cached results for a namespace.
	InvalidateNamespace(ctx context.Context, namespace string)
}
