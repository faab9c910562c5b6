package tuple

import (
	"context"
	"time"
)

// Store defines persistence operations for relationship tuples.
//
// List methods that take a now argument exclude tuples whose expiration is at
// or before that instant. Implementations report missing rows by wrapping
// their backend's not-found error; the engine translates.
type Store interface {
	// UpsertTuple inserts t or, when its key already exists in the
	// namespace, replaces the existing row's expiration. It returns the
	// stored tuple and whether a new row was created.
	UpsertTuple(ctx context.Context, t *Tuple) (*Tuple, bool, error)

	// GetTuple retrieves a tuple by its exact key.
	GetTuple(ctx context.Context, namespace string, key Key) (*Tuple, error)

	// DeleteTuple removes a tuple by its exact key. It returns whether a
	// row existed.
	DeleteTuple(ctx context.Context, namespace string, key Key) (bool, error)

	// UpdateExpiration sets or clears the expiration on an existing tuple
	// and returns the updated row. A missing key reports not-found.
	UpdateExpiration(ctx context.Context, namespace string, key Key, expiresAt *time.Time) (*Tuple, error)

	// ListTuples returns tuples matching the filter.
	ListTuples(ctx context.Context, filter *ListFilter) ([]*Tuple, error)

	// CountTuples returns the number of tuples matching the filter.
	CountTuples(ctx context.Context, filter *ListFilter) (int64, error)

	// ListByResource returns unexpired tuples on the given resource.
	// An empty relation matches any relation.
	ListByResource(ctx context.Context, namespace, resourceType, resourceID, relation string, now time.Time) ([]*Tuple, error)

	// ListBySubject returns unexpired tuples held by the given subject.
	// An empty relation matches any relation.
	ListBySubject(ctx context.Context, namespace, subjectType, subjectID, relation string, now time.Time) ([]*Tuple, error)

	// ListExpiring returns unexpired tuples whose expiration falls at or
	// before until, soonest first.
	ListExpiring(ctx context.Context, namespace string, now, until time.Time) ([]*Tuple, error)

	// DeleteExpired physically removes tuples expired at now and returns
	// the number deleted.
	DeleteExpired(ctx context.Context, namespace string, now time.Time) (int64, error)

	// CountDistinctUsers returns the number of distinct user subjects in
	// the namespace.
	CountDistinctUsers(ctx context.Context, namespace string) (int64, error)

	// CountDistinctResources returns the number of distinct resources in
	// the namespace.
	CountDistinctResources(ctx context.Context, namespace string) (int64, error)
}
