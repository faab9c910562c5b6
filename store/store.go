// Package store defines the aggregate persistence interface. Each subsystem
// (tuple, hierarchy, audit) defines its own store interface. The composite
// Store composes them all. Backends: Postgres, SQLite, MongoDB, and Memory.
package store

import (
	"context"
	"errors"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/tuple"
)

// ErrNotFound is wrapped by backends when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, memory) implements all of it.
type Store interface {
	tuple.Store
	hierarchy.Store
	audit.Store
	Locker

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Locker provides the two locks of the write path. Postgres uses advisory
// locks; the embedded backends use in-process mutex maps.
type Locker interface {
	// WithNamespaceLock runs fn while holding the namespace write lock.
	// All mutations of one namespace serialize through this lock.
	WithNamespaceLock(ctx context.Context, namespace string, fn func(ctx context.Context) error) error

	// WithPairLock runs fn while holding locks on both graph endpoints.
	// Locks are acquired in canonical order (lesser key first) so that
	// concurrent cycle checks on the same pair cannot interleave.
	WithPairLock(ctx context.Context, namespace, a, b string, fn func(ctx context.Context) error) error
}
