package audit

import (
	"context"
	"time"
)

// Store defines persistence operations for the audit log and its monthly
// partitions.
type Store interface {
	// AppendEvent persists a new audit event. The event type must be a
	// member of the closed enum.
	AppendEvent(ctx context.Context, e *Event) error

	// QueryEvents returns events matching the filter, newest first.
	QueryEvents(ctx context.Context, filter *QueryFilter) ([]*Event, error)

	// CountEvents returns the number of events matching the filter.
	CountEvents(ctx context.Context, filter *QueryFilter) (int64, error)

	// CreatePartition creates the partition for the given month. It
	// returns the partition name, or "" when it already existed.
	CreatePartition(ctx context.Context, year int, month time.Month) (string, error)

	// EnsurePartitions creates partitions covering this month through
	// monthsAhead months forward. It returns the names created.
	EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error)

	// DropPartitions drops partitions whose end falls at or before the
	// month olderThanMonths before the current one. It returns the names
	// dropped.
	DropPartitions(ctx context.Context, olderThanMonths int) ([]string, error)

	// ListPartitions returns existing partition names, oldest first.
	ListPartitions(ctx context.Context) ([]string, error)
}
