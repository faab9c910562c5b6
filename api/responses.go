package api

import (
	"github.com/xraph/tether"
)

// CheckResponse is the response for a permission check.
type CheckResponse struct {
	Allowed bool `json:"allowed" description:"Whether the user holds the permission"`
}

// DeleteResponse reports whether a delete removed anything.
type DeleteResponse struct {
	Deleted bool `json:"deleted" description:"Whether a matching row existed"`
}

// BulkWriteResponse reports how many tuples a bulk write inserted.
type BulkWriteResponse struct {
	Written int `json:"written" description:"Number of tuples written"`
}

// CountResponse carries a bare count.
type CountResponse struct {
	Count int64 `json:"count" description:"Number of matching rows"`
}

// ExplainTextResponse carries the human-readable explanation lines.
type ExplainTextResponse struct {
	Allowed bool     `json:"allowed" description:"Whether the user holds the permission"`
	Lines   []string `json:"lines" description:"One line per access path"`
}

// ClearedResponse reports how many rows a clearing operation removed.
type ClearedResponse struct {
	Cleared int64 `json:"cleared" description:"Number of rows removed"`
}

// CleanupResponse reports how many lapsed tuples a cleanup purged.
type CleanupResponse struct {
	Deleted int64 `json:"deleted" description:"Number of expired tuples removed"`
}

// FilterAuthorizedResponse is the authorized subset of the candidates.
type FilterAuthorizedResponse struct {
	ResourceIDs []string `json:"resource_ids" description:"Authorized resource identifiers, input order preserved"`
}

// PartitionResponse names one audit partition.
type PartitionResponse struct {
	Partition string `json:"partition,omitempty" description:"Partition name, empty when it already existed"`
}

// PartitionsResponse names a set of audit partitions.
type PartitionsResponse struct {
	Partitions []string `json:"partitions" description:"Partition names"`
}

// IntegrityResponse is the outcome of a graph integrity scan.
type IntegrityResponse struct {
	Healthy bool                     `json:"healthy" description:"Whether the scan found no issues"`
	Issues  []*tether.IntegrityIssue `json:"issues" description:"Detected structural defects"`
}
