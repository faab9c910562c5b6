// Package hierarchy defines permission-implication rules per resource type.
package hierarchy

import (
	"time"

	"github.com/xraph/tether/id"
)

// Rule is a directed implication edge: holding Permission on a resource of
// ResourceType also grants Implies. The rule graph per
// (namespace, resource type) is kept acyclic.
type Rule struct {
	ID           id.HierarchyID `json:"id" db:"id"`
	Namespace    string         `json:"namespace" db:"namespace"`
	ResourceType string         `json:"resource_type" db:"resource_type"`
	Permission   string         `json:"permission" db:"permission"`
	Implies      string         `json:"implies" db:"implies"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}
