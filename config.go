package tether

import "time"

// Config holds configuration for the Tether engine.
type Config struct {
	// DefaultNamespace is used when neither the request nor the context
	// carries a namespace. Defaults to "default".
	DefaultNamespace string `json:"default_namespace,omitempty"`

	// MaxGroupDepth bounds nested-group membership expansion.
	// Defaults to 50.
	MaxGroupDepth int `json:"max_group_depth,omitempty"`

	// MaxResourceDepth bounds resource-ancestor expansion.
	// Defaults to 50.
	MaxResourceDepth int `json:"max_resource_depth,omitempty"`

	// MembershipRelation is the relation treated as group containment.
	// Defaults to "member".
	MembershipRelation string `json:"membership_relation,omitempty"`

	// HierarchyIterationCap bounds the implication fixed point. Reaching
	// the cap is reported as corrupt rule data. Defaults to 100.
	HierarchyIterationCap int `json:"hierarchy_iteration_cap,omitempty"`

	// PartitionsAhead is how many forward audit partitions to maintain.
	// Defaults to 3.
	PartitionsAhead int `json:"partitions_ahead,omitempty"`

	// RetentionMonths is how long audit partitions are kept.
	// Defaults to 84.
	RetentionMonths int `json:"retention_months,omitempty"`

	// DefaultLimit is the page size when a list request gives none.
	// Defaults to 100.
	DefaultLimit int `json:"default_limit,omitempty"`

	// MaxLimit caps requested page sizes. Defaults to 1000.
	MaxLimit int `json:"max_limit,omitempty"`

	// ExpiringWindow is the default window for listing upcoming
	// expirations. Defaults to 7 days.
	ExpiringWindow time.Duration `json:"expiring_window,omitempty"`

	// CacheTTL is the time-to-live for cached check results.
	// Zero means no caching.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultNamespace:      "default",
		MaxGroupDepth:         50,
		MaxResourceDepth:      50,
		MembershipRelation:    "member",
		HierarchyIterationCap: 100,
		PartitionsAhead:       3,
		RetentionMonths:       84,
		DefaultLimit:          100,
		MaxLimit:              1000,
		ExpiringWindow:        7 * 24 * time.Hour,
	}
}

func (c Config) clampLimit(limit int) int {
	if limit <= 0 {
		return c.DefaultLimit
	}
	if limit > c.MaxLimit {
		return c.MaxLimit
	}
	return limit
}
