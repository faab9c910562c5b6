package hierarchy

import "context"

// Store defines persistence operations for hierarchy rules.
type Store interface {
	// UpsertRule inserts r or returns the existing rule with the same
	// (namespace, resource type, permission, implies) key. The boolean
	// reports whether a new row was created.
	UpsertRule(ctx context.Context, r *Rule) (*Rule, bool, error)

	// DeleteRule removes a rule by its logical key. It returns whether a
	// row existed.
	DeleteRule(ctx context.Context, namespace, resourceType, permission, implies string) (bool, error)

	// DeleteRulesByResourceType removes every rule for a resource type and
	// returns the number deleted.
	DeleteRulesByResourceType(ctx context.Context, namespace, resourceType string) (int64, error)

	// ListRules returns rules for a resource type. An empty resourceType
	// matches all resource types in the namespace.
	ListRules(ctx context.Context, namespace, resourceType string) ([]*Rule, error)

	// CountRules returns the number of rules in the namespace.
	CountRules(ctx context.Context, namespace string) (int64, error)
}
