package tether

import (
	"context"
	"fmt"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/validate"
)

// AddHierarchyRequest creates a permission-implication rule.
type AddHierarchyRequest struct {
	Namespace    string `json:"namespace,omitempty"`
	ResourceType string `json:"resource_type"`
	Permission   string `json:"permission"`
	Implies      string `json:"implies"`
}

// RemoveHierarchyRequest removes a rule by its logical key.
type RemoveHierarchyRequest struct {
	Namespace    string `json:"namespace,omitempty"`
	ResourceType string `json:"resource_type"`
	Permission   string `json:"permission"`
	Implies      string `json:"implies"`
}

// AddHierarchy creates the rule permission→implies for a resource type.
// Adding an existing rule returns the stored rule unchanged. Rules that
// would close an implication loop are rejected.
func (e *Engine) AddHierarchy(ctx context.Context, req *AddHierarchyRequest) (*hierarchy.Rule, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateRuleArgs(req.ResourceType, req.Permission, req.Implies); err != nil {
		return nil, err
	}
	if req.Permission == req.Implies {
		return nil, newError(CodeCheckViolation, "implies: must differ from permission")
	}

	r := &hierarchy.Rule{
		ID:           id.NewHierarchyID(),
		Namespace:    ns,
		ResourceType: req.ResourceType,
		Permission:   req.Permission,
		Implies:      req.Implies,
		CreatedAt:    e.now(),
	}

	var stored *hierarchy.Rule
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		cyclic, chain, err := e.hierarchyCycle(ctx, ns, req.ResourceType, req.Permission, req.Implies)
		if err != nil {
			return err
		}
		if cyclic {
			return wrapError(CodeInvalidParameter, ErrCycleDetected,
				fmt.Sprintf("implies: would create a cycle via %s", chainString(chain)))
		}
		var created bool
		stored, created, err = e.store.UpsertRule(ctx, r)
		if err != nil {
			return fmt.Errorf("tether: upsert hierarchy rule: %w", err)
		}
		if !created {
			return nil
		}
		return e.emitHierarchyEvent(ctx, audit.EventHierarchyCreated, stored)
	})
	if err != nil {
		return nil, err
	}

	e.invalidateCache(ctx, ns)
	return stored, nil
}

// SetHierarchy defines a linear chain where each permission implies the
// next, strongest first. It is sugar for one AddHierarchy per adjacent pair
// and returns the stored rules in chain order.
func (e *Engine) SetHierarchy(ctx context.Context, namespace, resourceType string, permissions ...string) ([]*hierarchy.Rule, error) {
	if len(permissions) < 2 {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("permissions: chain needs at least 2 entries, got %d", len(permissions)))
	}
	rules := make([]*hierarchy.Rule, 0, len(permissions)-1)
	for i := 0; i < len(permissions)-1; i++ {
		r, err := e.AddHierarchy(ctx, &AddHierarchyRequest{
			Namespace:    namespace,
			ResourceType: resourceType,
			Permission:   permissions[i],
			Implies:      permissions[i+1],
		})
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// RemoveHierarchy removes a rule. It returns whether the rule existed;
// removing an absent rule is not an error and emits no audit event.
func (e *Engine) RemoveHierarchy(ctx context.Context, req *RemoveHierarchyRequest) (bool, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return false, err
	}
	if err := e.validateRuleArgs(req.ResourceType, req.Permission, req.Implies); err != nil {
		return false, err
	}

	var found bool
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		found, err = e.store.DeleteRule(ctx, ns, req.ResourceType, req.Permission, req.Implies)
		if err != nil {
			return fmt.Errorf("tether: delete hierarchy rule: %w", err)
		}
		if !found {
			return nil
		}
		return e.emitHierarchyEvent(ctx, audit.EventHierarchyDeleted, &hierarchy.Rule{
			Namespace:    ns,
			ResourceType: req.ResourceType,
			Permission:   req.Permission,
			Implies:      req.Implies,
		})
	})
	if err != nil {
		return false, err
	}

	if found {
		e.invalidateCache(ctx, ns)
	}
	return found, nil
}

// ClearHierarchy removes every rule for a resource type and returns the
// number removed.
func (e *Engine) ClearHierarchy(ctx context.Context, namespace, resourceType string) (int64, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return 0, err
	}
	if err := validate.Identifier("resource_type", resourceType); err != nil {
		return 0, err
	}

	var removed int64
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		rules, err := e.store.ListRules(ctx, ns, resourceType)
		if err != nil {
			return err
		}
		removed, err = e.store.DeleteRulesByResourceType(ctx, ns, resourceType)
		if err != nil {
			return fmt.Errorf("tether: clear hierarchy for %s: %w", resourceType, err)
		}
		for _, r := range rules {
			if err := e.emitHierarchyEvent(ctx, audit.EventHierarchyDeleted, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		e.invalidateCache(ctx, ns)
	}
	return removed, nil
}

// ListHierarchy returns the rules for a resource type. An empty resource
// type returns every rule in the namespace.
func (e *Engine) ListHierarchy(ctx context.Context, namespace, resourceType string) ([]*hierarchy.Rule, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if resourceType != "" {
		if err := validate.Identifier("resource_type", resourceType); err != nil {
			return nil, err
		}
	}
	return e.store.ListRules(ctx, ns, resourceType)
}

func (e *Engine) validateRuleArgs(resourceType, permission, implies string) error {
	if err := validate.Identifier("resource_type", resourceType); err != nil {
		return err
	}
	if err := validate.Identifier("permission", permission); err != nil {
		return err
	}
	return validate.Identifier("implies", implies)
}
