package tether

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/tuple"
	"github.com/xraph/tether/validate"
)

// WriteTupleRequest creates or refreshes a relationship tuple.
type WriteTupleRequest struct {
	Namespace       string     `json:"namespace,omitempty"`
	ResourceType    string     `json:"resource_type"`
	ResourceID      string     `json:"resource_id"`
	Relation        string     `json:"relation"`
	SubjectType     string     `json:"subject_type"`
	SubjectID       string     `json:"subject_id"`
	SubjectRelation string     `json:"subject_relation,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// DeleteTupleRequest removes a tuple by its exact key.
type DeleteTupleRequest struct {
	Namespace       string `json:"namespace,omitempty"`
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Relation        string `json:"relation"`
	SubjectType     string `json:"subject_type"`
	SubjectID       string `json:"subject_id"`
	SubjectRelation string `json:"subject_relation,omitempty"`
}

// BulkWriteRequest inserts one tuple per subject id with a single validation
// pass and a single namespace lock acquire. Parent edges and member edges
// with a non-user subject are refused because cycle detection needs per-edge
// analysis.
type BulkWriteRequest struct {
	Namespace    string   `json:"namespace,omitempty"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
	Relation     string   `json:"relation"`
	SubjectType  string   `json:"subject_type"`
	SubjectIDs   []string `json:"subject_ids"`
}

// WriteTuple upserts a tuple. Writing an existing key replaces its
// expiration. Edges on the reserved member and parent relations are cycle
// checked under canonically ordered endpoint locks before insertion; all
// writes of a namespace serialize through the namespace lock.
func (e *Engine) WriteTuple(ctx context.Context, req *WriteTupleRequest) (*tuple.Tuple, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateTupleArgs(req.ResourceType, req.ResourceID, req.Relation, req.SubjectType, req.SubjectID, req.SubjectRelation); err != nil {
		return nil, err
	}

	now := e.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, newError(CodeCheckViolation, "expires_at: must be in the future")
	}

	t := &tuple.Tuple{
		ID:              id.NewTupleID(),
		Namespace:       ns,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var stored *tuple.Tuple
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		insert := func(ctx context.Context) error {
			var created bool
			var err error
			stored, created, err = e.store.UpsertTuple(ctx, t)
			if err != nil {
				return fmt.Errorf("tether: upsert tuple %s: %w", t.Key(), err)
			}
			evType := audit.EventTupleCreated
			if !created {
				evType = audit.EventTupleUpdated
			}
			return e.emitTupleEvent(ctx, evType, stored)
		}

		child, outer, checked := cycleEndpoints(t)
		if !checked {
			return insert(ctx)
		}
		return e.store.WithPairLock(ctx, ns, child.String(), outer.String(), func(ctx context.Context) error {
			cyclic, chain, err := e.edgeCycle(ctx, ns, t.Relation, child, outer, now)
			if err != nil {
				return err
			}
			if cyclic {
				return wrapError(CodeInvalidParameter, ErrCycleDetected,
					fmt.Sprintf("relation: would create a cycle via %s", chainString(chain)))
			}
			return insert(ctx)
		})
	})
	if err != nil {
		return nil, err
	}

	e.invalidateCache(ctx, ns)
	return stored, nil
}

// Grant is a shorthand for writing a permission tuple for a user.
func (e *Engine) Grant(ctx context.Context, namespace, resourceType, resourceID, relation, subjectType, subjectID string) (*tuple.Tuple, error) {
	return e.WriteTuple(ctx, &WriteTupleRequest{
		Namespace:    namespace,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Relation:     relation,
		SubjectType:  subjectType,
		SubjectID:    subjectID,
	})
}

// DeleteTuple removes a tuple by its exact key, including subject_relation.
// It returns whether the tuple existed; deleting an absent tuple is not an
// error and emits no audit event.
func (e *Engine) DeleteTuple(ctx context.Context, req *DeleteTupleRequest) (bool, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return false, err
	}
	if err := e.validateTupleArgs(req.ResourceType, req.ResourceID, req.Relation, req.SubjectType, req.SubjectID, req.SubjectRelation); err != nil {
		return false, err
	}

	key := tuple.Key{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
	}

	var found bool
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		existing, err := e.store.GetTuple(ctx, ns, key)
		if err != nil {
			if isStoreNotFound(err) {
				return nil
			}
			return fmt.Errorf("tether: get tuple %s: %w", key, err)
		}
		found, err = e.store.DeleteTuple(ctx, ns, key)
		if err != nil {
			return fmt.Errorf("tether: delete tuple %s: %w", key, err)
		}
		if !found {
			return nil
		}
		return e.emitTupleEvent(ctx, audit.EventTupleDeleted, existing)
	})
	if err != nil {
		return false, err
	}

	if found {
		e.invalidateCache(ctx, ns)
	}
	return found, nil
}

// Revoke is a shorthand for deleting a permission tuple for a user.
func (e *Engine) Revoke(ctx context.Context, namespace, resourceType, resourceID, relation, subjectType, subjectID string) (bool, error) {
	return e.DeleteTuple(ctx, &DeleteTupleRequest{
		Namespace:    namespace,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Relation:     relation,
		SubjectType:  subjectType,
		SubjectID:    subjectID,
	})
}

// WriteTuplesBulk inserts one tuple per subject id and returns the number of
// newly created rows. Edges that would need cycle analysis are refused.
func (e *Engine) WriteTuplesBulk(ctx context.Context, req *BulkWriteRequest) (int, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return 0, err
	}
	if err := validate.Identifier("resource_type", req.ResourceType); err != nil {
		return 0, err
	}
	if err := validate.FreeformID("resource_id", req.ResourceID); err != nil {
		return 0, err
	}
	if err := validate.Identifier("relation", req.Relation); err != nil {
		return 0, err
	}
	if err := validate.Identifier("subject_type", req.SubjectType); err != nil {
		return 0, err
	}
	if err := validate.FreeformIDs("subject_ids", req.SubjectIDs); err != nil {
		return 0, err
	}

	if req.Relation == tuple.RelationParent ||
		(req.Relation == e.config.MembershipRelation && req.SubjectType != tuple.SubjectUser) {
		return 0, wrapError(CodeFeatureNotSupported, ErrReservedRelation,
			fmt.Sprintf("relation: bulk writes cannot create %s edges", req.Relation))
	}

	now := e.now()
	inserted := 0
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		for _, subjectID := range req.SubjectIDs {
			t := &tuple.Tuple{
				ID:           id.NewTupleID(),
				Namespace:    ns,
				ResourceType: req.ResourceType,
				ResourceID:   req.ResourceID,
				Relation:     req.Relation,
				SubjectType:  req.SubjectType,
				SubjectID:    subjectID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			stored, created, err := e.store.UpsertTuple(ctx, t)
			if err != nil {
				return fmt.Errorf("tether: bulk upsert %s: %w", t.Key(), err)
			}
			evType := audit.EventTupleCreated
			if created {
				inserted++
			} else {
				evType = audit.EventTupleUpdated
			}
			if err := e.emitTupleEvent(ctx, evType, stored); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.invalidateCache(ctx, ns)
	return inserted, nil
}

func (e *Engine) validateTupleArgs(resourceType, resourceID, relation, subjectType, subjectID, subjectRelation string) error {
	if err := validate.Identifier("resource_type", resourceType); err != nil {
		return err
	}
	if err := validate.FreeformID("resource_id", resourceID); err != nil {
		return err
	}
	if err := validate.Identifier("relation", relation); err != nil {
		return err
	}
	if err := validate.Identifier("subject_type", subjectType); err != nil {
		return err
	}
	if err := validate.FreeformID("subject_id", subjectID); err != nil {
		return err
	}
	if subjectRelation != "" {
		return validate.Identifier("subject_relation", subjectRelation)
	}
	return nil
}

// cycleEndpoints returns the two graph endpoints of a reserved-relation edge
// and whether the edge needs a cycle check. Member edges with a user subject
// cannot form cycles.
func cycleEndpoints(t *tuple.Tuple) (child, outer resourceRef, checked bool) {
	switch {
	case t.Relation == tuple.RelationParent:
		return resourceRef{Type: t.ResourceType, ID: t.ResourceID},
			resourceRef{Type: t.SubjectType, ID: t.SubjectID}, true
	case t.Relation == tuple.RelationMember && t.SubjectType != tuple.SubjectUser:
		return resourceRef{Type: t.SubjectType, ID: t.SubjectID},
			resourceRef{Type: t.ResourceType, ID: t.ResourceID}, true
	default:
		return resourceRef{}, resourceRef{}, false
	}
}

func (e *Engine) edgeCycle(ctx context.Context, ns, relation string, child, outer resourceRef, now time.Time) (bool, []string, error) {
	if relation == tuple.RelationParent {
		return e.parentCycle(ctx, ns, child, outer, now)
	}
	return e.membershipCycle(ctx, ns, child, outer, now)
}

func chainString(chain []string) string {
	out := ""
	for i, c := range chain {
		if i > 0 {
			out += " -> "
		}
		out += c
	}
	return out
}
