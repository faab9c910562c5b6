package tether

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/tuple"
	"github.com/xraph/tether/validate"
)

// SetExpirationRequest sets or clears the expiration on an existing tuple,
// addressed by its exact key. A nil ExpiresAt clears it.
type SetExpirationRequest struct {
	Namespace       string     `json:"namespace,omitempty"`
	ResourceType    string     `json:"resource_type"`
	ResourceID      string     `json:"resource_id"`
	Relation        string     `json:"relation"`
	SubjectType     string     `json:"subject_type"`
	SubjectID       string     `json:"subject_id"`
	SubjectRelation string     `json:"subject_relation,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

// ExtendExpirationRequest pushes an existing expiration further out. The
// interval is added to the current expiration, or to now when the tuple has
// already lapsed.
type ExtendExpirationRequest struct {
	Namespace       string        `json:"namespace,omitempty"`
	ResourceType    string        `json:"resource_type"`
	ResourceID      string        `json:"resource_id"`
	Relation        string        `json:"relation"`
	SubjectType     string        `json:"subject_type"`
	SubjectID       string        `json:"subject_id"`
	SubjectRelation string        `json:"subject_relation,omitempty"`
	Interval        time.Duration `json:"interval"`
}

// SetExpiration updates the expiration of a tuple. The target must exist and
// a non-nil expiration must lie in the future.
func (e *Engine) SetExpiration(ctx context.Context, req *SetExpirationRequest) (*tuple.Tuple, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateTupleArgs(req.ResourceType, req.ResourceID, req.Relation, req.SubjectType, req.SubjectID, req.SubjectRelation); err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(e.now()) {
		return nil, newError(CodeCheckViolation, "expires_at: must be in the future")
	}

	key := tuple.Key{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
	}
	stored, err := e.updateExpiration(ctx, ns, key, req.ExpiresAt)
	if err != nil {
		return nil, err
	}

	e.invalidateCache(ctx, ns)
	return stored, nil
}

// ClearExpiration removes the expiration from a tuple, making it permanent.
func (e *Engine) ClearExpiration(ctx context.Context, req *SetExpirationRequest) (*tuple.Tuple, error) {
	cleared := *req
	cleared.ExpiresAt = nil
	return e.SetExpiration(ctx, &cleared)
}

// ExtendExpiration adds the interval to a tuple's expiration. A tuple without
// an expiration cannot be extended; one that has already lapsed is extended
// from now instead of its stale expiration.
func (e *Engine) ExtendExpiration(ctx context.Context, req *ExtendExpirationRequest) (*tuple.Tuple, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateTupleArgs(req.ResourceType, req.ResourceID, req.Relation, req.SubjectType, req.SubjectID, req.SubjectRelation); err != nil {
		return nil, err
	}
	if err := validate.Interval("interval", req.Interval); err != nil {
		return nil, err
	}

	key := tuple.Key{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
	}

	var stored *tuple.Tuple
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		existing, err := e.store.GetTuple(ctx, ns, key)
		if err != nil {
			if isStoreNotFound(err) {
				return wrapError(CodeNoDataFound, ErrTupleNotFound,
					fmt.Sprintf("tuple %s does not exist", key))
			}
			return fmt.Errorf("tether: get tuple %s: %w", key, err)
		}
		if existing.ExpiresAt == nil {
			return wrapError(CodeNoDataFound, ErrNoExpiration,
				fmt.Sprintf("tuple %s has no expiration to extend", key))
		}

		now := e.now()
		base := *existing.ExpiresAt
		if !base.After(now) {
			base = now
		}
		next := base.Add(req.Interval)

		stored, err = e.store.UpdateExpiration(ctx, ns, key, &next)
		if err != nil {
			return fmt.Errorf("tether: update expiration of %s: %w", key, err)
		}
		return e.emitTupleEvent(ctx, audit.EventTupleUpdated, stored)
	})
	if err != nil {
		return nil, err
	}

	e.invalidateCache(ctx, ns)
	return stored, nil
}

func (e *Engine) updateExpiration(ctx context.Context, ns string, key tuple.Key, expiresAt *time.Time) (*tuple.Tuple, error) {
	var stored *tuple.Tuple
	err := e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		var err error
		stored, err = e.store.UpdateExpiration(ctx, ns, key, expiresAt)
		if err != nil {
			if isStoreNotFound(err) {
				return wrapError(CodeNoDataFound, ErrTupleNotFound,
					fmt.Sprintf("tuple %s does not exist", key))
			}
			return fmt.Errorf("tether: update expiration of %s: %w", key, err)
		}
		return e.emitTupleEvent(ctx, audit.EventTupleUpdated, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListExpiring returns unexpired tuples whose expiration falls within the
// window, soonest first. A zero window uses the configured default.
func (e *Engine) ListExpiring(ctx context.Context, namespace string, within time.Duration) ([]*tuple.Tuple, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if within == 0 {
		within = e.config.ExpiringWindow
	}
	if err := validate.Interval("within", within); err != nil {
		return nil, err
	}
	now := e.now()
	return e.store.ListExpiring(ctx, ns, now, now.Add(within))
}

// CleanupExpired physically deletes expired tuples from the namespace and
// returns the number removed.
func (e *Engine) CleanupExpired(ctx context.Context, namespace string) (int64, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return 0, err
	}

	var removed int64
	err = e.store.WithNamespaceLock(ctx, ns, func(ctx context.Context) error {
		removed, err = e.store.DeleteExpired(ctx, ns, e.now())
		if err != nil {
			return fmt.Errorf("tether: delete expired tuples: %w", err)
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
