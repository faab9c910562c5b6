package tether

import (
	"context"
	"fmt"

	"github.com/xraph/tether/tuple"
	"github.com/xraph/tether/validate"
)

// ListTuplesRequest filters stored tuples. Zero-valued fields match any;
// expired tuples are excluded unless IncludeExpired is set.
type ListTuplesRequest struct {
	Namespace       string  `json:"namespace,omitempty"`
	ResourceType    string  `json:"resource_type,omitempty"`
	ResourceID      string  `json:"resource_id,omitempty"`
	Relation        string  `json:"relation,omitempty"`
	SubjectType     string  `json:"subject_type,omitempty"`
	SubjectID       string  `json:"subject_id,omitempty"`
	SubjectRelation *string `json:"subject_relation,omitempty"`
	IncludeExpired  bool    `json:"include_expired,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Offset          int     `json:"offset,omitempty"`
}

// GetTuple retrieves a tuple by its exact key.
func (e *Engine) GetTuple(ctx context.Context, namespace string, key tuple.Key) (*tuple.Tuple, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateTupleArgs(key.ResourceType, key.ResourceID, key.Relation, key.SubjectType, key.SubjectID, key.SubjectRelation); err != nil {
		return nil, err
	}

	t, err := e.store.GetTuple(ctx, ns, key)
	if err != nil {
		if isStoreNotFound(err) {
			return nil, wrapError(CodeNoDataFound, ErrTupleNotFound,
				fmt.Sprintf("tuple %s does not exist", key))
		}
		return nil, fmt.Errorf("tether: get tuple %s: %w", key, err)
	}
	return t, nil
}

// ListTuples returns tuples matching the request, bounded by the configured
// page limits.
func (e *Engine) ListTuples(ctx context.Context, req *ListTuplesRequest) ([]*tuple.Tuple, error) {
	filter, err := e.tupleFilter(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.store.ListTuples(ctx, filter)
}

// CountTuples returns the number of tuples matching the request.
func (e *Engine) CountTuples(ctx context.Context, req *ListTuplesRequest) (int64, error) {
	filter, err := e.tupleFilter(ctx, req)
	if err != nil {
		return 0, err
	}
	filter.Limit, filter.Offset = 0, 0
	return e.store.CountTuples(ctx, filter)
}

func (e *Engine) tupleFilter(ctx context.Context, req *ListTuplesRequest) (*tuple.ListFilter, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		"resource_type": req.ResourceType,
		"relation":      req.Relation,
		"subject_type":  req.SubjectType,
	}
	for name, v := range fields {
		if v == "" {
			continue
		}
		if err := validate.Identifier(name, v); err != nil {
			return nil, err
		}
	}
	if req.ResourceID != "" {
		if err := validate.FreeformID("resource_id", req.ResourceID); err != nil {
			return nil, err
		}
	}
	if req.SubjectID != "" {
		if err := validate.FreeformID("subject_id", req.SubjectID); err != nil {
			return nil, err
		}
	}
	if req.Offset < 0 {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("offset: must not be negative, got %d", req.Offset))
	}

	return &tuple.ListFilter{
		Namespace:       ns,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
		IncludeExpired:  req.IncludeExpired,
		Limit:           e.config.clampLimit(req.Limit),
		Offset:          req.Offset,
	}, nil
}
