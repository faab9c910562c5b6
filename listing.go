package tether

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/tether/tuple"
	"github.com/xraph/tether/validate"
)

// ListResourcesRequest lists the resources of one type a user can reach with
// a permission. Pages are ordered lexicographically by resource id; Cursor
// returns rows strictly greater than it.
type ListResourcesRequest struct {
	Namespace    string `json:"namespace,omitempty"`
	UserID       string `json:"user_id"`
	ResourceType string `json:"resource_type"`
	Permission   string `json:"permission"`
	Limit        int    `json:"limit,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
}

// ListResourcesResult is one page of resource ids.
type ListResourcesResult struct {
	ResourceIDs []string `json:"resource_ids"`
	NextCursor  string   `json:"next_cursor,omitempty"`
}

// ListUsersRequest lists the users holding a permission on a resource.
type ListUsersRequest struct {
	Namespace    string `json:"namespace,omitempty"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Permission   string `json:"permission"`
	Limit        int    `json:"limit,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
}

// ListUsersResult is one page of user ids.
type ListUsersResult struct {
	UserIDs    []string `json:"user_ids"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// FilterAuthorizedRequest narrows candidate resource ids to those the user
// can reach with the permission. Intended for candidate sets up to roughly a
// thousand ids; beyond that ListResources pages are the better tool.
type FilterAuthorizedRequest struct {
	Namespace    string   `json:"namespace,omitempty"`
	UserID       string   `json:"user_id"`
	ResourceType string   `json:"resource_type"`
	Permission   string   `json:"permission"`
	ResourceIDs  []string `json:"resource_ids"`
}

// ListResources returns the ids of resources of the requested type the user
// holds the permission on, directly, through groups, through implication, or
// through containment in a granted resource.
func (e *Engine) ListResources(ctx context.Context, req *ListResourcesRequest) (*ListResourcesResult, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateCheckArgs(req.UserID, req.Permission, req.ResourceType, "-"); err != nil {
		return nil, err
	}
	now := e.now()

	sources, err := e.implicationSources(ctx, ns, req.ResourceType, req.Permission)
	if err != nil {
		return nil, fmt.Errorf("tether: implication sources for %s: %w", req.Permission, err)
	}

	memberships, err := e.expandMemberships(ctx, ns, req.UserID, now)
	if err != nil {
		return nil, err
	}

	// Every resource the user holds a qualifying permission on, any type.
	granted := make(map[resourceRef]struct{})
	collect := func(tuples []*tuple.Tuple, membershipRel string) {
		for _, t := range tuples {
			if _, ok := sources[t.Relation]; !ok {
				continue
			}
			if t.SubjectRelation != "" && t.SubjectRelation != membershipRel {
				continue
			}
			granted[resourceRef{Type: t.ResourceType, ID: t.ResourceID}] = struct{}{}
		}
	}

	direct, err := e.store.ListBySubject(ctx, ns, tuple.SubjectUser, req.UserID, "", now)
	if err != nil {
		return nil, err
	}
	for _, t := range direct {
		if _, ok := sources[t.Relation]; ok {
			granted[resourceRef{Type: t.ResourceType, ID: t.ResourceID}] = struct{}{}
		}
	}
	for _, m := range memberships {
		viaGroup, err := e.store.ListBySubject(ctx, ns, m.Type, m.ID, "", now)
		if err != nil {
			return nil, err
		}
		collect(viaGroup, m.Relation)
	}

	// Matching resources: grants of the requested type plus matching
	// descendants of any granted resource.
	ids := make(map[string]struct{})
	for r := range granted {
		if r.Type == req.ResourceType {
			ids[r.ID] = struct{}{}
		}
		if err := e.collectDescendants(ctx, ns, r, req.ResourceType, ids, now); err != nil {
			return nil, err
		}
	}

	page, next := paginate(ids, req.Cursor, e.config.clampLimit(req.Limit))
	return &ListResourcesResult{ResourceIDs: page, NextCursor: next}, nil
}

// collectDescendants walks containment edges downward from root and records
// descendant ids of the wanted type.
func (e *Engine) collectDescendants(ctx context.Context, ns string, root resourceRef, wantType string, out map[string]struct{}, now time.Time) error {
	type node struct {
		r     resourceRef
		depth int
	}
	queue := []node{{r: root, depth: 0}}
	visited := map[string]struct{}{root.String(): {}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= e.config.MaxResourceDepth {
			continue
		}
		children, err := e.store.ListBySubject(ctx, ns, n.r.Type, n.r.ID, tuple.RelationParent, now)
		if err != nil {
			return fmt.Errorf("tether: descendants of %s: %w", n.r, err)
		}
		for _, t := range children {
			child := resourceRef{Type: t.ResourceType, ID: t.ResourceID}
			if _, seen := visited[child.String()]; seen {
				continue
			}
			visited[child.String()] = struct{}{}
			if child.Type == wantType {
				out[child.ID] = struct{}{}
			}
			queue = append(queue, node{r: child, depth: n.depth + 1})
		}
	}
	return nil
}

// ListUsers returns the ids of users holding the permission on the resource,
// including grants on ancestors and grants to groups, expanded down to users.
func (e *Engine) ListUsers(ctx context.Context, req *ListUsersRequest) (*ListUsersResult, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := validate.Identifier("resource_type", req.ResourceType); err != nil {
		return nil, err
	}
	if err := validate.FreeformID("resource_id", req.ResourceID); err != nil {
		return nil, err
	}
	if err := validate.Identifier("permission", req.Permission); err != nil {
		return nil, err
	}
	now := e.now()

	sources, err := e.implicationSources(ctx, ns, req.ResourceType, req.Permission)
	if err != nil {
		return nil, fmt.Errorf("tether: implication sources for %s: %w", req.Permission, err)
	}
	ancestors, err := e.expandAncestors(ctx, ns, req.ResourceType, req.ResourceID, now)
	if err != nil {
		return nil, err
	}

	users := make(map[string]struct{})
	for _, a := range ancestors {
		grants, err := e.store.ListByResource(ctx, ns, a.Type, a.ID, "", now)
		if err != nil {
			return nil, err
		}
		for _, t := range grants {
			if _, ok := sources[t.Relation]; !ok {
				continue
			}
			if t.SubjectType == tuple.SubjectUser {
				users[t.SubjectID] = struct{}{}
				continue
			}
			group := resourceRef{Type: t.SubjectType, ID: t.SubjectID}
			if err := e.expandGroupUsers(ctx, ns, group, t.SubjectRelation, users, now); err != nil {
				return nil, err
			}
		}
	}

	page, next := paginate(users, req.Cursor, e.config.clampLimit(req.Limit))
	return &ListUsersResult{UserIDs: page, NextCursor: next}, nil
}

// expandGroupUsers walks a group downward and records the users holding the
// required relation on it. An empty required relation matches any. Nested
// groups are entered through member edges, honoring userset edges.
func (e *Engine) expandGroupUsers(ctx context.Context, ns string, group resourceRef, required string, out map[string]struct{}, now time.Time) error {
	type node struct {
		g        resourceRef
		required string
		depth    int
	}
	queue := []node{{g: group, required: required, depth: 0}}
	visited := map[string]struct{}{group.String() + "#" + required: {}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth > e.config.MaxGroupDepth {
			continue
		}

		tuples, err := e.store.ListByResource(ctx, ns, n.g.Type, n.g.ID, "", now)
		if err != nil {
			return fmt.Errorf("tether: expand users of %s: %w", n.g, err)
		}
		for _, t := range tuples {
			if t.SubjectType == tuple.SubjectUser {
				if n.required == "" || t.Relation == n.required {
					out[t.SubjectID] = struct{}{}
				}
				continue
			}
			// Nested groups contribute their users as members only.
			if t.Relation != e.config.MembershipRelation {
				continue
			}
			if n.required != "" && n.required != e.config.MembershipRelation {
				continue
			}
			inner := node{
				g:        resourceRef{Type: t.SubjectType, ID: t.SubjectID},
				required: t.SubjectRelation,
				depth:    n.depth + 1,
			}
			key := inner.g.String() + "#" + inner.required
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			queue = append(queue, inner)
		}
	}
	return nil
}

// FilterAuthorized returns the subset of candidate ids the user holds the
// permission on, preserving the input order.
func (e *Engine) FilterAuthorized(ctx context.Context, req *FilterAuthorizedRequest) ([]string, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := validate.FreeformID("user_id", req.UserID); err != nil {
		return nil, err
	}
	if err := validate.Identifier("resource_type", req.ResourceType); err != nil {
		return nil, err
	}
	if err := validate.Identifier("permission", req.Permission); err != nil {
		return nil, err
	}
	if err := validate.FreeformIDs("resource_ids", req.ResourceIDs); err != nil {
		return nil, err
	}
	now := e.now()

	memberships, err := e.expandMemberships(ctx, ns, req.UserID, now)
	if err != nil {
		return nil, err
	}

	authorized := make([]string, 0, len(req.ResourceIDs))
	seen := make(map[string]struct{}, len(req.ResourceIDs))
	for _, rid := range req.ResourceIDs {
		if _, dup := seen[rid]; dup {
			continue
		}
		seen[rid] = struct{}{}

		ancestors, err := e.expandAncestors(ctx, ns, req.ResourceType, rid, now)
		if err != nil {
			return nil, err
		}
		grants, err := e.collectGrants(ctx, ns, req.UserID, memberships, ancestors, now)
		if err != nil {
			return nil, err
		}
		perms, err := e.closePermissions(ctx, ns, req.ResourceType, grants)
		if err != nil {
			return nil, fmt.Errorf("tether: close permissions for %s: %w", req.ResourceType, err)
		}
		if _, ok := perms[req.Permission]; ok {
			authorized = append(authorized, rid)
		}
	}
	return authorized, nil
}

// paginate sorts the set lexicographically, drops entries at or below the
// cursor, and cuts one page. A non-empty next cursor means more rows may
// follow.
func paginate(set map[string]struct{}, cursor string, limit int) ([]string, string) {
	all := make([]string, 0, len(set))
	for s := range set {
		if cursor != "" && s <= cursor {
			continue
		}
		all = append(all, s)
	}
	sort.Strings(all)

	if len(all) > limit {
		return all[:limit], all[limit-1]
	}
	return all, ""
}
