package tether

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tether/tuple"
)

// groupMembership records one group the user belongs to and the relation by
// which the membership holds. The relation participates in userset matching:
// a grant whose subject_relation is set only applies to users holding that
// relation on the subject group.
type groupMembership struct {
	Type     string
	ID       string
	Relation string
}

// resourceRef identifies a resource node in the containment graph.
type resourceRef struct {
	Type string
	ID   string
}

func (r resourceRef) String() string { return r.Type + ":" + r.ID }

// expandMemberships returns every group the user transitively belongs to.
// Seeded from all unexpired tuples whose subject is the user, then climbed
// along member edges breadth-first. Nodes past the depth bound are not
// expanded further; the permission simply does not derive through them.
func (e *Engine) expandMemberships(ctx context.Context, ns, userID string, now time.Time) ([]groupMembership, error) {
	seeds, err := e.store.ListBySubject(ctx, ns, tuple.SubjectUser, userID, "", now)
	if err != nil {
		return nil, fmt.Errorf("tether: list memberships for %s: %w", userID, err)
	}

	type node struct {
		m     groupMembership
		depth int
	}

	var queue []node
	visited := make(map[string]struct{})
	var out []groupMembership

	push := func(m groupMembership, depth int) {
		key := m.Type + ":" + m.ID + "#" + m.Relation
		if _, seen := visited[key]; seen {
			return
		}
		visited[key] = struct{}{}
		out = append(out, m)
		queue = append(queue, node{m: m, depth: depth})
	}

	for _, t := range seeds {
		push(groupMembership{Type: t.ResourceType, ID: t.ResourceID, Relation: t.Relation}, 1)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= e.config.MaxGroupDepth {
			continue
		}

		edges, err := e.store.ListBySubject(ctx, ns, n.m.Type, n.m.ID, e.config.MembershipRelation, now)
		if err != nil {
			return nil, fmt.Errorf("tether: expand group %s:%s: %w", n.m.Type, n.m.ID, err)
		}
		for _, t := range edges {
			// A userset edge only carries members holding the named
			// relation on the inner group.
			if t.SubjectRelation != "" && t.SubjectRelation != n.m.Relation {
				continue
			}
			push(groupMembership{
				Type:     t.ResourceType,
				ID:       t.ResourceID,
				Relation: t.Relation,
			}, n.depth+1)
		}
	}

	return out, nil
}

// expandAncestors returns the resource itself plus its transitive parents,
// following parent edges breadth-first up to MaxResourceDepth.
func (e *Engine) expandAncestors(ctx context.Context, ns, resourceType, resourceID string, now time.Time) ([]resourceRef, error) {
	self := resourceRef{Type: resourceType, ID: resourceID}

	type node struct {
		r     resourceRef
		depth int
	}

	queue := []node{{r: self, depth: 0}}
	visited := map[string]struct{}{self.String(): {}}
	out := []resourceRef{self}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= e.config.MaxResourceDepth {
			continue
		}

		edges, err := e.store.ListByResource(ctx, ns, n.r.Type, n.r.ID, tuple.RelationParent, now)
		if err != nil {
			return nil, fmt.Errorf("tether: expand ancestors of %s: %w", n.r, err)
		}
		for _, t := range edges {
			parent := resourceRef{Type: t.SubjectType, ID: t.SubjectID}
			if _, seen := visited[parent.String()]; seen {
				continue
			}
			visited[parent.String()] = struct{}{}
			out = append(out, parent)
			queue = append(queue, node{r: parent, depth: n.depth + 1})
		}
	}

	return out, nil
}

// collectGrants returns the relations the user holds on any of the given
// resources, directly or through a group membership. A grant tuple with a
// subject_relation applies only when it matches the user's membership
// relation on that group; an unset subject_relation matches any.
func (e *Engine) collectGrants(ctx context.Context, ns, userID string, memberships []groupMembership, resources []resourceRef, now time.Time) (map[string]struct{}, error) {
	memberOf := make(map[resourceRef]map[string]struct{}, len(memberships))
	for _, m := range memberships {
		ref := resourceRef{Type: m.Type, ID: m.ID}
		if memberOf[ref] == nil {
			memberOf[ref] = make(map[string]struct{})
		}
		memberOf[ref][m.Relation] = struct{}{}
	}

	grants := make(map[string]struct{})
	for _, r := range resources {
		tuples, err := e.store.ListByResource(ctx, ns, r.Type, r.ID, "", now)
		if err != nil {
			return nil, fmt.Errorf("tether: list grants on %s: %w", r, err)
		}
		for _, t := range tuples {
			if t.SubjectType == tuple.SubjectUser && t.SubjectID == userID {
				grants[t.Relation] = struct{}{}
				continue
			}
			rels, ok := memberOf[resourceRef{Type: t.SubjectType, ID: t.SubjectID}]
			if !ok {
				continue
			}
			if t.SubjectRelation != "" {
				if _, held := rels[t.SubjectRelation]; !held {
					continue
				}
			}
			grants[t.Relation] = struct{}{}
		}
	}
	return grants, nil
}

// closePermissions computes the fixed point of the implication rules for the
// resource type over the given permission set. The rule graph is a DAG, so
// the iteration cap is only reachable on corrupt data.
func (e *Engine) closePermissions(ctx context.Context, ns, resourceType string, perms map[string]struct{}) (map[string]struct{}, error) {
	rules, err := e.store.ListRules(ctx, ns, resourceType)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 || len(perms) == 0 {
		return perms, nil
	}

	implies := make(map[string][]string, len(rules))
	for _, r := range rules {
		implies[r.Permission] = append(implies[r.Permission], r.Implies)
	}

	closed := make(map[string]struct{}, len(perms))
	for p := range perms {
		closed[p] = struct{}{}
	}

	for i := 0; ; i++ {
		if i >= e.config.HierarchyIterationCap {
			return nil, ErrClosureDiverged
		}
		grew := false
		for p := range closed {
			for _, q := range implies[p] {
				if _, ok := closed[q]; !ok {
					closed[q] = struct{}{}
					grew = true
				}
			}
		}
		if !grew {
			return closed, nil
		}
	}
}

// implicationSources computes the reverse closure: every permission that,
// held on the resource type, derives the given permission (including itself).
func (e *Engine) implicationSources(ctx context.Context, ns, resourceType, permission string) (map[string]struct{}, error) {
	rules, err := e.store.ListRules(ctx, ns, resourceType)
	if err != nil {
		return nil, err
	}

	impliedBy := make(map[string][]string, len(rules))
	for _, r := range rules {
		impliedBy[r.Implies] = append(impliedBy[r.Implies], r.Permission)
	}

	sources := map[string]struct{}{permission: {}}
	frontier := []string{permission}
	for i := 0; len(frontier) > 0; i++ {
		if i >= e.config.HierarchyIterationCap {
			return nil, ErrClosureDiverged
		}
		var next []string
		for _, p := range frontier {
			for _, src := range impliedBy[p] {
				if _, ok := sources[src]; !ok {
					sources[src] = struct{}{}
					next = append(next, src)
				}
			}
		}
		frontier = next
	}
	return sources, nil
}
