package tether

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/tether/tuple"
)

// PathKind classifies how a permission path reaches the user.
type PathKind string

const (
	// PathDirect is a grant tuple whose subject is the user itself.
	PathDirect PathKind = "direct"

	// PathGroup is a grant to a group the user transitively belongs to.
	PathGroup PathKind = "group"

	// PathHierarchy is a grant of a stronger permission that implies the
	// requested one.
	PathHierarchy PathKind = "hierarchy"

	// PathResource is a grant on an ancestor of the requested resource.
	PathResource PathKind = "resource"
)

// Path is one justification for access. Chain describes the traversal for
// the kind: the nested groups climbed from the user outward, the implication
// sequence from the granted relation to the requested permission, or the
// containment chain from the requested resource up to the grant anchor.
type Path struct {
	Kind     PathKind `json:"kind"`
	Chain    []string `json:"chain,omitempty"`
	Relation string   `json:"relation"`
	Resource string   `json:"resource"`
	Group    string   `json:"group,omitempty"`
}

// ExplainRequest asks why a user holds a permission on a resource.
type ExplainRequest struct {
	Namespace    string `json:"namespace,omitempty"`
	UserID       string `json:"user_id"`
	Permission   string `json:"permission"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	MaxDepth     int    `json:"max_depth,omitempty"`
}

// ExplainResult carries the discovered paths. No paths means no access.
type ExplainResult struct {
	Allowed bool    `json:"allowed"`
	Paths   []*Path `json:"paths"`
}

// memberPath is a transitive membership together with the groups climbed to
// reach it, innermost first.
type memberPath struct {
	m     groupMembership
	chain []string
}

// Explain returns every distinct path by which the user holds the permission
// on the resource. An empty path set means the matching Check is false. Each
// grant tuple that derives the permission contributes one path, classified by
// the strongest mechanism it relies on.
func (e *Engine) Explain(ctx context.Context, req *ExplainRequest) (*ExplainResult, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if err := e.validateCheckArgs(req.UserID, req.Permission, req.ResourceType, req.ResourceID); err != nil {
		return nil, err
	}
	if req.MaxDepth < 0 {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("max_depth: must not be negative, got %d", req.MaxDepth))
	}
	groupDepth := e.config.MaxGroupDepth
	resourceDepth := e.config.MaxResourceDepth
	if req.MaxDepth > 0 {
		groupDepth, resourceDepth = req.MaxDepth, req.MaxDepth
	}
	now := e.now()

	memberships, err := e.membershipPaths(ctx, ns, req.UserID, groupDepth, now)
	if err != nil {
		return nil, err
	}
	ancestors, chains, err := e.ancestorChains(ctx, ns, req.ResourceType, req.ResourceID, resourceDepth, now)
	if err != nil {
		return nil, err
	}
	hops, err := e.implicationHops(ctx, ns, req.ResourceType, req.Permission)
	if err != nil {
		return nil, err
	}

	memberOf := make(map[resourceRef][]memberPath, len(memberships))
	for _, mp := range memberships {
		ref := resourceRef{Type: mp.m.Type, ID: mp.m.ID}
		memberOf[ref] = append(memberOf[ref], mp)
	}

	var paths []*Path
	seen := make(map[string]struct{})
	for _, a := range ancestors {
		grants, err := e.store.ListByResource(ctx, ns, a.Type, a.ID, "", now)
		if err != nil {
			return nil, fmt.Errorf("tether: list grants on %s: %w", a, err)
		}
		for _, t := range grants {
			hierChain, ok := hops.chainFrom(t.Relation)
			if !ok {
				continue
			}

			var via memberPath
			grantsUser := false
			if t.SubjectType == tuple.SubjectUser {
				if t.SubjectID != req.UserID {
					continue
				}
				grantsUser = true
			} else {
				mps, member := memberOf[resourceRef{Type: t.SubjectType, ID: t.SubjectID}]
				if !member {
					continue
				}
				matched := false
				for _, mp := range mps {
					if t.SubjectRelation == "" || t.SubjectRelation == mp.m.Relation {
						via, matched = mp, true
						break
					}
				}
				if !matched {
					continue
				}
			}

			p := classifyPath(req, t, a, chains[a], hierChain, grantsUser, via)
			key := string(p.Kind) + "|" + p.Relation + "|" + p.Resource + "|" + p.Group
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			paths = append(paths, p)
		}
	}

	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Kind != paths[j].Kind {
			return paths[i].Kind < paths[j].Kind
		}
		return paths[i].Resource < paths[j].Resource
	})
	return &ExplainResult{Allowed: len(paths) > 0, Paths: paths}, nil
}

// classifyPath tags a discovered grant by the strongest mechanism it uses:
// implication beats containment beats group membership beats a direct grant.
func classifyPath(req *ExplainRequest, t *tuple.Tuple, anchor resourceRef, resourceChain, hierChain []string, direct bool, via memberPath) *Path {
	p := &Path{
		Relation: t.Relation,
		Resource: anchor.String(),
	}
	if !direct {
		p.Group = resourceRef{Type: t.SubjectType, ID: t.SubjectID}.String()
	}
	self := resourceRef{Type: req.ResourceType, ID: req.ResourceID}
	switch {
	case len(hierChain) > 1:
		p.Kind = PathHierarchy
		p.Chain = hierChain
	case anchor != self:
		p.Kind = PathResource
		p.Chain = resourceChain
	case !direct:
		p.Kind = PathGroup
		p.Chain = via.chain
	default:
		p.Kind = PathDirect
	}
	return p
}

// ExplainText renders the paths as human-readable lines, one per path.
func (e *Engine) ExplainText(ctx context.Context, req *ExplainRequest) ([]string, error) {
	res, err := e.Explain(ctx, req)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(res.Paths))
	for _, p := range res.Paths {
		lines = append(lines, p.text(req.UserID))
	}
	return lines, nil
}

func (p *Path) text(userID string) string {
	switch p.Kind {
	case PathGroup:
		return fmt.Sprintf("GROUP: %s is member of %s which has %s on %s",
			userID, p.Group, p.Relation, p.Resource)
	case PathHierarchy:
		if p.Group != "" {
			return fmt.Sprintf("HIERARCHY: %s is member of %s which has %s (%s)",
				userID, p.Group, p.Relation, chainString(p.Chain))
		}
		return fmt.Sprintf("HIERARCHY: %s has %s on %s (%s)",
			userID, p.Relation, p.Resource, chainString(p.Chain))
	case PathResource:
		return fmt.Sprintf("RESOURCE: %s has %s on %s which contains %s (%s)",
			userID, p.Relation, p.Resource, p.Chain[0], chainString(p.Chain))
	default:
		return fmt.Sprintf("DIRECT: %s has %s on %s", userID, p.Relation, p.Resource)
	}
}

// membershipPaths walks the same graph as expandMemberships while keeping,
// per membership, the first chain of groups found from the user outward.
// Breadth-first order makes that chain a shortest one.
func (e *Engine) membershipPaths(ctx context.Context, ns, userID string, maxDepth int, now time.Time) ([]memberPath, error) {
	seeds, err := e.store.ListBySubject(ctx, ns, tuple.SubjectUser, userID, "", now)
	if err != nil {
		return nil, fmt.Errorf("tether: list memberships for %s: %w", userID, err)
	}

	type node struct {
		mp    memberPath
		depth int
	}

	var queue []node
	visited := make(map[string]struct{})
	var out []memberPath

	push := func(mp memberPath, depth int) {
		key := mp.m.Type + ":" + mp.m.ID + "#" + mp.m.Relation
		if _, seen := visited[key]; seen {
			return
		}
		visited[key] = struct{}{}
		out = append(out, mp)
		queue = append(queue, node{mp: mp, depth: depth})
	}

	for _, t := range seeds {
		m := groupMembership{Type: t.ResourceType, ID: t.ResourceID, Relation: t.Relation}
		push(memberPath{m: m, chain: []string{m.Type + ":" + m.ID}}, 1)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= maxDepth {
			continue
		}

		edges, err := e.store.ListBySubject(ctx, ns, n.mp.m.Type, n.mp.m.ID, e.config.MembershipRelation, now)
		if err != nil {
			return nil, fmt.Errorf("tether: expand group %s:%s: %w", n.mp.m.Type, n.mp.m.ID, err)
		}
		for _, t := range edges {
			if t.SubjectRelation != "" && t.SubjectRelation != n.mp.m.Relation {
				continue
			}
			m := groupMembership{Type: t.ResourceType, ID: t.ResourceID, Relation: t.Relation}
			chain := append(append([]string(nil), n.mp.chain...), m.Type+":"+m.ID)
			push(memberPath{m: m, chain: chain}, n.depth+1)
		}
	}

	return out, nil
}

// ancestorChains expands resource ancestors and records, per ancestor, the
// containment chain from the requested resource up to it.
func (e *Engine) ancestorChains(ctx context.Context, ns, resourceType, resourceID string, maxDepth int, now time.Time) ([]resourceRef, map[resourceRef][]string, error) {
	self := resourceRef{Type: resourceType, ID: resourceID}

	type node struct {
		r     resourceRef
		depth int
	}

	queue := []node{{r: self, depth: 0}}
	out := []resourceRef{self}
	chains := map[resourceRef][]string{self: {self.String()}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= maxDepth {
			continue
		}

		edges, err := e.store.ListByResource(ctx, ns, n.r.Type, n.r.ID, tuple.RelationParent, now)
		if err != nil {
			return nil, nil, fmt.Errorf("tether: expand ancestors of %s: %w", n.r, err)
		}
		for _, t := range edges {
			parent := resourceRef{Type: t.SubjectType, ID: t.SubjectID}
			if _, seen := chains[parent]; seen {
				continue
			}
			chains[parent] = append(append([]string(nil), chains[n.r]...), parent.String())
			out = append(out, parent)
			queue = append(queue, node{r: parent, depth: n.depth + 1})
		}
	}

	return out, chains, nil
}

// implicationMap holds, for one resource type and target permission, the
// shortest hop toward the target from every permission that derives it.
type implicationMap struct {
	target string
	next   map[string]string
}

// chainFrom returns the implication sequence from a granted relation to the
// target, inclusive on both ends, or false when the relation does not derive
// the target. Holding the target itself yields a single-element chain.
func (im *implicationMap) chainFrom(relation string) ([]string, bool) {
	if relation == im.target {
		return []string{relation}, true
	}
	if _, ok := im.next[relation]; !ok {
		return nil, false
	}
	chain := []string{relation}
	for cur := relation; cur != im.target; {
		cur = im.next[cur]
		chain = append(chain, cur)
	}
	return chain, true
}

// implicationHops walks the rule graph backward from the permission and
// records each source's next hop toward it. The rule graph is a DAG, so the
// iteration cap is only reachable on corrupt data.
func (e *Engine) implicationHops(ctx context.Context, ns, resourceType, permission string) (*implicationMap, error) {
	rules, err := e.store.ListRules(ctx, ns, resourceType)
	if err != nil {
		return nil, err
	}

	impliedBy := make(map[string][]string, len(rules))
	for _, r := range rules {
		impliedBy[r.Implies] = append(impliedBy[r.Implies], r.Permission)
	}

	im := &implicationMap{target: permission, next: make(map[string]string)}
	frontier := []string{permission}
	for i := 0; len(frontier) > 0; i++ {
		if i >= e.config.HierarchyIterationCap {
			return nil, fmt.Errorf("tether: implication hops for %s: %w", permission, ErrClosureDiverged)
		}
		var next []string
		for _, p := range frontier {
			for _, src := range impliedBy[p] {
				if _, ok := im.next[src]; ok || src == permission {
					continue
				}
				im.next[src] = p
				next = append(next, src)
			}
		}
		frontier = next
	}
	return im, nil
}
