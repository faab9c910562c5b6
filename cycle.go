package tether

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tether/tuple"
)

// membershipCycle reports whether adding "child is a member of outer" would
// close a loop in the group graph. It climbs member edges upward from outer
// looking for child, bounded by MaxGroupDepth. The returned chain lists the
// groups on the offending path, outermost last.
func (e *Engine) membershipCycle(ctx context.Context, ns string, child, outer resourceRef, now time.Time) (bool, []string, error) {
	if child == outer {
		return true, []string{child.String()}, nil
	}
	return e.climbForTarget(ctx, ns, outer, child, tuple.RelationMember, e.config.MaxGroupDepth, now)
}

// parentCycle reports whether adding "child has parent" would close a loop
// in the containment graph. A loop exists when parent is already contained
// under child, so the walk descends from child looking for parent, bounded
// by MaxResourceDepth.
func (e *Engine) parentCycle(ctx context.Context, ns string, child, parent resourceRef, now time.Time) (bool, []string, error) {
	if child == parent {
		return true, []string{child.String()}, nil
	}
	return e.climbForTarget(ctx, ns, child, parent, tuple.RelationParent, e.config.MaxResourceDepth, now)
}

// climbForTarget walks relation edges subject-to-resource from start and
// reports whether target is reachable. For member edges that means climbing
// into containing groups; for parent edges it descends into contained
// resources. The chain records the path from start to target.
func (e *Engine) climbForTarget(ctx context.Context, ns string, start, target resourceRef, relation string, maxDepth int, now time.Time) (bool, []string, error) {
	type node struct {
		r     resourceRef
		depth int
		chain []string
	}

	queue := []node{{r: start, depth: 0, chain: []string{start.String()}}}
	visited := map[string]struct{}{start.String(): {}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= maxDepth {
			continue
		}

		edges, err := e.store.ListBySubject(ctx, ns, n.r.Type, n.r.ID, relation, now)
		if err != nil {
			return false, nil, fmt.Errorf("tether: cycle scan at %s: %w", n.r, err)
		}
		for _, t := range edges {
			up := resourceRef{Type: t.ResourceType, ID: t.ResourceID}
			chain := append(append([]string{}, n.chain...), up.String())
			if up == target {
				return true, chain, nil
			}
			if _, seen := visited[up.String()]; seen {
				continue
			}
			visited[up.String()] = struct{}{}
			queue = append(queue, node{r: up, depth: n.depth + 1, chain: chain})
		}
	}
	return false, nil, nil
}

// hierarchyCycle reports whether adding the rule permission→implies would
// close a loop in the implication graph for the resource type. It follows
// existing rules forward from implies looking for permission.
func (e *Engine) hierarchyCycle(ctx context.Context, ns, resourceType, permission, implies string) (bool, []string, error) {
	rules, err := e.store.ListRules(ctx, ns, resourceType)
	if err != nil {
		return false, nil, err
	}

	edges := make(map[string][]string, len(rules))
	for _, r := range rules {
		edges[r.Permission] = append(edges[r.Permission], r.Implies)
	}

	type node struct {
		perm  string
		chain []string
	}

	queue := []node{{perm: implies, chain: []string{permission, implies}}}
	visited := map[string]struct{}{implies: {}}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range edges[n.perm] {
			chain := append(append([]string{}, n.chain...), next)
			if next == permission {
				return true, chain, nil
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, node{perm: next, chain: chain})
		}
	}
	return false, nil, nil
}
