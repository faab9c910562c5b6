package tether

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/tether/tuple"
)

// Stats summarizes the size of one namespace.
type Stats struct {
	Namespace         string `json:"namespace"`
	Tuples            int64  `json:"tuples"`
	HierarchyRules    int64  `json:"hierarchy_rules"`
	DistinctUsers     int64  `json:"distinct_users"`
	DistinctResources int64  `json:"distinct_resources"`
}

// IntegrityIssue reports one structural defect found in the relationship
// graph. A healthy namespace yields none.
type IntegrityIssue struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Details string `json:"details"`
}

const (
	// IntegrityStatusWarning marks an issue that does not stop evaluation.
	IntegrityStatusWarning = "warning"

	// IntegrityGroupCycles reports a cycle in the group membership graph.
	IntegrityGroupCycles = "group_cycles"

	// IntegrityResourceCycles reports a cycle in the containment graph.
	IntegrityResourceCycles = "resource_cycles"
)

// GetStats returns tuple, rule, and distinct subject/resource counts for the
// namespace.
func (e *Engine) GetStats(ctx context.Context, namespace string) (*Stats, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}

	tuples, err := e.store.CountTuples(ctx, &tuple.ListFilter{Namespace: ns})
	if err != nil {
		return nil, fmt.Errorf("tether: count tuples: %w", err)
	}
	rules, err := e.store.CountRules(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("tether: count hierarchy rules: %w", err)
	}
	users, err := e.store.CountDistinctUsers(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("tether: count distinct users: %w", err)
	}
	resources, err := e.store.CountDistinctResources(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("tether: count distinct resources: %w", err)
	}

	return &Stats{
		Namespace:         ns,
		Tuples:            tuples,
		HierarchyRules:    rules,
		DistinctUsers:     users,
		DistinctResources: resources,
	}, nil
}

// VerifyIntegrity scans the namespace for membership and containment cycles.
// The write path prevents them, so any hit points at data written outside the
// engine or at a bug.
func (e *Engine) VerifyIntegrity(ctx context.Context, namespace string) ([]*IntegrityIssue, error) {
	ns, err := e.resolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var issues []*IntegrityIssue

	memberEdges, err := e.store.ListTuples(ctx, &tuple.ListFilter{
		Namespace: ns,
		Relation:  e.config.MembershipRelation,
	})
	if err != nil {
		return nil, fmt.Errorf("tether: list member edges: %w", err)
	}
	groups := make(map[string][]string)
	for _, t := range memberEdges {
		if t.SubjectType == tuple.SubjectUser {
			continue
		}
		child := t.SubjectType + ":" + t.SubjectID
		outer := t.ResourceType + ":" + t.ResourceID
		groups[child] = append(groups[child], outer)
	}
	for _, cycle := range findCycles(groups) {
		issues = append(issues, &IntegrityIssue{
			Status:  IntegrityStatusWarning,
			Kind:    IntegrityGroupCycles,
			Details: chainString(cycle),
		})
	}

	parentEdges, err := e.store.ListTuples(ctx, &tuple.ListFilter{
		Namespace: ns,
		Relation:  tuple.RelationParent,
	})
	if err != nil {
		return nil, fmt.Errorf("tether: list parent edges: %w", err)
	}
	resources := make(map[string][]string)
	for _, t := range parentEdges {
		child := t.ResourceType + ":" + t.ResourceID
		parent := t.SubjectType + ":" + t.SubjectID
		resources[child] = append(resources[child], parent)
	}
	for _, cycle := range findCycles(resources) {
		issues = append(issues, &IntegrityIssue{
			Status:  IntegrityStatusWarning,
			Kind:    IntegrityResourceCycles,
			Details: chainString(cycle),
		})
	}

	return issues, nil
}

// findCycles runs a depth-first scan over the adjacency map and returns one
// representative path per cycle, closed on its starting node. Nodes are
// visited in sorted order so repeated scans report the same paths.
func findCycles(adjacency map[string][]string) [][]string {
	nodes := make([]string, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(adjacency))
	var cycles [][]string
	var stack []string

	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		next := append([]string(nil), adjacency[n]...)
		sort.Strings(next)
		for _, m := range next {
			switch color[m] {
			case white:
				visit(m)
			case gray:
				start := 0
				for i, s := range stack {
					if s == m {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), m)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}
