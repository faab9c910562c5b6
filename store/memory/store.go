// Package memory provides an in-memory implementation of the Tether composite
// store. It is intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/tuple"
)

// Compile-time interface checks.
var (
	_ tuple.Store     = (*Store)(nil)
	_ hierarchy.Store = (*Store)(nil)
	_ audit.Store     = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Store is a thread-safe in-memory store for all Tether entities.
type Store struct {
	mu sync.RWMutex

	tuples     map[string]*tuple.Tuple    // ns|key -> tuple
	rules      map[string]*hierarchy.Rule // ns|rt|perm|implies -> rule
	events     []*audit.Event
	partitions map[string]time.Time // partition name -> month start

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		tuples:     make(map[string]*tuple.Tuple),
		rules:      make(map[string]*hierarchy.Rule),
		partitions: make(map[string]time.Time),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Locker
// ──────────────────────────────────────────────────

func (s *Store) namedLock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[name]
	if !ok {
		m = &sync.Mutex{}
		s.locks[name] = m
	}
	return m
}

// WithNamespaceLock serializes fn against every other mutation of the
// namespace.
func (s *Store) WithNamespaceLock(ctx context.Context, namespace string, fn func(context.Context) error) error {
	m := s.namedLock("ns:" + namespace)
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// WithPairLock holds both endpoint locks, lesser key first, for the duration
// of fn.
func (s *Store) WithPairLock(ctx context.Context, namespace, a, b string, fn func(context.Context) error) error {
	if b < a {
		a, b = b, a
	}
	first := s.namedLock("ep:" + namespace + ":" + a)
	first.Lock()
	defer first.Unlock()
	if a != b {
		second := s.namedLock("ep:" + namespace + ":" + b)
		second.Lock()
		defer second.Unlock()
	}
	return fn(ctx)
}

// ──────────────────────────────────────────────────
// Tuple Store
// ──────────────────────────────────────────────────

func (s *Store) UpsertTuple(_ context.Context, t *tuple.Tuple) (*tuple.Tuple, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tupleKey(t.Namespace, t.Key())
	if existing, ok := s.tuples[k]; ok {
		existing.ExpiresAt = copyTime(t.ExpiresAt)
		existing.UpdatedAt = t.UpdatedAt
		return copyTuple(existing), false, nil
	}
	s.tuples[k] = copyTuple(t)
	return copyTuple(t), true, nil
}

func (s *Store) GetTuple(_ context.Context, namespace string, key tuple.Key) (*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tuples[tupleKey(namespace, key)]
	if !ok {
		return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
	}
	return copyTuple(t), nil
}

func (s *Store) DeleteTuple(_ context.Context, namespace string, key tuple.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tupleKey(namespace, key)
	if _, ok := s.tuples[k]; !ok {
		return false, nil
	}
	delete(s.tuples, k)
	return true, nil
}

func (s *Store) UpdateExpiration(_ context.Context, namespace string, key tuple.Key, expiresAt *time.Time) (*tuple.Tuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tuples[tupleKey(namespace, key)]
	if !ok {
		return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
	}
	t.ExpiresAt = copyTime(expiresAt)
	t.UpdatedAt = time.Now()
	return copyTuple(t), nil
}

func (s *Store) ListTuples(_ context.Context, filter *tuple.ListFilter) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	result := make([]*tuple.Tuple, 0, len(s.tuples))
	for _, t := range s.tuples {
		if filter != nil {
			if filter.Namespace != "" && t.Namespace != filter.Namespace {
				continue
			}
			if filter.ResourceType != "" && t.ResourceType != filter.ResourceType {
				continue
			}
			if filter.ResourceID != "" && t.ResourceID != filter.ResourceID {
				continue
			}
			if filter.Relation != "" && t.Relation != filter.Relation {
				continue
			}
			if filter.SubjectType != "" && t.SubjectType != filter.SubjectType {
				continue
			}
			if filter.SubjectID != "" && t.SubjectID != filter.SubjectID {
				continue
			}
			if filter.SubjectRelation != nil && t.SubjectRelation != *filter.SubjectRelation {
				continue
			}
			if !filter.IncludeExpired && t.ExpiredAt(now) {
				continue
			}
		} else if t.ExpiredAt(now) {
			continue
		}
		result = append(result, copyTuple(t))
	}
	sortTuples(result)
	return applyPagination(result, paginationOpts(filter)), nil
}

func (s *Store) CountTuples(ctx context.Context, filter *tuple.ListFilter) (int64, error) {
	var f tuple.ListFilter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.ListTuples(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) ListByResource(_ context.Context, namespace, resourceType, resourceID, relation string, now time.Time) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*tuple.Tuple
	for _, t := range s.tuples {
		if t.Namespace != namespace || t.ResourceType != resourceType || t.ResourceID != resourceID {
			continue
		}
		if relation != "" && t.Relation != relation {
			continue
		}
		if t.ExpiredAt(now) {
			continue
		}
		result = append(result, copyTuple(t))
	}
	sortTuples(result)
	return result, nil
}

func (s *Store) ListBySubject(_ context.Context, namespace, subjectType, subjectID, relation string, now time.Time) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*tuple.Tuple
	for _, t := range s.tuples {
		if t.Namespace != namespace || t.SubjectType != subjectType || t.SubjectID != subjectID {
			continue
		}
		if relation != "" && t.Relation != relation {
			continue
		}
		if t.ExpiredAt(now) {
			continue
		}
		result = append(result, copyTuple(t))
	}
	sortTuples(result)
	return result, nil
}

func (s *Store) ListExpiring(_ context.Context, namespace string, now, until time.Time) ([]*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*tuple.Tuple
	for _, t := range s.tuples {
		if t.Namespace != namespace || t.ExpiresAt == nil {
			continue
		}
		if t.ExpiredAt(now) || t.ExpiresAt.After(until) {
			continue
		}
		result = append(result, copyTuple(t))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

func (s *Store) DeleteExpired(_ context.Context, namespace string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for k, t := range s.tuples {
		if t.Namespace == namespace && t.ExpiredAt(now) {
			delete(s.tuples, k)
			count++
		}
	}
	return count, nil
}

func (s *Store) CountDistinctUsers(_ context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range s.tuples {
		if t.Namespace == namespace && t.SubjectType == tuple.SubjectUser {
			seen[t.SubjectID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (s *Store) CountDistinctResources(_ context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range s.tuples {
		if t.Namespace == namespace {
			seen[t.ResourceType+":"+t.ResourceID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// ──────────────────────────────────────────────────
// Hierarchy Store
// ──────────────────────────────────────────────────

func (s *Store) UpsertRule(_ context.Context, r *hierarchy.Rule) (*hierarchy.Rule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey(r.Namespace, r.ResourceType, r.Permission, r.Implies)
	if existing, ok := s.rules[k]; ok {
		return copyRule(existing), false, nil
	}
	s.rules[k] = copyRule(r)
	return copyRule(r), true, nil
}

func (s *Store) DeleteRule(_ context.Context, namespace, resourceType, permission, implies string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ruleKey(namespace, resourceType, permission, implies)
	if _, ok := s.rules[k]; !ok {
		return false, nil
	}
	delete(s.rules, k)
	return true, nil
}

func (s *Store) DeleteRulesByResourceType(_ context.Context, namespace, resourceType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for k, r := range s.rules {
		if r.Namespace == namespace && r.ResourceType == resourceType {
			delete(s.rules, k)
			count++
		}
	}
	return count, nil
}

func (s *Store) ListRules(_ context.Context, namespace, resourceType string) ([]*hierarchy.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*hierarchy.Rule
	for _, r := range s.rules {
		if r.Namespace != namespace {
			continue
		}
		if resourceType != "" && r.ResourceType != resourceType {
			continue
		}
		result = append(result, copyRule(r))
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		if a.Permission != b.Permission {
			return a.Permission < b.Permission
		}
		return a.Implies < b.Implies
	})
	return result, nil
}

func (s *Store) CountRules(_ context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, r := range s.rules {
		if r.Namespace == namespace {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

func (s *Store) AppendEvent(_ context.Context, ev *audit.Event) error {
	if !ev.EventType.Valid() {
		return fmt.Errorf("event type %q: unknown value", ev.EventType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, copyEvent(ev))
	return nil
}

func (s *Store) QueryEvents(_ context.Context, filter *audit.QueryFilter) ([]*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*audit.Event
	for _, ev := range s.events {
		if filter != nil {
			if filter.Namespace != "" && ev.Namespace != filter.Namespace {
				continue
			}
			if filter.EventType != "" && ev.EventType != filter.EventType {
				continue
			}
			if filter.ActorID != "" && ev.ActorID != filter.ActorID {
				continue
			}
			if filter.ResourceType != "" && ev.ResourceType != filter.ResourceType {
				continue
			}
			if filter.ResourceID != "" && ev.ResourceID != filter.ResourceID {
				continue
			}
			if filter.SubjectType != "" && ev.SubjectType != filter.SubjectType {
				continue
			}
			if filter.SubjectID != "" && ev.SubjectID != filter.SubjectID {
				continue
			}
			if filter.After != nil && !ev.EventTime.After(*filter.After) {
				continue
			}
			if filter.Before != nil && !ev.EventTime.Before(*filter.Before) {
				continue
			}
		}
		result = append(result, copyEvent(ev))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EventTime.After(result[j].EventTime)
	})
	if filter != nil && filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CountEvents(ctx context.Context, filter *audit.QueryFilter) (int64, error) {
	var f audit.QueryFilter
	if filter != nil {
		f = *filter
	}
	f.Limit = 0
	list, err := s.QueryEvents(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) CreatePartition(_ context.Context, year int, month time.Month) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := audit.PartitionName(year, month)
	if _, ok := s.partitions[name]; ok {
		return "", nil
	}
	s.partitions[name] = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return name, nil
}

func (s *Store) EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	start := time.Now().UTC()
	var created []string
	for i := 0; i <= monthsAhead; i++ {
		m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
		name, err := s.CreatePartition(ctx, m.Year(), m.Month())
		if err != nil {
			return nil, err
		}
		if name != "" {
			created = append(created, name)
		}
	}
	return created, nil
}

func (s *Store) DropPartitions(_ context.Context, olderThanMonths int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -olderThanMonths, 0)
	var dropped []string
	for name, monthStart := range s.partitions {
		monthEnd := monthStart.AddDate(0, 1, 0)
		if monthEnd.After(cutoff) {
			continue
		}
		kept := s.events[:0]
		for _, e := range s.events {
			if e.EventTime.Before(monthStart) || !e.EventTime.Before(monthEnd) {
				kept = append(kept, e)
			}
		}
		s.events = kept
		delete(s.partitions, name)
		dropped = append(dropped, name)
	}
	sort.Strings(dropped)
	return dropped, nil
}

func (s *Store) ListPartitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func tupleKey(namespace string, key tuple.Key) string {
	return strings.Join([]string{
		namespace,
		key.ResourceType, key.ResourceID, key.Relation,
		key.SubjectType, key.SubjectID, key.SubjectRelation,
	}, "|")
}

func ruleKey(namespace, resourceType, permission, implies string) string {
	return strings.Join([]string{namespace, resourceType, permission, implies}, "|")
}

func copyTuple(t *tuple.Tuple) *tuple.Tuple {
	c := *t
	c.ExpiresAt = copyTime(t.ExpiresAt)
	return &c
}

func copyRule(r *hierarchy.Rule) *hierarchy.Rule {
	c := *r
	return &c
}

func copyEvent(ev *audit.Event) *audit.Event {
	c := *ev
	c.ExpiresAt = copyTime(ev.ExpiresAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sortTuples(ts []*tuple.Tuple) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return tupleKey(ts[i].Namespace, ts[i].Key()) < tupleKey(ts[j].Namespace, ts[j].Key())
	})
}

type pagOpts struct{ limit, offset int }

func paginationOpts(f *tuple.ListFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}

func applyPagination[T any](items []*T, p pagOpts) []*T {
	if p.offset > 0 && p.offset < len(items) {
		items = items[p.offset:]
	} else if p.offset > 0 {
		return nil
	}
	if p.limit > 0 && p.limit < len(items) {
		items = items[:p.limit]
	}
	return items
}
