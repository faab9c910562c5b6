package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/tuple"
)

// Compile-time check that *Store implements store.Store.
var _ store.Store = (*Store)(nil)

func newTuple(ns, rtype, rid, relation, stype, sid string) *tuple.Tuple {
	now := time.Now().UTC()
	return &tuple.Tuple{
		ID:           id.NewTupleID(),
		Namespace:    ns,
		ResourceType: rtype,
		ResourceID:   rid,
		Relation:     relation,
		SubjectType:  stype,
		SubjectID:    sid,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestTupleCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	tup := newTuple("acme", "repo", "api", "read", "user", "alice")

	// Upsert (insert)
	stored, created, err := s.UpsertTuple(ctx, tup)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected insert")
	}

	// Get
	got, err := s.GetTuple(ctx, "acme", stored.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.SubjectID != "alice" {
		t.Fatalf("expected alice, got %s", got.SubjectID)
	}

	// Upsert (replace expiration)
	exp := time.Now().Add(time.Hour).UTC()
	tup2 := newTuple("acme", "repo", "api", "read", "user", "alice")
	tup2.ExpiresAt = &exp
	_, created, err = s.UpsertTuple(ctx, tup2)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected update of existing key")
	}
	got, _ = s.GetTuple(ctx, "acme", tup.Key())
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Fatal("expiration not replaced")
	}

	// UpdateExpiration (clear)
	got, err = s.UpdateExpiration(ctx, "acme", tup.Key(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExpiresAt != nil {
		t.Fatal("expiration not cleared")
	}

	// Delete
	existed, err := s.DeleteTuple(ctx, "acme", tup.Key())
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected delete to report existing row")
	}
	_, err = s.GetTuple(ctx, "acme", tup.Key())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Second delete is a no-op.
	existed, _ = s.DeleteTuple(ctx, "acme", tup.Key())
	if existed {
		t.Fatal("expected no row on second delete")
	}
}

func TestUpdateExpirationMissing(t *testing.T) {
	ctx := context.Background()
	s := New()

	tup := newTuple("acme", "repo", "api", "read", "user", "alice")
	_, err := s.UpdateExpiration(ctx, "acme", tup.Key(), nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListTuplesFilters(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "api", "read", "user", "alice"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "api", "write", "user", "bob"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "doc", "spec", "read", "user", "alice"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("other", "repo", "api", "read", "user", "alice"))

	list, err := s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 tuples, got %d", len(list))
	}

	list, _ = s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", ResourceType: "repo"})
	if len(list) != 2 {
		t.Fatalf("expected 2 repo tuples, got %d", len(list))
	}

	list, _ = s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", SubjectID: "alice"})
	if len(list) != 2 {
		t.Fatalf("expected 2 alice tuples, got %d", len(list))
	}

	empty := ""
	list, _ = s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", SubjectRelation: &empty})
	if len(list) != 3 {
		t.Fatalf("expected 3 tuples with empty subject_relation, got %d", len(list))
	}

	count, _ := s.CountTuples(ctx, &tuple.ListFilter{Namespace: "acme"})
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestListTuplesPagination(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now().UTC()
	for i, sid := range []string{"u1", "u2", "u3"} {
		tup := newTuple("acme", "repo", "api", "read", "user", sid)
		tup.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, _, _ = s.UpsertTuple(ctx, tup)
	}

	list, _ := s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", Limit: 2})
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
	list, _ = s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", Limit: 2, Offset: 2})
	if len(list) != 1 {
		t.Fatalf("expected 1, got %d", len(list))
	}
	if list[0].SubjectID != "u3" {
		t.Fatalf("expected u3 on last page, got %s", list[0].SubjectID)
	}
}

func TestListByResourceAndSubject(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "api", "read", "user", "alice"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "api", "write", "user", "alice"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "web", "read", "user", "bob"))

	byRes, err := s.ListByResource(ctx, "acme", "repo", "api", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(byRes) != 2 {
		t.Fatalf("expected 2 tuples on repo:api, got %d", len(byRes))
	}

	byRes, _ = s.ListByResource(ctx, "acme", "repo", "api", "read", now)
	if len(byRes) != 1 {
		t.Fatalf("expected 1 read tuple, got %d", len(byRes))
	}

	bySub, err := s.ListBySubject(ctx, "acme", "user", "alice", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(bySub) != 2 {
		t.Fatalf("expected 2 alice tuples, got %d", len(bySub))
	}
}

func TestExpirationFiltering(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	live := newTuple("acme", "repo", "api", "read", "user", "alice")
	soon := now.Add(time.Hour)
	expiring := newTuple("acme", "repo", "api", "read", "user", "bob")
	expiring.ExpiresAt = &soon
	past := now.Add(-time.Hour)
	expired := newTuple("acme", "repo", "api", "read", "user", "carol")
	expired.ExpiresAt = &past

	_, _, _ = s.UpsertTuple(ctx, live)
	_, _, _ = s.UpsertTuple(ctx, expiring)
	_, _, _ = s.UpsertTuple(ctx, expired)

	// Expired rows are hidden by default, visible with IncludeExpired.
	list, _ := s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme"})
	if len(list) != 2 {
		t.Fatalf("expected 2 live tuples, got %d", len(list))
	}
	list, _ = s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", IncludeExpired: true})
	if len(list) != 3 {
		t.Fatalf("expected 3 with expired, got %d", len(list))
	}

	// ListByResource excludes expired rows.
	byRes, _ := s.ListByResource(ctx, "acme", "repo", "api", "read", now)
	if len(byRes) != 2 {
		t.Fatalf("expected 2 unexpired, got %d", len(byRes))
	}

	// ListExpiring returns only rows expiring within the window.
	exp, err := s.ListExpiring(ctx, "acme", now, now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(exp) != 1 || exp[0].SubjectID != "bob" {
		t.Fatalf("expected bob expiring, got %v", exp)
	}

	// DeleteExpired removes only the expired row.
	n, err := s.DeleteExpired(ctx, "acme", now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	list, _ = s.ListTuples(ctx, &tuple.ListFilter{Namespace: "acme", IncludeExpired: true})
	if len(list) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(list))
	}
}

func TestDistinctCounts(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "api", "read", "user", "alice"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "repo", "api", "write", "user", "alice"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "doc", "spec", "read", "user", "bob"))
	_, _, _ = s.UpsertTuple(ctx, newTuple("acme", "team", "eng", "member", "team", "infra"))

	users, _ := s.CountDistinctUsers(ctx, "acme")
	if users != 2 {
		t.Fatalf("expected 2 distinct users, got %d", users)
	}

	resources, _ := s.CountDistinctResources(ctx, "acme")
	if resources != 3 {
		t.Fatalf("expected 3 distinct resources, got %d", resources)
	}
}

func TestHierarchyRuleCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	r := &hierarchy.Rule{
		ID:           id.NewHierarchyID(),
		Namespace:    "acme",
		ResourceType: "repo",
		Permission:   "admin",
		Implies:      "write",
		CreatedAt:    time.Now().UTC(),
	}

	stored, created, err := s.UpsertRule(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected insert")
	}

	// Upsert of the same key returns the existing rule.
	again := &hierarchy.Rule{
		ID:           id.NewHierarchyID(),
		Namespace:    "acme",
		ResourceType: "repo",
		Permission:   "admin",
		Implies:      "write",
	}
	dup, created, err := s.UpsertRule(ctx, again)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected existing rule")
	}
	if dup.ID != stored.ID {
		t.Fatal("expected original rule returned")
	}

	_, _, _ = s.UpsertRule(ctx, &hierarchy.Rule{
		ID: id.NewHierarchyID(), Namespace: "acme", ResourceType: "repo",
		Permission: "write", Implies: "read",
	})

	rules, _ := s.ListRules(ctx, "acme", "repo")
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	count, _ := s.CountRules(ctx, "acme")
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	existed, _ := s.DeleteRule(ctx, "acme", "repo", "admin", "write")
	if !existed {
		t.Fatal("expected delete to report existing rule")
	}

	n, _ := s.DeleteRulesByResourceType(ctx, "acme", "repo")
	if n != 1 {
		t.Fatalf("expected 1 rule cleared, got %d", n)
	}
	rules, _ = s.ListRules(ctx, "acme", "")
	if len(rules) != 0 {
		t.Fatal("expected no rules remaining")
	}
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().UTC()

	events := []*audit.Event{
		{ID: id.NewAuditEventID(), EventTime: base, EventType: audit.EventTupleCreated, Namespace: "acme", ActorID: "alice", ResourceType: "repo", ResourceID: "api"},
		{ID: id.NewAuditEventID(), EventTime: base.Add(time.Second), EventType: audit.EventTupleDeleted, Namespace: "acme", ActorID: "bob", ResourceType: "repo", ResourceID: "api"},
		{ID: id.NewAuditEventID(), EventTime: base.Add(2 * time.Second), EventType: audit.EventHierarchyCreated, Namespace: "other", ActorID: "alice"},
	}
	for _, e := range events {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	// Unknown event types are rejected.
	err := s.AppendEvent(ctx, &audit.Event{ID: id.NewAuditEventID(), EventTime: base, EventType: "bogus", Namespace: "acme"})
	if err == nil {
		t.Fatal("expected rejection of unknown event type")
	}

	got, err := s.QueryEvents(ctx, &audit.QueryFilter{Namespace: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	// Newest first.
	if got[0].EventType != audit.EventTupleDeleted {
		t.Fatalf("expected newest first, got %s", got[0].EventType)
	}

	got, _ = s.QueryEvents(ctx, &audit.QueryFilter{ActorID: "alice"})
	if len(got) != 2 {
		t.Fatalf("expected 2 alice events, got %d", len(got))
	}

	after := base.Add(500 * time.Millisecond)
	got, _ = s.QueryEvents(ctx, &audit.QueryFilter{Namespace: "acme", After: &after})
	if len(got) != 1 {
		t.Fatalf("expected 1 event after cutoff, got %d", len(got))
	}

	count, _ := s.CountEvents(ctx, &audit.QueryFilter{Namespace: "acme"})
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestAuditPartitions(t *testing.T) {
	ctx := context.Background()
	s := New()

	name, err := s.CreatePartition(ctx, 2024, time.March)
	if err != nil {
		t.Fatal(err)
	}
	if name != "audit_events_y2024m03" {
		t.Fatalf("unexpected partition name %q", name)
	}

	// Creating again reports already-exists with an empty name.
	name, err = s.CreatePartition(ctx, 2024, time.March)
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Fatalf("expected empty name for existing partition, got %q", name)
	}

	created, err := s.EnsurePartitions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 partitions created, got %d", len(created))
	}

	parts, _ := s.ListPartitions(ctx)
	if len(parts) != 4 {
		t.Fatalf("expected 4 partitions, got %d", len(parts))
	}

	// Dropping removes the old partition and its events.
	old := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	_ = s.AppendEvent(ctx, &audit.Event{ID: id.NewAuditEventID(), EventTime: old, EventType: audit.EventTupleCreated, Namespace: "acme"})

	dropped, err := s.DropPartitions(ctx, 12)
	if err != nil {
		t.Fatal(err)
	}
	if len(dropped) != 1 || dropped[0] != "audit_events_y2024m03" {
		t.Fatalf("unexpected dropped set %v", dropped)
	}
	count, _ := s.CountEvents(ctx, &audit.QueryFilter{Namespace: "acme"})
	if count != 0 {
		t.Fatalf("expected events dropped with partition, got %d", count)
	}
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	s := New()

	ran := false
	err := s.WithNamespaceLock(ctx, "acme", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("namespace lock did not run fn")
	}

	// Same endpoint on both sides must not deadlock.
	err = s.WithPairLock(ctx, "acme", "team:eng", "team:eng", func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Reversed endpoint order acquires the same locks.
	err = s.WithPairLock(ctx, "acme", "team:b", "team:a", func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMigratePingClose(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
