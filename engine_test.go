package tether

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/store/memory"
	"github.com/xraph/tether/tuple"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(append([]Option{WithStore(memory.New())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func grant(t *testing.T, eng *Engine, ns, rtype, rid, relation, stype, sid string) {
	t.Helper()
	if _, err := eng.Grant(context.Background(), ns, rtype, rid, relation, stype, sid); err != nil {
		t.Fatalf("grant %s:%s#%s@%s:%s: %v", rtype, rid, relation, stype, sid, err)
	}
}

func checkAllowed(t *testing.T, eng *Engine, ns, userID, perm, rtype, rid string) bool {
	t.Helper()
	allowed, err := eng.Check(context.Background(), &CheckRequest{
		Namespace: ns, UserID: userID, Permission: perm,
		ResourceType: rtype, ResourceID: rid,
	})
	if err != nil {
		t.Fatal(err)
	}
	return allowed
}

func TestNewEngine_RequiresStore(t *testing.T) {
	_, err := NewEngine()
	if err == nil {
		t.Fatal("expected error when store is nil")
	}
}

func TestGrantCheckRevoke(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")

	if !checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("expected alice to read repo:api")
	}
	if checkAllowed(t, eng, "acme", "alice", "write", "repo", "api") {
		t.Fatal("alice has no write grant")
	}
	if checkAllowed(t, eng, "acme", "bob", "read", "repo", "api") {
		t.Fatal("bob has no grant")
	}
	if checkAllowed(t, eng, "other", "alice", "read", "repo", "api") {
		t.Fatal("grant must not leak across namespaces")
	}

	existed, err := eng.Revoke(ctx, "acme", "repo", "api", "read", "user", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected revoke to report an existing tuple")
	}
	if checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("expected check to fail after revoke")
	}
}

func TestCheckAnyAll(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")

	any, err := eng.CheckAny(ctx, &CheckAnyRequest{
		Namespace: "acme", UserID: "alice",
		Permissions:  []string{"write", "read"},
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !any {
		t.Fatal("expected any of [write read] to pass")
	}

	any, err = eng.CheckAny(ctx, &CheckAnyRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if any {
		t.Fatal("empty permission set must never satisfy CheckAny")
	}

	all, err := eng.CheckAll(ctx, &CheckAllRequest{
		Namespace: "acme", UserID: "alice",
		Permissions:  []string{"read", "write"},
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if all {
		t.Fatal("alice lacks write, CheckAll must fail")
	}

	all, err = eng.CheckAll(ctx, &CheckAllRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !all {
		t.Fatal("empty permission set always satisfies CheckAll")
	}
}

func TestGroupMembership(t *testing.T) {
	eng := newTestEngine(t)

	grant(t, eng, "acme", "repo", "api", "read", "team", "core")
	grant(t, eng, "acme", "team", "core", "member", "user", "bob")

	if !checkAllowed(t, eng, "acme", "bob", "read", "repo", "api") {
		t.Fatal("expected bob to read via team:core")
	}
	if checkAllowed(t, eng, "acme", "eve", "read", "repo", "api") {
		t.Fatal("eve is not a member")
	}
}

func TestNestedGroups(t *testing.T) {
	eng := newTestEngine(t)

	grant(t, eng, "acme", "repo", "api", "read", "team", "eng")
	grant(t, eng, "acme", "team", "eng", "member", "team", "backend")
	grant(t, eng, "acme", "team", "backend", "member", "user", "carol")

	if !checkAllowed(t, eng, "acme", "carol", "read", "repo", "api") {
		t.Fatal("expected carol to read via backend -> eng")
	}
}

func TestUsersetSubjectRelation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Grant applies only to subjects holding "member" on team:core.
	_, err := eng.WriteTuple(ctx, &WriteTupleRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "team", SubjectID: "core", SubjectRelation: "member",
	})
	if err != nil {
		t.Fatal(err)
	}
	grant(t, eng, "acme", "team", "core", "member", "user", "bob")
	grant(t, eng, "acme", "team", "core", "admin", "user", "dan")

	if !checkAllowed(t, eng, "acme", "bob", "read", "repo", "api") {
		t.Fatal("expected member bob to match the userset")
	}
	if checkAllowed(t, eng, "acme", "dan", "read", "repo", "api") {
		t.Fatal("dan holds admin, not member, and must not match")
	}
}

func TestHierarchyImplication(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	rules, err := eng.SetHierarchy(ctx, "acme", "repo", "admin", "write", "read")
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules from a 3-entry chain, got %d", len(rules))
	}

	grant(t, eng, "acme", "repo", "api", "admin", "user", "alice")

	for _, perm := range []string{"admin", "write", "read"} {
		if !checkAllowed(t, eng, "acme", "alice", perm, "repo", "api") {
			t.Fatalf("expected admin to imply %s", perm)
		}
	}

	// Implication does not run upward.
	grant(t, eng, "acme", "repo", "api", "read", "user", "bob")
	if checkAllowed(t, eng, "acme", "bob", "admin", "repo", "api") {
		t.Fatal("read must not imply admin")
	}

	// Rules bind to their resource type.
	grant(t, eng, "acme", "doc", "d1", "admin", "user", "alice")
	if checkAllowed(t, eng, "acme", "alice", "read", "doc", "d1") {
		t.Fatal("repo rules must not apply to doc")
	}
}

func TestAddHierarchy_SelfImplication(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.AddHierarchy(context.Background(), &AddHierarchyRequest{
		Namespace: "acme", ResourceType: "repo",
		Permission: "admin", Implies: "admin",
	})
	if err == nil {
		t.Fatal("expected error for self-implication")
	}
	if CodeOf(err) != CodeCheckViolation {
		t.Fatalf("expected check violation, got %s", CodeOf(err))
	}
}

func TestAddHierarchy_CycleRejected(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.AddHierarchy(ctx, &AddHierarchyRequest{
		Namespace: "acme", ResourceType: "repo",
		Permission: "admin", Implies: "write",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = eng.AddHierarchy(ctx, &AddHierarchyRequest{
		Namespace: "acme", ResourceType: "repo",
		Permission: "write", Implies: "admin",
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
	if CodeOf(err) != CodeInvalidParameter {
		t.Fatalf("expected invalid parameter, got %s", CodeOf(err))
	}
}

func TestSetHierarchy_TooShort(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.SetHierarchy(context.Background(), "acme", "repo", "admin")
	if err == nil {
		t.Fatal("expected error for single-entry chain")
	}
	if CodeOf(err) != CodeInvalidParameter {
		t.Fatalf("expected invalid parameter, got %s", CodeOf(err))
	}
}

func TestRemoveAndClearHierarchy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.SetHierarchy(ctx, "acme", "repo", "admin", "write", "read"); err != nil {
		t.Fatal(err)
	}
	grant(t, eng, "acme", "repo", "api", "admin", "user", "alice")

	removed, err := eng.RemoveHierarchy(ctx, &RemoveHierarchyRequest{
		Namespace: "acme", ResourceType: "repo",
		Permission: "write", Implies: "read",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected rule removal")
	}
	if checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("read derivation should be gone after rule removal")
	}
	if !checkAllowed(t, eng, "acme", "alice", "write", "repo", "api") {
		t.Fatal("admin -> write still holds")
	}

	n, err := eng.ClearHierarchy(ctx, "acme", "repo")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining rule cleared, got %d", n)
	}
	if checkAllowed(t, eng, "acme", "alice", "write", "repo", "api") {
		t.Fatal("write derivation should be gone after clear")
	}
}

func TestParentContainment(t *testing.T) {
	eng := newTestEngine(t)

	grant(t, eng, "acme", "folder", "root", "read", "user", "alice")
	grant(t, eng, "acme", "doc", "d1", "parent", "folder", "root")

	if !checkAllowed(t, eng, "acme", "alice", "read", "doc", "d1") {
		t.Fatal("expected grant on folder:root to reach contained doc:d1")
	}

	// Containment nests.
	grant(t, eng, "acme", "doc", "d2", "parent", "doc", "d1")
	if !checkAllowed(t, eng, "acme", "alice", "read", "doc", "d2") {
		t.Fatal("expected containment to chain through doc:d1")
	}
}

func TestWriteTuple_PastExpiration(t *testing.T) {
	eng := newTestEngine(t)

	past := time.Now().Add(-time.Hour)
	_, err := eng.WriteTuple(context.Background(), &WriteTupleRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
		ExpiresAt: &past,
	})
	if err == nil {
		t.Fatal("expected error for past expiration")
	}
	if CodeOf(err) != CodeCheckViolation {
		t.Fatalf("expected check violation, got %s", CodeOf(err))
	}
}

func TestWriteTuple_MemberCycleRejected(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "team", "b", "member", "team", "a")

	_, err := eng.WriteTuple(ctx, &WriteTupleRequest{
		Namespace:    "acme",
		ResourceType: "team", ResourceID: "a", Relation: "member",
		SubjectType: "team", SubjectID: "b",
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected membership cycle rejection, got %v", err)
	}
	if CodeOf(err) != CodeInvalidParameter {
		t.Fatalf("expected invalid parameter, got %s", CodeOf(err))
	}
}

func TestWriteTuple_ParentCycleRejected(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "doc", "child", "parent", "doc", "parent")
	grant(t, eng, "acme", "doc", "parent", "parent", "doc", "grand")

	_, err := eng.WriteTuple(ctx, &WriteTupleRequest{
		Namespace:    "acme",
		ResourceType: "doc", ResourceID: "grand", Relation: "parent",
		SubjectType: "doc", SubjectID: "child",
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected containment cycle rejection, got %v", err)
	}
}

func TestWriteTuple_SelfEdgeRejected(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.WriteTuple(context.Background(), &WriteTupleRequest{
		Namespace:    "acme",
		ResourceType: "team", ResourceID: "a", Relation: "member",
		SubjectType: "team", SubjectID: "a",
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected self edge rejection, got %v", err)
	}
}

func TestWriteTuplesBulk(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.WriteTuplesBulk(ctx, &BulkWriteRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user",
		SubjectIDs:  []string{"alice", "bob", "carol"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created != 3 {
		t.Fatalf("expected 3 created, got %d", created)
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		if !checkAllowed(t, eng, "acme", u, "read", "repo", "api") {
			t.Fatalf("expected %s to read after bulk write", u)
		}
	}

	// Rewriting the same set creates nothing new.
	created, err = eng.WriteTuplesBulk(ctx, &BulkWriteRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user",
		SubjectIDs:  []string{"alice", "bob", "dave"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("expected only dave created, got %d", created)
	}
}

func TestWriteTuplesBulk_ReservedRelations(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.WriteTuplesBulk(ctx, &BulkWriteRequest{
		Namespace:    "acme",
		ResourceType: "doc", ResourceID: "d1", Relation: "parent",
		SubjectType: "folder",
		SubjectIDs:  []string{"root"},
	})
	if !errors.Is(err, ErrReservedRelation) {
		t.Fatalf("expected parent to be refused in bulk, got %v", err)
	}
	if CodeOf(err) != CodeFeatureNotSupported {
		t.Fatalf("expected feature not supported, got %s", CodeOf(err))
	}

	_, err = eng.WriteTuplesBulk(ctx, &BulkWriteRequest{
		Namespace:    "acme",
		ResourceType: "team", ResourceID: "eng", Relation: "member",
		SubjectType: "team",
		SubjectIDs:  []string{"backend"},
	})
	if !errors.Is(err, ErrReservedRelation) {
		t.Fatalf("expected non-user member subjects to be refused in bulk, got %v", err)
	}

	// User membership carries no cycle risk and stays allowed.
	created, err := eng.WriteTuplesBulk(ctx, &BulkWriteRequest{
		Namespace:    "acme",
		ResourceType: "team", ResourceID: "eng", Relation: "member",
		SubjectType: "user",
		SubjectIDs:  []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Fatalf("expected 2 created, got %d", created)
	}
}

func TestDeleteTuple_Absent(t *testing.T) {
	eng := newTestEngine(t)

	existed, err := eng.DeleteTuple(context.Background(), &DeleteTupleRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "ghost",
	})
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("expected no-op delete of an absent tuple")
	}
}

func TestExpirationLifecycle(t *testing.T) {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	eng := newTestEngine(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	key := SetExpirationRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
	}

	// Setting expiration on a missing tuple fails.
	exp := base.Add(time.Hour)
	req := key
	req.ExpiresAt = &exp
	_, err := eng.SetExpiration(ctx, &req)
	if !errors.Is(err, ErrTupleNotFound) {
		t.Fatalf("expected tuple not found, got %v", err)
	}
	if CodeOf(err) != CodeNoDataFound {
		t.Fatalf("expected no data found, got %s", CodeOf(err))
	}

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")

	// Extending a tuple with no expiration fails.
	_, err = eng.ExtendExpiration(ctx, &ExtendExpirationRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
		Interval: time.Hour,
	})
	if !errors.Is(err, ErrNoExpiration) {
		t.Fatalf("expected no-expiration error, got %v", err)
	}

	updated, err := eng.SetExpiration(ctx, &req)
	if err != nil {
		t.Fatal(err)
	}
	if updated.ExpiresAt == nil || !updated.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiration %v, got %v", exp, updated.ExpiresAt)
	}

	extended, err := eng.ExtendExpiration(ctx, &ExtendExpirationRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := exp.Add(time.Hour)
	if extended.ExpiresAt == nil || !extended.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiration %v, got %v", want, extended.ExpiresAt)
	}

	expiring, err := eng.ListExpiring(ctx, "acme", 3*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(expiring) != 1 {
		t.Fatalf("expected 1 expiring tuple, got %d", len(expiring))
	}

	if !checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("tuple is still live")
	}

	// Past the expiration the grant no longer evaluates.
	clock = base.Add(3 * time.Hour)
	if checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("expired tuple must not grant")
	}

	removed, err := eng.CleanupExpired(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired tuple removed, got %d", removed)
	}
}

func TestClearExpiration(t *testing.T) {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	eng := newTestEngine(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	exp := base.Add(time.Minute)
	_, err := eng.WriteTuple(ctx, &WriteTupleRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
		ExpiresAt: &exp,
	})
	if err != nil {
		t.Fatal(err)
	}

	cleared, err := eng.ClearExpiration(ctx, &SetExpirationRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cleared.ExpiresAt != nil {
		t.Fatalf("expected nil expiration, got %v", cleared.ExpiresAt)
	}

	clock = base.Add(time.Hour)
	if !checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("cleared tuple must be permanent")
	}
}

func TestListResources(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	for _, rid := range []string{"r1", "r2", "r3", "r4", "r5"} {
		grant(t, eng, "acme", "repo", rid, "read", "user", "alice")
	}

	page, err := eng.ListResources(ctx, &ListResourcesRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "repo", Permission: "read",
		Limit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.ResourceIDs) != 2 || page.ResourceIDs[0] != "r1" || page.ResourceIDs[1] != "r2" {
		t.Fatalf("unexpected first page: %v", page.ResourceIDs)
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	page, err = eng.ListResources(ctx, &ListResourcesRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "repo", Permission: "read",
		Limit: 2, Cursor: page.NextCursor,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.ResourceIDs) != 2 || page.ResourceIDs[0] != "r3" || page.ResourceIDs[1] != "r4" {
		t.Fatalf("unexpected second page: %v", page.ResourceIDs)
	}

	page, err = eng.ListResources(ctx, &ListResourcesRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "repo", Permission: "read",
		Limit: 2, Cursor: page.NextCursor,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.ResourceIDs) != 1 || page.ResourceIDs[0] != "r5" {
		t.Fatalf("unexpected last page: %v", page.ResourceIDs)
	}
	if page.NextCursor != "" {
		t.Fatalf("expected no cursor on the last page, got %q", page.NextCursor)
	}
}

func TestListResources_Descendants(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "folder", "root", "read", "user", "alice")
	grant(t, eng, "acme", "doc", "d1", "parent", "folder", "root")
	grant(t, eng, "acme", "doc", "d2", "parent", "folder", "root")
	grant(t, eng, "acme", "doc", "elsewhere", "parent", "folder", "other")

	page, err := eng.ListResources(ctx, &ListResourcesRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "doc", Permission: "read",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.ResourceIDs) != 2 || page.ResourceIDs[0] != "d1" || page.ResourceIDs[1] != "d2" {
		t.Fatalf("expected contained docs [d1 d2], got %v", page.ResourceIDs)
	}
}

func TestListUsers(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")
	grant(t, eng, "acme", "repo", "api", "read", "team", "core")
	grant(t, eng, "acme", "team", "core", "member", "user", "bob")
	grant(t, eng, "acme", "repo", "api", "write", "user", "eve")

	page, err := eng.ListUsers(ctx, &ListUsersRequest{
		Namespace:    "acme",
		ResourceType: "repo", ResourceID: "api", Permission: "read",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.UserIDs) != 2 || page.UserIDs[0] != "alice" || page.UserIDs[1] != "bob" {
		t.Fatalf("expected [alice bob], got %v", page.UserIDs)
	}
}

func TestFilterAuthorized(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "repo", "a", "read", "user", "alice")
	grant(t, eng, "acme", "repo", "c", "read", "user", "alice")

	got, err := eng.FilterAuthorized(ctx, &FilterAuthorizedRequest{
		Namespace: "acme", UserID: "alice",
		ResourceType: "repo", Permission: "read",
		ResourceIDs: []string{"c", "b", "a", "c"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Fatalf("expected input order [c a], got %v", got)
	}
}

func TestExplain(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.SetHierarchy(ctx, "acme", "repo", "admin", "read"); err != nil {
		t.Fatal(err)
	}
	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")
	grant(t, eng, "acme", "repo", "api", "read", "team", "core")
	grant(t, eng, "acme", "team", "core", "member", "user", "alice")
	grant(t, eng, "acme", "repo", "api", "admin", "user", "alice")

	res, err := eng.Explain(ctx, &ExplainRequest{
		Namespace: "acme", UserID: "alice", Permission: "read",
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatal("expected allowed")
	}

	kinds := make(map[PathKind]bool, len(res.Paths))
	for _, p := range res.Paths {
		kinds[p.Kind] = true
	}
	for _, k := range []PathKind{PathDirect, PathGroup, PathHierarchy} {
		if !kinds[k] {
			t.Fatalf("expected a %s path, got %v", k, res.Paths)
		}
	}

	lines, err := eng.ExplainText(ctx, &ExplainRequest{
		Namespace: "acme", UserID: "alice", Permission: "read",
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	var direct, group, hier bool
	for _, l := range lines {
		direct = direct || strings.HasPrefix(l, "DIRECT:")
		group = group || strings.HasPrefix(l, "GROUP:")
		hier = hier || strings.HasPrefix(l, "HIERARCHY:")
	}
	if !direct || !group || !hier {
		t.Fatalf("expected DIRECT, GROUP, and HIERARCHY lines, got %v", lines)
	}
}

func TestExplain_Containment(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "folder", "root", "read", "user", "alice")
	grant(t, eng, "acme", "doc", "d1", "parent", "folder", "root")

	res, err := eng.Explain(ctx, &ExplainRequest{
		Namespace: "acme", UserID: "alice", Permission: "read",
		ResourceType: "doc", ResourceID: "d1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || len(res.Paths) != 1 {
		t.Fatalf("expected exactly one path, got %v", res.Paths)
	}
	if res.Paths[0].Kind != PathResource {
		t.Fatalf("expected resource path, got %s", res.Paths[0].Kind)
	}
}

func TestExplain_NegativeDepth(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Explain(context.Background(), &ExplainRequest{
		Namespace: "acme", UserID: "alice", Permission: "read",
		ResourceType: "repo", ResourceID: "api",
		MaxDepth: -1,
	})
	if err == nil {
		t.Fatal("expected error for negative depth")
	}
	if CodeOf(err) != CodeInvalidParameter {
		t.Fatalf("expected invalid parameter, got %s", CodeOf(err))
	}
}

func TestExplain_NotAllowed(t *testing.T) {
	eng := newTestEngine(t)

	res, err := eng.Explain(context.Background(), &ExplainRequest{
		Namespace: "acme", UserID: "nobody", Permission: "read",
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || len(res.Paths) != 0 {
		t.Fatalf("expected denial with no paths, got %v", res)
	}
}

func TestNamespaceResolution(t *testing.T) {
	eng := newTestEngine(t)

	// No namespace anywhere falls back to the configured default.
	grant(t, eng, "", "repo", "api", "read", "user", "alice")
	if !checkAllowed(t, eng, "default", "alice", "read", "repo", "api") {
		t.Fatal("expected grant to land in the default namespace")
	}

	// A bound tenant wins over the default and over a disagreeing argument.
	ctx := WithNamespace(context.Background(), "acme")
	if _, err := eng.Grant(ctx, "", "repo", "api", "read", "user", "bob"); err != nil {
		t.Fatal(err)
	}
	if !checkAllowed(t, eng, "acme", "bob", "read", "repo", "api") {
		t.Fatal("expected grant to land in the bound namespace")
	}
	allowed, err := eng.Check(ctx, &CheckRequest{
		Namespace: "other", UserID: "bob", Permission: "read",
		ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Fatal("bound tenant must override the namespace argument")
	}
}

func TestNamespaceResolution_NoDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultNamespace = ""
	eng := newTestEngine(t, WithConfig(cfg))

	_, err := eng.Check(context.Background(), &CheckRequest{
		UserID: "alice", Permission: "read",
		ResourceType: "repo", ResourceID: "api",
	})
	if !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected tenant required, got %v", err)
	}
	if CodeOf(err) != CodeNullValue {
		t.Fatalf("expected null value, got %s", CodeOf(err))
	}
}

func TestAuditTrail(t *testing.T) {
	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	ctx := WithActor(context.Background(), Actor{ID: "admin-1", Reason: "onboarding"})

	if _, err := eng.Grant(ctx, "acme", "repo", "api", "read", "user", "alice"); err != nil {
		t.Fatal(err)
	}
	existed, err := eng.Revoke(ctx, "acme", "repo", "api", "read", "user", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected revoke to find the tuple")
	}

	events, err := eng.QueryAuditEvents(ctx, &AuditQueryRequest{Namespace: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != audit.EventTupleDeleted {
		t.Fatalf("expected newest-first with %s on top, got %s", audit.EventTupleDeleted, events[0].EventType)
	}
	if events[1].EventType != audit.EventTupleCreated {
		t.Fatalf("expected %s second, got %s", audit.EventTupleCreated, events[1].EventType)
	}
	for _, ev := range events {
		if ev.ActorID != "admin-1" {
			t.Fatalf("expected actor stamp, got %q", ev.ActorID)
		}
	}

	// Type filter.
	events, err = eng.QueryAuditEvents(ctx, &AuditQueryRequest{
		Namespace: "acme", EventType: audit.EventTupleCreated,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 created event, got %d", len(events))
	}

	// Unknown types are rejected rather than silently matching nothing.
	_, err = eng.QueryAuditEvents(ctx, &AuditQueryRequest{
		Namespace: "acme", EventType: audit.EventType("bogus"),
	})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestAuditTrail_HierarchyEvents(t *testing.T) {
	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	ctx := context.Background()

	if _, err := eng.AddHierarchy(ctx, &AddHierarchyRequest{
		Namespace: "acme", ResourceType: "repo",
		Permission: "admin", Implies: "read",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.RemoveHierarchy(ctx, &RemoveHierarchyRequest{
		Namespace: "acme", ResourceType: "repo",
		Permission: "admin", Implies: "read",
	}); err != nil {
		t.Fatal(err)
	}

	events, err := eng.QueryAuditEvents(ctx, &AuditQueryRequest{Namespace: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != audit.EventHierarchyDeleted || events[1].EventType != audit.EventHierarchyCreated {
		t.Fatalf("unexpected event types: %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestAuditPartitionOps(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	name, err := eng.CreateAuditPartition(ctx, 2026, time.March)
	if err != nil {
		t.Fatal(err)
	}
	if name != "audit_events_y2026m03" {
		t.Fatalf("unexpected partition name %q", name)
	}

	// Second create is a no-op.
	name, err = eng.CreateAuditPartition(ctx, 2026, time.March)
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Fatalf("expected empty name for existing partition, got %q", name)
	}

	_, err = eng.CreateAuditPartition(ctx, 2026, time.Month(13))
	if err == nil {
		t.Fatal("expected error for month 13")
	}

	created, err := eng.EnsureAuditPartitions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 3 {
		t.Fatalf("expected current plus 2 ahead, got %v", created)
	}

	_, err = eng.DropAuditPartitions(ctx, -1)
	if err == nil {
		t.Fatal("expected error for negative retention")
	}
}

func TestGetTupleAndList(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")
	grant(t, eng, "acme", "repo", "api", "write", "user", "alice")
	grant(t, eng, "acme", "repo", "web", "read", "user", "bob")

	got, err := eng.GetTuple(ctx, "acme", tuple.Key{
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.SubjectID != "alice" || got.Relation != "read" {
		t.Fatalf("unexpected tuple %+v", got)
	}

	_, err = eng.GetTuple(ctx, "acme", tuple.Key{
		ResourceType: "repo", ResourceID: "api", Relation: "read",
		SubjectType: "user", SubjectID: "ghost",
	})
	if !errors.Is(err, ErrTupleNotFound) {
		t.Fatalf("expected tuple not found, got %v", err)
	}

	tuples, err := eng.ListTuples(ctx, &ListTuplesRequest{
		Namespace: "acme", ResourceType: "repo", ResourceID: "api",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tuples) != 2 {
		t.Fatalf("expected 2 tuples on repo:api, got %d", len(tuples))
	}

	n, err := eng.CountTuples(ctx, &ListTuplesRequest{Namespace: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 tuples, got %d", n)
	}

	_, err = eng.ListTuples(ctx, &ListTuplesRequest{Namespace: "acme", Offset: -1})
	if err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestGetStats(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")
	grant(t, eng, "acme", "repo", "web", "read", "user", "bob")
	grant(t, eng, "acme", "repo", "api", "write", "user", "alice")
	if _, err := eng.SetHierarchy(ctx, "acme", "repo", "admin", "read"); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.GetStats(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Namespace != "acme" {
		t.Fatalf("unexpected namespace %q", stats.Namespace)
	}
	if stats.Tuples != 3 {
		t.Fatalf("expected 3 tuples, got %d", stats.Tuples)
	}
	if stats.HierarchyRules != 1 {
		t.Fatalf("expected 1 rule, got %d", stats.HierarchyRules)
	}
	if stats.DistinctUsers != 2 {
		t.Fatalf("expected 2 users, got %d", stats.DistinctUsers)
	}
	if stats.DistinctResources != 2 {
		t.Fatalf("expected 2 resources, got %d", stats.DistinctResources)
	}
}

func TestVerifyIntegrity_Clean(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	grant(t, eng, "acme", "team", "eng", "member", "team", "backend")
	grant(t, eng, "acme", "team", "backend", "member", "user", "alice")
	grant(t, eng, "acme", "doc", "d1", "parent", "folder", "root")

	issues, err := eng.VerifyIntegrity(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestCheckCaching(t *testing.T) {
	c := &countingCache{entries: map[string]bool{}}
	eng := newTestEngine(t, WithCache(c))

	grant(t, eng, "acme", "repo", "api", "read", "user", "alice")

	if !checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("expected allowed")
	}
	if c.sets != 1 {
		t.Fatalf("expected 1 cache store, got %d", c.sets)
	}
	if !checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("expected allowed from cache")
	}
	if c.hits != 1 {
		t.Fatalf("expected 1 cache hit, got %d", c.hits)
	}

	// Mutations invalidate the namespace, so the next check recomputes.
	grant(t, eng, "acme", "repo", "api", "write", "user", "alice")
	if !checkAllowed(t, eng, "acme", "alice", "read", "repo", "api") {
		t.Fatal("expected allowed after recompute")
	}
	if c.sets != 2 {
		t.Fatalf("expected recompute after invalidation, got %d cache stores", c.sets)
	}
}

type countingCache struct {
	entries       map[string]bool
	hits          int
	sets          int
	invalidations int
}

func (c *countingCache) key(ns string, req *CheckRequest) string {
	return ns + "|" + req.UserID + "|" + req.Permission + "|" + req.ResourceType + "|" + req.ResourceID
}

func (c *countingCache) Get(_ context.Context, ns string, req *CheckRequest) (bool, bool) {
	allowed, ok := c.entries[c.key(ns, req)]
	if ok {
		c.hits++
	}
	return allowed, ok
}

func (c *countingCache) Set(_ context.Context, ns string, req *CheckRequest, allowed bool) {
	c.entries[c.key(ns, req)] = allowed
	c.sets++
}

func (c *countingCache) InvalidateNamespace(_ context.Context, ns string) {
	prefix := ns + "|"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.invalidations++
}
