// Package sqlite provides a SQLite implementation of the Tether composite
// store using grove ORM with Go-based migrations. SQLite is embedded and
// single-process, so namespace and endpoint locks are in-process mutexes and
// audit partitions are rows in a registry table rather than physical tables.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/tuple"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of the composite Tether store.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a new SQLite store.
func New(db *grove.DB) *Store {
	return &Store{
		db:    db,
		sdb:   sqlitedriver.Unwrap(db),
		locks: make(map[string]*sync.Mutex),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tether/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tether/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ──────────────────────────────────────────────────
// Tuple operations
// ──────────────────────────────────────────────────

func (s *Store) UpsertTuple(ctx context.Context, t *tuple.Tuple) (*tuple.Tuple, bool, error) {
	key := t.Key()
	existing := new(tupleModel)
	err := s.sdb.NewSelect(existing).
		Where("namespace = ?", t.Namespace).
		Where("resource_type = ?", key.ResourceType).
		Where("resource_id = ?", key.ResourceID).
		Where("relation = ?", key.Relation).
		Where("subject_type = ?", key.SubjectType).
		Where("subject_id = ?", key.SubjectID).
		Where("subject_relation = ?", key.SubjectRelation).
		Scan(ctx)
	switch {
	case err == nil:
		existing.ExpiresAt = t.ExpiresAt
		existing.UpdatedAt = time.Now().UTC()
		if _, err := s.sdb.NewUpdate(existing).WherePK().Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: update tuple: %w", err)
		}
		return tupleFromModel(existing), false, nil
	case isNoRows(err):
		m := tupleToModel(t)
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: insert tuple: %w", err)
		}
		return tupleFromModel(m), true, nil
	default:
		return nil, false, fmt.Errorf("tether: upsert tuple: %w", err)
	}
}

func (s *Store) GetTuple(ctx context.Context, namespace string, key tuple.Key) (*tuple.Tuple, error) {
	m := new(tupleModel)
	err := s.sdb.NewSelect(m).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", key.ResourceType).
		Where("resource_id = ?", key.ResourceID).
		Where("relation = ?", key.Relation).
		Where("subject_type = ?", key.SubjectType).
		Where("subject_id = ?", key.SubjectID).
		Where("subject_relation = ?", key.SubjectRelation).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("tether: get tuple: %w", err)
	}
	return tupleFromModel(m), nil
}

func (s *Store) DeleteTuple(ctx context.Context, namespace string, key tuple.Key) (bool, error) {
	res, err := s.sdb.NewDelete((*tupleModel)(nil)).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", key.ResourceType).
		Where("resource_id = ?", key.ResourceID).
		Where("relation = ?", key.Relation).
		Where("subject_type = ?", key.SubjectType).
		Where("subject_id = ?", key.SubjectID).
		Where("subject_relation = ?", key.SubjectRelation).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tether: delete tuple: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tether: delete tuple rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) UpdateExpiration(ctx context.Context, namespace string, key tuple.Key, expiresAt *time.Time) (*tuple.Tuple, error) {
	m := new(tupleModel)
	err := s.sdb.NewSelect(m).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", key.ResourceType).
		Where("resource_id = ?", key.ResourceID).
		Where("relation = ?", key.Relation).
		Where("subject_type = ?", key.SubjectType).
		Where("subject_id = ?", key.SubjectID).
		Where("subject_relation = ?", key.SubjectRelation).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("tether: update expiration: %w", err)
	}
	m.ExpiresAt = expiresAt
	m.UpdatedAt = time.Now().UTC()
	if _, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("tether: update expiration: %w", err)
	}
	return tupleFromModel(m), nil
}

func (s *Store) ListTuples(ctx context.Context, filter *tuple.ListFilter) ([]*tuple.Tuple, error) {
	var models []tupleModel
	q := s.sdb.NewSelect(&models).OrderExpr("created_at ASC, id ASC")
	if filter != nil {
		if filter.Namespace != "" {
			q = q.Where("namespace = ?", filter.Namespace)
		}
		if filter.ResourceType != "" {
			q = q.Where("resource_type = ?", filter.ResourceType)
		}
		if filter.ResourceID != "" {
			q = q.Where("resource_id = ?", filter.ResourceID)
		}
		if filter.Relation != "" {
			q = q.Where("relation = ?", filter.Relation)
		}
		if filter.SubjectType != "" {
			q = q.Where("subject_type = ?", filter.SubjectType)
		}
		if filter.SubjectID != "" {
			q = q.Where("subject_id = ?", filter.SubjectID)
		}
		if filter.SubjectRelation != nil {
			q = q.Where("subject_relation = ?", *filter.SubjectRelation)
		}
		if !filter.IncludeExpired {
			q = q.Where("(expires_at IS NULL OR expires_at > ?)", time.Now().UTC())
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: list tuples: %w", err)
	}
	result := make([]*tuple.Tuple, len(models))
	for i := range models {
		result[i] = tupleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountTuples(ctx context.Context, filter *tuple.ListFilter) (int64, error) {
	q := s.sdb.NewSelect((*tupleModel)(nil))
	if filter != nil {
		if filter.Namespace != "" {
			q = q.Where("namespace = ?", filter.Namespace)
		}
		if filter.ResourceType != "" {
			q = q.Where("resource_type = ?", filter.ResourceType)
		}
		if filter.ResourceID != "" {
			q = q.Where("resource_id = ?", filter.ResourceID)
		}
		if filter.Relation != "" {
			q = q.Where("relation = ?", filter.Relation)
		}
		if filter.SubjectType != "" {
			q = q.Where("subject_type = ?", filter.SubjectType)
		}
		if filter.SubjectID != "" {
			q = q.Where("subject_id = ?", filter.SubjectID)
		}
		if filter.SubjectRelation != nil {
			q = q.Where("subject_relation = ?", *filter.SubjectRelation)
		}
		if !filter.IncludeExpired {
			q = q.Where("(expires_at IS NULL OR expires_at > ?)", time.Now().UTC())
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: count tuples: %w", err)
	}
	return count, nil
}

func (s *Store) ListByResource(ctx context.Context, namespace, resourceType, resourceID, relation string, now time.Time) ([]*tuple.Tuple, error) {
	var models []tupleModel
	q := s.sdb.NewSelect(&models).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", resourceType).
		Where("resource_id = ?", resourceID).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		OrderExpr("created_at ASC, id ASC")
	if relation != "" {
		q = q.Where("relation = ?", relation)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: list tuples by resource: %w", err)
	}
	result := make([]*tuple.Tuple, len(models))
	for i := range models {
		result[i] = tupleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) ListBySubject(ctx context.Context, namespace, subjectType, subjectID, relation string, now time.Time) ([]*tuple.Tuple, error) {
	var models []tupleModel
	q := s.sdb.NewSelect(&models).
		Where("namespace = ?", namespace).
		Where("subject_type = ?", subjectType).
		Where("subject_id = ?", subjectID).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		OrderExpr("created_at ASC, id ASC")
	if relation != "" {
		q = q.Where("relation = ?", relation)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: list tuples by subject: %w", err)
	}
	result := make([]*tuple.Tuple, len(models))
	for i := range models {
		result[i] = tupleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) ListExpiring(ctx context.Context, namespace string, now, until time.Time) ([]*tuple.Tuple, error) {
	var models []tupleModel
	err := s.sdb.NewSelect(&models).
		Where("namespace = ?", namespace).
		Where("expires_at IS NOT NULL").
		Where("expires_at > ?", now).
		Where("expires_at <= ?", until).
		OrderExpr("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tether: list expiring tuples: %w", err)
	}
	result := make([]*tuple.Tuple, len(models))
	for i := range models {
		result[i] = tupleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) DeleteExpired(ctx context.Context, namespace string, now time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*tupleModel)(nil)).
		Where("namespace = ?", namespace).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: delete expired tuples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tether: delete expired tuples rows: %w", err)
	}
	return n, nil
}

func (s *Store) CountDistinctUsers(ctx context.Context, namespace string) (int64, error) {
	var models []tupleModel
	err := s.sdb.NewSelect(&models).
		Where("namespace = ?", namespace).
		Where("subject_type = ?", tuple.SubjectUser).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: count distinct users: %w", err)
	}
	seen := make(map[string]struct{}, len(models))
	for i := range models {
		seen[models[i].SubjectID] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (s *Store) CountDistinctResources(ctx context.Context, namespace string) (int64, error) {
	var models []tupleModel
	err := s.sdb.NewSelect(&models).
		Where("namespace = ?", namespace).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: count distinct resources: %w", err)
	}
	seen := make(map[string]struct{}, len(models))
	for i := range models {
		seen[models[i].ResourceType+":"+models[i].ResourceID] = struct{}{}
	}
	return int64(len(seen)), nil
}

// ──────────────────────────────────────────────────
// Hierarchy operations
// ──────────────────────────────────────────────────

func (s *Store) UpsertRule(ctx context.Context, r *hierarchy.Rule) (*hierarchy.Rule, bool, error) {
	existing := new(ruleModel)
	err := s.sdb.NewSelect(existing).
		Where("namespace = ?", r.Namespace).
		Where("resource_type = ?", r.ResourceType).
		Where("permission = ?", r.Permission).
		Where("implies = ?", r.Implies).
		Scan(ctx)
	switch {
	case err == nil:
		return ruleFromModel(existing), false, nil
	case isNoRows(err):
		m := ruleToModel(r)
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: insert hierarchy rule: %w", err)
		}
		return ruleFromModel(m), true, nil
	default:
		return nil, false, fmt.Errorf("tether: upsert hierarchy rule: %w", err)
	}
}

func (s *Store) DeleteRule(ctx context.Context, namespace, resourceType, permission, implies string) (bool, error) {
	res, err := s.sdb.NewDelete((*ruleModel)(nil)).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", resourceType).
		Where("permission = ?", permission).
		Where("implies = ?", implies).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tether: delete hierarchy rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tether: delete hierarchy rule rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteRulesByResourceType(ctx context.Context, namespace, resourceType string) (int64, error) {
	res, err := s.sdb.NewDelete((*ruleModel)(nil)).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", resourceType).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: delete hierarchy rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("tether: delete hierarchy rules rows: %w", err)
	}
	return n, nil
}

func (s *Store) ListRules(ctx context.Context, namespace, resourceType string) ([]*hierarchy.Rule, error) {
	var models []ruleModel
	q := s.sdb.NewSelect(&models).
		Where("namespace = ?", namespace).
		OrderExpr("created_at ASC, id ASC")
	if resourceType != "" {
		q = q.Where("resource_type = ?", resourceType)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: list hierarchy rules: %w", err)
	}
	result := make([]*hierarchy.Rule, len(models))
	for i := range models {
		result[i] = ruleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountRules(ctx context.Context, namespace string) (int64, error) {
	count, err := s.sdb.NewSelect((*ruleModel)(nil)).
		Where("namespace = ?", namespace).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: count hierarchy rules: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Audit operations
// ──────────────────────────────────────────────────

func (s *Store) AppendEvent(ctx context.Context, e *audit.Event) error {
	if !e.EventType.Valid() {
		return fmt.Errorf("tether: event type %q: unknown value", e.EventType)
	}
	m := eventToModel(e)
	if m.EventTime.IsZero() {
		m.EventTime = time.Now().UTC()
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("tether: append audit event: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, filter *audit.QueryFilter) ([]*audit.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models).OrderExpr("event_time DESC, id DESC")
	if filter != nil {
		if filter.Namespace != "" {
			q = q.Where("namespace = ?", filter.Namespace)
		}
		if filter.EventType != "" {
			q = q.Where("event_type = ?", string(filter.EventType))
		}
		if filter.ActorID != "" {
			q = q.Where("actor_id = ?", filter.ActorID)
		}
		if filter.ResourceType != "" {
			q = q.Where("resource_type = ?", filter.ResourceType)
		}
		if filter.ResourceID != "" {
			q = q.Where("resource_id = ?", filter.ResourceID)
		}
		if filter.SubjectType != "" {
			q = q.Where("subject_type = ?", filter.SubjectType)
		}
		if filter.SubjectID != "" {
			q = q.Where("subject_id = ?", filter.SubjectID)
		}
		if filter.After != nil {
			q = q.Where("event_time > ?", *filter.After)
		}
		if filter.Before != nil {
			q = q.Where("event_time < ?", *filter.Before)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: query audit events: %w", err)
	}
	result := make([]*audit.Event, len(models))
	for i := range models {
		result[i] = eventFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountEvents(ctx context.Context, filter *audit.QueryFilter) (int64, error) {
	q := s.sdb.NewSelect((*eventModel)(nil))
	if filter != nil {
		if filter.Namespace != "" {
			q = q.Where("namespace = ?", filter.Namespace)
		}
		if filter.EventType != "" {
			q = q.Where("event_type = ?", string(filter.EventType))
		}
		if filter.ActorID != "" {
			q = q.Where("actor_id = ?", filter.ActorID)
		}
		if filter.ResourceType != "" {
			q = q.Where("resource_type = ?", filter.ResourceType)
		}
		if filter.ResourceID != "" {
			q = q.Where("resource_id = ?", filter.ResourceID)
		}
		if filter.SubjectType != "" {
			q = q.Where("subject_type = ?", filter.SubjectType)
		}
		if filter.SubjectID != "" {
			q = q.Where("subject_id = ?", filter.SubjectID)
		}
		if filter.After != nil {
			q = q.Where("event_time > ?", *filter.After)
		}
		if filter.Before != nil {
			q = q.Where("event_time < ?", *filter.Before)
		}
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: count audit events: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Audit partitions
// ──────────────────────────────────────────────────

func (s *Store) CreatePartition(ctx context.Context, year int, month time.Month) (string, error) {
	name := audit.PartitionName(year, month)
	count, err := s.sdb.NewSelect((*partitionModel)(nil)).
		Where("name = ?", name).
		Count(ctx)
	if err != nil {
		return "", fmt.Errorf("tether: check partition %s: %w", name, err)
	}
	if count > 0 {
		return "", nil
	}

	m := &partitionModel{
		Name:       name,
		MonthStart: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return "", fmt.Errorf("tether: create partition %s: %w", name, err)
	}
	return name, nil
}

func (s *Store) EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	now := time.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var created []string
	for i := 0; i <= monthsAhead; i++ {
		month := first.AddDate(0, i, 0)
		name, err := s.CreatePartition(ctx, month.Year(), month.Month())
		if err != nil {
			return created, err
		}
		if name != "" {
			created = append(created, name)
		}
	}
	return created, nil
}

func (s *Store) DropPartitions(ctx context.Context, olderThanMonths int) ([]string, error) {
	var models []partitionModel
	err := s.sdb.NewSelect(&models).OrderExpr("name ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tether: list partitions: %w", err)
	}

	now := time.Now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, -olderThanMonths, 0)

	var dropped []string
	for i := range models {
		start := models[i].MonthStart
		end := start.AddDate(0, 1, 0)
		if end.After(cutoff) {
			continue
		}
		_, err := s.sdb.NewDelete((*eventModel)(nil)).
			Where("event_time >= ?", start).
			Where("event_time < ?", end).
			Exec(ctx)
		if err != nil {
			return dropped, fmt.Errorf("tether: drop partition %s events: %w", models[i].Name, err)
		}
		_, err = s.sdb.NewDelete((*partitionModel)(nil)).
			Where("name = ?", models[i].Name).
			Exec(ctx)
		if err != nil {
			return dropped, fmt.Errorf("tether: drop partition %s: %w", models[i].Name, err)
		}
		dropped = append(dropped, models[i].Name)
	}
	return dropped, nil
}

func (s *Store) ListPartitions(ctx context.Context) ([]string, error) {
	var models []partitionModel
	err := s.sdb.NewSelect(&models).OrderExpr("name ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tether: list partitions: %w", err)
	}
	names := make([]string, len(models))
	for i := range models {
		names[i] = models[i].Name
	}
	return names, nil
}

// ──────────────────────────────────────────────────
// Locks
// ──────────────────────────────────────────────────

func (s *Store) WithNamespaceLock(ctx context.Context, namespace string, fn func(ctx context.Context) error) error {
	mu := s.namedLock("ns:" + namespace)
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

func (s *Store) WithPairLock(ctx context.Context, namespace, a, b string, fn func(ctx context.Context) error) error {
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

func (s *Store) namedLock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	return mu
}
