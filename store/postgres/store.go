// Package postgres provides a PostgreSQL implementation of the Tether
// composite store using grove ORM with Go-based migrations. Namespace and
// endpoint locks are session-level advisory locks held on a pinned pool
// connection; the audit log is a native range-partitioned table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/tuple"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of the composite Tether store.
type Store struct {
	db   *grove.DB
	pgdb *pgdriver.PgDB
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store. The pgx pool carries advisory locks
// and partition DDL; grove carries row operations.
func New(db *grove.DB, pool *pgxpool.Pool) *Store {
	return &Store{
		db:   db,
		pgdb: pgdriver.Unwrap(db),
		pool: pool,
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pgdb)
	if err != nil {
		return fmt.Errorf("tether: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tether: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connections.
func (s *Store) Close() error {
	s.pool.Close()
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Tuple operations
// ──────────────────────────────────────────────────

func (s *Store) UpsertTuple(ctx context.Context, t *tuple.Tuple) (*tuple.Tuple, bool, error) {
	key := t.Key()
	existing := new(tupleModel)
	err := s.pgdb.NewSelect(existing).
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
		if _, err := s.pgdb.NewUpdate(existing).WherePK().Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: update tuple: %w", err)
		}
		return tupleFromModel(existing), false, nil
	case errors.Is(err, sql.ErrNoRows):
		m := tupleToModel(t)
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		if _, err := s.pgdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: insert tuple: %w", err)
		}
		return tupleFromModel(m), true, nil
	default:
		return nil, false, fmt.Errorf("tether: upsert tuple: %w", err)
	}
}

func (s *Store) GetTuple(ctx context.Context, namespace string, key tuple.Key) (*tuple.Tuple, error) {
	m := new(tupleModel)
	err := s.pgdb.NewSelect(m).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", key.ResourceType).
		Where("resource_id = ?", key.ResourceID).
		Where("relation = ?", key.Relation).
		Where("subject_type = ?", key.SubjectType).
		Where("subject_id = ?", key.SubjectID).
		Where("subject_relation = ?", key.SubjectRelation).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("tether: get tuple: %w", err)
	}
	return tupleFromModel(m), nil
}

func (s *Store) DeleteTuple(ctx context.Context, namespace string, key tuple.Key) (bool, error) {
	res, err := s.pgdb.NewDelete((*tupleModel)(nil)).
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
	err := s.pgdb.NewSelect(m).
		Where("namespace = ?", namespace).
		Where("resource_type = ?", key.ResourceType).
		Where("resource_id = ?", key.ResourceID).
		Where("relation = ?", key.Relation).
		Where("subject_type = ?", key.SubjectType).
		Where("subject_id = ?", key.SubjectID).
		Where("subject_relation = ?", key.SubjectRelation).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("tether: update expiration: %w", err)
	}
	m.ExpiresAt = expiresAt
	m.UpdatedAt = time.Now().UTC()
	if _, err := s.pgdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("tether: update expiration: %w", err)
	}
	return tupleFromModel(m), nil
}

func (s *Store) ListTuples(ctx context.Context, filter *tuple.ListFilter) ([]*tuple.Tuple, error) {
	var models []tupleModel
	q := s.pgdb.NewSelect(&models).OrderExpr("created_at ASC, id ASC")
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
	q := s.pgdb.NewSelect((*tupleModel)(nil))
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
	q := s.pgdb.NewSelect(&models).
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
	q := s.pgdb.NewSelect(&models).
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
	err := s.pgdb.NewSelect(&models).
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
	res, err := s.pgdb.NewDelete((*tupleModel)(nil)).
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
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT subject_id) FROM tether_tuples WHERE namespace = $1 AND subject_type = $2`,
		namespace, tuple.SubjectUser).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tether: count distinct users: %w", err)
	}
	return count, nil
}

func (s *Store) CountDistinctResources(ctx context.Context, namespace string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT (resource_type, resource_id)) FROM tether_tuples WHERE namespace = $1`,
		namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tether: count distinct resources: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Hierarchy operations
// ──────────────────────────────────────────────────

func (s *Store) UpsertRule(ctx context.Context, r *hierarchy.Rule) (*hierarchy.Rule, bool, error) {
	existing := new(ruleModel)
	err := s.pgdb.NewSelect(existing).
		Where("namespace = ?", r.Namespace).
		Where("resource_type = ?", r.ResourceType).
		Where("permission = ?", r.Permission).
		Where("implies = ?", r.Implies).
		Scan(ctx)
	switch {
	case err == nil:
		return ruleFromModel(existing), false, nil
	case errors.Is(err, sql.ErrNoRows):
		m := ruleToModel(r)
		if _, err := s.pgdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: insert hierarchy rule: %w", err)
		}
		return ruleFromModel(m), true, nil
	default:
		return nil, false, fmt.Errorf("tether: upsert hierarchy rule: %w", err)
	}
}

func (s *Store) DeleteRule(ctx context.Context, namespace, resourceType, permission, implies string) (bool, error) {
	res, err := s.pgdb.NewDelete((*ruleModel)(nil)).
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
	res, err := s.pgdb.NewDelete((*ruleModel)(nil)).
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
	q := s.pgdb.NewSelect(&models).
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
	count, err := s.pgdb.NewSelect((*ruleModel)(nil)).
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
	if _, err := s.pgdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("tether: append audit event: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, filter *audit.QueryFilter) ([]*audit.Event, error) {
	var models []eventModel
	q := s.pgdb.NewSelect(&models).OrderExpr("event_time DESC, id DESC")
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
	q := s.pgdb.NewSelect((*eventModel)(nil))
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
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_class WHERE relname = $1 AND relkind = 'r')`,
		name).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("tether: check partition %s: %w", name, err)
	}
	if exists {
		return "", nil
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF tether_audit_events FOR VALUES FROM ('%s') TO ('%s')`,
		name, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
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
	names, err := s.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, -olderThanMonths, 0)

	var dropped []string
	for _, name := range names {
		var year, month int
		if _, err := fmt.Sscanf(name, "audit_events_y%dm%d", &year, &month); err != nil {
			continue
		}
		end := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		if end.After(cutoff) {
			continue
		}
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
			return dropped, fmt.Errorf("tether: drop partition %s: %w", name, err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}

func (s *Store) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.relname
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
JOIN pg_class p ON p.oid = i.inhparent
WHERE p.relname = 'tether_audit_events'
ORDER BY c.relname ASC`)
	if err != nil {
		return nil, fmt.Errorf("tether: list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("tether: scan partition name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tether: list partitions: %w", err)
	}
	return names, nil
}

// ──────────────────────────────────────────────────
// Locks
// ──────────────────────────────────────────────────

func (s *Store) WithNamespaceLock(ctx context.Context, namespace string, fn func(ctx context.Context) error) error {
	return s.withAdvisoryLocks(ctx, []int64{lockKey("ns", namespace)}, fn)
}

func (s *Store) WithPairLock(ctx context.Context, namespace, a, b string, fn func(ctx context.Context) error) error {
	if b < a {
		a, b = b, a
	}
	keys := []int64{lockKey("ep", namespace, a)}
	if a != b {
		keys = append(keys, lockKey("ep", namespace, b))
	}
	return s.withAdvisoryLocks(ctx, keys, fn)
}

// withAdvisoryLocks pins one pool connection, takes session-level advisory
// locks in key order, runs fn, and unlocks in reverse order. Unlocks run on
// a detached context so cancellation inside fn cannot leak a held lock.
func (s *Store) withAdvisoryLocks(ctx context.Context, keys []int64, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("tether: acquire lock connection: %w", err)
	}
	defer conn.Release()

	locked := 0
	defer func() {
		unlockCtx := context.WithoutCancel(ctx)
		for i := locked - 1; i >= 0; i-- {
			_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, keys[i]) //nolint:errcheck // release drops the session on failure
		}
	}()
	for _, k := range keys {
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, k); err != nil {
			return fmt.Errorf("tether: advisory lock: %w", err)
		}
		locked++
	}

	return fn(ctx)
}

func lockKey(parts ...string) int64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0}) //nolint:errcheck // fnv never fails
		}
		_, _ = h.Write([]byte(p)) //nolint:errcheck // fnv never fails
	}
	return int64(h.Sum64())
}
