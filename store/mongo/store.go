// Package mongo provides a MongoDB implementation of the Tether composite
// store using grove ORM. Uniqueness is enforced with compound indexes, and
// audit partitions are registry documents covering one month of events each.
// Namespace and endpoint locks are in-process mutexes.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/tuple"
)

// Collection name constants.
const (
	colTuples     = "tether_tuples"
	colRules      = "tether_hierarchy_rules"
	colEvents     = "tether_audit_events"
	colPartitions = "tether_audit_partitions"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of the composite Tether store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:    db,
		mdb:   mongodriver.Unwrap(db),
		locks: make(map[string]*sync.Mutex),
	}
}

// Migrate creates indexes for all tether collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()
	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("tether/mongo: migrate %s indexes: %w", col, err)
		}
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// unexpiredFilter matches documents whose expiration is unset or after t.
func unexpiredFilter(t time.Time) bson.M {
	return bson.M{"$or": []bson.M{
		{"expires_at": nil},
		{"expires_at": bson.M{"$gt": t}},
	}}
}

// keyFilter builds the exact-key filter for a tuple within a namespace.
func keyFilter(namespace string, key tuple.Key) bson.M {
	return bson.M{
		"namespace":        namespace,
		"resource_type":    key.ResourceType,
		"resource_id":      key.ResourceID,
		"relation":         key.Relation,
		"subject_type":     key.SubjectType,
		"subject_id":       key.SubjectID,
		"subject_relation": key.SubjectRelation,
	}
}

// migrationIndexes returns the index definitions for all tether collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colTuples: {
			{
				Keys: bson.D{
					{Key: "namespace", Value: 1},
					{Key: "resource_type", Value: 1},
					{Key: "resource_id", Value: 1},
					{Key: "relation", Value: 1},
					{Key: "subject_type", Value: 1},
					{Key: "subject_id", Value: 1},
					{Key: "subject_relation", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "resource_type", Value: 1}, {Key: "resource_id", Value: 1}, {Key: "relation", Value: 1}}},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "relation", Value: 1}}},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colRules: {
			{
				Keys: bson.D{
					{Key: "namespace", Value: 1},
					{Key: "resource_type", Value: 1},
					{Key: "permission", Value: 1},
					{Key: "implies", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "resource_type", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "event_time", Value: -1}}},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "event_type", Value: 1}}},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "actor_id", Value: 1}}},
			{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "resource_type", Value: 1}, {Key: "resource_id", Value: 1}}},
			{Keys: bson.D{{Key: "event_time", Value: 1}}},
		},
		colPartitions: {
			{Keys: bson.D{{Key: "month_start", Value: 1}}},
		},
	}
}

// ──────────────────────────────────────────────────
// Tuple operations
// ──────────────────────────────────────────────────

func (s *Store) UpsertTuple(ctx context.Context, t *tuple.Tuple) (*tuple.Tuple, bool, error) {
	var existing tupleModel
	err := s.mdb.NewFind(&existing).
		Filter(keyFilter(t.Namespace, t.Key())).
		Scan(ctx)
	switch {
	case err == nil:
		existing.ExpiresAt = t.ExpiresAt
		existing.UpdatedAt = now()
		if _, err := s.mdb.NewUpdate(&existing).
			Filter(bson.M{"_id": existing.ID}).
			Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: update tuple: %w", err)
		}
		return tupleFromModel(&existing), false, nil
	case isNoDocuments(err):
		m := tupleToModel(t)
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: insert tuple: %w", err)
		}
		return tupleFromModel(m), true, nil
	default:
		return nil, false, fmt.Errorf("tether: upsert tuple: %w", err)
	}
}

func (s *Store) GetTuple(ctx context.Context, namespace string, key tuple.Key) (*tuple.Tuple, error) {
	var m tupleModel
	err := s.mdb.NewFind(&m).
		Filter(keyFilter(namespace, key)).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("tether: get tuple: %w", err)
	}
	return tupleFromModel(&m), nil
}

func (s *Store) DeleteTuple(ctx context.Context, namespace string, key tuple.Key) (bool, error) {
	res, err := s.mdb.NewDelete((*tupleModel)(nil)).
		Filter(keyFilter(namespace, key)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tether: delete tuple: %w", err)
	}
	return res.DeletedCount() > 0, nil
}

func (s *Store) UpdateExpiration(ctx context.Context, namespace string, key tuple.Key, expiresAt *time.Time) (*tuple.Tuple, error) {
	var m tupleModel
	err := s.mdb.NewFind(&m).
		Filter(keyFilter(namespace, key)).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("tuple %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("tether: update expiration: %w", err)
	}
	m.ExpiresAt = expiresAt
	m.UpdatedAt = now()
	if _, err := s.mdb.NewUpdate(&m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("tether: update expiration: %w", err)
	}
	return tupleFromModel(&m), nil
}

// tupleListFilter builds the bson filter for ListTuples and CountTuples.
func tupleListFilter(filter *tuple.ListFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.Namespace != "" {
		f["namespace"] = filter.Namespace
	}
	if filter.ResourceType != "" {
		f["resource_type"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		f["resource_id"] = filter.ResourceID
	}
	if filter.Relation != "" {
		f["relation"] = filter.Relation
	}
	if filter.SubjectType != "" {
		f["subject_type"] = filter.SubjectType
	}
	if filter.SubjectID != "" {
		f["subject_id"] = filter.SubjectID
	}
	if filter.SubjectRelation != nil {
		f["subject_relation"] = *filter.SubjectRelation
	}
	if !filter.IncludeExpired {
		f["$or"] = unexpiredFilter(now())["$or"]
	}
	return f
}

func (s *Store) ListTuples(ctx context.Context, filter *tuple.ListFilter) ([]*tuple.Tuple, error) {
	var models []tupleModel
	q := s.mdb.NewFind(&models).
		Filter(tupleListFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*tupleModel)(nil)).
		Filter(tupleListFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: count tuples: %w", err)
	}
	return count, nil
}

func (s *Store) ListByResource(ctx context.Context, namespace, resourceType, resourceID, relation string, now time.Time) ([]*tuple.Tuple, error) {
	f := bson.M{
		"namespace":     namespace,
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"$or":           unexpiredFilter(now)["$or"],
	}
	if relation != "" {
		f["relation"] = relation
	}
	var models []tupleModel
	if err := s.mdb.NewFind(&models).
		Filter(f).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: list tuples by resource: %w", err)
	}
	result := make([]*tuple.Tuple, len(models))
	for i := range models {
		result[i] = tupleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) ListBySubject(ctx context.Context, namespace, subjectType, subjectID, relation string, now time.Time) ([]*tuple.Tuple, error) {
	f := bson.M{
		"namespace":    namespace,
		"subject_type": subjectType,
		"subject_id":   subjectID,
		"$or":          unexpiredFilter(now)["$or"],
	}
	if relation != "" {
		f["relation"] = relation
	}
	var models []tupleModel
	if err := s.mdb.NewFind(&models).
		Filter(f).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
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
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"namespace":  namespace,
			"expires_at": bson.M{"$ne": nil, "$gt": now, "$lte": until},
		}).
		Sort(bson.D{{Key: "expires_at", Value: 1}}).
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
	res, err := s.mdb.NewDelete((*tupleModel)(nil)).
		Many().
		Filter(bson.M{
			"namespace":  namespace,
			"expires_at": bson.M{"$ne": nil, "$lte": now},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: delete expired tuples: %w", err)
	}
	return res.DeletedCount(), nil
}

func (s *Store) CountDistinctUsers(ctx context.Context, namespace string) (int64, error) {
	var models []tupleModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"namespace": namespace, "subject_type": tuple.SubjectUser}).
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
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"namespace": namespace}).
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
	var existing ruleModel
	err := s.mdb.NewFind(&existing).
		Filter(bson.M{
			"namespace":     r.Namespace,
			"resource_type": r.ResourceType,
			"permission":    r.Permission,
			"implies":       r.Implies,
		}).
		Scan(ctx)
	switch {
	case err == nil:
		return ruleFromModel(&existing), false, nil
	case isNoDocuments(err):
		m := ruleToModel(r)
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			return nil, false, fmt.Errorf("tether: insert hierarchy rule: %w", err)
		}
		return ruleFromModel(m), true, nil
	default:
		return nil, false, fmt.Errorf("tether: upsert hierarchy rule: %w", err)
	}
}

func (s *Store) DeleteRule(ctx context.Context, namespace, resourceType, permission, implies string) (bool, error) {
	res, err := s.mdb.NewDelete((*ruleModel)(nil)).
		Filter(bson.M{
			"namespace":     namespace,
			"resource_type": resourceType,
			"permission":    permission,
			"implies":       implies,
		}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tether: delete hierarchy rule: %w", err)
	}
	return res.DeletedCount() > 0, nil
}

func (s *Store) DeleteRulesByResourceType(ctx context.Context, namespace, resourceType string) (int64, error) {
	res, err := s.mdb.NewDelete((*ruleModel)(nil)).
		Many().
		Filter(bson.M{"namespace": namespace, "resource_type": resourceType}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tether: delete hierarchy rules: %w", err)
	}
	return res.DeletedCount(), nil
}

func (s *Store) ListRules(ctx context.Context, namespace, resourceType string) ([]*hierarchy.Rule, error) {
	f := bson.M{"namespace": namespace}
	if resourceType != "" {
		f["resource_type"] = resourceType
	}
	var models []ruleModel
	if err := s.mdb.NewFind(&models).
		Filter(f).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("tether: list hierarchy rules: %w", err)
	}
	result := make([]*hierarchy.Rule, len(models))
	for i := range models {
		result[i] = ruleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountRules(ctx context.Context, namespace string) (int64, error) {
	count, err := s.mdb.NewFind((*ruleModel)(nil)).
		Filter(bson.M{"namespace": namespace}).
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
		m.EventTime = now()
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("tether: append audit event: %w", err)
	}
	return nil
}

// eventQueryFilter builds the bson filter for QueryEvents and CountEvents.
func eventQueryFilter(filter *audit.QueryFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.Namespace != "" {
		f["namespace"] = filter.Namespace
	}
	if filter.EventType != "" {
		f["event_type"] = string(filter.EventType)
	}
	if filter.ActorID != "" {
		f["actor_id"] = filter.ActorID
	}
	if filter.ResourceType != "" {
		f["resource_type"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		f["resource_id"] = filter.ResourceID
	}
	if filter.SubjectType != "" {
		f["subject_type"] = filter.SubjectType
	}
	if filter.SubjectID != "" {
		f["subject_id"] = filter.SubjectID
	}
	timeBounds := bson.M{}
	if filter.After != nil {
		timeBounds["$gt"] = *filter.After
	}
	if filter.Before != nil {
		timeBounds["$lt"] = *filter.Before
	}
	if len(timeBounds) > 0 {
		f["event_time"] = timeBounds
	}
	return f
}

func (s *Store) QueryEvents(ctx context.Context, filter *audit.QueryFilter) ([]*audit.Event, error) {
	var models []eventModel
	q := s.mdb.NewFind(&models).
		Filter(eventQueryFilter(filter)).
		Sort(bson.D{{Key: "event_time", Value: -1}, {Key: "_id", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*eventModel)(nil)).
		Filter(eventQueryFilter(filter)).
		Count(ctx)
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
	count, err := s.mdb.NewFind((*partitionModel)(nil)).
		Filter(bson.M{"_id": name}).
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return "", nil
		}
		return "", fmt.Errorf("tether: create partition %s: %w", name, err)
	}
	return name, nil
}

func (s *Store) EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	t := now()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)

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
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tether: list partitions: %w", err)
	}

	t := now()
	cutoff := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, -olderThanMonths, 0)

	var dropped []string
	for i := range models {
		start := models[i].MonthStart
		end := start.AddDate(0, 1, 0)
		if end.After(cutoff) {
			continue
		}
		_, err := s.mdb.NewDelete((*eventModel)(nil)).
			Many().
			Filter(bson.M{"event_time": bson.M{"$gte": start, "$lt": end}}).
			Exec(ctx)
		if err != nil {
			return dropped, fmt.Errorf("tether: drop partition %s events: %w", models[i].Name, err)
		}
		_, err = s.mdb.NewDelete((*partitionModel)(nil)).
			Filter(bson.M{"_id": models[i].Name}).
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
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
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
