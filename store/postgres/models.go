package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/tuple"
)

// ──────────────────────────────────────────────────
// Tuple model
// ──────────────────────────────────────────────────

type tupleModel struct {
	grove.BaseModel `grove:"table:tether_tuples"`
	ID              string     `grove:"id,pk"`
	Namespace       string     `grove:"namespace,notnull"`
	ResourceType    string     `grove:"resource_type,notnull"`
	ResourceID      string     `grove:"resource_id,notnull"`
	Relation        string     `grove:"relation,notnull"`
	SubjectType     string     `grove:"subject_type,notnull"`
	SubjectID       string     `grove:"subject_id,notnull"`
	SubjectRelation string     `grove:"subject_relation"`
	ExpiresAt       *time.Time `grove:"expires_at"`
	CreatedAt       time.Time  `grove:"created_at,notnull"`
	UpdatedAt       time.Time  `grove:"updated_at,notnull"`
}

func tupleToModel(t *tuple.Tuple) *tupleModel {
	return &tupleModel{
		ID:              t.ID.String(),
		Namespace:       t.Namespace,
		ResourceType:    t.ResourceType,
		ResourceID:      t.ResourceID,
		Relation:        t.Relation,
		SubjectType:     t.SubjectType,
		SubjectID:       t.SubjectID,
		SubjectRelation: t.SubjectRelation,
		ExpiresAt:       t.ExpiresAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func tupleFromModel(m *tupleModel) *tuple.Tuple {
	tid, _ := id.ParseTupleID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &tuple.Tuple{
		ID:              tid,
		Namespace:       m.Namespace,
		ResourceType:    m.ResourceType,
		ResourceID:      m.ResourceID,
		Relation:        m.Relation,
		SubjectType:     m.SubjectType,
		SubjectID:       m.SubjectID,
		SubjectRelation: m.SubjectRelation,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Hierarchy rule model
// ──────────────────────────────────────────────────

type ruleModel struct {
	grove.BaseModel `grove:"table:tether_hierarchy_rules"`
	ID              string    `grove:"id,pk"`
	Namespace       string    `grove:"namespace,notnull"`
	ResourceType    string    `grove:"resource_type,notnull"`
	Permission      string    `grove:"permission,notnull"`
	Implies         string    `grove:"implies,notnull"`
	CreatedAt       time.Time `grove:"created_at,notnull"`
}

func ruleToModel(r *hierarchy.Rule) *ruleModel {
	return &ruleModel{
		ID:           r.ID.String(),
		Namespace:    r.Namespace,
		ResourceType: r.ResourceType,
		Permission:   r.Permission,
		Implies:      r.Implies,
		CreatedAt:    r.CreatedAt,
	}
}

func ruleFromModel(m *ruleModel) *hierarchy.Rule {
	rid, _ := id.ParseHierarchyID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &hierarchy.Rule{
		ID:           rid,
		Namespace:    m.Namespace,
		ResourceType: m.ResourceType,
		Permission:   m.Permission,
		Implies:      m.Implies,
		CreatedAt:    m.CreatedAt,
	}
}

// ──────────────────────────────────────────────────
// Audit event model
// ──────────────────────────────────────────────────

type eventModel struct {
	grove.BaseModel `grove:"table:tether_audit_events"`
	ID              string     `grove:"id,pk"`
	EventTime       time.Time  `grove:"event_time,pk"`
	EventType       string     `grove:"event_type,notnull"`
	Namespace       string     `grove:"namespace,notnull"`
	ResourceType    string     `grove:"resource_type"`
	ResourceID      string     `grove:"resource_id"`
	Relation        string     `grove:"relation"`
	SubjectType     string     `grove:"subject_type"`
	SubjectID       string     `grove:"subject_id"`
	SubjectRelation string     `grove:"subject_relation"`
	TupleID         string     `grove:"tuple_id"`
	ExpiresAt       *time.Time `grove:"expires_at"`
	ActorID         string     `grove:"actor_id"`
	RequestID       string     `grove:"request_id"`
	Reason          string     `grove:"reason"`
	IPAddress       string     `grove:"ip_address"`
	UserAgent       string     `grove:"user_agent"`
}

func eventToModel(e *audit.Event) *eventModel {
	return &eventModel{
		ID:              e.ID.String(),
		EventTime:       e.EventTime,
		EventType:       string(e.EventType),
		Namespace:       e.Namespace,
		ResourceType:    e.ResourceType,
		ResourceID:      e.ResourceID,
		Relation:        e.Relation,
		SubjectType:     e.SubjectType,
		SubjectID:       e.SubjectID,
		SubjectRelation: e.SubjectRelation,
		TupleID:         e.TupleID.String(),
		ExpiresAt:       e.ExpiresAt,
		ActorID:         e.ActorID,
		RequestID:       e.RequestID,
		Reason:          e.Reason,
		IPAddress:       e.IPAddress,
		UserAgent:       e.UserAgent,
	}
}

func eventFromModel(m *eventModel) *audit.Event {
	eid, _ := id.ParseAuditEventID(m.ID) //nolint:errcheck // stored IDs are always valid
	var tid id.TupleID
	if m.TupleID != "" {
		tid, _ = id.ParseTupleID(m.TupleID) //nolint:errcheck // stored IDs are always valid
	}
	return &audit.Event{
		ID:              eid,
		EventTime:       m.EventTime,
		EventType:       audit.EventType(m.EventType),
		Namespace:       m.Namespace,
		ResourceType:    m.ResourceType,
		ResourceID:      m.ResourceID,
		Relation:        m.Relation,
		SubjectType:     m.SubjectType,
		SubjectID:       m.SubjectID,
		SubjectRelation: m.SubjectRelation,
		TupleID:         tid,
		ExpiresAt:       m.ExpiresAt,
		ActorID:         m.ActorID,
		RequestID:       m.RequestID,
		Reason:          m.Reason,
		IPAddress:       m.IPAddress,
		UserAgent:       m.UserAgent,
	}
}
