// Package audit defines the append-only audit Event entity and its
// month-partitioned storage contract.
package audit

import (
	"fmt"
	"time"

	"github.com/xraph/tether/id"
)

// EventType is the closed set of recordable events. The storage layer
// rejects values outside this set. Identity-service event types share the
// enum so both services can write to one log.
type EventType string

const (
	EventUserCreated        EventType = "user_created"
	EventUserUpdated        EventType = "user_updated"
	EventUserDisabled       EventType = "user_disabled"
	EventUserEnabled        EventType = "user_enabled"
	EventUserDeleted        EventType = "user_deleted"
	EventPasswordUpdated    EventType = "password_updated"
	EventEmailUpdated       EventType = "email_updated"
	EventEmailVerified      EventType = "email_verified"
	EventSessionCreated     EventType = "session_created"
	EventSessionRevoked     EventType = "session_revoked"
	EventSessionsRevokedAll EventType = "sessions_revoked_all"
	EventTokenCreated       EventType = "token_created"
	EventTokenConsumed      EventType = "token_consumed"
	EventMFAAdded           EventType = "mfa_added"
	EventMFARemoved         EventType = "mfa_removed"
	EventMFAUsed            EventType = "mfa_used"
	EventLoginAttemptFailed EventType = "login_attempt_failed"
	EventLockoutTriggered   EventType = "lockout_triggered"
	EventTupleCreated       EventType = "tuple_created"
	EventTupleUpdated       EventType = "tuple_updated"
	EventTupleDeleted       EventType = "tuple_deleted"
	EventHierarchyCreated   EventType = "hierarchy_created"
	EventHierarchyDeleted   EventType = "hierarchy_deleted"
)

var validEventTypes = map[EventType]struct{}{
	EventUserCreated: {}, EventUserUpdated: {}, EventUserDisabled: {},
	EventUserEnabled: {}, EventUserDeleted: {}, EventPasswordUpdated: {},
	EventEmailUpdated: {}, EventEmailVerified: {}, EventSessionCreated: {},
	EventSessionRevoked: {}, EventSessionsRevokedAll: {}, EventTokenCreated: {},
	EventTokenConsumed: {}, EventMFAAdded: {}, EventMFARemoved: {},
	EventMFAUsed: {}, EventLoginAttemptFailed: {}, EventLockoutTriggered: {},
	EventTupleCreated: {}, EventTupleUpdated: {}, EventTupleDeleted: {},
	EventHierarchyCreated: {}, EventHierarchyDeleted: {},
}

// Valid reports whether t is a member of the closed enum.
func (t EventType) Valid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// Event is a single audit record. Events are never modified after insertion
// and are deleted only by dropping whole partitions.
type Event struct {
	ID              id.AuditEventID `json:"id" db:"id"`
	EventTime       time.Time       `json:"event_time" db:"event_time"`
	EventType       EventType       `json:"event_type" db:"event_type"`
	Namespace       string          `json:"namespace" db:"namespace"`
	ResourceType    string          `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID      string          `json:"resource_id,omitempty" db:"resource_id"`
	Relation        string          `json:"relation,omitempty" db:"relation"`
	SubjectType     string          `json:"subject_type,omitempty" db:"subject_type"`
	SubjectID       string          `json:"subject_id,omitempty" db:"subject_id"`
	SubjectRelation string          `json:"subject_relation,omitempty" db:"subject_relation"`
	TupleID         id.TupleID      `json:"tuple_id,omitempty" db:"tuple_id"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	ActorID         string          `json:"actor_id,omitempty" db:"actor_id"`
	RequestID       string          `json:"request_id,omitempty" db:"request_id"`
	Reason          string          `json:"reason,omitempty" db:"reason"`
	IPAddress       string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent       string          `json:"user_agent,omitempty" db:"user_agent"`
}

// QueryFilter contains filters for querying audit events. Results are
// returned newest first.
type QueryFilter struct {
	Namespace    string     `json:"namespace,omitempty"`
	EventType    EventType  `json:"event_type,omitempty"`
	ActorID      string     `json:"actor_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	SubjectType  string     `json:"subject_type,omitempty"`
	SubjectID    string     `json:"subject_id,omitempty"`
	After        *time.Time `json:"after,omitempty"`
	Before       *time.Time `json:"before,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// PartitionName returns the canonical partition name for a month:
// audit_events_yYYYYmMM. Operational tooling parses this format.
func PartitionName(year int, month time.Month) string {
	return fmt.Sprintf("audit_events_y%04dm%02d", year, int(month))
}
