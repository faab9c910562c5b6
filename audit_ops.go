package tether

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xraph/tether/audit"
	"github.com/xraph/tether/hierarchy"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/tuple"
	"github.com/xraph/tether/validate"
)

// AuditQueryRequest filters the audit log. Results come back newest first.
type AuditQueryRequest struct {
	Namespace    string          `json:"namespace,omitempty"`
	EventType    audit.EventType `json:"event_type,omitempty"`
	ActorID      string          `json:"actor_id,omitempty"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	SubjectType  string          `json:"subject_type,omitempty"`
	SubjectID    string          `json:"subject_id,omitempty"`
	After        *time.Time      `json:"after,omitempty"`
	Before       *time.Time      `json:"before,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}

// QueryAuditEvents returns audit events matching the request, newest first.
func (e *Engine) QueryAuditEvents(ctx context.Context, req *AuditQueryRequest) ([]*audit.Event, error) {
	ns, err := e.resolveNamespace(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	if req.EventType != "" && !req.EventType.Valid() {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("event_type: unknown value %q", req.EventType))
	}

	return e.store.QueryEvents(ctx, &audit.QueryFilter{
		Namespace:    ns,
		EventType:    req.EventType,
		ActorID:      req.ActorID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		SubjectType:  req.SubjectType,
		SubjectID:    req.SubjectID,
		After:        req.After,
		Before:       req.Before,
		Limit:        e.config.clampLimit(req.Limit),
	})
}

// EnsureAuditPartitions creates partitions covering the current month plus
// monthsAhead forward months. Zero uses the configured default. It returns
// the names of partitions that were created.
func (e *Engine) EnsureAuditPartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	if monthsAhead == 0 {
		monthsAhead = e.config.PartitionsAhead
	}
	if monthsAhead < 0 {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("months_ahead: must not be negative, got %d", monthsAhead))
	}
	return e.store.EnsurePartitions(ctx, monthsAhead)
}

// DropAuditPartitions drops partitions older than the retention window.
// Zero uses the configured default. It returns the names dropped.
func (e *Engine) DropAuditPartitions(ctx context.Context, olderThanMonths int) ([]string, error) {
	if olderThanMonths == 0 {
		olderThanMonths = e.config.RetentionMonths
	}
	if olderThanMonths < 0 {
		return nil, newError(CodeInvalidParameter, fmt.Sprintf("older_than_months: must not be negative, got %d", olderThanMonths))
	}
	return e.store.DropPartitions(ctx, olderThanMonths)
}

// CreateAuditPartition creates the partition for one month. It returns the
// partition name, or "" when it already existed.
func (e *Engine) CreateAuditPartition(ctx context.Context, year int, month time.Month) (string, error) {
	if month < time.January || month > time.December {
		return "", newError(CodeInvalidParameter, fmt.Sprintf("month: must be 1-12, got %d", int(month)))
	}
	if year < 1970 || year > 9999 {
		return "", newError(CodeInvalidParameter, fmt.Sprintf("year: out of range, got %d", year))
	}
	return e.store.CreatePartition(ctx, year, month)
}

// emitTupleEvent appends one audit event for a tuple mutation, stamped with
// the actor bound to the context. Emission happens inside the same namespace
// lock scope as the mutation it describes.
func (e *Engine) emitTupleEvent(ctx context.Context, evType audit.EventType, t *tuple.Tuple) error {
	ev := &audit.Event{
		ID:              id.NewAuditEventID(),
		EventTime:       e.now(),
		EventType:       evType,
		Namespace:       t.Namespace,
		ResourceType:    t.ResourceType,
		ResourceID:      t.ResourceID,
		Relation:        t.Relation,
		SubjectType:     t.SubjectType,
		SubjectID:       t.SubjectID,
		SubjectRelation: t.SubjectRelation,
		TupleID:         t.ID,
		ExpiresAt:       t.ExpiresAt,
	}
	e.stampActor(ctx, ev)
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("tether: append audit event %s: %w", evType, err)
	}
	return nil
}

// emitHierarchyEvent appends one audit event for a hierarchy rule mutation.
// The rule's permission and implies ride in the relation and subject fields.
func (e *Engine) emitHierarchyEvent(ctx context.Context, evType audit.EventType, r *hierarchy.Rule) error {
	ev := &audit.Event{
		ID:           id.NewAuditEventID(),
		EventTime:    e.now(),
		EventType:    evType,
		Namespace:    r.Namespace,
		ResourceType: r.ResourceType,
		Relation:     r.Permission,
		SubjectID:    r.Implies,
	}
	e.stampActor(ctx, ev)
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("tether: append audit event %s: %w", evType, err)
	}
	return nil
}

func (e *Engine) stampActor(ctx context.Context, ev *audit.Event) {
	actor := actorFromContext(ctx)
	ev.ActorID = actor.ID
	ev.RequestID = actor.RequestID
	ev.Reason = actor.Reason
	ev.UserAgent = actor.UserAgent
	if actor.IP != "" {
		if net.ParseIP(actor.IP) == nil {
			e.logger.WarnContext(ctx, "dropping unparseable actor ip", "ip", actor.IP)
		} else {
			ev.IPAddress = actor.IP
		}
	}
	if ev.ActorID != "" {
		if err := validate.FreeformID("actor_id", ev.ActorID); err != nil {
			e.logger.WarnContext(ctx, "dropping invalid actor id", "error", err)
			ev.ActorID = ""
		}
	}
}
