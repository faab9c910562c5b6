package api

import (
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
	"github.com/xraph/tether/audit"
)

func (a *API) registerAuditRoutes(router forge.Router) error {
	g := router.Group("/v1/audit", forge.WithGroupTags("audit"))

	if err := g.GET("/events", a.queryAuditEvents,
		forge.WithSummary("Query audit events"),
		forge.WithDescription("Searches the audit log, newest first."),
		forge.WithOperationID("queryAuditEvents"),
		forge.WithRequestSchema(QueryAuditEventsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Audit events", []*audit.Event{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/partitions", a.listAuditPartitions,
		forge.WithSummary("List audit partitions"),
		forge.WithDescription("Lists existing monthly audit partitions, oldest first."),
		forge.WithOperationID("listAuditPartitions"),
		forge.WithResponseSchema(http.StatusOK, "Partition names", PartitionsResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/partitions", a.createAuditPartition,
		forge.WithSummary("Create audit partition"),
		forge.WithDescription("Creates the audit partition for one month."),
		forge.WithOperationID("createAuditPartition"),
		forge.WithRequestSchema(CreatePartitionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Created partition", PartitionResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/partitions/ensure", a.ensureAuditPartitions,
		forge.WithSummary("Ensure audit partitions"),
		forge.WithDescription("Creates partitions covering this month through the look-ahead window."),
		forge.WithOperationID("ensureAuditPartitions"),
		forge.WithRequestSchema(EnsurePartitionsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Created partitions", PartitionsResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/partitions/drop", a.dropAuditPartitions,
		forge.WithSummary("Drop audit partitions"),
		forge.WithDescription("Drops partitions older than the retention window."),
		forge.WithOperationID("dropAuditPartitions"),
		forge.WithRequestSchema(DropPartitionsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Dropped partitions", PartitionsResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) queryAuditEvents(ctx forge.Context, req *QueryAuditEventsRequest) ([]*audit.Event, error) {
	after, err := parseTime("after", req.After)
	if err != nil {
		return nil, err
	}
	before, err := parseTime("before", req.Before)
	if err != nil {
		return nil, err
	}

	events, err := a.eng.QueryAuditEvents(ctx.Context(), &tether.AuditQueryRequest{
		Namespace:    req.Namespace,
		EventType:    audit.EventType(req.EventType),
		ActorID:      req.ActorID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		SubjectType:  req.SubjectType,
		SubjectID:    req.SubjectID,
		After:        after,
		Before:       before,
		Limit:        defaultLimit(req.Limit),
	})
	if err != nil {
		return nil, mapError(err)
	}

	return events, ctx.JSON(http.StatusOK, events)
}

func (a *API) listAuditPartitions(ctx forge.Context, _ *struct{}) (*PartitionsResponse, error) {
	names, err := a.eng.Store().ListPartitions(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	resp := &PartitionsResponse{Partitions: names}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) createAuditPartition(ctx forge.Context, req *CreatePartitionRequest) (*PartitionResponse, error) {
	if req.Year == 0 || req.Month < 1 || req.Month > 12 {
		return nil, forge.BadRequest("year and month (1-12) are required")
	}

	name, err := a.eng.CreateAuditPartition(ctx.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		return nil, mapError(err)
	}

	resp := &PartitionResponse{Partition: name}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) ensureAuditPartitions(ctx forge.Context, req *EnsurePartitionsRequest) (*PartitionsResponse, error) {
	if req.MonthsAhead < 0 {
		return nil, forge.BadRequest("months_ahead cannot be negative")
	}

	names, err := a.eng.EnsureAuditPartitions(ctx.Context(), req.MonthsAhead)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &PartitionsResponse{Partitions: names}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) dropAuditPartitions(ctx forge.Context, req *DropPartitionsRequest) (*PartitionsResponse, error) {
	if req.OlderThanMonths <= 0 {
		return nil, forge.BadRequest("older_than_months must be positive")
	}

	names, err := a.eng.DropAuditPartitions(ctx.Context(), req.OlderThanMonths)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &PartitionsResponse{Partitions: names}
	return resp, ctx.JSON(http.StatusOK, resp)
}
