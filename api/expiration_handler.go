package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
	"github.com/xraph/tether/tuple"
)

func (a *API) registerExpirationRoutes(router forge.Router) error {
	g := router.Group("/v1/expirations", forge.WithGroupTags("expirations"))

	if err := g.POST("/set", a.setExpiration,
		forge.WithSummary("Set expiration"),
		forge.WithDescription("Sets the expiration of an existing tuple."),
		forge.WithOperationID("setExpiration"),
		forge.WithRequestSchema(SetExpirationRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated tuple", &tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/clear", a.clearExpiration,
		forge.WithSummary("Clear expiration"),
		forge.WithDescription("Removes the expiration from a tuple, making it permanent."),
		forge.WithOperationID("clearExpiration"),
		forge.WithRequestSchema(ClearExpirationRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated tuple", &tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/extend", a.extendExpiration,
		forge.WithSummary("Extend expiration"),
		forge.WithDescription("Adds an interval to a tuple's expiration, from now if it has already lapsed."),
		forge.WithOperationID("extendExpiration"),
		forge.WithRequestSchema(ExtendExpirationRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated tuple", &tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/expiring", a.listExpiring,
		forge.WithSummary("List expiring tuples"),
		forge.WithDescription("Lists tuples expiring within the look-ahead window, soonest first."),
		forge.WithOperationID("listExpiring"),
		forge.WithRequestSchema(ListExpiringRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Expiring tuples", []*tuple.Tuple{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/cleanup", a.cleanupExpired,
		forge.WithSummary("Cleanup expired tuples"),
		forge.WithDescription("Purges every lapsed tuple of a namespace."),
		forge.WithOperationID("cleanupExpired"),
		forge.WithRequestSchema(CleanupExpiredRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Purge count", CleanupResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) setExpiration(ctx forge.Context, req *SetExpirationRequest) (*tuple.Tuple, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" || req.SubjectID == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, subject_type, and subject_id are required")
	}
	if req.ExpiresAt == "" {
		return nil, forge.BadRequest("expires_at is required")
	}

	expiresAt, err := parseTime("expires_at", req.ExpiresAt)
	if err != nil {
		return nil, err
	}

	t, err := a.eng.SetExpiration(ctx.Context(), &tether.SetExpirationRequest{
		Namespace:       req.Namespace,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return t, ctx.JSON(http.StatusOK, t)
}

func (a *API) clearExpiration(ctx forge.Context, req *ClearExpirationRequest) (*tuple.Tuple, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" || req.SubjectID == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, subject_type, and subject_id are required")
	}

	t, err := a.eng.ClearExpiration(ctx.Context(), &tether.SetExpirationRequest{
		Namespace:       req.Namespace,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return t, ctx.JSON(http.StatusOK, t)
}

func (a *API) extendExpiration(ctx forge.Context, req *ExtendExpirationRequest) (*tuple.Tuple, error) {
	if req.ResourceType == "" || req.ResourceID == "" || req.Relation == "" || req.SubjectType == "" || req.SubjectID == "" {
		return nil, forge.BadRequest("resource_type, resource_id, relation, subject_type, and subject_id are required")
	}

	interval, err := parseDuration("interval", req.Interval)
	if err != nil {
		return nil, err
	}

	t, err := a.eng.ExtendExpiration(ctx.Context(), &tether.ExtendExpirationRequest{
		Namespace:       req.Namespace,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Relation:        req.Relation,
		SubjectType:     req.SubjectType,
		SubjectID:       req.SubjectID,
		SubjectRelation: req.SubjectRelation,
		Interval:        interval,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return t, ctx.JSON(http.StatusOK, t)
}

func (a *API) listExpiring(ctx forge.Context, req *ListExpiringRequest) ([]*tuple.Tuple, error) {
	within, err := parseDuration("within", req.Within)
	if err != nil {
		return nil, err
	}

	tuples, err := a.eng.ListExpiring(ctx.Context(), req.Namespace, within)
	if err != nil {
		return nil, mapError(err)
	}

	return tuples, ctx.JSON(http.StatusOK, tuples)
}

func (a *API) cleanupExpired(ctx forge.Context, req *CleanupExpiredRequest) (*CleanupResponse, error) {
	deleted, err := a.eng.CleanupExpired(ctx.Context(), req.Namespace)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &CleanupResponse{Deleted: deleted}
	return resp, ctx.JSON(http.StatusOK, resp)
}
