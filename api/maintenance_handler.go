package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/tether"
)

func (a *API) registerMaintenanceRoutes(router forge.Router) error {
	g := router.Group("/v1/maintenance", forge.WithGroupTags("maintenance"))

	if err := g.GET("/stats", a.getStats,
		forge.WithSummary("Namespace statistics"),
		forge.WithDescription("Returns tuple, rule, and distinct subject/resource counts for a namespace."),
		forge.WithOperationID("getStats"),
		forge.WithRequestSchema(StatsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Namespace statistics", &tether.Stats{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/integrity", a.verifyIntegrity,
		forge.WithSummary("Verify graph integrity"),
		forge.WithDescription("Scans the relationship graph for membership and containment cycles."),
		forge.WithOperationID("verifyIntegrity"),
		forge.WithRequestSchema(VerifyIntegrityRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Integrity report", IntegrityResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) getStats(ctx forge.Context, req *StatsRequest) (*tether.Stats, error) {
	stats, err := a.eng.GetStats(ctx.Context(), req.Namespace)
	if err != nil {
		return nil, mapError(err)
	}

	return stats, ctx.JSON(http.StatusOK, stats)
}

func (a *API) verifyIntegrity(ctx forge.Context, req *VerifyIntegrityRequest) (*IntegrityResponse, error) {
	issues, err := a.eng.VerifyIntegrity(ctx.Context(), req.Namespace)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &IntegrityResponse{Healthy: len(issues) == 0, Issues: issues}
	return resp, ctx.JSON(http.StatusOK, resp)
}
